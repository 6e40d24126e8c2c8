package evmrpc

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/dhblabs/settlement-backend/internal/utils/config"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
)

var ErrUnsupportedChain = errors.New("no wallet configured for chain")

// Registry maps chain ids to their transfer executors. It is built once at
// startup and never mutated afterwards; components receive it explicitly
// instead of reaching for process-wide state.
type Registry struct {
	clients map[int64]IEvmRPC
}

func NewRegistry(chains []config.ChainConfig, logger *logger.Logger) (*Registry, error) {
	clients := make(map[int64]IEvmRPC, len(chains))
	for _, chainCfg := range chains {
		client, err := New(chainCfg, logger)
		if err != nil {
			return nil, err
		}
		clients[chainCfg.ChainID] = client

		logger.Info("[NewRegistry] chain wallet ready", map[string]string{
			"chainId": strconv.FormatInt(chainCfg.ChainID, 10),
			"token":   chainCfg.TokenSymbol,
			"signer":  client.SignerAddress(),
		})
	}

	return &Registry{clients: clients}, nil
}

// NewRegistryFromClients builds a registry from preconstructed executors.
// Used by tests to inject fakes.
func NewRegistryFromClients(clients map[int64]IEvmRPC) *Registry {
	copied := make(map[int64]IEvmRPC, len(clients))
	for id, c := range clients {
		copied[id] = c
	}
	return &Registry{clients: copied}
}

func (r *Registry) Get(chainID int64) (IEvmRPC, error) {
	client, ok := r.clients[chainID]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedChain, "chain %d", chainID)
	}
	return client, nil
}

func (r *Registry) Supported(chainID int64) bool {
	_, ok := r.clients[chainID]
	return ok
}
