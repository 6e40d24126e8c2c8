package evmrpc

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/dhblabs/settlement-backend/internal/utils/config"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
)

const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

const receiptPollInterval = 3 * time.Second

type EvmRPC struct {
	chainCfg      config.ChainConfig
	logger        *logger.Logger
	client        *ethclient.Client
	tokenABI      abi.ABI
	tokenAddress  common.Address
	signerKey     *ecdsa.PrivateKey
	signerAddress common.Address
	tokenDecimals int
}

func New(chainCfg config.ChainConfig, logger *logger.Logger) (IEvmRPC, error) {
	client, err := ethclient.Dial(chainCfg.RPCEndpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "dial rpc for chain %d", chainCfg.ChainID)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, err
	}

	keyHex := strings.TrimPrefix(chainCfg.SignerPrivateKey, "0x")
	signerKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid signer key for chain %d", chainCfg.ChainID)
	}

	r := &EvmRPC{
		chainCfg:      chainCfg,
		logger:        logger,
		client:        client,
		tokenABI:      parsedABI,
		tokenAddress:  common.HexToAddress(chainCfg.TokenContract),
		signerKey:     signerKey,
		signerAddress: crypto.PubkeyToAddress(signerKey.PublicKey),
		tokenDecimals: 18,
	}

	if decimals, err := r.fetchTokenDecimals(); err != nil {
		logger.Error("[evmrpc][fetchTokenDecimals] falling back to 18", map[string]string{
			"chainId": strconv.FormatInt(chainCfg.ChainID, 10),
			"token":   chainCfg.TokenSymbol,
			"error":   err.Error(),
		})
	} else {
		r.tokenDecimals = decimals
	}

	return r, nil
}

func (r *EvmRPC) ChainID() int64 {
	return r.chainCfg.ChainID
}

func (r *EvmRPC) TokenSymbol() string {
	return r.chainCfg.TokenSymbol
}

func (r *EvmRPC) TokenDecimals() int {
	return r.tokenDecimals
}

func (r *EvmRPC) SignerAddress() string {
	return r.signerAddress.Hex()
}

func (r *EvmRPC) NativeBalanceOf(ctx context.Context, address string) (*big.Int, error) {
	return r.client.BalanceAt(ctx, common.HexToAddress(address), nil)
}

func (r *EvmRPC) EstimateTransferGas(ctx context.Context, to string, amountUnits *big.Int) (uint64, *big.Int, error) {
	callData, err := r.tokenABI.Pack("transfer", common.HexToAddress(to), amountUnits)
	if err != nil {
		return 0, nil, err
	}

	gasLimit, err := r.client.EstimateGas(ctx, ethereum.CallMsg{
		From: r.signerAddress,
		To:   &r.tokenAddress,
		Data: callData,
	})
	if err != nil {
		return 0, nil, errors.Wrap(err, "estimate gas")
	}

	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return 0, nil, errors.Wrap(err, "suggest gas price")
	}

	return gasLimit, gasPrice, nil
}

func (r *EvmRPC) SendTransfer(ctx context.Context, to string, amountUnits *big.Int) (string, error) {
	callData, err := r.tokenABI.Pack("transfer", common.HexToAddress(to), amountUnits)
	if err != nil {
		return "", err
	}

	gasLimit, gasPrice, err := r.EstimateTransferGas(ctx, to, amountUnits)
	if err != nil {
		return "", err
	}

	nonce, err := r.client.PendingNonceAt(ctx, r.signerAddress)
	if err != nil {
		return "", errors.Wrap(err, "pending nonce")
	}

	tx := types.NewTransaction(nonce, r.tokenAddress, big.NewInt(0), gasLimit, gasPrice, callData)

	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(r.chainCfg.ChainID)), r.signerKey)
	if err != nil {
		return "", errors.Wrap(err, "sign tx")
	}

	if err := r.client.SendTransaction(ctx, signed); err != nil {
		return "", errors.Wrap(err, "broadcast tx")
	}

	r.logger.Info("[SendTransfer] broadcast", map[string]string{
		"chainId": strconv.FormatInt(r.chainCfg.ChainID, 10),
		"txHash":  signed.Hash().Hex(),
		"to":      to,
		"amount":  amountUnits.String(),
	})

	return signed.Hash().Hex(), nil
}

func (r *EvmRPC) WaitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := r.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *EvmRPC) fetchTokenDecimals() (int, error) {
	callData, err := r.tokenABI.Pack("decimals")
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{
		To:   &r.tokenAddress,
		Data: callData,
	}, nil)
	if err != nil {
		return 0, err
	}

	out, err := r.tokenABI.Unpack("decimals", raw)
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, errors.New("unexpected decimals output")
	}

	return int(out[0].(uint8)), nil
}
