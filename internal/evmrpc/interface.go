package evmrpc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// IEvmRPC executes ERC20 token transfers on a single chain from that chain's
// funded hot wallet.
type IEvmRPC interface {
	ChainID() int64
	TokenSymbol() string
	TokenDecimals() int
	SignerAddress() string

	// NativeBalanceOf returns the native-currency balance (wei) of address.
	NativeBalanceOf(ctx context.Context, address string) (*big.Int, error)

	// EstimateTransferGas returns the gas limit and gas price for a token
	// transfer of amountUnits to the receiver.
	EstimateTransferGas(ctx context.Context, to string, amountUnits *big.Int) (uint64, *big.Int, error)

	// SendTransfer broadcasts the token transfer and returns the tx hash.
	// It does not wait for the receipt.
	SendTransfer(ctx context.Context, to string, amountUnits *big.Int) (string, error)

	// WaitForReceipt polls for the transaction receipt until ctx expires.
	WaitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
}
