package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ad419/lockchain-claimd/internal/domain"
)

var (
	ErrInsufficientFunds = errors.New("chain: funding wallet token balance below claim amount")
	ErrInsufficientGas   = errors.New("chain: funding wallet native balance below gas reserve")
	ErrTransferFailed    = errors.New("chain: token transfer failed")
)

const (
	// fallbackGasLimit is used when eth_estimateGas fails.
	fallbackGasLimit = uint64(100000)

	// fallbackGasPrice (1 gwei) is the fixed minimum used when fee
	// estimation fails or the endpoint reports no base fee.
	fallbackGasPrice = int64(1_000_000_000)
)

// Disburser submits ERC-20 transfers from the funding wallet. It is stateless
// across requests apart from the submit mutex: two transfers from the same
// account must not race on the nonce, so nonce allocation and submission are
// serialized per Disburser.
type Disburser struct {
	pool           *Pool
	key            *ecdsa.PrivateKey
	from           common.Address
	chainID        *big.Int
	gasReserve     *big.Int
	confirmTimeout time.Duration

	submitMu sync.Mutex
}

// NewDisburser wires a disburser to the funding wallet key and the endpoint
// pool. gasReserve is the minimum native balance (wei) required before any
// transfer is attempted.
func NewDisburser(pool *Pool, key *ecdsa.PrivateKey, chainID, gasReserve *big.Int, confirmTimeout time.Duration) *Disburser {
	return &Disburser{
		pool:           pool,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		chainID:        chainID,
		gasReserve:     gasReserve,
		confirmTimeout: confirmTimeout,
	}
}

// From returns the funding wallet address.
func (d *Disburser) From() common.Address { return d.from }

// TokenBalance reads the funding wallet's balance of the given token.
func (d *Disburser) TokenBalance(ctx context.Context, conn *Conn, token common.Address) (*big.Int, error) {
	out, err := conn.Client.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: BalanceOfCalldata(d.from),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

// Disburse connects through the pool, checks solvency, submits the transfer
// and waits for confirmation. It enforces none of the at-most-once semantics;
// that belongs to the ledger around this call.
func (d *Disburser) Disburse(ctx context.Context, token, to common.Address, amount *big.Int) (*domain.DisburseResult, error) {
	conn, err := d.pool.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Solvency gates: read-only, no state is created on failure.
	tokenBal, err := d.TokenBalance(ctx, conn, token)
	if err != nil {
		return nil, err
	}
	if tokenBal.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, tokenBal, amount)
	}

	nativeBal, err := conn.Client.BalanceAt(ctx, d.from, nil)
	if err != nil {
		return nil, fmt.Errorf("native balance read: %w", err)
	}
	if nativeBal.Cmp(d.gasReserve) < 0 {
		return nil, fmt.Errorf("%w: have %s wei, reserve %s wei", ErrInsufficientGas, nativeBal, d.gasReserve)
	}

	signedTx, gasPrice, err := d.submit(ctx, conn, token, to, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	log.Printf("transfer submitted: tx=%s to=%s amount=%s rpc=%s", signedTx.Hash().Hex(), to.Hex(), amount, conn.Endpoint)

	waitCtx, cancel := context.WithTimeout(ctx, d.confirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, conn.Client, signedTx)
	if err != nil {
		return nil, fmt.Errorf("%w: confirmation wait: %v", ErrTransferFailed, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: transaction %s reverted", ErrTransferFailed, signedTx.Hash().Hex())
	}

	if receipt.EffectiveGasPrice != nil {
		gasPrice = receipt.EffectiveGasPrice
	}
	return &domain.DisburseResult{
		TxHash:      signedTx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		GasPrice:    gasPrice.String(),
		RPCUsed:     conn.Endpoint,
	}, nil
}

// submit allocates the nonce, prices and signs the transaction, and sends it.
// Serialized so concurrent disbursements from the same funding account cannot
// reuse a nonce.
func (d *Disburser) submit(ctx context.Context, conn *Conn, token, to common.Address, amount *big.Int) (*types.Transaction, *big.Int, error) {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	nonce, err := conn.Client.PendingNonceAt(ctx, d.from)
	if err != nil {
		return nil, nil, fmt.Errorf("nonce read: %w", err)
	}

	tipCap, feeCap := d.quoteFees(ctx, conn)
	data := TransferCalldata(to, amount)

	gasLimit, err := conn.Client.EstimateGas(ctx, ethereum.CallMsg{
		From: d.from,
		To:   &token,
		Data: data,
	})
	if err != nil {
		gasLimit = fallbackGasLimit
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   d.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &token,
		Value:     big.NewInt(0),
		Data:      data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(d.chainID), d.key)
	if err != nil {
		return nil, nil, fmt.Errorf("sign: %w", err)
	}
	if err := conn.Client.SendTransaction(ctx, signedTx); err != nil {
		return nil, nil, fmt.Errorf("send: %w", err)
	}
	return signedTx, feeCap, nil
}

// quoteFees derives EIP-1559 fee caps from the current network estimate,
// falling back to the fixed minimum when estimation fails.
func (d *Disburser) quoteFees(ctx context.Context, conn *Conn) (tipCap, feeCap *big.Int) {
	tipCap, err := conn.Client.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(fallbackGasPrice)
	}

	head, err := conn.Client.HeaderByNumber(ctx, nil)
	if err != nil || head.BaseFee == nil {
		return tipCap, new(big.Int).Add(tipCap, big.NewInt(fallbackGasPrice))
	}
	feeCap = new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return tipCap, feeCap
}
