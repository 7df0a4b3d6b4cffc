// Package wallet signs and sends native ETH transactions: prize payouts,
// ledger withdrawals and raffle contract calls.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/raffle/internal/ethunit"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrInvalidPrivateKey = errors.New("wallet: invalid private key")
	ErrInvalidAmount     = errors.New("wallet: invalid amount")
	ErrTransactionFailed = errors.New("wallet: transaction failed")
	ErrTimeout           = errors.New("wallet: operation timed out")
	ErrRPCConnection     = errors.New("wallet: RPC connection failed")
	ErrReferenceConflict = errors.New("wallet: reference already used for a different payment")
)

// TransferError wraps transfer failures with context
type TransferError struct {
	Op     string // Operation that failed
	TxHash string // Transaction hash if available
	Err    error  // Underlying error
}

func (e *TransferError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("wallet: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("wallet: %s failed: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// EthClient abstracts go-ethereum client for testing
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	// TransferGasLimit is the intrinsic cost of a plain value transfer.
	TransferGasLimit = uint64(21000)

	// DefaultConfirmationTimeout for waiting on transactions
	DefaultConfirmationTimeout = 2 * time.Minute

	// ConfirmationPollInterval between receipt checks
	ConfirmationPollInterval = 2 * time.Second
)

// Config for creating a new wallet
type Config struct {
	RPCURL     string
	PrivateKey string // Hex string, 0x prefix optional
	ChainID    int64
}

// Option configures the wallet
type Option func(*Wallet)

// WithClient sets a custom Ethereum client (useful for testing)
func WithClient(client EthClient) Option {
	return func(w *Wallet) {
		w.client = client
	}
}

// WithPollInterval sets how often receipts are polled.
func WithPollInterval(d time.Duration) Option {
	return func(w *Wallet) {
		w.pollInterval = d
	}
}

// WithLogger sets the wallet logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Wallet) {
		w.logger = logger
	}
}

// TransferResult contains details of a sent or mined transaction
type TransferResult struct {
	TxHash      string
	From        string
	To          string
	Amount      string // Ether amount, e.g. "0.04"
	AmountRaw   *big.Int
	BlockNumber uint64
	GasUsed     uint64
	Nonce       uint64
}

// Wallet signs transactions with a single key.
type Wallet struct {
	client       EthClient
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	chainID      *big.Int
	signer       types.Signer
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger

	// Prize payments by reference. Records live as long as the wallet.
	payMu    sync.Mutex
	payments map[string]*payment
}

// payment is a prize transfer sent under a reference.
type payment struct {
	to      common.Address
	amount  *big.Int
	txHash  common.Hash
	settled bool
}

// New creates a new Wallet instance
func New(cfg Config, opts ...Option) (*Wallet, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	w := &Wallet{
		privateKey:   privateKey,
		address:      crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:      chainID,
		signer:       types.LatestSignerForChainID(chainID),
		pollInterval: ConfirmationPollInterval,
		timeout:      DefaultConfirmationTimeout,
		logger:       slog.Default(),
		payments:     make(map[string]*payment),
	}

	for _, opt := range opts {
		opt(w)
	}

	// Connect to RPC if no client provided
	if w.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		w.client = client
	}

	return w, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("%w: private key required", ErrInvalidPrivateKey)
	}
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain ID required")
	}
	return nil
}

// Address returns the wallet's address
func (w *Wallet) Address() common.Address {
	return w.address
}

// Balance returns the wallet's ETH balance in wei.
func (w *Wallet) Balance(ctx context.Context) (*big.Int, error) {
	return w.BalanceOf(ctx, w.address)
}

// BalanceOf returns the ETH balance of any address in wei.
func (w *Wallet) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := w.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return bal, nil
}

// SendTransaction signs and sends a transaction to `to` carrying value and
// data. A zero gasLimit is estimated.
func (w *Wallet) SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := w.client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, &TransferError{Op: "nonce", Err: err}
	}

	gasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &TransferError{Op: "gas_price", Err: err}
	}

	if gasLimit == 0 {
		gasLimit, err = w.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  w.address,
			To:    &to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			return nil, &TransferError{Op: "estimate_gas", Err: err}
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, w.signer, w.privateKey)
	if err != nil {
		return nil, &TransferError{Op: "sign", Err: err}
	}

	if err := w.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, &TransferError{Op: "send", TxHash: signedTx.Hash().Hex(), Err: err}
	}
	return signedTx, nil
}

// Send transfers amount wei of ETH to a recipient without waiting for it to be mined.
func (w *Wallet) Send(ctx context.Context, to common.Address, amount *big.Int) (*TransferResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	tx, err := w.SendTransaction(ctx, to, amount, nil, TransferGasLimit)
	if err != nil {
		return nil, err
	}
	return &TransferResult{
		TxHash:    tx.Hash().Hex(),
		From:      w.address.Hex(),
		To:        to.Hex(),
		Amount:    ethunit.FormatEther(amount),
		AmountRaw: amount,
		Nonce:     tx.Nonce(),
	}, nil
}

// Transfer sends ETH and returns the transaction hash. It serves ledger
// withdrawals.
func (w *Wallet) Transfer(ctx context.Context, to common.Address, amount *big.Int) (string, error) {
	res, err := w.Send(ctx, to, amount)
	if err != nil {
		return "", err
	}
	return res.TxHash, nil
}

// Pay sends a prize and waits for it to be mined. A reverted or timed out
// payment is reported as an error so the draw can be retried.
//
// Pay is idempotent per reference. A retry waits for the transaction already
// sent under the reference and only sends a new one once that transaction
// has reverted. Paying a settled reference again succeeds without sending.
func (w *Wallet) Pay(ctx context.Context, to common.Address, amount *big.Int, reference string) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}

	w.payMu.Lock()
	defer w.payMu.Unlock()

	if p, ok := w.payments[reference]; ok {
		if p.to != to || p.amount.Cmp(amount) != 0 {
			return fmt.Errorf("%w: %s", ErrReferenceConflict, reference)
		}
		if p.settled {
			return nil
		}
		_, err := w.WaitMined(ctx, p.txHash, w.timeout)
		if err == nil {
			p.settled = true
			w.logger.Info("prize payment confirmed", "tx_hash", p.txHash.Hex(), "reference", reference)
			return nil
		}
		if !errors.Is(err, ErrTransactionFailed) {
			return err
		}
		w.logger.Warn("prize payment reverted, resending", "tx_hash", p.txHash.Hex(), "reference", reference)
		delete(w.payments, reference)
	}

	res, err := w.Send(ctx, to, amount)
	if err != nil {
		return err
	}
	p := &payment{to: to, amount: new(big.Int).Set(amount), txHash: common.HexToHash(res.TxHash)}
	w.payments[reference] = p
	w.logger.Info("prize payment sent", "to", to.Hex(), "amount", res.Amount, "tx_hash", res.TxHash, "reference", reference)

	if _, err := w.WaitMined(ctx, p.txHash, w.timeout); err != nil {
		if errors.Is(err, ErrTransactionFailed) {
			delete(w.payments, reference)
		}
		return err
	}
	p.settled = true
	return nil
}

// WaitMined polls for the receipt of a transaction until it is mined or the
// timeout elapses. A reverted transaction is returned with ErrTransactionFailed.
func (w *Wallet) WaitMined(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: waiting for tx %s", ErrTimeout, txHash.Hex())
			}
			return nil, ctx.Err()

		case <-ticker.C:
			receipt, err := w.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				// Transaction not yet mined, continue waiting
				continue
			}

			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, &TransferError{
					Op:     "confirm",
					TxHash: txHash.Hex(),
					Err:    ErrTransactionFailed,
				}
			}
			return receipt, nil
		}
	}
}

// WaitForConfirmation waits for a transaction to be mined
func (w *Wallet) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) (*TransferResult, error) {
	receipt, err := w.WaitMined(ctx, common.HexToHash(txHash), timeout)
	if err != nil {
		return nil, err
	}
	return &TransferResult{
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

// Close closes the client connection
func (w *Wallet) Close() error {
	if w.client != nil {
		w.client.Close()
	}
	return nil
}
