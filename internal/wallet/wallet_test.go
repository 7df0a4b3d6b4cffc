package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/raffle/internal/logging"
)

// Hardhat's first default account.
const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

var recipient = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

type mockClient struct {
	mu        sync.Mutex
	nonce     uint64
	sendErr   error
	estimate  uint64
	sent      []*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	balance   *big.Int
	estimated []ethereum.CallMsg
}

func newMockClient() *mockClient {
	return &mockClient{
		nonce:    7,
		estimate: 90000,
		receipts: make(map[common.Hash]*types.Receipt),
		balance:  big.NewInt(5e18),
	}
}

func (m *mockClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return m.nonce, nil
}

func (m *mockClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimated = append(m.estimated, call)
	return m.estimate, nil
}

func (m *mockClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, tx)
	return nil
}

func (m *mockClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (m *mockClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return m.balance, nil
}

func (m *mockClient) Close() {}

// mine marks every sent transaction as mined with the given status.
func (m *mockClient) mine(status uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.sent {
		m.receipts[tx.Hash()] = &types.Receipt{Status: status, BlockNumber: big.NewInt(12), GasUsed: 21000, TxHash: tx.Hash()}
	}
}

func newTestWallet(t *testing.T, client *mockClient) *Wallet {
	t.Helper()
	w, err := New(Config{RPCURL: "http://127.0.0.1:8545", PrivateKey: "0x" + testKey, ChainID: 31337},
		WithClient(client), WithPollInterval(5*time.Millisecond), WithLogger(logging.Discard()))
	require.NoError(t, err)
	return w
}

func TestNew_DerivesAddress(t *testing.T) {
	w := newTestWallet(t, newMockClient())
	assert.Equal(t, common.HexToAddress(testAddress), w.Address())

	bal, err := w.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5000000000000000000", bal.String())
}

func TestSend_SignsNativeTransfer(t *testing.T) {
	client := newMockClient()
	w := newTestWallet(t, client)

	res, err := w.Send(context.Background(), recipient, big.NewInt(4e16))
	require.NoError(t, err)
	assert.Equal(t, "0.04", res.Amount)
	assert.Equal(t, uint64(7), res.Nonce)

	require.Len(t, client.sent, 1)
	tx := client.sent[0]
	assert.Equal(t, recipient, *tx.To())
	assert.Equal(t, "40000000000000000", tx.Value().String())
	assert.Equal(t, TransferGasLimit, tx.Gas())
	assert.Empty(t, tx.Data())
	assert.Equal(t, int64(31337), tx.ChainId().Int64())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), tx)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), from)
	assert.Empty(t, client.estimated, "plain transfers use the intrinsic gas limit")
}

func TestSendTransaction_EstimatesGas(t *testing.T) {
	client := newMockClient()
	w := newTestWallet(t, client)

	tx, err := w.SendTransaction(context.Background(), recipient, nil, []byte{0x4e, 0x71, 0xd9, 0x2d}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(90000), tx.Gas())
	assert.Equal(t, int64(0), tx.Value().Int64())
	require.Len(t, client.estimated, 1)
	assert.Equal(t, w.Address(), client.estimated[0].From)
}

func TestSend_Errors(t *testing.T) {
	client := newMockClient()
	w := newTestWallet(t, client)

	_, err := w.Send(context.Background(), recipient, big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	client.sendErr = errors.New("insufficient funds for gas * price + value")
	_, err = w.Transfer(context.Background(), recipient, big.NewInt(1))
	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "send", terr.Op)
	assert.NotEmpty(t, terr.TxHash)
}

func TestPay_WaitsForReceipt(t *testing.T) {
	client := newMockClient()
	w := newTestWallet(t, client)

	done := make(chan error, 1)
	go func() { done <- w.Pay(context.Background(), recipient, big.NewInt(4e16), "raffle:1:1") }()

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.sent) == 1
	}, time.Second, time.Millisecond)
	client.mine(types.ReceiptStatusSuccessful)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pay did not return")
	}

	assert.NoError(t, w.Pay(context.Background(), recipient, new(big.Int), "raffle:2:2"))
	assert.Len(t, client.sent, 1, "zero prizes send nothing")
}

func (m *mockClient) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestPay_RetryWaitsForSentTransaction(t *testing.T) {
	client := newMockClient()
	w := newTestWallet(t, client)
	prize := big.NewInt(4e16)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := w.Pay(ctx, recipient, prize, "raffle:1:1")
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, 1, client.sentCount())

	// Mined after the first caller gave up.
	client.mine(types.ReceiptStatusSuccessful)

	require.NoError(t, w.Pay(context.Background(), recipient, prize, "raffle:1:1"))
	assert.Equal(t, 1, client.sentCount(), "a retried reference must not send a second transfer")

	require.NoError(t, w.Pay(context.Background(), recipient, prize, "raffle:1:1"))
	assert.Equal(t, 1, client.sentCount())
}

func TestPay_ResendsAfterRevert(t *testing.T) {
	client := newMockClient()
	w := newTestWallet(t, client)
	prize := big.NewInt(4e16)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, w.Pay(ctx, recipient, prize, "raffle:1:1"), ErrTimeout)

	client.mine(types.ReceiptStatusFailed)
	client.nonce = 8

	done := make(chan error, 1)
	go func() { done <- w.Pay(context.Background(), recipient, prize, "raffle:1:1") }()

	require.Eventually(t, func() bool { return client.sentCount() == 2 }, time.Second, time.Millisecond)
	client.mine(types.ReceiptStatusSuccessful)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pay did not return")
	}
	assert.Equal(t, 2, client.sentCount())
}

func TestPay_ReferenceConflict(t *testing.T) {
	client := newMockClient()
	w := newTestWallet(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, w.Pay(ctx, recipient, big.NewInt(4e16), "raffle:1:1"), ErrTimeout)

	err := w.Pay(context.Background(), recipient, big.NewInt(5e16), "raffle:1:1")
	assert.ErrorIs(t, err, ErrReferenceConflict)
	assert.Equal(t, 1, client.sentCount())
}

func TestWaitForConfirmation(t *testing.T) {
	client := newMockClient()
	w := newTestWallet(t, client)
	ctx := context.Background()

	res, err := w.Send(ctx, recipient, big.NewInt(1))
	require.NoError(t, err)

	_, err = w.WaitForConfirmation(ctx, res.TxHash, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	client.mine(types.ReceiptStatusFailed)
	_, err = w.WaitForConfirmation(ctx, res.TxHash, time.Second)
	assert.ErrorIs(t, err, ErrTransactionFailed)

	client.mine(types.ReceiptStatusSuccessful)
	confirmed, err := w.WaitForConfirmation(ctx, res.TxHash, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), confirmed.BlockNumber)
}

func TestTransferError(t *testing.T) {
	tests := []struct {
		name     string
		err      *TransferError
		contains string
	}{
		{
			name: "with tx hash",
			err: &TransferError{
				Op:     "send",
				TxHash: "0xabc123",
				Err:    errors.New("network error"),
			},
			contains: "0xabc123",
		},
		{
			name: "without tx hash",
			err: &TransferError{
				Op:  "nonce",
				Err: errors.New("failed to get nonce"),
			},
			contains: "nonce failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, tt.err.Error(), tt.contains)
			assert.True(t, errors.Is(tt.err, tt.err.Err))
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     Config{RPCURL: "https://rpc.sepolia.org", PrivateKey: testKey, ChainID: 11155111},
			wantErr: false,
		},
		{
			name:    "valid config with 0x prefix",
			cfg:     Config{RPCURL: "https://rpc.sepolia.org", PrivateKey: "0x" + testKey, ChainID: 11155111},
			wantErr: false,
		},
		{
			name:    "missing RPC URL",
			cfg:     Config{PrivateKey: testKey, ChainID: 11155111},
			wantErr: true,
		},
		{
			name:    "missing private key",
			cfg:     Config{RPCURL: "https://rpc.sepolia.org", ChainID: 11155111},
			wantErr: true,
		},
		{
			name:    "invalid private key length",
			cfg:     Config{RPCURL: "https://rpc.sepolia.org", PrivateKey: "tooshort", ChainID: 11155111},
			wantErr: true,
		},
		{
			name:    "missing chain ID",
			cfg:     Config{RPCURL: "https://rpc.sepolia.org", PrivateKey: testKey},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
