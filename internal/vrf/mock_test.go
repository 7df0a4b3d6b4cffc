package vrf

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/raffle/internal/logging"
)

var (
	consumerAddr = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	ownerAddr    = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	baseFee      = big.NewInt(25e16)
	gasPriceLink = big.NewInt(1e9)
)

type recordingConsumer struct {
	mu    sync.Mutex
	err   error
	calls []*big.Int
	words [][]*big.Int
}

func (c *recordingConsumer) FulfillRandomWords(ctx context.Context, requestID *big.Int, words []*big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.calls = append(c.calls, requestID)
	c.words = append(c.words, words)
	return nil
}

func (c *recordingConsumer) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func newTestMock(t *testing.T) (*MockCoordinator, uint64, *recordingConsumer) {
	t.Helper()
	ctx := context.Background()

	m := NewMockCoordinator(baseFee, gasPriceLink, WithLogger(logging.Discard()))
	subID, err := m.CreateSubscription(ctx, ownerAddr)
	require.NoError(t, err)
	require.NoError(t, m.FundSubscription(ctx, subID, big.NewInt(1e18)))

	consumer := &recordingConsumer{}
	require.NoError(t, m.AddConsumer(ctx, subID, consumerAddr, consumer))
	return m, subID, consumer
}

func testRequest(subID uint64) Request {
	return Request{
		KeyHash:          common.HexToHash("0x01"),
		SubID:            subID,
		MinConfirmations: 3,
		CallbackGasLimit: 500000,
		NumWords:         1,
		Consumer:         consumerAddr,
	}
}

func TestMock_Subscriptions(t *testing.T) {
	ctx := context.Background()
	m := NewMockCoordinator(baseFee, gasPriceLink, WithLogger(logging.Discard()))

	id1, err := m.CreateSubscription(ctx, ownerAddr)
	require.NoError(t, err)
	id2, err := m.CreateSubscription(ctx, ownerAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)

	require.NoError(t, m.FundSubscription(ctx, id1, big.NewInt(100)))
	require.NoError(t, m.FundSubscription(ctx, id1, big.NewInt(50)))
	sub, err := m.GetSubscription(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, int64(150), sub.Balance.Int64())
	assert.Equal(t, ownerAddr, sub.Owner)

	// The copy is detached.
	sub.Balance.SetInt64(0)
	again, _ := m.GetSubscription(ctx, id1)
	assert.Equal(t, int64(150), again.Balance.Int64())

	assert.ErrorIs(t, m.FundSubscription(ctx, 99, big.NewInt(1)), ErrInvalidSubscription)
	assert.ErrorIs(t, m.FundSubscription(ctx, id1, big.NewInt(0)), ErrInvalidAmount)
	_, err = m.GetSubscription(ctx, 99)
	assert.ErrorIs(t, err, ErrInvalidSubscription)
}

func TestMock_Consumers(t *testing.T) {
	ctx := context.Background()
	m, subID, consumer := newTestMock(t)

	// Adding twice is idempotent.
	require.NoError(t, m.AddConsumer(ctx, subID, consumerAddr, consumer))
	sub, _ := m.GetSubscription(ctx, subID)
	assert.Equal(t, []common.Address{consumerAddr}, sub.Consumers)

	assert.ErrorIs(t, m.AddConsumer(ctx, 42, consumerAddr, consumer), ErrInvalidSubscription)
	assert.ErrorIs(t, m.AddConsumer(ctx, subID, consumerAddr, nil), ErrInvalidConsumer)

	require.NoError(t, m.RemoveConsumer(ctx, subID, consumerAddr))
	assert.ErrorIs(t, m.RemoveConsumer(ctx, subID, consumerAddr), ErrInvalidConsumer)

	_, err := m.RequestRandomWords(ctx, testRequest(subID))
	assert.ErrorIs(t, err, ErrInvalidConsumer)
}

func TestMock_TooManyConsumers(t *testing.T) {
	ctx := context.Background()
	m, subID, consumer := newTestMock(t)

	for i := 1; i < MaxConsumers; i++ {
		require.NoError(t, m.AddConsumer(ctx, subID, common.BigToAddress(big.NewInt(int64(i))), consumer))
	}
	err := m.AddConsumer(ctx, subID, common.BigToAddress(big.NewInt(100000)), consumer)
	assert.ErrorIs(t, err, ErrTooManyConsumers)
}

func TestMock_RequestValidation(t *testing.T) {
	ctx := context.Background()
	m, subID, _ := newTestMock(t)

	req := testRequest(subID)
	req.NumWords = 0
	_, err := m.RequestRandomWords(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidNumWords)

	req = testRequest(subID)
	req.NumWords = MaxNumWords + 1
	_, err = m.RequestRandomWords(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidNumWords)

	req = testRequest(subID)
	req.CallbackGasLimit = MaxCallbackGasLimit + 1
	_, err = m.RequestRandomWords(ctx, req)
	assert.ErrorIs(t, err, ErrGasLimitTooBig)

	_, err = m.RequestRandomWords(ctx, testRequest(subID+1))
	assert.ErrorIs(t, err, ErrInvalidSubscription)
}

func TestMock_RequestIDsIncrease(t *testing.T) {
	ctx := context.Background()
	m, subID, _ := newTestMock(t)

	for want := int64(1); want <= 3; want++ {
		id, err := m.RequestRandomWords(ctx, testRequest(subID))
		require.NoError(t, err)
		assert.Equal(t, want, id.Int64())
	}

	pending := m.PendingRequests(ctx)
	require.Len(t, pending, 3)
	for i, p := range pending {
		assert.Equal(t, int64(i+1), p.ID.Int64())
	}
	sub, _ := m.GetSubscription(ctx, subID)
	assert.Equal(t, uint64(3), sub.ReqCount)
}

func TestMock_FulfillChargesSubscription(t *testing.T) {
	ctx := context.Background()
	m, subID, consumer := newTestMock(t)

	id, err := m.RequestRandomWords(ctx, testRequest(subID))
	require.NoError(t, err)
	require.NoError(t, m.FulfillRandomWords(ctx, id, consumerAddr))

	require.Equal(t, 1, consumer.callCount())
	assert.Equal(t, DeriveWords(id, 1), consumer.words[0])

	payment := new(big.Int).Add(baseFee, new(big.Int).Mul(gasPriceLink, big.NewInt(500000)))
	assert.Equal(t, payment, m.Payment(testRequest(subID)))

	sub, _ := m.GetSubscription(ctx, subID)
	assert.Equal(t, new(big.Int).Sub(big.NewInt(1e18), payment).String(), sub.Balance.String())

	assert.Empty(t, m.PendingRequests(ctx))
	history := m.Fulfillments(ctx, 10)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Equal(t, payment.String(), history[0].Payment.String())
}

func TestMock_FulfillNonexistent(t *testing.T) {
	ctx := context.Background()
	m, subID, consumer := newTestMock(t)

	err := m.FulfillRandomWords(ctx, big.NewInt(0), consumerAddr)
	assert.ErrorIs(t, err, ErrNonexistentRequest)
	assert.Equal(t, "nonexistent request", ErrNonexistentRequest.Error())

	id, err := m.RequestRandomWords(ctx, testRequest(subID))
	require.NoError(t, err)
	require.NoError(t, m.FulfillRandomWords(ctx, id, consumerAddr))

	err = m.FulfillRandomWords(ctx, id, consumerAddr)
	assert.ErrorIs(t, err, ErrNonexistentRequest)
	assert.Equal(t, 1, consumer.callCount())

	assert.ErrorIs(t, m.FulfillRandomWords(ctx, nil, consumerAddr), ErrNonexistentRequest)
}

func TestMock_FulfillWrongConsumer(t *testing.T) {
	ctx := context.Background()
	m, subID, _ := newTestMock(t)

	id, err := m.RequestRandomWords(ctx, testRequest(subID))
	require.NoError(t, err)

	err = m.FulfillRandomWords(ctx, id, ownerAddr)
	assert.ErrorIs(t, err, ErrInvalidConsumer)
	assert.Len(t, m.PendingRequests(ctx), 1)
}

func TestMock_FulfillWithOverride(t *testing.T) {
	ctx := context.Background()
	m, subID, consumer := newTestMock(t)

	id, err := m.RequestRandomWords(ctx, testRequest(subID))
	require.NoError(t, err)

	err = m.FulfillRandomWordsWithOverride(ctx, id, consumerAddr, []*big.Int{big.NewInt(1), big.NewInt(2)})
	assert.ErrorIs(t, err, ErrInvalidRandomWords)

	require.NoError(t, m.FulfillRandomWordsWithOverride(ctx, id, consumerAddr, []*big.Int{big.NewInt(42)}))
	assert.Equal(t, "42", consumer.words[0][0].String())
}

func TestMock_FulfillInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	m := NewMockCoordinator(baseFee, gasPriceLink, WithLogger(logging.Discard()))
	subID, _ := m.CreateSubscription(ctx, ownerAddr)
	require.NoError(t, m.FundSubscription(ctx, subID, big.NewInt(1)))
	consumer := &recordingConsumer{}
	require.NoError(t, m.AddConsumer(ctx, subID, consumerAddr, consumer))

	id, err := m.RequestRandomWords(ctx, testRequest(subID))
	require.NoError(t, err)

	err = m.FulfillRandomWords(ctx, id, consumerAddr)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 0, consumer.callCount())

	// Top up and retry.
	require.NoError(t, m.FundSubscription(ctx, subID, big.NewInt(1e18)))
	require.NoError(t, m.FulfillRandomWords(ctx, id, consumerAddr))
}

func TestMock_CallbackFailureKeepsRequestPending(t *testing.T) {
	ctx := context.Background()
	m, subID, consumer := newTestMock(t)
	consumer.err = errors.New("transfer failed")

	id, err := m.RequestRandomWords(ctx, testRequest(subID))
	require.NoError(t, err)

	err = m.FulfillRandomWords(ctx, id, consumerAddr)
	require.ErrorIs(t, err, ErrCallbackFailed)
	assert.Contains(t, err.Error(), "transfer failed")

	pending, err := m.PendingRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, pending.Attempts)
	assert.Equal(t, "transfer failed", pending.LastError)

	// No charge for the failed delivery.
	sub, _ := m.GetSubscription(ctx, subID)
	assert.Equal(t, int64(1e18), sub.Balance.Int64())

	history := m.Fulfillments(ctx, 0)
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
}

type blockingConsumer struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (c *blockingConsumer) FulfillRandomWords(ctx context.Context, requestID *big.Int, words []*big.Int) error {
	c.calls.Add(1)
	c.entered <- struct{}{}
	<-c.release
	return nil
}

func TestMock_ConcurrentFulfillDeliversOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMockCoordinator(baseFee, gasPriceLink, WithLogger(logging.Discard()))
	subID, _ := m.CreateSubscription(ctx, ownerAddr)
	require.NoError(t, m.FundSubscription(ctx, subID, big.NewInt(1e18)))
	consumer := &blockingConsumer{entered: make(chan struct{}, 2), release: make(chan struct{})}
	require.NoError(t, m.AddConsumer(ctx, subID, consumerAddr, consumer))

	id, err := m.RequestRandomWords(ctx, testRequest(subID))
	require.NoError(t, err)

	errs := make(chan error, 2)
	go func() { errs <- m.FulfillRandomWords(ctx, id, consumerAddr) }()
	<-consumer.entered
	go func() { errs <- m.FulfillRandomWords(ctx, id, consumerAddr) }()

	// The coordinator stays usable while a callback is in flight.
	_, err = m.GetSubscription(ctx, subID)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	close(consumer.release)

	var succeeded int
	for i := 0; i < 2; i++ {
		if err := <-errs; err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrNonexistentRequest)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int32(1), consumer.calls.Load())
}

func TestDeriveWords(t *testing.T) {
	words := DeriveWords(big.NewInt(1), 3)
	require.Len(t, words, 3)

	packed, err := wordArgs.Pack(big.NewInt(1), big.NewInt(0))
	require.NoError(t, err)
	assert.Len(t, packed, 64)
	assert.Equal(t, new(big.Int).SetBytes(crypto.Keccak256(packed)), words[0])

	assert.NotEqual(t, words[0], words[1])
	assert.Equal(t, words, DeriveWords(big.NewInt(1), 3))
	assert.NotEqual(t, words[0], DeriveWords(big.NewInt(2), 1)[0])
}

func TestMock_RestoreAndAdvance(t *testing.T) {
	m, subID, consumer := newTestMock(t)
	ctx := context.Background()

	m.AdvanceRequestID(big.NewInt(4))
	m.AdvanceRequestID(big.NewInt(2))
	id, err := m.RequestRandomWords(ctx, testRequest(subID))
	require.NoError(t, err)
	assert.Equal(t, "5", id.String())

	restored := PendingRequest{ID: big.NewInt(9), Request: testRequest(subID)}
	require.NoError(t, m.Restore(ctx, restored))
	assert.ErrorIs(t, m.Restore(ctx, restored), ErrRequestExists)

	other := testRequest(subID)
	other.Consumer = common.HexToAddress("0x0c")
	assert.ErrorIs(t, m.Restore(ctx, PendingRequest{ID: big.NewInt(11), Request: other}), ErrInvalidConsumer)

	require.NoError(t, m.FulfillRandomWords(ctx, big.NewInt(9), consumerAddr))
	assert.Equal(t, 1, consumer.callCount())

	id, err = m.RequestRandomWords(ctx, testRequest(subID))
	require.NoError(t, err)
	assert.Equal(t, "10", id.String())
}
