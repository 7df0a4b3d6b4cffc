package vrf

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/raffle/internal/syncutil"
)

const maxFulfillmentHistory = 256

// MockCoordinator is an in-process randomness coordinator. Subscriptions are
// billed a flat base fee plus gasPriceLink per unit of callback gas, and only
// when the consumer callback succeeds.
type MockCoordinator struct {
	address      common.Address
	baseFee      *big.Int
	gasPriceLink *big.Int
	logger       *slog.Logger
	now          func() time.Time

	mu            sync.Mutex
	nextSubID     uint64
	nextRequestID *big.Int
	subs          map[uint64]*Subscription
	consumers     map[common.Address]Consumer
	requests      map[string]*PendingRequest
	fulfillments  []Fulfillment

	// Serializes delivery per request id. The consumer callback runs
	// without holding mu.
	delivering *syncutil.ContextShardedMutex
}

// MockOption configures a MockCoordinator.
type MockOption func(*MockCoordinator)

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) MockOption {
	return func(m *MockCoordinator) { m.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MockOption {
	return func(m *MockCoordinator) { m.now = now }
}

// WithAddress sets the address the coordinator reports for itself.
func WithAddress(addr common.Address) MockOption {
	return func(m *MockCoordinator) { m.address = addr }
}

// NewMockCoordinator creates a mock coordinator with the given billing constants.
func NewMockCoordinator(baseFee, gasPriceLink *big.Int, opts ...MockOption) *MockCoordinator {
	m := &MockCoordinator{
		baseFee:       new(big.Int).Set(baseFee),
		gasPriceLink:  new(big.Int).Set(gasPriceLink),
		logger:        slog.Default(),
		now:           time.Now,
		nextRequestID: big.NewInt(1),
		subs:          make(map[uint64]*Subscription),
		consumers:     make(map[common.Address]Consumer),
		requests:      make(map[string]*PendingRequest),
		delivering:    syncutil.NewContextShardedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Address returns the coordinator's address.
func (m *MockCoordinator) Address() common.Address {
	return m.address
}

// CreateSubscription opens an empty subscription owned by owner.
func (m *MockCoordinator) CreateSubscription(ctx context.Context, owner common.Address) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSubID++
	id := m.nextSubID
	m.subs[id] = &Subscription{
		ID:        id,
		Owner:     owner,
		Balance:   new(big.Int),
		CreatedAt: m.now(),
	}
	m.logger.Info("subscription created", "sub_id", id, "owner", owner.Hex())
	return id, nil
}

// FundSubscription adds amount to the subscription balance.
func (m *MockCoordinator) FundSubscription(ctx context.Context, subID uint64, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[subID]
	if !ok {
		return ErrInvalidSubscription
	}
	sub.Balance.Add(sub.Balance, amount)
	m.logger.Info("subscription funded", "sub_id", subID, "amount", amount.String(), "balance", sub.Balance.String())
	return nil
}

// AddConsumer authorizes addr to request randomness on the subscription.
// c receives the callbacks for requests made by addr.
func (m *MockCoordinator) AddConsumer(ctx context.Context, subID uint64, addr common.Address, c Consumer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: nil callback target", ErrInvalidConsumer)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[subID]
	if !ok {
		return ErrInvalidSubscription
	}
	if !sub.hasConsumer(addr) {
		if len(sub.Consumers) >= MaxConsumers {
			return ErrTooManyConsumers
		}
		sub.Consumers = append(sub.Consumers, addr)
	}
	m.consumers[addr] = c
	m.logger.Info("consumer added", "sub_id", subID, "consumer", addr.Hex())
	return nil
}

// RemoveConsumer revokes addr from the subscription.
func (m *MockCoordinator) RemoveConsumer(ctx context.Context, subID uint64, addr common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[subID]
	if !ok {
		return ErrInvalidSubscription
	}
	for i, c := range sub.Consumers {
		if c == addr {
			sub.Consumers = append(sub.Consumers[:i], sub.Consumers[i+1:]...)
			delete(m.consumers, addr)
			return nil
		}
	}
	return ErrInvalidConsumer
}

// GetSubscription returns a copy of the subscription.
func (m *MockCoordinator) GetSubscription(ctx context.Context, subID uint64) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return Subscription{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[subID]
	if !ok {
		return Subscription{}, ErrInvalidSubscription
	}
	return sub.clone(), nil
}

// RequestRandomWords queues a request and returns its id. Ids start at 1.
func (m *MockCoordinator) RequestRandomWords(ctx context.Context, req Request) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.NumWords == 0 || req.NumWords > MaxNumWords {
		return nil, ErrInvalidNumWords
	}
	if req.CallbackGasLimit > MaxCallbackGasLimit {
		return nil, ErrGasLimitTooBig
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[req.SubID]
	if !ok {
		return nil, ErrInvalidSubscription
	}
	if !sub.hasConsumer(req.Consumer) {
		return nil, ErrInvalidConsumer
	}

	id := new(big.Int).Set(m.nextRequestID)
	m.nextRequestID.Add(m.nextRequestID, big.NewInt(1))
	sub.ReqCount++

	m.requests[id.String()] = &PendingRequest{
		ID:          id,
		Request:     req,
		RequestedAt: m.now(),
	}
	requestsTotal.Inc()
	pendingRequests.Set(float64(len(m.requests)))

	m.logger.Info("random words requested",
		"vrf_request_id", id.String(), "sub_id", req.SubID, "consumer", req.Consumer.Hex(),
		"num_words", req.NumWords, "callback_gas_limit", req.CallbackGasLimit)
	return new(big.Int).Set(id), nil
}

// AdvanceRequestID makes the next request id greater than last. Ids already
// above last are left alone. It lets a restarted coordinator continue the
// id sequence of the requests its consumers have persisted.
func (m *MockCoordinator) AdvanceRequestID(last *big.Int) {
	if last == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advanceLocked(last)
}

func (m *MockCoordinator) advanceLocked(last *big.Int) {
	if m.nextRequestID.Cmp(last) <= 0 {
		m.nextRequestID = new(big.Int).Add(last, big.NewInt(1))
	}
}

// Restore re-registers a request that was pending when the coordinator was
// last stopped, so it can still be fulfilled. The subscription and consumer
// must already exist.
func (m *MockCoordinator) Restore(ctx context.Context, pr PendingRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pr.ID == nil || pr.ID.Sign() <= 0 {
		return ErrNonexistentRequest
	}
	if pr.Request.NumWords == 0 || pr.Request.NumWords > MaxNumWords {
		return ErrInvalidNumWords
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[pr.Request.SubID]
	if !ok {
		return ErrInvalidSubscription
	}
	if !sub.hasConsumer(pr.Request.Consumer) {
		return ErrInvalidConsumer
	}
	key := pr.ID.String()
	if _, exists := m.requests[key]; exists {
		return fmt.Errorf("%w: %s", ErrRequestExists, key)
	}

	restored := pr
	restored.ID = new(big.Int).Set(pr.ID)
	if restored.RequestedAt.IsZero() {
		restored.RequestedAt = m.now()
	}
	m.requests[key] = &restored
	m.advanceLocked(pr.ID)
	pendingRequests.Set(float64(len(m.requests)))

	m.logger.Info("random words request restored",
		"vrf_request_id", key, "sub_id", pr.Request.SubID, "consumer", pr.Request.Consumer.Hex())
	return nil
}

// Payment is what a fulfillment of req costs the subscription.
func (m *MockCoordinator) Payment(req Request) *big.Int {
	gas := new(big.Int).Mul(m.gasPriceLink, new(big.Int).SetUint64(uint64(req.CallbackGasLimit)))
	return gas.Add(gas, m.baseFee)
}

// PendingRequests returns the unfulfilled requests ordered by id.
func (m *MockCoordinator) PendingRequests(ctx context.Context) []PendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PendingRequest, 0, len(m.requests))
	for _, r := range m.requests {
		cp := *r
		cp.ID = new(big.Int).Set(r.ID)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Cmp(out[j].ID) < 0 })
	return out
}

// PendingRequest returns one unfulfilled request.
func (m *MockCoordinator) PendingRequest(ctx context.Context, requestID *big.Int) (PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[requestID.String()]
	if !ok {
		return PendingRequest{}, ErrNonexistentRequest
	}
	cp := *r
	cp.ID = new(big.Int).Set(r.ID)
	return cp, nil
}

// Fulfillments returns the most recent delivery attempts, newest first.
func (m *MockCoordinator) Fulfillments(ctx context.Context, limit int) []Fulfillment {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.fulfillments)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Fulfillment, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.fulfillments[i])
	}
	return out
}

// FulfillRandomWords delivers words derived from the request id to consumer.
func (m *MockCoordinator) FulfillRandomWords(ctx context.Context, requestID *big.Int, consumer common.Address) error {
	return m.FulfillRandomWordsWithOverride(ctx, requestID, consumer, nil)
}

// FulfillRandomWordsWithOverride delivers words to consumer. When words is
// nil they are derived from the request id.
//
// A failed callback leaves the request pending so delivery can be retried;
// the subscription is only charged for successful deliveries.
func (m *MockCoordinator) FulfillRandomWordsWithOverride(ctx context.Context, requestID *big.Int, consumer common.Address, words []*big.Int) error {
	if requestID == nil {
		return ErrNonexistentRequest
	}
	key := requestID.String()

	unlock, err := m.delivering.LockContext(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	m.mu.Lock()
	req, ok := m.requests[key]
	if !ok {
		m.mu.Unlock()
		return ErrNonexistentRequest
	}
	if req.Request.Consumer != consumer {
		m.mu.Unlock()
		return ErrInvalidConsumer
	}
	if words == nil {
		words = DeriveWords(req.ID, req.Request.NumWords)
	} else if len(words) != int(req.Request.NumWords) {
		m.mu.Unlock()
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidRandomWords, len(words), req.Request.NumWords)
	}
	sub, ok := m.subs[req.Request.SubID]
	if !ok {
		m.mu.Unlock()
		return ErrInvalidSubscription
	}
	target, ok := m.consumers[consumer]
	if !ok {
		m.mu.Unlock()
		return ErrInvalidConsumer
	}
	payment := m.Payment(req.Request)
	if sub.Balance.Cmp(payment) < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, sub.Balance, payment)
	}
	// Reserve the payment so concurrent deliveries on the same subscription
	// cannot overdraw it.
	sub.Balance.Sub(sub.Balance, payment)
	m.mu.Unlock()

	cbErr := target.FulfillRandomWords(ctx, new(big.Int).Set(req.ID), words)

	m.mu.Lock()
	defer m.mu.Unlock()

	record := Fulfillment{
		RequestID: new(big.Int).Set(req.ID),
		SubID:     req.Request.SubID,
		Consumer:  consumer,
		Words:     words,
		Payment:   payment,
		Success:   cbErr == nil,
		At:        m.now(),
	}

	if cbErr != nil {
		sub.Balance.Add(sub.Balance, payment)
		req.Attempts++
		req.LastError = cbErr.Error()
		record.Payment = new(big.Int)
		record.Error = cbErr.Error()
		m.record(record)
		fulfillmentsTotal.WithLabelValues("callback_failed").Inc()
		m.logger.Warn("random words callback failed",
			"vrf_request_id", key, "consumer", consumer.Hex(), "attempts", req.Attempts, "error", cbErr)
		return fmt.Errorf("%w: %w", ErrCallbackFailed, cbErr)
	}

	delete(m.requests, key)
	m.record(record)
	fulfillmentsTotal.WithLabelValues("success").Inc()
	pendingRequests.Set(float64(len(m.requests)))
	m.logger.Info("random words fulfilled",
		"vrf_request_id", key, "consumer", consumer.Hex(), "payment", payment.String(), "sub_balance", sub.Balance.String())
	return nil
}

func (m *MockCoordinator) record(f Fulfillment) {
	m.fulfillments = append(m.fulfillments, f)
	if len(m.fulfillments) > maxFulfillmentHistory {
		m.fulfillments = m.fulfillments[len(m.fulfillments)-maxFulfillmentHistory:]
	}
}
