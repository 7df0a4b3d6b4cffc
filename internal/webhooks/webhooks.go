// Package webhooks delivers raffle events to external HTTP endpoints.
//
// Each POST body is a JSON Delivery signed with HMAC-SHA256 over the raw
// body using the subscription secret; the hex digest is sent in
// X-Raffle-Signature. Deliveries are retried with backoff, endpoints that
// keep failing are paused by a per-URL circuit breaker, and a subscription
// is deactivated after MaxConsecutiveFailures failed deliveries.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/raffle/internal/circuitbreaker"
	"github.com/mbd888/raffle/internal/idgen"
	"github.com/mbd888/raffle/internal/metrics"
	"github.com/mbd888/raffle/internal/raffle"
	"github.com/mbd888/raffle/internal/retry"
)

const (
	HeaderEvent     = "X-Raffle-Event"
	HeaderDelivery  = "X-Raffle-Delivery"
	HeaderTimestamp = "X-Raffle-Timestamp"
	HeaderSignature = "X-Raffle-Signature"

	MaxConsecutiveFailures = 10

	defaultAttempts  = 4
	defaultBaseDelay = 500 * time.Millisecond
	requestTimeout   = 10 * time.Second
)

var (
	ErrNotFound   = errors.New("webhooks: subscription not found")
	ErrInvalidURL = errors.New("webhooks: invalid url")
	ErrPaused     = errors.New("webhooks: endpoint paused")
)

// AllEvents is the default subscription set.
var AllEvents = []raffle.EventType{
	raffle.EventEntered,
	raffle.EventRequestedWinner,
	raffle.EventWinnerPicked,
}

// Subscription is one registered endpoint.
type Subscription struct {
	ID                  string             `json:"id"`
	URL                 string             `json:"url"`
	Secret              string             `json:"-"`
	Events              []raffle.EventType `json:"events"`
	Active              bool               `json:"active"`
	CreatedAt           time.Time          `json:"createdAt"`
	LastSuccess         *time.Time         `json:"lastSuccess,omitempty"`
	LastError           string             `json:"lastError,omitempty"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
}

// Wants reports whether the subscription covers t.
func (s *Subscription) Wants(t raffle.EventType) bool {
	for _, et := range s.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Delivery is the JSON body posted to subscribers.
type Delivery struct {
	ID        string           `json:"id"`
	Type      raffle.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      raffle.Event     `json:"data"`
}

// Store persists subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	ListForEvent(ctx context.Context, t raffle.EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(payload []byte, secret, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}

// ValidateURL rejects non-HTTP schemes and hosts resolving to loopback,
// private or link-local addresses.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if host == "localhost" {
		return fmt.Errorf("%w: localhost not allowed", ErrInvalidURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("%w: address %s not allowed", ErrInvalidURL, ip)
		}
	}
	return nil
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetry sets attempts per delivery and the base backoff.
func WithRetry(attempts int, base time.Duration) Option {
	return func(d *Dispatcher) {
		d.attempts = attempts
		d.baseDelay = base
	}
}

// WithBreaker replaces the per-URL breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(d *Dispatcher) { d.breaker = b }
}

// WithURLValidator replaces ValidateURL, e.g. to allow loopback in dev mode.
func WithURLValidator(fn func(string) error) Option {
	return func(d *Dispatcher) { d.validate = fn }
}

// Dispatcher signs and posts events. It implements raffle.EventSink through
// the queue in emitter.go.
type Dispatcher struct {
	store     Store
	client    *http.Client
	breaker   *circuitbreaker.Breaker
	logger    *slog.Logger
	attempts  int
	baseDelay time.Duration
	validate  func(string) error
	now       func() time.Time

	// serialises read-modify-write of subscription status
	statusMu sync.Mutex

	queue chan raffle.Event
	done  chan struct{}
}

func NewDispatcher(store Store, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		client:    &http.Client{Timeout: requestTimeout},
		breaker:   circuitbreaker.New(5, time.Minute),
		logger:    logger,
		attempts:  defaultAttempts,
		baseDelay: defaultBaseDelay,
		validate:  ValidateURL,
		now:       time.Now,
		queue:     make(chan raffle.Event, queueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers url for events (all events when empty) and returns the
// subscription with its generated secret. A non-empty secret is used as-is.
func (d *Dispatcher) Subscribe(ctx context.Context, rawURL, secret string, events []raffle.EventType) (*Subscription, error) {
	if err := d.validate(rawURL); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		events = append([]raffle.EventType(nil), AllEvents...)
	}
	for _, et := range events {
		if !knownEvent(et) {
			return nil, fmt.Errorf("webhooks: unknown event type %q", et)
		}
	}
	if secret == "" {
		secret = idgen.Hex(32)
	}
	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		URL:       rawURL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

// Seed subscribes every url in urls that is not already registered. Used to
// load WEBHOOK_URLS at boot.
func (d *Dispatcher) Seed(ctx context.Context, urls []string, secret string) error {
	existing, err := d.store.List(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, s := range existing {
		have[s.URL] = true
	}
	for _, u := range urls {
		if have[u] {
			continue
		}
		if _, err := d.Subscribe(ctx, u, secret, nil); err != nil {
			return fmt.Errorf("seed %s: %w", u, err)
		}
		have[u] = true
	}
	return nil
}

// Deliver posts ev to every active subscription that wants it and returns
// the number of successful deliveries.
func (d *Dispatcher) Deliver(ctx context.Context, ev raffle.Event) (int, error) {
	subs, err := d.store.ListForEvent(ctx, ev.Type)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	delivery := Delivery{ID: idgen.WithPrefix("dlv_"), Type: ev.Type, Timestamp: ev.At, Data: ev}
	payload, err := json.Marshal(delivery)
	if err != nil {
		return 0, fmt.Errorf("encode delivery: %w", err)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			if err := d.send(ctx, sub, delivery, payload); err != nil {
				d.logger.Warn("webhook delivery failed", "subscription", sub.ID, "event", ev.Type, "error", err)
				return
			}
			mu.Lock()
			ok++
			mu.Unlock()
		}(sub)
	}
	wg.Wait()
	return ok, nil
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, delivery Delivery, payload []byte) error {
	if !d.breaker.Allow(sub.URL) {
		metrics.WebhookDeliveriesTotal.WithLabelValues("paused").Inc()
		return ErrPaused
	}

	err := retry.Do(ctx, d.attempts, d.baseDelay, func() error {
		return d.post(ctx, sub, delivery, payload)
	})
	if err != nil {
		d.breaker.RecordFailure(sub.URL)
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		d.recordFailure(ctx, sub.ID, err)
		return err
	}
	d.breaker.RecordSuccess(sub.URL)
	metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
	d.recordSuccess(ctx, sub.ID)
	return nil
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, delivery Delivery, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "raffle-webhooks/1")
	req.Header.Set(HeaderEvent, string(delivery.Type))
	req.Header.Set(HeaderDelivery, delivery.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(delivery.Timestamp.Unix(), 10))
	req.Header.Set(HeaderSignature, Sign(payload, sub.Secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

func (d *Dispatcher) recordSuccess(ctx context.Context, id string) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()

	sub, err := d.store.Get(ctx, id)
	if err != nil {
		return
	}
	now := d.now().UTC()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("update webhook status", "subscription", id, "error", err)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, id string, cause error) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()

	sub, err := d.store.Get(ctx, id)
	if err != nil {
		return
	}
	sub.LastError = cause.Error()
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= MaxConsecutiveFailures && sub.Active {
		sub.Active = false
		d.logger.Warn("webhook deactivated after repeated failures",
			"subscription", id, "url", sub.URL, "failures", sub.ConsecutiveFailures)
	}
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("update webhook status", "subscription", id, "error", err)
	}
}

func knownEvent(t raffle.EventType) bool {
	for _, et := range AllEvents {
		if et == t {
			return true
		}
	}
	return false
}

// MemoryStore keeps subscriptions in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		cp := *sub
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListForEvent(ctx context.Context, t raffle.EventType) ([]*Subscription, error) {
	all, _ := m.List(ctx)
	out := all[:0]
	for _, sub := range all {
		if sub.Active && sub.Wants(t) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}
