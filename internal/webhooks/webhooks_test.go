package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/raffle/internal/circuitbreaker"
	"github.com/mbd888/raffle/internal/logging"
	"github.com/mbd888/raffle/internal/raffle"
	"github.com/mbd888/raffle/internal/testutil"
)

func allowAll(string) error { return nil }

func newTestDispatcher(store Store, opts ...Option) *Dispatcher {
	base := []Option{WithURLValidator(allowAll), WithRetry(3, time.Millisecond)}
	return NewDispatcher(store, logging.Discard(), append(base, opts...)...)
}

func winnerEvent() raffle.Event {
	w := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	return raffle.Event{
		Type:      raffle.EventWinnerPicked,
		Round:     3,
		Player:    &w,
		RequestID: big.NewInt(7),
		Amount:    big.NewInt(4e16),
		At:        time.Unix(1_700_000_000, 0).UTC(),
	}
}

type receiver struct {
	mu      sync.Mutex
	bodies  [][]byte
	headers []http.Header
	status  atomic.Int32
}

func newReceiver(t *testing.T) (*receiver, *httptest.Server) {
	rec := &receiver{}
	rec.status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.bodies = append(rec.bodies, body)
		rec.headers = append(rec.headers, r.Header.Clone())
		rec.mu.Unlock()
		w.WriteHeader(int(rec.status.Load()))
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func TestSignVerify(t *testing.T) {
	payload := []byte(`{"type":"raffle.winner_picked"}`)
	sig := Sign(payload, "s3cret")
	assert.Len(t, sig, 64)
	assert.True(t, Verify(payload, "s3cret", sig))
	assert.False(t, Verify(payload, "other", sig))
	assert.False(t, Verify(append(payload, ' '), "s3cret", sig))
	assert.False(t, Verify(payload, "s3cret", "zz"))
}

func TestValidateURL(t *testing.T) {
	for _, u := range []string{"https://hooks.example.com/raffle", "http://203.0.113.9:8080/x"} {
		assert.NoError(t, ValidateURL(u), u)
	}
	for _, u := range []string{"ftp://example.com", "http://localhost/x", "http://127.0.0.1/x", "http://10.0.0.4/x", "http://169.254.169.254/latest", "://bad"} {
		assert.ErrorIs(t, ValidateURL(u), ErrInvalidURL, u)
	}
}

func TestDispatcher_SubscribeDefaults(t *testing.T) {
	d := NewDispatcher(NewMemoryStore(), logging.Discard())
	ctx := context.Background()

	sub, err := d.Subscribe(ctx, "https://hooks.example.com/raffle", "", nil)
	require.NoError(t, err)
	assert.Equal(t, AllEvents, sub.Events)
	assert.Len(t, sub.Secret, 64)
	assert.True(t, sub.Active)

	_, err = d.Subscribe(ctx, "http://127.0.0.1/hook", "", nil)
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = d.Subscribe(ctx, "https://hooks.example.com/raffle", "", []raffle.EventType{"raffle.unknown"})
	assert.Error(t, err)
}

func TestDispatcher_DeliverSigned(t *testing.T) {
	rec, srv := newReceiver(t)
	store := NewMemoryStore()
	d := newTestDispatcher(store)
	ctx := context.Background()

	sub, err := d.Subscribe(ctx, srv.URL, "topsecret", []raffle.EventType{raffle.EventWinnerPicked})
	require.NoError(t, err)

	n, err := d.Deliver(ctx, winnerEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Equal(t, 1, rec.count())

	body, hdr := rec.bodies[0], rec.headers[0]
	assert.Equal(t, string(raffle.EventWinnerPicked), hdr.Get(HeaderEvent))
	assert.Equal(t, "1700000000", hdr.Get(HeaderTimestamp))
	assert.True(t, Verify(body, "topsecret", hdr.Get(HeaderSignature)))

	var got Delivery
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, uint64(3), got.Data.Round)
	assert.Equal(t, "40000000000000000", got.Data.Amount.String())
	assert.Equal(t, hdr.Get(HeaderDelivery), got.ID)

	stored, err := store.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastSuccess)
	assert.Zero(t, stored.ConsecutiveFailures)
}

func TestDispatcher_SkipsUnsubscribedEvents(t *testing.T) {
	rec, srv := newReceiver(t)
	d := newTestDispatcher(NewMemoryStore())
	_, err := d.Subscribe(context.Background(), srv.URL, "s", []raffle.EventType{raffle.EventEntered})
	require.NoError(t, err)

	n, err := d.Deliver(context.Background(), winnerEvent())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, rec.count())
}

func TestDispatcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := newTestDispatcher(NewMemoryStore())
	_, err := d.Subscribe(context.Background(), srv.URL, "s", nil)
	require.NoError(t, err)

	n, err := d.Deliver(context.Background(), winnerEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatcher_ClientErrorIsNotRetried(t *testing.T) {
	rec, srv := newReceiver(t)
	rec.status.Store(http.StatusGone)
	store := NewMemoryStore()
	d := newTestDispatcher(store)
	sub, err := d.Subscribe(context.Background(), srv.URL, "s", nil)
	require.NoError(t, err)

	n, _ := d.Deliver(context.Background(), winnerEvent())
	assert.Zero(t, n)
	assert.Equal(t, 1, rec.count())

	stored, _ := store.Get(context.Background(), sub.ID)
	assert.Equal(t, "status 410", stored.LastError)
	assert.Equal(t, 1, stored.ConsecutiveFailures)
}

func TestDispatcher_BreakerPausesEndpoint(t *testing.T) {
	rec, srv := newReceiver(t)
	rec.status.Store(http.StatusInternalServerError)
	d := newTestDispatcher(NewMemoryStore(), WithRetry(1, time.Millisecond), WithBreaker(circuitbreaker.New(2, time.Hour)))
	_, err := d.Subscribe(context.Background(), srv.URL, "s", nil)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, _ = d.Deliver(context.Background(), winnerEvent())
	}
	assert.Equal(t, 2, rec.count(), "endpoint paused after two failures")
}

func TestDispatcher_DeactivatesAfterRepeatedFailures(t *testing.T) {
	rec, srv := newReceiver(t)
	rec.status.Store(http.StatusBadRequest)
	store := NewMemoryStore()
	d := newTestDispatcher(store, WithBreaker(circuitbreaker.New(1000, time.Hour)))
	sub, err := d.Subscribe(context.Background(), srv.URL, "s", nil)
	require.NoError(t, err)

	for i := 0; i < MaxConsecutiveFailures+2; i++ {
		_, _ = d.Deliver(context.Background(), winnerEvent())
	}
	assert.Equal(t, MaxConsecutiveFailures, rec.count())
	stored, _ := store.Get(context.Background(), sub.ID)
	assert.False(t, stored.Active)
}

func TestDispatcher_SeedIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	d := newTestDispatcher(store)
	ctx := context.Background()
	urls := []string{"https://a.example.com/h", "https://b.example.com/h"}

	require.NoError(t, d.Seed(ctx, urls, "shared"))
	require.NoError(t, d.Seed(ctx, urls, "shared"))

	subs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "shared", subs[0].Secret)
}

func TestDispatcher_PublishAndRun(t *testing.T) {
	rec, srv := newReceiver(t)
	d := newTestDispatcher(NewMemoryStore())
	_, err := d.Subscribe(context.Background(), srv.URL, "s", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	d.Publish(ctx, winnerEvent())
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestHandler_CRUD(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := NewMemoryStore()
	h := NewHandler(store, NewDispatcher(store, logging.Discard()))
	r := gin.New()
	h.RegisterProtectedRoutes(r.Group("/v1/admin"))

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			_ = json.NewEncoder(&buf).Encode(body)
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do("POST", "/v1/admin/webhooks", CreateWebhookRequest{URL: "https://hooks.example.com/r", Events: []string{"raffle.winner_picked"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Webhook Subscription `json:"webhook"`
		Secret  string       `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Len(t, created.Secret, 64)

	w = do("POST", "/v1/admin/webhooks", CreateWebhookRequest{URL: "http://localhost:9/x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_url")

	w = do("POST", "/v1/admin/webhooks", CreateWebhookRequest{URL: "https://hooks.example.com/" + strings.Repeat("a", maxURLLength)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"url"`)

	w = do("GET", "/v1/admin/webhooks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.NotContains(t, w.Body.String(), created.Secret)

	w = do("DELETE", "/v1/admin/webhooks/"+created.Webhook.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do("DELETE", "/v1/admin/webhooks/"+created.Webhook.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	d := newTestDispatcher(store)

	sub, err := d.Subscribe(ctx, "https://hooks.example.com/pg", "", []raffle.EventType{raffle.EventEntered})
	require.NoError(t, err)

	got, err := store.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.Secret, got.Secret)
	assert.Equal(t, []raffle.EventType{raffle.EventEntered}, got.Events)

	hits, err := store.ListForEvent(ctx, raffle.EventEntered)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	misses, err := store.ListForEvent(ctx, raffle.EventWinnerPicked)
	require.NoError(t, err)
	assert.Empty(t, misses)

	now := time.Now().UTC()
	got.LastSuccess = &now
	got.ConsecutiveFailures = 2
	require.NoError(t, store.Update(ctx, got))

	require.NoError(t, store.Delete(ctx, sub.ID))
	_, err = store.Get(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, sub.ID), ErrNotFound)
}
