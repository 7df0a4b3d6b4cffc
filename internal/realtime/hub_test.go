package realtime

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/raffle/internal/logging"
	"github.com/mbd888/raffle/internal/raffle"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func entered(player common.Address, wei int64) raffle.Event {
	return raffle.Event{
		Type:   raffle.EventEntered,
		Round:  1,
		Player: &player,
		Amount: big.NewInt(wei),
		At:     time.Unix(1_700_000_000, 0).UTC(),
	}
}

func startHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	h := NewHub(logging.Discard(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func attach(t *testing.T, h *Hub, sub Subscription) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan []byte, sendBuffer)}
	c.setSubscription(sub)
	h.register <- c
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) >= 1 }, time.Second, 5*time.Millisecond)
	return c
}

func TestFilter_Matches(t *testing.T) {
	winner := raffle.Event{Type: raffle.EventWinnerPicked, Player: &bob, Amount: big.NewInt(5e16)}
	requested := raffle.Event{Type: raffle.EventRequestedWinner, RequestID: big.NewInt(1)}

	tests := []struct {
		name string
		sub  Subscription
		ev   raffle.Event
		want bool
	}{
		{"all", Subscription{AllEvents: true}, requested, true},
		{"empty matches everything", Subscription{}, entered(alice, 1), true},
		{"type hit", Subscription{EventTypes: []raffle.EventType{raffle.EventWinnerPicked}}, winner, true},
		{"type miss", Subscription{EventTypes: []raffle.EventType{raffle.EventWinnerPicked}}, entered(alice, 1), false},
		{"player hit, mixed case", Subscription{Players: []string{strings.ToUpper(alice.Hex()[2:])}}, entered(alice, 1), true},
		{"player miss", Subscription{Players: []string{alice.Hex()}}, entered(bob, 1), false},
		{"player filter ignores events without player", Subscription{Players: []string{alice.Hex()}}, requested, true},
		{"amount below", Subscription{MinAmountWei: "20000000000000000"}, entered(alice, 1e16), false},
		{"amount at", Subscription{MinAmountWei: "10000000000000000"}, entered(alice, 1e16), true},
		{"bad amount ignored", Subscription{MinAmountWei: "lots"}, entered(alice, 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.compile().matches(tt.ev))
		})
	}
}

func TestHub_PublishToClient(t *testing.T) {
	h := startHub(t)
	c := attach(t, h, Subscription{AllEvents: true})

	h.Publish(context.Background(), entered(alice, 1e16))

	select {
	case msg := <-c.send:
		var got struct {
			Type raffle.EventType `json:"type"`
			Data raffle.Event     `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg, &got))
		assert.Equal(t, raffle.EventEntered, got.Type)
		require.NotNil(t, got.Data.Player)
		assert.Equal(t, alice, *got.Data.Player)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	stats := h.Stats()
	assert.Equal(t, int64(1), stats["totalEvents"])
	assert.Equal(t, int64(1), stats["peakClients"])
}

func TestHub_FilteredPublish(t *testing.T) {
	h := startHub(t)
	c := attach(t, h, Subscription{EventTypes: []raffle.EventType{raffle.EventWinnerPicked}})

	h.Publish(context.Background(), entered(alice, 1))
	h.Publish(context.Background(), raffle.Event{Type: raffle.EventWinnerPicked, Player: &alice})

	select {
	case msg := <-c.send:
		assert.Contains(t, string(msg), string(raffle.EventWinnerPicked))
	case <-time.After(time.Second):
		t.Fatal("winner event not delivered")
	}
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_Unregister(t *testing.T) {
	h := startHub(t)
	c := attach(t, h, Subscription{AllEvents: true})

	h.unregister <- c
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-c.send
	assert.False(t, open)
	assert.Equal(t, int64(1), h.Stats()["peakClients"])
}

func TestHub_StopsOnCancel(t *testing.T) {
	h := NewHub(logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, 503, w.Code)
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := startHub(t, WithGreeting(func() any { return map[string]any{"round": 1} }))
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var greeting Message
	require.NoError(t, conn.ReadJSON(&greeting))
	assert.Equal(t, EventSnapshot, greeting.Type)

	require.NoError(t, conn.WriteJSON(Subscription{Players: []string{bob.Hex()}}))
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) == 1 }, time.Second, 5*time.Millisecond)
	// give readPump a moment to apply the subscription
	time.Sleep(50 * time.Millisecond)

	h.Publish(context.Background(), entered(alice, 1))
	h.Publish(context.Background(), entered(bob, 2))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, raffle.EventEntered, msg.Type)
	data, _ := json.Marshal(msg.Data)
	assert.Contains(t, strings.ToLower(string(data)), strings.ToLower(bob.Hex()))
}

func TestHub_MaxClients(t *testing.T) {
	h := startHub(t, WithMaxClients(1))
	attach(t, h, Subscription{})

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, 503, w.Code)
}
