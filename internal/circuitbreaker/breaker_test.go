package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int) (*Breaker, *manualClock) {
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	return New(threshold, time.Minute).WithClock(clock.Now), clock
}

func TestBreaker_UnknownKeyIsClosed(t *testing.T) {
	b, _ := newTestBreaker(3)
	assert.True(t, b.Allow("keeper-local"))
	assert.Equal(t, StateClosed, b.State("keeper-local"))
	assert.Empty(t, b.OpenKeys())
}

func TestBreaker_TripsAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("keeper-local")
	b.RecordFailure("keeper-local")
	assert.True(t, b.Allow("keeper-local"))

	b.RecordFailure("keeper-local")
	assert.False(t, b.Allow("keeper-local"))
	assert.Equal(t, StateOpen, b.State("keeper-local"))
	assert.Equal(t, []string{"keeper-local"}, b.OpenKeys())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(2)

	b.RecordFailure("k")
	b.RecordSuccess("k")
	b.RecordFailure("k")
	assert.Equal(t, StateClosed, b.State("k"))
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1)

	b.RecordFailure("hook")
	require.False(t, b.Allow("hook"))

	clock.Advance(time.Minute)
	require.True(t, b.Allow("hook"), "probe after cooldown")
	assert.Equal(t, StateHalfOpen, b.State("hook"))
	assert.False(t, b.Allow("hook"), "only one probe at a time")

	b.RecordSuccess("hook")
	assert.Equal(t, StateClosed, b.State("hook"))
	assert.True(t, b.Allow("hook"))
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(1)

	b.RecordFailure("hook")
	clock.Advance(time.Minute)
	require.True(t, b.Allow("hook"))

	b.RecordFailure("hook")
	assert.Equal(t, StateOpen, b.State("hook"))

	clock.Advance(30 * time.Second)
	assert.False(t, b.Allow("hook"), "cooldown restarts from the failed probe")
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(1)
	b.RecordFailure("k")
	require.Equal(t, StateOpen, b.State("k"))

	b.Reset("k")
	assert.Equal(t, StateClosed, b.State("k"))
	assert.True(t, b.Allow("k"))
}

func TestBreaker_KeysAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(1)
	b.RecordFailure("a")
	assert.False(t, b.Allow("a"))
	assert.True(t, b.Allow("b"))
}

func TestBreaker_OnTransition(t *testing.T) {
	b, _ := newTestBreaker(1)

	got := make(chan State, 1)
	b.OnTransition(func(_ string, _, to State) { got <- to })
	b.RecordFailure("k")

	select {
	case s := <-got:
		assert.Equal(t, StateOpen, s)
	case <-time.After(time.Second):
		t.Fatal("transition callback not fired")
	}
}

func TestBreaker_Concurrent(t *testing.T) {
	b := New(100, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Allow("k")
				b.RecordFailure("k")
				b.RecordSuccess("k")
			}
		}()
	}
	wg.Wait()
}
