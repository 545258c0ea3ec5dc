package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/titty-skittles/Apex-Overlay/internal/rawstate"
	"github.com/titty-skittles/Apex-Overlay/internal/types"
)

// upstream is a fake scoreboard. Frames pushed on send are written to the
// current connection.
type upstream struct {
	srv      *httptest.Server
	conns    atomic.Int32
	register chan types.RegisterMessage
	send     chan string
	// closeFirst closes the first connection right after it is accepted.
	closeFirst bool
}

func newUpstream(t *testing.T, closeFirst bool) *upstream {
	t.Helper()
	u := &upstream{
		register:   make(chan types.RegisterMessage, 8),
		send:       make(chan string, 8),
		closeFirst: closeFirst,
	}
	u.srv = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) url() string { return "ws" + strings.TrimPrefix(u.srv.URL, "http") }

func (u *upstream) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	n := u.conns.Add(1)
	if u.closeFirst && n == 1 {
		conn.Close(websocket.StatusGoingAway, "restart")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var reg types.RegisterMessage
			if json.Unmarshal(data, &reg) == nil && reg.Action != "" {
				u.register <- reg
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-u.send:
			if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
	}
}

func newClient(t *testing.T, store Writer, opts Options) *Client {
	t.Helper()
	opts.Logger = zaptest.NewLogger(t)
	opts.Jitter = func() time.Duration { return 0 }
	c, err := New(store, opts)
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

func TestClient_RegistersAndApplies(t *testing.T) {
	up := newUpstream(t, false)
	store := rawstate.New()

	var notes atomic.Int32
	store.Subscribe(func(rawstate.Notification) { notes.Add(1) })

	c := newClient(t, store, Options{URL: up.url(), Paths: []string{"ScoreBoard.CurrentGame"}})
	c.Start(context.Background())

	select {
	case reg := <-up.register:
		assert.Equal(t, "Register", reg.Action)
		assert.Equal(t, []string{"ScoreBoard.CurrentGame"}, reg.Paths)
	case <-time.After(2 * time.Second):
		t.Fatal("no register message")
	}

	up.send <- `{"state":{"Clock(Jam).Number":3,"Team(1).Name":"Rollers"}}`
	require.Eventually(t, func() bool {
		v, ok := store.Get("Clock(Jam).Number")
		return ok && v == float64(3)
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return notes.Load() == 1 }, time.Second, 5*time.Millisecond,
		"one notification per message")

	up.send <- `{"Team(2).Name":"Jets"}`
	require.Eventually(t, func() bool {
		v, _ := store.Get("Team(2).Name")
		return v == "Jets"
	}, 2*time.Second, 10*time.Millisecond)

	st := c.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, PhaseOpen, st.Phase)
	assert.Equal(t, int64(2), st.Messages)
	assert.False(t, st.LastMessageAt.IsZero())
}

func TestClient_DropsNonObjectFrames(t *testing.T) {
	up := newUpstream(t, false)
	store := rawstate.New()
	c := newClient(t, store, Options{URL: up.url()})
	c.Start(context.Background())

	up.send <- `[1,2,3]`
	up.send <- `not json`
	up.send <- `{"state":5}`
	up.send <- `{"state":"x"}`
	up.send <- `{"A":1}`

	require.Eventually(t, func() bool {
		_, ok := store.Get("A")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, store.Len())
	_, ok := store.Get("state")
	assert.False(t, ok, "non-object state is dropped, not stored")
	assert.Equal(t, int32(1), up.conns.Load(), "connection kept")
}

func TestClient_ReconnectsAfterClose(t *testing.T) {
	up := newUpstream(t, true)

	var mu sync.Mutex
	var seen []StatusEvent
	c := newClient(t, rawstate.New(), Options{URL: up.url()})
	c.Events().Subscribe(func(ev StatusEvent) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})
	c.Start(context.Background())

	require.Eventually(t, func() bool {
		return up.conns.Load() >= 2 && c.Status().Connected
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.Status().Attempt)

	mu.Lock()
	defer mu.Unlock()
	var closed, reconnecting *StatusEvent
	for i := range seen {
		switch seen[i].Phase {
		case PhaseClosed:
			closed = &seen[i]
		case PhaseReconnecting:
			if reconnecting == nil {
				reconnecting = &seen[i]
			}
		}
	}
	require.NotNil(t, closed)
	assert.Equal(t, int(websocket.StatusGoingAway), closed.CloseCode)
	require.NotNil(t, reconnecting)
	assert.Equal(t, int64(250), reconnecting.WaitMs)
	assert.Equal(t, 1, reconnecting.Attempt)
}

func TestClient_StaleFlipsAndRecovers(t *testing.T) {
	up := newUpstream(t, false)
	c := newClient(t, rawstate.New(), Options{URL: up.url(), StaleAfter: 100 * time.Millisecond})

	var flips atomic.Int32
	c.Events().Subscribe(func(ev StatusEvent) {
		if ev.Stale {
			flips.Add(1)
		}
	})
	c.Start(context.Background())

	require.Eventually(t, func() bool { return c.Status().Stale }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, flips.Load(), int32(1))

	up.send <- `{"A":1}`
	require.Eventually(t, func() bool {
		st := c.Status()
		return !st.Stale && st.Messages == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClient_SetTargetURL(t *testing.T) {
	up := newUpstream(t, false)
	c := newClient(t, rawstate.New(), Options{})
	c.Start(context.Background())
	assert.Equal(t, PhaseStopped, c.Status().Phase)

	err := c.SetTargetURL("http://example.com")
	require.ErrorIs(t, err, ErrInvalidURL)
	assert.Equal(t, "", c.Status().URL)

	require.NoError(t, c.SetTargetURL("  "+up.url()+"\n"))
	require.Eventually(t, func() bool { return c.Status().Connected }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, up.url(), c.Status().URL)

	require.NoError(t, c.SetTargetURL("   "))
	st := c.Status()
	assert.Equal(t, PhaseStopped, st.Phase)
	assert.False(t, st.Connected)
	assert.Equal(t, "", st.URL)
}

type refusingDialer struct{ dials atomic.Int32 }

func (d *refusingDialer) Dial(context.Context, string) (Conn, error) {
	d.dials.Add(1)
	return nil, errors.New("connection refused")
}

func TestClient_StopDuringBackoffPreventsRedial(t *testing.T) {
	d := &refusingDialer{}
	c := newClient(t, rawstate.New(), Options{URL: "ws://scoreboard.invalid/WS", Dialer: d})
	c.Start(context.Background())

	require.Eventually(t, func() bool { return c.Status().Phase == PhaseReconnecting }, time.Second, 2*time.Millisecond)
	c.Stop()
	dials := d.dials.Load()

	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, dials, d.dials.Load())
	assert.Equal(t, PhaseStopped, c.Status().Phase)
}

func TestClient_StopIsIdempotent(t *testing.T) {
	up := newUpstream(t, false)
	c := newClient(t, rawstate.New(), Options{URL: up.url()})

	var stopped atomic.Int32
	c.Events().Subscribe(func(ev StatusEvent) {
		if ev.Phase == PhaseStopped {
			stopped.Add(1)
		}
	})
	c.Start(context.Background())
	require.Eventually(t, func() bool { return c.Status().Connected }, 2*time.Second, 10*time.Millisecond)

	c.Stop()
	c.Stop()
	assert.Equal(t, PhaseStopped, c.Status().Phase)
	assert.Equal(t, int32(1), stopped.Load())
}

func TestClient_SubscriberPanicIsContained(t *testing.T) {
	up := newUpstream(t, false)
	c := newClient(t, rawstate.New(), Options{URL: up.url()})
	c.Events().Subscribe(func(StatusEvent) { panic("boom") })

	require.NotPanics(t, func() { c.Start(context.Background()) })
	require.Eventually(t, func() bool { return c.Status().Connected }, 2*time.Second, 10*time.Millisecond)
}

func TestNew_RejectsInvalidURL(t *testing.T) {
	_, err := New(rawstate.New(), Options{URL: "ws://"})
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestBackoff(t *testing.T) {
	none := func() time.Duration { return 0 }
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 250 * time.Millisecond},
		{1, 500 * time.Millisecond},
		{3, 2 * time.Second},
		{5, 8 * time.Second},
		{6, 8 * time.Second},
		{40, 8 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Backoff(tc.attempt, none), "attempt %d", tc.attempt)
	}

	for i := 0; i < 50; i++ {
		d := Backoff(2, func() time.Duration { return time.Duration(i) * 5 * time.Millisecond })
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, time.Second+jitterMax)
	}
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("ws://localhost:8000/WS"))
	assert.NoError(t, ValidateURL("wss://scoreboard.example"))
	for _, bad := range []string{"http://x", "ws://", "localhost:8000", "::"} {
		assert.ErrorIs(t, ValidateURL(bad), ErrInvalidURL, bad)
	}
}
