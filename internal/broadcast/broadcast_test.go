package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/titty-skittles/Apex-Overlay/internal/overlay"
	"github.com/titty-skittles/Apex-Overlay/internal/rawstate"
	"github.com/titty-skittles/Apex-Overlay/internal/settings"
)

// helper: receive one event with a timeout so tests never hang
func recvEvent(t *testing.T, ch <-chan Event, within time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func recvNoEvent(t *testing.T, ch <-chan Event, within time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no event within %v, got %s %s", within, ev.Name, ev.Data)
	case <-time.After(within):
	}
}

func recvModel(t *testing.T, ch <-chan Event) overlay.Model {
	t.Helper()
	ev := recvEvent(t, ch, time.Second)
	require.Equal(t, EventModel, ev.Name)
	var m overlay.Model
	require.NoError(t, json.Unmarshal(ev.Data, &m))
	return m
}

type failingRepo struct{ settings.MemoryRepository }

func (*failingRepo) Save(context.Context, settings.Settings) error { return errors.New("disk full") }

func newBroadcaster(t *testing.T, store *rawstate.Store, opts Options) *Broadcaster {
	t.Helper()
	opts.Source = store
	opts.Builder = overlay.NewBuilder("")
	opts.Logger = zaptest.NewLogger(t)
	b, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	store.Subscribe(b.Listener())
	return b
}

func TestJoin_ReplaysWithoutPriorChange(t *testing.T) {
	store := rawstate.New()
	store.Set("Clock(Jam).Running", true)
	store.Set("Clock(Jam).Number", 2)
	b := newBroadcaster(t, store, Options{})

	// The listener was registered after the writes, so nothing is built yet.
	out := make(chan Event, 4)
	require.NoError(t, b.Join(context.Background(), "late", out))

	m := recvModel(t, out)
	assert.Equal(t, "Jam 2", m.StatusLabel)

	out2 := make(chan Event, 4)
	require.NoError(t, b.Join(context.Background(), "later", out2))
	assert.Equal(t, "Jam 2", recvModel(t, out2).StatusLabel)
}

func TestRebuild_SuppressesIdenticalPayload(t *testing.T) {
	store := rawstate.New()
	b := newBroadcaster(t, store, Options{})
	ctx := context.Background()

	out := make(chan Event, 8)
	require.NoError(t, b.Join(ctx, "c1", out))
	recvModel(t, out)

	store.Set("Team(1).Score", 4)
	assert.Equal(t, 4, recvModel(t, out).Teams[0].Score)

	// Changes the store but not the model.
	store.Set("Unrelated.Key", "x")
	recvNoEvent(t, out, 50*time.Millisecond)

	h, err := b.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Subscribers)
	assert.Equal(t, int64(1), h.Broadcasts)
	assert.Equal(t, int64(1), h.Suppressed)
	assert.False(t, h.LastBroadcastAt.IsZero())
}

func TestApplySettings_AlwaysBroadcasts(t *testing.T) {
	store := rawstate.New()
	b := newBroadcaster(t, store, Options{})
	ctx := context.Background()

	out := make(chan Event, 8)
	require.NoError(t, b.Join(ctx, "c1", out))
	first := recvEvent(t, out, time.Second)

	res, err := b.ApplySettings(ctx, settings.Patch{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Clients)
	again := recvEvent(t, out, time.Second)
	assert.JSONEq(t, string(first.Data), string(again.Data))

	name := "Override"
	_, err = b.ApplySettings(ctx, settings.Patch{Teams: map[string]*settings.TeamPatch{"2": {NameLong: &name}}})
	require.NoError(t, err)
	assert.Equal(t, "Override", recvModel(t, out).Teams[1].Name)

	snap, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Override", snap.Settings.Teams.Two.NameLong)
}

func TestApplySettings_InvalidLeavesStateUnchanged(t *testing.T) {
	store := rawstate.New()
	repo := settings.NewMemoryRepository(settings.Default())
	b := newBroadcaster(t, store, Options{Repo: repo})
	ctx := context.Background()

	out := make(chan Event, 8)
	require.NoError(t, b.Join(ctx, "c1", out))
	recvModel(t, out)

	bad := "red"
	_, err := b.ApplySettings(ctx, settings.Patch{Teams: map[string]*settings.TeamPatch{
		"1": {Colors: &settings.ColorsPatch{Primary: &bad}},
	}})
	require.ErrorIs(t, err, settings.ErrInvalidPatch)
	recvNoEvent(t, out, 50*time.Millisecond)

	stored, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings.Default(), stored)
}

func TestApplySettings_SaveFailureKeepsSettings(t *testing.T) {
	store := rawstate.New()
	b := newBroadcaster(t, store, Options{Repo: &failingRepo{}})
	ctx := context.Background()

	name := "X"
	_, err := b.ApplySettings(ctx, settings.Patch{Teams: map[string]*settings.TeamPatch{"1": {NameLong: &name}}})
	require.Error(t, err)

	snap, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings.Default(), snap.Settings)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	store := rawstate.New()
	b := newBroadcaster(t, store, Options{})
	ctx := context.Background()

	slow := make(chan Event, 1)
	require.NoError(t, b.Join(ctx, "slow", slow))
	fast := make(chan Event, 8)
	require.NoError(t, b.Join(ctx, "fast", fast))
	recvModel(t, fast)

	store.Set("Team(1).Score", 1)
	recvModel(t, fast)

	h, err := b.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Subscribers)

	// The replay is still buffered; after it the channel is closed.
	<-slow
	_, ok := <-slow
	assert.False(t, ok)
}

func TestPingIsDelivered(t *testing.T) {
	b := newBroadcaster(t, rawstate.New(), Options{PingInterval: 20 * time.Millisecond})
	out := make(chan Event, 8)
	require.NoError(t, b.Join(context.Background(), "c1", out))
	recvModel(t, out)

	ev := recvEvent(t, out, time.Second)
	assert.Equal(t, EventPing, ev.Name)
	assert.JSONEq(t, `{}`, string(ev.Data))
}

func TestLeaveAndShutdownCloseOutboxes(t *testing.T) {
	store := rawstate.New()
	b := newBroadcaster(t, store, Options{})
	ctx := context.Background()

	a := make(chan Event, 4)
	c := make(chan Event, 4)
	require.NoError(t, b.Join(ctx, "a", a))
	require.NoError(t, b.Join(ctx, "c", c))
	recvModel(t, a)
	recvModel(t, c)

	b.Leave("a")
	_, ok := <-a
	assert.False(t, ok)

	b.Inbox() <- Shutdown{}
	<-b.Done()
	_, ok = <-c
	assert.False(t, ok)

	_, err := b.Health(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	// Writes after shutdown must not block the store.
	store.Set("Team(1).Score", 9)
}

func TestJoinAfterCloseIsRejected(t *testing.T) {
	for i := 0; i < 200; i++ {
		b, err := New(context.Background(), Options{Source: rawstate.New()})
		require.NoError(t, err)
		b.Close()

		out := make(chan Event, 4)
		require.ErrorIs(t, b.Join(context.Background(), "late", out), ErrClosed)
	}
}

// Joins racing with Close either fail or get their outbox closed.
func TestJoinRacingCloseNeverStrandsOutbox(t *testing.T) {
	for i := 0; i < 50; i++ {
		b, err := New(context.Background(), Options{Source: rawstate.New()})
		require.NoError(t, err)

		var wg sync.WaitGroup
		outs := make([]chan Event, 8)
		errs := make([]error, len(outs))
		for j := range outs {
			outs[j] = make(chan Event, 4)
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[j] = b.Join(context.Background(), "c"+string(rune('a'+j)), outs[j])
			}()
		}
		b.Close()
		wg.Wait()

		for j, out := range outs {
			if errs[j] != nil {
				continue
			}
			closed := false
			deadline := time.After(time.Second)
			for !closed {
				select {
				case _, ok := <-out:
					closed = !ok
				case <-deadline:
					t.Fatalf("outbox %d accepted but never closed", j)
				}
			}
		}
	}
}

func TestDuplicateJoinClosesPreviousOutbox(t *testing.T) {
	b := newBroadcaster(t, rawstate.New(), Options{})
	ctx := context.Background()

	first := make(chan Event, 4)
	require.NoError(t, b.Join(ctx, "dup", first))
	recvModel(t, first)

	second := make(chan Event, 4)
	require.NoError(t, b.Join(ctx, "dup", second))
	recvModel(t, second)

	_, ok := <-first
	assert.False(t, ok)

	h, err := b.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Subscribers)
}
