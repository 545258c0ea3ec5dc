// Package broadcast rebuilds the overlay model on every store change and
// fans the serialized result out to subscribers.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/titty-skittles/Apex-Overlay/internal/overlay"
	"github.com/titty-skittles/Apex-Overlay/internal/rawstate"
	"github.com/titty-skittles/Apex-Overlay/internal/settings"
	pubtypes "github.com/titty-skittles/Apex-Overlay/pkg/types"
)

var ErrClosed = errors.New("broadcast: closed")

const (
	EventModel = pubtypes.EventModel
	EventPing  = pubtypes.EventPing
)

// Event is one frame for a subscriber. Data is JSON.
type Event struct {
	Name string
	Data []byte
}

type Msg interface{ isBroadcastMsg() }

type Join struct {
	ClientID string
	Outbox   chan Event // closed by the broadcaster on Leave, drop or shutdown
}

func (Join) isBroadcastMsg() {}

type Leave struct{ ClientID string }

func (Leave) isBroadcastMsg() {}

// Rebuild re-derives the model. Done, if set, is closed once any resulting
// broadcast has been queued.
type Rebuild struct{ Done chan struct{} }

func (Rebuild) isBroadcastMsg() {}

type ApplySettings struct {
	Patch settings.Patch
	Reply chan SettingsResult
}

func (ApplySettings) isBroadcastMsg() {}

type SettingsResult struct {
	Settings settings.Settings
	Clients  int
	Err      error
}

type GetHealth struct{ Reply chan Health }

func (GetHealth) isBroadcastMsg() {}

type GetSnapshot struct{ Reply chan Snapshot }

func (GetSnapshot) isBroadcastMsg() {}

type Shutdown struct{}

func (Shutdown) isBroadcastMsg() {}

type Health struct {
	Subscribers     int       `json:"subscribers"`
	LastBroadcastAt time.Time `json:"lastBroadcastAt"`
	Broadcasts      int64     `json:"broadcasts"`
	Suppressed      int64     `json:"suppressed"`
}

// Snapshot is the broadcaster's current view. Payload is nil until the
// first model has been built.
type Snapshot struct {
	Payload  []byte
	Settings settings.Settings
	Clients  int
}

type Options struct {
	Source       overlay.Source
	Builder      overlay.Builder
	Repo         settings.Repository
	PingInterval time.Duration
	Logger       *zap.Logger
}

type Broadcaster struct {
	inbox   chan Msg
	src     overlay.Source
	builder overlay.Builder
	repo    settings.Repository
	ping    time.Duration
	log     *zap.Logger

	settings settings.Settings
	last     []byte
	clients  map[string]chan Event
	health   Health

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// closeMu guards closed. post holds it shared while sending so the
	// drain in shutdown sees every message that made it into the inbox.
	closeMu sync.RWMutex
	closed  bool
}

// New loads the persisted settings and starts the broadcaster loop.
func New(parent context.Context, opts Options) (*Broadcaster, error) {
	if opts.Repo == nil {
		opts.Repo = settings.NewMemoryRepository(settings.Default())
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Builder == (overlay.Builder{}) {
		opts.Builder = overlay.NewBuilder(overlay.DefaultPrefix)
	}

	initial, err := opts.Repo.Load(parent)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	b := &Broadcaster{
		inbox:    make(chan Msg, 64),
		src:      opts.Source,
		builder:  opts.Builder,
		repo:     opts.Repo,
		ping:     opts.PingInterval,
		log:      opts.Logger,
		settings: initial,
		clients:  make(map[string]chan Event),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go b.loop()
	return b, nil
}

func (b *Broadcaster) loop() {
	defer close(b.done)

	var tick <-chan time.Time
	if b.ping > 0 {
		t := time.NewTicker(b.ping)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-b.ctx.Done():
			b.shutdown()
			return

		case <-tick:
			b.broadcast(Event{Name: EventPing, Data: []byte("{}")})

		case m := <-b.inbox:
			switch msg := m.(type) {
			case Join:
				if old, ok := b.clients[msg.ClientID]; ok && old != msg.Outbox {
					close(old)
				}
				b.clients[msg.ClientID] = msg.Outbox
				if b.last == nil {
					b.last = b.render()
				}
				b.send(msg.ClientID, msg.Outbox, Event{Name: EventModel, Data: b.last})

			case Leave:
				if ch, ok := b.clients[msg.ClientID]; ok {
					close(ch)
					delete(b.clients, msg.ClientID)
				}

			case Rebuild:
				b.rebuild(false)
				if msg.Done != nil {
					close(msg.Done)
				}

			case ApplySettings:
				msg.Reply <- b.applySettings(msg.Patch)

			case GetHealth:
				h := b.health
				h.Subscribers = len(b.clients)
				msg.Reply <- h

			case GetSnapshot:
				msg.Reply <- Snapshot{
					Payload:  bytes.Clone(b.last),
					Settings: b.settings,
					Clients:  len(b.clients),
				}

			case Shutdown:
				b.shutdown()
				return
			}
		}
	}
}

func (b *Broadcaster) render() []byte {
	payload, err := json.Marshal(b.builder.Build(b.src, b.settings))
	if err != nil {
		b.log.Error("marshal model", zap.Error(err))
		return b.last
	}
	return payload
}

// rebuild broadcasts the model unless it serializes identically to the last
// one. force skips that check.
func (b *Broadcaster) rebuild(force bool) {
	payload := b.render()
	if !force && bytes.Equal(payload, b.last) {
		b.health.Suppressed++
		return
	}
	b.last = payload
	b.health.Broadcasts++
	b.health.LastBroadcastAt = time.Now()
	b.broadcast(Event{Name: EventModel, Data: payload})
}

func (b *Broadcaster) applySettings(p settings.Patch) SettingsResult {
	if err := p.Validate(); err != nil {
		return SettingsResult{Settings: b.settings, Clients: len(b.clients), Err: err}
	}
	merged := settings.Merge(b.settings, p)
	if err := b.repo.Save(b.ctx, merged); err != nil {
		b.log.Error("persist settings", zap.Error(err))
		return SettingsResult{Settings: b.settings, Clients: len(b.clients), Err: fmt.Errorf("save settings: %w", err)}
	}
	b.settings = merged
	b.rebuild(true)
	return SettingsResult{Settings: merged, Clients: len(b.clients)}
}

func (b *Broadcaster) shutdown() {
	b.cancel()
	b.closeMu.Lock()
	b.closed = true
	b.closeMu.Unlock()

	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
	b.drain()
}

// drain settles messages queued before the broadcaster closed. Joins get
// their outbox closed so their handlers return.
func (b *Broadcaster) drain() {
	for {
		select {
		case m := <-b.inbox:
			switch msg := m.(type) {
			case Join:
				close(msg.Outbox)
			case Rebuild:
				if msg.Done != nil {
					close(msg.Done)
				}
			case ApplySettings:
				msg.Reply <- SettingsResult{Settings: b.settings, Err: ErrClosed}
			}
		default:
			return
		}
	}
}

func (b *Broadcaster) broadcast(ev Event) {
	for id, ch := range b.clients {
		b.send(id, ch, ev)
	}
}

// send drops a subscriber whose outbox is full.
func (b *Broadcaster) send(id string, ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		b.log.Info("dropping slow subscriber", zap.String("client", id))
		close(ch)
		delete(b.clients, id)
	}
}

// Inbox exposes the actor's inbox for callers that build messages directly.
func (b *Broadcaster) Inbox() chan<- Msg { return b.inbox }

// Done is closed when the loop has exited.
func (b *Broadcaster) Done() <-chan struct{} { return b.done }

func (b *Broadcaster) post(ctx context.Context, m Msg) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case b.inbox <- m:
		return nil
	case <-b.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func request[T any](ctx context.Context, b *Broadcaster, mk func(chan T) Msg) (T, error) {
	var zero T
	reply := make(chan T, 1)
	if err := b.post(ctx, mk(reply)); err != nil {
		return zero, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-b.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (b *Broadcaster) Join(ctx context.Context, clientID string, outbox chan Event) error {
	return b.post(ctx, Join{ClientID: clientID, Outbox: outbox})
}

// Leave never blocks past shutdown.
func (b *Broadcaster) Leave(clientID string) {
	_ = b.post(context.Background(), Leave{ClientID: clientID})
}

func (b *Broadcaster) Health(ctx context.Context) (Health, error) {
	return request(ctx, b, func(r chan Health) Msg { return GetHealth{Reply: r} })
}

func (b *Broadcaster) Snapshot(ctx context.Context) (Snapshot, error) {
	return request(ctx, b, func(r chan Snapshot) Msg { return GetSnapshot{Reply: r} })
}

// ApplySettings validates, merges and persists p, then pushes the model to
// every subscriber even if it did not change.
func (b *Broadcaster) ApplySettings(ctx context.Context, p settings.Patch) (SettingsResult, error) {
	res, err := request(ctx, b, func(r chan SettingsResult) Msg { return ApplySettings{Patch: p, Reply: r} })
	if err != nil {
		return res, err
	}
	return res, res.Err
}

// Rebuild queues a rebuild and waits until it has been handled.
func (b *Broadcaster) Rebuild(ctx context.Context) error {
	done := make(chan struct{})
	if err := b.post(ctx, Rebuild{Done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listener adapts the broadcaster to store notifications. It blocks the
// writer until the rebuild for that write is done, so rebuilds follow
// message order.
func (b *Broadcaster) Listener() rawstate.Listener {
	return func(rawstate.Notification) {
		_ = b.Rebuild(b.ctx)
	}
}

// Close stops the loop and closes every outbox.
func (b *Broadcaster) Close() {
	b.cancel()
	<-b.done
}
