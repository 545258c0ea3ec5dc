// Package ingest keeps one live connection to the scoreboard and writes
// every received frame into the raw store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/titty-skittles/Apex-Overlay/internal/event"
	"github.com/titty-skittles/Apex-Overlay/internal/rawstate"
	"github.com/titty-skittles/Apex-Overlay/internal/types"
)

// Writer receives one upstream message at a time.
type Writer interface {
	Apply(values map[string]any, maxDepth int)
}

type Options struct {
	URL        string
	Paths      []string
	StaleAfter time.Duration
	MaxDepth   int
	Dialer     Dialer
	Jitter     func() time.Duration
	Logger     *zap.Logger
}

type Client struct {
	opts   Options
	store  Writer
	log    *zap.Logger
	events *event.Bus[StatusEvent]

	// life serializes Start, Stop and SetTargetURL.
	life    sync.Mutex
	parent  context.Context
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	status ConnectionStatus
}

func New(store Writer, opts Options) (*Client, error) {
	opts.URL = strings.TrimSpace(opts.URL)
	if opts.URL != "" {
		if err := ValidateURL(opts.URL); err != nil {
			return nil, err
		}
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Second
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = rawstate.DefaultMaxDepth
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Jitter == nil {
		opts.Jitter = func() time.Duration { return rand.N(jitterMax) }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Client{
		opts:   opts,
		store:  store,
		log:    opts.Logger,
		events: event.NewBus[StatusEvent](),
		status: ConnectionStatus{URL: opts.URL, Phase: PhaseStarting},
	}
	c.events.OnPanic = func(r any) {
		c.log.Error("status subscriber panicked", zap.Any("panic", r))
	}
	return c, nil
}

// Events exposes status transitions. Handlers run on the client goroutine.
func (c *Client) Events() *event.Bus[StatusEvent] { return c.events }

func (c *Client) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Start binds the client to ctx and connects if a URL is set. Calling it
// again tears the current connection down first.
func (c *Client) Start(ctx context.Context) {
	c.life.Lock()
	defer c.life.Unlock()

	c.halt()
	c.parent = ctx
	c.started = true
	c.launch(c.Status().URL)
}

// Stop cancels the connection goroutine and waits for it to exit.
func (c *Client) Stop() {
	c.life.Lock()
	defer c.life.Unlock()

	c.halt()
	c.started = false
	c.markStopped()
}

// SetTargetURL retargets the client. A blank url stops it; an invalid one
// returns ErrInvalidURL and changes nothing.
func (c *Client) SetTargetURL(url string) error {
	url = strings.TrimSpace(url)
	if url != "" {
		if err := ValidateURL(url); err != nil {
			return err
		}
	}

	c.life.Lock()
	defer c.life.Unlock()

	c.halt()
	c.mu.Lock()
	c.status.URL = url
	c.mu.Unlock()
	c.launch(url)
	return nil
}

// halt stops the running goroutine, if any. Caller holds life.
func (c *Client) halt() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel, c.done = nil, nil
}

// launch starts a fresh connection cycle. Caller holds life.
func (c *Client) launch(url string) {
	c.mu.Lock()
	c.status.Attempt = 0
	c.status.Connected = false
	c.status.Stale = false
	c.mu.Unlock()

	if !c.started || url == "" {
		c.markStopped()
		return
	}

	ctx, cancel := context.WithCancel(c.parent)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, url, c.done)
}

func (c *Client) markStopped() {
	var ev StatusEvent
	c.mu.Lock()
	changed := c.status.Phase != PhaseStopped
	c.status.Phase = PhaseStopped
	c.status.Connected = false
	c.status.Stale = false
	ev.ConnectionStatus = c.status
	c.mu.Unlock()

	if changed {
		c.events.Publish(ev)
	}
}

// update mutates the status under lock and publishes the result.
func (c *Client) update(fn func(s *ConnectionStatus, ev *StatusEvent)) {
	var ev StatusEvent
	c.mu.Lock()
	fn(&c.status, &ev)
	ev.ConnectionStatus = c.status
	c.mu.Unlock()
	c.events.Publish(ev)
}

func (c *Client) run(ctx context.Context, url string, done chan struct{}) {
	defer close(done)
	log := c.log.With(zap.String("url", url))

	attempt := 0
	for {
		c.update(func(s *ConnectionStatus, _ *StatusEvent) {
			s.Phase = PhaseConnecting
			s.Attempt = attempt
		})

		conn, err := c.opts.Dialer.Dial(ctx, url)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			log.Warn("ingest dial failed", zap.Error(err), zap.Int("attempt", attempt))
			c.fail(err)
		} else {
			attempt = 0
			log.Info("ingest connected")
			err = c.session(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			log.Warn("ingest connection lost", zap.Error(err))
			if code := closeCode(err); code != 0 {
				c.closed(code)
			} else {
				c.fail(err)
			}
		}

		wait := Backoff(attempt, c.opts.Jitter)
		attempt++
		c.update(func(s *ConnectionStatus, ev *StatusEvent) {
			s.Phase = PhaseReconnecting
			s.Attempt = attempt
			ev.WaitMs = wait.Milliseconds()
		})

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Client) fail(err error) {
	c.update(func(s *ConnectionStatus, ev *StatusEvent) {
		s.Phase = PhaseError
		s.Connected = false
		s.Stale = false
		s.LastError = err.Error()
		s.LastErrorAt = time.Now()
		ev.Error = err.Error()
	})
}

func (c *Client) closed(code int) {
	c.update(func(s *ConnectionStatus, ev *StatusEvent) {
		s.Phase = PhaseClosed
		s.Connected = false
		s.Stale = false
		s.LastCloseCode = code
		s.LastCloseAt = time.Now()
		ev.CloseCode = code
	})
}

// session drives one open connection until it fails or ctx ends.
func (c *Client) session(ctx context.Context, conn Conn) error {
	sctx, cancel := context.WithCancel(ctx)
	frames := make(chan []byte)
	errc := make(chan error, 1)
	readerDone := make(chan struct{})
	defer func() {
		cancel()
		_ = conn.Close()
		<-readerDone
	}()

	c.update(func(s *ConnectionStatus, _ *StatusEvent) {
		s.Phase = PhaseOpen
		s.Connected = true
		s.Attempt = 0
		s.Stale = false
	})

	if len(c.opts.Paths) > 0 {
		payload, err := json.Marshal(types.RegisterMessage{Action: types.ActionRegister, Paths: c.opts.Paths})
		if err != nil {
			close(readerDone)
			return err
		}
		if err := conn.Write(sctx, payload); err != nil {
			close(readerDone)
			return err
		}
	}

	go func() {
		defer close(readerDone)
		for {
			data, err := conn.Read(sctx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case frames <- data:
			case <-sctx.Done():
				return
			}
		}
	}()

	stale := time.NewTimer(c.opts.StaleAfter)
	defer stale.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if err == nil {
				err = errors.New("connection closed")
			}
			return err
		case data := <-frames:
			c.handle(data)
			stale.Reset(c.opts.StaleAfter)
		case <-stale.C:
			c.log.Warn("ingest stale", zap.Duration("after", c.opts.StaleAfter))
			c.update(func(s *ConnectionStatus, _ *StatusEvent) { s.Stale = true })
		}
	}
}

// handle applies one frame. Frames that are not JSON objects are dropped;
// the connection stays up.
func (c *Client) handle(data []byte) {
	var frame any
	if err := json.Unmarshal(data, &frame); err != nil {
		c.log.Debug("dropping unparseable frame", zap.Error(err), zap.Int("bytes", len(data)))
		c.touch()
		return
	}
	values, ok := frame.(map[string]any)
	if !ok {
		c.log.Debug("dropping non-object frame")
		c.touch()
		return
	}
	if st, present := values["state"]; present && st != nil {
		inner, ok := st.(map[string]any)
		if !ok {
			c.log.Debug("dropping frame with non-object state")
			c.touch()
			return
		}
		values = inner
	}

	c.store.Apply(values, c.opts.MaxDepth)
	c.touch()
}

// touch marks the connection fresh and counts the frame.
func (c *Client) touch() {
	var ev StatusEvent
	c.mu.Lock()
	wasStale := c.status.Stale
	c.status.Stale = false
	c.status.LastMessageAt = time.Now()
	c.status.Messages++
	ev.ConnectionStatus = c.status
	c.mu.Unlock()

	if wasStale {
		c.log.Info("ingest fresh again")
		c.events.Publish(ev)
	}
}
