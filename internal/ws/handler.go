package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/titty-skittles/Apex-Overlay/internal/broadcast"
	"github.com/titty-skittles/Apex-Overlay/internal/types"
)

const writeTimeout = 3 * time.Second

type Options struct {
	Buffer         int
	OriginPatterns []string
	Logger         *zap.Logger
}

// Handler streams model and ping frames to a WebSocket subscriber. Inbound
// frames are read only to notice the close.
func Handler(b *broadcast.Broadcaster, opts Options) http.HandlerFunc {
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan broadcast.Event, opts.Buffer)
		clientID := "ws-" + randID()
		if err := b.Join(ctx, clientID, out); err != nil {
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		}
		defer b.Leave(clientID)
		log.Debug("subscriber joined", zap.String("client", clientID))

		// Reader loop: CloseRead discards inbound frames and cancels on close.
		ctx = conn.CloseRead(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-out:
				if !ok {
					// Dropped as slow, or the broadcaster shut down.
					conn.Close(websocket.StatusTryAgainLater, "dropped")
					return
				}
				if err := write(ctx, conn, ev); err != nil {
					log.Debug("subscriber write failed", zap.String("client", clientID), zap.Error(err))
					return
				}
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, ev broadcast.Event) error {
	msg := types.ServerMessage{Type: ev.Name}
	if ev.Name == broadcast.EventModel {
		msg.Model = ev.Data
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

func randID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
