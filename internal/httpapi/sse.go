package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/titty-skittles/Apex-Overlay/internal/broadcast"
)

// SSE streams broadcaster events as text/event-stream.
func SSE(b *broadcast.Broadcaster, buffer int, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		out := make(chan broadcast.Event, buffer)
		id := "sse-" + clientID()
		if err := b.Join(r.Context(), id, out); err != nil {
			return
		}
		defer b.Leave(id)
		log.Debug("subscriber joined", zap.String("client", id))

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-out:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func clientID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
