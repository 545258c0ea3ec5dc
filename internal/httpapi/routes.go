package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/titty-skittles/Apex-Overlay/internal/broadcast"
	"github.com/titty-skittles/Apex-Overlay/internal/ingest"
	"github.com/titty-skittles/Apex-Overlay/internal/ws"
)

// IngestControl is the part of the ingest client the operator API drives.
type IngestControl interface {
	Status() ingest.ConnectionStatus
	SetTargetURL(url string) error
}

type Deps struct {
	Broadcaster      *broadcast.Broadcaster
	Ingest           IngestControl
	SubscriberBuffer int
	Logger           *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.SubscriberBuffer <= 0 {
		d.SubscriberBuffer = 16
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)

	// Streams stay open; no timeout middleware on these.
	r.Get("/sse", SSE(d.Broadcaster, d.SubscriberBuffer, d.Logger.Named("sse")))
	r.Get("/ws", ws.Handler(d.Broadcaster, ws.Options{Buffer: d.SubscriberBuffer, Logger: d.Logger.Named("ws")}))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/health", Health(d.Broadcaster, d.Ingest))
		r.Get("/model", GetModel(d.Broadcaster))

		r.Get("/ingest", GetIngest(d.Ingest))
		r.Put("/ingest", PutIngest(d.Ingest))

		r.Get("/overlay", GetOverlay(d.Broadcaster))
		r.Post("/overlay", PostOverlay(d.Broadcaster))
	})
	return r
}

// requestLogger logs one line per request after it completes.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
