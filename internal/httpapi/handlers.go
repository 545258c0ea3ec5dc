package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/titty-skittles/Apex-Overlay/internal/broadcast"
	"github.com/titty-skittles/Apex-Overlay/internal/ingest"
	"github.com/titty-skittles/Apex-Overlay/internal/settings"
)

const maxBody = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{err.Error()})
}

type ingestView struct {
	URL    string                  `json:"url"`
	Status ingest.ConnectionStatus `json:"status"`
}

func GetIngest(ic IngestControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := ic.Status()
		writeJSON(w, http.StatusOK, ingestView{URL: st.URL, Status: st})
	}
}

// PutIngest retargets the ingest client. An empty url stops it.
func PutIngest(ic IngestControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("bad json"))
			return
		}
		if err := ic.SetTargetURL(strings.TrimSpace(body.URL)); err != nil {
			if errors.Is(err, ingest.ErrInvalidURL) {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		st := ic.Status()
		writeJSON(w, http.StatusOK, ingestView{URL: st.URL, Status: st})
	}
}

func GetOverlay(b *broadcast.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := b.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, snap.Settings)
	}
}

func PostOverlay(b *broadcast.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		patch, err := settings.ParsePatch(data)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		res, err := b.ApplySettings(r.Context(), patch)
		switch {
		case errors.Is(err, settings.ErrInvalidPatch):
			writeError(w, http.StatusBadRequest, err)
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			OK      bool `json:"ok"`
			Clients int  `json:"clients"`
		}{true, res.Clients})
	}
}

// GetModel returns the last broadcast payload, or 204 before the first one.
func GetModel(b *broadcast.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := b.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		if snap.Payload == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(snap.Payload)
	}
}

type healthView struct {
	Subscribers          int                     `json:"subscribers"`
	Ingest               ingest.ConnectionStatus `json:"ingest"`
	Stale                bool                    `json:"stale"`
	Connected            bool                    `json:"connected"`
	LastBroadcastAt      *time.Time              `json:"lastBroadcastAt"`
	SinceLastBroadcastMs *int64                  `json:"sinceLastBroadcastMs"`
	Broadcasts           int64                   `json:"broadcasts"`
	Suppressed           int64                   `json:"suppressed"`
}

func Health(b *broadcast.Broadcaster, ic IngestControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := b.Health(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		st := ic.Status()
		v := healthView{
			Subscribers: h.Subscribers,
			Ingest:      st,
			Stale:       st.Stale,
			Connected:   st.Connected,
			Broadcasts:  h.Broadcasts,
			Suppressed:  h.Suppressed,
		}
		if !h.LastBroadcastAt.IsZero() {
			at := h.LastBroadcastAt
			since := time.Since(at).Milliseconds()
			v.LastBroadcastAt = &at
			v.SinceLastBroadcastMs = &since
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
