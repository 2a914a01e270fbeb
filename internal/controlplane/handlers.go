package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/erauner12/syncwatch/internal/store"
	"github.com/erauner12/syncwatch/internal/synccore"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Pool.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSyncState(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{"state": string(s.pump.State())})
}

// handleSyncNow runs one maintenance tick synchronously and reports
// whether it succeeded, for an explicit operator-triggered sync.
func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if err := s.maintenance.Tick(r.Context()); err != nil {
		log.Error().Err(err).Msg("controlplane: sync-now tick failed")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "synced"})
}

// handleWipe destructively resets the schema.
func (s *Server) handleWipe(w http.ResponseWriter, r *http.Request) {
	if err := s.store.WipeAndRecreate(r.Context()); err != nil {
		log.Error().Err(err).Msg("controlplane: wipe failed")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "wiped"})
}

// handleGetSettings returns the singleton UI-preference record.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := (store.Settings{}).Get(r.Context(), s.store.Pool)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(settings)
}

// handlePutSettings writes a local settings change; the
// pump picks up the resulting dirty flag on its next drain.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var f synccore.SettingsFields
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	if err := s.core.UpdateSettings(r.Context(), f); err != nil {
		log.Error().Err(err).Msg("controlplane: update settings failed")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStreamTasks exposes the store's reactive list_active()
// observation to a websocket client, one JSON array per
// emission.
func (s *Server) handleStreamTasks(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("controlplane: websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	for tasks := range s.store.Watch(ctx) {
		data, err := json.Marshal(tasks)
		if err != nil {
			log.Error().Err(err).Msg("controlplane: failed to marshal task stream frame")
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "done")
			return
		}
	}
}
