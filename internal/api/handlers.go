package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/portacool-apex/internal/bridge"
	"github.com/nerrad567/portacool-apex/internal/portacool/coordinator"
)

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	LastUpdateSuccess     bool                      `json:"last_update_success"`
	LastSuccessAt         *time.Time                `json:"last_success_at,omitempty"`
	LastError             string                    `json:"last_error,omitempty"`
	PollIntervalSeconds   int                       `json:"poll_interval_seconds"`
	OfflineRefreshSeconds int                       `json:"offline_refresh_seconds"`
	Throttle              coordinator.ThrottleState `json:"throttle"`
	Stats                 coordinator.Stats         `json:"stats"`
	CommandsAccepted      uint64                    `json:"commands_accepted"`
	CommandsFailed        uint64                    `json:"commands_failed"`
}

// CommandResponse is returned for an accepted command.
type CommandResponse struct {
	CommandID string         `json:"command_id"`
	Status    string         `json:"status"`
	Updates   map[int]string `json:"updates,omitempty"`
}

// InvokeRequest is the body of POST /invoke.
type InvokeRequest struct {
	CommandID string          `json:"command_id,omitempty"`
	Datapoint *int            `json:"datapoint"`
	Value     json.RawMessage `json:"value"`
}

// handleHealth reports ok while the last cloud refresh succeeded.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if !s.coord.LastUpdateSuccess() {
		status = "degraded"
	}
	resp := map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.statusResponse())
}

func (s *Server) statusResponse() StatusResponse {
	resp := StatusResponse{
		LastUpdateSuccess:     s.coord.LastUpdateSuccess(),
		PollIntervalSeconds:   int(s.coord.PollInterval().Seconds()),
		OfflineRefreshSeconds: int(s.coord.OfflineRefresh().Seconds()),
		Throttle:              s.coord.Throttle(),
		Stats:                 s.coord.Stats(),
	}
	if at := s.coord.LastSuccessAt(); !at.IsZero() {
		at = at.UTC()
		resp.LastSuccessAt = &at
	}
	if err := s.coord.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	resp.CommandsAccepted, resp.CommandsFailed = s.dispatcher.Counts()
	return resp
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Snapshot())
}

func (s *Server) handleEntities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.State())
}

// handleCommand accepts the updates and entity command forms.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd bridge.CommandMessage
	if err := decodeJSON(r, &cmd); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if cmd.Form() == bridge.FormInvoke {
		writeBadRequest(w, "use /invoke for raw datapoint writes")
		return
	}
	s.dispatch(w, r, cmd)
}

// handleInvoke writes one datapoint straight through to the cloud.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Datapoint == nil {
		writeBadRequest(w, "datapoint is required")
		return
	}
	s.dispatch(w, r, bridge.CommandMessage{
		CommandID: req.CommandID,
		Datapoint: req.Datapoint,
		Value:     req.Value,
	})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, cmd bridge.CommandMessage) {
	cmd.Source = "api"
	ack := s.dispatcher.Dispatch(r.Context(), cmd)
	if ack.Accepted() {
		writeJSON(w, http.StatusAccepted, CommandResponse{
			CommandID: ack.CommandID,
			Status:    string(ack.Status),
			Updates:   ack.Updates,
		})
		return
	}

	switch ack.Error.Code {
	case bridge.ErrCodeInvalidCommand:
		writeBadRequest(w, ack.Error.Message)
	case bridge.ErrCodeInvalidValue:
		writeError(w, http.StatusBadRequest, ErrCodeInvalidValue, ack.Error.Message)
	default:
		writeError(w, http.StatusBadGateway, ErrCodeCommandFailed, ack.Error.Message)
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.coord.RequestRefresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is disabled")
		return
	}
	limit, ok := historyLimit(w, r)
	if !ok {
		return
	}
	entries, err := s.history.ListCommands(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing command history failed", "error", err)
		writeInternalError(w, "failed to load command history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": entries, "count": len(entries)})
}

func (s *Server) handleSnapshotHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is disabled")
		return
	}
	limit, ok := historyLimit(w, r)
	if !ok {
		return
	}
	entries, err := s.history.ListSnapshots(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing snapshot history failed", "error", err)
		writeInternalError(w, "failed to load snapshot history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": entries, "count": len(entries)})
}

// historyLimit parses ?limit=, writing a 400 when it is invalid.
func historyLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		writeBadRequest(w, "invalid limit")
		return 0, false
	}
	if limit > maxHistoryLimit {
		writeBadRequest(w, "limit exceeds maximum")
		return 0, false
	}
	return limit, true
}
