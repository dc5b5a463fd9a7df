package api

import (
	"fmt"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/portacool-apex/internal/portacool/coordinator"
)

// Redacted replaces secret values in diagnostics output.
const Redacted = "**REDACTED**"

// redactKeys are the configuration keys never returned by diagnostics.
var redactKeys = map[string]bool{
	"password":         true,
	"access_token":     true,
	"refresh_token":    true,
	"identity_api_key": true,
	"token":            true,
}

// minPollInterval is the shortest poll interval the options endpoint accepts.
const minPollInterval = 5 * time.Second

// OptionsRequest is the body of PUT /options. Absent fields are unchanged.
type OptionsRequest struct {
	IdentityAPIKey        *string `json:"identity_api_key,omitempty"`
	PollIntervalSeconds   *int    `json:"poll_interval_seconds,omitempty"`
	OfflineRefreshSeconds *int    `json:"offline_refresh_seconds,omitempty"`
}

// OptionsResponse reports the options in effect after an update.
type OptionsResponse struct {
	PollIntervalSeconds   int  `json:"poll_interval_seconds"`
	OfflineRefreshSeconds int  `json:"offline_refresh_seconds"`
	IdentityKeyChanged    bool `json:"identity_key_changed"`
}

// DiagnosticsDevice identifies the device without exposing its full id.
type DiagnosticsDevice struct {
	Name         string `json:"name"`
	Model        string `json:"model,omitempty"`
	DeviceID     string `json:"device_id"`
	DeviceTypeID int    `json:"device_type_id"`
}

// DiagnosticsAuth holds credential expiry times. Zero times are omitted.
type DiagnosticsAuth struct {
	SessionExpiresAt  *time.Time `json:"session_expires_at,omitempty"`
	IdentityExpiresAt *time.Time `json:"identity_expires_at,omitempty"`
}

// Diagnostics is returned by GET /diagnostics.
type Diagnostics struct {
	Version     string                `json:"version"`
	Device      DiagnosticsDevice     `json:"device"`
	Auth        DiagnosticsAuth       `json:"auth"`
	Coordinator StatusResponse        `json:"coordinator"`
	Snapshot    *coordinator.Snapshot `json:"snapshot"`
	Config      map[string]any        `json:"config,omitempty"`
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	var req OptionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	var poll, offline time.Duration
	if req.PollIntervalSeconds != nil {
		poll = time.Duration(*req.PollIntervalSeconds) * time.Second
		if poll < minPollInterval {
			writeBadRequest(w, fmt.Sprintf("poll_interval_seconds must be at least %d", int(minPollInterval.Seconds())))
			return
		}
	}
	if req.OfflineRefreshSeconds != nil {
		offline = time.Duration(*req.OfflineRefreshSeconds) * time.Second
		if offline <= 0 {
			writeBadRequest(w, "offline_refresh_seconds must be positive")
			return
		}
	}
	if req.IdentityAPIKey != nil && s.creds == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "credentials are not configurable")
		return
	}

	s.coord.SetIntervals(poll, offline)

	resp := OptionsResponse{
		PollIntervalSeconds:   int(s.coord.PollInterval().Seconds()),
		OfflineRefreshSeconds: int(s.coord.OfflineRefresh().Seconds()),
	}
	if req.IdentityAPIKey != nil {
		resp.IdentityKeyChanged = s.creds.SetIdentityAPIKey(*req.IdentityAPIKey)
	}
	s.logger.Info("options updated",
		"poll_interval_seconds", resp.PollIntervalSeconds,
		"offline_refresh_seconds", resp.OfflineRefreshSeconds,
		"identity_key_changed", resp.IdentityKeyChanged,
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	diag := Diagnostics{
		Version:     s.version,
		Coordinator: s.statusResponse(),
		Snapshot:    s.coord.Snapshot(),
	}

	if s.appCfg != nil {
		dev := s.appCfg.Device
		diag.Device = DiagnosticsDevice{
			Name:         dev.Name,
			Model:        dev.Model,
			DeviceID:     truncateID(dev.UniqueID),
			DeviceTypeID: dev.DeviceTypeID,
		}
		cfg, err := redactedConfig(s.appCfg)
		if err != nil {
			s.logger.Error("rendering diagnostics config failed", "error", err)
			writeInternalError(w, "failed to render diagnostics")
			return
		}
		if device, ok := cfg["device"].(map[string]any); ok {
			device["unique_id"] = truncateID(dev.UniqueID)
		}
		diag.Config = cfg
	}

	if s.creds != nil {
		session, identity := s.creds.Expiry()
		diag.Auth.SessionExpiresAt = nonZeroTime(session)
		diag.Auth.IdentityExpiresAt = nonZeroTime(identity)
	}

	writeJSON(w, http.StatusOK, diag)
}

// truncateID keeps the first six characters of a device id.
func truncateID(id string) string {
	r := []rune(id)
	if len(r) > 6 {
		r = r[:6]
	}
	return string(r) + "…"
}

func nonZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

// redactedConfig renders v through its YAML tags and replaces every
// secret value with Redacted.
func redactedConfig(v any) (map[string]any, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	redact(out)
	return out, nil
}

func redact(m map[string]any) {
	for k, v := range m {
		if redactKeys[k] {
			m[k] = Redacted
			continue
		}
		switch child := v.(type) {
		case map[string]any:
			redact(child)
		case []any:
			for _, item := range child {
				if cm, ok := item.(map[string]any); ok {
					redact(cm)
				}
			}
		}
	}
}
