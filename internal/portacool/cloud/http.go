package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/portacool-apex/internal/infrastructure/config"
)

const (
	// defaultRequestTimeout applies when no http.Client is supplied.
	defaultRequestTimeout = 20 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 4 << 20
)

// Endpoints holds every URL the bridge talks to.
type Endpoints struct {
	APIBase         string
	Signin          string
	Devices         string
	Invoke          string
	Alerts          string
	CustomToken     string
	IdentityToolkit string
	RealtimeDB      string
}

// EndpointsFromConfig builds Endpoints from the cloud section of config.yaml.
func EndpointsFromConfig(cfg config.CloudConfig) Endpoints {
	return Endpoints{
		APIBase:         cfg.APIBase,
		Signin:          cfg.SigninPath,
		Devices:         cfg.DevicesPath,
		Invoke:          cfg.InvokePath,
		Alerts:          cfg.AlertsPath,
		CustomToken:     cfg.CustomTokenPath,
		IdentityToolkit: cfg.IdentityToolkitURL,
		RealtimeDB:      cfg.RealtimeDBURL,
	}
}

// api joins a REST path onto the API base.
func (e Endpoints) api(path string) string {
	return strings.TrimRight(e.APIBase, "/") + path
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultRequestTimeout}
}

// send performs one HTTP exchange. payload, when non-nil, is sent as JSON.
// Network failures are wrapped with ErrTransport; HTTP statuses are left
// for the caller to judge.
func send(ctx context.Context, hc *http.Client, method, url, bearer string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, redactQuery(url), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: reading response: %w", ErrTransport, err)
	}
	return resp.StatusCode, data, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// redactQuery strips the query string, which may carry the identity
// token or API key, before a URL lands in an error message.
func redactQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
