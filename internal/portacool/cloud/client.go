package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// ClientOptions configures a device Client.
type ClientOptions struct {
	HTTPClient  *http.Client
	Credentials *Credentials
	Endpoints   Endpoints

	// UniqueID and DeviceTypeID identify the managed device. They may be
	// left empty for a discovery-only client.
	UniqueID     string
	DeviceTypeID int

	Logger Logger
}

// Client is the façade over the vendor's network surfaces for one device.
//
// Every network method holds the client gate for its whole duration, so
// at most one request is in flight and token refreshes never race.
type Client struct {
	http         *http.Client
	creds        *Credentials
	endpoints    Endpoints
	uniqueID     string
	deviceTypeID int
	logger       Logger

	gate sync.Mutex
}

// NewClient creates a device client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Credentials == nil {
		return nil, errors.New("cloud: credentials are required")
	}

	c := &Client{
		http:         opts.HTTPClient,
		creds:        opts.Credentials,
		endpoints:    opts.Endpoints,
		uniqueID:     opts.UniqueID,
		deviceTypeID: opts.DeviceTypeID,
		logger:       opts.Logger,
	}
	if c.http == nil {
		c.http = defaultHTTPClient()
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	return c, nil
}

// UniqueID returns the managed device's unique id.
func (c *Client) UniqueID() string { return c.uniqueID }

// DeviceTypeID returns the managed device's type id.
func (c *Client) DeviceTypeID() int { return c.deviceTypeID }

// Credentials returns the credential manager backing this client.
func (c *Client) Credentials() *Credentials { return c.creds }

// Invoke sets one datapoint on the device. Any failure, including a
// credential failure, is reported as ErrCommand.
func (c *Client) Invoke(ctx context.Context, datapointID int, value string) error {
	if c.uniqueID == "" {
		return fmt.Errorf("%w: %w", ErrCommand, ErrNoDevice)
	}

	c.gate.Lock()
	defer c.gate.Unlock()

	bearer, err := c.creds.SessionToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: datapoint %d: %w", ErrCommand, datapointID, err)
	}

	payload := map[string]any{
		"uniqueId":     c.uniqueID,
		"deviceTypeId": c.deviceTypeID,
		"datapointId":  datapointID,
		"value":        value,
	}
	status, _, err := send(ctx, c.http, http.MethodPost, c.endpoints.api(c.endpoints.Invoke), bearer, payload)
	if err != nil {
		return fmt.Errorf("%w: datapoint %d: %w", ErrCommand, datapointID, err)
	}
	if !isSuccess(status) {
		httpErr := &HTTPError{Op: fmt.Sprintf("invoke datapoint %d", datapointID), StatusCode: status, Kind: ErrCommand}
		if httpErr.IsUnauthorized() {
			c.creds.InvalidateSession()
		}
		return httpErr
	}

	c.logger.Debug("datapoint invoked", "datapoint", datapointID, "value", value)
	return nil
}

// DiscoverDevices lists the devices on the account. A response that does
// not carry an items list yields an empty slice, not an error.
func (c *Client) DiscoverDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	c.gate.Lock()
	defer c.gate.Unlock()

	bearer, err := c.creds.SessionToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.endpoints.api(c.endpoints.Devices) + "?page=1&pageSize=1000"
	status, body, err := send(ctx, c.http, http.MethodGet, endpoint, bearer, nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		httpErr := newHTTPError("list devices", status, ErrTransport)
		if httpErr.IsUnauthorized() {
			c.creds.InvalidateSession()
		}
		return nil, httpErr
	}

	var resp struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Warn("unexpected device list shape", "error", err)
		return []DeviceDescriptor{}, nil
	}

	devices := make([]DeviceDescriptor, 0, len(resp.Items))
	for _, item := range resp.Items {
		var m map[string]any
		if err := json.Unmarshal(item, &m); err != nil || m == nil {
			continue
		}
		devices = append(devices, descriptorFromMap(m))
	}
	return devices, nil
}

// FetchTelemetry reads the device's datapoints and timer nodes from the
// realtime database.
func (c *Client) FetchTelemetry(ctx context.Context) (map[int]string, map[string]any, error) {
	if c.uniqueID == "" {
		return nil, nil, ErrNoDevice
	}

	c.gate.Lock()
	defer c.gate.Unlock()

	identity, err := c.creds.IdentityToken(ctx)
	if err != nil {
		return nil, nil, err
	}

	dpBody, err := c.readNode(ctx, identity, "datapoints")
	if err != nil {
		return nil, nil, err
	}
	datapoints, err := parseDatapoints(dpBody)
	if err != nil {
		return nil, nil, err
	}

	timerBody, err := c.readNode(ctx, identity, "timer")
	if err != nil {
		return nil, nil, err
	}
	return datapoints, parseTimerInfo(timerBody), nil
}

// readNode GETs {rtdb}/users/{uid}/{device}/{node}.json.
func (c *Client) readNode(ctx context.Context, identity IdentityCredential, node string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/users/%s/%s/%s.json?auth=%s",
		strings.TrimRight(c.endpoints.RealtimeDB, "/"),
		url.PathEscape(identity.UID),
		url.PathEscape(c.uniqueID),
		node,
		url.QueryEscape(identity.IDToken),
	)

	status, body, err := send(ctx, c.http, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		httpErr := newHTTPError("read "+node, status, ErrTransport)
		if httpErr.IsUnauthorized() {
			c.creds.ResetIdentityToken()
		}
		return nil, httpErr
	}
	return body, nil
}

// FetchLatestAlerts returns the current alerts for the managed device, or
// an empty slice when the response has no entry for it.
func (c *Client) FetchLatestAlerts(ctx context.Context) ([]AlertRecord, error) {
	if c.uniqueID == "" {
		return nil, ErrNoDevice
	}

	c.gate.Lock()
	defer c.gate.Unlock()

	bearer, err := c.creds.SessionToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"uniqueIds": []string{c.uniqueID}}
	status, body, err := send(ctx, c.http, http.MethodPost, c.endpoints.api(c.endpoints.Alerts), bearer, payload)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		httpErr := newHTTPError("latest alerts", status, ErrTransport)
		if httpErr.IsUnauthorized() {
			c.creds.InvalidateSession()
		}
		return nil, httpErr
	}
	return parseLatestAlerts(body, c.uniqueID), nil
}
