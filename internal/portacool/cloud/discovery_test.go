package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type stubLister struct {
	devices []DeviceDescriptor
	err     error
}

func (s stubLister) DiscoverDevices(context.Context) ([]DeviceDescriptor, error) {
	return s.devices, s.err
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name      string
		devices   []DeviceDescriptor
		wantID    string
		wantTitle string
	}{
		{
			name: "first device with model",
			devices: []DeviceDescriptor{
				{UniqueID: "A1", DeviceName: "Shop Cooler", ModelNumber: "APEX 700"},
				{UniqueID: "B2", DeviceName: "Other"},
			},
			wantID:    "A1",
			wantTitle: "Shop Cooler (APEX 700)",
		},
		{
			name:      "no model",
			devices:   []DeviceDescriptor{{UniqueID: "A1", DeviceName: "Patio"}},
			wantID:    "A1",
			wantTitle: "Patio",
		},
		{
			name:      "default name",
			devices:   []DeviceDescriptor{{UniqueID: "A1", ModelNumber: "APEX 500"}},
			wantID:    "A1",
			wantTitle: "PortaCool APEX (APEX 500)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Setup(context.Background(), stubLister{devices: tt.devices})
			if err != nil {
				t.Fatalf("Setup() error = %v", err)
			}
			if res.Device.UniqueID != tt.wantID {
				t.Errorf("Device.UniqueID = %q, want %q", res.Device.UniqueID, tt.wantID)
			}
			if res.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", res.Title, tt.wantTitle)
			}
		})
	}
}

func TestSetup_NoDevices(t *testing.T) {
	_, err := Setup(context.Background(), stubLister{})
	if !errors.Is(err, ErrNoDevicesFound) {
		t.Fatalf("Setup() error = %v, want ErrNoDevicesFound", err)
	}
	if got := ClassifySetupError(err); got != SetupNoDevicesFound {
		t.Errorf("ClassifySetupError() = %q, want %q", got, SetupNoDevicesFound)
	}
}

func TestClassifySetupError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"401", &HTTPError{Op: "signin", StatusCode: http.StatusUnauthorized, Kind: ErrAuth}, SetupInvalidAuth},
		{"403 wrapped", fmt.Errorf("setup: %w", &HTTPError{Op: "list devices", StatusCode: 403, Kind: ErrAuth}), SetupInvalidAuth},
		{"500", &HTTPError{Op: "list devices", StatusCode: 500, Kind: ErrTransport}, SetupCannotConnect},
		{"network", fmt.Errorf("%w: dial tcp: refused", ErrTransport), SetupCannotConnect},
		{"malformed signin", fmt.Errorf("%w: no access_token", ErrAuth), SetupUnknown},
		{"other", errors.New("boom"), SetupUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifySetupError(tt.err); got != tt.want {
				t.Errorf("ClassifySetupError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetup_AgainstCloud(t *testing.T) {
	f := newFakeCloud(t, newFakeClock())
	f.devicesBody = `{"items":[{"uniqueId":"APEX9","deviceTypeId":4,"deviceName":"Barn","modelNumber":"APEX 500"}]}`
	client := newTestClient(t, f)

	res, err := Setup(context.Background(), client)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if res.Title != "Barn (APEX 500)" || res.Device.DeviceTypeID != 4 {
		t.Errorf("Setup() = %+v", res)
	}

	f2 := newFakeCloud(t, newFakeClock())
	creds, _ := NewCredentials(CredentialsOptions{
		HTTPClient: f2.server.Client(),
		Endpoints:  f2.endpoints(),
		Username:   "wrong@example.com",
		Password:   "nope",
	})
	badClient, _ := NewClient(ClientOptions{HTTPClient: f2.server.Client(), Credentials: creds, Endpoints: f2.endpoints()})
	_, err = Setup(context.Background(), badClient)
	if got := ClassifySetupError(err); got != SetupInvalidAuth {
		t.Errorf("ClassifySetupError(%v) = %q, want invalid_auth", err, got)
	}
}
