package cloud

import (
	"context"
	"errors"
)

// Setup error classifications, as shown to the user during first-run setup.
const (
	SetupInvalidAuth    = "invalid_auth"
	SetupCannotConnect  = "cannot_connect"
	SetupNoDevicesFound = "no_devices_found"
	SetupUnknown        = "unknown"
)

// defaultDeviceName is used when the device list omits a name.
const defaultDeviceName = "PortaCool APEX"

// DeviceLister lists the devices on an account.
type DeviceLister interface {
	DiscoverDevices(ctx context.Context) ([]DeviceDescriptor, error)
}

// SetupResult is the device selected during setup.
type SetupResult struct {
	Device DeviceDescriptor
	Title  string
}

// Setup discovers the account's devices and selects the first one.
func Setup(ctx context.Context, lister DeviceLister) (*SetupResult, error) {
	devices, err := lister.DiscoverDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}

	d := devices[0]
	name := d.DeviceName
	if name == "" {
		name = defaultDeviceName
		d.DeviceName = name
	}
	title := name
	if d.ModelNumber != "" {
		title = name + " (" + d.ModelNumber + ")"
	}
	return &SetupResult{Device: d, Title: title}, nil
}

// ClassifySetupError maps a setup failure to a user-facing reason.
// Rejected credentials are invalid_auth, other HTTP and network failures
// are cannot_connect, and anything else is unknown.
func ClassifySetupError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoDevicesFound) {
		return SetupNoDevicesFound
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.IsUnauthorized() {
			return SetupInvalidAuth
		}
		return SetupCannotConnect
	}
	if errors.Is(err, ErrTransport) {
		return SetupCannotConnect
	}
	return SetupUnknown
}
