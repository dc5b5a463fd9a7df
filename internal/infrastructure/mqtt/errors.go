package mqtt

import "errors"

// Sentinel errors. Wrapped errors keep these as their cause, so callers
// test with errors.Is.
var (
	ErrNotConnected     = errors.New("mqtt: not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS rejects QoS levels above 2.
	ErrInvalidQoS   = errors.New("mqtt: invalid QoS level")
	ErrInvalidTopic = errors.New("mqtt: empty topic")

	// ErrPayloadTooLarge rejects payloads over maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
