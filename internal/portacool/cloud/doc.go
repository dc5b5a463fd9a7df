// Package cloud talks to the PortaCool vendor cloud on behalf of one device.
//
// Three network surfaces are involved:
//
//	┌──────────────┐  bearer   ┌───────────────────┐
//	│              │──────────►│  Vendor REST API  │  signin, devices, invoke,
//	│    Client    │           └───────────────────┘  alerts, custom token
//	│  (this pkg)  │  ?key=    ┌───────────────────┐
//	│              │──────────►│ Identity toolkit  │  custom token → idToken
//	│              │  ?auth=   ┌───────────────────┐
//	│              │──────────►│ Realtime database │  datapoints, timer
//	└──────────────┘           └───────────────────┘
//
// # Credentials
//
// Credentials owns two independently expiring tokens: the REST session
// token from username/password sign-in, and the realtime-database identity
// token derived from it. Both are treated as expired 60 seconds before
// their reported expiry. A new credential replaces the old one only after
// every step of its exchange has succeeded.
//
// # Client
//
// Client serializes every network call behind a single gate, so at most
// one request is in flight and a 401-triggered re-login cannot race
// another.
//
// # Errors
//
// Failures are categorised by ErrAuth, ErrTokenExtraction, ErrCommand and
// ErrTransport. Non-2xx responses are returned as *HTTPError, which
// unwraps to its category:
//
//	err := client.Invoke(ctx, 13, "3")
//	var httpErr *cloud.HTTPError
//	if errors.As(err, &httpErr) && httpErr.IsUnauthorized() {
//	    // credentials were rejected
//	}
//
// # Thread Safety
//
// Credentials and Client are safe for concurrent use.
package cloud
