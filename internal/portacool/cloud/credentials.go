package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	// tokenSafetyMargin is how long before expiry a credential is treated
	// as already expired.
	tokenSafetyMargin = 60 * time.Second

	// defaultSessionLifetime applies when sign-in omits expires_in.
	defaultSessionLifetime = 3600 * time.Second
)

// CredentialsOptions configures a Credentials manager.
type CredentialsOptions struct {
	HTTPClient     *http.Client
	Endpoints      Endpoints
	Username       string
	Password       string
	IdentityAPIKey string

	// Clock returns the current time. Defaults to time.Now.
	Clock  func() time.Time
	Logger Logger
}

// Credentials owns the two token lifecycles used against the vendor cloud:
// the bearer session token from sign-in and the realtime-database identity
// token derived from it.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Concurrent callers needing a refresh share a single network exchange.
//   - A credential is replaced only after its exchange fully succeeds; a
//     cancelled or failed refresh leaves the previous value untouched.
type Credentials struct {
	http      *http.Client
	endpoints Endpoints
	username  string
	password  string
	now       func() time.Time
	logger    Logger

	mu       sync.Mutex
	apiKey   string
	session  sessionCredential
	identity *IdentityCredential
}

type sessionCredential struct {
	token     string
	expiresAt time.Time
}

// NewCredentials creates a credential manager. No network calls are made
// until a token is first requested.
func NewCredentials(opts CredentialsOptions) (*Credentials, error) {
	if opts.Username == "" || opts.Password == "" {
		return nil, errors.New("cloud: username and password are required")
	}
	if opts.Endpoints.APIBase == "" {
		return nil, errors.New("cloud: API base URL is required")
	}

	c := &Credentials{
		http:      opts.HTTPClient,
		endpoints: opts.Endpoints,
		username:  opts.Username,
		password:  opts.Password,
		apiKey:    opts.IdentityAPIKey,
		now:       opts.Clock,
		logger:    opts.Logger,
	}
	if c.http == nil {
		c.http = defaultHTTPClient()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	return c, nil
}

// SessionToken returns a bearer token valid for at least the safety margin,
// signing in again when the cached one is missing or about to expire.
func (c *Credentials) SessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionTokenLocked(ctx)
}

func (c *Credentials) sessionTokenLocked(ctx context.Context) (string, error) {
	if c.session.token != "" && c.now().Before(c.session.expiresAt.Add(-tokenSafetyMargin)) {
		return c.session.token, nil
	}

	fresh, err := c.signIn(ctx)
	if err != nil {
		return "", err
	}
	c.session = fresh
	c.logger.Info("signed in to vendor cloud", "expires_at", fresh.expiresAt)
	return fresh.token, nil
}

// signIn performs the username/password login.
func (c *Credentials) signIn(ctx context.Context) (sessionCredential, error) {
	payload := map[string]string{"username": c.username, "password": c.password}
	status, body, err := send(ctx, c.http, http.MethodPost, c.endpoints.api(c.endpoints.Signin), "", payload)
	if err != nil {
		return sessionCredential{}, err
	}
	if !isSuccess(status) {
		return sessionCredential{}, &HTTPError{Op: "signin", StatusCode: status, Kind: ErrAuth}
	}

	var resp struct {
		AccessToken string   `json:"access_token"`
		ExpiresIn   *float64 `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return sessionCredential{}, fmt.Errorf("%w: malformed signin response: %w", ErrAuth, err)
	}
	if resp.AccessToken == "" {
		return sessionCredential{}, fmt.Errorf("%w: signin response has no access_token", ErrAuth)
	}

	lifetime := defaultSessionLifetime
	if resp.ExpiresIn != nil {
		lifetime = time.Duration(*resp.ExpiresIn * float64(time.Second))
	}
	return sessionCredential{token: resp.AccessToken, expiresAt: c.now().Add(lifetime)}, nil
}

// InvalidateSession drops the cached session token. Used after the cloud
// rejects a token that had not yet reached its stated expiry.
func (c *Credentials) InvalidateSession() {
	c.mu.Lock()
	c.session = sessionCredential{}
	c.mu.Unlock()
}

// IdentityToken returns a realtime-database identity credential, deriving
// a new one when the cached credential is missing or about to expire.
//
// Derivation:
//  1. mint a custom token with the session bearer token
//  2. exchange it at the identity toolkit for an identity token
//  3. read uid and expiry from the identity token claims
func (c *Credentials) IdentityToken(ctx context.Context) (IdentityCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.identity != nil && c.now().Before(c.identity.ExpiresAt.Add(-tokenSafetyMargin)) {
		return *c.identity, nil
	}

	bearer, err := c.sessionTokenLocked(ctx)
	if err != nil {
		return IdentityCredential{}, err
	}

	customToken, err := c.mintCustomToken(ctx, bearer)
	if err != nil {
		return IdentityCredential{}, err
	}

	idToken, err := c.exchangeCustomToken(ctx, customToken)
	if err != nil {
		return IdentityCredential{}, err
	}

	cred, err := decodeIdentityToken(idToken)
	if err != nil {
		return IdentityCredential{}, err
	}

	c.identity = &cred
	c.logger.Info("derived realtime identity token", "uid", cred.UID, "expires_at", cred.ExpiresAt)
	return cred, nil
}

func (c *Credentials) mintCustomToken(ctx context.Context, bearer string) (string, error) {
	status, body, err := send(ctx, c.http, http.MethodGet, c.endpoints.api(c.endpoints.CustomToken), bearer, nil)
	if err != nil {
		return "", err
	}
	if !isSuccess(status) {
		httpErr := newHTTPError("custom token", status, ErrTransport)
		if httpErr.IsUnauthorized() {
			c.session = sessionCredential{}
		}
		return "", httpErr
	}
	return extractJWT(body)
}

func (c *Credentials) exchangeCustomToken(ctx context.Context, customToken string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: identity API key is not configured", ErrAuth)
	}

	u, err := url.Parse(c.endpoints.IdentityToolkit)
	if err != nil {
		return "", fmt.Errorf("parsing identity toolkit URL: %w", err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	payload := map[string]any{"token": customToken, "returnSecureToken": true}
	status, body, err := send(ctx, c.http, http.MethodPost, u.String(), "", payload)
	if err != nil {
		return "", err
	}
	if !isSuccess(status) {
		return "", &HTTPError{Op: "identity exchange", StatusCode: status, Kind: ErrAuth}
	}

	var resp struct {
		IDToken string `json:"idToken"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.IDToken == "" {
		return "", fmt.Errorf("%w: identity exchange response has no idToken", ErrTokenExtraction)
	}
	return resp.IDToken, nil
}

// ResetIdentityToken drops the cached identity credential so the next
// IdentityToken call derives a fresh one.
func (c *Credentials) ResetIdentityToken() {
	c.mu.Lock()
	c.identity = nil
	c.mu.Unlock()
}

// SetIdentityAPIKey replaces the identity toolkit API key. A changed key
// also resets the identity credential. Reports whether the key changed.
func (c *Credentials) SetIdentityAPIKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == c.apiKey {
		return false
	}
	c.apiKey = key
	c.identity = nil
	return true
}

// Expiry reports when the cached session and identity credentials expire.
// A zero time means no credential is cached.
func (c *Credentials) Expiry() (session, identity time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session = c.session.expiresAt
	if c.identity != nil {
		identity = c.identity.ExpiresAt
	}
	return session, identity
}
