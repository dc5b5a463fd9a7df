package cloud

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testUsername = "user@example.com"
	testPassword = "hunter2"
	testAPIKey   = "AIzaTestKey"
	testDeviceID = "APEX00112233"
	testUID      = "uid-42"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 29, 6, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type invokeCall struct {
	UniqueID     string `json:"uniqueId"`
	DeviceTypeID int    `json:"deviceTypeId"`
	DatapointID  int    `json:"datapointId"`
	Value        string `json:"value"`
}

// fakeCloud serves the vendor REST API, the identity toolkit and the
// realtime database from one httptest server. Responses are configurable
// per field; every request is counted by route.
type fakeCloud struct {
	t      *testing.T
	server *httptest.Server
	clock  *fakeClock

	mu    sync.Mutex
	calls map[string]int

	signinStatus    int
	signinBody      string // overrides the generated body when set
	expiresIn       any    // omitted when nil
	tokenSeq        int
	customStatus    int
	customBody      string
	identityStatus  int
	identityClaims  jwt.MapClaims
	identityBody    string // overrides the generated body when set
	datapointStatus int
	datapointsBody  string
	timerBody       string
	alertsStatus    int
	alertsBody      string
	devicesStatus   int
	devicesBody     string
	invokeStatus    map[int]int
	invoked         []invokeCall

	lastBearer      string
	lastIdentityKey string
	lastCustomToken string
	lastAuthQuery   string

	inflight    int
	maxInflight int
	delay       time.Duration
}

func newFakeCloud(t *testing.T, clock *fakeClock) *fakeCloud {
	t.Helper()
	f := &fakeCloud{
		t:               t,
		clock:           clock,
		calls:           make(map[string]int),
		signinStatus:    http.StatusOK,
		expiresIn:       3600,
		customStatus:    http.StatusOK,
		customBody:      `{"token":"eyJhbGciOiJSUzI1NiJ9.eyJ1aWQiOiJ4In0.c2ln"}`,
		identityStatus:  http.StatusOK,
		datapointStatus: http.StatusOK,
		datapointsBody:  `{"12":"3","13":{"value":"2"}}`,
		timerBody:       `{"TimerExpiry":"2026-01-29T06:54:30.3051500Z"}`,
		alertsStatus:    http.StatusOK,
		alertsBody:      `[]`,
		devicesStatus:   http.StatusOK,
		devicesBody:     `{"items":[]}`,
		invokeStatus:    map[int]int{},
	}
	f.identityClaims = jwt.MapClaims{
		"user_id": testUID,
		"sub":     testUID,
		"exp":     clock.Now().Add(time.Hour).Unix(),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCloud) endpoints() Endpoints {
	return Endpoints{
		APIBase:         f.server.URL,
		Signin:          "/user-api/users/signin",
		Devices:         "/device-api/devices/my",
		Invoke:          "/device-api/devices/invoke-action",
		Alerts:          "/device-api/devices/latest-alerts",
		CustomToken:     "/user-api/users/custom-token",
		IdentityToolkit: f.server.URL + "/identity/accounts:signInWithCustomToken",
		RealtimeDB:      f.server.URL + "/rtdb",
	}
}

func (f *fakeCloud) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

func (f *fakeCloud) set(fn func(f *fakeCloud)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeCloud) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	delay := f.delay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}

	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()

	if auth := r.Header.Get("Authorization"); auth != "" {
		f.lastBearer = strings.TrimPrefix(auth, "Bearer ")
	}

	path := r.URL.Path
	switch {
	case path == "/user-api/users/signin" && r.Method == http.MethodPost:
		f.calls["signin"]++
		var req map[string]string
		_ = json.Unmarshal(body, &req)
		if req["username"] != testUsername || req["password"] != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.signinStatus != http.StatusOK {
			w.WriteHeader(f.signinStatus)
			return
		}
		if f.signinBody != "" {
			_, _ = io.WriteString(w, f.signinBody)
			return
		}
		f.tokenSeq++
		resp := map[string]any{"access_token": "session-" + strconv.Itoa(f.tokenSeq)}
		if f.expiresIn != nil {
			resp["expires_in"] = f.expiresIn
		}
		_ = json.NewEncoder(w).Encode(resp)

	case path == "/user-api/users/custom-token" && r.Method == http.MethodGet:
		f.calls["custom"]++
		if f.customStatus != http.StatusOK {
			w.WriteHeader(f.customStatus)
			return
		}
		_, _ = io.WriteString(w, f.customBody)

	case strings.HasPrefix(path, "/identity/") && r.Method == http.MethodPost:
		f.calls["identity"]++
		f.lastIdentityKey = r.URL.Query().Get("key")
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		if req["returnSecureToken"] != true {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.lastCustomToken, _ = req["token"].(string)
		if f.identityStatus != http.StatusOK {
			w.WriteHeader(f.identityStatus)
			return
		}
		if f.identityBody != "" {
			_, _ = io.WriteString(w, f.identityBody)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"idToken": signTestToken(f.t, f.identityClaims)})

	case strings.HasPrefix(path, "/rtdb/users/"):
		f.lastAuthQuery = r.URL.Query().Get("auth")
		if f.datapointStatus != http.StatusOK {
			f.calls["rtdb"]++
			w.WriteHeader(f.datapointStatus)
			return
		}
		switch {
		case strings.HasSuffix(path, "/"+testUID+"/"+testDeviceID+"/datapoints.json"):
			f.calls["datapoints"]++
			_, _ = io.WriteString(w, f.datapointsBody)
		case strings.HasSuffix(path, "/"+testUID+"/"+testDeviceID+"/timer.json"):
			f.calls["timer"]++
			_, _ = io.WriteString(w, f.timerBody)
		default:
			w.WriteHeader(http.StatusNotFound)
		}

	case path == "/device-api/devices/invoke-action" && r.Method == http.MethodPost:
		f.calls["invoke"]++
		var call invokeCall
		_ = json.Unmarshal(body, &call)
		if status, ok := f.invokeStatus[call.DatapointID]; ok {
			w.WriteHeader(status)
			return
		}
		f.invoked = append(f.invoked, call)
		w.WriteHeader(http.StatusOK)

	case path == "/device-api/devices/latest-alerts" && r.Method == http.MethodPost:
		f.calls["alerts"]++
		if f.alertsStatus != http.StatusOK {
			w.WriteHeader(f.alertsStatus)
			return
		}
		_, _ = io.WriteString(w, f.alertsBody)

	case path == "/device-api/devices/my" && r.Method == http.MethodGet:
		f.calls["devices"]++
		if r.URL.Query().Get("pageSize") != "1000" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if f.devicesStatus != http.StatusOK {
			w.WriteHeader(f.devicesStatus)
			return
		}
		_, _ = io.WriteString(w, f.devicesBody)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// signTestToken produces an HS256 token. The signature is never checked
// by the code under test.
func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return tok
}

func newTestCredentials(t *testing.T, f *fakeCloud) *Credentials {
	t.Helper()
	creds, err := NewCredentials(CredentialsOptions{
		HTTPClient:     f.server.Client(),
		Endpoints:      f.endpoints(),
		Username:       testUsername,
		Password:       testPassword,
		IdentityAPIKey: testAPIKey,
		Clock:          f.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}
	return creds
}

func newTestClient(t *testing.T, f *fakeCloud) *Client {
	t.Helper()
	client, err := NewClient(ClientOptions{
		HTTPClient:   f.server.Client(),
		Credentials:  newTestCredentials(t, f),
		Endpoints:    f.endpoints(),
		UniqueID:     testDeviceID,
		DeviceTypeID: 4,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}
