package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// Mock Authorizer
type mockAuthorizer struct {
	mu             sync.Mutex
	authorizeCalls int
	refreshCalls   int
	refreshTokens  []string
	// active and maxActive track overlapping Authorize calls.
	active    int
	maxActive int

	// gate, when set, holds Authorize until closed.
	gate chan struct{}
	// entered is signalled each time Authorize starts.
	entered chan struct{}

	clock     clockwork.Clock
	lifetime  time.Duration
	withRT    bool
	authErr   error
	refreshFn func(n int) (AccessToken, error)
	promptDA  *DeviceAuthorization
}

func newMockAuthorizer(clock clockwork.Clock) *mockAuthorizer {
	return &mockAuthorizer{clock: clock, lifetime: time.Hour}
}

func (m *mockAuthorizer) Authorize(ctx context.Context, creds CredentialSet, prompt PromptFunc) (AccessToken, error) {
	m.mu.Lock()
	m.authorizeCalls++
	n := m.authorizeCalls
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	gate, entered, da := m.gate, m.entered, m.promptDA
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if entered != nil {
		entered <- struct{}{}
	}
	if da != nil && prompt != nil {
		prompt(creds, *da)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return AccessToken{}, ctx.Err()
		}
	}
	if m.authErr != nil {
		return AccessToken{}, m.authErr
	}

	now := m.clock.Now()
	tok := AccessToken{
		Value:     fmt.Sprintf("device-token-%d", n),
		TokenType: "Bearer",
		IssuedAt:  now,
		ExpiresAt: now.Add(m.lifetime),
	}
	if m.withRT {
		tok.refreshToken = fmt.Sprintf("refresh-%d", n)
	}
	return tok, nil
}

func (m *mockAuthorizer) Refresh(ctx context.Context, creds CredentialSet, refreshToken string) (AccessToken, error) {
	m.mu.Lock()
	m.refreshCalls++
	n := m.refreshCalls
	m.refreshTokens = append(m.refreshTokens, refreshToken)
	fn := m.refreshFn
	m.mu.Unlock()

	if fn != nil {
		return fn(n)
	}
	now := m.clock.Now()
	return AccessToken{
		Value:        fmt.Sprintf("refreshed-token-%d", n),
		IssuedAt:     now,
		ExpiresAt:    now.Add(m.lifetime),
		refreshToken: refreshToken,
	}, nil
}

func (m *mockAuthorizer) overlap() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

func (m *mockAuthorizer) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authorizeCalls, m.refreshCalls
}

// Fake Auth0 tenant serving the device code and token endpoints.
type fakeAuthServer struct {
	*httptest.Server

	codeStatus   int
	codeLifetime int
	codeInterval int

	polls     atomic.Int32
	refreshes atomic.Int32

	mu       sync.Mutex
	pollAt   []time.Time
	lastCode map[string][]string

	clock clockwork.Clock
	// onPoll answers the n-th device code poll (1-based).
	onPoll func(n int32) (int, string)
	// onRefresh answers refresh token grants.
	onRefresh func(refreshToken string) (int, string)
}

func newFakeAuthServer(t *testing.T, clock clockwork.Clock) *fakeAuthServer {
	t.Helper()
	f := &fakeAuthServer{
		codeStatus:   http.StatusOK,
		codeLifetime: 300,
		codeInterval: 5,
		clock:        clock,
		onPoll: func(int32) (int, string) {
			return http.StatusForbidden, `{"error":"authorization_pending"}`
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/device/code", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.lastCode = r.PostForm
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.codeStatus)
		if f.codeStatus != http.StatusOK {
			fmt.Fprint(w, `{"error":"unauthorized_client"}`)
			return
		}
		fmt.Fprintf(w, `{"device_code":"dev-123","user_code":"ABCD-EFGH","verification_uri":"https://login.example.test/activate","verification_uri_complete":"https://login.example.test/activate?user_code=ABCD-EFGH","expires_in":%d,"interval":%d}`,
			f.codeLifetime, f.codeInterval)
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case deviceCodeGrantType:
			n := f.polls.Add(1)
			f.mu.Lock()
			f.pollAt = append(f.pollAt, f.clock.Now())
			f.mu.Unlock()
			status, body := f.onPoll(n)
			w.WriteHeader(status)
			fmt.Fprint(w, body)
		case "refresh_token":
			f.refreshes.Add(1)
			status, body := http.StatusOK, `{"access_token":"refreshed","token_type":"Bearer","expires_in":3600}`
			if f.onRefresh != nil {
				status, body = f.onRefresh(r.PostForm.Get("refresh_token"))
			}
			w.WriteHeader(status)
			fmt.Fprint(w, body)
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"unsupported_grant_type"}`)
		}
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeAuthServer) config() AuthorizerConfig {
	cfg := DefaultAuthorizerConfig()
	cfg.DeviceCodeURL = f.URL + "/oauth/device/code"
	cfg.TokenURL = f.URL + "/oauth/token"
	return cfg
}

func (f *fakeAuthServer) pollTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.pollAt...)
}

// driveClock advances fc by step each time the code under test goes to
// sleep, until done yields a value.
func driveClock[T any](fc clockwork.FakeClock, step time.Duration, done <-chan T) T {
	for {
		sleeping := make(chan struct{})
		go func() {
			fc.BlockUntil(1)
			close(sleeping)
		}()
		select {
		case v := <-done:
			return v
		case <-sleeping:
			fc.Advance(step)
		}
	}
}

var testCreds = CredentialSet{ClientID: "client-a", ClientSecret: "secret-a", Region: "eu"}
