package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"trados-tasks-go/internal/metrics"
)

// Authorizer obtains new tokens for a credential set.
type Authorizer interface {
	Authorize(ctx context.Context, creds CredentialSet, prompt PromptFunc) (AccessToken, error)
	Refresh(ctx context.Context, creds CredentialSet, refreshToken string) (AccessToken, error)
}

// StoreConfig controls caching and quota enforcement.
type StoreConfig struct {
	// SafetyMargin is how long before expiry a cached token stops being handed out.
	SafetyMargin time.Duration
	// Quota is the number of token requests allowed per QuotaWindow.
	Quota       int
	QuotaWindow time.Duration
}

// DefaultStoreConfig matches the limits of the Trados Cloud token endpoint.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		SafetyMargin: 5 * time.Minute,
		Quota:        16,
		QuotaWindow:  24 * time.Hour,
	}
}

// QuotaStatus describes how much of the token request quota is used.
type QuotaStatus struct {
	Used      int        `json:"used"`
	Remaining int        `json:"remaining"`
	NextSlot  *time.Time `json:"next_slot,omitempty"`
}

// errForgotten ends a flight whose credential set was forgotten while it ran.
var errForgotten = fmt.Errorf("credential set forgotten: %w", context.Canceled)

type tokenEntry struct {
	token atomic.Pointer[AccessToken]
}

// flight is one running acquisition. done closes once it has stopped
// talking to the token endpoint.
type flight struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// TokenStore caches access tokens per credential set. Concurrent misses for
// the same credential set share one authorization, and every token request
// is counted against the rolling quota before it is sent.
type TokenStore struct {
	cfg        StoreConfig
	authorizer Authorizer
	ledger     QuotaLedger
	clock      clockwork.Clock
	logger     *slog.Logger

	entries sync.Map // credential key -> *tokenEntry
	flights singleflight.Group
	pending *pendingRegistry

	// flightMu guards inflight and generations. A generation is bumped by
	// Forget so that flights started before it cannot publish results.
	flightMu    sync.Mutex
	inflight    map[string]*flight
	generations map[string]uint64

	promptMu sync.RWMutex
	onPrompt PromptFunc

	// ctx outlives any single caller so that a shared authorization is not
	// torn down with the first tenant that gives up on it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTokenStore creates a new TokenStore. A nil ledger selects a MemoryLedger.
func NewTokenStore(cfg StoreConfig, authorizer Authorizer, ledger QuotaLedger, clock clockwork.Clock, logger *slog.Logger) *TokenStore {
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TokenStore{
		cfg:         cfg,
		authorizer:  authorizer,
		ledger:      ledger,
		clock:       clock,
		logger:      logger,
		pending:     newPendingRegistry(),
		inflight:    make(map[string]*flight),
		generations: make(map[string]uint64),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// OnPrompt registers fn to be told about every device authorization that
// needs a user. It replaces any previous listener.
func (s *TokenStore) OnPrompt(fn PromptFunc) {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	s.onPrompt = fn
}

// GetValidToken returns a token for creds that is valid for at least the
// safety margin. Callers sharing creds wait on the same request; a caller
// whose ctx ends stops waiting without cancelling the request for others.
func (s *TokenStore) GetValidToken(ctx context.Context, creds CredentialSet) (AccessToken, error) {
	key := creds.Key()
	if tok, ok := s.cached(key); ok {
		metrics.TokenCacheResults.WithLabelValues("hit").Inc()
		return tok, nil
	}
	metrics.TokenCacheResults.WithLabelValues("miss").Inc()

	ch := s.flights.DoChan(key, func() (interface{}, error) {
		return s.acquire(creds)
	})

	select {
	case <-ctx.Done():
		return AccessToken{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}
		tok := res.Val.(AccessToken)
		if tok.Expired(s.clock.Now()) {
			return AccessToken{}, newAuthError(KindExpired, errors.New("issued token expired before it could be used"))
		}
		return tok, nil
	}
}

// Invalidate drops the cached token for creds if it is still value, the
// token the service just rejected. A newer token is left alone.
func (s *TokenStore) Invalidate(creds CredentialSet, value string) {
	e := s.entry(creds.Key())
	for {
		cur := e.token.Load()
		if cur == nil || cur.Value == "" || cur.Value != value {
			return
		}
		cleared := cur.withoutValue()
		if e.token.CompareAndSwap(cur, &cleared) {
			s.logger.Info("access token invalidated", "credentials", creds)
			return
		}
	}
}

// Forget drops every cached state for creds and cancels an acquisition
// still running for it. Quota history is kept.
func (s *TokenStore) Forget(creds CredentialSet) {
	key := creds.Key()
	s.flightMu.Lock()
	s.generations[key]++
	if f := s.inflight[key]; f != nil {
		f.cancel()
	}
	s.flightMu.Unlock()

	s.entries.Delete(key)
	s.flights.Forget(key)
	s.pending.clear(key)
	metrics.TokenQuotaRemaining.DeleteLabelValues(key)
}

// Pending returns the authorization awaiting a user for creds, if any.
func (s *TokenStore) Pending(creds CredentialSet) (PendingAuthorization, bool) {
	return s.pending.get(creds.Key())
}

// PendingAll returns every authorization awaiting a user.
func (s *TokenStore) PendingAll() []PendingAuthorization {
	return s.pending.list()
}

// QuotaStatus reports quota usage for creds at the current time.
func (s *TokenStore) QuotaStatus(ctx context.Context, creds CredentialSet) (QuotaStatus, error) {
	now := s.clock.Now()
	stamps, err := s.ledger.Since(ctx, creds.Key(), now.Add(-s.cfg.QuotaWindow))
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("failed to read quota ledger: %w", err)
	}
	st := QuotaStatus{Used: len(stamps), Remaining: s.cfg.Quota - len(stamps)}
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	if len(stamps) > 0 {
		next := stamps[0].Add(s.cfg.QuotaWindow)
		st.NextSlot = &next
	}
	return st, nil
}

// Close aborts any authorization still in flight.
func (s *TokenStore) Close() {
	s.cancel()
}

func (s *TokenStore) entry(key string) *tokenEntry {
	if e, ok := s.entries.Load(key); ok {
		return e.(*tokenEntry)
	}
	e, _ := s.entries.LoadOrStore(key, &tokenEntry{})
	return e.(*tokenEntry)
}

func (s *TokenStore) cached(key string) (AccessToken, bool) {
	e, ok := s.entries.Load(key)
	if !ok {
		return AccessToken{}, false
	}
	tok := e.(*tokenEntry).token.Load()
	if tok == nil || !tok.Valid(s.clock.Now(), s.cfg.SafetyMargin) {
		return AccessToken{}, false
	}
	return *tok, true
}

// beginFlight registers a new acquisition for key. A flight orphaned by
// Forget may still be winding down; the new one waits for it so that at most
// one request per credential set is ever outstanding.
func (s *TokenStore) beginFlight(key string) (context.Context, *flight, error) {
	s.flightMu.Lock()
	gen := s.generations[key]
	for {
		prev := s.inflight[key]
		if prev == nil {
			break
		}
		s.flightMu.Unlock()
		select {
		case <-prev.done:
		case <-s.ctx.Done():
			return nil, nil, s.ctx.Err()
		}
		s.flightMu.Lock()
		if s.generations[key] != gen {
			s.flightMu.Unlock()
			return nil, nil, errForgotten
		}
	}

	ctx, cancel := context.WithCancel(s.ctx)
	f := &flight{gen: gen, cancel: cancel, done: make(chan struct{})}
	s.inflight[key] = f
	s.flightMu.Unlock()
	return ctx, f, nil
}

func (s *TokenStore) endFlight(key string, f *flight) {
	f.cancel()
	s.flightMu.Lock()
	if s.inflight[key] == f {
		delete(s.inflight, key)
	}
	s.flightMu.Unlock()
	close(f.done)
}

// current reports whether f was started after the last Forget of key.
func (s *TokenStore) current(key string, f *flight) bool {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	return s.generations[key] == f.gen
}

// acquire runs inside the single flight for creds.
func (s *TokenStore) acquire(creds CredentialSet) (AccessToken, error) {
	key := creds.Key()
	ctx, f, err := s.beginFlight(key)
	if err != nil {
		return AccessToken{}, err
	}
	defer s.endFlight(key, f)

	// A flight that finished just before this one started may have filled the cache.
	if tok, ok := s.cached(key); ok {
		return tok, nil
	}

	e := s.entry(key)
	if prev := e.token.Load(); prev != nil && prev.HasRefreshToken() {
		tok, err := s.request(ctx, key, "refresh", func(ctx context.Context) (AccessToken, error) {
			return s.authorizer.Refresh(ctx, creds, prev.refreshToken)
		})
		if err == nil {
			if !s.current(key, f) {
				return AccessToken{}, errForgotten
			}
			e.token.Store(&tok)
			return tok, nil
		}
		if !errors.Is(err, ErrExpired) && !errors.Is(err, ErrDenied) {
			return AccessToken{}, err
		}
		s.logger.Warn("refresh token rejected, falling back to device authorization", "credentials", creds, "error", err)
		e.token.Store(nil)
	}

	var (
		prompted   bool
		deviceCode string
	)
	prompt := func(c CredentialSet, da DeviceAuthorization) {
		if !s.current(key, f) {
			return
		}
		prompted, deviceCode = true, da.DeviceCode
		s.pending.set(c, da)
		s.promptMu.RLock()
		fn := s.onPrompt
		s.promptMu.RUnlock()
		if fn != nil {
			fn(c, da)
		}
	}
	defer func() {
		if prompted {
			s.pending.clearIf(key, deviceCode)
		}
	}()

	tok, err := s.request(ctx, key, "device", func(ctx context.Context) (AccessToken, error) {
		return s.authorizer.Authorize(ctx, creds, prompt)
	})
	if err != nil {
		if !s.current(key, f) {
			return AccessToken{}, errForgotten
		}
		return AccessToken{}, err
	}
	if !s.current(key, f) {
		return AccessToken{}, errForgotten
	}
	e.token.Store(&tok)
	return tok, nil
}

// request checks the quota, records the attempt and runs fn. An attempt is
// counted before it is sent so that a crash mid-request cannot under-count.
func (s *TokenStore) request(ctx context.Context, key, kind string, fn func(ctx context.Context) (AccessToken, error)) (AccessToken, error) {
	now := s.clock.Now()
	stamps, err := s.ledger.Since(ctx, key, now.Add(-s.cfg.QuotaWindow))
	if err != nil {
		return AccessToken{}, newAuthError(KindRequestFailed, fmt.Errorf("failed to read quota ledger: %w", err))
	}
	if len(stamps) >= s.cfg.Quota {
		oldest := stamps[len(stamps)-s.cfg.Quota]
		retryAfter := oldest.Add(s.cfg.QuotaWindow).Sub(now)
		metrics.TokenRequests.WithLabelValues(kind, KindRateLimited.String()).Inc()
		metrics.TokenQuotaRemaining.WithLabelValues(key).Set(0)
		s.logger.Warn("token request quota exhausted", "credential_key", key, "used", len(stamps), "retry_after", retryAfter)
		return AccessToken{}, &AuthError{
			Kind:       KindRateLimited,
			RetryAfter: retryAfter,
			Err:        fmt.Errorf("%d token requests in the last %s", len(stamps), s.cfg.QuotaWindow),
		}
	}

	if err := s.ledger.Record(ctx, key, now); err != nil {
		return AccessToken{}, newAuthError(KindRequestFailed, fmt.Errorf("failed to record token request: %w", err))
	}
	metrics.TokenQuotaRemaining.WithLabelValues(key).Set(float64(s.cfg.Quota - len(stamps) - 1))

	tok, err := fn(ctx)
	if err != nil {
		outcome := "cancelled"
		var ae *AuthError
		if errors.As(err, &ae) {
			outcome = ae.Kind.String()
		}
		metrics.TokenRequests.WithLabelValues(kind, outcome).Inc()
		return AccessToken{}, err
	}
	metrics.TokenRequests.WithLabelValues(kind, "success").Inc()
	return tok, nil
}
