package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"trados-tasks-go/internal/auth"
)

// ErrStopped is returned when tenants are scheduled after Stop.
var ErrStopped = errors.New("scheduler stopped")

// CredentialTokens is the token cache shared by every tenant.
type CredentialTokens interface {
	TokenProvider
	Forget(creds auth.CredentialSet)
}

// FetcherFunc returns the task fetcher serving a region.
type FetcherFunc func(region string) TaskFetcher

// Settings are the polling tunables shared by every tenant.
type Settings struct {
	FailureThreshold int
	RetryBase        time.Duration
	MaxMultiplier    int
	Jitter           float64
}

type runner struct {
	coord  *Coordinator
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler supervises one coordinator per tenant.
type Scheduler struct {
	tokens   CredentialTokens
	fetchers FetcherFunc
	hub      *Hub
	settings Settings
	clock    clockwork.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	tenants map[string]*runner // tenantID -> runner
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a new Scheduler. Coordinators run until Remove,
// Stop or cancellation of ctx.
func NewScheduler(ctx context.Context, tokens CredentialTokens, fetchers FetcherFunc, hub *Hub, settings Settings, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		tokens:   tokens,
		fetchers: fetchers,
		hub:      hub,
		settings: settings,
		clock:    clock,
		logger:   logger.With("component", "scheduler"),
		tenants:  make(map[string]*runner),
		ctx:      cctx,
		cancel:   cancel,
	}
}

// Schedule starts polling a tenant. A tenant that is already scheduled
// with identical settings is left alone; changed settings restart it.
func (s *Scheduler) Schedule(t TenantContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return ErrStopped
	}

	if r, ok := s.tenants[t.TenantID]; ok {
		if r.coord.Tenant() == t {
			return nil
		}
		s.logger.Info("tenant settings changed, restarting", "tenant", t.TenantID)
		s.stopRunner(t.TenantID, r)
	}

	s.start(t)
	return nil
}

// start launches a coordinator; s.mu must be held.
func (s *Scheduler) start(t TenantContext) {
	coord := NewCoordinator(t, s.tokens, s.fetchers(t.Credentials.Region), CoordinatorOptions{
		Policy: Policy{
			Interval:      t.PollInterval,
			Jitter:        s.settings.Jitter,
			RetryBase:     s.settings.RetryBase,
			MaxMultiplier: s.settings.MaxMultiplier,
		},
		FailureThreshold: s.settings.FailureThreshold,
		Publisher:        s.hub,
		Clock:            s.clock,
		Logger:           s.logger,
	})

	ctx, cancel := context.WithCancel(s.ctx)
	r := &runner{coord: coord, cancel: cancel, done: make(chan struct{})}
	s.tenants[t.TenantID] = r

	// Register the tenant with consumers before its first cycle finishes.
	if s.hub != nil {
		s.hub.Publish(ctx, coord.Snapshot())
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(r.done)
		if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("coordinator stopped", "tenant", t.TenantID, "error", err)
		}
	}()

	s.logger.Info("tenant scheduled",
		"tenant", t.TenantID,
		"name", t.Name,
		"interval", t.PollInterval,
		"credentials", t.Credentials)
}

// stopRunner cancels a coordinator, including any in-flight request, and
// waits for it; s.mu must be held.
func (s *Scheduler) stopRunner(tenantID string, r *runner) {
	r.cancel()
	<-r.done
	delete(s.tenants, tenantID)
	if s.hub != nil {
		s.hub.Remove(s.ctx, tenantID)
	}
}

// Remove stops polling a tenant. Credential sets no tenant uses any more
// are dropped from the token cache.
func (s *Scheduler) Remove(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tenants[tenantID]
	if !ok {
		return false
	}
	creds := r.coord.Tenant().Credentials
	s.stopRunner(tenantID, r)
	s.forgetUnused([]auth.CredentialSet{creds})
	s.logger.Info("tenant removed", "tenant", tenantID)
	return true
}

// Reconcile makes the scheduled set match tenants exactly.
func (s *Scheduler) Reconcile(tenants []TenantContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return ErrStopped
	}

	want := make(map[string]TenantContext, len(tenants))
	for _, t := range tenants {
		want[t.TenantID] = t
	}

	var released []auth.CredentialSet
	for id, r := range s.tenants {
		current := r.coord.Tenant()
		t, keep := want[id]
		if keep && current == t {
			delete(want, id)
			continue
		}
		if !keep || current.Credentials != t.Credentials {
			released = append(released, current.Credentials)
		}
		s.stopRunner(id, r)
	}

	ids := make([]string, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.start(want[id])
	}

	s.forgetUnused(released)
	return nil
}

// forgetUnused drops cached tokens of credential sets that no scheduled
// tenant references; s.mu must be held.
func (s *Scheduler) forgetUnused(candidates []auth.CredentialSet) {
	if s.tokens == nil {
		return
	}
	inUse := make(map[string]bool, len(s.tenants))
	for _, r := range s.tenants {
		inUse[r.coord.Tenant().Credentials.Key()] = true
	}
	for _, creds := range candidates {
		if inUse[creds.Key()] {
			continue
		}
		inUse[creds.Key()] = true
		s.tokens.Forget(creds)
		s.logger.Info("credential set released", "credentials", creds)
	}
}

// Trigger requests an immediate cycle for a tenant.
func (s *Scheduler) Trigger(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tenants[tenantID]
	if ok {
		r.coord.Trigger()
	}
	return ok
}

// Snapshot returns the coordinator's current state for a tenant.
func (s *Scheduler) Snapshot(tenantID string) (Snapshot, bool) {
	s.mu.Lock()
	r, ok := s.tenants[tenantID]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return r.coord.Snapshot(), true
}

// Tenants returns the scheduled tenants ordered by ID.
func (s *Scheduler) Tenants() []TenantContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TenantContext, 0, len(s.tenants))
	for _, r := range s.tenants {
		out = append(out, r.coord.Tenant())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// Stop gracefully shuts down every coordinator
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
