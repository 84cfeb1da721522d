package scheduler

//go:generate mockgen -source=coordinator.go -destination=mock_coordinator_test.go -package=scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"trados-tasks-go/internal/aggregate"
	"trados-tasks-go/internal/auth"
	"trados-tasks-go/internal/metrics"
	"trados-tasks-go/internal/models"
	"trados-tasks-go/internal/trados"
)

// DefaultFailureThreshold is the number of consecutive failed cycles after
// which a tenant is reported unavailable.
const DefaultFailureThreshold = 3

// TokenProvider hands out bearer tokens for a credential set.
type TokenProvider interface {
	GetValidToken(ctx context.Context, creds auth.CredentialSet) (auth.AccessToken, error)
	Invalidate(creds auth.CredentialSet, value string)
}

// TaskFetcher lists the tasks assigned in one tenant.
type TaskFetcher interface {
	FetchAllTasks(ctx context.Context, tenantID string, token auth.AccessToken) ([]models.Task, error)
}

// Publisher receives every snapshot a coordinator produces.
type Publisher interface {
	Publish(ctx context.Context, s Snapshot)
}

// TenantContext is one configured account polled independently.
type TenantContext struct {
	TenantID     string
	Name         string
	Credentials  auth.CredentialSet
	PollInterval time.Duration
	PortalURL    string
}

// Result classifies a finished cycle.
type Result string

const (
	ResultSuccess   Result = "success"
	ResultAuthError Result = "auth_error"
	ResultAPIError  Result = "api_error"
	ResultCancelled Result = "cancelled"
)

// Outcome describes one cycle.
type Outcome struct {
	CycleID    string
	Result     Result
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
	// RetryAfter is the wait hint carried by a rate limited error.
	RetryAfter time.Duration
}

// Snapshot is the read-only view of a tenant handed to consumers. The
// Aggregate it points to is never modified after publication.
type Snapshot struct {
	TenantID            string            `json:"tenant_id"`
	Name                string            `json:"name"`
	PortalURL           string            `json:"portal_url,omitempty"`
	Available           bool              `json:"available"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastError           string            `json:"last_error,omitempty"`
	LastErrorKind       string            `json:"last_error_kind,omitempty"`
	LastAttempt         *time.Time        `json:"last_attempt,omitempty"`
	LastSuccess         *time.Time        `json:"last_success,omitempty"`
	NextRun             time.Time         `json:"next_run"`
	CycleID             string            `json:"cycle_id,omitempty"`
	Aggregate           *models.Aggregate `json:"aggregate,omitempty"`
}

// CoordinatorOptions carries the collaborators and tunables of a Coordinator.
type CoordinatorOptions struct {
	Policy           Policy
	FailureThreshold int
	Publisher        Publisher
	Clock            clockwork.Clock
	Logger           *slog.Logger
	// Rand returns samples in [0,1) for jitter. Defaults to math/rand.
	Rand func() float64
}

// Coordinator drives the refresh cycles of one tenant. Cycles never
// overlap; the last good aggregate survives failed cycles.
type Coordinator struct {
	tenant    TenantContext
	tokens    TokenProvider
	fetcher   TaskFetcher
	policy    Policy
	threshold int
	publisher Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	rand      func() float64

	cycleMu  sync.Mutex
	mu       sync.RWMutex
	snapshot Snapshot
	wakeup   chan struct{}
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(tenant TenantContext, tokens TokenProvider, fetcher TaskFetcher, opts CoordinatorOptions) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.Policy.Interval <= 0 {
		opts.Policy.Interval = tenant.PollInterval
	}

	return &Coordinator{
		tenant:    tenant,
		tokens:    tokens,
		fetcher:   fetcher,
		policy:    opts.Policy,
		threshold: opts.FailureThreshold,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		logger:    opts.Logger.With("tenant", tenant.TenantID),
		rand:      opts.Rand,
		snapshot: Snapshot{
			TenantID:  tenant.TenantID,
			Name:      tenant.Name,
			PortalURL: tenant.PortalURL,
			Available: true,
			NextRun:   opts.Clock.Now(),
		},
		wakeup: make(chan struct{}, 1),
	}
}

// Tenant returns the tenant this coordinator polls.
func (c *Coordinator) Tenant() TenantContext {
	return c.tenant
}

// Snapshot returns the latest published state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Trigger asks Run to start a cycle now. Requests made while a cycle is
// running collapse into one follow-up cycle.
func (c *Coordinator) Trigger() {
	select {
	case c.wakeup <- struct{}{}:
	default:
	}
}

// Run executes cycles until ctx is cancelled. The first cycle starts
// immediately.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if err := c.wait(ctx); err != nil {
			return err
		}

		if out := c.RunCycle(ctx); out.Result == ResultCancelled {
			return ctx.Err()
		}
	}
}

// wait blocks until the next scheduled run or a trigger.
func (c *Coordinator) wait(ctx context.Context) error {
	d := c.Snapshot().NextRun.Sub(c.clock.Now())
	if d <= 0 {
		return ctx.Err()
	}
	timer := c.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
	case <-c.wakeup:
	}
	return nil
}

// RunCycle performs exactly one fetch attempt and publishes its outcome.
func (c *Coordinator) RunCycle(ctx context.Context) Outcome {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	out := Outcome{
		CycleID:   uuid.NewString(),
		StartedAt: c.clock.Now(),
	}
	logger := c.logger.With("cycle", out.CycleID)

	tasks, err := c.fetch(ctx, logger)
	out.FinishedAt = c.clock.Now()
	elapsed := out.FinishedAt.Sub(out.StartedAt)
	metrics.CycleDuration.WithLabelValues(c.tenant.TenantID).Observe(elapsed.Seconds())

	switch {
	case err != nil && ctx.Err() != nil:
		out.Result = ResultCancelled
		out.Err = ctx.Err()
		logger.Debug("cycle cancelled")
	case err != nil:
		out.Err = err
		out.Result = ResultAPIError
		var ae *auth.AuthError
		if errors.As(err, &ae) {
			out.Result = ResultAuthError
		}
		out.RetryAfter = retryAfter(err)
		c.recordFailure(ctx, logger, out)
	default:
		out.Result = ResultSuccess
		agg := aggregate.Compute(tasks, out.FinishedAt)
		c.recordSuccess(ctx, logger, out, &agg)
	}

	metrics.CyclesTotal.WithLabelValues(c.tenant.TenantID, string(out.Result)).Inc()
	return out
}

// fetch gets a token and the task list, renewing the token once if the
// API rejects it.
func (c *Coordinator) fetch(ctx context.Context, logger *slog.Logger) ([]models.Task, error) {
	creds := c.tenant.Credentials
	token, err := c.tokens.GetValidToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	tasks, err := c.fetcher.FetchAllTasks(ctx, c.tenant.TenantID, token)
	if err == nil || !errors.Is(err, trados.ErrUnauthorized) {
		return tasks, err
	}

	logger.Info("access token rejected, renewing", "token", token)
	c.tokens.Invalidate(creds, token.Value)
	token, err = c.tokens.GetValidToken(ctx, creds)
	if err != nil {
		return nil, err
	}
	return c.fetcher.FetchAllTasks(ctx, c.tenant.TenantID, token)
}

func (c *Coordinator) recordSuccess(ctx context.Context, logger *slog.Logger, out Outcome, agg *models.Aggregate) {
	now := out.FinishedAt

	c.mu.Lock()
	s := c.snapshot
	recovered := !s.Available
	s.Available = true
	s.ConsecutiveFailures = 0
	s.LastError = ""
	s.LastErrorKind = ""
	s.LastAttempt = &now
	s.LastSuccess = &now
	s.CycleID = out.CycleID
	s.Aggregate = agg
	s.NextRun = c.policy.NextPoll(now, c.rand())
	c.snapshot = s
	c.mu.Unlock()

	if recovered {
		logger.Info("tenant available again")
	}
	logger.Info("cycle completed",
		"tasks", agg.TotalTasks,
		"overdue", len(agg.OverdueTasks),
		"words", agg.TotalWords,
		"duration", out.FinishedAt.Sub(out.StartedAt),
		"next_run", s.NextRun)

	c.observe(s)
	c.publish(ctx, s)
}

func (c *Coordinator) recordFailure(ctx context.Context, logger *slog.Logger, out Outcome) {
	now := out.FinishedAt

	c.mu.Lock()
	s := c.snapshot
	wasAvailable := s.Available
	s.ConsecutiveFailures++
	s.Available = s.ConsecutiveFailures < c.threshold
	s.LastError = out.Err.Error()
	s.LastErrorKind = errorKind(out.Err)
	s.LastAttempt = &now
	s.CycleID = out.CycleID
	delay := c.policy.RetryDelay(s.ConsecutiveFailures, c.rand())
	if out.RetryAfter > delay {
		delay = out.RetryAfter
	}
	s.NextRun = now.Add(delay)
	c.snapshot = s
	c.mu.Unlock()

	logger.Warn("cycle failed",
		"error", out.Err,
		"kind", s.LastErrorKind,
		"consecutive_failures", s.ConsecutiveFailures,
		"retry_in", delay)
	if wasAvailable && !s.Available {
		logger.Error("tenant unavailable after repeated failures",
			"consecutive_failures", s.ConsecutiveFailures)
	}

	c.observe(s)
	c.publish(ctx, s)
}

func (c *Coordinator) observe(s Snapshot) {
	metrics.ConsecutiveFailures.WithLabelValues(s.TenantID).Set(float64(s.ConsecutiveFailures))
	available := 0.0
	if s.Available {
		available = 1
	}
	metrics.TenantAvailable.WithLabelValues(s.TenantID).Set(available)
}

func (c *Coordinator) publish(ctx context.Context, s Snapshot) {
	if c.publisher != nil {
		c.publisher.Publish(ctx, s)
	}
}

func retryAfter(err error) time.Duration {
	if d, ok := auth.RetryAfter(err); ok {
		return d
	}
	if ae, ok := trados.AsAPIError(err); ok && ae.Kind == trados.KindRateLimited {
		return ae.RetryAfter
	}
	return 0
}

func errorKind(err error) string {
	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		return "auth_" + authErr.Kind.String()
	}
	if ae, ok := trados.AsAPIError(err); ok {
		return "api_" + ae.Kind.String()
	}
	return "unknown"
}
