package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"trados-tasks-go/internal/auth"
	"trados-tasks-go/internal/config"
	"trados-tasks-go/internal/models"
	"trados-tasks-go/internal/scheduler"
	"trados-tasks-go/internal/storage"
	"trados-tasks-go/internal/trados"
	"trados-tasks-go/internal/worker"
)

const (
	shutdownTimeout = 5 * time.Second
	pruneInterval   = time.Hour
)

// Application holds all the major components of the service.
type Application struct {
	Logger        *slog.Logger
	DB            *storage.SQLiteStorage
	Tokens        *auth.TokenStore
	WorkerPool    *worker.WorkerPool
	Hub           *scheduler.Hub
	Scheduler     *scheduler.Scheduler
	HttpServer    *http.Server
	MetricsServer *http.Server

	configPath string
	clock      clockwork.Clock
	out        io.Writer

	cfgMu sync.RWMutex
	cfg   *config.Config

	clientsMu sync.Mutex
	clients   map[string]*trados.Client // region -> client
}

// Option customizes an Application.
type Option func(*Application)

// WithClock replaces the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(a *Application) { a.clock = clock }
}

// WithPromptWriter sets where device authorization prompts are printed.
func WithPromptWriter(w io.Writer) Option {
	return func(a *Application) { a.out = w }
}

// WithConfigPath enables reloading the tenant set when the file changes.
func WithConfigPath(path string) Option {
	return func(a *Application) { a.configPath = path }
}

// New creates and initializes a new Application instance. Nothing talks to
// the network until Authorize or Run is called.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Application{
		Logger:  logger,
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		out:     os.Stderr,
		clients: make(map[string]*trados.Client),
	}
	for _, opt := range opts {
		opt(a)
	}

	// Setup: quota ledger
	var ledger auth.QuotaLedger = auth.NewMemoryLedger()
	if cfg.Storage.Path != "" {
		dbCfg := storage.DefaultConfig()
		dbCfg.Path = cfg.Storage.Path
		dbCfg.BusyTimeout = cfg.Storage.BusyTimeout.Duration
		db, err := storage.OpenDatabase(context.Background(), dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open quota ledger: %w", err)
		}
		a.DB = db
		ledger = db
	}

	// Setup: token cache
	authorizer := auth.NewDeviceCodeAuthorizer(authorizerConfig(cfg),
		&http.Client{Timeout: cfg.Auth.RequestTimeout.Duration},
		a.clock, logger.With("component", "auth"))
	a.Tokens = auth.NewTokenStore(auth.StoreConfig{
		SafetyMargin: cfg.Auth.SafetyMargin.Duration,
		Quota:        cfg.Auth.Quota,
		QuotaWindow:  cfg.Auth.QuotaWindow.Duration,
	}, authorizer, ledger, a.clock, logger.With("component", "tokens"))
	a.Tokens.OnPrompt(a.printPrompt)

	// Setup: enrichment workers, hub and tenant supervisor
	a.WorkerPool = worker.NewWorkerPool(cfg.API.EnrichWorkers)
	a.Hub = scheduler.NewHub(logger)
	a.Scheduler = scheduler.NewScheduler(context.Background(), a.Tokens, a.fetcher, a.Hub, scheduler.Settings{
		FailureThreshold: cfg.Polling.FailureThreshold,
		RetryBase:        cfg.Polling.RetryBase.Duration,
		MaxMultiplier:    cfg.Polling.MaxBackoffMultiplier,
		Jitter:           cfg.Polling.Jitter,
	}, a.clock, logger)

	// Setup: HTTP servers
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	a.MetricsServer = &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.HttpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func authorizerConfig(cfg *config.Config) auth.AuthorizerConfig {
	ac := auth.DefaultAuthorizerConfig()
	ac.DeviceCodeURL = cfg.Auth.DeviceCodeURL
	ac.TokenURL = cfg.Auth.TokenURL
	ac.Audience = cfg.Auth.Audience
	ac.Scopes = cfg.Auth.Scopes
	ac.MaxPollFailures = cfg.Auth.MaxPollFailures
	return ac
}

// Config returns the configuration currently in effect.
func (a *Application) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// fetcher returns a TaskFetcher for region. The client behind it is looked
// up on every call, so a reload that changes the API settings takes effect
// on the next cycle. Tenants of one region share its rate limiter.
func (a *Application) fetcher(region string) scheduler.TaskFetcher {
	return regionFetcher{app: a, region: region}
}

type regionFetcher struct {
	app    *Application
	region string
}

func (f regionFetcher) FetchAllTasks(ctx context.Context, tenantID string, token auth.AccessToken) ([]models.Task, error) {
	return f.app.client(f.region).FetchAllTasks(ctx, tenantID, token)
}

func (a *Application) client(region string) *trados.Client {
	a.clientsMu.Lock()
	defer a.clientsMu.Unlock()
	if c, ok := a.clients[region]; ok {
		return c
	}
	api := a.Config().API
	c := trados.NewClient(trados.Config{
		BaseURL:           api.BaseURL,
		GlobalBaseURL:     api.GlobalBaseURL,
		PageSize:          api.PageSize,
		Timeout:           api.Timeout.Duration,
		MaxRetries:        api.MaxRetries,
		RetryPause:        time.Second,
		RequestsPerSecond: api.RequestsPerSecond,
		Burst:             api.Burst,
	}, region, a.WorkerPool, a.clock, a.Logger)
	a.clients[region] = c
	return c
}

// credentials resolves a named credential into the set the token cache keys on.
func credentials(cred config.Credential) auth.CredentialSet {
	return auth.CredentialSet{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Region:       cred.Region,
	}
}

// tenants builds the polling contexts of every configured tenant.
func tenants(cfg *config.Config) []scheduler.TenantContext {
	out := make([]scheduler.TenantContext, 0, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		cred, ok := cfg.Credential(t.Credentials)
		if !ok {
			continue
		}
		out = append(out, scheduler.TenantContext{
			TenantID:     t.TenantID,
			Name:         t.Name,
			Credentials:  credentials(cred),
			PollInterval: t.PollInterval(),
			PortalURL:    trados.PortalURL(cfg.API.PortalURL, cred.Region, t.TenantID),
		})
	}
	return out
}

// printPrompt tells the operator where to approve a device authorization.
func (a *Application) printPrompt(creds auth.CredentialSet, da auth.DeviceAuthorization) {
	uri := da.VerificationURIComplete
	if uri == "" {
		uri = da.VerificationURI
	}
	fmt.Fprintf(a.out, "\nAuthorize client %s (%s): open %s and enter code %s (expires %s)\n\n",
		creds.ClientID, creds.Region, uri, da.UserCode, da.ExpiresAt.Local().Format(time.Kitchen))
}

// Authorize acquires a token for every configured credential set, one at a
// time, prompting the operator when a device authorization is needed. Any
// failure is returned.
func (a *Application) Authorize(ctx context.Context) error {
	cfg := a.Config()
	for _, cred := range cfg.Credentials {
		creds := credentials(cred)
		a.Logger.Info("acquiring access token", "credential", cred.Name, "credentials", creds)
		if _, err := a.Tokens.GetValidToken(ctx, creds); err != nil {
			return fmt.Errorf("credential %q: %w", cred.Name, err)
		}
		if st, err := a.Tokens.QuotaStatus(ctx, creds); err == nil {
			a.Logger.Info("token quota", "credential", cred.Name, "used", st.Used, "remaining", st.Remaining)
		}
	}
	return nil
}

// ListAccounts returns the accounts reachable with each credential set,
// keyed by credential name. Tokens must already be acquired.
func (a *Application) ListAccounts(ctx context.Context) (map[string][]trados.Account, error) {
	cfg := a.Config()
	out := make(map[string][]trados.Account, len(cfg.Credentials))
	for _, cred := range cfg.Credentials {
		creds := credentials(cred)
		token, err := a.Tokens.GetValidToken(ctx, creds)
		if err != nil {
			return nil, fmt.Errorf("credential %q: %w", cred.Name, err)
		}
		accounts, err := a.client(cred.Region).ListAccounts(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("credential %q: %w", cred.Name, err)
		}
		out[cred.Name] = accounts
	}
	return out, nil
}

// ApplyConfig replaces the tenant set with the one in cfg. Tenants whose
// settings are unchanged keep polling undisturbed.
// A change to the API settings rebuilds the per-region clients; the
// worker count of the enrichment pool is fixed until restart.
func (a *Application) ApplyConfig(cfg *config.Config) error {
	a.cfgMu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.cfgMu.Unlock()

	if prev != nil && prev.API != cfg.API {
		a.clientsMu.Lock()
		a.clients = make(map[string]*trados.Client)
		a.clientsMu.Unlock()
		a.Logger.Info("API settings changed, rebuilding clients")
		if prev.API.EnrichWorkers != cfg.API.EnrichWorkers {
			a.Logger.Warn("enrich_workers change takes effect after restart",
				"current", prev.API.EnrichWorkers, "configured", cfg.API.EnrichWorkers)
		}
	}

	ts := tenants(cfg)
	if err := a.Scheduler.Reconcile(ts); err != nil {
		return fmt.Errorf("failed to apply tenants: %w", err)
	}
	a.Logger.Info("tenants applied", "tenants", len(ts))
	return nil
}

// Run starts polling every tenant and serves the status API and metrics
// until ctx is cancelled, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	a.WorkerPool.Start()
	a.logLedger(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.Hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := a.ApplyConfig(a.Config()); err != nil {
		return err
	}

	g.Go(func() error { return a.serve(a.HttpServer, "status api") })
	g.Go(func() error { return a.serve(a.MetricsServer, "metrics") })

	if a.configPath != "" {
		watcher := config.NewWatcher(a.configPath, a.Logger, func(cfg *config.Config) {
			if err := a.ApplyConfig(cfg); err != nil {
				a.Logger.Error("failed to apply reloaded config", "error", err)
			}
		})
		g.Go(func() error {
			if err := watcher.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("config watcher: %w", err)
			}
			return nil
		})
	}

	if a.DB != nil {
		g.Go(func() error {
			a.pruneLedger(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	return g.Wait()
}

func (a *Application) serve(srv *http.Server, name string) error {
	if srv.Addr == "" {
		return nil
	}
	a.Logger.Info("starting server", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// shutdown gracefully stops the application's services.
func (a *Application) shutdown() {
	a.Logger.Info("stopping application services")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Logger.Warn("status api shutdown error", "error", err)
	}
	if err := a.MetricsServer.Shutdown(ctx); err != nil {
		a.Logger.Warn("metrics server shutdown error", "error", err)
	}

	a.Scheduler.Stop()
	a.WorkerPool.Stop()
	a.Logger.Info("application stopped")
}

// Close releases resources that outlive Run.
func (a *Application) Close() error {
	a.Tokens.Close()
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

// logLedger reports the quota already used by every credential set after a
// restart.
func (a *Application) logLedger(ctx context.Context) {
	if a.DB == nil {
		return
	}
	window := a.Config().Auth.QuotaWindow.Duration
	counts, err := a.DB.CountByKey(ctx, a.clock.Now().Add(-window))
	if err != nil {
		a.Logger.Warn("failed to read quota ledger", "error", err)
		return
	}
	for key, n := range counts {
		a.Logger.Info("token requests in current window", "credential_key", key, "count", n)
	}
}

// pruneLedger deletes ledger rows that fell out of the quota window.
func (a *Application) pruneLedger(ctx context.Context) {
	ticker := a.clock.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			cutoff := a.clock.Now().Add(-a.Config().Auth.QuotaWindow.Duration)
			n, err := a.DB.PruneTokenRequests(ctx, cutoff)
			if err != nil {
				a.Logger.Warn("failed to prune quota ledger", "error", err)
				continue
			}
			if n > 0 {
				a.Logger.Debug("pruned quota ledger", "rows", n)
			}
		}
	}
}
