// Package app wires the dependency graph shared by the server and the
// worker binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/actions"
	"github.com/kiranshivaraju/shopmind/internal/analysis"
	"github.com/kiranshivaraju/shopmind/internal/api"
	"github.com/kiranshivaraju/shopmind/internal/api/handler"
	mw "github.com/kiranshivaraju/shopmind/internal/api/middleware"
	"github.com/kiranshivaraju/shopmind/internal/breaker"
	"github.com/kiranshivaraju/shopmind/internal/cache"
	"github.com/kiranshivaraju/shopmind/internal/catalog"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/internal/job"
	"github.com/kiranshivaraju/shopmind/internal/llm"
	"github.com/kiranshivaraju/shopmind/internal/mailer"
	"github.com/kiranshivaraju/shopmind/internal/metrics"
	"github.com/kiranshivaraju/shopmind/internal/notify"
	"github.com/kiranshivaraju/shopmind/internal/ratelimit"
	"github.com/kiranshivaraju/shopmind/internal/settings"
	"github.com/kiranshivaraju/shopmind/internal/sms"
	"github.com/kiranshivaraju/shopmind/internal/store"
	"github.com/kiranshivaraju/shopmind/internal/subscription"
	"github.com/kiranshivaraju/shopmind/internal/worker"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

const (
	notifyBuffer  = 64
	notifyTimeout = 30 * time.Second
	auditBuffer   = 256
)

// App holds every long-lived component.
type App struct {
	Config    *config.Config
	Store     store.Store
	Cache     cache.Cache
	Provider  models.LLMProvider
	Source    *catalog.CachedSource
	Settings  *settings.Service
	Meter     *subscription.Meter
	Actions   *actions.Service
	Tasks     *actions.TaskRunner
	Jobs      *job.Manager
	Inspector *llm.Inspector
	Worker    *worker.Worker

	httpLimiter *ratelimit.Limiter
	closers     []func()
}

// SetupLogging installs a JSON slog handler at level as the default logger.
func SetupLogging(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

// Open connects to PostgreSQL and Redis, applies migrations, and builds the
// App on top of them.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := redisCache.Ping(ctx); err != nil {
		redisCache.Close()
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	a, err := Build(ctx, cfg, store.NewPostgresStore(pool), redisCache)
	if err != nil {
		redisCache.Close()
		pool.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { redisCache.Close() }, pool.Close)
	return a, nil
}

// Build wires the components over an already-open store and cache.
func Build(ctx context.Context, cfg *config.Config, st store.Store, c cache.Cache) (*App, error) {
	a := &App{Config: cfg, Store: st, Cache: c}

	a.Settings = settings.New(st, cfg)
	a.Meter = subscription.NewMeter(st)
	guard := breaker.New(st, c, cfg.Breaker)

	tier, err := a.Meter.Tier(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	base, err := llm.NewProvider(cfg.AI.Selected(), tier)
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}
	sink := llm.NewChannelSink(auditBuffer, llm.SlogWriter)
	a.closers = append(a.closers, sink.Close)
	a.Provider = llm.WithAudit(
		llm.WithRetry(base, cfg.AI.RetryAttempts, cfg.AI.RetryDelay),
		sink,
		func() bool { return a.Settings.AIDebug(context.Background()) },
	)
	slog.Info("LLM provider initialized", "provider", a.Provider.Name(), "tier", tier)

	client := catalog.NewHTTPClient(cfg.Catalog.BaseURL, cfg.Catalog.ConsumerKey, cfg.Catalog.ConsumerSecret, cfg.Catalog.Timeout)
	a.Source = catalog.NewCachedSource(client, guard)
	mutator := catalog.NewGuardedMutator(client, guard)

	mail := mailer.New(cfg.SMTP)
	targets := []notify.Target{notify.LogTarget{}}
	if mail.Enabled() && mail.AdminAddress() != "" {
		targets = append(targets, notify.EmailTarget{Sender: mail, To: mail.AdminAddress(), MinLevel: notify.LevelWarning})
	}
	notifier := notify.NewFanout(notifyBuffer, notifyTimeout, targets...)
	a.closers = append(a.closers, notifier.Close)

	deps := actions.Deps{
		Catalog:   mutator,
		Customers: a.Source,
		Notifier:  notifier,
		Tasks:     st,
	}
	if mail.Enabled() {
		deps.Mailer = mail
	}
	if gw := sms.NewClient(cfg.SMS); gw.Enabled() {
		deps.SMS = gw
	}
	a.Actions = actions.NewService(st, actions.NewRegistry(deps), a.Settings, a.Meter)
	a.Tasks = actions.NewTaskRunner(st, deps)

	analyzerDeps := analysis.Deps{
		Source:      a.Source,
		Provider:    a.Provider,
		Store:       st,
		Guard:       guard,
		Limiter:     ratelimit.New(c, "llm", cfg.AI.CallsPerHour, time.Hour),
		ActionTypes: a.suggestableKinds,
	}
	a.Jobs = job.NewManager(job.Deps{
		Store:     st,
		Source:    a.Source,
		Products:  analysis.NewProductAnalyzer(analyzerDeps),
		Customers: analysis.NewCustomerAnalyzer(analyzerDeps),
		Actions:   a.Actions,
		Meter:     a.Meter,
		Settings:  a.Settings,
		Notifier:  notifier,
	}, cfg.Job)

	a.Inspector = llm.NewInspector(cfg.AI, a.Meter, c)
	a.httpLimiter = ratelimit.New(c, "http", cfg.RateLimit.RequestsPerMinute, time.Minute)
	a.Worker = worker.New(a.Jobs, a.Actions, a.Tasks, st, worker.Config{
		Interval:      cfg.Worker.Interval,
		RetentionDays: cfg.Retention.Days,
	})
	return a, nil
}

// suggestableKinds lists the kinds the model may propose: enabled in
// settings and available on the current tier.
func (a *App) suggestableKinds(ctx context.Context) []models.ActionType {
	tier, err := a.Meter.Tier(ctx)
	if err != nil {
		slog.Warn("loading tier for prompt failed", "error", err)
		tier = models.TierEnterprise
	}
	var out []models.ActionType
	for _, k := range models.ActionTypes {
		if a.Settings.Enabled(ctx, k) && subscription.ActionAllowed(tier, k) {
			out = append(out, k)
		}
	}
	return out
}

// Router builds the HTTP API over the App.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(a.Store),
		RateLimit: mw.NewRateLimit(a.httpLimiter),
		Health: handler.Health(map[string]handler.Check{
			"database": a.Store.Ping,
			"cache":    a.Cache.Ping,
			"catalog":  a.Source.Ready,
		}),
		Metrics:   metrics.Handler(),
		Jobs:      handler.NewJobs(a.Jobs),
		Actions:   handler.NewActions(a.Actions),
		Analyses:  handler.NewAnalyses(a.Store),
		Providers: handler.NewProviders(a.Inspector),
		Settings:  handler.NewSettings(a.Settings),
		Usage:     handler.Usage(a.Meter),
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
