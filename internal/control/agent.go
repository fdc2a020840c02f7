package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/flatshare/internal/cache"
	"github.com/vietddude/flatshare/internal/client"
	"github.com/vietddude/flatshare/internal/connectivity"
	"github.com/vietddude/flatshare/internal/core/config"
	"github.com/vietddude/flatshare/internal/core/domain"
	"github.com/vietddude/flatshare/internal/core/worker"
	"github.com/vietddude/flatshare/internal/errclass"
	redisclient "github.com/vietddude/flatshare/internal/infra/redis"
	"github.com/vietddude/flatshare/internal/infra/storage"
	"github.com/vietddude/flatshare/internal/infra/storage/postgres"
	"github.com/vietddude/flatshare/internal/queue"
	"github.com/vietddude/flatshare/internal/server"
)

// Agent is the sync agent: it owns the stores, the connectivity monitor, the
// request client and the status server.
type Agent struct {
	cfg     Config
	stores  *Stores
	queue   *queue.Queue
	cache   *cache.Cache
	client  *client.Client
	monitor *connectivity.Monitor
	server  *server.Server
	log     *slog.Logger
	cancel  context.CancelFunc
}

// Config holds the application configuration.
type Config struct {
	Port         int // <= 0 disables the status server
	API          config.APIConfig
	Cache        config.CacheConfig
	Queue        config.QueueConfig
	Storage      config.StorageConfig
	Redis        redisclient.Config
	Database     postgres.Config
	Connectivity config.ConnectivityConfig
}

// FromAppConfig maps file configuration onto Config.
func FromAppConfig(cfg *config.AppConfig) Config {
	return Config{
		Port:         cfg.Server.Port,
		API:          cfg.API,
		Cache:        cfg.Cache,
		Queue:        cfg.Queue,
		Storage:      cfg.Storage,
		Redis:        cfg.Redis,
		Database:     cfg.Database,
		Connectivity: cfg.Connectivity,
	}
}

type options struct {
	platform connectivity.Platform
	doer     client.Doer
}

// Option customizes NewAgent.
type Option func(*options)

// WithPlatform replaces the interface probe.
func WithPlatform(p connectivity.Platform) Option {
	return func(o *options) { o.platform = p }
}

// WithDoer replaces the HTTP transport of the request client.
func WithDoer(d client.Doer) Option {
	return func(o *options) { o.doer = d }
}

// NewAgent creates a new Agent with all dependencies initialized.
func NewAgent(ctx context.Context, cfg Config, opts ...Option) (*Agent, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.platform == nil {
		o.platform = connectivity.NewProbePlatform(connectivity.ProbeConfig{
			Targets:  cfg.Connectivity.Targets,
			Interval: cfg.Connectivity.ProbeInterval,
		})
	}

	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	q, err := queue.New(ctx, stores.Queue)
	if err != nil {
		stores.Close()
		return nil, err
	}
	ch := cache.New(
		cache.WithRepository(stores.Cache),
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
	)

	monitor := connectivity.NewMonitor(ctx, o.platform)

	clientOpts := []client.Option{
		client.WithBaseURL(cfg.API.BaseURL),
		client.WithTimeout(cfg.API.Timeout),
		client.WithMonitor(monitor),
		client.WithClassifier(errclass.New()),
		client.WithMaxReplayAttempts(cfg.Queue.MaxReplayAttempts),
	}
	if cfg.API.Token != "" {
		clientOpts = append(clientOpts, client.WithTokenSource(client.StaticToken(cfg.API.Token)))
	}
	if o.doer != nil {
		clientOpts = append(clientOpts, client.WithDoer(o.doer))
	}
	c := client.New(q, ch, clientOpts...)
	monitor.AttachRetrier(c)

	a := &Agent{
		cfg:     cfg,
		stores:  stores,
		queue:   q,
		cache:   ch,
		client:  c,
		monitor: monitor,
		log:     slog.Default().With("component", "agent"),
	}
	if cfg.Port > 0 {
		a.server = server.NewServer(c, monitor, c.Classifier(), cfg.Port)
	}

	monitor.Subscribe(a.logEvent)
	return a, nil
}

// Client returns the request client.
func (a *Agent) Client() *client.Client { return a.client }

// Monitor returns the connectivity monitor.
func (a *Agent) Monitor() *connectivity.Monitor { return a.monitor }

// Start starts the status server and background replay.
func (a *Agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("Status server failed", "error", err)
			}
		}()
	}

	a.stores.StartMetricsCollector(ctx)
	a.monitor.StartPeriodicRetry(a.cfg.Connectivity.RetryInterval)

	// Redis expires entries natively; the other stores need a pruner.
	if pr, ok := a.stores.Cache.(storage.CachePruner); ok && a.cfg.Cache.Retention > 0 {
		go worker.NewPruner(pr, a.cfg.Cache.Retention).Start(ctx)
	}

	state := a.monitor.State()
	a.log.Info("Agent started",
		"status", state.Status,
		"type", state.Type,
		"pending", a.queue.Size(),
		"storage", a.cfg.Storage.Driver,
	)

	// Requests persisted by a previous run are replayed right away when online.
	if state.Online() && a.queue.Size() > 0 {
		go func() {
			if _, err := a.client.RetryOfflineRequests(ctx); err != nil {
				a.log.Warn("Startup replay failed", "error", err)
			}
		}()
	}
	return nil
}

// Stop stops the agent.
func (a *Agent) Stop(ctx context.Context) error {
	a.log.Info("Stopping agent...")

	a.monitor.Cleanup()
	if a.cancel != nil {
		a.cancel()
	}

	var errs []error
	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop status server: %w", err))
		}
	}
	if err := a.stores.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close stores: %w", err))
	}
	return errors.Join(errs...)
}

func (a *Agent) logEvent(ev domain.ConnectivityEvent) {
	switch ev.Kind {
	case domain.EventRetrySweepStarted:
		a.log.Info("Replaying queued requests", "count", ev.Retried)
	case domain.EventQualityChanged:
		a.log.Debug("Network quality changed", "quality", ev.Current.Quality, "type", ev.Current.Type)
	}
}
