package meshcord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/sargonas/meshcord/internal/adapters/deadletter"
	"github.com/sargonas/meshcord/internal/adapters/observability"
	"github.com/sargonas/meshcord/internal/adapters/queue"
	"github.com/sargonas/meshcord/internal/adapters/radio"
	"github.com/sargonas/meshcord/internal/adapters/store"
	"github.com/sargonas/meshcord/internal/adapters/webhook"
	"github.com/sargonas/meshcord/internal/app/conn"
	"github.com/sargonas/meshcord/internal/app/pipeline"
	"github.com/sargonas/meshcord/internal/ports"
)

// BridgeOption customizes the dependencies used by Bridge.
type BridgeOption func(*bridgeOverrides)

type bridgeOverrides struct {
	forwarder     Forwarder
	observability Observability
	dedup         DedupStore
	registry      NodeRegistry
	queue         DeliveryQueue
	deadletter    DeadLetter
	transform     Transformer
	links         []Link
}

// WithForwarder injects a custom forwarder so messages can go to any chat
// system or API instead of a Discord webhook.
func WithForwarder(f Forwarder) BridgeOption {
	return func(o *bridgeOverrides) {
		o.forwarder = f
	}
}

// WithObservability plugs in a custom logging and metrics backend
// (OpenTelemetry, test doubles, etc.).
func WithObservability(obs Observability) BridgeOption {
	return func(o *bridgeOverrides) {
		o.observability = obs
	}
}

// WithDedupStore injects a custom processed-message store, for example one
// shared with another bridge instance.
func WithDedupStore(s DedupStore) BridgeOption {
	return func(o *bridgeOverrides) {
		o.dedup = s
	}
}

// WithNodeRegistry injects a custom node identity cache.
func WithNodeRegistry(r NodeRegistry) BridgeOption {
	return func(o *bridgeOverrides) {
		o.registry = r
	}
}

// WithQueue injects a custom delivery queue implementation.
func WithQueue(q DeliveryQueue) BridgeOption {
	return func(o *bridgeOverrides) {
		o.queue = q
	}
}

// WithDeadLetter injects a custom dead letter writer.
func WithDeadLetter(d DeadLetter) BridgeOption {
	return func(o *bridgeOverrides) {
		o.deadletter = d
	}
}

// WithTransform installs a hook that runs between classification and
// formatting. Returning (nil, nil) drops the message without recording it
// as seen.
func WithTransform(t Transformer) BridgeOption {
	return func(o *bridgeOverrides) {
		o.transform = t
	}
}

// WithLinks replaces the radios declared in the config with custom Link
// implementations (simulators, MQTT bridges, tests).
func WithLinks(links ...Link) BridgeOption {
	return func(o *bridgeOverrides) {
		o.links = links
	}
}

// Bridge wires the link managers, the dedup and registry store, the message
// pipeline and the delivery worker together and exposes simple lifecycle
// hooks for embedding the radio-to-chat bridge inside any Go service.
type Bridge struct {
	cfg        *Config
	obs        ports.Observability
	dedup      ports.DedupStore
	registry   ports.NodeRegistry
	queue      ports.DeliveryQueue
	deadletter ports.DeadLetter
	forwarder  ports.Forwarder
	links      []ports.Link
	store      *store.SQLStore
	pipe       *pipeline.Pipeline
	worker     *pipeline.Worker
	managers   []*conn.Manager

	metricsSrv  *http.Server
	gaugeStopCh chan struct{}
	cancel      context.CancelFunc
	group       *errgroup.Group
	stopOnce    sync.Once
	waitOnce    sync.Once
	waitErr     error
}

// NewBridge bootstraps the default adapters (serial and HTTP radio links,
// SQL dedup store and node registry, in-memory queue, Discord webhook
// forwarder, Prometheus observability). Callers can use BridgeOption values
// to override any dependency and point the bridge at custom links, chat
// sinks, or telemetry backends.
func NewBridge(cfg *Config, opts ...BridgeOption) (*Bridge, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg.ApplyDefaults()

	var overrides bridgeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs(newLogger(cfg.LogLevel, cfg.LogFormat))
	}

	b := &Bridge{cfg: cfg, obs: obs}

	b.dedup = overrides.dedup
	b.registry = overrides.registry
	if b.dedup == nil || b.registry == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		b.store = st
		if b.dedup == nil {
			b.dedup = st
		}
		if b.registry == nil {
			b.registry = st
		}
	}

	b.queue = overrides.queue
	if b.queue == nil {
		b.queue = queue.NewMemQueue(cfg.Queue.Capacity, ports.OverflowPolicy(cfg.Queue.Policy))
	}

	b.deadletter = overrides.deadletter
	if b.deadletter == nil {
		dl, err := deadletter.NewFileLog(cfg.DeadLetter.Dir)
		if err != nil {
			return nil, err
		}
		b.deadletter = dl
	}

	b.forwarder = overrides.forwarder
	if b.forwarder == nil {
		if cfg.Forwarder.WebhookURL == "" {
			return nil, fmt.Errorf("forwarder.webhook_url is required when no forwarder is injected")
		}
		b.forwarder = webhook.NewDiscord(webhook.Config{
			URL:          cfg.Forwarder.WebhookURL,
			MaxChunkSize: cfg.Forwarder.MaxChunkSize,
			Timeout:      time.Duration(cfg.Forwarder.TimeoutSec) * time.Second,
			RateInterval: time.Duration(cfg.Forwarder.RateIntervalMS) * time.Millisecond,
			RateBurst:    cfg.Forwarder.RateBurst,
		})
	}

	b.links = overrides.links
	if len(b.links) == 0 {
		links, err := buildLinks(cfg.Radios)
		if err != nil {
			return nil, err
		}
		b.links = links
	}
	if len(b.links) == 0 {
		return nil, fmt.Errorf("at least one radio or injected link is required")
	}

	b.pipe = pipeline.New(b.dedup, b.registry, b.queue, obs, pipeline.Config{
		Filters:      cfg.KindFilters(),
		ShowSignal:   *cfg.ShowSignal,
		MaxChunkSize: b.forwarder.MaxChunkSize(),
		Transform:    overrides.transform,
	})

	b.worker = pipeline.NewWorker(b.queue, b.forwarder, b.deadletter, obs, pipeline.WorkerConfig{
		RetryAttempts: cfg.Forwarder.RetryAttempts,
		RetryBackoff:  time.Duration(cfg.Forwarder.RetryBackoffMS) * time.Millisecond,
	})

	mcfg := conn.ManagerConfig{
		SilenceTimeout:       time.Duration(cfg.Connection.SilenceTimeoutSec) * time.Second,
		ReadTimeout:          time.Duration(cfg.Connection.ReadTimeoutSec) * time.Second,
		ReconnectDelay:       time.Duration(cfg.Connection.ReconnectDelaySec) * time.Second,
		MaxReconnectDelay:    time.Duration(cfg.Connection.MaxReconnectDelaySec) * time.Second,
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
	}
	bcfg := conn.BreakerConfig{
		Threshold:   cfg.Connection.BreakerThreshold,
		Cooldown:    time.Duration(cfg.Connection.BreakerCooldownSec) * time.Second,
		MaxCooldown: time.Duration(cfg.Connection.BreakerMaxCooldownSec) * time.Second,
	}
	for _, l := range b.links {
		b.managers = append(b.managers, conn.NewManager(l, conn.NewBreaker(bcfg), b.pipe.Process, obs, mcfg))
	}

	return b, nil
}

// Start launches one connection manager per link, the delivery worker, the
// retention sweeper and the metrics listener. It returns immediately; call
// Run to block on a context instead. A bridge runs once: after Shutdown,
// build a new one.
func (b *Bridge) Start() error {
	if b == nil {
		return fmt.Errorf("bridge is nil")
	}
	if b.group != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	b.group = g

	for i := range b.managers {
		mgr := b.managers[i]
		tag := b.links[i].Tag()
		g.Go(func() error {
			err := mgr.Run(gctx)
			if errors.Is(err, conn.ErrLinkAbandoned) {
				// One dead radio must not stop the others.
				b.obs.LogCritical("link abandoned", err,
					ports.Field{Key: "link", Value: tag})
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		return b.worker.Run(gctx)
	})

	g.Go(func() error {
		store.RunSweeper(gctx, b.dedup,
			time.Duration(b.cfg.Store.SweepIntervalMin)*time.Minute,
			time.Duration(b.cfg.Store.RetentionHours)*time.Hour,
			b.obs)
		return nil
	})

	b.gaugeStopCh = make(chan struct{})
	go b.recordQueueGauges(b.gaugeStopCh, time.Second)

	if b.cfg.Metrics.Enabled {
		b.startMetrics()
	}
	return nil
}

// Run starts the bridge and blocks until the provided context is cancelled
// or every supervised loop has stopped. Upon return it attempts a graceful
// shutdown.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		_ = b.wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Shutdown(shutdownCtx)
}

// Shutdown stops the supervised loops, then releases the metrics listener,
// the queue, the dead letter log and the store. Safe to call more than once.
func (b *Bridge) Shutdown(ctx context.Context) error {
	if b == nil {
		return nil
	}

	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		if b.gaugeStopCh != nil {
			close(b.gaugeStopCh)
		}
	})

	var errs []error

	if b.group != nil {
		waitCh := make(chan error, 1)
		go func() { waitCh <- b.wait() }()
		select {
		case err := <-waitCh:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for workers: %w", ctx.Err()))
		}
	}

	if b.metricsSrv != nil {
		if err := b.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if b.queue != nil {
		b.queue.Close()
	}
	if b.deadletter != nil {
		if err := b.deadletter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// wait collects the supervision group result exactly once so Run and
// Shutdown can both consume it.
func (b *Bridge) wait() error {
	b.waitOnce.Do(func() {
		b.waitErr = b.group.Wait()
	})
	return b.waitErr
}

// registryProvider is satisfied by the default Prometheus observability
// backend. Custom backends without a registry fall back to the process-wide
// promhttp handler.
type registryProvider interface {
	Registry() *prometheus.Registry
}

func (b *Bridge) startMetrics() {
	handler := promhttp.Handler()
	if rp, ok := b.obs.(registryProvider); ok {
		handler = promhttp.HandlerFor(rp.Registry(), promhttp.HandlerOpts{})
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	b.metricsSrv = &http.Server{
		Addr:    b.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := b.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.obs.LogError("metrics server exited", err)
		}
	}()
}

func (b *Bridge) recordQueueGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var reported int64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.obs.SetGauge("meshcord_queue_length", float64(b.queue.Len()))
			if mq, ok := b.queue.(*queue.MemQueue); ok {
				if d := mq.Dropped(); d > reported {
					b.obs.IncCounter("meshcord_queue_dropped_total", float64(d-reported))
					reported = d
				}
			}
			b.obs.SetGauge("meshcord_deadletter_size_bytes", float64(b.deadletter.Stats().SizeBytes))
		}
	}
}

func buildLinks(radios []RadioConfig) ([]ports.Link, error) {
	links := make([]ports.Link, 0, len(radios))
	for i, r := range radios {
		switch r.Type {
		case "serial":
			if r.Port == "" {
				return nil, fmt.Errorf("radios[%d]: port is required for serial radios", i)
			}
			links = append(links, radio.NewSerialLink(radio.SerialConfig{
				Tag:  r.Name,
				Name: r.Name,
				Port: r.Port,
				Baud: r.Baud,
			}))
		case "http":
			if r.Address == "" {
				return nil, fmt.Errorf("radios[%d]: address is required for http radios", i)
			}
			links = append(links, radio.NewHTTPLink(radio.HTTPConfig{
				Tag:          r.Name,
				Name:         r.Name,
				Address:      r.Address,
				PollInterval: time.Duration(r.PollIntervalMS) * time.Millisecond,
			}))
		default:
			return nil, fmt.Errorf("radios[%d]: type must be \"serial\" or \"http\", got %q", i, r.Type)
		}
	}
	return links, nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
