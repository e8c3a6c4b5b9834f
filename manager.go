package baseplate

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/baseplate-systems/baseplate/health"
	"github.com/baseplate-systems/baseplate/lifecycle"
)

const (
	// TopicSystemCheckRequest is the externally facing health-probe
	// request topic.
	TopicSystemCheckRequest = "system.check.request"
	// TopicSystemCheckResponse carries the AggregateHealthResult answering
	// a TopicSystemCheckRequest (or TopicModuleLoaderSystemCheckRequest).
	TopicSystemCheckResponse = "system.check.response"
	// TopicModuleLoaderSystemCheckRequest is the internal bridge topic a
	// module may forward system.check.request onto; OSManager handles both
	// independently and each produces exactly one response.
	TopicModuleLoaderSystemCheckRequest = "module_loader.system_check.request"
	// TopicSystemShutdownRequest triggers an orderly shutdown, equivalent
	// to receiving SIGINT/SIGTERM.
	TopicSystemShutdownRequest = "system.shutdown.request"
)

// defaultSystemCheckTimeout is used when a system.check.request omits
// timeout_s, per spec §4.5's "configured default timeout (e.g., 5s)".
const defaultSystemCheckTimeout = 5 * time.Second

// Option configures an OSManager at construction time.
type Option func(*OSManager)

// WithLogger overrides the default zap-backed Logger.
func WithLogger(logger Logger) Option {
	return func(m *OSManager) { m.logger = logger }
}

// WithSearchRoots supplies the ordered search roots the loader discovers
// modules from. Roots are priority order: roots[0] shadows later roots on a
// name collision.
func WithSearchRoots(roots ...SearchRoot) Option {
	return func(m *OSManager) { m.roots = roots }
}

// WithEventSink attaches a CloudEvents sink mirroring core lifecycle and
// health events. Nil (the default) disables the mirror entirely.
func WithEventSink(sink EventSink) Option {
	return func(m *OSManager) { m.sink = sink }
}

// WithHealthCacheSize bounds how many AggregateHealthResults the aggregator
// keeps by request id. 0 (the default) disables caching.
func WithHealthCacheSize(n int) Option {
	return func(m *OSManager) { m.healthCacheSize = n }
}

// WithDefaultCheckTimeout overrides the timeout used when a
// system.check.request omits timeout_s.
func WithDefaultCheckTimeout(d time.Duration) Option {
	return func(m *OSManager) { m.defaultTimeout = d }
}

// WithSystemCheckSchedule configures a cron expression (standard 5-field,
// as parsed by robfig/cron) on which OSManager self-publishes a
// system.check.request. Empty (the default) disables periodic checks; the
// bus remains purely reactive per spec §4.5.
func WithSystemCheckSchedule(expr string) Option {
	return func(m *OSManager) { m.cronSchedule = expr }
}

// OSManager owns the MessageBus and ModuleLoader for one boot-to-shutdown
// lifetime: it loads configuration, wires the loader and aggregator,
// drives start-all/stop-all, and routes the core's reserved bus topics.
type OSManager struct {
	logger Logger
	bootID string

	roots           []SearchRoot
	sink            EventSink
	healthCacheSize int
	defaultTimeout  time.Duration
	cronSchedule    string

	mu         sync.Mutex
	booted     bool
	config     *Tree
	bus        *MessageBus
	loader     *ModuleLoader
	aggregator *health.Aggregator
	dispatcher *lifecycle.Dispatcher
	cronRunner *cron.Cron

	subs []SubscriptionID

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewOSManager constructs an OSManager. Construct must be called before
// Boot.
func NewOSManager(opts ...Option) *OSManager {
	m := &OSManager{
		logger:         NewZapLogger(nil),
		defaultTimeout: defaultSystemCheckTimeout,
		shutdownCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Construct reads configuration from configPath, then wires the bus,
// loader, aggregator, and lifecycle dispatcher. It performs no discovery,
// resolution, or instantiation; that happens in Boot.
func (m *OSManager) Construct(configPath string) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	return m.construct(config)
}

// ConstructWithConfig wires OSManager from an in-memory Tree, for embedders
// that assemble configuration programmatically rather than from a file.
func (m *OSManager) ConstructWithConfig(config *Tree) error {
	if config == nil {
		config = EmptyConfig()
	}
	return m.construct(config)
}

func (m *OSManager) construct(config *Tree) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bootID = uuid.NewString()
	m.config = config
	m.bus = NewMessageBus(m.logger)
	m.loader = NewModuleLoader(m.bus, m.config, m.logger, m.roots)
	m.aggregator = health.NewAggregator(m.logger, m.healthCacheSize)
	m.dispatcher = lifecycle.NewDispatcher(0, func(observerID string, event lifecycle.Event, err error) {
		m.logger.Error("lifecycle observer failed", "observer", observerID, "event", string(event.Type), "error", err)
	})

	m.logger.Info("constructed os manager", "boot_id", m.bootID)
	return nil
}

// Boot runs discovery, override resolution, dependency resolution,
// instantiation, and start-all, in that order, then subscribes the core's
// reserved bus topics. On any failure the loader has already reverse-stopped
// whatever it managed to start; Boot returns the failure without entering
// the run loop.
func (m *OSManager) Boot(ctx context.Context) error {
	m.mu.Lock()
	if m.booted {
		m.mu.Unlock()
		return ErrApplicationAlreadyBooted
	}
	m.mu.Unlock()

	m.dispatcher.Start(ctx)
	m.dispatcher.Dispatch(lifecycle.Event{Type: "boot.starting", Timestamp: time.Now(), Source: m.bootID})

	if err := m.loader.Load(ctx); err != nil {
		m.logger.Error("module loader discovery/resolution/construction failed", "error", err)
		m.mirrorBootFailure(ctx, err)
		return err
	}

	if err := m.loader.StartAll(ctx); err != nil {
		m.logger.Error("module start-all failed", "error", err)
		m.mirrorBootFailure(ctx, err)
		return err
	}

	m.mu.Lock()
	m.booted = true
	m.mu.Unlock()

	m.subscribeCoreTopics()

	if m.cronSchedule != "" {
		if err := m.startPeriodicCheck(); err != nil {
			m.logger.Warn("periodic system check schedule invalid, continuing without it", "schedule", m.cronSchedule, "error", err)
		}
	}

	m.dispatcher.Dispatch(lifecycle.Event{Type: "boot.completed", Timestamp: time.Now(), Source: m.bootID})
	mirrorToSink(ctx, m.sink, m.logger, EventTypeModuleStarted, m.bootID, map[string]any{"order": m.loader.Order()})

	m.logger.Info("boot completed", "boot_id", m.bootID, "modules", m.loader.Order())
	return nil
}

func (m *OSManager) mirrorBootFailure(ctx context.Context, err error) {
	m.dispatcher.Dispatch(lifecycle.Event{Type: "boot.failed", Timestamp: time.Now(), Source: m.bootID, Metadata: map[string]any{"error": err.Error()}})
	mirrorToSink(ctx, m.sink, m.logger, EventTypeBootFailed, m.bootID, map[string]any{"error": err.Error()})
}

func (m *OSManager) subscribeCoreTopics() {
	checkHandler := func(ctx context.Context, msg Message) error {
		m.handleSystemCheckRequest(ctx, msg)
		return nil
	}
	m.subs = append(m.subs,
		m.bus.Subscribe(TopicSystemCheckRequest, checkHandler),
		m.bus.Subscribe(TopicModuleLoaderSystemCheckRequest, checkHandler),
		m.bus.Subscribe(TopicSystemShutdownRequest, func(ctx context.Context, msg Message) error {
			reason, _ := msg["reason"].(string)
			m.logger.Info("shutdown requested over bus", "reason", reason)
			m.RequestShutdown()
			return nil
		}),
	)
}

func (m *OSManager) handleSystemCheckRequest(ctx context.Context, msg Message) {
	timeout := m.defaultTimeout
	if raw, ok := msg["timeout_s"]; ok {
		if seconds, err := toSeconds(raw); err == nil {
			timeout = time.Duration(seconds * float64(time.Second))
		}
	}

	requestID, _ := msg["request_id"].(string)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	result := m.aggregator.RunSystemCheck(ctx, m.loader.Checkers(), timeout, requestID)

	m.bus.Publish(ctx, TopicSystemCheckResponse, Message{
		"results":    result,
		"timestamp":  time.Now().Unix(),
		"request_id": requestID,
	})
	mirrorToSink(ctx, m.sink, m.logger, EventTypeModuleStarted, m.bootID, map[string]any{
		"topic": "system.check.response", "overall_healthy": result.OverallHealthy,
	})
}

func toSeconds(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("unsupported timeout_s type %T", raw)
	}
}

func (m *OSManager) startPeriodicCheck() error {
	m.cronRunner = cron.New()
	_, err := m.cronRunner.AddFunc(m.cronSchedule, func() {
		m.bus.Publish(context.Background(), TopicSystemCheckRequest, Message{})
	})
	if err != nil {
		m.cronRunner = nil
		return err
	}
	m.cronRunner.Start()
	return nil
}

// Run blocks until a shutdown is requested, either by SIGINT/SIGTERM or by
// a system.shutdown.request publish, then performs an orderly Shutdown and
// returns its result. Run requires a prior successful Boot.
func (m *OSManager) Run(ctx context.Context) error {
	m.mu.Lock()
	booted := m.booted
	m.mu.Unlock()
	if !booted {
		return ErrApplicationNotBooted
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info("received signal, shutting down", "signal", sig.String())
		m.RequestShutdown()
	case <-m.shutdownCh:
	case <-ctx.Done():
		m.RequestShutdown()
	}

	return m.Shutdown(context.Background())
}

// RequestShutdown signals Run to begin an orderly shutdown. Safe to call
// from a signal handler or a bus handler; idempotent.
func (m *OSManager) RequestShutdown() {
	m.shutdownOnce.Do(func() { close(m.shutdownCh) })
}

// Shutdown reverse-stops every started module, unsubscribes the core's bus
// topics, and stops the periodic check schedule if one was running.
// Idempotent: calling Shutdown when not booted is a no-op.
func (m *OSManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.booted {
		m.mu.Unlock()
		return nil
	}
	m.booted = false
	m.mu.Unlock()

	m.dispatcher.Dispatch(lifecycle.Event{Type: "shutdown.starting", Timestamp: time.Now(), Source: m.bootID})

	if m.cronRunner != nil {
		m.cronRunner.Stop()
	}

	for _, id := range m.subs {
		m.bus.Unsubscribe(id)
	}
	m.subs = nil

	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := m.loader.StopAll(stopCtx)
	if err != nil {
		m.logger.Error("shutdown completed with module stop errors", "error", err)
	} else {
		m.logger.Info("shutdown completed cleanly")
	}

	m.dispatcher.Dispatch(lifecycle.Event{Type: "shutdown.completed", Timestamp: time.Now(), Source: m.bootID})
	mirrorToSink(ctx, m.sink, m.logger, EventTypeShutdown, m.bootID, nil)
	m.dispatcher.Stop()

	return err
}

// Bus returns the MessageBus owned by this OSManager. Valid only after
// Construct.
func (m *OSManager) Bus() *MessageBus { return m.bus }

// Loader returns the ModuleLoader owned by this OSManager. Valid only
// after Construct.
func (m *OSManager) Loader() *ModuleLoader { return m.loader }

// BootID returns the correlation id generated at Construct, stable for
// this OSManager's lifetime.
func (m *OSManager) BootID() string { return m.bootID }
