package baseplate

import (
	"context"
	"fmt"
	"sync"

	"github.com/golobby/cast"

	"github.com/baseplate-systems/baseplate/health"
)

// ConfigSlice is the subtree of the global configuration under
// modules.<name>, or an empty map if the section is absent. It is passed
// verbatim to a module's factory; the core never interprets keys other
// than "enabled".
type ConfigSlice map[string]any

// Enabled resolves the slice's "enabled" flag, defaulting to true when
// absent. Values are coerced defensively (bool, "true"/"false", 0/1)
// rather than causing a type-assertion panic on a config author's slip.
func (c ConfigSlice) Enabled() bool {
	raw, ok := c["enabled"]
	if !ok {
		return true
	}
	parsed, err := cast.FromString(fmt.Sprint(raw), "bool")
	if err != nil {
		return true
	}
	enabled, ok := parsed.(bool)
	if !ok {
		return true
	}
	return enabled
}

// ModuleDescriptor is the declarative identity of a module: its unique
// name, an informational semantic version, the ordered set of module
// names that must start before it, and the search root that produced it.
// The loader sets Root on the winning descriptor; which candidate wins an
// override is decided by the order of the search roots, not by this field.
type ModuleDescriptor struct {
	Name         string
	Version      string
	Dependencies []string
	Root         string
}

// ModuleFactory is what a module registers with BasePlate in place of the
// directory-scan-plus-reflection discovery the original runtime used:
// instead of a framework walking the filesystem looking for a "manager"
// artefact, each module links in a ModuleFactory and the embedder supplies
// an ordered list of factories per search root.
type ModuleFactory interface {
	// Describe returns the module's static descriptor. It must be pure:
	// no side effects, callable before New, safe to call many times.
	Describe() ModuleDescriptor

	// New constructs a ModuleInstance bound to bus and cfg. Called at
	// most once per OSManager lifetime for a given factory.
	New(bus *MessageBus, cfg ConfigSlice) (ModuleInstance, error)
}

// FactoryFunc adapts a descriptor plus a plain constructor function into
// a ModuleFactory, for the common case where a module has no other state
// to hang the interface off of.
type FactoryFunc struct {
	Descriptor  ModuleDescriptor
	Constructor func(bus *MessageBus, cfg ConfigSlice) (ModuleInstance, error)
}

func (f FactoryFunc) Describe() ModuleDescriptor { return f.Descriptor }

func (f FactoryFunc) New(bus *MessageBus, cfg ConfigSlice) (ModuleInstance, error) {
	return f.Constructor(bus, cfg)
}

// ModuleInstance is a constructed module bound to its bus and configuration
// slice. A module is instantiated at most once per OSManager lifetime, and
// Start is called at most once before a matching Stop.
type ModuleInstance interface {
	// Name returns the module's unique identifier, matching its
	// descriptor's Name.
	Name() string

	// Start performs the side effects needed to enter operation. On
	// success it must leave the module Running. On failure it must leave
	// the module not Running and return an error wrapping ErrModuleStart
	// semantics (the loader does the wrapping; modules just return their
	// own cause).
	Start(ctx context.Context) error

	// Stop performs idempotent shutdown. It must not block past ctx's
	// deadline and should log-and-return rather than panic on cleanup
	// failure. Running must become false once Stop has run, regardless of
	// whether cleanup fully succeeded.
	Stop(ctx context.Context) error

	// SystemCheck returns this module's current health. It must not
	// block for more than a few hundred milliseconds under normal
	// conditions; the aggregator enforces a hard timeout regardless.
	SystemCheck(ctx context.Context) (health.HealthReport, error)

	// Running reports whether Start has completed successfully and Stop
	// has not yet completed.
	Running() bool
}

// BaseModule implements the Running bookkeeping and the default
// SystemCheck behaviour ({healthy: running, status: running ? "running" :
// "stopped"}) so concrete modules can embed it and only implement the
// side effects that matter to them.
type BaseModule struct {
	name string

	mu      sync.RWMutex
	running bool
}

// NewBaseModule constructs a BaseModule with the given name. Concrete
// modules embed this and call MarkStarted/MarkStopped from their own
// Start/Stop.
func NewBaseModule(name string) *BaseModule {
	return &BaseModule{name: name}
}

func (m *BaseModule) Name() string { return m.name }

func (m *BaseModule) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// MarkStarted sets running to true. Call this at the end of a successful
// Start.
func (m *BaseModule) MarkStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
}

// MarkStopped sets running to false. Call this at the end of Stop
// unconditionally, even if cleanup only partially succeeded.
func (m *BaseModule) MarkStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

// SystemCheck implements the default health behaviour described in the
// module contract. Modules with richer health information should not
// embed this method directly; they should define their own SystemCheck
// and may call DefaultHealthReport for the baseline to extend.
func (m *BaseModule) SystemCheck(_ context.Context) (health.HealthReport, error) {
	return m.DefaultHealthReport(), nil
}

// DefaultHealthReport returns the baseline report derived purely from the
// Running flag.
func (m *BaseModule) DefaultHealthReport() health.HealthReport {
	running := m.Running()
	status := "stopped"
	if running {
		status = "running"
	}
	return health.HealthReport{Healthy: running, Status: status}
}
