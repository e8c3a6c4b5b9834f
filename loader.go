package baseplate

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/baseplate-systems/baseplate/health"
	"github.com/baseplate-systems/baseplate/registry"
)

// SearchRoot is an ordered, named source of module factories. Roots are
// supplied to the loader in priority order: root[0] is highest priority
// and shadows any same-named candidate from a later root. In the original
// directory-scan design a SearchRoot was a filesystem path; here it is
// simply a named, ordered set of statically linked factories (a "user"
// root and a "builtin" root, say).
type SearchRoot struct {
	Name      string
	Factories []ModuleFactory
}

// factoryCandidate adapts a ModuleFactory to registry.Candidate.
type factoryCandidate struct {
	factory ModuleFactory
	root    string
}

func (c factoryCandidate) CandidateName() string { return c.factory.Describe().Name }

// ModuleLoader discovers modules from ordered search roots, applies the
// override policy, resolves dependency order, and manages the
// construct/start/stop lifecycle of the resulting ModuleInstance set. The
// loader exclusively owns the ModuleInstance collection once Load has
// succeeded.
type ModuleLoader struct {
	bus    *MessageBus
	config *Tree
	logger Logger

	roots []SearchRoot

	descriptors map[string]ModuleDescriptor // post-override, enabled only
	order       []string                    // dependency order, deps first
	instances   map[string]ModuleInstance
	started     []string // in the order Start succeeded, for reverse stop
}

// NewModuleLoader constructs a loader over the given search roots. bus is
// the MessageBus every module instance will be bound to; config is used to
// resolve each module's enablement and configuration slice.
func NewModuleLoader(bus *MessageBus, config *Tree, logger Logger, roots []SearchRoot) *ModuleLoader {
	if logger == nil {
		logger = NopLogger()
	}
	return &ModuleLoader{
		bus:       bus,
		config:    config,
		logger:    logger,
		roots:     roots,
		instances: make(map[string]ModuleInstance),
	}
}

// Load runs discovery, the enablement filter, the override policy, and
// dependency resolution, then constructs every resulting module in
// resolved order. It does not start any module. Construction errors abort
// loading: already-constructed modules are discarded, not started.
func (l *ModuleLoader) Load(ctx context.Context) error {
	layers := make([]registry.Layer[factoryCandidate], 0, len(l.roots))
	for _, root := range l.roots {
		candidates := make([]factoryCandidate, 0, len(root.Factories))
		for _, f := range root.Factories {
			candidates = append(candidates, factoryCandidate{factory: f, root: root.Name})
		}
		layers = append(layers, registry.Layer[factoryCandidate]{Name: root.Name, Candidates: candidates})
	}

	winners, discovered, err := registry.Resolve(layers)
	if err != nil {
		var dup *registry.DuplicateError
		if asDuplicateError(err, &dup) {
			return &BootError{Phase: PhaseDiscovery, Module: dup.Name, Err: fmt.Errorf("%w: %s", ErrDuplicateModule, dup.Error())}
		}
		return &BootError{Phase: PhaseDiscovery, Err: err}
	}

	enabled := make(map[string]ModuleFactory)
	descriptors := make(map[string]ModuleDescriptor)
	for name, cand := range winners {
		slice := l.config.ModuleSlice(name)
		if !slice.Enabled() {
			l.logger.Debug("module disabled, skipping", "module", name)
			continue
		}
		desc := cand.factory.Describe()
		desc.Root = cand.root
		enabled[name] = cand.factory
		descriptors[name] = desc
	}

	order, err := resolveOrder(descriptors, discovered)
	if err != nil {
		return &BootError{Phase: PhaseResolution, Err: err}
	}

	instances := make(map[string]ModuleInstance, len(order))
	for _, name := range order {
		slice := l.config.ModuleSlice(name)
		instance, err := enabled[name].New(l.bus, slice)
		if err != nil {
			return &BootError{Phase: PhaseConstruction, Module: name, Err: fmt.Errorf("%w: %s: %v", ErrModuleLoad, name, err)}
		}
		instances[name] = instance
		l.logger.Info("constructed module", "module", name)
	}

	l.descriptors = descriptors
	l.order = order
	l.instances = instances
	return nil
}

// asDuplicateError is a small errors.As wrapper kept local to avoid an
// import cycle concern between registry's generic error type and the
// stdlib errors package's type constraints on pointer-to-interface.
func asDuplicateError(err error, target **registry.DuplicateError) bool {
	if d, ok := err.(*registry.DuplicateError); ok {
		*target = d
		return true
	}
	return false
}

// resolveOrder performs a DFS topological sort over the dependency graph
// with a deterministic tie-break (nodes, and each node's dependencies, are
// visited in discovery order, as given by discovered) and returns a
// path-annotated cycle error if one is found.
func resolveOrder(descriptors map[string]ModuleDescriptor, discovered []string) ([]string, error) {
	names := make([]string, 0, len(descriptors))
	rank := make(map[string]int, len(discovered))
	for i, name := range discovered {
		rank[name] = i
		if _, ok := descriptors[name]; ok {
			names = append(names, name)
		}
	}

	var result []string
	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	var path []string

	var visit func(string) error
	visit = func(node string) error {
		if inStack[node] {
			cycle := append(append([]string{}, path...), node)
			return fmt.Errorf("%w: %s", ErrCircularDependency, formatCycle(cycle))
		}
		if visited[node] {
			return nil
		}

		desc, ok := descriptors[node]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingDependency, node)
		}

		inStack[node] = true
		path = append(path, node)

		deps := make([]string, len(desc.Dependencies))
		copy(deps, desc.Dependencies)
		sort.SliceStable(deps, func(i, j int) bool { return rank[deps[i]] < rank[deps[j]] })

		for _, dep := range deps {
			if _, exists := descriptors[dep]; !exists {
				return fmt.Errorf("%w: %s depends on %s", ErrMissingDependency, node, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		inStack[node] = false
		path = path[:len(path)-1]
		visited[node] = true
		result = append(result, node)
		return nil
	}

	for _, name := range names {
		if !visited[name] {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func formatCycle(cycle []string) string {
	s := ""
	for i, name := range cycle {
		if i > 0 {
			s += " -> "
		}
		s += name
	}
	return s
}

// StartAll calls Start on every loaded module in resolved order. On the
// first failure it reverse-stops every previously started module and
// returns a BootError wrapping ErrModuleStart; no partial success is
// surfaced to the caller.
func (l *ModuleLoader) StartAll(ctx context.Context) error {
	for _, name := range l.order {
		instance := l.instances[name]

		l.logger.Info("starting module", "module", name)
		if err := instance.Start(ctx); err != nil {
			l.logger.Error("module start failed, reverse-stopping started modules", "module", name, "error", err)
			l.stopStarted(ctx)
			return &BootError{Phase: PhaseStart, Module: name, Err: fmt.Errorf("%w: %s: %v", ErrModuleStart, name, err)}
		}
		l.started = append(l.started, name)
		l.logger.Info("started module", "module", name)
	}
	return nil
}

// StopAll stops every started module in reverse start order. Individual
// Stop failures are logged and do not halt teardown; every started module
// receives exactly one Stop call. Failures are combined with multierr and
// returned, but the combined error never hides an earlier module's
// failure to make room for a later one's.
func (l *ModuleLoader) StopAll(ctx context.Context) error {
	return l.stopStarted(ctx)
}

func (l *ModuleLoader) stopStarted(ctx context.Context) error {
	var errs error
	for i := len(l.started) - 1; i >= 0; i-- {
		name := l.started[i]
		instance := l.instances[name]

		l.logger.Info("stopping module", "module", name)
		if err := instance.Stop(ctx); err != nil {
			l.logger.Error("module stop failed", "module", name, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: %v", ErrModuleStop, name, err))
		} else {
			l.logger.Debug("stopped module", "module", name)
		}
	}
	l.started = nil
	return errs
}

// Instances returns the loaded module instances, keyed by name. The
// returned map must not be mutated by callers; it is owned by the loader.
func (l *ModuleLoader) Instances() map[string]ModuleInstance {
	return l.instances
}

// Order returns the resolved dependency order (dependencies first).
func (l *ModuleLoader) Order() []string {
	return l.order
}

// Checkers returns the loaded instances viewed as health.Checker, the
// minimal interface health.Aggregator probes against. Every ModuleInstance
// satisfies health.Checker already; this just narrows the map's value type
// so the health package never needs to import this one.
func (l *ModuleLoader) Checkers() map[string]health.Checker {
	out := make(map[string]health.Checker, len(l.instances))
	for name, instance := range l.instances {
		out[name] = instance
	}
	return out
}
