package baseplate

import "errors"

// Error kinds surfaced by the core, one sentinel per row of the error
// table in the BasePlate module host specification. Callers should use
// errors.Is against these rather than matching on message text.
var (
	// ErrConfigInvalid is returned when the configuration tree is missing
	// or malformed in a way the core cannot recover from.
	ErrConfigInvalid = errors.New("baseplate: invalid configuration")

	// ErrDuplicateModule is returned at discovery when two search roots of
	// equal priority register a candidate with the same name.
	ErrDuplicateModule = errors.New("baseplate: duplicate module at equal priority")

	// ErrMissingDependency is returned at resolution when a declared
	// dependency is not present among the enabled candidate set.
	ErrMissingDependency = errors.New("baseplate: missing dependency")

	// ErrCircularDependency is returned at resolution when the dependency
	// graph contains a cycle.
	ErrCircularDependency = errors.New("baseplate: circular dependency")

	// ErrModuleLoad is returned when a module's factory fails to
	// construct an instance.
	ErrModuleLoad = errors.New("baseplate: module construction failed")

	// ErrModuleStart is returned when a module's Start returns an error.
	// The loader has already reverse-stopped every module started before
	// the failing one by the time this is surfaced.
	ErrModuleStart = errors.New("baseplate: module start failed")

	// ErrModuleStop is logged, not propagated as a boot failure; it is
	// exported so tests and embedders can recognize it inside a combined
	// shutdown error.
	ErrModuleStop = errors.New("baseplate: module stop failed")

	// ErrHandlerFailed marks a bus handler error or panic that was
	// contained by the bus.
	ErrHandlerFailed = errors.New("baseplate: bus handler failed")

	// ErrHealthProbeTimeout marks a system_check that exceeded its
	// deadline.
	ErrHealthProbeTimeout = errors.New("baseplate: health probe timed out")

	// ErrHealthProbeInvalid marks a system_check whose result could not
	// be interpreted as a health report.
	ErrHealthProbeInvalid = errors.New("baseplate: health probe returned invalid report")

	// ErrApplicationNotBooted is returned by Run when called before Boot
	// has completed successfully. (Shutdown before Boot is a no-op.)
	ErrApplicationNotBooted = errors.New("baseplate: application not booted")

	// ErrApplicationAlreadyBooted guards against calling Boot twice on
	// the same OSManager.
	ErrApplicationAlreadyBooted = errors.New("baseplate: application already booted")
)

// Phase identifies which stage of boot a fatal error occurred in, per the
// process-surface contract: boot-time failures exit non-zero with a
// structured log line identifying the phase and offending module.
type Phase string

const (
	PhaseDiscovery    Phase = "discovery"
	PhaseResolution    Phase = "resolution"
	PhaseConstruction Phase = "construction"
	PhaseStart        Phase = "start"
)

// BootError wraps a fatal boot-time error with the phase it occurred in
// and, where known, the offending module name.
type BootError struct {
	Phase  Phase
	Module string
	Err    error
}

func (e *BootError) Error() string {
	if e.Module == "" {
		return string(e.Phase) + ": " + e.Err.Error()
	}
	return string(e.Phase) + ": module " + e.Module + ": " + e.Err.Error()
}

func (e *BootError) Unwrap() error { return e.Err }
