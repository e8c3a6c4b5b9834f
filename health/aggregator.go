// Package health implements the system-check aggregator: parallel
// per-module health probes under a shared timeout with per-module error
// and timeout containment, generalizing the module host's health
// aggregation service (concurrent provider collection with panic
// recovery, now enforcing a hard wall-clock deadline rather than a
// per-provider context alone) to the module-host-core contract.
//
// This package defines its own HealthReport/AggregateHealthResult/Checker
// types rather than importing the root baseplate package: the root package
// constructs and drives an Aggregator, so the dependency can only run one
// way. A ModuleInstance satisfies Checker structurally — no adapter type is
// needed at the call site, just a map conversion.
package health

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Logger is the minimal logging surface the aggregator needs, matching the
// root package's Logger interface in shape so any implementation of one
// satisfies the other.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// HealthReport is produced by a module's SystemCheck. Implementations may
// add diagnostic fields beyond Healthy/Status; the aggregator adds Error
// when a probe fails or times out.
type HealthReport struct {
	Healthy bool           `json:"healthy"`
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// AggregateHealthResult is the result of a system-wide check: every probed
// module's HealthReport plus the overall conjunction of their Healthy
// flags.
type AggregateHealthResult struct {
	OverallHealthy bool                    `json:"overall_healthy"`
	Modules        map[string]HealthReport `json:"modules"`
}

// Checker is anything whose health can be probed. A module-host
// ModuleInstance satisfies this with its SystemCheck method; the aggregator
// never needs to know about Start/Stop/Running.
type Checker interface {
	SystemCheck(ctx context.Context) (HealthReport, error)
}

// Aggregator runs a module's SystemCheck on an independent goroutine per
// module and joins with a shared deadline, never itself hanging: a module
// whose probe cannot be terminated is still reported as timed out, and its
// goroutine is abandoned rather than joined.
type Aggregator struct {
	logger Logger
	cache  *lru.Cache[string, AggregateHealthResult]
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// NewAggregator constructs an Aggregator. cacheSize bounds the number of
// recent results kept by request id; pass 0 to disable caching entirely
// (every call probes live).
func NewAggregator(logger Logger, cacheSize int) *Aggregator {
	if logger == nil {
		logger = nopLogger{}
	}
	var cache *lru.Cache[string, AggregateHealthResult]
	if cacheSize > 0 {
		cache, _ = lru.New[string, AggregateHealthResult](cacheSize)
	}
	return &Aggregator{logger: logger, cache: cache}
}

// probeResult is what a single module's goroutine sends back.
type probeResult struct {
	module string
	report HealthReport
}

// RunSystemCheck invokes SystemCheck on every module in modules on an
// independent goroutine, with a shared deadline of timeout. A module that
// completes within the deadline is reported as-is (validated: Status must
// be non-empty or the report is replaced with an invalid-response report).
// A module that exceeds the deadline is reported as timed out; a module
// whose SystemCheck returns an error is reported as errored. The overall
// result's OverallHealthy is the conjunction of every reported module's
// Healthy flag — vacuously true when modules is empty.
//
// If requestID is non-empty and a cached result for it exists within the
// aggregator's cache, that cached result is returned without probing any
// module: this only applies to a request id a caller is re-presenting
// (e.g. a bridge module re-forwarding the same request.request_id to two
// different topics per the module host's "both patterns are permitted"
// allowance). A blank requestID never hits the cache and always probes
// live modules.
func (a *Aggregator) RunSystemCheck(ctx context.Context, modules map[string]Checker, timeout time.Duration, requestID string) AggregateHealthResult {
	if requestID != "" && a.cache != nil {
		if cached, ok := a.cache.Get(requestID); ok {
			return cached
		}
	}

	result := a.probeAll(ctx, modules, timeout)

	if requestID != "" && a.cache != nil {
		a.cache.Add(requestID, result)
	}
	return result
}

func (a *Aggregator) probeAll(ctx context.Context, modules map[string]Checker, timeout time.Duration) AggregateHealthResult {
	reports := make(map[string]HealthReport, len(modules))

	if timeout <= 0 {
		// Spec requires timeout=0 to return timeouts for every module
		// without spawning workers.
		for name := range modules {
			reports[name] = timeoutReport(timeout)
		}
		return aggregate(reports)
	}

	results := make(chan probeResult, len(modules))
	for name, mod := range modules {
		go a.probeOne(ctx, name, mod, results)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	remaining := len(modules)
	for remaining > 0 {
		select {
		case r := <-results:
			reports[r.module] = r.report
			remaining--
		case <-deadline.C:
			// Abandon every module that hasn't reported yet; their
			// goroutines may still be running in the background but we
			// do not wait for them.
			for name := range modules {
				if _, done := reports[name]; !done {
					reports[name] = timeoutReport(timeout)
				}
			}
			return aggregate(reports)
		}
	}
	return aggregate(reports)
}

func (a *Aggregator) probeOne(ctx context.Context, name string, mod Checker, results chan<- probeResult) {
	defer func() {
		if r := recover(); r != nil {
			results <- probeResult{module: name, report: errorReport(fmt.Sprintf("panic: %v", r))}
		}
	}()

	report, err := mod.SystemCheck(ctx)
	if err != nil {
		results <- probeResult{module: name, report: errorReport(err.Error())}
		return
	}
	if report.Status == "" {
		results <- probeResult{module: name, report: invalidReport("health report missing status field")}
		return
	}
	results <- probeResult{module: name, report: report}
}

func timeoutReport(timeout time.Duration) HealthReport {
	return HealthReport{
		Healthy: false,
		Status:  "timeout",
		Error:   fmt.Sprintf("timed out after %s", timeout),
	}
}

func errorReport(msg string) HealthReport {
	return HealthReport{Healthy: false, Status: "error", Error: msg}
}

func invalidReport(msg string) HealthReport {
	return HealthReport{Healthy: false, Status: "invalid_response", Error: msg}
}

func aggregate(reports map[string]HealthReport) AggregateHealthResult {
	overall := true
	for _, r := range reports {
		if !r.Healthy {
			overall = false
			break
		}
	}
	return AggregateHealthResult{OverallHealthy: overall, Modules: reports}
}
