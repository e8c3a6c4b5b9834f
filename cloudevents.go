package baseplate

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// EventSink receives a CloudEvent. Embedders implement this to forward
// BasePlate's lifecycle mirror to an external logging or metrics sink
// (a CloudEvents-aware broker, an OTel exporter, etc). Errors are logged
// and never propagate back into the bus delivery they were mirroring.
type EventSink interface {
	Send(ctx context.Context, event cloudevents.Event) error
}

// CloudEvent type constants for the topics the core owns. These follow
// CloudEvents reverse-domain convention purely for the mirrored envelope;
// the bus's own topics (see manager.go) remain plain strings.
const (
	EventTypeModuleStarting = "systems.baseplate.module.starting"
	EventTypeModuleStarted  = "systems.baseplate.module.started"
	EventTypeModuleStopping = "systems.baseplate.module.stopping"
	EventTypeModuleStopped  = "systems.baseplate.module.stopped"
	EventTypeBootFailed     = "systems.baseplate.boot.failed"
	EventTypeShutdown       = "systems.baseplate.shutdown"
)

// newCloudEvent builds a CloudEvents v1 envelope carrying data as its
// JSON payload, mirroring a bus-owned lifecycle occurrence for sinks that
// want a standardized event format rather than BasePlate's native
// map[string]any Message.
func newCloudEvent(eventType, source string, data map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

// mirrorToSink emits a CloudEvent through sink if one is configured. Send
// failures are logged, never raised: the mirror is a best-effort
// observability side channel and must never affect bus delivery or boot
// outcomes.
func mirrorToSink(ctx context.Context, sink EventSink, logger Logger, eventType, source string, data map[string]any) {
	if sink == nil {
		return
	}
	event := newCloudEvent(eventType, source, data)
	if err := sink.Send(ctx, event); err != nil {
		logger.Debug("cloudevents mirror send failed", "type", eventType, "error", err)
	}
}
