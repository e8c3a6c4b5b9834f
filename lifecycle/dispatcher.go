// Package lifecycle provides the boot/shutdown event dispatcher OSManager
// uses to surface its observable side effects (module start/stop
// transitions, boot phase progress) to anything that registers interest,
// independently of the MessageBus (OSManager starts the dispatcher at the
// beginning of Boot and stops it at the end of Shutdown, after every module
// has been stopped).
package lifecycle

import (
	"context"
	"sync"
	"time"
)

// EventType is a dot-separated lifecycle event name, e.g.
// "module.starting" or "shutdown.completed".
type EventType string

// Event is a single lifecycle occurrence.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Source    string
	Metadata  map[string]any
}

// Observer receives dispatched events. OnEvent errors are logged by the
// dispatcher and do not prevent delivery to other observers, mirroring
// the MessageBus's handler-error-isolation contract.
type Observer interface {
	ID() string
	OnEvent(ctx context.Context, event Event) error
}

// FuncObserver adapts a plain function to the Observer interface.
type FuncObserver struct {
	id string
	fn func(ctx context.Context, event Event) error
}

// NewFuncObserver builds an Observer from a callback.
func NewFuncObserver(id string, fn func(ctx context.Context, event Event) error) *FuncObserver {
	return &FuncObserver{id: id, fn: fn}
}

func (o *FuncObserver) ID() string { return o.id }
func (o *FuncObserver) OnEvent(ctx context.Context, event Event) error {
	return o.fn(ctx, event)
}

// ErrorHandler is invoked when an observer's OnEvent fails; Dispatcher
// itself has no Logger dependency so it stays import-light, and the
// caller (OSManager) supplies logging via this hook.
type ErrorHandler func(observerID string, event Event, err error)

// Dispatcher buffers events on a channel and delivers them to registered
// observers from a single background goroutine, so OnEvent implementations
// never race each other and a slow observer cannot block the publisher of
// an event past the buffer filling up.
type Dispatcher struct {
	mu        sync.RWMutex
	observers map[string]Observer
	onError   ErrorHandler

	events  chan Event
	stop    chan struct{}
	done    chan struct{}
	running bool
	runMu   sync.Mutex
}

// NewDispatcher builds a Dispatcher with the given buffer size. A bufSize
// of 0 uses a reasonable default.
func NewDispatcher(bufSize int, onError ErrorHandler) *Dispatcher {
	if bufSize <= 0 {
		bufSize = 256
	}
	if onError == nil {
		onError = func(string, Event, error) {}
	}
	return &Dispatcher{
		observers: make(map[string]Observer),
		onError:   onError,
		events:    make(chan Event, bufSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the background delivery loop. Calling Start twice without
// an intervening Stop is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.running {
		return
	}
	d.running = true
	go d.loop(ctx)
}

// Stop drains no further events and terminates the delivery loop. It
// blocks until the loop has exited, guaranteeing no observer is mid-call
// when Stop returns... except that an observer currently blocked in
// OnEvent is not forcibly cancelled; Stop waits for the loop to notice the
// stop signal between deliveries, consistent with the module host's
// no-general-cancellation contract.
func (d *Dispatcher) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if !d.running {
		return
	}
	close(d.stop)
	<-d.done
	d.running = false
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case event := <-d.events:
			d.deliver(ctx, event)
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	d.mu.RLock()
	observers := make([]Observer, 0, len(d.observers))
	for _, o := range d.observers {
		observers = append(observers, o)
	}
	d.mu.RUnlock()

	for _, o := range observers {
		if err := o.OnEvent(ctx, event); err != nil {
			d.onError(o.ID(), event, err)
		}
	}
}

// Dispatch enqueues event for delivery. If the buffer is full it waits up
// to 50ms for room, then drops the event and reports errEventBufferFull via
// onError with an empty observer id.
func (d *Dispatcher) Dispatch(event Event) {
	select {
	case d.events <- event:
	case <-time.After(50 * time.Millisecond):
		d.onError("", event, errEventBufferFull)
	}
}

// RegisterObserver adds observer to the delivery set. Re-registering the
// same ID replaces the previous observer.
func (d *Dispatcher) RegisterObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers[o.ID()] = o
}

// UnregisterObserver removes an observer by id. Idempotent.
func (d *Dispatcher) UnregisterObserver(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.observers, id)
}

var errEventBufferFull = dispatcherError("lifecycle: event buffer full, event dropped")

type dispatcherError string

func (e dispatcherError) Error() string { return string(e) }
