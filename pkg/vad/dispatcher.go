package vad

import (
	"context"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/observability"
)

const (
	DefaultEventQueueSize = 256
)

// eventDispatcher delivers events to the callbacks from its own
// goroutine, so slow consumers do not stall the frame processing.
type eventDispatcher struct {
	callbacks    Callbacks
	queue        chan Event
	doneCh       chan struct{}
	droppedCount atomic.Uint64
}

func newEventDispatcher(
	ctx context.Context,
	callbacks Callbacks,
	queueSize int,
) *eventDispatcher {
	d := &eventDispatcher{
		callbacks: callbacks,
		queue:     make(chan Event, queueSize),
		doneCh:    make(chan struct{}),
	}
	observability.Go(ctx, func() {
		defer close(d.doneCh)
		d.loop(ctx)
	})
	return d
}

func (d *eventDispatcher) loop(ctx context.Context) {
	logger.Tracef(ctx, "eventDispatcher.loop")
	defer logger.Tracef(ctx, "/eventDispatcher.loop")
	for ev := range d.queue {
		d.callbacks.call(ev)
	}
	if dropped := d.droppedCount.Load(); dropped > 0 {
		logger.Debugf(ctx, "dropped %d telemetry events", dropped)
	}
}

// Emit enqueues the event. Telemetry events are dropped if the queue is
// full; other events wait for a free slot unless ctx is cancelled.
func (d *eventDispatcher) Emit(ctx context.Context, ev Event) {
	if ev.Type.IsTelemetry() {
		select {
		case d.queue <- ev:
		default:
			dropped := d.droppedCount.Add(1)
			logger.Tracef(ctx, "the event queue is full, dropped %s event (total dropped: %d)", ev.Type, dropped)
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
		logger.Debugf(ctx, "unable to deliver %s event: %v", ev.Type, ctx.Err())
	}
}

func (d *eventDispatcher) DroppedCount() uint64 {
	return d.droppedCount.Load()
}

// Close makes the dispatcher stop after delivering the already queued
// events; it does not wait for that. Emit must not be called after Close.
func (d *eventDispatcher) Close() {
	close(d.queue)
}

// Done is closed when all the events are delivered after Close.
func (d *eventDispatcher) Done() <-chan struct{} {
	return d.doneCh
}
