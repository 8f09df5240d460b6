package trigger

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"contentsync/internal/trigger/metrics"
)

// Outcome is what became of one event in a delivered batch.
type Outcome int

const (
	// OutcomeUnsafe: the filter rejected the event.
	OutcomeUnsafe Outcome = iota
	// OutcomeNoRequest: the translator produced no request.
	OutcomeNoRequest
	// OutcomeDelivered: the handler accepted a request.
	OutcomeDelivered
	// OutcomeFailed: filtering, translation or handling failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnsafe:
		return metrics.OutcomeUnsafe
	case OutcomeNoRequest:
		return metrics.OutcomeNoRequest
	case OutcomeDelivered:
		return metrics.OutcomeDelivered
	default:
		return metrics.OutcomeFailed
	}
}

// BatchResult summarizes the dispatch of one delivered batch.
type BatchResult struct {
	Received  int
	Unsafe    int
	NoRequest int
	Delivered int
	Failed    int
	Errors    []*EventError
}

func (r *BatchResult) record(o Outcome) {
	switch o {
	case OutcomeUnsafe:
		r.Unsafe++
	case OutcomeNoRequest:
		r.NoRequest++
	case OutcomeDelivered:
		r.Delivered++
	case OutcomeFailed:
		r.Failed++
	}
}

// listener is attached to the change source on behalf of one handler.
type listener struct {
	trigger *Trigger
	handler RequestHandler
}

// OnEvents implements Listener.
func (l *listener) OnEvents(ctx context.Context, events []Event) {
	l.trigger.dispatch(ctx, l.handler, events)
}

// dispatch processes a batch strictly in delivery order. A failing event is
// logged and dropped; the rest of the batch is still processed.
func (t *Trigger) dispatch(ctx context.Context, handler RequestHandler, events []Event) BatchResult {
	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "trigger.dispatch", trace.WithAttributes(
		attribute.String("handler", handler.Identity()),
		attribute.Int("events", len(events)),
	))
	defer span.End()

	t.logger.Debug("handling change events", "handler", handler.Identity(), "count", len(events))

	res := BatchResult{Received: len(events)}
	for i, event := range events {
		outcome, err := t.processEvent(ctx, handler, event)
		res.record(outcome)
		if t.metrics != nil {
			t.metrics.ObserveEvent(outcome.String())
		}
		if err != nil {
			res.Errors = append(res.Errors, err)
			t.logger.Error("error while handling event",
				"handler", handler.Identity(),
				"stage", err.Stage,
				"index", i,
				"event_type", event.Type.String(),
				"path", event.Path,
				"identifier", event.Identifier,
				"error", err.Err,
			)
		}
	}

	if res.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d events failed", res.Failed, res.Received))
	}
	span.SetAttributes(attribute.Int("delivered", res.Delivered))
	if t.metrics != nil {
		t.metrics.ObserveBatch(start)
	}
	return res
}

// processEvent runs filter, translator and handler for one event. Errors and
// panics from any of them come back as an *EventError.
func (t *Trigger) processEvent(ctx context.Context, handler RequestHandler, event Event) (outcome Outcome, evErr *EventError) {
	stage := StageFilter
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeFailed
			evErr = &EventError{Stage: stage, Event: event, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	safe, err := t.strategy.IsSafe(event)
	if err != nil {
		return OutcomeFailed, &EventError{Stage: stage, Event: event, Err: err}
	}
	if !safe {
		return OutcomeUnsafe, nil
	}

	stage = StageTranslate
	req, err := t.strategy.ProcessEvent(ctx, event)
	if err != nil {
		return OutcomeFailed, &EventError{Stage: stage, Event: event, Err: err}
	}
	if req == nil {
		return OutcomeNoRequest, nil
	}

	stage = StageHandle
	if err := handler.Handle(ctx, *req); err != nil {
		return OutcomeFailed, &EventError{Stage: stage, Event: event, Err: err}
	}
	return OutcomeDelivered, nil
}
