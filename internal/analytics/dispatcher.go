package analytics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/todo-1m/analytics/internal/contracts"
	"github.com/todo-1m/analytics/internal/platform/logger"
	"github.com/todo-1m/analytics/internal/platform/metrics"
	"github.com/todo-1m/analytics/internal/platform/telemetry"
)

// Outcome is what happened to one dispatched event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDropped   Outcome = "dropped"
)

var (
	eventsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "analytics_events_total",
		Help: "Domain events dispatched by type and outcome.",
	}, []string{"type", "outcome"})
	handleSeconds = metrics.NewHistogramVec(metrics.Opts{
		Name: "analytics_event_handle_seconds",
		Help: "Handler latency by event type.",
	}, []string{"type"}, metrics.DefaultDurationBuckets)
)

func init() {
	metrics.Default.MustRegister(eventsTotal, handleSeconds)
}

// Dispatcher routes each event to exactly one handler. Handler errors are
// logged and the event is dropped; nothing is retried.
type Dispatcher struct {
	Engine *Engine
}

// NewDispatcher returns a dispatcher over engine.
func NewDispatcher(engine *Engine) *Dispatcher {
	return &Dispatcher{Engine: engine}
}

// Dispatch applies ev and reports the outcome. It never returns an error.
func (d *Dispatcher) Dispatch(ctx context.Context, ev contracts.DomainEvent) Outcome {
	if ev == nil {
		d.Engine.log().Warn("nil event skipped")
		eventsTotal.WithLabelValues("unknown", string(OutcomeSkipped)).Inc()
		return OutcomeSkipped
	}
	meta := ev.EventMeta()
	eventType := ev.EventType()
	log := d.Engine.log().WithFields(
		zap.String("event_id", meta.EventID),
		zap.String("event_type", eventType),
		zap.String("entity_id", meta.EntityID),
	)

	ctx, span := telemetry.Tracer("analytics").Start(ctx, "analytics.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", eventType),
		attribute.String("event.id", meta.EventID),
		attribute.String("entity.id", meta.EntityID),
	)

	start := time.Now()
	outcome := d.dispatch(ctx, ev, meta, log)
	handleSeconds.ObserveSince(start, eventType)
	eventsTotal.WithLabelValues(eventType, string(outcome)).Inc()
	span.SetAttributes(attribute.String("event.outcome", string(outcome)))
	if outcome == OutcomeDropped {
		span.SetStatus(codes.Error, "event dropped")
	}
	return outcome
}

func (d *Dispatcher) dispatch(ctx context.Context, ev contracts.DomainEvent, meta contracts.Meta, log *logger.Logger) Outcome {
	e := d.Engine
	if e.Policy.DedupEvents && meta.EventID != "" {
		first, err := e.Store.MarkEventApplied(ctx, meta.EventID, meta.EntityID, e.now())
		switch {
		case err != nil:
			log.Error("event ledger unavailable, applying without dedup", zap.Error(err))
		case !first:
			log.Debug("duplicate event skipped")
			return OutcomeDuplicate
		}
	}

	var err error
	switch v := ev.(type) {
	case contracts.TaskCreated:
		err = e.HandleTaskCreated(ctx, v)
	case contracts.TaskUpdated:
		err = e.HandleTaskUpdated(ctx, v)
	case contracts.TaskStatusUpdated:
		err = e.HandleTaskStatusUpdated(ctx, v)
	case contracts.TaskCompleted:
		err = e.HandleTaskCompleted(ctx, v)
	case contracts.TaskDeleted:
		err = e.HandleTaskDeleted(ctx, v)
	case contracts.TaskAssigneesUpdated:
		err = e.HandleTaskAssigneesUpdated(ctx, v)
	case contracts.UserRegistered:
		err = e.HandleUserRegistered(ctx, v)
	case contracts.UserLoginSucceeded:
		err = e.HandleUserLoginSucceeded(ctx, v)
	case contracts.UserLoginFailed:
		err = e.HandleUserLoginFailed(ctx, v)
	default:
		log.Warn("unhandled event variant skipped")
		return OutcomeSkipped
	}

	switch {
	case err == nil:
		log.Debug("event applied")
		return OutcomeApplied
	case errors.Is(err, errUnknownTask):
		log.Warn("event references unknown task, skipped")
		return OutcomeSkipped
	default:
		log.Error("event dropped", zap.Error(err))
		return OutcomeDropped
	}
}
