// Package analyticsink feeds JetStream deliveries into the analytics
// dispatcher, one partition worker per entity key.
package analyticsink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/todo-1m/analytics/internal/analytics"
	"github.com/todo-1m/analytics/internal/contracts"
	"github.com/todo-1m/analytics/internal/platform/logger"
	"github.com/todo-1m/analytics/internal/platform/metrics"
	"github.com/todo-1m/analytics/internal/sharding"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, ev contracts.DomainEvent) analytics.Outcome
}

// Delivery is one received message with its acknowledgement hooks.
type Delivery struct {
	Data []byte
	Ack  func() error
	Term func() error
}

type Service struct {
	Dispatcher Dispatcher
	Pool       *sharding.Pool
	Logger     *logger.Logger
}

func NewService(dispatcher Dispatcher, pool *sharding.Pool, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{Dispatcher: dispatcher, Pool: pool, Logger: log.WithComponent("analytics-sink")}
}

// Handle decodes d and queues it on the worker owning its entity id. A
// payload that cannot be decoded is terminated so it is never redelivered.
// Once dispatched the delivery is acked whatever the outcome.
func (s *Service) Handle(ctx context.Context, d Delivery) error {
	ev, err := contracts.Decode(d.Data)
	if err != nil {
		s.Logger.Warn("discarding undecodable event", zap.Error(err))
		if d.Term != nil {
			_ = d.Term()
		}
		return err
	}

	meta := ev.EventMeta()
	err = s.Pool.Submit(ctx, meta.EntityID, func(ctx context.Context) {
		outcome := s.Dispatcher.Dispatch(ctx, ev)
		if d.Ack != nil {
			if ackErr := d.Ack(); ackErr != nil {
				s.Logger.Warn("ack failed",
					zap.String("event_id", meta.EventID),
					zap.String("outcome", string(outcome)),
					zap.Error(ackErr),
				)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("queue event %s: %w", meta.EventID, err)
	}
	return nil
}

// IsPermanent reports whether err came from a payload that will never
// decode.
func IsPermanent(err error) bool {
	return errors.Is(err, contracts.ErrInvalidEnvelope) || errors.Is(err, contracts.ErrUnsupportedEventType)
}

// RegisterMetrics exposes the worker queue depth on reg.
func (s *Service) RegisterMetrics(reg *metrics.Registry) {
	reg.MustRegister(metrics.NewGaugeFunc(metrics.Opts{
		Name: "analytics_sink_pending_jobs",
		Help: "Events queued on partition workers and not yet dispatched.",
	}, func() float64 { return float64(s.Pool.Pending()) }))
}
