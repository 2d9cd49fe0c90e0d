package analyticsink

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subscribe binds the service to a JetStream queue group with manual acks.
func (s *Service) Subscribe(ctx context.Context, js nats.JetStreamContext, subject, queue string) (*nats.Subscription, error) {
	return js.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		d := Delivery{
			Data: msg.Data,
			Ack:  func() error { return msg.Ack() },
			Term: func() error { return msg.Term() },
		}
		if err := s.Handle(ctx, d); err != nil && !IsPermanent(err) {
			s.Logger.Error("event not queued, awaiting redelivery", zap.String("subject", msg.Subject), zap.Error(err))
		}
	}, nats.ManualAck(), nats.DeliverAll())
}
