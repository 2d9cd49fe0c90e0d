package messaging

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	EventsStream   = "EVENTS"
	EventsSubjects = "app.event.>"
)

// EnsureStreams creates (or validates) the event stream consumed by the
// analytics sink. Duplicate publishes carrying the same Nats-Msg-Id inside
// the window are dropped by the server.
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(EventsStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:       EventsStream,
			Subjects:   []string{EventsSubjects},
			Retention:  nats.LimitsPolicy,
			Storage:    nats.FileStorage,
			Replicas:   1,
			Duplicates: 2 * time.Minute,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}
