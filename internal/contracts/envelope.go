package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidEnvelope = errors.New("invalid event envelope")
var ErrUnsupportedEventType = errors.New("unsupported event type")

// Envelope is the wire shape published on app.event.> subjects.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	EntityID   string          `json:"entity_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	ShardID    int             `json:"shard_id"`
	Payload    json.RawMessage `json:"payload"`
}

// EntityKind is the subject segment for an event type ("task" or "user").
func EntityKind(eventType string) string {
	if strings.HasPrefix(eventType, "user.") {
		return "user"
	}
	return "task"
}

// Wrap builds the envelope for event. The payload carries the variant fields;
// the envelope carries the meta, which wins on decode.
func Wrap(event DomainEvent, shardID int) (Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event.EventType(), err)
	}
	meta := event.EventMeta()
	return Envelope{
		EventID:    meta.EventID,
		EventType:  event.EventType(),
		EntityID:   meta.EntityID,
		OccurredAt: meta.OccurredAt,
		ShardID:    shardID,
		Payload:    payload,
	}, nil
}

// Decode parses a raw envelope into its typed DomainEvent.
func Decode(raw []byte) (DomainEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrInvalidEnvelope
	}
	return env.Event()
}

// Event materialises the variant named by EventType.
func (env Envelope) Event() (DomainEvent, error) {
	if strings.TrimSpace(env.EntityID) == "" {
		return nil, fmt.Errorf("%w: entity_id is required", ErrInvalidEnvelope)
	}
	meta := Meta{EventID: env.EventID, EntityID: env.EntityID, OccurredAt: env.OccurredAt}

	switch env.EventType {
	case TypeTaskCreated:
		var e TaskCreated
		return decodeInto(env.Payload, &e, func() DomainEvent { e.Meta = meta; return e })
	case TypeTaskUpdated:
		var e TaskUpdated
		return decodeInto(env.Payload, &e, func() DomainEvent { e.Meta = meta; return e })
	case TypeTaskStatusUpdated:
		var e TaskStatusUpdated
		return decodeInto(env.Payload, &e, func() DomainEvent { e.Meta = meta; return e })
	case TypeTaskCompleted:
		var e TaskCompleted
		return decodeInto(env.Payload, &e, func() DomainEvent { e.Meta = meta; return e })
	case TypeTaskDeleted:
		var e TaskDeleted
		return decodeInto(env.Payload, &e, func() DomainEvent { e.Meta = meta; return e })
	case TypeTaskAssigneesUpdated:
		var e TaskAssigneesUpdated
		return decodeInto(env.Payload, &e, func() DomainEvent { e.Meta = meta; return e })
	case TypeUserRegistered:
		var e UserRegistered
		return decodeInto(env.Payload, &e, func() DomainEvent { e.Meta = meta; return e })
	case TypeUserLoginSucceeded:
		var e UserLoginSucceeded
		return decodeInto(env.Payload, &e, func() DomainEvent { e.Meta = meta; return e })
	case TypeUserLoginFailed:
		var e UserLoginFailed
		return decodeInto(env.Payload, &e, func() DomainEvent { e.Meta = meta; return e })
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEventType, env.EventType)
	}
}

func decodeInto(payload json.RawMessage, target any, build func() DomainEvent) (DomainEvent, error) {
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, target); err != nil {
			return nil, ErrInvalidEnvelope
		}
	}
	return build(), nil
}
