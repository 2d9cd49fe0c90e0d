package analyticsink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todo-1m/analytics/internal/analytics"
	"github.com/todo-1m/analytics/internal/contracts"
	"github.com/todo-1m/analytics/internal/platform/logger"
	"github.com/todo-1m/analytics/internal/sharding"
)

type fakeDispatcher struct {
	mu  sync.Mutex
	got []contracts.DomainEvent
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev contracts.DomainEvent) analytics.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, ev)
	return analytics.OutcomeApplied
}

func (f *fakeDispatcher) events() []contracts.DomainEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]contracts.DomainEvent(nil), f.got...)
}

func startService(t *testing.T) (*Service, *fakeDispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pool := sharding.NewPool(4, 16)
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		pool.Close()
		cancel()
		<-done
	})
	d := &fakeDispatcher{}
	return NewService(d, pool, logger.Nop()), d
}

func envelope(t *testing.T, ev contracts.DomainEvent) []byte {
	t.Helper()
	env, err := contracts.Wrap(ev, 0)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func TestHandle_DispatchesAndAcks(t *testing.T) {
	svc, d := startService(t)
	acked := make(chan struct{}, 1)

	err := svc.Handle(context.Background(), Delivery{
		Data: envelope(t, contracts.TaskDeleted{Meta: contracts.Meta{EventID: "e1", EntityID: "t1"}}),
		Ack:  func() error { acked <- struct{}{}; return nil },
		Term: func() error { t.Error("unexpected term"); return nil },
	})
	require.NoError(t, err)

	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not acked")
	}
	events := d.events()
	require.Len(t, events, 1)
	assert.Equal(t, contracts.TypeTaskDeleted, events[0].EventType())
	assert.Equal(t, "t1", events[0].EventMeta().EntityID)
}

func TestHandle_InvalidPayloadIsTerminated(t *testing.T) {
	svc, d := startService(t)
	termed := false

	err := svc.Handle(context.Background(), Delivery{
		Data: []byte("{not json"),
		Ack:  func() error { t.Error("unexpected ack"); return nil },
		Term: func() error { termed = true; return nil },
	})

	assert.True(t, errors.Is(err, contracts.ErrInvalidEnvelope))
	assert.True(t, IsPermanent(err))
	assert.True(t, termed)
	assert.Empty(t, d.events())
}

func TestHandle_UnsupportedTypeIsTerminated(t *testing.T) {
	svc, _ := startService(t)
	termed := false

	err := svc.Handle(context.Background(), Delivery{
		Data: []byte(`{"event_id":"e1","event_type":"todo.created","entity_id":"x","payload":{}}`),
		Term: func() error { termed = true; return nil },
	})

	assert.ErrorIs(t, err, contracts.ErrUnsupportedEventType)
	assert.True(t, termed)
}

func TestHandle_PreservesPerEntityOrder(t *testing.T) {
	svc, d := startService(t)
	var wg sync.WaitGroup
	const n = 20
	wg.Add(n)
	for i := 0; i < n; i++ {
		status := "IN_PROGRESS"
		if i%2 == 1 {
			status = "AVAILABLE"
		}
		ev := contracts.TaskStatusUpdated{
			Meta:   contracts.Meta{EventID: string(rune('a' + i)), EntityID: "t1"},
			Status: status,
		}
		require.NoError(t, svc.Handle(context.Background(), Delivery{
			Data: envelope(t, ev),
			Ack:  func() error { wg.Done(); return nil },
		}))
	}
	wg.Wait()

	events := d.events()
	require.Len(t, events, n)
	for i, ev := range events {
		assert.Equal(t, string(rune('a'+i)), ev.EventMeta().EventID)
	}
}

func TestHandle_ClosedPool(t *testing.T) {
	pool := sharding.NewPool(1, 1)
	pool.Close()
	svc := NewService(&fakeDispatcher{}, pool, logger.Nop())

	err := svc.Handle(context.Background(), Delivery{
		Data: envelope(t, contracts.TaskDeleted{Meta: contracts.Meta{EventID: "e1", EntityID: "t1"}}),
	})
	assert.ErrorIs(t, err, sharding.ErrPoolClosed)
	assert.False(t, IsPermanent(err))
}
