package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amonhq/amon/pkg/plugin"
	"go.uber.org/zap"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var got []string
	bus.Subscribe("maint.window.ended", func(_ context.Context, e plugin.Event) {
		got = append(got, e.Topic)
	})

	bus.Publish(context.Background(), plugin.Event{Topic: "maint.window.ended"})
	bus.Publish(context.Background(), plugin.Event{Topic: "other.topic"})

	if len(got) != 1 {
		t.Fatalf("handler called %d times, want 1", len(got))
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())

	calls := 0
	unsub := bus.Subscribe("t", func(context.Context, plugin.Event) { calls++ })
	bus.Publish(context.Background(), plugin.Event{Topic: "t"})
	unsub()
	bus.Publish(context.Background(), plugin.Event{Topic: "t"})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 after unsubscribe", calls)
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(zap.NewNop())

	topics := map[string]bool{}
	bus.SubscribeAll(func(_ context.Context, e plugin.Event) { topics[e.Topic] = true })

	bus.Publish(context.Background(), plugin.Event{Topic: "a"})
	bus.Publish(context.Background(), plugin.Event{Topic: "b"})

	if !topics["a"] || !topics["b"] {
		t.Errorf("wildcard subscriber saw %v, want both topics", topics)
	}
}

func TestBus_PanickingHandlerDoesNotPoisonOthers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	bus.Subscribe("t", func(context.Context, plugin.Event) { panic("boom") })
	ok := false
	bus.Subscribe("t", func(context.Context, plugin.Event) { ok = true })

	bus.Publish(context.Background(), plugin.Event{Topic: "t"})
	if !ok {
		t.Error("second handler must run despite the first panicking")
	}
}

func TestBus_PublishAsync(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe("t", func(context.Context, plugin.Event) { wg.Done() })

	bus.PublishAsync(context.Background(), plugin.Event{Topic: "t"})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler never ran")
	}
}
