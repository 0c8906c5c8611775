package api

import (
	"testing"
	"time"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	ch1 := b.Subscribe("delhi")
	ch2 := b.Subscribe("delhi")
	other := b.Subscribe("mumbai")
	defer b.Unsubscribe("mumbai", other)

	b.Publish("delhi", PlanEvent{Type: "plan.completed", Data: map[string]any{"city": "delhi"}})

	for i, ch := range []chan PlanEvent{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Type != "plan.completed" {
				t.Fatalf("subscriber %d got %+v", i, evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
	select {
	case evt := <-other:
		t.Fatalf("mumbai subscriber got delhi event: %+v", evt)
	default:
	}

	b.Unsubscribe("delhi", ch1)
	b.Unsubscribe("delhi", ch2)
	if _, ok := <-ch1; ok {
		t.Fatal("unsubscribe did not close the channel")
	}
}

func TestBrokerDropsWhenSubscriberIsSlow(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("delhi")
	defer b.Unsubscribe("delhi", ch)

	// fill the buffer and keep publishing; Publish must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("delhi", PlanEvent{Type: "plan.completed"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBrokerPublishWithoutSubscribers(t *testing.T) {
	b := NewBroker()
	b.Publish("nowhere", PlanEvent{Type: "plan.failed"})
}
