package api

import (
	"sync"
)

// PlanEvent is one plan lifecycle event fanned out to city subscribers.
type PlanEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans plan events out per city.
type EventBroker interface {
	Subscribe(city string) chan PlanEvent
	Unsubscribe(city string, ch chan PlanEvent)
	Publish(city string, evt PlanEvent)
}

// Broker is the in-process EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan PlanEvent]struct{} // city -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan PlanEvent]struct{}{}}
}

func (b *Broker) Subscribe(city string) chan PlanEvent {
	ch := make(chan PlanEvent, 8)
	b.mu.Lock()
	if b.subs[city] == nil {
		b.subs[city] = map[chan PlanEvent]struct{}{}
	}
	b.subs[city][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(city string, ch chan PlanEvent) {
	b.mu.Lock()
	if m := b.subs[city]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, city)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(city string, evt PlanEvent) {
	b.mu.Lock()
	m := b.subs[city]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
