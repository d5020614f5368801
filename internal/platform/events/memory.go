package events

import (
	"context"
	"sync"
)

const memoryBuffer = 16

type MemoryBroker struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]*memorySub
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: map[string]map[int]*memorySub{}}
}

func (b *MemoryBroker) Publish(_ context.Context, topic, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- payload:
		default:
			// subscriber is behind; it will catch up on the next message
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &memorySub{broker: b, topic: topic, id: b.nextID, ch: make(chan string, memoryBuffer)}
	if b.subs[topic] == nil {
		b.subs[topic] = map[int]*memorySub{}
	}
	b.subs[topic][sub.id] = sub
	return sub, nil
}

type memorySub struct {
	broker *MemoryBroker
	topic  string
	id     int
	ch     chan string
	once   sync.Once
}

func (s *memorySub) C() <-chan string {
	return s.ch
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs[s.topic], s.id)
		s.broker.mu.Unlock()
		close(s.ch)
	})
	return nil
}
