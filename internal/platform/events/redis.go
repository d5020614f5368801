package events

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker relays notifications over Redis pub/sub so every API instance
// sees writes made by the others.
type RedisBroker struct {
	Client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{Client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, topic, payload string) error {
	return b.Client.Publish(ctx, topic, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.Client.Subscribe(ctx, topic)
	// Receive blocks until the subscription is confirmed so callers do not
	// miss messages published right after Subscribe returns.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &redisSub{ps: ps, ch: make(chan string, memoryBuffer), done: make(chan struct{})}
	go sub.pump()
	return sub, nil
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan string
	done chan struct{}
	once sync.Once
	err  error
}

func (s *redisSub) pump() {
	defer close(s.ch)
	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- msg.Payload:
			case <-s.done:
				return
			default:
			}
		}
	}
}

func (s *redisSub) C() <-chan string {
	return s.ch
}

func (s *redisSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
	})
	return s.err
}
