package leave

import (
	"context"
	"sync"
	"time"

	"leaveflow/internal/platform/events"
	"leaveflow/internal/requestctx"
)

// Subscription is a live view over a filter. Every change to the store
// delivers the full matching set on Updates, starting with an initial
// snapshot. After Cancel returns nothing more is delivered and Updates is
// closed.
type Subscription struct {
	updates chan []LeaveRequest
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (s *Subscription) Updates() <-chan []LeaveRequest {
	return s.updates
}

// Cancel stops the feed. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancel()
	})
	<-s.done
}

type snapshotFunc func(ctx context.Context) ([]LeaveRequest, error)

func subscribe(ctx context.Context, broker events.Broker, timeout time.Duration, snapshot snapshotFunc) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	changes, err := broker.Subscribe(ctx, events.TopicLeaveRequests)
	if err != nil {
		cancel()
		return nil, unavailable(err, "subscribe to leave request changes")
	}

	sub := &Subscription{
		updates: make(chan []LeaveRequest),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go sub.run(ctx, changes, timeout, snapshot)
	return sub, nil
}

func (s *Subscription) run(ctx context.Context, changes events.Subscription, timeout time.Duration, snapshot snapshotFunc) {
	defer close(s.done)
	defer close(s.updates)
	defer func() {
		if err := changes.Close(); err != nil {
			requestctx.Logger(ctx).Warn("leave subscription close failed", "err", err)
		}
	}()

	if !s.push(ctx, timeout, snapshot) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes.C():
			if !ok {
				return
			}
			if !s.push(ctx, timeout, snapshot) {
				return
			}
		}
	}
}

// push re-reads the matching set and hands it to the consumer. It returns
// false once the subscription is cancelled.
func (s *Subscription) push(ctx context.Context, timeout time.Duration, snapshot snapshotFunc) bool {
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	reqs, err := snapshot(queryCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		requestctx.Logger(ctx).Warn("leave subscription refresh failed", "err", err)
		return true
	}
	select {
	case s.updates <- reqs:
		return true
	case <-ctx.Done():
		return false
	}
}
