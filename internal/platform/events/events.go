package events

import "context"

// TopicLeaveRequests carries the id of every leave request that was created
// or updated.
const TopicLeaveRequests = "leave_requests.changed"

// Broker fans change notifications out to subscribers. Delivery is best
// effort: a slow subscriber may miss intermediate messages, so consumers
// treat a message as "something changed" and re-read state.
type Broker interface {
	Publish(ctx context.Context, topic, payload string) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

type Subscription interface {
	C() <-chan string
	Close() error
}
