package humidifier

import (
	"sync"
	"time"
)

// Notifier fans typed events out to subscribers. Delivery is synchronous and
// in subscription order, so a subscriber can read the snapshot and see the
// state the event describes. The zero value is ready to use.
type Notifier[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
func (n *Notifier[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscriber[T]{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, s := range n.subs {
				if s.id == id {
					n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers v to every current subscriber.
func (n *Notifier[T]) Publish(v T) {
	n.mu.RLock()
	subs := make([]subscriber[T], len(n.subs))
	copy(subs, n.subs)
	n.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of subscribers.
func (n *Notifier[T]) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// ConnectivityEvent reports a connection state transition or a failed cycle.
type ConnectivityEvent struct {
	State   ConnectionState `json:"state"`
	Message string          `json:"message,omitempty"`
	At      time.Time       `json:"timestamp"`
}

// InitializedEvent is published once, after the first successful poll.
type InitializedEvent struct {
	Snapshot Snapshot `json:"snapshot"`
}

// PollEvent carries the full candidate mapping of a successful cycle,
// before it is diffed against the snapshot.
type PollEvent struct {
	Values Snapshot  `json:"values"`
	At     time.Time `json:"timestamp"`
}

// Events groups the notification channels of one device.
type Events struct {
	Connectivity Notifier[ConnectivityEvent]
	Initialized  Notifier[InitializedEvent]
	StateChanged Notifier[ChangeEvent]
	Polled       Notifier[PollEvent]
	Commands     Notifier[CommandResult]
}
