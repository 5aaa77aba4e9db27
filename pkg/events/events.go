package events

import (
	"sync"
	"time"

	"github.com/cuemby/corral/pkg/types"
)

// Subscriber is a channel that receives transition records
type Subscriber chan *types.Transition

// Broker manages transition subscriptions and distribution
type Broker struct {
	subscribers  map[Subscriber]bool
	mu           sync.RWMutex
	transitionCh chan *types.Transition
	stopCh       chan struct{}
}

// NewBroker creates a new transition broker
func NewBroker() *Broker {
	return &Broker{
		subscribers:  make(map[Subscriber]bool),
		transitionCh: make(chan *types.Transition, 100), // Buffer up to 100 transitions
		stopCh:       make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes a transition to all subscribers
func (b *Broker) Publish(tr *types.Transition) {
	// Set timestamp if not set
	if tr.Time.IsZero() {
		tr.Time = time.Now()
	}

	select {
	case b.transitionCh <- tr:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case tr := <-b.transitionCh:
			b.broadcast(tr)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(tr *types.Transition) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- tr:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
