package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a lifecycle or transfer event.
type EventType string

const (
	EventWorkerConnected     EventType = "worker.connected"
	EventWorkerDisconnected  EventType = "worker.disconnected"
	EventTrainerConnected    EventType = "trainer.connected"
	EventTrainerDisconnected EventType = "trainer.disconnected"
	EventBufferMerged        EventType = "buffer.merged"
	EventBatchForwarded      EventType = "batch.forwarded"
	EventWeightsStored       EventType = "weights.stored"
	EventWeightsSent         EventType = "weights.sent"
	EventAckTimeout          EventType = "ack.timeout"
)

// Event records one occurrence inside a role process.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	ConnID    string
	Message   string
	Fields    map[string]string
}

// New builds an event with a fresh ID and the current timestamp.
func New(t EventType, connID, message string, fields map[string]string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now(),
		ConnID:    connID,
		Message:   message,
		Fields:    fields,
	}
}

// Subscriber is a channel that receives published events.
type Subscriber chan *Event

const (
	brokerBuffer     = 100
	subscriberBuffer = 50
)

// Broker fans events out to subscribers. Delivery is best-effort: a
// subscriber that stops draining its channel misses events rather than
// stalling the publisher.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a stopped broker; call Start before publishing.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, brokerBuffer),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts distribution. Pending events are dropped.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers a new subscriber channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, subscriberBuffer)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish hands an event to the broker. Safe to call from any goroutine.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, skip
		}
	}
}
