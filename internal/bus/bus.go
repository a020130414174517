// Package bus provides the ordered in-process message channel connecting
// submitters, memory managers, and the coordinator. It is the only
// communication path between those components; none of them share mutable
// memory directly.
package bus

import (
	"log"
	"sync"

	"patterncore/pkg/domain"
)

// Topic names for the proposal pipeline.
const (
	// TopicPropose carries proposals from the coordinator to managers.
	TopicPropose = "mem.propose"
	// TopicVote carries manager votes back to the coordinator.
	TopicVote = "mem.vote"
	// TopicCommit broadcasts quorum outcomes with their full vote sets.
	TopicCommit = "mem.commit"
)

// Message is the envelope delivered on every topic. Exactly one payload
// member is set, matching the topic.
type Message struct {
	Topic    string
	Proposal *domain.Proposal
	Vote     *domain.Vote
	Commit   *domain.CommitRecord
}

type subscriber struct {
	ch chan Message
}

// Bus is a minimal ordered topic fan-out. Publishes on a topic are
// serialized, so each subscriber observes messages in publish order. A
// subscriber that falls behind its buffer loses messages rather than
// stalling the pipeline; drops are logged and counted.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]*subscriber
	dropped map[string]int
	closed  bool
}

// New constructs an empty bus.
func New() *Bus {
	return &Bus{
		subs:    make(map[string][]*subscriber),
		dropped: make(map[string]int),
	}
}

// Subscribe registers a buffered subscription to a topic. The returned
// channel is closed when the bus shuts down.
func (b *Bus) Subscribe(topic string, buffer int) <-chan Message {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan Message, buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub.ch
}

// Publish delivers the message to every current subscriber of its topic in
// registration order. Per-topic FIFO ordering is guaranteed by serializing
// publishes under the bus lock.
func (b *Bus) Publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs[msg.Topic] {
		select {
		case sub.ch <- msg:
		default:
			b.dropped[msg.Topic]++
			log.Printf("[BUS] dropped message on %s (subscriber backlog, %d total)", msg.Topic, b.dropped[msg.Topic])
		}
	}
}

// Dropped returns the count of messages dropped on a topic.
func (b *Bus) Dropped(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped[topic]
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.subs = make(map[string][]*subscriber)
}
