// Package brokertest provides an in-memory broker for tests. Every topic has
// a single partition; consumers of the same group share one read position, so
// members of a group split the messages between them. A rewind returns the
// group to the oldest message the rewinding member has not committed, so a
// commit by one member never hides a failure of another.
package brokertest

import (
	"context"
	"slices"
	"sync"
	"time"

	"eventbus/internal/eventbus"
)

type groupKey struct {
	topic string
	group string
}

type deliveryKey struct {
	groupKey
	offset int64
}

type groupState struct {
	committed int64
	next      int64
	commits   []int64
	done      map[int64]bool
}

// Broker implements eventbus.Producer and eventbus.ConsumerFactory.
type Broker struct {
	mu         sync.Mutex
	topics     map[string][]eventbus.Message
	groups     map[groupKey]*groupState
	open       map[groupKey]int
	deliveries map[deliveryKey]int
	changed    chan struct{}
	sendErr    error
}

func NewBroker() *Broker {
	return &Broker{
		topics:     make(map[string][]eventbus.Message),
		groups:     make(map[groupKey]*groupState),
		open:       make(map[groupKey]int),
		deliveries: make(map[deliveryKey]int),
		changed:    make(chan struct{}),
	}
}

// Send appends msgs to their topics.
func (b *Broker) Send(ctx context.Context, msgs ...eventbus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sendErr != nil {
		return b.sendErr
	}

	for _, m := range msgs {
		log := b.topics[m.Topic]
		m.Partition = 0
		m.Offset = int64(len(log))
		m.Key = slices.Clone(m.Key)
		m.Value = slices.Clone(m.Value)
		m.Headers = slices.Clone(m.Headers)
		if m.Time.IsZero() {
			m.Time = time.Now().UTC()
		}
		b.topics[m.Topic] = append(log, m)
	}
	b.broadcast()

	return nil
}

// Close implements eventbus.Producer.
func (b *Broker) Close() error {
	return nil
}

// FailSends makes every following Send return err. A nil err restores sends.
func (b *Broker) FailSends(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sendErr = err
}

// Open implements eventbus.ConsumerFactory.
func (b *Broker) Open(_ context.Context, topic, group string) (eventbus.Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := groupKey{topic: topic, group: group}
	b.open[key]++
	b.group(key)

	return &consumer{broker: b, key: key, pending: make(map[int64]struct{})}, nil
}

// Messages returns a copy of every message appended to topic.
func (b *Broker) Messages(topic string) []eventbus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.topics[topic])
}

// Commits returns the offsets committed by group on topic, in commit order.
func (b *Broker) Commits(topic, group string) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.group(groupKey{topic: topic, group: group}).commits)
}

// Committed returns one past the highest offset committed by group.
func (b *Broker) Committed(topic, group string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.group(groupKey{topic: topic, group: group}).committed
}

// Deliveries returns how many times the message at offset was fetched by group.
func (b *Broker) Deliveries(topic, group string, offset int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.deliveries[deliveryKey{groupKey: groupKey{topic: topic, group: group}, offset: offset}]
}

// OpenConsumers returns the number of consumers of group that are not closed.
func (b *Broker) OpenConsumers(topic, group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.open[groupKey{topic: topic, group: group}]
}

func (b *Broker) group(key groupKey) *groupState {
	g, ok := b.groups[key]
	if !ok {
		g = &groupState{done: make(map[int64]bool)}
		b.groups[key] = g
	}

	return g
}

// broadcast wakes every blocked Fetch. Callers hold b.mu.
func (b *Broker) broadcast() {
	close(b.changed)
	b.changed = make(chan struct{})
}

type consumer struct {
	broker *Broker
	key    groupKey
	closed bool

	// offsets fetched by this member and not yet committed
	pending map[int64]struct{}
}

func (c *consumer) Fetch(ctx context.Context) (eventbus.Message, error) {
	b := c.broker
	for {
		b.mu.Lock()
		if c.closed {
			b.mu.Unlock()
			return eventbus.Message{}, eventbus.ErrClosed
		}

		g := b.group(c.key)
		log := b.topics[c.key.topic]
		for g.next < int64(len(log)) && g.done[g.next] {
			g.next++
		}
		if g.next < int64(len(log)) {
			msg := log[g.next]
			g.next++
			c.pending[msg.Offset] = struct{}{}
			b.deliveries[deliveryKey{groupKey: c.key, offset: msg.Offset}]++
			b.mu.Unlock()

			return msg, nil
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return eventbus.Message{}, ctx.Err()
		case <-changed:
		}
	}
}

func (c *consumer) Commit(_ context.Context, msg eventbus.Message) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return eventbus.ErrClosed
	}

	g := b.group(c.key)
	g.committed = max(g.committed, msg.Offset+1)
	g.commits = append(g.commits, msg.Offset)
	g.done[msg.Offset] = true
	for offset := range c.pending {
		if offset <= msg.Offset {
			delete(c.pending, offset)
		}
	}

	return nil
}

func (c *consumer) Rewind(_ context.Context) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return eventbus.ErrClosed
	}

	g := b.group(c.key)
	next := g.committed
	for offset := range c.pending {
		next = min(next, offset)
	}
	clear(c.pending)
	g.next = next
	b.broadcast()

	return nil
}

func (c *consumer) Close() error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	b.open[c.key]--
	b.broadcast()

	return nil
}
