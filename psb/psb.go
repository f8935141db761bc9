// Package psb is an in-process publish/subscribe broker. Producers
// publish byte payloads tagged with a channel name; consumers subscribe
// to channel-name prefixes and drain matching messages from their own
// queue, optionally blocking for a deadline.
//
// A Broker owns a set of Subscribers and a single mutex guarding both
// that set and every subscriber's trie. Publish walks the subscriber
// set under that lock, matches each subscriber's trie against the
// channel, and hands a copy of the message to the matching subscribers'
// queues — lock order is always broker, then queue, never the reverse.
package psb

import (
	"errors"
	"sync"
	"time"

	"psbroker/queue"
	"psbroker/trie"
)

// Logger is the subset of *zap.SugaredLogger the library core uses. A
// nil Logger is always safe to pass; every call site below nil-checks
// before logging, so the library never requires a configured logger to
// function correctly.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
}

var (
	// ErrAlreadySubscribed is returned by Subscribe when the given
	// subscriber already holds a subscription to the exact channel.
	ErrAlreadySubscribed = errors.New("psb: already subscribed to channel")
	// ErrNotSubscribed is returned by Unsubscribe when the given
	// subscriber holds no subscription to the exact channel.
	ErrNotSubscribed = errors.New("psb: not subscribed to channel")
	// ErrTimeout is returned by Subscriber.GetMessage when the deadline
	// elapses with no message delivered.
	ErrTimeout = errors.New("psb: timed out waiting for a message")
	// ErrOutOfMemory mirrors libpsb's allocation-failure return code.
	// The Go runtime does not expose allocation failure as a
	// recoverable error (it is a fatal, unrecoverable condition), so
	// this library never actually returns it; it is preserved as a
	// named error value for API parity with the C original.
	ErrOutOfMemory = errors.New("psb: out of memory")
	// ErrInvalidArgument is returned when a Subscriber does not belong
	// to the Broker an operation was called on.
	ErrInvalidArgument = errors.New("psb: invalid argument")
)

// Message is a single delivery: the channel it was published on and a
// private copy of its payload.
type Message struct {
	Channel string
	Payload []byte
}

// Free is a documented no-op. libpsb callers must release messages
// explicitly; the Go garbage collector reclaims Message values once
// they are no longer referenced, but Free is kept as an explicit call
// site so code ported from or alongside the C API still reads the same
// delivery lifecycle: get, use, free.
func (m *Message) Free() {}

// Subscriber holds one consumer's subscription trie and its inbound
// message queue. The zero value is not usable; obtain one from
// Broker.NewSubscriber.
type Subscriber struct {
	broker *Broker
	trie   trie.Trie
	queue  *queue.Queue
}

// MessagesCount returns the number of messages currently queued for
// this subscriber.
func (s *Subscriber) MessagesCount() int { return s.queue.Len() }

// FreeListSize returns the number of spare queue links this subscriber
// currently has cached for reuse.
func (s *Subscriber) FreeListSize() int { return s.queue.FreeListSize() }

// GetMessage removes and returns the oldest queued message. If none is
// queued it blocks until one arrives or timeout elapses; a nil timeout
// blocks indefinitely.
func (s *Subscriber) GetMessage(timeout *time.Duration) (*Message, error) {
	var deadline *time.Time
	if timeout != nil {
		d := time.Now().Add(*timeout)
		deadline = &d
	}
	v, ok := s.queue.Get(deadline)
	if !ok {
		return nil, ErrTimeout
	}
	return v.(*Message), nil
}

// Broker coordinates a set of Subscribers. One mutex guards both the
// subscriber set and every member subscriber's trie; Publish and
// Subscribe/Unsubscribe all take that lock before touching either.
type Broker struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	logger      Logger
}

// NewBroker returns an empty, ready-to-use Broker. logger may be nil.
func NewBroker(logger Logger) *Broker {
	return &Broker{
		subscribers: make(map[*Subscriber]struct{}),
		logger:      logger,
	}
}

// Close tears the broker down, detaching and draining every remaining
// subscriber. An empty broker (no subscribers) is a legal, ordinary
// case, not an error — unlike the libpsb original this is grounded on,
// which dereferences its subscriber list head unconditionally.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.subscribers = make(map[*Subscriber]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.queue.Cleanup(nil)
	}
	if b.logger != nil {
		b.logger.Infow("broker closed", "subscribers_detached", len(subs))
	}
}

// NewSubscriber creates a Subscriber attached to b.
func (b *Broker) NewSubscriber() *Subscriber {
	s := &Subscriber{broker: b, queue: queue.New()}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	if b.logger != nil {
		b.logger.Infow("subscriber created")
	}
	return s
}

// DeleteSubscriber detaches s from b and drains its queue. It returns
// ErrInvalidArgument if s does not belong to b.
func (b *Broker) DeleteSubscriber(s *Subscriber) error {
	b.mu.Lock()
	if _, ok := b.subscribers[s]; !ok {
		b.mu.Unlock()
		return ErrInvalidArgument
	}
	delete(b.subscribers, s)
	b.mu.Unlock()

	s.queue.Cleanup(nil)
	if b.logger != nil {
		b.logger.Infow("subscriber deleted")
	}
	return nil
}

// Subscribe adds channel (as an exact prefix-match key) to s's
// subscription trie. It returns ErrAlreadySubscribed if s already
// subscribes to channel, and ErrInvalidArgument if s does not belong to
// b. The empty string is a legal channel: it subscribes to every
// published message.
func (b *Broker) Subscribe(s *Subscriber, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[s]; !ok {
		return ErrInvalidArgument
	}

	key := []byte(channel)
	if s.trie.Contains(key) {
		// Already subscribed to this exact string: report it without
		// touching the trie, so refcount never climbs above 1 for a
		// string a caller keeps re-subscribing to.
		return ErrAlreadySubscribed
	}

	res := s.trie.Add(key)
	if b.logger != nil {
		b.logger.Debugw("trie add", "channel", channel, "result", res)
	}
	return nil
}

// Unsubscribe removes one reference to channel from s's subscription
// trie. It returns ErrNotSubscribed if s holds no subscription to
// channel, and ErrInvalidArgument if s does not belong to b.
func (b *Broker) Unsubscribe(s *Subscriber, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[s]; !ok {
		return ErrInvalidArgument
	}

	res := s.trie.Remove([]byte(channel))
	if b.logger != nil {
		b.logger.Debugw("trie remove", "channel", channel, "result", res)
	}
	if res == trie.NotFound {
		return ErrNotSubscribed
	}
	return nil
}

// Publish fans payload out, under channel, to every subscriber whose
// subscription trie matches channel as a prefix. Each matching
// subscriber receives its own copy of payload. It returns the number of
// subscribers the message was delivered to.
func (b *Broker) Publish(channel string, payload []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := []byte(channel)
	delivered := 0
	for s := range b.subscribers {
		if !s.trie.Match(key) {
			continue
		}
		s.queue.Put(&Message{Channel: channel, Payload: copyPayload(payload)})
		delivered++
	}

	if b.logger != nil {
		b.logger.Debugw("published", "channel", channel, "delivered", delivered)
	}
	return delivered
}

func copyPayload(payload []byte) []byte {
	if payload == nil {
		return nil
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return cp
}

var (
	defaultOnce   sync.Once
	defaultBroker *Broker
)

// DefaultBroker returns the process-wide default broker, creating it on
// first use. It mirrors libpsb's static g_global_psb_broker: a single
// lazily-initialized broker shared by any caller that doesn't need its
// own.
func DefaultBroker() *Broker {
	defaultOnce.Do(func() {
		defaultBroker = NewBroker(nil)
	})
	return defaultBroker
}
