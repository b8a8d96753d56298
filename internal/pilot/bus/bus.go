// internal/pilot/bus/bus.go
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic names a message stream on the bus.
type Topic string

const (
	// TopicQuery carries schemas.PendingQuery values from the sync client to
	// the pilot service.
	TopicQuery Topic = "PILOT_QUERY"
	// TopicResult carries schemas.SyncCommandResult values back to the sync
	// client.
	TopicResult Topic = "PILOT_RESULT"
	// TopicToast carries pilot.Toast values for display.
	TopicToast Topic = "PILOT_TOAST"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus is closed")

// Message is one published value.
type Message struct {
	ID        string
	Timestamp time.Time
	Topic     Topic
	Payload   any
}

// Bus fans published messages out to every subscriber of their topic.
// Subscribers must Ack each message they receive; Close waits for
// outstanding acks.
type Bus struct {
	logger     *zap.Logger
	bufferSize int

	mu   sync.RWMutex
	subs map[Topic][]chan Message
	// chans holds every channel not yet closed, unsubscribed ones included,
	// so Close can drain what they still buffer.
	chans map[chan Message]struct{}

	inFlight   sync.WaitGroup
	publishing sync.WaitGroup

	closeMu   sync.Mutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a bus whose subscriber channels hold bufferSize messages.
func New(logger *zap.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:     logger.Named("bus"),
		bufferSize: max(bufferSize, 0),
		subs:       make(map[Topic][]chan Message),
		chans:      make(map[chan Message]struct{}),
		done:       make(chan struct{}),
	}
}

// Publish delivers payload to every current subscriber of topic. It blocks
// while a subscriber's buffer is full and returns early when ctx ends or the
// bus closes. Publishing to a topic nobody listens on is not an error.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) error {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return ErrClosed
	}
	b.publishing.Add(1)
	b.closeMu.Unlock()
	defer b.publishing.Done()

	msg := Message{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Topic:     topic,
		Payload:   payload,
	}

	b.mu.RLock()
	targets := append([]chan Message(nil), b.subs[topic]...)
	b.mu.RUnlock()
	if len(targets) == 0 {
		return nil
	}

	b.logger.Debug("Publishing message.", zap.String("topic", string(topic)), zap.String("id", msg.ID))
	for _, ch := range targets {
		b.inFlight.Add(1)
		select {
		case ch <- msg:
		case <-ctx.Done():
			b.inFlight.Done()
			return ctx.Err()
		case <-b.done:
			b.inFlight.Done()
			return ErrClosed
		}
	}
	return nil
}

// Subscribe registers for one or more topics. The returned function removes
// the subscription and acks whatever the channel still buffers; the channel
// itself is closed by Close.
func (b *Bus) Subscribe(topics ...Topic) (<-chan Message, func()) {
	if len(topics) == 0 {
		panic("bus: Subscribe needs at least one topic")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeMu.Lock()
	closed := b.closed
	b.closeMu.Unlock()
	if closed {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Message, b.bufferSize)
	b.chans[ch] = struct{}{}
	topics = append([]Topic(nil), topics...)
	for _, topic := range topics {
		b.subs[topic] = append(b.subs[topic], ch)
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, topic := range topics {
				b.subs[topic] = removeChan(b.subs[topic], ch)
				if len(b.subs[topic]) == 0 {
					delete(b.subs, topic)
				}
			}
			b.drain(ch)
		})
	}
}

func removeChan(list []chan Message, ch chan Message) []chan Message {
	for i, c := range list {
		if c == ch {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// drain acks messages buffered in ch without blocking.
func (b *Bus) drain(ch chan Message) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
			b.inFlight.Done()
		default:
			return n
		}
	}
}

// Ack marks a received message as handled.
func (b *Bus) Ack(Message) { b.inFlight.Done() }

// Close stops new publishes, closes every subscriber channel and waits until
// each delivered message is acked. Messages still sitting in a buffer are
// dropped and counted as acked.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.closeMu.Lock()
		b.closed = true
		b.closeMu.Unlock()
		close(b.done)
		b.publishing.Wait()

		b.mu.Lock()
		dropped := 0
		for ch := range b.chans {
			close(ch)
			for range ch {
				dropped++
				b.inFlight.Done()
			}
		}
		b.subs = make(map[Topic][]chan Message)
		b.chans = make(map[chan Message]struct{})
		b.mu.Unlock()

		if dropped > 0 {
			b.logger.Debug("Dropped buffered messages on close.", zap.Int("count", dropped))
		}
		b.inFlight.Wait()
		b.logger.Info("Bus closed.")
	})
}
