// Package bus delivers sample and verification events between components.
package bus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/cadence/internal/domain"
)

// ChannelBus is the in-process EventBus of the community tier.
// Delivery is best effort: a subscriber whose buffer is full misses the
// message and the drop is counted.
type ChannelBus struct {
	mu      sync.RWMutex
	buffer  int
	subs    map[string][]*channelSub // by subject
	closed  bool
	dropped atomic.Int64
}

type channelSub struct {
	id      string
	subject string
	topic   string
	inbox   chan *domain.Message
	handler domain.MessageHandler
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a bus whose subscribers each buffer up to
// bufferSize undelivered messages.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		buffer: bufferSize,
		subs:   make(map[string][]*channelSub),
	}
}

// Publish hands the message to every subscriber of tenantID/topic without
// blocking.
func (b *ChannelBus) Publish(ctx context.Context, tenantID, topic string, payload []byte) error {
	if tenantID == "" {
		return errTenantRequired
	}
	msg := newMessage(ctx, tenantID, topic, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for _, s := range b.subs[subjectKey(tenantID, topic)] {
		if s.ctx.Err() != nil {
			continue
		}
		select {
		case s.inbox <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("subscriber buffer full, message dropped",
				"tenant_id", tenantID,
				"topic", topic,
				"subscription_id", s.id,
			)
		}
	}
	return nil
}

// Subscribe starts a goroutine that feeds tenantID/topic messages to
// handler until the subscription, ctx or the bus is closed.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &channelSub{
		id:      uuid.NewString(),
		subject: subjectKey(tenantID, topic),
		topic:   topic,
		inbox:   make(chan *domain.Message, b.buffer),
		handler: handler,
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}
	b.subs[s.subject] = append(b.subs[s.subject], s)

	go s.loop()
	return s, nil
}

func (s *channelSub) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("event handler failed",
					"tenant_id", msg.TenantID,
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Dropped returns the number of messages lost to full subscriber buffers.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription and discards buffered messages.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, s := range subs {
			s.cancel()
		}
	}
	clear(b.subs)
	return nil
}

// Unsubscribe stops delivery and detaches the subscription from the bus.
func (s *channelSub) Unsubscribe() error {
	s.cancel()

	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[s.subject] = slices.DeleteFunc(b.subs[s.subject], func(o *channelSub) bool { return o == s })
	if len(b.subs[s.subject]) == 0 {
		delete(b.subs, s.subject)
	}
	return nil
}

func (s *channelSub) Topic() string {
	return s.topic
}

// subscriberCount is used by tests.
func (b *ChannelBus) subscriberCount(tenantID, topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[subjectKey(tenantID, topic)])
}

func newMessage(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UnixNano(),
	}
	if traceID := traceIDFromContext(ctx); traceID != "" {
		msg.Metadata["trace_id"] = traceID
	}
	return msg
}
