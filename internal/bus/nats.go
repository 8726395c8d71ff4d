package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/cadence/internal/domain"
)

// NATSBus is the pro tier EventBus. Subjects are cadence.<tenant>.<topic>.
// Subscriptions join a queue group per subject, so when several instances
// run, each submitted sample is scored by exactly one of them.
type NATSBus struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs map[string]*natsSub
}

type natsSub struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to cfg.NATSUrl. The initial connection is retried
// NATSMaxReconnects times, NATSReconnectWait seconds apart.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	conn, err := connectWithRetry(url, natsOptions(cfg.NATSToken, attempts, wait), attempts, wait)
	if err != nil {
		return nil, err
	}
	slog.Info("NATS connected", "url", conn.ConnectedUrl())

	return &NATSBus{conn: conn, subs: make(map[string]*natsSub)}, nil
}

func natsOptions(token string, reconnects int, wait time.Duration) []nats.Option {
	opts := []nats.Option{
		nats.Name("cadence"),
		nats.MaxReconnects(reconnects),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "closed", nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS async error", "subject", subject, "error", err)
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	return opts
}

func connectWithRetry(url string, opts []nats.Option, attempts int, wait time.Duration) (*nats.Conn, error) {
	var err error
	for i := 1; i <= attempts; i++ {
		var conn *nats.Conn
		if conn, err = nats.Connect(url, opts...); err == nil {
			return conn, nil
		}
		slog.Warn("NATS connection attempt failed", "attempt", i, "max_attempts", attempts, "error", err)
		if i < attempts {
			time.Sleep(wait)
		}
	}
	return nil, fmt.Errorf("connect to NATS at %s after %d attempts: %w", url, attempts, err)
}

// Publish sends payload in a JSON message envelope.
func (b *NATSBus) Publish(ctx context.Context, tenantID, topic string, payload []byte) error {
	if tenantID == "" {
		return errTenantRequired
	}
	data, err := json.Marshal(newMessage(ctx, tenantID, topic, payload))
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := b.conn.Publish(subjectKey(tenantID, topic), data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Subscribe joins the queue group of tenantID/topic. Handler errors are
// logged; core NATS delivery is at most once.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	subject := subjectKey(tenantID, topic)
	ns, err := b.conn.QueueSubscribe(subject, subject, func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("undecodable NATS message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("event handler failed",
				"tenant_id", msg.TenantID,
				"topic", msg.Topic,
				"message_id", msg.ID,
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	s := &natsSub{id: uuid.NewString(), topic: topic, sub: ns, bus: b}
	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()
	return s, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected: %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drops every subscription and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for id, s := range b.subs {
		_ = s.sub.Unsubscribe()
		delete(b.subs, id)
	}
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

func (s *natsSub) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSub) Topic() string {
	return s.topic
}
