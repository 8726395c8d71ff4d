package domain

import "context"

// Topics published by the service.
const (
	TopicSampleSubmitted       = "cadence.sample.submitted"
	TopicSampleEnrolled        = "cadence.sample.enrolled"
	TopicVerificationCompleted = "cadence.verification.completed"
)

// EventBus moves samples from the HTTP path to the background worker.
// Every call is scoped to a tenant; subscribers never see another
// tenant's messages.
type EventBus interface {
	Publish(ctx context.Context, tenantID, topic string, payload []byte) error
	Subscribe(ctx context.Context, tenantID, topic string, handler MessageHandler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler consumes one delivered message. A returned error is
// logged by the bus and does not stop the subscription.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope around every published payload.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"` // unix nanoseconds
}

type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects the bus: "none", "channel" (in process) or "nats".
type EventBusConfig struct {
	Type              string `mapstructure:"type"`
	ChannelBufferSize int    `mapstructure:"channelBufferSize"`

	NATSUrl           string `mapstructure:"natsUrl"`
	NATSToken         string `mapstructure:"natsToken"`
	NATSMaxReconnects int    `mapstructure:"natsMaxReconnects"`
	NATSReconnectWait int    `mapstructure:"natsReconnectWait"` // seconds
}

// SampleMessage carries a keystroke sample queued for scoring, and the
// enrolled or verified sample on the follow-up topics.
type SampleMessage struct {
	AccountID string `json:"accountId"`
	Keystroke string `json:"keystroke"`
	TraceID   string `json:"traceId,omitempty"`
}
