package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Backed by Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type"`

	// Channel settings (Community)
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	// NATS settings (Pro)
	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds
}

// AllTenants subscribes to a topic for every tenant. It cannot be used to
// publish.
const AllTenants = "*"

// Topic names for the claim evaluation pipeline.
const (
	TopicClaimIngested = "claimscan.claim.ingested"
	TopicDecision      = "claimscan.decision"
	TopicAlert         = "claimscan.alert"
)

// ClaimMessage is the payload published on TopicClaimIngested.
type ClaimMessage struct {
	TenantID string `json:"tenantId"`
	TraceID  string `json:"traceId,omitempty"`
	Claim    Claim  `json:"claim"`
}

// AlertMessage is the payload published on TopicAlert.
type AlertMessage struct {
	EvaluationID      string   `json:"evaluationId"`
	ClaimID           string   `json:"claimId"`
	TenantID          string   `json:"tenantId"`
	Decision          Tier     `json:"decision"`
	Score             float64  `json:"score"`
	EstimatedRecovery *float64 `json:"estimatedRecovery"`
	Reasons           []string `json:"reasons"`
}
