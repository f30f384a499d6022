package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/claimscan/internal/domain"
)

var (
	// ErrTenantRequired is returned when a bus call has no tenant.
	ErrTenantRequired = errors.New("tenantID is required")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus is closed")
)

// New creates a new event bus based on configuration.
// For Community: returns ChannelBus.
// For Pro: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newMessage builds the envelope shared by both bus implementations.
func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
