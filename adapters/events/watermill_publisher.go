package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
)

// DefaultTopicPrefix is prepended to the event name to form the topic.
const DefaultTopicPrefix = "xcafe."

// Envelope is the JSON body of every published message
type Envelope struct {
	Name      string          `json:"name"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	prefix    string
	now       func() time.Time
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher, prefix string) *WatermillPublisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &WatermillPublisher{
		publisher: publisher,
		prefix:    prefix,
		now:       time.Now,
	}
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// NewInProcessBus returns a gochannel pub/sub for single-process deployments
// and tests.
func NewInProcessBus(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
}

// Topic returns the topic an event name is published on
func (p *WatermillPublisher) Topic(name string) string {
	return p.prefix + name
}

// Publish publishes an event
func (p *WatermillPublisher) Publish(ctx context.Context, event core.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	body, err := json.Marshal(Envelope{
		Name:      event.EventName(),
		Timestamp: p.now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), body)
	msg.Metadata.Set("event", event.EventName())
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.Topic(event.EventName()), msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the underlying publisher
func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}
