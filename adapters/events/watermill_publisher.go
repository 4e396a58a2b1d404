package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
)

const (
	// TopicSessionWarning carries core.SessionWarning payloads
	TopicSessionWarning = "zkauth.session.warning"
	// TopicForceLogout carries core.ForceLogout payloads
	TopicForceLogout = "zkauth.session.force_logout"

	// MetadataSessionID names the browser session an event belongs to
	MetadataSessionID = "session_id"
)

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishSessionWarning publishes a session-warning event
func (p *WatermillPublisher) PublishSessionWarning(ctx context.Context, warning core.SessionWarning) error {
	return p.publish(ctx, TopicSessionWarning, warning)
}

// PublishForceLogout publishes a force-logout event
func (p *WatermillPublisher) PublishForceLogout(ctx context.Context, event core.ForceLogout) error {
	return p.publish(ctx, TopicForceLogout, event)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	msg.Metadata.Set(MetadataSessionID, core.SessionID(ctx))
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// FanOut publishes every message to each of its publishers
type FanOut struct {
	publishers []message.Publisher
}

// NewFanOut creates a publisher writing to all of pubs
func NewFanOut(pubs ...message.Publisher) *FanOut {
	return &FanOut{publishers: pubs}
}

// Publish sends a copy of each message to every publisher
func (f *FanOut) Publish(topic string, messages ...*message.Message) error {
	var errs []error
	for _, pub := range f.publishers {
		copies := make([]*message.Message, len(messages))
		for i, msg := range messages {
			copies[i] = msg.Copy()
		}
		if err := pub.Publish(topic, copies...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher
func (f *FanOut) Close() error {
	var errs []error
	for _, pub := range f.publishers {
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
