package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"redemption-engine/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher routes domain events to their topics: session lifecycle to
// the session topic, settlement failures to the reconciliation topic.
type EventPublisher struct {
	sessions       *Producer
	reconciliation *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(sessions, reconciliation *Producer) *EventPublisher {
	return &EventPublisher{sessions: sessions, reconciliation: reconciliation}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// PublishSessionCreated publishes SessionCreated to the session topic
func (ep *EventPublisher) PublishSessionCreated(ctx context.Context, event *models.SessionCreatedEvent) error {
	return ep.sessions.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// PublishSessionApproved publishes SessionApproved to the session topic
func (ep *EventPublisher) PublishSessionApproved(ctx context.Context, event *models.SessionApprovedEvent) error {
	return ep.sessions.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// PublishSessionRejected publishes SessionRejected to the session topic
func (ep *EventPublisher) PublishSessionRejected(ctx context.Context, event *models.SessionRejectedEvent) error {
	return ep.sessions.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// PublishSessionConsumed publishes SessionConsumed to the session topic
func (ep *EventPublisher) PublishSessionConsumed(ctx context.Context, event *models.SessionConsumedEvent) error {
	return ep.sessions.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// PublishRedemptionSettled publishes RedemptionSettled to the session topic
func (ep *EventPublisher) PublishRedemptionSettled(ctx context.Context, event *models.RedemptionSettledEvent) error {
	return ep.sessions.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// PublishSettlementFailed publishes SettlementFailed to the reconciliation
// topic so the retry worker and operators pick it up.
func (ep *EventPublisher) PublishSettlementFailed(ctx context.Context, event *models.SettlementFailedEvent) error {
	return ep.reconciliation.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// EventHandler routes incoming events to registered handlers
type EventHandler struct {
	onSettlementFailed func(context.Context, *models.SettlementFailedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnSettlementFailed registers a handler for SettlementFailed events
func (eh *EventHandler) OnSettlementFailed(handler func(context.Context, *models.SettlementFailedEvent) error) {
	eh.onSettlementFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeSettlementFailed:
		if eh.onSettlementFailed != nil {
			var event models.SettlementFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SettlementFailed event: %w", err)
			}
			return eh.onSettlementFailed(ctx, &event)
		}
	}

	return nil
}
