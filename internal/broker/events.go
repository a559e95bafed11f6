package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"ticketing-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishPurchaseCreated publishes PurchaseCreated event
func (ep *EventPublisher) PublishPurchaseCreated(ctx context.Context, event *models.PurchaseCreatedEvent) error {
	key := fmt.Sprintf("purchase-%s", event.ReferenceNumber)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishTicketIssuanceRequested publishes TicketIssuanceRequested event
func (ep *EventPublisher) PublishTicketIssuanceRequested(ctx context.Context, event *models.TicketIssuanceRequestedEvent) error {
	key := fmt.Sprintf("purchase-%s", event.ReferenceNumber)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onTicketIssuanceRequested func(context.Context, *models.TicketIssuanceRequestedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnTicketIssuanceRequested registers a handler for TicketIssuanceRequested events
func (eh *EventHandler) OnTicketIssuanceRequested(handler func(context.Context, *models.TicketIssuanceRequestedEvent) error) {
	eh.onTicketIssuanceRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeTicketIssuanceRequested:
		if eh.onTicketIssuanceRequested != nil {
			var event models.TicketIssuanceRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal TicketIssuanceRequested event: %w", err)
			}
			return eh.onTicketIssuanceRequested(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
