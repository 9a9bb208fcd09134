package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jjudge-oj/authserver/internal/mq"
)

const (
	EventUserRegistered          = "user.registered"
	EventUserRolesAssigned       = "user.roles_assigned"
	EventUserPermissionsAssigned = "user.permissions_assigned"

	// EventTypeAttribute carries Event.Type alongside the payload so
	// consumers can filter without decoding.
	EventTypeAttribute = "event_type"
)

// Event describes a change to an account.
type Event struct {
	Type        string    `json:"type"`
	Email       string    `json:"email"`
	Roles       []string  `json:"roles,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	Actor       string    `json:"actor"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// EventPublisher delivers account events to interested consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// MQEventPublisher publishes events as JSON onto a single broker channel.
type MQEventPublisher struct {
	queue   *mq.MQ
	channel string
}

func NewMQEventPublisher(queue *mq.MQ, channel string) *MQEventPublisher {
	return &MQEventPublisher{queue: queue, channel: channel}
}

func (p *MQEventPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	if _, err := p.queue.Publish(ctx, p.channel, payload, map[string]string{
		EventTypeAttribute: event.Type,
	}); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// NopEventPublisher drops every event. Used when no broker is configured.
type NopEventPublisher struct{}

func (NopEventPublisher) Publish(context.Context, Event) error { return nil }

// DecodeEvent parses a message produced by MQEventPublisher.
func DecodeEvent(msg mq.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event %s: %w", msg.ID, err)
	}
	if event.Type == "" {
		event.Type = msg.Attributes[EventTypeAttribute]
	}
	return event, nil
}
