package mq

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/jjudge-oj/authserver/config"
)

var (
	// ErrDisabled is returned by NewBackend when MQ_BACKEND is "none".
	ErrDisabled = errors.New("message broker disabled")
	// ErrNoChannel is returned for a blank channel name.
	ErrNoChannel = errors.New("channel name is required")
)

// Message is a delivery as seen by subscribers, whatever the broker.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes one message. A non-nil error asks the broker to
// redeliver it.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented by each broker client.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ is the broker handle the rest of the service holds on to.
type MQ struct {
	backend Backend
}

func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// NewBackend connects to the broker named by cfg.Backend.
func NewBackend(ctx context.Context, cfg config.MQConfig) (Backend, error) {
	switch cfg.Backend {
	case config.MQBackendNone, "":
		return nil, ErrDisabled
	case config.MQBackendRabbitMQ:
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.MQBackendPubSub:
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
}

// Publish sends data to channel and returns the broker message id. The
// attribute map is copied so callers may reuse it.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	channel, err := channelName(channel)
	if err != nil {
		return "", err
	}
	return m.backend.Publish(ctx, channel, data, maps.Clone(attrs))
}

// Subscribe blocks, feeding messages on channel to handler until ctx ends.
// A panicking handler is reported as a handler error.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	channel, err := channelName(channel)
	if err != nil {
		return err
	}
	return m.backend.Subscribe(ctx, channel, guard(handler))
}

func (m *MQ) Close() error {
	return m.backend.Close()
}

func channelName(channel string) (string, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return "", ErrNoChannel
	}
	return channel, nil
}

func guard(handler Handler) Handler {
	return func(ctx context.Context, msg Message) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic on message %s: %v", msg.ID, r)
			}
		}()
		return handler(ctx, msg)
	}
}
