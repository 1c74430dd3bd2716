package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/warden-auth/warden/ports"
)

// Topics published by the auth service.
const (
	TopicCredentialRegistered = "auth.credential.registered"
	TopicSessionCreated       = "auth.session.created"
	TopicSessionRevoked       = "auth.session.revoked"
)

// CredentialEvent is the payload published when a passkey is registered.
type CredentialEvent struct {
	UserID        string `json:"user_id"`
	CredentialKey string `json:"credential_key"`
}

// SessionEvent is the payload published for session lifecycle changes. An
// empty PairID on a revoked event means every session of the user is gone.
type SessionEvent struct {
	UserID string `json:"user_id"`
	PairID string `json:"pair_id,omitempty"`
}

// WatermillPublisher implements the EventPublisher port over a Watermill
// publisher, typically backed by Redis streams.
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher wraps an existing Watermill publisher.
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishCredentialRegistered announces a newly registered passkey.
func (p *WatermillPublisher) PublishCredentialRegistered(ctx context.Context, userID, credentialKey string) error {
	return p.publish(TopicCredentialRegistered, CredentialEvent{
		UserID:        userID,
		CredentialKey: credentialKey,
	})
}

// PublishSessionCreated announces a freshly minted session pair.
func (p *WatermillPublisher) PublishSessionCreated(ctx context.Context, userID, pairID string) error {
	return p.publish(TopicSessionCreated, SessionEvent{UserID: userID, PairID: pairID})
}

// PublishSessionRevoked announces a revoked session pair so sibling
// instances can drop cached identity state.
func (p *WatermillPublisher) PublishSessionRevoked(ctx context.Context, userID, pairID string) error {
	return p.publish(TopicSessionRevoked, SessionEvent{UserID: userID, PairID: pairID})
}

func (p *WatermillPublisher) publish(topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
