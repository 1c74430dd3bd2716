package ports

import "context"

// EventPublisher notifies other instances about authentication lifecycle
// changes. Publishing failures are logged, never fatal to the request.
type EventPublisher interface {
	PublishCredentialRegistered(ctx context.Context, userID, credentialKey string) error
	PublishSessionCreated(ctx context.Context, userID, pairID string) error
	PublishSessionRevoked(ctx context.Context, userID, pairID string) error
}
