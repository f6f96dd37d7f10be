// Package presence declares the liveness/heartbeat collaborator. The
// coordinator only reports room membership; the reporter itself is owned
// and implemented outside this service.
package presence

import (
	"context"

	"github.com/google/uuid"
)

//go:generate go run go.uber.org/mock/mockgen -source=presence.go -destination=mocks/mock_reporter.go -package=mocks

// Reporter publishes player liveness and current-room changes.
type Reporter interface {
	StartHeartbeat(ctx context.Context, playerID string) error
	// UpdateCurrentRoom sets or clears (nil) the player's current session.
	UpdateCurrentRoom(ctx context.Context, playerID string, sessionID *uuid.UUID) error
}

// NoopReporter satisfies Reporter when no liveness collaborator is wired.
type NoopReporter struct{}

func (NoopReporter) StartHeartbeat(ctx context.Context, playerID string) error {
	return nil
}

func (NoopReporter) UpdateCurrentRoom(ctx context.Context, playerID string, sessionID *uuid.UUID) error {
	return nil
}
