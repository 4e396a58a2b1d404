package ports

import (
	"context"

	"github.com/layer-3/zkauth/core"
)

// EventPublisher publishes session lifecycle events
type EventPublisher interface {
	PublishSessionWarning(ctx context.Context, warning core.SessionWarning) error
	PublishForceLogout(ctx context.Context, event core.ForceLogout) error
}
