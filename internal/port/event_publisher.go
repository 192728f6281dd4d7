package port

import (
	"context"

	"github.com/minhngt/canteen-core/internal/core/domain"
)

// EventPublisher emits order lifecycle events for external collaborators.
// Publishing is best effort; a lost event never affects ledger state.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error
}
