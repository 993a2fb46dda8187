package consumer

import (
	"context"
	"strings"
)

// Invalidator drops the cached aggregates of one user.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// InvalidationHandler invalidates a user's aggregates whenever one of their
// activities changes. Other event types are acknowledged and ignored.
type InvalidationHandler struct {
	invalidator Invalidator
}

// NewInvalidationHandler constructs an InvalidationHandler.
func NewInvalidationHandler(invalidator Invalidator) *InvalidationHandler {
	return &InvalidationHandler{invalidator: invalidator}
}

// Handle implements Handler.
func (h *InvalidationHandler) Handle(ctx context.Context, msg Message) error {
	if !strings.HasPrefix(msg.EventType, "activity.") {
		return nil
	}
	return h.invalidator.Invalidate(ctx, msg.UserID)
}
