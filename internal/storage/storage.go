// Package storage defines where interaction audit records are written.
package storage

import (
	"context"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
)

// InteractionStore persists audit records of completed interactions.
// Implementations must be safe for concurrent use.
type InteractionStore interface {
	SaveInteraction(ctx context.Context, interaction *domain.Interaction) error
	ListInteractions(ctx context.Context, opts domain.InteractionListOptions) ([]*domain.Interaction, error)
	Close() error
}
