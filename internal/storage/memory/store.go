// Package memory is an in-process InteractionStore, mainly for tests and
// single-run deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
	"github.com/sapphir-health/sapphir-gateway/internal/storage"
)

var _ storage.InteractionStore = (*Store)(nil)

// DefaultMaxRecords bounds a store created without WithMaxRecords.
const DefaultMaxRecords = 1000

// Option configures a Store.
type Option func(*Store)

// WithMaxRecords caps how many interactions are retained; once full, the
// oldest is dropped on each save. Non-positive values are ignored.
func WithMaxRecords(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRecords = n
		}
	}
}

// Store keeps the most recent interactions in insertion order.
type Store struct {
	mu           sync.RWMutex
	interactions []*domain.Interaction
	ids          map[string]struct{}
	maxRecords   int
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		ids:        make(map[string]struct{}),
		maxRecords: DefaultMaxRecords,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) SaveInteraction(ctx context.Context, interaction *domain.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[interaction.ID]; exists {
		return fmt.Errorf("interaction %s already exists", interaction.ID)
	}

	if n := len(s.interactions) - s.maxRecords + 1; n > 0 {
		for _, old := range s.interactions[:n] {
			delete(s.ids, old.ID)
		}
		// Copy down so the backing array does not keep evicted records alive.
		s.interactions = append(s.interactions[:0], s.interactions[n:]...)
	}

	cp := *interaction
	s.interactions = append(s.interactions, &cp)
	s.ids[interaction.ID] = struct{}{}
	return nil
}

// ListInteractions returns the newest interactions first.
func (s *Store) ListInteractions(ctx context.Context, opts domain.InteractionListOptions) ([]*domain.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Interaction
	for i := len(s.interactions) - 1; i >= 0; i-- {
		in := s.interactions[i]
		if opts.Kind != "" && in.Kind != opts.Kind {
			continue
		}
		cp := *in
		result = append(result, &cp)
	}

	// Simple pagination
	start := opts.Offset
	if start >= len(result) {
		return []*domain.Interaction{}, nil
	}

	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) Close() error {
	return nil
}
