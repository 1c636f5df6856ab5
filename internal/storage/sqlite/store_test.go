package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
)

func TestSQLiteStore_SaveInteraction(t *testing.T) {
	// Use in-memory SQLite with shared cache for testing
	store, err := New("file:memdb1?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &domain.Interaction{
		ID:           "int-1",
		RequestID:    "req-1",
		Kind:         domain.InteractionTurn,
		SessionKey:   "u1",
		Model:        "deepseek-chat",
		Status:       domain.InteractionStatusFailed,
		ErrorKind:    domain.KindUpstream,
		PromptTokens: 42,
		Duration:     1500 * time.Millisecond,
		CreatedAt:    created,
	}

	if err := store.SaveInteraction(context.Background(), in); err != nil {
		t.Fatalf("SaveInteraction() error = %v", err)
	}

	got, err := store.ListInteractions(context.Background(), domain.InteractionListOptions{})
	if err != nil {
		t.Fatalf("ListInteractions() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}

	r := got[0]
	if r.ID != in.ID || r.RequestID != in.RequestID || r.SessionKey != in.SessionKey {
		t.Errorf("identity fields = %+v", r)
	}
	if r.Kind != in.Kind || r.Status != in.Status || r.ErrorKind != in.ErrorKind {
		t.Errorf("status fields = %+v", r)
	}
	if r.PromptTokens != 42 || r.Duration != in.Duration {
		t.Errorf("PromptTokens = %d, Duration = %v", r.PromptTokens, r.Duration)
	}
	if !r.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", r.CreatedAt, created)
	}
}

func TestSQLiteStore_ListInteractions(t *testing.T) {
	store, err := New("file:memdb2?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	fixtures := []struct {
		id   string
		kind domain.InteractionKind
	}{
		{"a", domain.InteractionTurn},
		{"b", domain.InteractionDocument},
		{"c", domain.InteractionTurn},
	}
	for i, f := range fixtures {
		err := store.SaveInteraction(ctx, &domain.Interaction{
			ID:        f.id,
			Kind:      f.kind,
			Canned:    f.kind == domain.InteractionTurn,
			Status:    domain.InteractionStatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("SaveInteraction(%s) error = %v", f.id, err)
		}
	}

	turns, err := store.ListInteractions(ctx, domain.InteractionListOptions{Kind: domain.InteractionTurn})
	if err != nil {
		t.Fatalf("ListInteractions() error = %v", err)
	}
	if len(turns) != 2 || turns[0].ID != "c" || turns[1].ID != "a" {
		t.Errorf("turns = %v, want [c a]", ids(turns))
	}
	if !turns[0].Canned {
		t.Error("Canned flag not round-tripped")
	}

	page, err := store.ListInteractions(ctx, domain.InteractionListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListInteractions() error = %v", err)
	}
	if len(page) != 1 || page[0].ID != "b" {
		t.Errorf("page = %v, want [b]", ids(page))
	}
}

func TestSQLiteStore_DuplicateID(t *testing.T) {
	store, err := New("file:memdb3?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	in := &domain.Interaction{ID: "dup", Kind: domain.InteractionTurn, Status: domain.InteractionStatusCompleted, CreatedAt: time.Now()}
	if err := store.SaveInteraction(context.Background(), in); err != nil {
		t.Fatalf("SaveInteraction() error = %v", err)
	}
	if err := store.SaveInteraction(context.Background(), in); err == nil {
		t.Error("SaveInteraction() accepted a duplicate id")
	}
}

func ids(in []*domain.Interaction) []string {
	out := make([]string, len(in))
	for i, x := range in {
		out[i] = x.ID
	}
	return out
}
