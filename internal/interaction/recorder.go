// Package interaction writes best-effort audit records of gateway calls.
package interaction

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
	"github.com/sapphir-health/sapphir-gateway/internal/server"
	"github.com/sapphir-health/sapphir-gateway/internal/storage"
)

const persistTimeout = 5 * time.Second

// Recorder saves interactions to a store. A nil store makes it a no-op.
type Recorder struct {
	store  storage.InteractionStore
	logger *slog.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(store storage.InteractionStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Record stores in, filling ID, RequestID and CreatedAt when empty. Failures
// are logged and never surface to the request path.
func (r *Recorder) Record(ctx context.Context, in *domain.Interaction) {
	if r == nil || r.store == nil || in == nil {
		return
	}

	// Decouple persistence from the request lifecycle so a client disconnect
	// does not drop the record; still enforce a short timeout.
	persistCtx, cancel := buildPersistenceContext(ctx, persistTimeout)
	defer cancel()

	if in.ID == "" {
		in.ID = "int_" + uuid.New().String()
	}
	if in.RequestID == "" {
		in.RequestID = server.GetRequestID(ctx)
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}

	if err := r.store.SaveInteraction(persistCtx, in); err != nil {
		r.logger.Error("failed to record interaction",
			slog.String("interaction_id", in.ID),
			slog.String("kind", string(in.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func buildPersistenceContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, timeout)
}
