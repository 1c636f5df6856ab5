// Package sqlite stores interaction audit records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
	"github.com/sapphir-health/sapphir-gateway/internal/storage"
)

var _ storage.InteractionStore = (*Store)(nil)

// Store is a SQLite implementation of InteractionStore.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			request_id TEXT,
			kind TEXT NOT NULL,
			session_key TEXT,
			canned INTEGER NOT NULL DEFAULT 0,
			model TEXT,
			status TEXT NOT NULL,
			error_kind TEXT,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_kind ON interactions(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) SaveInteraction(ctx context.Context, in *domain.Interaction) error {
	query := `INSERT INTO interactions
	          (id, request_id, kind, session_key, canned, model, status, error_kind, prompt_tokens, duration_ns, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		in.ID, in.RequestID, string(in.Kind), in.SessionKey, in.Canned, in.Model,
		string(in.Status), string(in.ErrorKind), in.PromptTokens,
		int64(in.Duration), in.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save interaction: %w", err)
	}

	return nil
}

// ListInteractions returns the newest interactions first.
func (s *Store) ListInteractions(ctx context.Context, opts domain.InteractionListOptions) ([]*domain.Interaction, error) {
	query := `SELECT id, request_id, kind, session_key, canned, model, status, error_kind, prompt_tokens, duration_ns, created_at
	          FROM interactions`
	var args []any

	if opts.Kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(opts.Kind))
	}

	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Interaction
	for rows.Next() {
		var (
			in                                  domain.Interaction
			requestID, sessionKey, model, errKd sql.NullString
			kind, status                        string
			durationNs, createdNs               int64
		)
		if err := rows.Scan(&in.ID, &requestID, &kind, &sessionKey, &in.Canned, &model,
			&status, &errKd, &in.PromptTokens, &durationNs, &createdNs); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		in.RequestID = requestID.String
		in.Kind = domain.InteractionKind(kind)
		in.SessionKey = sessionKey.String
		in.Model = model.String
		in.Status = domain.InteractionStatus(status)
		in.ErrorKind = domain.ErrorKind(errKd.String)
		in.Duration = time.Duration(durationNs)
		in.CreatedAt = time.Unix(0, createdNs)
		result = append(result, &in)
	}

	return result, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
