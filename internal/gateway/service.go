// Package gateway composes the canned table, session store, text extractor
// and upstream client into the two request pipelines: conversational turns
// and one-shot document analysis.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sapphir-health/sapphir-gateway/internal/canned"
	"github.com/sapphir-health/sapphir-gateway/internal/domain"
	"github.com/sapphir-health/sapphir-gateway/internal/interaction"
	"github.com/sapphir-health/sapphir-gateway/internal/metrics"
	"github.com/sapphir-health/sapphir-gateway/internal/server"
	"github.com/sapphir-health/sapphir-gateway/internal/session"
	"github.com/sapphir-health/sapphir-gateway/internal/tokens"
	"github.com/sapphir-health/sapphir-gateway/internal/upstream"
)

// Completer sends a message list upstream. *upstream.Client implements it.
type Completer interface {
	Complete(ctx context.Context, messages []domain.Message, opts upstream.Options) (*upstream.Completion, error)
}

// Extractor turns an uploaded image into text. *ocr.Extractor implements it.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string) (string, error)
}

// Config wires a Service. Upstream and Sessions are required; the rest are
// optional and degrade to no-ops.
type Config struct {
	Canned    *canned.Table
	Sessions  *session.Store
	Extractor Extractor
	Upstream  Completer
	// Options carries the sampling parameters sent with every call.
	Options upstream.Options
	// Model labels token counting and audit records.
	Model      string
	DefaultKey string

	Tokens   *tokens.Counter
	Recorder *interaction.Recorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Service runs Turn and AnalyzeDocument. It is safe for concurrent use.
type Service struct {
	canned     *canned.Table
	sessions   *session.Store
	extractor  Extractor
	upstream   Completer
	options    upstream.Options
	model      string
	defaultKey string
	tokens     *tokens.Counter
	recorder   *interaction.Recorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Upstream == nil {
		return nil, errors.New("gateway: upstream completer is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("gateway: session store is required")
	}
	if cfg.DefaultKey == "" {
		cfg.DefaultKey = session.DefaultKey
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		canned:     cfg.Canned,
		sessions:   cfg.Sessions,
		extractor:  cfg.Extractor,
		upstream:   cfg.Upstream,
		options:    cfg.Options,
		model:      cfg.Model,
		defaultKey: cfg.DefaultKey,
		tokens:     cfg.Tokens,
		recorder:   cfg.Recorder,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}, nil
}

// Sessions exposes the store, mainly for the live-sessions gauge.
func (s *Service) Sessions() *session.Store {
	return s.sessions
}

// Turn answers one user message on the session identified by key (the
// default key when empty). Canned questions are answered without touching
// the session or the upstream. Otherwise the session is held for the whole
// call and the user message and reply are appended together only on success.
func (s *Service) Turn(ctx context.Context, key, text string) (string, error) {
	start := time.Now()
	if key == "" {
		key = s.defaultKey
	}
	rec := &domain.Interaction{Kind: domain.InteractionTurn, SessionKey: key}

	reply, err := s.turn(ctx, key, strings.TrimSpace(text), rec)
	s.finish(ctx, rec, start, err, s.metrics.ObserveTurn)
	return reply, err
}

func (s *Service) turn(ctx context.Context, key, text string, rec *domain.Interaction) (string, error) {
	if text == "" {
		return "", domain.NewEmptyInput()
	}
	server.AddLogField(ctx, "session", key)

	if answer, ok := s.canned.Lookup(text); ok {
		rec.Canned = true
		server.AddLogField(ctx, "canned", "true")
		return answer, nil
	}

	release, err := s.sessions.Lock(ctx, key)
	if err != nil {
		return "", waitError(err)
	}
	defer release()

	s.sessions.GetOrCreate(key)
	history, err := s.sessions.Snapshot(key)
	if err != nil {
		return "", fmt.Errorf("snapshot session %q: %w", key, err)
	}

	user := domain.UserMessage(text)
	completion, err := s.complete(ctx, append(history, user), rec)
	if err != nil {
		return "", err
	}

	if err := s.sessions.Append(key, user, domain.AssistantMessage(completion.Reply)); err != nil {
		return "", fmt.Errorf("append to session %q: %w", key, err)
	}
	return completion.Reply, nil
}

// AnalyzeDocument extracts text from an uploaded image and asks the upstream
// to analyze it in a single stateless call.
func (s *Service) AnalyzeDocument(ctx context.Context, data []byte, filename string) (string, error) {
	start := time.Now()
	rec := &domain.Interaction{Kind: domain.InteractionDocument}

	report, err := s.analyze(ctx, data, filename, rec)
	s.finish(ctx, rec, start, err, s.metrics.ObserveDocument)
	return report, err
}

func (s *Service) analyze(ctx context.Context, data []byte, filename string, rec *domain.Interaction) (string, error) {
	if s.extractor == nil {
		return "", errors.New("gateway: document analysis is not configured")
	}

	text, err := s.extractor.Extract(ctx, data, filename)
	if err != nil {
		return "", err
	}
	server.AddLogField(ctx, "extracted_chars", strconv.Itoa(len([]rune(text))))

	completion, err := s.complete(ctx, []domain.Message{domain.UserMessage(DocumentPrompt + text)}, rec)
	if err != nil {
		return "", err
	}
	return completion.Reply, nil
}

func (s *Service) complete(ctx context.Context, payload []domain.Message, rec *domain.Interaction) (*upstream.Completion, error) {
	rec.Model = s.model
	if s.tokens != nil {
		n, estimated := s.tokens.Count(s.model, payload)
		rec.PromptTokens = n
		server.AddLogField(ctx, "prompt_tokens", strconv.Itoa(n))
		if estimated {
			server.AddLogField(ctx, "prompt_tokens_estimated", "true")
		}
	}

	start := time.Now()
	completion, err := s.upstream.Complete(ctx, payload, s.options)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		s.metrics.ObserveUpstream(string(domain.KindOf(err)), elapsed)
		return nil, err
	case completion.Fallback:
		s.metrics.ObserveUpstream(metrics.ResultFallback, elapsed)
		server.AddLogField(ctx, "fallback_reply", "true")
	default:
		s.metrics.ObserveUpstream(metrics.ResultOK, elapsed)
	}

	if completion.Model != "" {
		rec.Model = completion.Model
	}
	return completion, nil
}

func (s *Service) finish(ctx context.Context, rec *domain.Interaction, start time.Time, err error, observe func(string)) {
	rec.Duration = time.Since(start)
	rec.Status = domain.InteractionStatusCompleted

	outcome := metrics.OutcomeCompleted
	switch {
	case err != nil:
		rec.Status = domain.InteractionStatusFailed
		rec.ErrorKind = domain.KindOf(err)
		outcome = metrics.OutcomeFailed
		s.metrics.ObserveError(string(rec.ErrorKind))
		server.AddError(ctx, err)
		s.logger.Debug("gateway call failed",
			slog.String("kind", string(rec.Kind)),
			slog.String("error_kind", string(rec.ErrorKind)),
			slog.String("error", err.Error()),
		)
	case rec.Canned:
		outcome = metrics.OutcomeCanned
	}
	observe(outcome)

	s.recorder.Record(ctx, rec)
}

// waitError maps a failed wait for the session lock onto the error taxonomy.
func waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTimeout(err)
	}
	return fmt.Errorf("wait for session: %w", err)
}
