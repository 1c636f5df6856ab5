package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sapphir-health/sapphir-gateway/internal/canned"
	"github.com/sapphir-health/sapphir-gateway/internal/domain"
	"github.com/sapphir-health/sapphir-gateway/internal/interaction"
	"github.com/sapphir-health/sapphir-gateway/internal/metrics"
	"github.com/sapphir-health/sapphir-gateway/internal/session"
	"github.com/sapphir-health/sapphir-gateway/internal/storage/memory"
	"github.com/sapphir-health/sapphir-gateway/internal/tokens"
	"github.com/sapphir-health/sapphir-gateway/internal/upstream"
)

// stubCompleter echoes the last message unless told to fail. Messages whose
// content starts with "block" wait on the gate channel.
type stubCompleter struct {
	mu       sync.Mutex
	calls    int
	payloads [][]domain.Message
	err      error
	fallback bool
	gate     chan struct{}
	entered  chan struct{}
}

func (s *stubCompleter) Complete(ctx context.Context, messages []domain.Message, _ upstream.Options) (*upstream.Completion, error) {
	s.mu.Lock()
	s.calls++
	s.payloads = append(s.payloads, append([]domain.Message(nil), messages...))
	err := s.err
	s.mu.Unlock()

	last := messages[len(messages)-1].Content
	if strings.HasPrefix(last, "block") && s.gate != nil {
		if s.entered != nil {
			s.entered <- struct{}{}
		}
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, domain.NewTimeout(ctx.Err())
		}
	}

	if err != nil {
		return nil, err
	}
	if s.fallback {
		return &upstream.Completion{Reply: upstream.FallbackReply, Fallback: true}, nil
	}
	return &upstream.Completion{Reply: "re: " + last, Model: "deepseek-chat"}, nil
}

func (s *stubCompleter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubCompleter) lastPayload() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloads[len(s.payloads)-1]
}

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) Extract(context.Context, []byte, string) (string, error) {
	return s.text, s.err
}

type fixture struct {
	svc       *Service
	sessions  *session.Store
	completer *stubCompleter
	store     *memory.Store
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, completer *stubCompleter, extractor Extractor) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.New(SystemPrompt)
	store := memory.New()
	m := metrics.New()

	svc, err := New(Config{
		Canned:    canned.Default(),
		Sessions:  sessions,
		Extractor: extractor,
		Upstream:  completer,
		Model:     "deepseek-chat",
		Tokens:    tokens.NewCounter(logger),
		Recorder:  interaction.NewRecorder(store, logger),
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{svc: svc, sessions: sessions, completer: completer, store: store, metrics: m}
}

func (f *fixture) transcript(t *testing.T, key string) []domain.Message {
	t.Helper()
	msgs, err := f.sessions.Snapshot(key)
	if err != nil {
		t.Fatalf("Snapshot(%q) error = %v", key, err)
	}
	return msgs
}

func (f *fixture) interactions(t *testing.T) []*domain.Interaction {
	t.Helper()
	list, err := f.store.ListInteractions(context.Background(), domain.InteractionListOptions{})
	if err != nil {
		t.Fatalf("ListInteractions() error = %v", err)
	}
	return list
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Config{Sessions: session.New("")}); err == nil {
		t.Error("expected error without upstream")
	}
	if _, err := New(Config{Upstream: &stubCompleter{}}); err == nil {
		t.Error("expected error without session store")
	}
}

func TestTurn_Canned(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "exact", input: "quais são os sintomas de dengue?"},
		{name: "case and spacing", input: "  QUAIS SÃO OS SINTOMAS DE DENGUE?  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &stubCompleter{}, nil)
			want, _ := canned.Default().Lookup("quais são os sintomas de dengue?")

			got, err := f.svc.Turn(context.Background(), "default", tt.input)
			if err != nil {
				t.Fatalf("Turn() error = %v", err)
			}
			if got != want {
				t.Errorf("Turn() = %q, want %q", got, want)
			}
			if f.completer.callCount() != 0 {
				t.Error("canned answer must not call upstream")
			}
			if f.sessions.Len() != 0 {
				t.Errorf("session store size = %d, want 0", f.sessions.Len())
			}

			if got := testutil.ToFloat64(f.metrics.TurnsTotal.WithLabelValues(metrics.OutcomeCanned)); got != 1 {
				t.Errorf("canned turns metric = %v, want 1", got)
			}

			recs := f.interactions(t)
			if len(recs) != 1 || !recs[0].Canned || recs[0].Status != domain.InteractionStatusCompleted {
				t.Errorf("interaction = %+v", recs)
			}
		})
	}
}

func TestTurn_EmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t "} {
		f := newFixture(t, &stubCompleter{}, nil)

		_, err := f.svc.Turn(context.Background(), "u1", input)
		if !errors.Is(err, domain.ErrEmptyInput) {
			t.Errorf("Turn(%q) error = %v, want EmptyInput", input, err)
		}
		if f.completer.callCount() != 0 {
			t.Errorf("Turn(%q) called upstream", input)
		}
	}
}

func TestTurn_DefaultKey(t *testing.T) {
	f := newFixture(t, &stubCompleter{}, nil)

	if _, err := f.svc.Turn(context.Background(), "", "hello"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if got := len(f.transcript(t, session.DefaultKey)); got != 3 {
		t.Errorf("default session length = %d, want 3", got)
	}
}

func TestTurn_Ordering(t *testing.T) {
	f := newFixture(t, &stubCompleter{}, nil)
	ctx := context.Background()

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := f.svc.Turn(ctx, "u1", "pergunta "+string(rune('a'+i))); err != nil {
			t.Fatalf("Turn(%d) error = %v", i, err)
		}
	}

	msgs := f.transcript(t, "u1")
	if len(msgs) != 1+2*n {
		t.Fatalf("transcript length = %d, want %d", len(msgs), 1+2*n)
	}
	if msgs[0].Role != domain.RoleSystem || msgs[0].Content != SystemPrompt {
		t.Errorf("first message = %+v, want system prompt", msgs[0].Role)
	}
	for i := 1; i < len(msgs); i += 2 {
		if msgs[i].Role != domain.RoleUser || msgs[i+1].Role != domain.RoleAssistant {
			t.Fatalf("roles at %d = %s,%s", i, msgs[i].Role, msgs[i+1].Role)
		}
		if msgs[i+1].Content != "re: "+msgs[i].Content {
			t.Errorf("reply %q does not answer %q", msgs[i+1].Content, msgs[i].Content)
		}
	}

	// The last payload is the prior transcript plus the new user message.
	if got := len(f.completer.lastPayload()); got != 1+2*(n-1)+1 {
		t.Errorf("last payload length = %d", got)
	}
}

func TestTurn_UpstreamFailureLeavesNoResidue(t *testing.T) {
	completer := &stubCompleter{}
	f := newFixture(t, completer, nil)
	ctx := context.Background()

	if _, err := f.svc.Turn(ctx, "u1", "first"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	before := len(f.transcript(t, "u1"))

	completer.mu.Lock()
	completer.err = domain.NewUpstream(http.StatusServiceUnavailable, "overloaded")
	completer.mu.Unlock()

	_, err := f.svc.Turn(ctx, "u1", "hello")
	var gwErr *domain.Error
	if !errors.As(err, &gwErr) || gwErr.Kind != domain.KindUpstream {
		t.Fatalf("Turn() error = %v, want UpstreamError", err)
	}
	if gwErr.HTTPStatusCode() != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", gwErr.HTTPStatusCode())
	}
	if after := len(f.transcript(t, "u1")); after != before {
		t.Fatalf("transcript length after failure = %d, want %d", after, before)
	}

	completer.mu.Lock()
	completer.err = nil
	completer.mu.Unlock()

	if _, err := f.svc.Turn(ctx, "u1", "hello again"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	payload := completer.lastPayload()
	if len(payload) != before+1 {
		t.Errorf("payload length = %d, want %d", len(payload), before+1)
	}
	for _, m := range payload {
		if m.Content == "hello" {
			t.Error("failed user message leaked into the next payload")
		}
	}

	recs := f.interactions(t)
	failed := 0
	for _, r := range recs {
		if r.Status == domain.InteractionStatusFailed {
			failed++
			if r.ErrorKind != domain.KindUpstream {
				t.Errorf("error kind = %q", r.ErrorKind)
			}
		}
	}
	if failed != 1 {
		t.Errorf("failed interactions = %d, want 1", failed)
	}
	if got := testutil.ToFloat64(f.metrics.UpstreamRequestsTotal.WithLabelValues(string(domain.KindUpstream))); got != 1 {
		t.Errorf("upstream error metric = %v, want 1", got)
	}
}

func TestTurn_FirstTurnFailureKeepsSeededSession(t *testing.T) {
	f := newFixture(t, &stubCompleter{err: domain.NewTimeout(context.DeadlineExceeded)}, nil)

	_, err := f.svc.Turn(context.Background(), "u1", "hello")
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("Turn() error = %v, want Timeout", err)
	}
	if got := len(f.transcript(t, "u1")); got != 1 {
		t.Errorf("transcript length = %d, want 1 (system only)", got)
	}
}

func TestTurn_FallbackReplyIsCommitted(t *testing.T) {
	f := newFixture(t, &stubCompleter{fallback: true}, nil)

	got, err := f.svc.Turn(context.Background(), "u1", "hello")
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if got != upstream.FallbackReply {
		t.Errorf("Turn() = %q", got)
	}
	msgs := f.transcript(t, "u1")
	if msgs[len(msgs)-1].Content != upstream.FallbackReply {
		t.Errorf("last message = %q", msgs[len(msgs)-1].Content)
	}
}

func TestTurn_ConcurrentSameKey(t *testing.T) {
	completer := &stubCompleter{gate: make(chan struct{}), entered: make(chan struct{}, 2)}
	f := newFixture(t, completer, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, text := range []string{"block one", "block two"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_, err := f.svc.Turn(ctx, "shared", text)
			errs <- err
		}(text)
	}

	// Only one turn may be in flight for the key.
	<-completer.entered
	select {
	case <-completer.entered:
		t.Fatal("second turn reached upstream while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	completer.gate <- struct{}{}
	<-completer.entered
	completer.gate <- struct{}{}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Turn() error = %v", err)
		}
	}

	msgs := f.transcript(t, "shared")
	if len(msgs) != 1+4 {
		t.Fatalf("transcript length = %d, want 5", len(msgs))
	}
	for i := 1; i < len(msgs); i += 2 {
		if msgs[i+1].Content != "re: "+msgs[i].Content {
			t.Errorf("interleaved transcript at %d: %q / %q", i, msgs[i].Content, msgs[i+1].Content)
		}
	}
}

func TestTurn_DifferentKeysDoNotBlock(t *testing.T) {
	completer := &stubCompleter{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	f := newFixture(t, completer, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Turn(ctx, "slow", "block me")
		done <- err
	}()
	<-completer.entered

	if _, err := f.svc.Turn(ctx, "fast", "hello"); err != nil {
		t.Fatalf("Turn(fast) error = %v", err)
	}

	completer.gate <- struct{}{}
	if err := <-done; err != nil {
		t.Fatalf("Turn(slow) error = %v", err)
	}
}

func TestTurn_CancelledWhileWaiting(t *testing.T) {
	completer := &stubCompleter{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	f := newFixture(t, completer, nil)

	go func() { _, _ = f.svc.Turn(context.Background(), "u1", "block first") }()
	<-completer.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.svc.Turn(ctx, "u1", "second")
	if !errors.Is(err, domain.ErrTimeout) {
		t.Errorf("Turn() error = %v, want Timeout", err)
	}

	completer.gate <- struct{}{}
}

func TestAnalyzeDocument(t *testing.T) {
	tests := []struct {
		name      string
		extractor stubExtractor
		upErr     error
		wantKind  domain.ErrorKind
		wantCalls int
	}{
		{name: "success", extractor: stubExtractor{text: "Hemoglobina 13,5 g/dL"}, wantCalls: 1},
		{name: "empty extraction", extractor: stubExtractor{err: domain.NewEmptyExtraction()}, wantKind: domain.KindEmptyExtraction},
		{name: "unsupported", extractor: stubExtractor{err: domain.NewUnsupportedMediaKind(".pdf")}, wantKind: domain.KindUnsupportedMediaKind},
		{name: "upstream failure", extractor: stubExtractor{text: "x"}, upErr: domain.NewUpstream(http.StatusBadGateway, ""), wantKind: domain.KindUpstream, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &stubCompleter{err: tt.upErr}
			f := newFixture(t, completer, tt.extractor)

			report, err := f.svc.AnalyzeDocument(context.Background(), []byte("img"), "scan.png")
			if completer.callCount() != tt.wantCalls {
				t.Errorf("upstream calls = %d, want %d", completer.callCount(), tt.wantCalls)
			}
			if tt.wantKind != "" {
				if domain.KindOf(err) != tt.wantKind {
					t.Fatalf("error = %v, want kind %s", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("AnalyzeDocument() error = %v", err)
			}

			payload := completer.lastPayload()
			if len(payload) != 1 || payload[0].Role != domain.RoleUser {
				t.Fatalf("payload = %+v, want one user message", payload)
			}
			if want := DocumentPrompt + tt.extractor.text; payload[0].Content != want {
				t.Errorf("payload content = %q, want %q", payload[0].Content, want)
			}
			if report != "re: "+payload[0].Content {
				t.Errorf("report = %q", report)
			}
			if f.sessions.Len() != 0 {
				t.Error("document analysis must not create sessions")
			}
		})
	}
}

func TestAnalyzeDocument_EmptyExtractionIsClientError(t *testing.T) {
	f := newFixture(t, &stubCompleter{}, stubExtractor{err: domain.NewEmptyExtraction()})

	_, err := f.svc.AnalyzeDocument(context.Background(), nil, "scan.png")
	gwErr, ok := domain.AsError(err)
	if !ok || gwErr.HTTPStatusCode() != http.StatusBadRequest {
		t.Fatalf("error = %v, want EmptyExtraction with status 400", err)
	}
}

func TestAnalyzeDocument_NotConfigured(t *testing.T) {
	f := newFixture(t, &stubCompleter{}, nil)
	if _, err := f.svc.AnalyzeDocument(context.Background(), nil, "scan.png"); err == nil {
		t.Fatal("expected error without extractor")
	}
}
