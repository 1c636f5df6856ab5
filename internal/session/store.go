// Package session keeps per-session conversation transcripts in memory.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
)

// DefaultKey is the session key used when the caller supplies none.
const DefaultKey = "default_user"

// ErrUnknownSession is returned by Append and Snapshot for a key that was
// never created (or has been evicted). Callers that follow GetOrCreate with
// Append under Lock never see it.
var ErrUnknownSession = errors.New("session: unknown session key")

// Transcript is the ordered message history of one session. Its first
// message is always the system prompt.
type Transcript struct {
	mu       sync.RWMutex
	messages []domain.Message
}

func newTranscript(system domain.Message) *Transcript {
	return &Transcript{messages: []domain.Message{system}}
}

// Len returns the number of messages, including the system prompt.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Messages returns a copy of the transcript in chronological order.
func (t *Transcript) Messages() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) append(msgs ...domain.Message) {
	t.mu.Lock()
	t.messages = append(t.messages, msgs...)
	t.mu.Unlock()
}

type entry struct {
	transcript *Transcript
	// sem serializes turns on this key; a buffered channel so waiters can
	// give up when their context ends.
	sem      chan struct{}
	lastUsed time.Time
	holders  int
}

// Option configures a Store.
type Option func(*Store)

// WithIdleTTL evicts sessions idle for longer than ttl. Zero disables eviction.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.idleTTL = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store maps session keys to transcripts. The map lock is held only for map
// operations; turns on one key are serialized with Lock without blocking
// other keys.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry

	system  domain.Message
	idleTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// New creates an empty store whose transcripts start with systemPrompt.
func New(systemPrompt string, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		system:   domain.SystemMessage(systemPrompt),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// entryLocked returns the entry for key, creating and seeding it if needed.
// s.mu must be held.
func (s *Store) entryLocked(key string) *entry {
	e, ok := s.sessions[key]
	if !ok {
		e = &entry{
			transcript: newTranscript(s.system),
			sem:        make(chan struct{}, 1),
		}
		s.sessions[key] = e
		s.logger.Debug("session created", slog.String("session", key))
	}
	e.lastUsed = s.now()
	return e
}

// GetOrCreate returns the transcript for key, creating one seeded with the
// system message on first use. Repeated calls return the same *Transcript.
func (s *Store) GetOrCreate(key string) *Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryLocked(key).transcript
}

// Append adds msgs to the end of key's transcript.
func (s *Store) Append(key string, msgs ...domain.Message) error {
	s.mu.Lock()
	e, ok := s.sessions[key]
	if ok {
		e.lastUsed = s.now()
	}
	s.mu.Unlock()

	if !ok {
		return ErrUnknownSession
	}
	e.transcript.append(msgs...)
	return nil
}

// Snapshot returns a copy of key's transcript.
func (s *Store) Snapshot(key string) ([]domain.Message, error) {
	s.mu.Lock()
	e, ok := s.sessions[key]
	if ok {
		e.lastUsed = s.now()
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrUnknownSession
	}
	return e.transcript.Messages(), nil
}

// Lock acquires exclusive use of key, creating the session if needed, and
// returns the function that releases it. A locked session is never evicted.
// Lock returns ctx.Err() if ctx ends while waiting.
func (s *Store) Lock(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	e := s.entryLocked(key)
	e.holders++
	s.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		s.mu.Lock()
		e.holders--
		s.mu.Unlock()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			s.mu.Lock()
			e.holders--
			e.lastUsed = s.now()
			s.mu.Unlock()
		})
	}, nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep evicts sessions idle for longer than the configured TTL and returns
// how many were removed.
func (s *Store) Sweep() int {
	if s.idleTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	evicted := 0
	for key, e := range s.sessions {
		if e.holders > 0 || e.lastUsed.After(cutoff) {
			continue
		}
		delete(s.sessions, key)
		evicted++
	}
	return evicted
}

// Run sweeps every interval until ctx is done. It returns immediately when
// eviction is disabled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if s.idleTTL <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info("evicted idle sessions",
					slog.Int("evicted", n),
					slog.Int("remaining", s.Len()),
				)
			}
		}
	}
}
