package tokens

import (
	"log/slog"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
)

// MessageCounter counts prompt tokens for a model.
type MessageCounter interface {
	CountMessages(model string, messages []domain.Message) (int, error)
}

// Estimator approximates token counts from character length. It is the
// fallback when no tokenizer is available.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
	}
}

// CountMessages estimates the token count.
func (e *Estimator) CountMessages(model string, messages []domain.Message) (int, error) {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Role)
		totalChars += len(msg.Content)
		totalChars += 4 // role tokens + separators
	}
	return int(float64(totalChars) / e.CharsPerToken), nil
}

// Counter tries the primary counter and falls back to the estimator.
type Counter struct {
	primary  MessageCounter
	fallback MessageCounter
	logger   *slog.Logger
}

// NewCounter creates a Counter backed by tiktoken with the estimator as fallback.
func NewCounter(logger *slog.Logger) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{
		primary:  NewTiktokenCounter(),
		fallback: NewEstimator(),
		logger:   logger,
	}
}

// Count returns the prompt token count and whether it is an estimate.
func (c *Counter) Count(model string, messages []domain.Message) (int, bool) {
	if c.primary != nil {
		n, err := c.primary.CountMessages(model, messages)
		if err == nil {
			return n, false
		}
		c.logger.Debug("token counting failed, estimating", slog.String("error", err.Error()))
	}
	n, _ := c.fallback.CountMessages(model, messages)
	return n, true
}
