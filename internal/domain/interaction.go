package domain

import "time"

// InteractionKind distinguishes the two gateway pipelines.
type InteractionKind string

const (
	InteractionTurn     InteractionKind = "turn"
	InteractionDocument InteractionKind = "document"
)

// InteractionStatus represents the outcome of an interaction.
type InteractionStatus string

const (
	InteractionStatusCompleted InteractionStatus = "completed"
	InteractionStatusFailed    InteractionStatus = "failed"
)

// Interaction is the audit record of one Turn or AnalyzeDocument call. It
// deliberately carries no message content; transcripts live only in memory.
type Interaction struct {
	// ID uniquely identifies this interaction
	ID string `json:"id"`

	// RequestID links the record to the HTTP request log line
	RequestID string `json:"request_id,omitempty"`

	Kind InteractionKind `json:"kind"`

	// SessionKey is empty for document analysis
	SessionKey string `json:"session_key,omitempty"`

	// Canned is true when the answer came from the canned-response table
	Canned bool `json:"canned"`

	Model string `json:"model,omitempty"`

	Status InteractionStatus `json:"status"`

	// ErrorKind is set when Status is failed
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// PromptTokens is the estimated size of the upstream payload
	PromptTokens int `json:"prompt_tokens,omitempty"`

	Duration time.Duration `json:"duration_ns"`

	CreatedAt time.Time `json:"created_at"`
}

// InteractionListOptions filters ListInteractions.
type InteractionListOptions struct {
	Kind   InteractionKind
	Limit  int
	Offset int
}
