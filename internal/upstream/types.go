package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
)

// ChatCompletionRequest is the body sent to the chat completions endpoint.
// Field order and names match the wire contract exactly.
type ChatCompletionRequest struct {
	Model       string                  `json:"model"`
	Temperature *float64                `json:"temperature,omitempty"`
	MaxTokens   *int                    `json:"max_tokens,omitempty"`
	Messages    []ChatCompletionMessage `json:"messages"`
}

// ChatCompletionMessage is one message of the request payload.
type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the subset of the completion response the
// gateway reads.
type ChatCompletionResponse struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Choices []Choice      `json:"choices"`
	Usage   *domain.Usage `json:"usage,omitempty"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int              `json:"index"`
	Message      *ResponseMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// ResponseMessage distinguishes an absent or null content from an empty one.
type ResponseMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// ErrorResponse is the error envelope returned on non-2xx responses.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError contains error details.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code,omitempty"`
}

func (e *APIError) String() string {
	if e.Code != nil && e.Code != "" {
		return fmt.Sprintf("%v: %s", e.Code, e.Message)
	}
	return e.Message
}

// ParseErrorResponse attempts to parse an error envelope. It returns nil, nil
// when the body is JSON without an error object.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	return errResp.Error, nil
}

// buildMessages validates messages at the wire boundary.
func buildMessages(messages []domain.Message) ([]ChatCompletionMessage, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("upstream: empty message list")
	}
	out := make([]ChatCompletionMessage, len(messages))
	for i, m := range messages {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("upstream: message %d has invalid role %q", i, m.Role)
		}
		out[i] = ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return out, nil
}

// replyFrom extracts choices[0].message.content. ok is false when it is
// structurally absent.
func replyFrom(resp *ChatCompletionResponse) (reply string, finishReason string, ok bool) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", "", false
	}
	first := resp.Choices[0]
	if first.Message == nil || first.Message.Content == nil {
		return "", first.FinishReason, false
	}
	return *first.Message.Content, first.FinishReason, true
}
