package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind represents the category of a gateway error.
type ErrorKind string

const (
	// KindEmptyInput indicates a turn with no text after trimming.
	KindEmptyInput ErrorKind = "empty_input"

	// KindUnsupportedMediaKind indicates an upload whose extension is not allowed.
	KindUnsupportedMediaKind ErrorKind = "unsupported_media_kind"

	// KindDecode indicates an upload that could not be decoded as an image.
	KindDecode ErrorKind = "decode_error"

	// KindEmptyExtraction indicates OCR found no text in the image.
	KindEmptyExtraction ErrorKind = "empty_extraction"

	// KindTimeout indicates the upstream call exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindNetwork indicates a transport-level failure reaching upstream.
	KindNetwork ErrorKind = "network"

	// KindUpstream indicates upstream answered with a non-2xx status.
	KindUpstream ErrorKind = "upstream_error"
)

// Error is the canonical error returned by the gateway's components and
// translated to an HTTP payload by the frontdoor.
type Error struct {
	// Kind is the category of error
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable message shown to the caller
	Message string `json:"error"`

	// StatusCode is the upstream status for KindUpstream, or an override
	StatusCode int `json:"-"`

	// Err is the underlying cause, if any
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, domain.ErrTimeout).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatusCode returns the HTTP status code presented to the caller.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Kind {
	case KindEmptyInput, KindUnsupportedMediaKind, KindEmptyExtraction:
		return http.StatusBadRequest
	case KindDecode, KindTimeout, KindNetwork, KindUpstream:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is comparisons. They carry only a kind.
var (
	ErrEmptyInput           = &Error{Kind: KindEmptyInput}
	ErrUnsupportedMediaKind = &Error{Kind: KindUnsupportedMediaKind}
	ErrDecode               = &Error{Kind: KindDecode}
	ErrEmptyExtraction      = &Error{Kind: KindEmptyExtraction}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrNetwork              = &Error{Kind: KindNetwork}
	ErrUpstream             = &Error{Kind: KindUpstream}
)

// NewEmptyInput reports a message that was empty after trimming.
func NewEmptyInput() *Error {
	return &Error{Kind: KindEmptyInput, Message: "Nenhuma mensagem recebida."}
}

// NewUnsupportedMediaKind reports an upload with a disallowed extension.
func NewUnsupportedMediaKind(ext string) *Error {
	return &Error{
		Kind:    KindUnsupportedMediaKind,
		Message: "Formato de arquivo não suportado.",
		Err:     fmt.Errorf("extension %q is not allowed", ext),
	}
}

// NewDecode reports an upload that is not a readable image.
func NewDecode(err error) *Error {
	return &Error{Kind: KindDecode, Message: "Não foi possível ler a imagem enviada.", Err: err}
}

// NewEmptyExtraction reports an image with no recognizable text.
func NewEmptyExtraction() *Error {
	return &Error{Kind: KindEmptyExtraction, Message: "Nenhum texto foi encontrado na imagem."}
}

// NewTimeout reports an upstream call that ran out of time.
func NewTimeout(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "Erro na API DeepSeek: tempo limite excedido", Err: err}
}

// NewNetwork reports a transport failure; detail is surfaced to the caller.
func NewNetwork(err error) *Error {
	return &Error{Kind: KindNetwork, Message: fmt.Sprintf("Erro na API DeepSeek: %v", err), Err: err}
}

// NewUpstream reports a non-2xx upstream response. The status is forwarded
// verbatim to the caller.
func NewUpstream(status int, detail string) *Error {
	e := &Error{
		Kind:       KindUpstream,
		Message:    fmt.Sprintf("Erro na API DeepSeek: %d", status),
		StatusCode: status,
	}
	if detail != "" {
		e.Err = errors.New(detail)
	}
	return e
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err is not a gateway error.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}
