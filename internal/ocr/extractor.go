// Package ocr turns uploaded document images into plain text.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"

	// Register the decoders listed in decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
)

// DefaultExtensions is the allow-list used when none is configured.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg"}

// decoders maps each extension Extract can decode to its image format.
var decoders = map[string]string{
	".png":  "png",
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".gif":  "gif",
}

// ValidateExtensions returns an error naming every extension that has no
// registered image decoder. Uploads with such an extension could only ever
// fail with a decode error.
func ValidateExtensions(exts ...string) error {
	var errs []error
	for _, ext := range exts {
		if _, ok := decoders[normalizeExt(ext)]; !ok {
			errs = append(errs, fmt.Errorf("ocr extension %q has no image decoder", ext))
		}
	}
	return errors.Join(errs...)
}

// Recognizer runs optical character recognition over an encoded image.
type Recognizer interface {
	Recognize(ctx context.Context, img []byte) (string, error)
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithExtensions replaces the extension allow-list. Extensions are matched
// case-insensitively and may be given with or without the leading dot.
func WithExtensions(exts ...string) Option {
	return func(e *Extractor) {
		e.extensions = make(map[string]struct{}, len(exts))
		for _, ext := range exts {
			e.extensions[normalizeExt(ext)] = struct{}{}
		}
	}
}

// WithLogger sets the logger used for extraction diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// Extractor validates an upload and returns its recognized text. It holds no
// per-request state and is safe for concurrent use.
type Extractor struct {
	recognizer Recognizer
	extensions map[string]struct{}
	logger     *slog.Logger
}

// New creates an Extractor backed by recognizer.
func New(recognizer Recognizer, opts ...Option) *Extractor {
	e := &Extractor{
		recognizer: recognizer,
		logger:     slog.Default(),
	}
	WithExtensions(DefaultExtensions...)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Allowed reports whether filename carries an allowed extension.
func (e *Extractor) Allowed(filename string) bool {
	_, ok := e.extensions[normalizeExt(filepath.Ext(filename))]
	return ok
}

// Extract checks the extension, decodes the image, runs OCR and returns the
// trimmed text. Errors are *domain.Error of kind UnsupportedMediaKind,
// DecodeError or EmptyExtraction.
func (e *Extractor) Extract(ctx context.Context, data []byte, filename string) (string, error) {
	ext := normalizeExt(filepath.Ext(filename))
	if _, ok := e.extensions[ext]; !ok {
		return "", domain.NewUnsupportedMediaKind(ext)
	}

	// Decode fully so truncated files fail here rather than inside the OCR engine.
	_, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", domain.NewDecode(fmt.Errorf("decode %s: %w", filename, err))
	}

	text, err := e.recognizer.Recognize(ctx, data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", domain.NewDecode(ctxErr)
		}
		return "", domain.NewDecode(fmt.Errorf("recognize %s: %w", filename, err))
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.NewEmptyExtraction()
	}

	e.logger.Debug("text extracted",
		slog.String("filename", filename),
		slog.String("format", format),
		slog.Int("chars", len(text)),
	)

	return text, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
