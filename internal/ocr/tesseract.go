package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract recognizes text with the Tesseract engine through gosseract.
// A gosseract client is not safe for concurrent use, so one is created per call.
type Tesseract struct {
	languages []string
}

// NewTesseract creates a recognizer for the given tesseract language codes
// (e.g. "por", "eng"). No languages means the engine default.
func NewTesseract(languages ...string) *Tesseract {
	return &Tesseract{languages: languages}
}

type recognition struct {
	text string
	err  error
}

// Recognize runs OCR over img. The engine cannot be interrupted; when ctx ends
// first the call returns ctx.Err() and the engine finishes in the background.
func (t *Tesseract) Recognize(ctx context.Context, img []byte) (string, error) {
	done := make(chan recognition, 1)
	go func() {
		text, err := t.recognize(img)
		done <- recognition{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

func (t *Tesseract) recognize(img []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if len(t.languages) > 0 {
		if err := client.SetLanguage(t.languages...); err != nil {
			return "", fmt.Errorf("set language: %w", err)
		}
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("load image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return text, nil
}
