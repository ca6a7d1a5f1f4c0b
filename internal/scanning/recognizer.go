package scanning

import (
	"context"
	"mime"
	"strings"
)

// ProgressFunc receives advisory OCR progress in percent (0-100). Values are
// not guaranteed to be monotonic. Implementations must return quickly.
type ProgressFunc func(percent int)

// Recognizer turns a receipt image into plain text
type Recognizer interface {
	// Recognize returns the text found in the image. lang is an OCR language
	// hint such as "eng". progress may be nil.
	Recognize(ctx context.Context, image []byte, contentType, lang string, progress ProgressFunc) (string, error)
	// Close releases any resources held by the recognizer
	Close() error
}

// IsImage reports whether a declared content type names an image
func IsImage(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

func report(progress ProgressFunc, percent int) {
	if progress != nil {
		progress(percent)
	}
}
