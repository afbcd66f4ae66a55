package wizard

import (
	"errors"
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
	"github.com/gabriel-vasile/mimetype"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

// MaxUploadSize is the largest statement accepted for conversion.
const MaxUploadSize = 10 << 20

var (
	ErrNotPDF    = errors.New("Please upload a PDF file only.")
	ErrTooLarge  = errors.New("File size must be under 10MB.")
	ErrEmptyFile = errors.New("Please choose a file to upload.")
)

// Validate rejects a file before any network call. The type is decided by
// sniffing the content, not by the declared content type.
func Validate(file *models.Upload) error {
	if file == nil || file.Size() == 0 {
		return ErrEmptyFile
	}
	if !mimetype.Detect(file.Data).Is("application/pdf") {
		return ErrNotPDF
	}
	if file.Size() > MaxUploadSize {
		return ErrTooLarge
	}
	if file.ContentType == "" || file.ContentType == "application/octet-stream" {
		file.ContentType = "application/pdf"
	}
	return nil
}

// Phrases the backend uses when a conversion is refused for lack of pages.
const (
	phraseInsufficient = iota
	phrasePagesRemaining
	phraseNeed
	phraseRemaining
)

var (
	phraseOnce    sync.Once
	phraseMatcher *ahocorasick.Matcher
)

// IsInsufficientPages reports whether a backend error message is a quota
// refusal rather than a processing failure.
func IsInsufficientPages(msg string) bool {
	phraseOnce.Do(func() {
		phraseMatcher = ahocorasick.NewStringMatcher([]string{
			phraseInsufficient:   "insufficient pages",
			phrasePagesRemaining: "pages remaining",
			phraseNeed:           "need",
			phraseRemaining:      "remaining",
		})
	})

	var hit [4]bool
	for _, i := range phraseMatcher.MatchThreadSafe([]byte(strings.ToLower(msg))) {
		hit[i] = true
	}
	return hit[phraseInsufficient] || hit[phrasePagesRemaining] || (hit[phraseNeed] && hit[phraseRemaining])
}
