package security

import (
	"strings"

	apperrors "stock-alert/internal/errors"
)

const (
	// MaxTickerLen bounds ticker length. Class shares and indices fit easily.
	MaxTickerLen = 15
	// MaxNoteLen bounds the free-text note stored per symbol.
	MaxNoteLen = 4000
)

// ValidateTicker checks an already normalized ticker. Letters, digits, dot,
// dash, caret and equals are accepted so BRK.B, ^GSPC and EURUSD=X pass.
func ValidateTicker(ticker string) error {
	if ticker == "" {
		return apperrors.NewValidationError("ticker", ticker, "ticker is required")
	}
	if len(ticker) > MaxTickerLen {
		return apperrors.NewValidationError("ticker", ticker, "ticker too long")
	}
	for _, r := range ticker {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '^', r == '=':
		default:
			return apperrors.NewValidationError("ticker", ticker, "invalid character in ticker")
		}
	}
	return nil
}

// SanitizeText drops control characters other than newline and tab.
func SanitizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateNote sanitizes a note and enforces its length limit.
func ValidateNote(note string) (string, error) {
	note = SanitizeText(note)
	if len([]rune(note)) > MaxNoteLen {
		return "", apperrors.NewValidationError("note", len(note), "note too long")
	}
	return note, nil
}
