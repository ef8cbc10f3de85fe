// Package normalize canonicalizes free-text todo fields.
//
// Title and Category produce the values that get persisted. Canonical produces
// the comparison key used for duplicate detection and for deciding whether a
// patch changes anything; it is never stored.
package normalize

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/Tomlord1122/todo-service/internal/domain"
)

const (
	DefaultCategory   = "general"
	MaxTitleLength    = 200
	MaxCategoryLength = 50
)

var folder = cases.Fold()

// Text is a free-text field as it arrived at the boundary. Numeric is set when
// the client sent a JSON number; Value then holds its literal form.
type Text struct {
	Value   string
	Numeric bool
}

// String returns a Text holding a plain string value.
func String(s string) *Text {
	return &Text{Value: s}
}

// CategoryOptions controls how Category treats missing and numeric input.
type CategoryOptions struct {
	DefaultIfEmpty bool
	CoerceNumeric  bool
}

// Whitespace trims s and collapses every internal whitespace run to one space.
func Whitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Title returns the normalized form of raw.
func Title(raw string) (string, error) {
	title := Whitespace(raw)
	if title == "" {
		return "", domain.NewValidationError("Title must not be empty")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", domain.NewValidationError(fmt.Sprintf("Title must be at most %d characters", MaxTitleLength))
	}
	return title, nil
}

// Category returns the normalized form of raw. A nil raw means the field was absent.
func Category(raw *Text, opts CategoryOptions) (string, error) {
	if raw == nil {
		return emptyCategory(opts)
	}
	if raw.Numeric && !opts.CoerceNumeric {
		return "", domain.NewValidationError("Category must be a string")
	}

	category := Whitespace(raw.Value)
	if category == "" {
		return emptyCategory(opts)
	}
	if utf8.RuneCountInString(category) > MaxCategoryLength {
		return "", domain.NewValidationError(fmt.Sprintf("Category must be at most %d characters", MaxCategoryLength))
	}
	return category, nil
}

func emptyCategory(opts CategoryOptions) (string, error) {
	if opts.DefaultIfEmpty {
		return DefaultCategory, nil
	}
	return "", domain.NewValidationError("Category must not be empty")
}

// Canonical returns the comparison key for s: whitespace-normalized, then case-folded.
func Canonical(s string) string {
	return folder.String(Whitespace(s))
}
