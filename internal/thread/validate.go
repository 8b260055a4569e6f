package thread

import (
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/threadpost/internal/config"
)

// Validator checks the structure of a thread before anything is published.
type Validator struct {
	maxPosts      int
	maxPostLength int
}

func NewValidator(cfg config.ThreadConfig) *Validator {
	return &Validator{maxPosts: cfg.MaxPosts, maxPostLength: cfg.MaxPostLength}
}

// Validate returns a *ValidationError for the first rule texts breaks, in
// this order: empty thread, too many posts, blank post, post too long.
// Post length counts Unicode code points.
func (v *Validator) Validate(texts []string) error {
	if len(texts) == 0 {
		return &ValidationError{Kind: ErrEmptyThread}
	}
	if len(texts) > v.maxPosts {
		return &ValidationError{Kind: ErrTooManyPosts, Limit: v.maxPosts, Actual: len(texts)}
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return &ValidationError{Kind: ErrBlankPost, Index: i}
		}
	}
	for i, text := range texts {
		if n := utf8.RuneCountInString(text); n > v.maxPostLength {
			return &ValidationError{Kind: ErrPostTooLong, Index: i, Length: n, Limit: v.maxPostLength}
		}
	}
	return nil
}
