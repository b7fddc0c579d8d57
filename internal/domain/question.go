package domain

import (
	"fmt"
	"strings"
)

// Validate checks the question has text, at least two distinct non-empty options
// and a correct option that points into the option list.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: empty text", ErrMalformedQuestion)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("%w: %d options", ErrMalformedQuestion, len(q.Options))
	}
	if q.Correct < 0 || q.Correct >= len(q.Options) {
		return fmt.Errorf("%w: correct option %d out of range", ErrMalformedQuestion, q.Correct)
	}

	seen := make(map[string]struct{}, len(q.Options))
	for _, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("%w: empty option", ErrMalformedQuestion)
		}
		if _, dup := seen[opt]; dup {
			return fmt.Errorf("%w: duplicate option %q", ErrMalformedQuestion, opt)
		}
		seen[opt] = struct{}{}
	}
	return nil
}
