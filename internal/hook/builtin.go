package hook

import (
	"context"
	"errors"
	"strings"
)

// maxTitleRunes caps stored titles; longer input is truncated, not rejected.
const maxTitleRunes = 200

var errEmptyTitle = errors.New("task title cannot be empty")

// ValidateTitle is the built-in before-hook: it trims surrounding
// whitespace, truncates over-long titles, and vetoes empty ones.
func ValidateTitle(_ context.Context, p *Payload) error {
	title := strings.TrimSpace(p.Task.Title)
	if title == "" {
		return errEmptyTitle
	}
	if runes := []rune(title); len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes])
	}
	p.Task.Title = title
	return nil
}
