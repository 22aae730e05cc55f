package core

import (
	"regexp"
	"strings"
)

// Sanitizer masks listed words in message content. It is a courtesy filter
// and trivially bypassed with spacing or look-alike characters, so nothing
// should depend on it for safety.
type Sanitizer struct {
	pattern *regexp.Regexp
}

// DefaultBannedWords is the list used when none is configured.
var DefaultBannedWords = []string{"damn", "crap", "shit", "fuck", "bitch", "bastard"}

func NewSanitizer(words []string) *Sanitizer {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	if len(quoted) == 0 {
		return &Sanitizer{}
	}
	return &Sanitizer{
		pattern: regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`),
	}
}

// Clean replaces every listed word with asterisks of the same length.
func (s *Sanitizer) Clean(content string) string {
	if s == nil || s.pattern == nil {
		return content
	}
	return s.pattern.ReplaceAllStringFunc(content, func(w string) string {
		return strings.Repeat("*", len([]rune(w)))
	})
}
