package agents

import (
	"strings"
	"unicode"

	"github.com/fentz26/conductor/internal/models"
)

func payloadString(t models.Task, key string) string {
	if t.Payload == nil {
		return ""
	}
	s, _ := t.Payload[key].(string)
	return strings.TrimSpace(s)
}

// patternName returns the pattern a task refers to: the explicit "pattern"
// payload field, or a slug of the description.
func patternName(t models.Task) string {
	if name := payloadString(t, "pattern"); name != "" {
		return slug(name)
	}
	return slug(t.Description)
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
