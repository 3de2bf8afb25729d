package notify

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	textPolicyOnce sync.Once
	textPolicy     *bluemonday.Policy
)

// maxSanitizePasses bounds how many layers of entity encoding Sanitize
// decodes.
const maxSanitizePasses = 4

// Sanitize strips markup from server-provided text and returns plain text
// for terminal or text display. Entities are decoded, so the result must be
// escaped again before it is placed inside HTML. Encoded tags such as
// "&lt;script&gt;" are decoded and then stripped like literal ones.
func Sanitize(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	textPolicyOnce.Do(func() {
		textPolicy = bluemonday.StrictPolicy()
	})
	for i := 0; i < maxSanitizePasses; i++ {
		next := strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(text)))
		if next == text {
			return text
		}
		text = next
	}
	// Still changing after the last pass: keep the policy's escaped output.
	return strings.TrimSpace(textPolicy.Sanitize(text))
}
