package validation

import (
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/go-formflow/pkg/model"
)

// ServerErrors splits a server-side error payload into field messages and
// form-level messages.
type ServerErrors struct {
	Fields map[string][]string
	Form   []string
}

// Empty reports whether nothing was mapped.
func (s ServerErrors) Empty() bool {
	return len(s.Fields) == 0 && len(s.Form) == 0
}

// First returns the first message per field, the shape form drafts keep.
func (s ServerErrors) First() map[string]string {
	if len(s.Fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(s.Fields))
	for name, messages := range s.Fields {
		if len(messages) > 0 {
			out[name] = messages[0]
		}
	}
	return out
}

var wrapperSegments = map[string]struct{}{
	"body":       {},
	"request":    {},
	"payload":    {},
	"data":       {},
	"attributes": {},
}

// MapErrorPayload resolves server error paths (JSON pointers such as
// "/data/cnpj", dotted paths, or bracketed indexes) onto the form's field
// names. Paths that match no field become form-level messages so nothing is
// lost.
func MapErrorPayload(form model.FormModel, payload map[string][]string) ServerErrors {
	result := ServerErrors{Fields: make(map[string][]string)}

	known := make(map[string]struct{}, len(form.Fields))
	for _, field := range form.Fields {
		if name := strings.TrimSpace(field.Name); name != "" {
			known[name] = struct{}{}
		}
	}

	// Deterministic order keeps form-level messages stable.
	paths := make([]string, 0, len(payload))
	for path := range payload {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		messages := dedupe(payload[path])
		if len(messages) == 0 {
			continue
		}
		name := resolvePath(path, known)
		if name == "" {
			result.Form = append(result.Form, messages...)
			continue
		}
		result.Fields[name] = dedupe(append(result.Fields[name], messages...))
	}

	if len(result.Fields) == 0 {
		result.Fields = nil
	}
	result.Form = dedupe(result.Form)
	return result
}

// NormalizePayload converts the loosely typed "errors" object servers send
// with 422 responses ({"field": "msg"} or {"field": ["a", "b"]}) into the
// shape MapErrorPayload expects.
func NormalizePayload(raw map[string]any) map[string][]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string][]string, len(raw))
	for key, value := range raw {
		switch typed := value.(type) {
		case string:
			out[key] = []string{typed}
		case []string:
			out[key] = append([]string(nil), typed...)
		case []any:
			for _, item := range typed {
				if s, ok := item.(string); ok {
					out[key] = append(out[key], s)
				}
			}
		case map[string]any:
			if s, ok := typed["message"].(string); ok {
				out[key] = []string{s}
			}
		}
	}
	return out
}

func resolvePath(raw string, known map[string]struct{}) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", ".", "/", "#", "$", "form", "base", "__all__", "non_field_errors", "non-field-errors":
		return ""
	}
	if _, ok := known[strings.TrimSpace(raw)]; ok {
		return strings.TrimSpace(raw)
	}

	segments := splitPath(raw)
	for len(segments) > 0 {
		if _, wrapper := wrapperSegments[strings.ToLower(segments[0])]; !wrapper {
			break
		}
		segments = segments[1:]
	}

	filtered := segments[:0:0]
	for _, segment := range segments {
		if _, err := strconv.Atoi(segment); err == nil {
			continue
		}
		filtered = append(filtered, segment)
	}

	for end := len(filtered); end > 0; end-- {
		candidate := strings.Join(filtered[:end], ".")
		if _, ok := known[candidate]; ok {
			return candidate
		}
	}
	return ""
}

func splitPath(path string) []string {
	clean := strings.TrimSpace(path)
	clean = strings.TrimLeft(clean, "#$/.")
	clean = strings.NewReplacer("[", ".", "]", "").Replace(clean)

	parts := strings.FieldsFunc(clean, func(r rune) bool { return r == '.' || r == '/' })
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")
		out = append(out, part)
	}
	return out
}

func dedupe(messages []string) []string {
	if len(messages) == 0 {
		return nil
	}
	out := make([]string, 0, len(messages))
	seen := make(map[string]struct{}, len(messages))
	for _, message := range messages {
		trimmed := strings.TrimSpace(message)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
