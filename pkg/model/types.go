package model

import (
	"fmt"
	"net/url"
	"strings"
)

// FieldType is the simplified enum for form-friendly field kinds.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeInteger FieldType = "integer"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeArray   FieldType = "array"
	FieldTypeObject  FieldType = "object"
	FieldTypeFile    FieldType = "file"
)

const (
	ValidationRuleMin       = "min"
	ValidationRuleMax       = "max"
	ValidationRuleMinLength = "minLength"
	ValidationRuleMaxLength = "maxLength"
	ValidationRulePattern   = "pattern"
)

// Message keys that are not validation rule kinds but still accept overrides
// through Field.Messages.
const (
	MessageRequired = "required"
	MessageEnum     = "enum"
	MessageFormat   = "format"
	MessageType     = "type"
)

const (
	FormatURL   = "url"
	FormatURI   = "uri"
	FormatEmail = "email"
	FormatDate  = "date"
)

// ValidationRule represents a single validation constraint applied to a field.
// Numeric bounds and length limits encode their threshold in Params["value"]
// while pattern rules keep the expression in Params["pattern"].
type ValidationRule struct {
	Kind    string            `json:"kind" yaml:"kind"`
	Params  map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Message string            `json:"message,omitempty" yaml:"message,omitempty"`
}

// Rule is a small helper used by fixtures and builders.
func Rule(kind, value string) ValidationRule {
	key := "value"
	if kind == ValidationRulePattern {
		key = "pattern"
	}
	return ValidationRule{Kind: kind, Params: map[string]string{key: value}}
}

// WithMessage returns a copy of the rule carrying a custom message.
func (r ValidationRule) WithMessage(message string) ValidationRule {
	r.Message = message
	return r
}

// Field models an individual input inside a form definition.
type Field struct {
	Name        string            `json:"name" yaml:"name"`
	Type        FieldType         `json:"type" yaml:"type"`
	Format      string            `json:"format,omitempty" yaml:"format,omitempty"`
	Required    bool              `json:"required" yaml:"required"`
	Label       string            `json:"label,omitempty" yaml:"label,omitempty"`
	Placeholder string            `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Default     any               `json:"default,omitempty" yaml:"default,omitempty"`
	Enum        []any             `json:"enum,omitempty" yaml:"enum,omitempty"`
	Validations []ValidationRule  `json:"validations,omitempty" yaml:"validations,omitempty"`
	VisibleWhen string            `json:"visibleWhen,omitempty" yaml:"visibleWhen,omitempty"`
	Messages    map[string]string `json:"messages,omitempty" yaml:"messages,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Message returns the override registered for key, checking rule-level
// messages first.
func (f Field) Message(key string) string {
	for _, rule := range f.Validations {
		if rule.Kind == key && strings.TrimSpace(rule.Message) != "" {
			return strings.TrimSpace(rule.Message)
		}
	}
	if f.Messages == nil {
		return ""
	}
	return strings.TrimSpace(f.Messages[key])
}

// DisplayLabel returns the label or a humanised name.
func (f Field) DisplayLabel() string {
	if label := strings.TrimSpace(f.Label); label != "" {
		return label
	}
	return DefaultLabeler(f.Name)
}

// FormMessages holds form-level notification copy. Templates are rendered
// against the submitted values.
type FormMessages struct {
	Success     string `json:"success,omitempty" yaml:"success,omitempty"`
	SuccessBody string `json:"successBody,omitempty" yaml:"successBody,omitempty"`
	ErrorTitle  string `json:"errorTitle,omitempty" yaml:"errorTitle,omitempty"`
}

// FormModel is the top-level form definition.
type FormModel struct {
	ID          string            `json:"id" yaml:"id"`
	Endpoint    string            `json:"endpoint" yaml:"endpoint"`
	Method      string            `json:"method" yaml:"method"`
	Multipart   bool              `json:"multipart,omitempty" yaml:"multipart,omitempty"`
	Summary     string            `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []Field           `json:"fields" yaml:"fields"`
	Invalidates []string          `json:"invalidates,omitempty" yaml:"invalidates,omitempty"`
	Messages    FormMessages      `json:"messages,omitempty" yaml:"messages,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Field looks up a field by name.
func (f FormModel) Field(name string) (Field, bool) {
	for _, field := range f.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

// FieldNames returns the declared field names in order.
func (f FormModel) FieldNames() []string {
	names := make([]string, 0, len(f.Fields))
	for _, field := range f.Fields {
		names = append(names, field.Name)
	}
	return names
}

// ResolveEndpoint substitutes ":param" segments using params.
func (f FormModel) ResolveEndpoint(params map[string]string) (string, error) {
	return ResolvePath(f.Endpoint, params)
}

// ResolveInvalidates resolves every invalidation path template.
func (f FormModel) ResolveInvalidates(params map[string]string) ([]string, error) {
	out := make([]string, 0, len(f.Invalidates))
	for _, tpl := range f.Invalidates {
		path, err := ResolvePath(tpl, params)
		if err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, nil
}

// PathParams lists the ":param" names used by the endpoint and the
// invalidation templates, in first-seen order.
func (f FormModel) PathParams() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tpl := range append([]string{f.Endpoint}, f.Invalidates...) {
		for _, segment := range strings.Split(tpl, "/") {
			if !strings.HasPrefix(segment, ":") {
				continue
			}
			name := strings.TrimPrefix(segment, ":")
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// ResolvePath substitutes ":param" segments of tpl using params.
func ResolvePath(tpl string, params map[string]string) (string, error) {
	segments := strings.Split(tpl, "/")
	for i, segment := range segments {
		if !strings.HasPrefix(segment, ":") {
			continue
		}
		name := strings.TrimPrefix(segment, ":")
		value, ok := params[name]
		if !ok || strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("model: path %q missing parameter %q", tpl, name)
		}
		segments[i] = url.PathEscape(strings.TrimSpace(value))
	}
	return strings.Join(segments, "/"), nil
}
