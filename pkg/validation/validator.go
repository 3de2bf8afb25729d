// Package validation compiles form definitions into validators that coerce
// raw input, apply declarative rules, and report every failing field at once.
package validation

import (
	"errors"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goliatone/go-formflow/pkg/model"
	"github.com/goliatone/go-formflow/pkg/visibility"
)

var (
	// ErrInvalidDefinition wraps every problem found while compiling a form.
	ErrInvalidDefinition = errors.New("validation: invalid form definition")
	// ErrUnknownField is returned when a name is not declared by the form.
	ErrUnknownField = errors.New("validation: unknown field")
)

// Option customises a Validator.
type Option func(*Validator)

// WithTranslator replaces the default message catalog.
func WithTranslator(t Translator) Option {
	return func(v *Validator) {
		if t != nil {
			v.translator = t
		}
	}
}

// WithLocale selects the locale used for fallback messages.
func WithLocale(locale string) Option {
	return func(v *Validator) {
		if strings.TrimSpace(locale) != "" {
			v.locale = strings.TrimSpace(locale)
		}
	}
}

// Validator is a compiled form definition. It is immutable and safe for
// concurrent use.
type Validator struct {
	form       model.FormModel
	fields     []compiledField
	index      map[string]int
	translator Translator
	locale     string
}

type compiledField struct {
	field     model.Field
	min       *float64
	max       *float64
	minLength *int
	maxLength *int
	pattern   *regexp.Regexp
	visible   visibility.Rule
	enum      []string
}

// Compile checks the definition once and prepares regexes, bounds, and
// visibility rules.
func Compile(form model.FormModel, opts ...Option) (*Validator, error) {
	v := &Validator{
		form:       form,
		index:      make(map[string]int, len(form.Fields)),
		translator: DefaultCatalog(),
		locale:     DefaultLocale,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	var problems []string
	for _, field := range form.Fields {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			problems = append(problems, "field with empty name")
			continue
		}
		if _, exists := v.index[name]; exists {
			problems = append(problems, fmt.Sprintf("duplicate field %q", name))
			continue
		}
		compiled, errs := compileField(field)
		for _, err := range errs {
			problems = append(problems, fmt.Sprintf("field %q: %v", name, err))
		}
		v.index[name] = len(v.fields)
		v.fields = append(v.fields, compiled)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w %q: %s", ErrInvalidDefinition, form.ID, strings.Join(problems, "; "))
	}
	return v, nil
}

// MustCompile panics when the definition is invalid. Intended for embedded
// definitions known at build time.
func MustCompile(form model.FormModel, opts ...Option) *Validator {
	v, err := Compile(form, opts...)
	if err != nil {
		panic(err)
	}
	return v
}

func compileField(field model.Field) (compiledField, []error) {
	out := compiledField{field: field}
	var errs []error

	switch field.Type {
	case model.FieldTypeString, model.FieldTypeInteger, model.FieldTypeNumber,
		model.FieldTypeBoolean, model.FieldTypeArray, model.FieldTypeObject, model.FieldTypeFile:
	case "":
		out.field.Type = model.FieldTypeString
	default:
		errs = append(errs, fmt.Errorf("unsupported type %q", field.Type))
	}

	if len(field.Enum) > 0 {
		if field.Type == model.FieldTypeObject || field.Type == model.FieldTypeFile {
			errs = append(errs, fmt.Errorf("enum not allowed on %s fields", field.Type))
		}
		for _, option := range field.Enum {
			out.enum = append(out.enum, literal(option))
		}
	}

	for _, rule := range field.Validations {
		switch rule.Kind {
		case model.ValidationRuleMin, model.ValidationRuleMax:
			bound, err := strconv.ParseFloat(strings.TrimSpace(rule.Params["value"]), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s bound %q is not numeric", rule.Kind, rule.Params["value"]))
				continue
			}
			if rule.Kind == model.ValidationRuleMin {
				out.min = &bound
			} else {
				out.max = &bound
			}
		case model.ValidationRuleMinLength, model.ValidationRuleMaxLength:
			limit, err := strconv.Atoi(strings.TrimSpace(rule.Params["value"]))
			if err != nil || limit < 0 {
				errs = append(errs, fmt.Errorf("%s %q is not a non-negative integer", rule.Kind, rule.Params["value"]))
				continue
			}
			if rule.Kind == model.ValidationRuleMinLength {
				out.minLength = &limit
			} else {
				out.maxLength = &limit
			}
		case model.ValidationRulePattern:
			expr := rule.Params["pattern"]
			if expr == "" {
				expr = rule.Params["value"]
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				errs = append(errs, fmt.Errorf("pattern: %w", err))
				continue
			}
			out.pattern = re
		default:
			errs = append(errs, fmt.Errorf("unknown rule %q", rule.Kind))
		}
	}

	if out.min != nil && out.max != nil && *out.min > *out.max {
		errs = append(errs, fmt.Errorf("min %v greater than max %v", *out.min, *out.max))
	}
	if out.minLength != nil && out.maxLength != nil && *out.minLength > *out.maxLength {
		errs = append(errs, fmt.Errorf("minLength %d greater than maxLength %d", *out.minLength, *out.maxLength))
	}

	rule, err := visibility.Compile(field.VisibleWhen)
	if err != nil {
		errs = append(errs, err)
	}
	out.visible = rule

	return out, errs
}

// Form returns the definition the validator was compiled from.
func (v *Validator) Form() model.FormModel {
	return v.form
}

// Field returns the declared field.
func (v *Validator) Field(name string) (model.Field, bool) {
	idx, ok := v.index[name]
	if !ok {
		return model.Field{}, false
	}
	return v.fields[idx].field, true
}

// Has reports whether name is declared.
func (v *Validator) Has(name string) bool {
	_, ok := v.index[name]
	return ok
}

// Visible evaluates the field's visibility rule against values. Unknown
// fields are reported as hidden.
func (v *Validator) Visible(name string, values map[string]any) bool {
	idx, ok := v.index[name]
	if !ok {
		return false
	}
	return v.fields[idx].visible.Eval(values)
}

// Dependencies lists the fields whose value controls name's visibility.
func (v *Validator) Dependencies(name string) []string {
	idx, ok := v.index[name]
	if !ok {
		return nil
	}
	return v.fields[idx].visible.Fields()
}

// Defaults returns the static defaults declared by the form.
func (v *Validator) Defaults() map[string]any {
	out := make(map[string]any)
	for _, cf := range v.fields {
		if cf.field.Default != nil {
			out[cf.field.Name] = cf.field.Default
		}
	}
	return out
}

// Validate checks every visible field in declaration order and returns the
// coerced payload. Hidden fields and absent optional fields are left out of
// the payload. When any field fails the returned error is an Errors value
// listing all of them.
func (v *Validator) Validate(values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(v.fields))
	var failures Errors

	for _, cf := range v.fields {
		if !cf.visible.Eval(values) {
			continue
		}
		coerced, present, failure := v.check(cf, values[cf.field.Name])
		if failure != nil {
			failures = append(failures, *failure)
			continue
		}
		if present {
			out[cf.field.Name] = coerced
		}
	}

	if len(failures) > 0 {
		return out, failures
	}
	return out, nil
}

// ValidateField checks a single value the way Validate would, ignoring
// visibility. It returns the coerced value and an empty message on success.
func (v *Validator) ValidateField(name string, value any) (any, string, error) {
	idx, ok := v.index[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	coerced, _, failure := v.check(v.fields[idx], value)
	if failure != nil {
		return nil, failure.Message, nil
	}
	return coerced, "", nil
}

func (v *Validator) check(cf compiledField, raw any) (any, bool, *FieldError) {
	field := cf.field

	if isMissing(raw) {
		if field.Default != nil {
			raw = field.Default
		} else if field.Required {
			return nil, false, v.fail(field, model.MessageRequired, KeyRequired)
		} else {
			return nil, false, nil
		}
	}

	value, ok := coerce(field.Type, raw)
	if !ok {
		return nil, false, v.fail(field, model.MessageType, KeyType)
	}

	if len(cf.enum) > 0 && !containsLiteral(cf.enum, value) {
		return nil, false, v.fail(field, model.MessageEnum, KeyEnum)
	}

	switch typed := value.(type) {
	case string:
		length := utf8.RuneCountInString(typed)
		if cf.minLength != nil && length < *cf.minLength {
			return nil, false, v.fail(field, model.ValidationRuleMinLength, KeyMinLength, *cf.minLength)
		}
		if cf.maxLength != nil && length > *cf.maxLength {
			return nil, false, v.fail(field, model.ValidationRuleMaxLength, KeyMaxLength, *cf.maxLength)
		}
		if cf.pattern != nil && !cf.pattern.MatchString(typed) {
			return nil, false, v.fail(field, model.ValidationRulePattern, KeyPattern)
		}
		if key := checkFormat(field.Format, typed); key != "" {
			return nil, false, v.fail(field, model.MessageFormat, key)
		}
	case []any:
		if cf.minLength != nil && len(typed) < *cf.minLength {
			return nil, false, v.fail(field, model.ValidationRuleMinLength, KeyMinItems, *cf.minLength)
		}
		if cf.maxLength != nil && len(typed) > *cf.maxLength {
			return nil, false, v.fail(field, model.ValidationRuleMaxLength, KeyMaxItems, *cf.maxLength)
		}
	case int64, float64:
		n := toFloat(typed)
		if cf.min != nil && n < *cf.min {
			return nil, false, v.fail(field, model.ValidationRuleMin, KeyMin, formatBound(*cf.min))
		}
		if cf.max != nil && n > *cf.max {
			return nil, false, v.fail(field, model.ValidationRuleMax, KeyMax, formatBound(*cf.max))
		}
	}

	return value, true, nil
}

func (v *Validator) fail(field model.Field, rule, key string, args ...any) *FieldError {
	message := field.Message(rule)
	if message == "" {
		translated, err := v.translator.Translate(v.locale, key, args...)
		if err != nil || translated == "" {
			translated = key
		}
		message = translated
	}
	return &FieldError{Field: field.Name, Rule: rule, Message: message}
}

func isMissing(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case []any:
		return len(typed) == 0
	case []string:
		return len(typed) == 0
	}
	return false
}

func coerce(kind model.FieldType, raw any) (any, bool) {
	switch kind {
	case model.FieldTypeString, "":
		switch typed := raw.(type) {
		case string:
			return strings.TrimSpace(typed), true
		case fmt.Stringer:
			return strings.TrimSpace(typed.String()), true
		case bool, int, int32, int64, float32, float64:
			return fmt.Sprint(typed), true
		}
		return nil, false
	case model.FieldTypeInteger:
		n, ok := toNumber(raw)
		if !ok || n != math.Trunc(n) || n >= math.MaxInt64 || n < math.MinInt64 {
			return nil, false
		}
		return int64(n), true
	case model.FieldTypeNumber:
		n, ok := toNumber(raw)
		if !ok {
			return nil, false
		}
		return n, true
	case model.FieldTypeBoolean:
		switch typed := raw.(type) {
		case bool:
			return typed, true
		case string:
			switch strings.ToLower(strings.TrimSpace(typed)) {
			case "true", "1", "on", "yes", "sim":
				return true, true
			case "false", "0", "off", "no", "não", "nao":
				return false, true
			}
		}
		return nil, false
	case model.FieldTypeArray:
		switch typed := raw.(type) {
		case []any:
			return typed, true
		case []string:
			out := make([]any, len(typed))
			for i, item := range typed {
				out[i] = item
			}
			return out, true
		}
		return nil, false
	case model.FieldTypeObject:
		if typed, ok := raw.(map[string]any); ok {
			return typed, true
		}
		return nil, false
	case model.FieldTypeFile:
		return raw, true
	}
	return nil, false
}

func toNumber(raw any) (float64, bool) {
	switch typed := raw.(type) {
	case float64:
		return typed, !math.IsNaN(typed) && !math.IsInf(typed, 0)
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case string:
		trimmed := strings.ReplaceAll(strings.TrimSpace(typed), ",", ".")
		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func toFloat(value any) float64 {
	switch typed := value.(type) {
	case int64:
		return float64(typed)
	case float64:
		return typed
	}
	return 0
}

func formatBound(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func literal(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return formatBound(typed)
	case float32:
		return formatBound(float64(typed))
	}
	return fmt.Sprint(value)
}

func containsLiteral(options []string, value any) bool {
	if items, ok := value.([]any); ok {
		for _, item := range items {
			if !containsLiteral(options, item) {
				return false
			}
		}
		return true
	}
	needle := literal(value)
	for _, option := range options {
		if option == needle {
			return true
		}
	}
	return false
}

func checkFormat(format, value string) string {
	switch format {
	case model.FormatURL, model.FormatURI:
		parsed, err := url.Parse(value)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return KeyFormatURL
		}
	case model.FormatEmail:
		addr, err := mail.ParseAddress(value)
		if err != nil || addr.Address != value {
			return KeyFormatEmail
		}
	case model.FormatDate:
		if _, err := time.Parse(time.DateOnly, value); err != nil {
			if _, err := time.Parse(time.RFC3339, value); err != nil {
				return KeyFormatDate
			}
		}
	}
	return ""
}
