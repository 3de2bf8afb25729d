package openapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/go-formflow/pkg/model"
)

// ExtensionNamespace prefixes every vendor extension read while building forms.
const ExtensionNamespace = "x-formflow"

// Vendor extensions read while building forms.
const (
	ExtensionFormID       = "x-formflow-id"
	ExtensionInvalidates  = "x-formflow-invalidates"
	ExtensionFormMessages = "x-formflow-messages"
	ExtensionOrder        = "x-formflow-order"
	ExtensionLabel        = "x-formflow-label"
	ExtensionPlaceholder  = "x-formflow-placeholder"
	ExtensionVisibleWhen  = "x-formflow-visible-when"
	ExtensionRuleMessages = "x-formflow-rule-messages"
)

var knownExtensions = []string{
	ExtensionFormID,
	ExtensionInvalidates,
	ExtensionLabel,
	ExtensionFormMessages,
	ExtensionOrder,
	ExtensionPlaceholder,
	ExtensionRuleMessages,
	ExtensionVisibleWhen,
}

// KnownExtensions lists the supported extension keys, sorted.
func KnownExtensions() []string {
	return append([]string(nil), knownExtensions...)
}

// IsKnownExtension reports whether key is a supported x-formflow extension.
func IsKnownExtension(key string) bool {
	for _, known := range knownExtensions {
		if key == known {
			return true
		}
	}
	return false
}

// ErrNoBody is returned for operations without an object request body.
var ErrNoBody = errors.New("openapi: operation has no object request body")

var pathParam = regexp.MustCompile(`\{([^}/]+)\}`)

// FormFromOperation converts the operation's request body into a form
// definition. Path templates switch from "{id}" to ":id".
func FormFromOperation(op Operation) (model.FormModel, error) {
	if !op.HasBody() {
		return model.FormModel{}, fmt.Errorf("%w: %s", ErrNoBody, op.ID)
	}

	form := model.FormModel{
		ID:          op.ID,
		Endpoint:    pathParam.ReplaceAllString(op.Path, ":$1"),
		Method:      strings.ToUpper(op.Method),
		Multipart:   op.Multipart(),
		Summary:     op.Summary,
		Description: op.Description,
	}
	if form.Method == "" {
		form.Method = http.MethodPost
	}
	if id := stringExt(op.Extensions, ExtensionFormID); id != "" {
		form.ID = id
	}
	for _, tpl := range stringsExt(op.Extensions, ExtensionInvalidates) {
		form.Invalidates = append(form.Invalidates, pathParam.ReplaceAllString(tpl, ":$1"))
	}
	if messages := mapExt(op.Extensions, ExtensionFormMessages); messages != nil {
		form.Messages = model.FormMessages{
			Success:     str(messages["success"]),
			SuccessBody: str(messages["successBody"]),
			ErrorTitle:  str(messages["errorTitle"]),
		}
	}

	body := op.RequestBody
	for _, name := range body.PropertyNames() {
		form.Fields = append(form.Fields, fieldFromSchema(name, body.Properties[name], body.IsRequired(name)))
	}
	return form, nil
}

// Forms converts every operation with an object request body, sorted by
// form id. Operations without a body are skipped.
func Forms(operations map[string]Operation) ([]model.FormModel, error) {
	ids := make([]string, 0, len(operations))
	for id := range operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var forms []model.FormModel
	for _, id := range ids {
		form, err := FormFromOperation(operations[id])
		if errors.Is(err, ErrNoBody) {
			continue
		}
		if err != nil {
			return nil, err
		}
		forms = append(forms, form)
	}
	sort.SliceStable(forms, func(i, j int) bool { return forms[i].ID < forms[j].ID })
	return forms, nil
}

func fieldFromSchema(name string, s Schema, required bool) model.Field {
	field := model.Field{
		Name:        name,
		Type:        fieldType(s),
		Format:      fieldFormat(s.Format),
		Required:    required,
		Label:       firstNonEmpty(stringExt(s.Extensions, ExtensionLabel), s.Title),
		Placeholder: stringExt(s.Extensions, ExtensionPlaceholder),
		Description: s.Description,
		Default:     s.Default,
		VisibleWhen: stringExt(s.Extensions, ExtensionVisibleWhen),
	}
	if len(s.Enum) > 0 {
		field.Enum = append([]any(nil), s.Enum...)
	} else if s.Items != nil && len(s.Items.Enum) > 0 {
		field.Enum = append([]any(nil), s.Items.Enum...)
	}

	ruleMessages := mapExt(s.Extensions, ExtensionRuleMessages)
	add := func(kind, value string) {
		rule := model.Rule(kind, value)
		if msg := str(ruleMessages[kind]); msg != "" {
			rule = rule.WithMessage(msg)
		}
		field.Validations = append(field.Validations, rule)
	}

	minLength, maxLength := s.MinLength, s.MaxLength
	if field.Type == model.FieldTypeArray {
		minLength, maxLength = s.MinItems, s.MaxItems
	}
	if minLength != nil && *minLength > 0 {
		add(model.ValidationRuleMinLength, strconv.Itoa(*minLength))
	}
	if maxLength != nil {
		add(model.ValidationRuleMaxLength, strconv.Itoa(*maxLength))
	}
	if s.Minimum != nil {
		add(model.ValidationRuleMin, bound(*s.Minimum, s.ExclusiveMinimum, field.Type, 1))
	}
	if s.Maximum != nil {
		add(model.ValidationRuleMax, bound(*s.Maximum, s.ExclusiveMaximum, field.Type, -1))
	}
	if s.Pattern != "" {
		add(model.ValidationRulePattern, s.Pattern)
	}

	for key, value := range ruleMessages {
		switch key {
		case model.MessageRequired, model.MessageEnum, model.MessageFormat, model.MessageType:
			if field.Messages == nil {
				field.Messages = make(map[string]string)
			}
			field.Messages[key] = str(value)
		}
	}
	return field
}

// bound turns exclusive limits into the nearest inclusive one.
func bound(value float64, exclusive bool, kind model.FieldType, direction float64) string {
	if exclusive {
		if kind == model.FieldTypeInteger {
			value = math.Floor(value) + direction
		} else {
			value = math.Nextafter(value, value+direction)
		}
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func fieldType(s Schema) model.FieldType {
	types := strings.Split(s.Type, ",")
	kind := ""
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" && t != "null" {
			kind = t
			break
		}
	}
	switch kind {
	case "string":
		if s.Format == "binary" {
			return model.FieldTypeFile
		}
		return model.FieldTypeString
	case "integer":
		return model.FieldTypeInteger
	case "number":
		return model.FieldTypeNumber
	case "boolean":
		return model.FieldTypeBoolean
	case "array":
		if s.Items != nil && s.Items.Format == "binary" {
			return model.FieldTypeFile
		}
		return model.FieldTypeArray
	case "object":
		return model.FieldTypeObject
	}
	if len(s.Properties) > 0 {
		return model.FieldTypeObject
	}
	return model.FieldTypeString
}

func fieldFormat(format string) string {
	switch format {
	case "date", "date-time":
		return model.FormatDate
	case "email":
		return model.FormatEmail
	case "uri", "url":
		return model.FormatURL
	}
	return ""
}

func stringExt(ext map[string]any, key string) string {
	return strings.TrimSpace(str(ext[key]))
}

func stringsExt(ext map[string]any, key string) []string {
	switch v := ext[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := str(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func mapExt(ext map[string]any, key string) map[string]any {
	if m, ok := ext[key].(map[string]any); ok {
		return m
	}
	return nil
}

func str(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	}
	return fmt.Sprint(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
