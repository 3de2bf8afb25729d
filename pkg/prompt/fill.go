package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goliatone/go-formflow/pkg/client"
	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/model"
	"github.com/goliatone/go-formflow/pkg/validation"
)

// Widget hints read from Field.Metadata["widget"].
const (
	WidgetPassword = "password"
	WidgetTextArea = "textarea"
)

// FileOpener turns a path typed by the user into an upload part.
type FileOpener func(path string) (client.File, error)

// Option customises Fill.
type Option func(*filler)

// WithFileOpener replaces the default opener, which reads the whole file.
func WithFileOpener(open FileOpener) Option {
	return func(f *filler) {
		if open != nil {
			f.open = open
		}
	}
}

// WithSkipFilled skips fields that already hold a value.
func WithSkipFilled() Option {
	return func(f *filler) {
		f.skipFilled = true
	}
}

type filler struct {
	driver     Driver
	form       *form.Form
	validator  *validation.Validator
	open       FileOpener
	skipFilled bool
}

// Fill walks the form's fields in declaration order and asks for each one
// that is visible at that point, so answers can reveal later fields. Every
// answer is checked with the field's rules before it is accepted.
func Fill(ctx context.Context, d Driver, f *form.Form, opts ...Option) error {
	if d == nil || f == nil {
		return errors.New("prompt: driver and form are required")
	}
	fl := &filler{driver: d, form: f, validator: f.Validator(), open: readFile}
	for _, opt := range opts {
		if opt != nil {
			opt(fl)
		}
	}

	for _, field := range fl.validator.Form().Fields {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !f.Visible(field.Name) {
			continue
		}
		if fl.skipFilled && !empty(f.Value(field.Name)) {
			continue
		}
		value, err := fl.ask(ctx, field)
		if err != nil {
			return fmt.Errorf("prompt: %s: %w", field.Name, err)
		}
		if err := f.Set(field.Name, value); err != nil {
			return err
		}
	}
	return nil
}

func (fl *filler) ask(ctx context.Context, field model.Field) (any, error) {
	message := field.DisplayLabel()
	if field.Required {
		message += " *"
	}
	current := fl.form.Value(field.Name)
	check := fl.check(field.Name)

	switch {
	case field.Type == model.FieldTypeBoolean:
		def, _ := current.(bool)
		return fl.driver.Confirm(ctx, ConfirmConfig{Message: message, Default: def, Help: field.Description})
	case len(field.Enum) > 0:
		return fl.choose(ctx, field, message, current)
	case field.Type == model.FieldTypeFile:
		return fl.file(ctx, field, message)
	case field.Type == model.FieldTypeObject:
		raw, err := fl.driver.TextArea(ctx, TextAreaConfig{
			Message: message + " (JSON)",
			Default: jsonText(current),
			Help:    field.Description,
			Validator: func(s string) error {
				_, err := decodeObject(s)
				return err
			},
		})
		if err != nil {
			return nil, err
		}
		obj, err := decodeObject(raw)
		if obj == nil {
			return nil, err
		}
		return obj, err
	case field.Type == model.FieldTypeArray:
		raw, err := fl.driver.Input(ctx, InputConfig{
			Message:   message + " (separados por vírgula)",
			Default:   listText(current),
			Help:      field.Description,
			Validator: func(s string) error { return check(splitList(s)) },
		})
		if err != nil {
			return nil, err
		}
		return splitList(raw), nil
	case field.Metadata["widget"] == WidgetTextArea:
		return fl.driver.TextArea(ctx, TextAreaConfig{
			Message:   message,
			Default:   text(current),
			Help:      field.Description,
			Validator: func(s string) error { return check(s) },
		})
	case secret(field):
		return fl.driver.Password(ctx, InputConfig{
			Message:   message,
			Default:   text(current),
			Help:      field.Description,
			Validator: func(s string) error { return check(s) },
		})
	}
	help := field.Description
	if help == "" {
		help = field.Placeholder
	}
	return fl.driver.Input(ctx, InputConfig{
		Message:   message,
		Default:   text(current),
		Help:      help,
		Validator: func(s string) error { return check(s) },
	})
}

func (fl *filler) choose(ctx context.Context, field model.Field, message string, current any) (any, error) {
	options := make([]string, len(field.Enum))
	for i, option := range field.Enum {
		options[i] = fmt.Sprint(option)
	}

	if field.Type == model.FieldTypeArray {
		var defaults []int
		if items, ok := current.([]any); ok {
			for _, item := range items {
				if idx := indexOf(options, fmt.Sprint(item)); idx >= 0 {
					defaults = append(defaults, idx)
				}
			}
		}
		picked, err := fl.driver.MultiSelect(ctx, SelectConfig{Message: message, Options: options, Defaults: defaults, Help: field.Description})
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(picked))
		for _, idx := range picked {
			out = append(out, field.Enum[idx])
		}
		return out, nil
	}

	def := -1
	if current != nil {
		def = indexOf(options, fmt.Sprint(current))
	}
	if !field.Required {
		options = append([]string{"(nenhum)"}, options...)
		def++
	}
	idx, err := fl.driver.Select(ctx, SelectConfig{Message: message, Options: options, DefaultIndex: def, Help: field.Description})
	if err != nil {
		return nil, err
	}
	if !field.Required {
		if idx <= 0 {
			return nil, nil
		}
		idx--
	}
	if idx < 0 || idx >= len(field.Enum) {
		return nil, fmt.Errorf("invalid selection %d", idx)
	}
	return field.Enum[idx], nil
}

func (fl *filler) file(ctx context.Context, field model.Field, message string) (any, error) {
	path, err := fl.driver.Input(ctx, InputConfig{
		Message: message + " (caminho do arquivo)",
		Help:    field.Description,
		Validator: func(s string) error {
			s = strings.TrimSpace(s)
			if s == "" {
				if field.Required {
					return errors.New(fl.requiredMessage(field.Name))
				}
				return nil
			}
			if _, err := os.Stat(s); err != nil {
				return fmt.Errorf("arquivo não encontrado: %s", s)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	file, err := fl.open(path)
	if err != nil {
		return nil, err
	}
	if file.Field == "" {
		file.Field = field.Name
	}
	return &file, nil
}

func (fl *filler) check(name string) func(any) error {
	return func(value any) error {
		_, msg, err := fl.validator.ValidateField(name, value)
		if err != nil {
			return err
		}
		if msg != "" {
			return errors.New(msg)
		}
		return nil
	}
}

func (fl *filler) requiredMessage(name string) string {
	_, msg, _ := fl.validator.ValidateField(name, nil)
	if msg == "" {
		return "Campo obrigatório"
	}
	return msg
}

func secret(field model.Field) bool {
	if field.Metadata["widget"] == WidgetPassword {
		return true
	}
	name := strings.ToLower(field.Name)
	for _, marker := range []string{"password", "senha", "token", "apikey", "secret"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

func readFile(path string) (client.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return client.File{}, fmt.Errorf("prompt: read %s: %w", path, err)
	}
	return client.File{Filename: filepath.Base(path), Content: bytes.NewReader(data)}, nil
}

func splitList(raw string) []any {
	out := []any{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func decodeObject(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("JSON inválido: %w", err)
	}
	return out, nil
}

func empty(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case []any:
		return len(typed) == 0
	}
	return false
}

func text(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	}
	return fmt.Sprint(value)
}

func listText(value any) string {
	items, ok := value.([]any)
	if !ok {
		return text(value)
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = text(item)
	}
	return strings.Join(parts, ", ")
}

func jsonText(value any) string {
	if value == nil {
		return ""
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(raw)
}
