package validation

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultLocale is used when no locale is configured or a lookup misses.
const DefaultLocale = "pt-BR"

// Message keys resolved through the Translator when a field carries no
// override.
const (
	KeyRequired    = "validation.required"
	KeyMinLength   = "validation.minLength"
	KeyMaxLength   = "validation.maxLength"
	KeyMinItems    = "validation.minItems"
	KeyMaxItems    = "validation.maxItems"
	KeyMin         = "validation.min"
	KeyMax         = "validation.max"
	KeyPattern     = "validation.pattern"
	KeyEnum        = "validation.enum"
	KeyType        = "validation.type"
	KeyFormatURL   = "validation.format.url"
	KeyFormatEmail = "validation.format.email"
	KeyFormatDate  = "validation.format.date"
)

// ErrMissingTranslation is returned when neither the requested locale nor the
// default one knows a key.
var ErrMissingTranslation = errors.New("validation: missing translation")

// Translator resolves message keys for a locale. Args are applied with fmt
// verbs in the resolved text.
type Translator interface {
	Translate(locale, key string, args ...any) (string, error)
}

// TranslatorFunc adapts a function into a Translator.
type TranslatorFunc func(locale, key string, args ...any) (string, error)

// Translate implements Translator.
func (fn TranslatorFunc) Translate(locale, key string, args ...any) (string, error) {
	return fn(locale, key, args...)
}

// Catalog is a static locale -> key -> format table.
type Catalog map[string]map[string]string

// DefaultCatalog returns the built-in Portuguese and English messages.
func DefaultCatalog() Catalog {
	return Catalog{
		"pt-BR": {
			KeyRequired:    "Campo obrigatório",
			KeyMinLength:   "Deve ter pelo menos %v caracteres",
			KeyMaxLength:   "Deve ter no máximo %v caracteres",
			KeyMinItems:    "Selecione pelo menos %v itens",
			KeyMaxItems:    "Selecione no máximo %v itens",
			KeyMin:         "Deve ser maior ou igual a %v",
			KeyMax:         "Deve ser menor ou igual a %v",
			KeyPattern:     "Formato inválido",
			KeyEnum:        "Selecione uma opção válida",
			KeyType:        "Valor inválido",
			KeyFormatURL:   "URL inválida",
			KeyFormatEmail: "E-mail inválido",
			KeyFormatDate:  "Data inválida",
		},
		"en": {
			KeyRequired:    "This field is required",
			KeyMinLength:   "Must be at least %v characters",
			KeyMaxLength:   "Must be at most %v characters",
			KeyMinItems:    "Select at least %v items",
			KeyMaxItems:    "Select at most %v items",
			KeyMin:         "Must be greater than or equal to %v",
			KeyMax:         "Must be less than or equal to %v",
			KeyPattern:     "Invalid format",
			KeyEnum:        "Select a valid option",
			KeyType:        "Invalid value",
			KeyFormatURL:   "Invalid URL",
			KeyFormatEmail: "Invalid e-mail",
			KeyFormatDate:  "Invalid date",
		},
	}
}

// Translate looks the key up in locale, then its base language ("pt" for
// "pt-BR"), then DefaultLocale.
func (c Catalog) Translate(locale, key string, args ...any) (string, error) {
	for _, candidate := range localeChain(locale) {
		table, ok := c[candidate]
		if !ok {
			continue
		}
		format, ok := table[key]
		if !ok {
			continue
		}
		if len(args) == 0 {
			return format, nil
		}
		return fmt.Sprintf(format, args...), nil
	}
	return "", fmt.Errorf("%w: %s (%s)", ErrMissingTranslation, key, locale)
}

func localeChain(locale string) []string {
	locale = strings.TrimSpace(locale)
	chain := make([]string, 0, 3)
	if locale != "" {
		chain = append(chain, locale)
		if idx := strings.IndexAny(locale, "-_"); idx > 0 {
			chain = append(chain, locale[:idx])
		}
	}
	if locale != DefaultLocale {
		chain = append(chain, DefaultLocale)
	}
	return chain
}
