package openapi

import (
	"errors"
	"sort"
)

// Document wraps the raw OpenAPI payload and its origin.
type Document struct {
	source Source
	raw    []byte
}

// NewDocument validates the inputs and copies raw.
func NewDocument(src Source, raw []byte) (Document, error) {
	if src == nil {
		return Document{}, errors.New("openapi: source is required")
	}
	if len(raw) == 0 {
		return Document{}, errors.New("openapi: raw document is empty")
	}
	return Document{source: src, raw: append([]byte(nil), raw...)}, nil
}

// MustNewDocument panics if the document cannot be created.
func MustNewDocument(src Source, raw []byte) Document {
	doc, err := NewDocument(src, raw)
	if err != nil {
		panic(err)
	}
	return doc
}

// Source returns the document origin.
func (d Document) Source() Source { return d.source }

// Raw returns a copy of the payload.
func (d Document) Raw() []byte { return append([]byte(nil), d.raw...) }

// Location returns the origin identifier.
func (d Document) Location() string {
	if d.source == nil {
		return ""
	}
	return d.source.Location()
}

// Operation is the subset of an OpenAPI operation needed to build a form.
type Operation struct {
	ID          string
	Method      string
	Path        string
	Summary     string
	Description string
	// ContentType is the media type the request body was read from.
	ContentType string
	RequestBody Schema
	Extensions  map[string]any
}

// Multipart reports whether the body is sent as multipart/form-data.
func (op Operation) Multipart() bool {
	return op.ContentType == "multipart/form-data"
}

// HasBody reports whether the operation declares an object request body.
func (op Operation) HasBody() bool {
	return len(op.RequestBody.Properties) > 0
}

// Schema is a request body or one of its properties.
type Schema struct {
	Ref              string
	Type             string
	Format           string
	Title            string
	Description      string
	Default          any
	Enum             []any
	Required         []string
	Properties       map[string]Schema
	Items            *Schema
	Minimum          *float64
	Maximum          *float64
	ExclusiveMinimum bool
	ExclusiveMaximum bool
	MinLength        *int
	MaxLength        *int
	MinItems         *int
	MaxItems         *int
	Pattern          string
	Extensions       map[string]any
}

// IsRequired reports whether name is listed in Required.
func (s Schema) IsRequired(name string) bool {
	for _, candidate := range s.Required {
		if candidate == name {
			return true
		}
	}
	return false
}

// PropertyNames returns property names in a stable order: by the
// x-formflow-order extension when present, then alphabetically.
func (s Schema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		oi, iok := order(s.Properties[names[i]])
		oj, jok := order(s.Properties[names[j]])
		switch {
		case iok && jok && oi != oj:
			return oi < oj
		case iok != jok:
			return iok
		}
		return names[i] < names[j]
	})
	return names
}

func order(s Schema) (float64, bool) {
	switch v := s.Extensions[ExtensionOrder].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
