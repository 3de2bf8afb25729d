// Package parser turns OpenAPI documents into pkg/openapi operations using
// kin-openapi.
package parser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	pkgopenapi "github.com/goliatone/go-formflow/pkg/openapi"
)

// Parser implements pkgopenapi.Parser.
type Parser struct {
	options pkgopenapi.ParserOptions
}

var _ pkgopenapi.Parser = (*Parser)(nil)

// New constructs a Parser with the given options.
func New(options pkgopenapi.ParserOptions) *Parser {
	return &Parser{options: options}
}

// Request body media types in order of preference.
var mediaTypes = []string{"application/json", "multipart/form-data", "application/x-www-form-urlencoded"}

var methods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
}

// Operations converts a Document into a map keyed by operationId. Operations
// without an id are keyed "method:path".
func (p *Parser) Operations(ctx context.Context, doc pkgopenapi.Document) (map[string]pkgopenapi.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw := doc.Raw()
	if len(raw) == 0 {
		return nil, errors.New("openapi parser: document payload is empty")
	}

	loader := &openapi3.Loader{Context: ctx}
	spec, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("openapi parser: load document: %w", err)
	}
	if spec.Paths == nil || spec.Paths.Len() == 0 {
		if !p.options.AllowPartialDocuments {
			return nil, errors.New("openapi parser: document does not contain any paths")
		}
		return map[string]pkgopenapi.Operation{}, nil
	}
	if p.options.ValidateDocument {
		if err := spec.Validate(ctx, openapi3.DisableExamplesValidation()); err != nil {
			return nil, fmt.Errorf("openapi parser: validate: %w", err)
		}
	}

	operations := make(map[string]pkgopenapi.Operation)
	for path, item := range spec.Paths.Map() {
		if item == nil {
			continue
		}
		for _, method := range methods {
			operation := item.GetOperation(method)
			if operation == nil {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			op := convertOperation(method, path, operation)
			if _, dup := operations[op.ID]; dup {
				return nil, fmt.Errorf("openapi parser: duplicate operation id %q", op.ID)
			}
			operations[op.ID] = op
		}
	}
	return operations, nil
}

func convertOperation(method, path string, operation *openapi3.Operation) pkgopenapi.Operation {
	id := strings.TrimSpace(operation.OperationID)
	if id == "" {
		id = strings.ToLower(method) + ":" + path
	}
	op := pkgopenapi.Operation{
		ID:          id,
		Method:      method,
		Path:        path,
		Summary:     operation.Summary,
		Description: operation.Description,
		Extensions:  cloneExtensions(operation.Extensions),
	}
	if body := operation.RequestBody; body != nil && body.Value != nil {
		contentType, media := pickMedia(body.Value.Content)
		if media != nil {
			op.ContentType = contentType
			op.RequestBody = convertSchema(media.Schema, make(map[*openapi3.Schema]bool))
		}
	}
	return op
}

func pickMedia(content openapi3.Content) (string, *openapi3.MediaType) {
	for _, mediaType := range mediaTypes {
		if mt, ok := content[mediaType]; ok && mt != nil {
			return mediaType, mt
		}
	}
	for mediaType, mt := range content {
		if mt != nil && strings.HasSuffix(mediaType, "json") {
			return mediaType, mt
		}
	}
	return "", nil
}

// convertSchema copies the parts of src a form needs. Recursive references
// stop at the first repeat and keep only the $ref.
func convertSchema(ref *openapi3.SchemaRef, visiting map[*openapi3.Schema]bool) pkgopenapi.Schema {
	if ref == nil {
		return pkgopenapi.Schema{}
	}
	if ref.Value == nil || visiting[ref.Value] {
		return pkgopenapi.Schema{Ref: ref.Ref}
	}
	src := ref.Value
	visiting[src] = true
	defer delete(visiting, src)

	schema := pkgopenapi.Schema{
		Ref:              ref.Ref,
		Type:             schemaType(src.Type),
		Format:           src.Format,
		Title:            src.Title,
		Description:      src.Description,
		Default:          src.Default,
		Pattern:          src.Pattern,
		ExclusiveMinimum: src.ExclusiveMin,
		ExclusiveMaximum: src.ExclusiveMax,
		Extensions:       cloneExtensions(src.Extensions),
	}
	if len(src.Required) > 0 {
		schema.Required = append([]string(nil), src.Required...)
	}
	if len(src.Enum) > 0 {
		schema.Enum = append([]any(nil), src.Enum...)
	}
	if src.Min != nil {
		v := *src.Min
		schema.Minimum = &v
	}
	if src.Max != nil {
		v := *src.Max
		schema.Maximum = &v
	}
	if src.MinLength > 0 {
		v := int(src.MinLength)
		schema.MinLength = &v
	}
	if src.MaxLength != nil {
		v := int(*src.MaxLength)
		schema.MaxLength = &v
	}
	if src.MinItems > 0 {
		v := int(src.MinItems)
		schema.MinItems = &v
	}
	if src.MaxItems != nil {
		v := int(*src.MaxItems)
		schema.MaxItems = &v
	}
	if len(src.Properties) > 0 {
		schema.Properties = make(map[string]pkgopenapi.Schema, len(src.Properties))
		for name, property := range src.Properties {
			schema.Properties[name] = convertSchema(property, visiting)
		}
	}
	if src.Items != nil {
		items := convertSchema(src.Items, visiting)
		schema.Items = &items
	}
	mergeAllOf(&schema, src.AllOf, visiting)
	return schema
}

// mergeAllOf folds allOf members into target: properties and required names
// are added, scalar facets fill gaps only.
func mergeAllOf(target *pkgopenapi.Schema, refs openapi3.SchemaRefs, visiting map[*openapi3.Schema]bool) {
	for _, ref := range refs {
		member := convertSchema(ref, visiting)
		if target.Type == "" {
			target.Type = member.Type
		}
		if target.Description == "" {
			target.Description = member.Description
		}
		for name, property := range member.Properties {
			if target.Properties == nil {
				target.Properties = make(map[string]pkgopenapi.Schema)
			}
			if _, exists := target.Properties[name]; !exists {
				target.Properties[name] = property
			}
		}
		for _, name := range member.Required {
			if !target.IsRequired(name) {
				target.Required = append(target.Required, name)
			}
		}
		for key, value := range member.Extensions {
			if target.Extensions == nil {
				target.Extensions = make(map[string]any)
			}
			if _, exists := target.Extensions[key]; !exists {
				target.Extensions[key] = value
			}
		}
	}
}

func schemaType(types *openapi3.Types) string {
	if types == nil {
		return ""
	}
	return strings.Join(types.Slice(), ",")
}

func cloneExtensions(raw map[string]any) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		if strings.HasPrefix(key, "x-") {
			out[key] = value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
