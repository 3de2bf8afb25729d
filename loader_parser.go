package formflow

import (
	"context"
	"fmt"
	"time"

	internalLoader "github.com/goliatone/go-formflow/internal/openapi/loader"
	internalParser "github.com/goliatone/go-formflow/internal/openapi/parser"
	"github.com/goliatone/go-formflow/pkg/model"
	pkgopenapi "github.com/goliatone/go-formflow/pkg/openapi"
)

// NewLoader constructs a loader using the internal implementation while keeping
// the concrete type hidden from consumers.
func NewLoader(options ...pkgopenapi.LoaderOption) pkgopenapi.Loader {
	cfg := pkgopenapi.NewLoaderOptions(options...)
	return internalLoader.New(cfg)
}

// NewParser constructs a parser backed by the internal implementation.
func NewParser(options ...pkgopenapi.ParserOption) pkgopenapi.Parser {
	cfg := pkgopenapi.NewParserOptions(options...)
	return internalParser.New(cfg)
}

// FormsFromOpenAPI loads src and converts every operation with an object
// request body into a form definition. Operations without a body are skipped.
func FormsFromOpenAPI(ctx context.Context, loader pkgopenapi.Loader, parser pkgopenapi.Parser, src pkgopenapi.Source) ([]model.FormModel, error) {
	if loader == nil {
		loader = NewLoader(pkgopenapi.WithHTTPFallback(30 * time.Second))
	}
	if parser == nil {
		parser = NewParser()
	}
	doc, err := loader.Load(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("formflow: load %s: %w", src, err)
	}
	ops, err := parser.Operations(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("formflow: parse %s: %w", doc.Location(), err)
	}
	return pkgopenapi.Forms(ops)
}
