package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/pkg/catalog"
	pkgopenapi "github.com/goliatone/go-formflow/pkg/openapi"
)

type violation struct {
	file     string
	location string
	message  string
}

func main() {
	openapiSource := flag.String("openapi", "", "OpenAPI document (path or URL) whose request bodies are linted as forms")
	flag.Usage = func() {
		if _, err := fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-openapi source] [dirs...]\n", filepath.Base(os.Args[0])); err != nil {
			panic(err)
		}
		if _, err := fmt.Fprintf(flag.CommandLine.Output(), "\nLint form definitions. Without arguments the embedded catalog is checked.\n"); err != nil {
			panic(err)
		}
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx := context.Background()
	var violations []violation

	dirs := flag.Args()
	if len(dirs) == 0 && *openapiSource == "" {
		violations = append(violations, lintCatalog("embedded", func() error {
			_, err := catalog.Load(catalog.Embedded())
			return err
		})...)
	}
	for _, dir := range dirs {
		violations = append(violations, lintCatalog(dir, func() error {
			_, err := catalog.Load(os.DirFS(dir))
			return err
		})...)
	}
	if *openapiSource != "" {
		linted, err := lintOpenAPI(ctx, *openapiSource)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lint %s: %v\n", *openapiSource, err)
			os.Exit(1)
		}
		violations = append(violations, linted...)
	}

	if len(violations) > 0 {
		sort.Slice(violations, func(i, j int) bool {
			if violations[i].file == violations[j].file {
				if violations[i].location == violations[j].location {
					return violations[i].message < violations[j].message
				}
				return violations[i].location < violations[j].location
			}
			return violations[i].file < violations[j].file
		})
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "%s: %s -> %s\n", v.file, v.location, v.message)
		}
		os.Exit(1)
	}
}

func lintCatalog(file string, load func() error) []violation {
	err := load()
	if err == nil {
		return nil
	}
	var result []violation
	for _, leaf := range unwrapJoined(err) {
		result = append(result, violation{file: file, location: "catalog", message: leaf.Error()})
	}
	return result
}

func unwrapJoined(err error) []error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var out []error
	for _, inner := range joined.Unwrap() {
		out = append(out, unwrapJoined(inner)...)
	}
	return out
}

func lintOpenAPI(ctx context.Context, raw string) ([]violation, error) {
	src, err := pkgopenapi.ParseSource(raw)
	if err != nil {
		return nil, err
	}
	loader := formflow.NewLoader(pkgopenapi.WithHTTPFallback(0))
	doc, err := loader.Load(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	operations, err := formflow.NewParser().Operations(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("parse operations: %w", err)
	}

	ids := make([]string, 0, len(operations))
	for id := range operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var result []violation
	registry := catalog.New()
	for _, id := range ids {
		op := operations[id]
		base := []string{"operation", id}
		result = append(result, lintExtensions(raw, base, op.Extensions)...)
		result = append(result, lintSchema(raw, appendPath(base, "requestBody"), op.RequestBody)...)

		form, err := pkgopenapi.FormFromOperation(op)
		if errors.Is(err, pkgopenapi.ErrNoBody) {
			continue
		}
		if err == nil {
			err = registry.Register(form)
		}
		if err != nil {
			result = append(result, violation{file: raw, location: formatLocation(base), message: err.Error()})
		}
	}
	return result, nil
}

func lintSchema(file string, path []string, schema pkgopenapi.Schema) []violation {
	var result []violation
	if len(schema.Extensions) > 0 {
		result = append(result, lintExtensions(file, path, schema.Extensions)...)
	}

	if len(schema.Properties) > 0 {
		keys := make([]string, 0, len(schema.Properties))
		for key := range schema.Properties {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			next := appendPath(path, "properties."+key)
			result = append(result, lintSchema(file, next, schema.Properties[key])...)
		}
	}

	if schema.Items != nil {
		result = append(result, lintSchema(file, appendPath(path, "items"), *schema.Items)...)
	}

	return result
}

func lintExtensions(file string, path []string, extensions map[string]any) []violation {
	if len(extensions) == 0 {
		return nil
	}

	sortedKeys := make([]string, 0, len(extensions))
	for key := range extensions {
		sortedKeys = append(sortedKeys, key)
	}
	sort.Strings(sortedKeys)

	var result []violation
	for _, key := range sortedKeys {
		if !strings.HasPrefix(key, pkgopenapi.ExtensionNamespace+"-") || pkgopenapi.IsKnownExtension(key) {
			continue
		}
		result = append(result, violation{
			file:     file,
			location: formatLocation(path),
			message:  fmt.Sprintf("unsupported extension %q (supported: %s)", key, strings.Join(pkgopenapi.KnownExtensions(), ", ")),
		})
	}
	return result
}

func appendPath(path []string, segment string) []string {
	next := append([]string(nil), path...)
	next = append(next, segment)
	return next
}

func formatLocation(path []string) string {
	return strings.Join(path, " > ")
}
