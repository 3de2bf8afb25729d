package openapi_test

import (
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/model"
	"github.com/goliatone/go-formflow/pkg/openapi"
	"github.com/goliatone/go-formflow/pkg/validation"
)

func ptr[T any](v T) *T { return &v }

func pharmacistOperation() openapi.Operation {
	return openapi.Operation{
		ID:          "createPharmacist",
		Method:      "post",
		Path:        "/api/organizations/{organizationId}/pharmacists",
		ContentType: "application/json",
		Extensions: map[string]any{
			openapi.ExtensionFormID:      "organization.pharmacist",
			openapi.ExtensionInvalidates: []any{"/api/organizations/{organizationId}/pharmacists"},
			openapi.ExtensionFormMessages: map[string]any{
				"success": "Farmacêutico cadastrado",
			},
		},
		RequestBody: openapi.Schema{
			Type:     "object",
			Required: []string{"name", "crf"},
			Properties: map[string]openapi.Schema{
				"name": {Type: "string", MinLength: ptr(3), Extensions: map[string]any{openapi.ExtensionOrder: float64(1)}},
				"crf": {
					Type:    "string",
					Pattern: "^[0-9]{3,6}$",
					Extensions: map[string]any{
						openapi.ExtensionOrder:        float64(2),
						openapi.ExtensionRuleMessages: map[string]any{"pattern": "CRF inválido", "required": "Informe o CRF"},
					},
				},
				"email":       {Type: "string", Format: "email"},
				"yearsActive": {Type: "integer", Minimum: ptr(0.0), ExclusiveMinimum: true, Maximum: ptr(60.0)},
				"photo":       {Type: "string", Format: "binary"},
				"state":       {Type: "string", Enum: []any{"SP", "RJ"}, Extensions: map[string]any{openapi.ExtensionVisibleWhen: "email != null"}},
			},
		},
	}
}

func TestFormFromOperation(t *testing.T) {
	form, err := openapi.FormFromOperation(pharmacistOperation())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	if form.ID != "organization.pharmacist" || form.Method != "POST" {
		t.Fatalf("unexpected header %q %q", form.ID, form.Method)
	}
	if form.Endpoint != "/api/organizations/:organizationId/pharmacists" {
		t.Fatalf("unexpected endpoint %q", form.Endpoint)
	}
	if diff := cmp.Diff([]string{"/api/organizations/:organizationId/pharmacists"}, form.Invalidates); diff != "" {
		t.Fatalf("invalidates mismatch (-want +got):\n%s", diff)
	}
	if form.Messages.Success != "Farmacêutico cadastrado" {
		t.Fatalf("messages not mapped: %+v", form.Messages)
	}
	if diff := cmp.Diff([]string{"name", "crf", "email", "photo", "state", "yearsActive"}, form.FieldNames()); diff != "" {
		t.Fatalf("field order mismatch (-want +got):\n%s", diff)
	}

	years, _ := form.Field("yearsActive")
	wantRules := []model.ValidationRule{model.Rule("min", "1"), model.Rule("max", "60")}
	if diff := cmp.Diff(wantRules, years.Validations); diff != "" {
		t.Fatalf("rules mismatch (-want +got):\n%s", diff)
	}
	photo, _ := form.Field("photo")
	if photo.Type != model.FieldTypeFile {
		t.Fatalf("binary string should be a file field, got %q", photo.Type)
	}
	crf, _ := form.Field("crf")
	if crf.Message("pattern") != "CRF inválido" || crf.Message("required") != "Informe o CRF" {
		t.Fatalf("rule messages not mapped: %+v", crf)
	}
}

func TestFormFromOperation_CompilesAndValidates(t *testing.T) {
	form, err := openapi.FormFromOperation(pharmacistOperation())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	v, err := validation.Compile(form)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	_, err = v.Validate(map[string]any{"name": "Ana", "crf": "12a", "yearsActive": 0})
	errs, ok := validation.AsErrors(err)
	if !ok {
		t.Fatalf("expected errors, got %v", err)
	}
	if diff := cmp.Diff(map[string]string{"crf": "CRF inválido", "yearsActive": "Deve ser maior ou igual a 1"}, errs.Map()); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestForms_SkipsOperationsWithoutBody(t *testing.T) {
	ops := map[string]openapi.Operation{
		"listPharmacists":  {ID: "listPharmacists", Method: "GET", Path: "/api/organization/pharmacists"},
		"createPharmacist": pharmacistOperation(),
	}
	forms, err := openapi.Forms(ops)
	if err != nil {
		t.Fatalf("forms: %v", err)
	}
	if len(forms) != 1 || forms[0].ID != "organization.pharmacist" {
		t.Fatalf("unexpected forms %+v", forms)
	}

	if _, err := openapi.FormFromOperation(ops["listPharmacists"]); !errors.Is(err, openapi.ErrNoBody) {
		t.Fatalf("expected ErrNoBody, got %v", err)
	}
}

func TestParseSource(t *testing.T) {
	src, err := openapi.ParseSource("https://api.example.com/openapi.json")
	if err != nil || src.Kind() != openapi.SourceKindURL {
		t.Fatalf("url source: %v %v", src, err)
	}
	src, err = openapi.ParseSource("./contracts/console.yaml")
	if err != nil || src.Kind() != openapi.SourceKindFile || src.Location() != "contracts/console.yaml" {
		t.Fatalf("file source: %v %v", src, err)
	}
	if _, err := openapi.ParseSource("  "); err == nil {
		t.Fatalf("expected empty source error")
	}
}

func TestKnownExtensions(t *testing.T) {
	known := openapi.KnownExtensions()
	if !sort.StringsAreSorted(known) {
		t.Fatalf("extensions should be sorted: %v", known)
	}
	if !openapi.IsKnownExtension(openapi.ExtensionVisibleWhen) {
		t.Fatalf("visible-when should be known")
	}
	if openapi.IsKnownExtension(openapi.ExtensionNamespace + "-widget") {
		t.Fatalf("unexpected known extension")
	}
}
