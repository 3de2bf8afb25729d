package form_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/model"
	"github.com/goliatone/go-formflow/pkg/validation"
)

func benefitValidator(t *testing.T) *validation.Validator {
	t.Helper()
	v, err := validation.Compile(model.FormModel{
		ID:       "social.benefit",
		Endpoint: "/api/social/benefits",
		Fields: []model.Field{
			{
				Name:     "title",
				Type:     model.FieldTypeString,
				Required: true,
				Validations: []model.ValidationRule{
					model.Rule(model.ValidationRuleMinLength, "3").WithMessage("O título deve ter pelo menos 3 caracteres"),
				},
			},
			{Name: "description", Type: model.FieldTypeString},
			{Name: "active", Type: model.FieldTypeBoolean, Default: true},
			{Name: "hasDiscount", Type: model.FieldTypeBoolean, Default: false},
			{Name: "discount", Type: model.FieldTypeNumber, VisibleWhen: "hasDiscount"},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return v
}

type serverError struct {
	fields map[string][]string
}

func (e serverError) Error() string                    { return "unprocessable" }
func (e serverError) FieldErrors() map[string][]string { return e.fields }

func TestCreateSeedsDefaults(t *testing.T) {
	f, err := form.New(benefitValidator(t), form.Create())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := map[string]any{"active": true, "hasDiscount": false}
	if diff := cmp.Diff(want, f.Values()); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
	if f.Mode() != form.ModeCreate || f.Dirty() {
		t.Fatalf("unexpected mode %v dirty %v", f.Mode(), f.Dirty())
	}
}

func TestEditSeedsEntityValues(t *testing.T) {
	entity := map[string]any{"id": 7, "title": "Academia", "active": false}
	f, err := form.New(benefitValidator(t), form.Edit(entity))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := map[string]any{"title": "Academia", "active": false, "hasDiscount": false}
	if diff := cmp.Diff(want, f.Values()); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
	if f.Seed().Entity()["id"] != 7 {
		t.Fatalf("entity should be preserved on the seed")
	}
}

func TestSetClearsFieldErrorAndRejectsUnknownFields(t *testing.T) {
	f, _ := form.New(benefitValidator(t), form.Create())

	if _, err := f.Validate(); err == nil {
		t.Fatalf("expected validation failure for empty title")
	}
	if f.Error("title") != "Campo obrigatório" {
		t.Fatalf("title error = %q", f.Error("title"))
	}

	if err := f.Set("title", "Yoga"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := f.Error("title"); got != "" {
		t.Fatalf("error should be cleared, got %q", got)
	}

	if err := f.Set("unknown", 1); !errors.Is(err, form.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestWatchNotifiesOnlyForItsField(t *testing.T) {
	f, _ := form.New(benefitValidator(t), form.Create())

	var seen []any
	unsubscribe := f.Watch("title", func(value any) { seen = append(seen, value) })

	_ = f.Set("description", "ignored")
	_ = f.Set("title", "Pilates")
	_ = f.Set("title", "Pilates 2")
	unsubscribe()
	unsubscribe()
	_ = f.Set("title", "after unsubscribe")

	if diff := cmp.Diff([]any{"Pilates", "Pilates 2"}, seen); diff != "" {
		t.Fatalf("watch mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitInvalidDoesNotCallAndKeepsValues(t *testing.T) {
	f, _ := form.New(benefitValidator(t), form.Create())
	_ = f.Set("title", "AB")

	called := false
	err := f.Submit(context.Background(), func(context.Context, map[string]any) error {
		called = true
		return nil
	})

	if called {
		t.Fatalf("submit function must not run for invalid drafts")
	}
	verrs, ok := validation.AsErrors(err)
	if !ok || verrs.Get("title") != "O título deve ter pelo menos 3 caracteres" {
		t.Fatalf("unexpected error %v", err)
	}
	if f.Value("title") != "AB" {
		t.Fatalf("values must be kept after a failed submit")
	}
}

func TestSubmitValidPassesCoercedPayload(t *testing.T) {
	f, _ := form.New(benefitValidator(t), form.Create())
	_ = f.Set("title", "  Nutricionista ")
	_ = f.Set("discount", "10")

	var got map[string]any
	err := f.Submit(context.Background(), func(_ context.Context, payload map[string]any) error {
		got = payload
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// discount is hidden while hasDiscount is false.
	want := map[string]any{"title": "Nutricionista", "active": true, "hasDiscount": false}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	if f.Dirty() || f.Submitting() {
		t.Fatalf("draft should be clean and idle after success")
	}
}

func TestSubmitFailureMapsServerErrors(t *testing.T) {
	f, _ := form.New(benefitValidator(t), form.Create())
	_ = f.Set("title", "Odontologia")

	err := f.Submit(context.Background(), func(context.Context, map[string]any) error {
		return serverError{fields: map[string][]string{
			"/data/title": {"Título já existe"},
			"base":        {"Limite de benefícios atingido"},
		}}
	})
	if err == nil {
		t.Fatalf("expected error")
	}

	if got := f.Error("title"); got != "Título já existe" {
		t.Fatalf("title error = %q", got)
	}
	if diff := cmp.Diff([]string{"Limite de benefícios atingido"}, f.FormErrors()); diff != "" {
		t.Fatalf("form errors mismatch (-want +got):\n%s", diff)
	}
	if f.Value("title") != "Odontologia" || !f.Dirty() {
		t.Fatalf("values and dirty flag must survive a failed submit")
	}
}

func TestVisibleFollowsValues(t *testing.T) {
	f, _ := form.New(benefitValidator(t), form.Create())
	if f.Visible("discount") {
		t.Fatalf("discount hidden by default")
	}
	_ = f.Set("hasDiscount", true)
	if !f.Visible("discount") {
		t.Fatalf("discount visible once hasDiscount is set")
	}
	want := []string{"title", "description", "active", "hasDiscount", "discount"}
	if diff := cmp.Diff(want, f.VisibleFields()); diff != "" {
		t.Fatalf("visible fields mismatch (-want +got):\n%s", diff)
	}
}

func TestResetRestoresSeed(t *testing.T) {
	f, _ := form.New(benefitValidator(t), form.Edit(map[string]any{"title": "Academia"}))

	var notified []any
	f.Watch("title", func(v any) { notified = append(notified, v) })

	_ = f.Set("title", "X")
	_, _ = f.Validate()
	f.Reset()

	draft := f.Draft()
	if draft.Values["title"] != "Academia" || len(draft.Errors) != 0 || len(draft.Dirty) != 0 {
		t.Fatalf("unexpected draft after reset: %+v", draft)
	}
	if diff := cmp.Diff([]any{"X", "Academia"}, notified); diff != "" {
		t.Fatalf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRequiresValidator(t *testing.T) {
	if _, err := form.New(nil, form.Create()); !errors.Is(err, form.ErrNilValidator) {
		t.Fatalf("expected ErrNilValidator, got %v", err)
	}
}
