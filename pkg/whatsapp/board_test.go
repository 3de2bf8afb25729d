package whatsapp_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/goliatone/go-formflow/pkg/catalog"
	"github.com/goliatone/go-formflow/pkg/notify"
	"github.com/goliatone/go-formflow/pkg/validation"
	"github.com/goliatone/go-formflow/pkg/whatsapp"
)

func newBoard(t *testing.T, existing []whatsapp.Template, opts ...whatsapp.Option) *whatsapp.Board {
	t.Helper()
	v := catalog.MustDefault().MustValidator(catalog.WhatsAppTemplate)
	b, err := whatsapp.NewBoard(v, existing, opts...)
	if err != nil {
		t.Fatalf("new board: %v", err)
	}
	return b
}

func TestCreate_AppendsOneTemplateAndClosesDialog(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := notify.New(notify.WithDuration(0))
	defer sink.Close()

	b := newBoard(t, []whatsapp.Template{
		{ID: 1, Name: "boas_vindas", Status: whatsapp.StatusApproved},
		{ID: 7, Name: "lembrete_consulta", Status: whatsapp.StatusApproved},
		{ID: 3, Name: "pesquisa", Status: whatsapp.StatusRejected},
	}, whatsapp.WithNotifier(sink))
	b.OpenDialog()

	now := time.Date(2026, 3, 14, 16, 30, 0, 0, time.UTC)
	got, err := b.Create(map[string]any{
		"name":     "confirmacao_pedido",
		"category": "utility",
		"body":     "Seu pedido {{1}} foi confirmado.",
	}, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	want := whatsapp.Template{
		ID:        8,
		Name:      "confirmacao_pedido",
		Category:  "utility",
		Language:  "pt_BR",
		Body:      "Seu pedido {{1}} foi confirmado.",
		Status:    whatsapp.StatusPending,
		CreatedAt: "2026-03-14",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("template mismatch (-want +got):\n%s", diff)
	}
	if n := len(b.Templates()); n != 4 {
		t.Fatalf("expected 4 templates, got %d", n)
	}
	if b.DialogOpen() {
		t.Fatalf("dialog should be closed after create")
	}

	list := sink.List()
	if len(list) != 1 {
		t.Fatalf("expected one notification, got %v", list)
	}
	if list[0].Title != "Template criado" || list[0].Description != "O template confirmacao_pedido foi enviado para aprovação" {
		t.Fatalf("unexpected notification %+v", list[0])
	}
}

func TestCreate_FirstTemplateGetsIDOne(t *testing.T) {
	b := newBoard(t, nil)
	got, err := b.Create(map[string]any{
		"name":     "primeiro",
		"category": "marketing",
		"body":     "Olá, tudo bem com você?",
	}, time.Now())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("expected id 1, got %d", got.ID)
	}
}

func TestCreate_InvalidKeepsDialogOpen(t *testing.T) {
	b := newBoard(t, []whatsapp.Template{{ID: 2, Name: "x"}})
	b.OpenDialog()

	_, err := b.Create(map[string]any{
		"name":     "Nome Com Espaço",
		"category": "utility",
		"body":     "curto",
	}, time.Now())
	errs, ok := validation.AsErrors(err)
	if !ok {
		t.Fatalf("expected validation errors, got %v", err)
	}
	if diff := cmp.Diff([]string{"name", "body"}, errs.Fields()); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
	if !b.DialogOpen() {
		t.Fatalf("dialog should stay open")
	}
	if n := len(b.Templates()); n != 1 {
		t.Fatalf("nothing should be appended, got %d templates", n)
	}
}

func TestFilterAndDelete(t *testing.T) {
	b := newBoard(t, []whatsapp.Template{
		{ID: 1, Name: "boas_vindas", Body: "Bem-vindo", Status: whatsapp.StatusApproved},
		{ID: 2, Name: "lembrete", Body: "Lembrete de consulta", Status: whatsapp.StatusPending},
		{ID: 3, Name: "consulta_cancelada", Body: "Sua consulta foi cancelada", Status: whatsapp.StatusApproved},
	})

	ids := func(list []whatsapp.Template) []int {
		out := []int{}
		for _, tpl := range list {
			out = append(out, tpl.ID)
		}
		return out
	}
	if diff := cmp.Diff([]int{2, 3}, ids(b.Filter("all", "CONSULTA"))); diff != "" {
		t.Fatalf("filter mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3}, ids(b.Filter(whatsapp.StatusApproved, "consulta"))); diff != "" {
		t.Fatalf("filter mismatch (-want +got):\n%s", diff)
	}
	if !b.Delete(2) || b.Delete(2) {
		t.Fatalf("delete should succeed once")
	}
}

func TestNewBoard_RequiresValidator(t *testing.T) {
	if _, err := whatsapp.NewBoard(nil, nil); err != whatsapp.ErrNilValidator {
		t.Fatalf("expected ErrNilValidator, got %v", err)
	}
}
