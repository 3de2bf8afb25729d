package notify_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/goliatone/go-formflow/pkg/notify"
)

func titles(list []notify.Notification) []string {
	out := make([]string, 0, len(list))
	for _, n := range list {
		out = append(out, n.Title)
	}
	return out
}

func TestNotifyListsInInsertionOrder(t *testing.T) {
	sink := notify.New(notify.WithDuration(0))
	defer sink.Close()

	first := sink.Notify(notify.Notification{Title: "Sucesso", Description: "Benefício criado"})
	second := sink.Notify(notify.Notification{Title: "Erro", Description: "Erro ao atualizar", Variant: notify.VariantDestructive})
	sink.Notify(notify.Notification{Title: "Outro", Variant: "warning"})

	if first == "" || first == second {
		t.Fatalf("expected distinct ids, got %q and %q", first, second)
	}

	list := sink.List()
	if diff := cmp.Diff([]string{"Sucesso", "Erro", "Outro"}, titles(list)); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if list[1].Variant != notify.VariantDestructive || list[2].Variant != notify.VariantDefault {
		t.Fatalf("unexpected variants: %v, %v", list[1].Variant, list[2].Variant)
	}
	if list[1].Description != "Erro ao atualizar" {
		t.Fatalf("description = %q", list[1].Description)
	}
}

func TestDismiss(t *testing.T) {
	sink := notify.New(notify.WithDuration(0))
	defer sink.Close()

	id := sink.Notify(notify.Notification{Title: "A"})
	sink.Notify(notify.Notification{Title: "B"})

	if !sink.Dismiss(id) {
		t.Fatalf("expected dismiss to succeed")
	}
	if sink.Dismiss(id) {
		t.Fatalf("second dismiss should report false")
	}
	if diff := cmp.Diff([]string{"B"}, titles(sink.List())); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestAutoDismiss(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := notify.New(notify.WithDuration(20 * time.Millisecond))
	defer sink.Close()

	done := make(chan struct{})
	var once sync.Once
	sink.Subscribe(func(list []notify.Notification) {
		if len(list) == 0 {
			once.Do(func() { close(done) })
		}
	})
	sink.Notify(notify.Notification{Title: "Temporária"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("notification was not dismissed")
	}
}

func TestLimitDropsOldest(t *testing.T) {
	sink := notify.New(notify.WithDuration(0), notify.WithLimit(2))
	defer sink.Close()

	for _, title := range []string{"1", "2", "3"} {
		sink.Notify(notify.Notification{Title: title})
	}
	if diff := cmp.Diff([]string{"2", "3"}, titles(sink.List())); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	sink := notify.New(notify.WithDuration(0))
	defer sink.Close()

	var calls int
	unsubscribe := sink.Subscribe(func([]notify.Notification) { calls++ })
	sink.Notify(notify.Notification{Title: "A"})
	unsubscribe()
	sink.Notify(notify.Notification{Title: "B"})

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestNotifySanitizesMarkup(t *testing.T) {
	sink := notify.New(notify.WithDuration(0))
	defer sink.Close()

	sink.Notify(notify.Notification{
		Title:       "<b>Erro</b>",
		Description: `Farmácia & Cia <script>alert(1)</script>não encontrada`,
	})

	got := sink.List()[0]
	if got.Title != "Erro" {
		t.Fatalf("title = %q", got.Title)
	}
	if got.Description != "Farmácia & Cia não encontrada" {
		t.Fatalf("description = %q", got.Description)
	}
}

func TestSanitizeStripsEncodedMarkup(t *testing.T) {
	got := map[string]string{}
	inputs := map[string]string{
		"encoded script": "&lt;script&gt;alert(1)&lt;/script&gt;Salvo",
		"encoded tag":    "&lt;b&gt;Erro&lt;/b&gt; ao salvar",
		"double encoded": "&amp;lt;img src=x onerror=alert(1)&amp;gt;Erro",
		"comparison":     "Limite 5 &lt; 10",
	}
	for name, in := range inputs {
		got[name] = notify.Sanitize(in)
	}
	want := map[string]string{
		"encoded script": "Salvo",
		"encoded tag":    "Erro ao salvar",
		"double encoded": "Erro",
		"comparison":     "Limite 5 < 10",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Sanitize mismatch (-want +got):\n%s", diff)
	}
}

func TestRender(t *testing.T) {
	got, err := notify.Render("Benefício {{ title }} salvo", map[string]any{"title": "Academia & Spa"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Benefício Academia & Spa salvo" {
		t.Fatalf("Render = %q", got)
	}

	plain, err := notify.Render("Configuração salva", nil)
	if err != nil || plain != "Configuração salva" {
		t.Fatalf("plain Render = %q, %v", plain, err)
	}

	if _, err := notify.Render("{% if %}", nil); err == nil {
		t.Fatalf("expected parse error")
	}
}
