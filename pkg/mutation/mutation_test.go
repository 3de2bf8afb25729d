package mutation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/client"
	"github.com/goliatone/go-formflow/pkg/mutation"
	"github.com/goliatone/go-formflow/pkg/notify"
	"github.com/goliatone/go-formflow/pkg/query"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	notes  []notify.Notification
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) InvalidatePrefix(_ context.Context, prefix query.Key) int {
	r.add("invalidate " + prefix.String())
	return 1
}

func (r *recorder) Notify(n notify.Notification) string {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
	r.add("notify " + string(n.Variant))
	return "id"
}

type benefit struct {
	ID    int
	Title string
}

func TestSuccessInvalidatesOnceThenNotifiesThenCallsBack(t *testing.T) {
	rec := &recorder{}
	list := query.KeyFromPath("/api/social/benefits")
	partner := query.NewKey("api", "social", "partners", 3)

	save := mutation.New(func(ctx context.Context, vars map[string]any) (benefit, error) {
		rec.add("request")
		return benefit{ID: 9, Title: vars["title"].(string)}, nil
	},
		mutation.WithCache(rec),
		mutation.WithNotifier(rec),
		mutation.WithInvalidates(list, partner, list),
		mutation.WithSuccessMessage("Benefício criado", "{{ title }} foi salvo"),
	).InvalidatesFunc(func(_ map[string]any, b benefit) []query.Key {
		return []query.Key{partner, list.Append(b.ID)}
	}).OnSuccess(func(context.Context, map[string]any, benefit) {
		rec.add("onSuccess")
	}).OnError(func(context.Context, map[string]any, error) {
		rec.add("onError")
	}).OnSettled(func(context.Context, map[string]any, benefit, error) {
		rec.add("onSettled")
	})

	got, err := save.Mutate(context.Background(), map[string]any{"title": "Academia"})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if got.ID != 9 || save.State() != mutation.StateSuccess {
		t.Fatalf("unexpected result %+v state %s", got, save.State())
	}

	want := []string{
		"request",
		`invalidate ["api","social","benefits"]`,
		`invalidate ["api","social","partners",3]`,
		`invalidate ["api","social","benefits",9]`,
		"notify default",
		"onSuccess",
		"onSettled",
	}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
	if len(rec.notes) != 1 || rec.notes[0].Title != "Benefício criado" || rec.notes[0].Description != "Academia foi salvo" {
		t.Fatalf("unexpected notifications %+v", rec.notes)
	}
}

func TestFailureNotifiesServerMessageWithoutInvalidating(t *testing.T) {
	rec := &recorder{}
	values := map[string]any{"cnpj": "12345678000199", "razaoSocial": "Farmácia Central"}

	update := mutation.New(func(context.Context, map[string]any) (any, error) {
		rec.add("request")
		return nil, &client.APIError{StatusCode: 400, Message: "Erro ao atualizar"}
	},
		mutation.WithCache(rec),
		mutation.WithNotifier(rec),
		mutation.WithInvalidates(query.KeyFromPath("/api/fiscal/config")),
		mutation.WithErrorTitle("Erro ao salvar configuração fiscal"),
	).OnError(func(_ context.Context, _ map[string]any, err error) {
		rec.add("onError")
	}).OnSettled(func(context.Context, map[string]any, any, error) {
		rec.add("onSettled")
	})

	_, err := update.Mutate(context.Background(), values)
	if err == nil {
		t.Fatalf("expected error")
	}

	want := []string{"request", "notify destructive", "onError", "onSettled"}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
	if rec.notes[0].Description != "Erro ao atualizar" || rec.notes[0].Title != "Erro ao salvar configuração fiscal" {
		t.Fatalf("unexpected notification %+v", rec.notes[0])
	}
	if update.State() != mutation.StateError {
		t.Fatalf("state = %s", update.State())
	}
	if values["razaoSocial"] != "Farmácia Central" {
		t.Fatalf("variables must not be touched")
	}
}

func TestErrorMessageFallback(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"network":        {err: &client.TransportError{Method: "PUT", Path: "/api/fiscal/config/1", Err: errors.New("dial tcp: connection refused")}, want: mutation.DefaultErrorMessage},
		"timeout":        {err: fmt.Errorf("save: %w", context.DeadlineExceeded), want: mutation.DefaultErrorMessage},
		"api no message": {err: &client.APIError{StatusCode: 500}, want: mutation.DefaultErrorMessage},
		"api message":    {err: &client.APIError{StatusCode: 409, Message: "CNPJ já cadastrado"}, want: "CNPJ já cadastrado"},
		"plain error":    {err: errors.New("Erro ao atualizar"), want: "Erro ao atualizar"},
	}
	for name, tc := range cases {
		if got := mutation.ErrorMessage(tc.err); got != tc.want {
			t.Fatalf("%s: ErrorMessage = %q, want %q", name, got, tc.want)
		}
	}
}

func TestFailureWithPlainErrorShowsItsMessage(t *testing.T) {
	rec := &recorder{}
	values := map[string]any{"name": "boas_vindas"}

	update := mutation.New(func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("Erro ao atualizar")
	}, mutation.WithNotifier(rec), mutation.WithCache(rec))

	if _, err := update.Mutate(context.Background(), values); err == nil {
		t.Fatalf("expected error")
	}
	var got []string
	for _, n := range rec.notes {
		got = append(got, string(n.Variant)+": "+n.Description)
	}
	want := []string{"destructive: Erro ao atualizar"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("notifications mismatch (-want +got):\n%s", diff)
	}
	if values["name"] != "boas_vindas" {
		t.Fatalf("variables must not be touched")
	}
}

func TestMutateWhilePendingIsRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	calls := 0

	m := mutation.New(func(context.Context, string) (string, error) {
		calls++
		close(started)
		<-release
		return "ok", nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := m.Mutate(context.Background(), "first")
		done <- err
	}()
	<-started

	if !m.IsPending() {
		t.Fatalf("expected pending state")
	}
	if _, err := m.Mutate(context.Background(), "second"); !errors.Is(err, mutation.ErrPending) {
		t.Fatalf("expected ErrPending, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Mutate: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}

	m.Reset()
	if m.State() != mutation.StateIdle {
		t.Fatalf("Reset should return to idle")
	}
}

func TestSuccessRefreshesSubscribedQueries(t *testing.T) {
	cache := query.New()
	defer cache.Close()
	sink := notify.New(notify.WithDuration(0))
	defer sink.Close()

	key := query.KeyFromPath("/api/organization/pharmacists")
	var mu sync.Mutex
	fetches := 0
	unsubscribe := cache.Subscribe(key, func(context.Context) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		fetches++
		return fetches, nil
	}, nil)
	defer unsubscribe()
	cache.Wait()

	create := mutation.New(func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"id": 1}, nil
	}, mutation.WithCache(cache), mutation.WithNotifier(sink), mutation.WithInvalidates(key))

	if _, err := create.Mutate(context.Background(), map[string]any{"name": "Dra. Ana"}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	cache.Wait()

	entry, _ := cache.Peek(key)
	if entry.Data != 2 {
		t.Fatalf("expected refetched data 2, got %v", entry.Data)
	}
	if list := sink.List(); len(list) != 1 || list[0].Variant != notify.VariantDefault || list[0].Title != mutation.DefaultSuccessTitle {
		t.Fatalf("unexpected notifications %+v", list)
	}
}
