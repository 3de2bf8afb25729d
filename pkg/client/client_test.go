package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/client"
	"github.com/goliatone/go-formflow/pkg/session"
)

func newClient(t *testing.T, handler http.HandlerFunc, opts ...client.Option) *client.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := client.New(client.Config{BaseURL: srv.URL + "/", UserAgent: "formflow-test"}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGetDecodesJSONAndSendsSessionHeaders(t *testing.T) {
	var got http.Header
	var gotPath string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotPath = r.URL.Path
		w.Header().Set("ETag", `"v3"`)
		_, _ = io.WriteString(w, `{"id": 42, "cnpj": "12345678000199"}`)
	})

	ctx := session.WithIdentity(context.Background(), session.Identity{Token: "tok-1", OrganizationID: "org-9"})
	var out struct {
		ID   int    `json:"id"`
		CNPJ string `json:"cnpj"`
	}
	resp, err := c.Get(ctx, "/api/fiscal/config/42", &out)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if out.ID != 42 || out.CNPJ != "12345678000199" {
		t.Fatalf("unexpected body %+v", out)
	}
	if resp.ETag != `"v3"` {
		t.Fatalf("etag = %q", resp.ETag)
	}
	if gotPath != "/api/fiscal/config/42" {
		t.Fatalf("path = %q", gotPath)
	}
	if got.Get("Authorization") != "Bearer tok-1" || got.Get("X-Organization-ID") != "org-9" {
		t.Fatalf("missing session headers: %v", got)
	}
	if got.Get("User-Agent") != "formflow-test" {
		t.Fatalf("user agent = %q", got.Get("User-Agent"))
	}
}

func TestFallbackIdentity(t *testing.T) {
	var auth string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}, client.WithIdentity(session.Identity{Token: "static"}))

	if _, err := c.Delete(context.Background(), "/api/social/benefits/1", nil); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if auth != "Bearer static" {
		t.Fatalf("authorization = %q", auth)
	}
}

func TestPostSendsJSONBody(t *testing.T) {
	var received map[string]any
	var contentType, method string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id": 1}`)
	})

	var out map[string]any
	if _, err := c.Post(context.Background(), "api/social/benefits", map[string]any{"title": "Academia"}, &out); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if method != http.MethodPost || contentType != "application/json" {
		t.Fatalf("unexpected request %s %s", method, contentType)
	}
	if diff := cmp.Diff(map[string]any{"title": "Academia"}, received); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
	if out["id"] != float64(1) {
		t.Fatalf("unexpected response %v", out)
	}
}

func TestAPIErrorMessageExtraction(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "message", status: 400, body: `{"message": "Erro ao atualizar"}`, message: "Erro ao atualizar"},
		{name: "nested", status: 500, body: `{"error": {"message": "Falha interna"}}`, message: "Falha interna"},
		{name: "error string", status: 403, body: `{"error": "Sem permissão"}`, message: "Sem permissão"},
		{name: "no message", status: 502, body: `<html>bad gateway</html>`, message: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})

			_, err := c.Put(context.Background(), "/api/fiscal/config/1", map[string]any{}, nil)
			var apiErr *client.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T %v", err, err)
			}
			if apiErr.StatusCode != tc.status || apiErr.Message != tc.message {
				t.Fatalf("got status %d message %q", apiErr.StatusCode, apiErr.Message)
			}
			if got := client.MessageOf(err); got != tc.message {
				t.Fatalf("MessageOf = %q", got)
			}
			if tc.message == "" && !strings.Contains(err.Error(), "502") {
				t.Fatalf("fallback error text should carry the status: %v", err)
			}
		})
	}
}

func TestUnprocessableEntityFields(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"message": "Dados inválidos", "errors": {"cnpj": ["CNPJ inválido"], "email": "E-mail inválido"}}`)
	})

	_, err := c.Post(context.Background(), "/api/organization/pharmacists", map[string]any{}, nil)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	want := map[string][]string{"cnpj": {"CNPJ inválido"}, "email": {"E-mail inválido"}}
	if diff := cmp.Diff(want, apiErr.FieldErrors()); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestIfMatchConflict(t *testing.T) {
	var ifMatch string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		ifMatch = r.Header.Get("If-Match")
		w.WriteHeader(http.StatusPreconditionFailed)
	})

	ctx := client.WithIfMatch(context.Background(), `"v2"`)
	_, err := c.Put(ctx, "/api/medical-portal/settings", map[string]any{"enabled": true}, nil)
	if !errors.Is(err, client.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if errors.Is(err, client.ErrNotFound) {
		t.Fatalf("412 should not match ErrNotFound")
	}
	if ifMatch != `"v2"` {
		t.Fatalf("If-Match = %q", ifMatch)
	}
}

func TestMultipartUpload(t *testing.T) {
	var fields map[string]string
	var fileContent, fileName string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		fields = map[string]string{
			"title":  r.FormValue("title"),
			"active": r.FormValue("active"),
			"tags":   r.FormValue("tags"),
		}
		file, header, err := r.FormFile("imageFile")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		fileContent, fileName = string(data), header.Filename
		_, _ = io.WriteString(w, `{"id": 3}`)
	})

	_, err := c.PostMultipart(context.Background(), "/api/social/benefits",
		map[string]any{"title": "Academia", "active": true, "tags": []string{"a", "b"}},
		[]client.File{{Field: "imageFile", Filename: "logo.png", ContentType: "image/png", Content: strings.NewReader("PNG")}},
		nil)
	if err != nil {
		t.Fatalf("PostMultipart: %v", err)
	}

	want := map[string]string{"title": "Academia", "active": "true", "tags": `["a","b"]`}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
	if fileContent != "PNG" || fileName != "logo.png" {
		t.Fatalf("unexpected file %q %q", fileName, fileContent)
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := client.New(client.Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Get(context.Background(), "/slow", nil); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "::"} {
		if _, err := client.New(client.Config{BaseURL: raw}); !errors.Is(err, client.ErrBaseURL) {
			t.Fatalf("%q: expected ErrBaseURL, got %v", raw, err)
		}
	}
}
