package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrConflict matches *APIError values for 412 responses: the entity
	// changed since the ETag sent with If-Match was read.
	ErrConflict = errors.New("client: resource was modified by someone else")
	// ErrNotFound matches *APIError values for 404 responses.
	ErrNotFound = errors.New("client: resource not found")
	// ErrUnauthorized matches *APIError values for 401 and 403 responses.
	ErrUnauthorized = errors.New("client: not authorized")
)

// messagePaths are tried in order when reading a failure message.
var messagePaths = []string{"message", "error.message", "error", "detail", "title"}

// TransportError is a request that produced no usable HTTP response: the
// connection failed, the timeout fired, or the body could not be read.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("client: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	// Message is the server-provided text, empty when the body carried none.
	Message string
	// Fields holds per-field messages from 422 "errors" objects.
	Fields map[string][]string
	Body   []byte
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	apiErr := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Body:       body,
	}
	if !gjson.ValidBytes(body) {
		return apiErr
	}

	parsed := gjson.ParseBytes(body)
	for _, path := range messagePaths {
		if res := parsed.Get(path); res.Type == gjson.String && strings.TrimSpace(res.Str) != "" {
			apiErr.Message = strings.TrimSpace(res.Str)
			break
		}
	}

	if errs := parsed.Get("errors"); errs.IsObject() {
		fields := make(map[string][]string)
		errs.ForEach(func(key, value gjson.Result) bool {
			switch {
			case value.IsArray():
				for _, item := range value.Array() {
					if item.Type == gjson.String {
						fields[key.String()] = append(fields[key.String()], item.Str)
					}
				}
			case value.IsObject():
				if msg := value.Get("message"); msg.Type == gjson.String {
					fields[key.String()] = append(fields[key.String()], msg.Str)
				}
			case value.Type == gjson.String:
				fields[key.String()] = append(fields[key.String()], value.Str)
			}
			return true
		})
		if len(fields) > 0 {
			apiErr.Fields = fields
		}
	}
	return apiErr
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("client: %s %s: unexpected status %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// Is lets errors.Is match the status sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.StatusCode == http.StatusPreconditionFailed
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// FieldErrors exposes 422 field messages to form drafts.
func (e *APIError) FieldErrors() map[string][]string {
	return e.Fields
}

// Temporary reports whether the failure was on the server side.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// MessageOf returns the user-facing text carried by err: the server message
// of an *APIError, or empty when there is none.
func MessageOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

type ifMatchKey struct{}

// WithIfMatch makes requests issued with the returned context conditional on
// etag. A 412 response then matches ErrConflict.
func WithIfMatch(ctx context.Context, etag string) context.Context {
	return context.WithValue(ctx, ifMatchKey{}, etag)
}

func ifMatchFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	etag, ok := ctx.Value(ifMatchKey{}).(string)
	if !ok || strings.TrimSpace(etag) == "" {
		return "", false
	}
	return etag, true
}
