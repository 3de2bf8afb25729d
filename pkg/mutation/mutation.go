// Package mutation runs one write action at a time and, when it succeeds,
// invalidates the affected cache keys and reports the outcome through a
// notification sink.
package mutation

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/pkg/client"
	"github.com/goliatone/go-formflow/pkg/notify"
	"github.com/goliatone/go-formflow/pkg/query"
)

// Default notification copy.
const (
	DefaultSuccessTitle = "Salvo com sucesso"
	DefaultErrorTitle   = "Erro"
	DefaultErrorMessage = "Ocorreu um erro inesperado"
)

// ErrPending is returned by Mutate while a previous call is still running.
var ErrPending = errors.New("mutation: already pending")

// State is the executor lifecycle.
type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Func performs the write.
type Func[V, R any] func(ctx context.Context, vars V) (R, error)

// Invalidator is the cache surface the executor needs. *query.Cache
// satisfies it.
type Invalidator interface {
	InvalidatePrefix(ctx context.Context, prefix query.Key) int
}

type settings struct {
	keys               []query.Key
	cache              Invalidator
	notifier           notify.Notifier
	successTitle       string
	successDescription string
	errorTitle         string
	silentSuccess      bool
	logger             *zap.Logger
	name               string
}

// Option customises an executor.
type Option func(*settings)

// WithInvalidates lists keys refreshed after every success. Each key is
// treated as a prefix, so a list key also refreshes its detail keys.
func WithInvalidates(keys ...query.Key) Option {
	return func(s *settings) { s.keys = append(s.keys, keys...) }
}

// WithCache sets the cache that receives invalidations.
func WithCache(cache Invalidator) Option {
	return func(s *settings) { s.cache = cache }
}

// WithNotifier sets the sink that receives outcome notifications.
func WithNotifier(n notify.Notifier) Option {
	return func(s *settings) { s.notifier = n }
}

// WithSuccessMessage sets the success notification. Both strings may be
// pongo2 templates rendered against the variables and the result.
func WithSuccessMessage(title, description string) Option {
	return func(s *settings) {
		s.successTitle = title
		s.successDescription = description
	}
}

// WithoutSuccessNotification suppresses the success notification.
func WithoutSuccessNotification() Option {
	return func(s *settings) { s.silentSuccess = true }
}

// WithErrorTitle sets the title of failure notifications.
func WithErrorTitle(title string) Option {
	return func(s *settings) { s.errorTitle = title }
}

// WithName labels log lines.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Mutation is a three-state executor around fn. It is safe for concurrent
// use; overlapping calls are rejected with ErrPending.
type Mutation[V, R any] struct {
	fn       Func[V, R]
	settings settings

	mu        sync.Mutex
	state     State
	result    R
	err       error
	keysFunc  func(V, R) []query.Key
	onSuccess []func(context.Context, V, R)
	onError   []func(context.Context, V, error)
	onSettled []func(context.Context, V, R, error)
}

// New builds an executor.
func New[V, R any](fn Func[V, R], opts ...Option) *Mutation[V, R] {
	s := settings{
		successTitle: DefaultSuccessTitle,
		errorTitle:   DefaultErrorTitle,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return &Mutation[V, R]{fn: fn, settings: s, state: StateIdle}
}

// InvalidatesFunc adds keys computed from the variables and result, for
// example the detail key of the entity just updated.
func (m *Mutation[V, R]) InvalidatesFunc(fn func(V, R) []query.Key) *Mutation[V, R] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keysFunc = fn
	return m
}

// OnSuccess registers a callback run after invalidation and notification.
func (m *Mutation[V, R]) OnSuccess(fn func(ctx context.Context, vars V, result R)) *Mutation[V, R] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSuccess = append(m.onSuccess, fn)
	return m
}

// OnError registers a callback run after the failure notification.
func (m *Mutation[V, R]) OnError(fn func(ctx context.Context, vars V, err error)) *Mutation[V, R] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = append(m.onError, fn)
	return m
}

// OnSettled registers a callback run last, whatever the outcome.
func (m *Mutation[V, R]) OnSettled(fn func(ctx context.Context, vars V, result R, err error)) *Mutation[V, R] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSettled = append(m.onSettled, fn)
	return m
}

// State returns the current lifecycle state.
func (m *Mutation[V, R]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsPending reports whether a call is running.
func (m *Mutation[V, R]) IsPending() bool {
	return m.State() == StatePending
}

// Result returns the outcome of the last settled call.
func (m *Mutation[V, R]) Result() (R, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result, m.err
}

// Reset returns a settled executor to idle.
func (m *Mutation[V, R]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StatePending {
		return
	}
	var zero R
	m.state, m.result, m.err = StateIdle, zero, nil
}

// Mutate runs the write. On success every distinct invalidation key is
// refreshed once, then a single default notification is sent, then
// OnSuccess and OnSettled run. On failure a single destructive notification
// carries the server message (or a generic fallback), then OnError and
// OnSettled run. There is no retry. The error is also returned.
func (m *Mutation[V, R]) Mutate(ctx context.Context, vars V) (R, error) {
	var zero R

	m.mu.Lock()
	if m.state == StatePending {
		m.mu.Unlock()
		return zero, ErrPending
	}
	m.state = StatePending
	keysFunc := m.keysFunc
	onSuccess := slices.Clone(m.onSuccess)
	onError := slices.Clone(m.onError)
	onSettled := slices.Clone(m.onSettled)
	m.mu.Unlock()

	result, err := m.fn(ctx, vars)

	if err == nil {
		keys := append([]query.Key(nil), m.settings.keys...)
		if keysFunc != nil {
			keys = append(keys, keysFunc(vars, result)...)
		}
		m.invalidate(ctx, keys)
		m.notifySuccess(vars, result)
	} else {
		m.settings.logger.Warn("mutation: failed", zap.String("mutation", m.settings.name), zap.Error(err))
		m.notifyError(err)
	}

	m.mu.Lock()
	if err == nil {
		m.state = StateSuccess
	} else {
		m.state = StateError
	}
	m.result, m.err = result, err
	m.mu.Unlock()

	if err == nil {
		for _, fn := range onSuccess {
			fn(ctx, vars, result)
		}
	} else {
		for _, fn := range onError {
			fn(ctx, vars, err)
		}
	}
	for _, fn := range onSettled {
		fn(ctx, vars, result, err)
	}
	return result, err
}

func (m *Mutation[V, R]) invalidate(ctx context.Context, keys []query.Key) {
	if m.settings.cache == nil || len(keys) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		id := key.String()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		n := m.settings.cache.InvalidatePrefix(ctx, key)
		m.settings.logger.Debug("mutation: invalidated",
			zap.String("mutation", m.settings.name),
			zap.String("key", id),
			zap.Int("entries", n))
	}
}

func (m *Mutation[V, R]) notifySuccess(vars V, result R) {
	if m.settings.notifier == nil || m.settings.silentSuccess {
		return
	}
	data := templateData(vars, result)
	m.settings.notifier.Notify(notify.Notification{
		Title:       notify.MustRender(m.settings.successTitle, data),
		Description: notify.MustRender(m.settings.successDescription, data),
		Variant:     notify.VariantDefault,
	})
}

func (m *Mutation[V, R]) notifyError(err error) {
	if m.settings.notifier == nil {
		return
	}
	m.settings.notifier.Notify(notify.Notification{
		Title:       m.settings.errorTitle,
		Description: ErrorMessage(err),
		Variant:     notify.VariantDestructive,
	})
}

// ErrorMessage returns the text shown for err. Server responses contribute
// their body message and other errors their own text. Transport failures,
// cancellations, and responses without a message fall back to
// DefaultErrorMessage.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		if msg := strings.TrimSpace(apiErr.Message); msg != "" {
			return msg
		}
		return DefaultErrorMessage
	}
	var userErr interface{ UserMessage() string }
	if errors.As(err, &userErr) {
		if msg := strings.TrimSpace(userErr.UserMessage()); msg != "" {
			return msg
		}
	}
	var transportErr *client.TransportError
	if errors.As(err, &transportErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return DefaultErrorMessage
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return DefaultErrorMessage
}

func templateData(vars, result any) map[string]any {
	data := map[string]any{"vars": vars, "result": result}
	if values, ok := vars.(map[string]any); ok {
		for k, v := range values {
			if _, reserved := data[k]; !reserved {
				data[k] = v
			}
		}
	}
	return data
}
