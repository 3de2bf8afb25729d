// Package form holds the editable draft behind a form view: current values,
// per-field errors, dirty/touched tracking, and the submit gate that keeps
// invalid payloads from ever reaching the network.
package form

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/pkg/validation"
)

var (
	// ErrUnknownField is returned when a name is not declared by the form.
	ErrUnknownField = errors.New("form: unknown field")
	// ErrSubmitting is returned when Submit is called while a submission is
	// still running.
	ErrSubmitting = errors.New("form: submission in progress")
	// ErrNilValidator is returned by New when no validator is supplied.
	ErrNilValidator = errors.New("form: validator is required")
)

// Mode distinguishes a form opened for a new record from one editing an
// existing entity.
type Mode int

const (
	ModeCreate Mode = iota
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "create"
}

// Seed is the initial state of a draft: either nothing (create) or an
// existing entity (edit).
type Seed struct {
	mode   Mode
	entity map[string]any
}

// Create seeds a draft with the form's static defaults.
func Create() Seed { return Seed{mode: ModeCreate} }

// Edit seeds a draft from an existing entity. Declared fields missing from
// the entity fall back to their defaults.
func Edit(entity map[string]any) Seed {
	return Seed{mode: ModeEdit, entity: maps.Clone(entity)}
}

// Mode reports which variant the seed holds.
func (s Seed) Mode() Mode { return s.mode }

// Entity returns the edited entity, or nil in create mode.
func (s Seed) Entity() map[string]any { return maps.Clone(s.entity) }

// FieldErrorer is implemented by errors that carry server-side field
// messages (for example a 422 response).
type FieldErrorer interface {
	FieldErrors() map[string][]string
}

// SubmitFunc receives the coerced payload of a valid draft.
type SubmitFunc func(ctx context.Context, payload map[string]any) error

// Draft is a point-in-time copy of the form state.
type Draft struct {
	Values     map[string]any
	Errors     map[string]string
	FormErrors []string
	Submitting bool
	Dirty      []string
	Touched    []string
}

// Option customises a Form.
type Option func(*Form)

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Form) {
		if logger != nil {
			f.logger = logger
		}
	}
}

type watcher struct {
	id int
	fn func(any)
}

// Form is the state container for one open form. All methods are safe for
// concurrent use; watchers run outside the lock.
type Form struct {
	validator *validation.Validator
	seed      Seed
	logger    *zap.Logger

	mu         sync.Mutex
	values     map[string]any
	errors     map[string]string
	formErrors []string
	dirty      map[string]struct{}
	touched    map[string]struct{}
	submitting bool
	watchers   map[string][]watcher
	nextWatch  int
}

// New opens a draft for the validator's form definition.
func New(v *validation.Validator, seed Seed, opts ...Option) (*Form, error) {
	if v == nil {
		return nil, ErrNilValidator
	}
	f := &Form{
		validator: v,
		seed:      seed,
		logger:    zap.NewNop(),
		watchers:  make(map[string][]watcher),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.values = f.initialValues()
	f.errors = make(map[string]string)
	f.dirty = make(map[string]struct{})
	f.touched = make(map[string]struct{})
	return f, nil
}

func (f *Form) initialValues() map[string]any {
	values := f.validator.Defaults()
	if f.seed.mode != ModeEdit {
		return values
	}
	for _, name := range f.validator.Form().FieldNames() {
		if value, ok := f.seed.entity[name]; ok && value != nil {
			values[name] = value
		}
	}
	return values
}

// Mode reports whether the draft is creating or editing.
func (f *Form) Mode() Mode { return f.seed.mode }

// Seed returns the seed the draft was opened with.
func (f *Form) Seed() Seed { return f.seed }

// Validator exposes the compiled definition.
func (f *Form) Validator() *validation.Validator { return f.validator }

// Value returns the current value of name.
func (f *Form) Value(name string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[name]
}

// Set updates one field, clears its error, and notifies its watchers. It
// does not re-validate the form.
func (f *Form) Set(name string, value any) error {
	if !f.validator.Has(name) {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}

	f.mu.Lock()
	if value == nil {
		delete(f.values, name)
	} else {
		f.values[name] = value
	}
	delete(f.errors, name)
	f.dirty[name] = struct{}{}
	f.touched[name] = struct{}{}
	listeners := append([]watcher(nil), f.watchers[name]...)
	f.mu.Unlock()

	for _, w := range listeners {
		w.fn(value)
	}
	return nil
}

// Touch marks a field as visited without changing it.
func (f *Form) Touch(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.validator.Has(name) {
		f.touched[name] = struct{}{}
	}
}

// Values returns a copy of the current values.
func (f *Form) Values() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.values)
}

// Errors returns a copy of the current field errors.
func (f *Form) Errors() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.errors)
}

// Error returns the current message for name.
func (f *Form) Error(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errors[name]
}

// FormErrors returns messages that could not be tied to a field.
func (f *Form) FormErrors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.formErrors...)
}

// Submitting reports whether a submission is in flight.
func (f *Form) Submitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}

// Dirty reports whether any field changed since the draft was opened or
// last reset.
func (f *Form) Dirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dirty) > 0
}

// Draft returns a snapshot of the whole state.
func (f *Form) Draft() Draft {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Draft{
		Values:     maps.Clone(f.values),
		Errors:     maps.Clone(f.errors),
		FormErrors: append([]string(nil), f.formErrors...),
		Submitting: f.submitting,
		Dirty:      sortedKeys(f.dirty),
		Touched:    sortedKeys(f.touched),
	}
}

// Watch registers fn to be called with the new value each time name is set.
// Changes to other fields never trigger it.
func (f *Form) Watch(name string, fn func(value any)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	f.mu.Lock()
	f.nextWatch++
	id := f.nextWatch
	f.watchers[name] = append(f.watchers[name], watcher{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			list := f.watchers[name]
			for i, w := range list {
				if w.id == id {
					f.watchers[name] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(f.watchers[name]) == 0 {
				delete(f.watchers, name)
			}
		})
	}
}

// Visible evaluates name's visibility rule against the current values.
func (f *Form) Visible(name string) bool {
	return f.validator.Visible(name, f.Values())
}

// VisibleFields lists the fields currently shown, in declaration order.
func (f *Form) VisibleFields() []string {
	values := f.Values()
	var out []string
	for _, name := range f.validator.Form().FieldNames() {
		if f.validator.Visible(name, values) {
			out = append(out, name)
		}
	}
	return out
}

// Reset restores the seed values and clears errors and dirty flags. Watchers
// of fields whose value changed are notified.
func (f *Form) Reset() {
	f.mu.Lock()
	previous := f.values
	f.values = f.initialValues()
	f.errors = make(map[string]string)
	f.formErrors = nil
	f.dirty = make(map[string]struct{})
	f.touched = make(map[string]struct{})

	type change struct {
		listeners []watcher
		value     any
	}
	var changes []change
	for name, list := range f.watchers {
		if fmt.Sprint(previous[name]) == fmt.Sprint(f.values[name]) {
			continue
		}
		changes = append(changes, change{listeners: append([]watcher(nil), list...), value: f.values[name]})
	}
	f.mu.Unlock()

	for _, c := range changes {
		for _, w := range c.listeners {
			w.fn(c.value)
		}
	}
}

// Validate runs the validator, stores every field error, and returns the
// coerced payload.
func (f *Form) Validate() (map[string]any, error) {
	values := f.Values()
	payload, err := f.validator.Validate(values)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = make(map[string]string)
	f.formErrors = nil
	if verrs, ok := validation.AsErrors(err); ok {
		for _, fe := range verrs {
			f.errors[fe.Field] = fe.Message
			f.touched[fe.Field] = struct{}{}
		}
	}
	return payload, err
}

// Submit validates the draft and, only when it is valid, passes the coerced
// payload to fn. A validation failure returns validation.Errors without
// calling fn. Values are never cleared on failure; errors carrying server
// field messages are mapped onto the draft.
func (f *Form) Submit(ctx context.Context, fn SubmitFunc) error {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return ErrSubmitting
	}
	f.mu.Unlock()

	payload, err := f.Validate()
	if err != nil {
		f.logger.Debug("form: submit blocked by validation",
			zap.String("form", f.validator.Form().ID),
			zap.Strings("fields", errorFields(err)))
		return err
	}
	if fn == nil {
		return nil
	}

	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return ErrSubmitting
	}
	f.submitting = true
	f.mu.Unlock()

	err = fn(ctx, payload)

	f.mu.Lock()
	f.submitting = false
	if err == nil {
		f.dirty = make(map[string]struct{})
	}
	f.mu.Unlock()

	if err != nil {
		var fe FieldErrorer
		if errors.As(err, &fe) {
			f.ApplyServerErrors(fe.FieldErrors())
		}
		f.logger.Debug("form: submit failed", zap.String("form", f.validator.Form().ID), zap.Error(err))
		return err
	}
	return nil
}

// ApplyServerErrors maps a server error payload onto the draft. Paths that
// match no field become form-level errors.
func (f *Form) ApplyServerErrors(payload map[string][]string) validation.ServerErrors {
	mapped := validation.MapErrorPayload(f.validator.Form(), payload)

	f.mu.Lock()
	defer f.mu.Unlock()
	for name, message := range mapped.First() {
		f.errors[name] = message
	}
	f.formErrors = append(f.formErrors, mapped.Form...)
	return mapped
}

func errorFields(err error) []string {
	verrs, _ := validation.AsErrors(err)
	return verrs.Fields()
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
