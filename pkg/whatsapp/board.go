// Package whatsapp holds the message template board shown on the WhatsApp
// integration screen.
package whatsapp

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/pkg/notify"
	"github.com/goliatone/go-formflow/pkg/validation"
)

// Template statuses as reported by the provider.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// ErrNilValidator is returned when a board is built without a validator.
var ErrNilValidator = errors.New("whatsapp: validator is required")

// Template is a message template listed on the board.
type Template struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Language  string `json:"language"`
	Header    string `json:"header,omitempty"`
	Body      string `json:"body"`
	Footer    string `json:"footer,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

// Option customises a Board.
type Option func(*Board)

// WithNotifier reports created templates through n.
func WithNotifier(n notify.Notifier) Option {
	return func(b *Board) {
		b.notifier = n
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Board) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Board is the template list plus the creation dialog state.
type Board struct {
	mu         sync.RWMutex
	validator  *validation.Validator
	templates  []Template
	dialogOpen bool
	notifier   notify.Notifier
	logger     *zap.Logger
}

// NewBoard builds a board over existing templates. v is normally the
// catalog's whatsapp.template validator.
func NewBoard(v *validation.Validator, existing []Template, opts ...Option) (*Board, error) {
	if v == nil {
		return nil, ErrNilValidator
	}
	b := &Board{
		validator: v,
		templates: slices.Clone(existing),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// OpenDialog shows the creation dialog.
func (b *Board) OpenDialog() {
	b.mu.Lock()
	b.dialogOpen = true
	b.mu.Unlock()
}

// CloseDialog hides the creation dialog.
func (b *Board) CloseDialog() {
	b.mu.Lock()
	b.dialogOpen = false
	b.mu.Unlock()
}

// DialogOpen reports whether the creation dialog is visible.
func (b *Board) DialogOpen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dialogOpen
}

// Templates returns a copy of the listed templates.
func (b *Board) Templates() []Template {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.templates)
}

// Create validates values and appends exactly one template whose id is one
// past the largest existing id. On validation failure nothing is appended,
// the dialog stays open, and the error is a validation.Errors value.
func (b *Board) Create(values map[string]any, now time.Time) (Template, error) {
	payload, err := b.validator.Validate(values)
	if err != nil {
		return Template{}, err
	}

	b.mu.Lock()
	tpl := Template{
		ID:        nextID(b.templates),
		Name:      str(payload["name"]),
		Category:  str(payload["category"]),
		Language:  str(payload["language"]),
		Header:    str(payload["header"]),
		Body:      str(payload["body"]),
		Footer:    str(payload["footer"]),
		Status:    StatusPending,
		CreatedAt: now.Format(time.DateOnly),
	}
	b.templates = append(b.templates, tpl)
	b.dialogOpen = false
	notifier := b.notifier
	b.mu.Unlock()

	b.logger.Info("whatsapp template created", zap.Int("id", tpl.ID), zap.String("name", tpl.Name))
	if notifier != nil {
		notifier.Notify(b.successNotification(payload))
	}
	return tpl, nil
}

// Delete removes the template with id.
func (b *Board) Delete(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := slices.IndexFunc(b.templates, func(t Template) bool { return t.ID == id })
	if idx < 0 {
		return false
	}
	b.templates = slices.Delete(b.templates, idx, idx+1)
	return true
}

// Filter returns templates matching status (all when empty or "all") whose
// name or body contains query case-insensitively.
func (b *Board) Filter(status, query string) []Template {
	query = strings.ToLower(strings.TrimSpace(query))
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Template
	for _, tpl := range b.templates {
		if status != "" && status != "all" && tpl.Status != status {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(tpl.Name), query) &&
			!strings.Contains(strings.ToLower(tpl.Body), query) {
			continue
		}
		out = append(out, tpl)
	}
	return out
}

func (b *Board) successNotification(payload map[string]any) notify.Notification {
	messages := b.validator.Form().Messages
	n := notify.Notification{Title: messages.Success}
	if n.Title == "" {
		n.Title = "Template criado"
	}
	if messages.SuccessBody != "" {
		body, err := notify.Render(messages.SuccessBody, payload)
		if err != nil {
			b.logger.Warn("render success message", zap.Error(err))
		} else {
			n.Description = body
		}
	}
	return n
}

func nextID(templates []Template) int {
	highest := 0
	for _, tpl := range templates {
		if tpl.ID > highest {
			highest = tpl.ID
		}
	}
	return highest + 1
}

func str(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}
