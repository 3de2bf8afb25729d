// Package catalog ships the console's form definitions as embedded YAML and
// keeps their compiled validators in a lookup registry.
package catalog

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-formflow/pkg/model"
	"github.com/goliatone/go-formflow/pkg/validation"
)

// Form identifiers shipped with the embedded catalog.
const (
	SocialBenefit            = "social.benefit"
	FiscalConfig             = "fiscal.config"
	WhatsAppTemplate         = "whatsapp.template"
	WhatsAppConfig           = "whatsapp.config"
	LaboratoryHPLCValidation = "laboratory.hplc_validation"
	OrganizationPharmacist   = "organization.pharmacist"
	MedicalPortalSettings    = "medical_portal.settings"
	KentroMapping            = "kentro.mapping"
)

//go:embed forms/*.yaml
var embedded embed.FS

var (
	// ErrNotFound is returned when no form is registered under an id.
	ErrNotFound = errors.New("catalog: form not found")
	// ErrDuplicate is returned when an id is registered twice.
	ErrDuplicate = errors.New("catalog: form already registered")
)

// Option customises how a Catalog loads and compiles definitions.
type Option func(*Catalog)

// WithValidatorOptions forwards options to every validation.Compile call.
func WithValidatorOptions(opts ...validation.Option) Option {
	return func(c *Catalog) {
		c.validatorOpts = append(c.validatorOpts, opts...)
	}
}

// WithLogger attaches a logger used while loading definitions.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Catalog stores compiled validators by form id.
type Catalog struct {
	mu            sync.RWMutex
	validators    map[string]*validation.Validator
	validatorOpts []validation.Option
	logger        *zap.Logger
}

// New creates an empty catalog.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		validators: make(map[string]*validation.Validator),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Load parses every *.yaml file at the root of fsys, one form per file, and
// registers the compiled result. All definition errors are reported together.
func Load(fsys fs.FS, opts ...Option) (*Catalog, error) {
	c := New(opts...)
	files, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("catalog: list definitions: %w", err)
	}
	sort.Strings(files)

	var errs []error
	for _, name := range files {
		form, err := decode(fsys, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.Register(form); err != nil {
			errs = append(errs, fmt.Errorf("catalog: %s: %w", name, err))
			continue
		}
		c.logger.Debug("form registered", zap.String("id", form.ID), zap.String("file", name), zap.Int("fields", len(form.Fields)))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

func decode(fsys fs.FS, name string) (model.FormModel, error) {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return model.FormModel{}, fmt.Errorf("catalog: read %s: %w", name, err)
	}
	var form model.FormModel
	if err := yaml.Unmarshal(raw, &form); err != nil {
		return model.FormModel{}, fmt.Errorf("catalog: decode %s: %w", name, err)
	}
	if strings.TrimSpace(form.ID) == "" {
		form.ID = strings.TrimSuffix(path.Base(name), path.Ext(name))
	}
	return form, nil
}

// Embedded returns the definitions compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "forms")
	if err != nil {
		panic(err)
	}
	return sub
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default loads the embedded definitions once and returns the shared catalog.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Load(Embedded())
	})
	return defaultCatalog, defaultErr
}

// MustDefault panics when the embedded catalog fails to load.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Register compiles form and stores it under its id.
func (c *Catalog) Register(form model.FormModel) error {
	id := strings.TrimSpace(form.ID)
	if id == "" {
		return fmt.Errorf("catalog: form id is required")
	}
	v, err := validation.Compile(form, c.validatorOpts...)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.validators[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicate, id)
	}
	c.validators[id] = v
	return nil
}

// Validator returns the compiled validator for id.
func (c *Catalog) Validator(id string) (*validation.Validator, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.validators[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return v, nil
}

// MustValidator panics if id is missing.
func (c *Catalog) MustValidator(id string) *validation.Validator {
	v, err := c.Validator(id)
	if err != nil {
		panic(err)
	}
	return v
}

// Lookup returns the definition registered under id.
func (c *Catalog) Lookup(id string) (model.FormModel, bool) {
	v, err := c.Validator(id)
	if err != nil {
		return model.FormModel{}, false
	}
	return v.Form(), true
}

// IDs returns the registered ids sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.validators))
	for id := range c.validators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len reports how many forms are registered.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.validators)
}
