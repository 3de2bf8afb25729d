package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/goliatone/go-formflow/pkg/client"
	"github.com/goliatone/go-formflow/pkg/model"
	"github.com/goliatone/go-formflow/pkg/query"
)

// ErrNilClient is returned by NewResources without a client.
var ErrNilClient = errors.New("api: client is required")

// Entity is an opaque resource body as returned by the backend.
type Entity = map[string]any

// Resources binds the console endpoints to a client. Reads go through the
// cache when one is configured.
type Resources struct {
	client *client.Client
	cache  *query.Cache
}

// NewResources builds Resources. cache may be nil.
func NewResources(c *client.Client, cache *query.Cache) (*Resources, error) {
	if c == nil {
		return nil, ErrNilClient
	}
	return &Resources{client: c, cache: cache}, nil
}

// Client returns the underlying request client.
func (r *Resources) Client() *client.Client { return r.client }

// Fetcher returns a query.Fetcher that GETs path and decodes the JSON body.
func (r *Resources) Fetcher(path string) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		var out any
		if _, err := r.client.Get(ctx, path, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Read returns the body at path, served from the cache while it is fresh.
func (r *Resources) Read(ctx context.Context, path string) (any, error) {
	fetcher := r.Fetcher(path)
	if r.cache == nil {
		return fetcher(ctx)
	}
	entry, err := r.cache.Ensure(ctx, Key(path), fetcher)
	if err != nil {
		return nil, err
	}
	return entry.Data, nil
}

func (r *Resources) readEntity(ctx context.Context, path string) (Entity, error) {
	data, err := r.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	entity, _ := data.(map[string]any)
	return entity, nil
}

func (r *Resources) readList(ctx context.Context, path string) ([]Entity, error) {
	data, err := r.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return asList(data), nil
}

func asList(data any) []Entity {
	switch typed := data.(type) {
	case []any:
		out := make([]Entity, 0, len(typed))
		for _, item := range typed {
			if entity, ok := item.(map[string]any); ok {
				out = append(out, entity)
			}
		}
		return out
	case map[string]any:
		// Paginated envelopes carry the rows under "data" or "items".
		for _, key := range []string{"data", "items", "results"} {
			if inner, ok := typed[key]; ok {
				return asList(inner)
			}
		}
	}
	return nil
}

// Partner returns a social partner.
func (r *Resources) Partner(ctx context.Context, id string) (Entity, error) {
	return r.readEntity(ctx, SocialPartner(id))
}

// SaveBenefit creates a benefit under partnerID, or updates benefitID when
// it is set. The image, when given, is uploaded in the same multipart call.
func (r *Resources) SaveBenefit(ctx context.Context, partnerID, benefitID string, values map[string]any, image *client.File) (Entity, error) {
	var files []client.File
	if image != nil {
		file := *image
		if file.Field == "" {
			file.Field = "imageFile"
		}
		files = append(files, file)
	}
	var out Entity
	var err error
	if strings.TrimSpace(benefitID) == "" {
		_, err = r.client.PostMultipart(ctx, SocialPartnerBenefits(partnerID), values, files, &out)
	} else {
		_, err = r.client.PutMultipart(ctx, SocialBenefit(benefitID), values, files, &out)
	}
	return out, err
}

// FiscalConfig returns the organization's fiscal configuration together
// with its ETag for a later conditional save.
func (r *Resources) FiscalConfig(ctx context.Context, organizationID string) (Entity, string, error) {
	var out Entity
	resp, err := r.client.Get(ctx, FiscalConfig(organizationID), &out)
	if err != nil {
		return nil, "", err
	}
	return out, resp.ETag, nil
}

// SaveFiscalConfig writes the configuration. A non-empty etag makes the
// write conditional and a concurrent change fails with client.ErrConflict.
func (r *Resources) SaveFiscalConfig(ctx context.Context, organizationID string, values map[string]any, etag string) (Entity, error) {
	if etag != "" {
		ctx = client.WithIfMatch(ctx, etag)
	}
	var out Entity
	_, err := r.client.Put(ctx, FiscalConfig(organizationID), values, &out)
	return out, err
}

// HPLCValidations lists validations, optionally filtered.
func (r *Resources) HPLCValidations(ctx context.Context, filter url.Values) ([]Entity, error) {
	path := HPLCValidations()
	if len(filter) > 0 {
		path += "?" + filter.Encode()
	}
	return r.readList(ctx, path)
}

// HPLCValidation returns one validation.
func (r *Resources) HPLCValidation(ctx context.Context, id string) (Entity, error) {
	return r.readEntity(ctx, HPLCValidation(id))
}

// CreateHPLCValidation creates a validation.
func (r *Resources) CreateHPLCValidation(ctx context.Context, values map[string]any) (Entity, error) {
	var out Entity
	_, err := r.client.Post(ctx, HPLCValidations(), values, &out)
	return out, err
}

// UpdateHPLCValidation replaces a validation.
func (r *Resources) UpdateHPLCValidation(ctx context.Context, id string, values map[string]any) (Entity, error) {
	var out Entity
	_, err := r.client.Put(ctx, HPLCValidation(id), values, &out)
	return out, err
}

// DeleteHPLCValidation removes a validation.
func (r *Resources) DeleteHPLCValidation(ctx context.Context, id string) error {
	_, err := r.client.Delete(ctx, HPLCValidation(id), nil)
	return err
}

// AddHPLCResult records a result under a validation.
func (r *Resources) AddHPLCResult(ctx context.Context, id string, values map[string]any) (Entity, error) {
	var out Entity
	_, err := r.client.Post(ctx, HPLCValidationResults(id), values, &out)
	return out, err
}

// UploadHPLCDocument attaches a document to a validation.
func (r *Resources) UploadHPLCDocument(ctx context.Context, id string, fields map[string]any, doc client.File) (Entity, error) {
	if doc.Field == "" {
		doc.Field = "file"
	}
	var out Entity
	_, err := r.client.PostMultipart(ctx, HPLCValidationDocuments(id), fields, []client.File{doc}, &out)
	return out, err
}

// MedicalPortal reads one module section.
func (r *Resources) MedicalPortal(ctx context.Context, section string) (any, error) {
	path, err := MedicalPortal(section)
	if err != nil {
		return nil, err
	}
	return r.Read(ctx, path)
}

// SaveMedicalPortalSettings writes the module settings.
func (r *Resources) SaveMedicalPortalSettings(ctx context.Context, values map[string]any) (Entity, error) {
	path, _ := MedicalPortal(PortalSettings)
	var out Entity
	_, err := r.client.Put(ctx, path, values, &out)
	return out, err
}

// ToggleMedicalPortal enables or disables the module.
func (r *Resources) ToggleMedicalPortal(ctx context.Context, enabled bool) (Entity, error) {
	path, _ := MedicalPortal(PortalToggle)
	var out Entity
	_, err := r.client.Put(ctx, path, map[string]any{"enabled": enabled}, &out)
	return out, err
}

// Pharmacists lists the organization's pharmacists.
func (r *Resources) Pharmacists(ctx context.Context) ([]Entity, error) {
	return r.readList(ctx, Pharmacists())
}

// CreatePharmacist registers a pharmacist.
func (r *Resources) CreatePharmacist(ctx context.Context, values map[string]any) (Entity, error) {
	var out Entity
	_, err := r.client.Post(ctx, Pharmacists(), values, &out)
	return out, err
}

// SubmitForm sends a validated payload to the form's endpoint. Values of
// type client.File (or pointer) are moved to multipart parts, which are used
// whenever the form is declared multipart.
func (r *Resources) SubmitForm(ctx context.Context, form model.FormModel, params map[string]string, payload map[string]any) (Entity, error) {
	path, err := form.ResolveEndpoint(params)
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(strings.TrimSpace(form.Method))
	if method == "" {
		method = http.MethodPost
	}

	fields, files := splitFiles(payload)
	var out Entity
	if form.Multipart || len(files) > 0 {
		if method == http.MethodPut {
			_, err = r.client.PutMultipart(ctx, path, fields, files, &out)
		} else {
			_, err = r.client.PostMultipart(ctx, path, fields, files, &out)
		}
		return out, err
	}
	resp, err := r.client.Do(ctx, client.Request{Method: method, Path: path, Body: fields})
	if err != nil {
		return nil, err
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// InvalidationKeys resolves the form's invalidation templates to cache keys.
func InvalidationKeys(form model.FormModel, params map[string]string) ([]query.Key, error) {
	paths, err := form.ResolveInvalidates(params)
	if err != nil {
		return nil, err
	}
	keys := make([]query.Key, 0, len(paths))
	for _, path := range paths {
		keys = append(keys, Key(path))
	}
	return keys, nil
}

func splitFiles(payload map[string]any) (map[string]any, []client.File) {
	fields := make(map[string]any, len(payload))
	var files []client.File
	names := make([]string, 0, len(payload))
	for name := range payload {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch typed := payload[name].(type) {
		case client.File:
			if typed.Field == "" {
				typed.Field = name
			}
			files = append(files, typed)
		case *client.File:
			if typed == nil {
				continue
			}
			file := *typed
			if file.Field == "" {
				file.Field = name
			}
			files = append(files, file)
		default:
			fields[name] = typed
		}
	}
	return fields, files
}
