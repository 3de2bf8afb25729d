// Package formflow wires the console data layer together: an authenticated
// API client, the shared query cache, the notification sink, and the form
// catalog. Screens fetch through Kit.Resources, validate through catalog
// validators and write through mutations built by Kit.FormMutation.
package formflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/pkg/api"
	"github.com/goliatone/go-formflow/pkg/catalog"
	"github.com/goliatone/go-formflow/pkg/client"
	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/model"
	"github.com/goliatone/go-formflow/pkg/mutation"
	"github.com/goliatone/go-formflow/pkg/notify"
	"github.com/goliatone/go-formflow/pkg/query"
	"github.com/goliatone/go-formflow/pkg/session"
	"github.com/goliatone/go-formflow/pkg/validation"
)

// Config collects the settings New needs. Zero values fall back to the
// package defaults of each component.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	UserAgent      string
	Token          string
	JWTKey         string
	OrganizationID string

	NotifyDuration time.Duration
	NotifyLimit    int

	StaleTime   time.Duration
	GCRetention time.Duration
	GCInterval  time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	MetricsNamespace string
	Locale           string
}

// Option customises New.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	registerer  prometheus.Registerer
	httpClient  *http.Client
	catalog     *catalog.Catalog
	broadcaster query.Broadcaster
	forms       []model.FormModel
}

// WithLogger attaches a zap logger to every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics registers the cache collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithHTTPClient swaps the client's transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithCatalog replaces the embedded catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(o *options) {
		o.catalog = c
	}
}

// WithBroadcaster fans invalidations out through b instead of Redis.
func WithBroadcaster(b query.Broadcaster) Option {
	return func(o *options) {
		o.broadcaster = b
	}
}

// WithForms registers extra definitions, typically converted from OpenAPI,
// next to the catalog's own.
func WithForms(forms ...model.FormModel) Option {
	return func(o *options) {
		o.forms = append(o.forms, forms...)
	}
}

// Kit is the assembled data layer for one signed-in user.
type Kit struct {
	Client        *client.Client
	Cache         *query.Cache
	Notifications *notify.Sink
	Catalog       *catalog.Catalog
	Resources     *api.Resources
	Identity      session.Identity
	Metrics       *query.Metrics

	logger *zap.Logger
}

// New builds a Kit. A Redis address in cfg connects a broadcaster, which
// fails New when the server is unreachable.
func New(ctx context.Context, cfg Config, opts ...Option) (*Kit, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := o.logger

	identity, err := resolveIdentity(cfg)
	if err != nil {
		return nil, err
	}

	clientOpts := []client.Option{client.WithLogger(logger.Named("client")), client.WithIdentity(identity)}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(o.httpClient))
	}
	c, err := client.New(client.Config{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
	}, clientOpts...)
	if err != nil {
		return nil, err
	}

	cacheOpts := []query.Option{
		query.WithLogger(logger.Named("query")),
		query.WithStaleTime(cfg.StaleTime),
		query.WithGC(cfg.GCRetention, cfg.GCInterval),
	}
	var metrics *query.Metrics
	if o.registerer != nil {
		namespace := cfg.MetricsNamespace
		if namespace == "" {
			namespace = "formflow"
		}
		metrics, err = query.NewMetrics(o.registerer, namespace)
		if err != nil {
			return nil, fmt.Errorf("formflow: metrics: %w", err)
		}
		cacheOpts = append(cacheOpts, query.WithMetrics(metrics))
	}
	broadcaster := o.broadcaster
	if broadcaster == nil && strings.TrimSpace(cfg.RedisAddr) != "" {
		redisOpts := []query.RedisOption{query.WithRedisLogger(logger.Named("redis"))}
		if cfg.RedisChannel != "" {
			redisOpts = append(redisOpts, query.WithRedisChannel(cfg.RedisChannel))
		}
		broadcaster, err = query.NewRedisBroadcaster(ctx, query.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, redisOpts...)
		if err != nil {
			return nil, err
		}
	}
	if broadcaster != nil {
		cacheOpts = append(cacheOpts, query.WithBroadcaster(broadcaster))
	}
	cache := query.New(cacheOpts...)

	cat := o.catalog
	if cat == nil {
		validatorOpts := []validation.Option{}
		if cfg.Locale != "" {
			validatorOpts = append(validatorOpts, validation.WithLocale(cfg.Locale))
		}
		cat, err = catalog.Load(catalog.Embedded(),
			catalog.WithValidatorOptions(validatorOpts...),
			catalog.WithLogger(logger.Named("catalog")))
		if err != nil {
			_ = cache.Close()
			return nil, err
		}
	}
	for _, f := range o.forms {
		if err := cat.Register(f); err != nil {
			_ = cache.Close()
			return nil, err
		}
	}

	resources, err := api.NewResources(c, cache)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	sinkOpts := []notify.Option{notify.WithLogger(logger.Named("notify"))}
	if cfg.NotifyDuration > 0 {
		sinkOpts = append(sinkOpts, notify.WithDuration(cfg.NotifyDuration))
	}
	if cfg.NotifyLimit > 0 {
		sinkOpts = append(sinkOpts, notify.WithLimit(cfg.NotifyLimit))
	}

	logger.Debug("formflow: kit ready",
		zap.String("base_url", c.BaseURL()),
		zap.String("organization", identity.OrganizationID),
		zap.Int("forms", cat.Len()),
		zap.Bool("broadcast", broadcaster != nil))

	return &Kit{
		Client:        c,
		Cache:         cache,
		Notifications: notify.New(sinkOpts...),
		Catalog:       cat,
		Resources:     resources,
		Identity:      identity,
		Metrics:       metrics,
		logger:        logger,
	}, nil
}

func resolveIdentity(cfg Config) (session.Identity, error) {
	var identity session.Identity
	if strings.TrimSpace(cfg.Token) != "" {
		var err error
		identity, err = session.FromToken(cfg.Token, []byte(cfg.JWTKey))
		if err != nil {
			return session.Identity{}, err
		}
	}
	if identity.OrganizationID == "" {
		identity.OrganizationID = strings.TrimSpace(cfg.OrganizationID)
	}
	return identity, nil
}

// Context attaches the kit identity to ctx unless ctx already carries one.
func (k *Kit) Context(ctx context.Context) context.Context {
	if _, ok := session.FromContext(ctx); ok {
		return ctx
	}
	return session.WithIdentity(ctx, k.Identity)
}

// NewForm opens form id for creation, or for editing when entity is non-nil.
func (k *Kit) NewForm(id string, entity map[string]any) (*form.Form, error) {
	v, err := k.Catalog.Validator(id)
	if err != nil {
		return nil, err
	}
	seed := form.Create()
	if entity != nil {
		seed = form.Edit(entity)
	}
	return form.New(v, seed, form.WithLogger(k.logger.Named("form")))
}

// FormMutation builds the write for catalog form id. params fill the ":name"
// segments of its endpoint and invalidation paths. Notification copy comes
// from the definition's messages; opts are applied after and may override it.
func (k *Kit) FormMutation(id string, params map[string]string, opts ...mutation.Option) (*mutation.Mutation[map[string]any, api.Entity], error) {
	def, ok := k.Catalog.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", catalog.ErrNotFound, id)
	}
	keys, err := api.InvalidationKeys(def, params)
	if err != nil {
		return nil, err
	}
	if _, err := def.ResolveEndpoint(params); err != nil {
		return nil, err
	}

	base := []mutation.Option{
		mutation.WithName(id),
		mutation.WithCache(k.Cache),
		mutation.WithNotifier(k.Notifications),
		mutation.WithInvalidates(keys...),
		mutation.WithLogger(k.logger.Named("mutation")),
	}
	if def.Messages.Success != "" {
		base = append(base, mutation.WithSuccessMessage(def.Messages.Success, def.Messages.SuccessBody))
	}
	if def.Messages.ErrorTitle != "" {
		base = append(base, mutation.WithErrorTitle(def.Messages.ErrorTitle))
	}

	submit := func(ctx context.Context, payload map[string]any) (api.Entity, error) {
		return k.Resources.SubmitForm(k.Context(ctx), def, params, payload)
	}
	return mutation.New(submit, append(base, opts...)...), nil
}

// Submit validates f and sends it through m. Field errors returned by the
// server are mapped back onto f.
func Submit(ctx context.Context, f *form.Form, m *mutation.Mutation[map[string]any, api.Entity]) (api.Entity, error) {
	if f == nil || m == nil {
		return nil, errors.New("formflow: form and mutation are required")
	}
	var result api.Entity
	err := f.Submit(ctx, func(ctx context.Context, payload map[string]any) error {
		out, err := m.Mutate(ctx, payload)
		result = out
		return err
	})
	return result, err
}

// Close stops the cache, its broadcaster, and pending notification timers.
func (k *Kit) Close() error {
	k.Notifications.Close()
	return k.Cache.Close()
}
