package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/internal/config"
	"github.com/goliatone/go-formflow/internal/logger"
	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/notify"
	pkgopenapi "github.com/goliatone/go-formflow/pkg/openapi"
	"github.com/goliatone/go-formflow/pkg/prompt"
)

// params collects repeated -param name=value flags.
type params map[string]string

func (p params) String() string {
	pairs := make([]string, 0, len(p))
	for k, v := range p {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (p params) Set(raw string) error {
	name, value, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("expected name=value, got %q", raw)
	}
	p[strings.TrimSpace(name)] = strings.TrimSpace(value)
	return nil
}

func main() {
	configFile := flag.String("config", "", "config file (defaults to ./formflow.yaml when present)")
	formID := flag.String("form", "", "form to fill; asks when empty")
	list := flag.Bool("list", false, "list available forms and exit")
	pathParams := params{}
	flag.Var(pathParams, "param", "endpoint parameter as name=value (repeatable)")
	flag.Parse()

	var opts []config.Option
	if *configFile != "" {
		opts = append(opts, config.WithFile(*configFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, zl, *formID, *list, pathParams); err != nil {
		if errors.Is(err, prompt.ErrAborted) {
			fmt.Fprintln(os.Stderr, "cancelado")
			os.Exit(130)
		}
		zl.Error("formflow-cli failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger, formID string, list bool, pathParams params) error {
	kitOpts := []formflow.Option{formflow.WithLogger(zl)}
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		kitOpts = append(kitOpts, formflow.WithMetrics(registry))
	}
	if cfg.Forms.OpenAPI != "" {
		src, err := pkgopenapi.ParseSource(cfg.Forms.OpenAPI)
		if err != nil {
			return err
		}
		loader := formflow.NewLoader(
			pkgopenapi.WithHTTPFallback(cfg.API.Timeout),
			pkgopenapi.WithRequestHeader("Authorization", "Bearer "+cfg.API.Token),
		)
		forms, err := formflow.FormsFromOpenAPI(ctx, loader, nil, src)
		if err != nil {
			return err
		}
		kitOpts = append(kitOpts, formflow.WithForms(forms...))
	}

	kit, err := formflow.New(ctx, formflow.Config{
		BaseURL:          cfg.API.BaseURL,
		Timeout:          cfg.API.Timeout,
		UserAgent:        cfg.API.UserAgent,
		Token:            cfg.API.Token,
		JWTKey:           cfg.API.JWTKey,
		OrganizationID:   cfg.API.OrganizationID,
		NotifyDuration:   cfg.Notify.Duration,
		NotifyLimit:      cfg.Notify.Limit,
		StaleTime:        cfg.Cache.StaleTime,
		GCRetention:      cfg.Cache.GCRetention,
		GCInterval:       cfg.Cache.GCInterval,
		RedisAddr:        cfg.Redis.Addr,
		RedisPassword:    cfg.Redis.Password,
		RedisDB:          cfg.Redis.DB,
		RedisChannel:     cfg.Redis.Channel,
		MetricsNamespace: cfg.Metrics.Namespace,
		Locale:           cfg.Forms.Locale,
	}, kitOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = kit.Close() }()

	var mu sync.Mutex
	printed := make(map[string]struct{})
	unsubscribe := kit.Notifications.Subscribe(func(items []notify.Notification) {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range items {
			if _, done := printed[n.ID]; done {
				continue
			}
			printed[n.ID] = struct{}{}
			printNotification(n)
		}
	})
	defer unsubscribe()

	ids := kit.Catalog.IDs()
	if list {
		for _, id := range ids {
			def, _ := kit.Catalog.Lookup(id)
			fmt.Printf("%-32s %-6s %s\n", id, def.Method, def.Endpoint)
		}
		return nil
	}

	driver := prompt.NewSurveyDriver(os.Stdout)
	if formID == "" {
		idx, err := driver.Select(ctx, prompt.SelectConfig{Message: "Formulário", Options: ids, PageSize: 10})
		if err != nil {
			return err
		}
		formID = ids[idx]
	}

	def, ok := kit.Catalog.Lookup(formID)
	if !ok {
		return fmt.Errorf("unknown form %q (use -list)", formID)
	}
	for _, name := range def.PathParams() {
		if _, ok := pathParams[name]; ok {
			continue
		}
		if name == "organizationId" && kit.Identity.OrganizationID != "" {
			pathParams[name] = kit.Identity.OrganizationID
			continue
		}
		value, err := driver.Input(ctx, prompt.InputConfig{
			Message:   name,
			Validator: requiredParam,
		})
		if err != nil {
			return err
		}
		pathParams[name] = value
	}

	f, err := kit.NewForm(formID, nil)
	if err != nil {
		return err
	}
	m, err := kit.FormMutation(formID, pathParams)
	if err != nil {
		return err
	}

	var fillOpts []prompt.Option
	for {
		if err := prompt.Fill(ctx, driver, f, fillOpts...); err != nil {
			return err
		}
		_, err := formflow.Submit(ctx, f, m)
		if err == nil {
			break
		}
		if !retryable(ctx, driver, f) {
			return err
		}
		fillOpts = []prompt.Option{prompt.WithSkipFilled()}
	}

	if registry != nil {
		logMetrics(zl, registry)
	}
	return nil
}

func requiredParam(value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New("obrigatório")
	}
	return nil
}

// retryable lists the draft's field errors and asks whether to edit them.
// Only fields with errors are cleared so Fill asks for them again.
func retryable(ctx context.Context, driver prompt.Driver, f *form.Form) bool {
	errs := f.Errors()
	if len(errs) == 0 {
		return false
	}
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_ = driver.Info(ctx, fmt.Sprintf("%s: %s", name, errs[name]))
	}
	again, askErr := driver.Confirm(ctx, prompt.ConfirmConfig{Message: "Corrigir e enviar novamente?", Default: true})
	if askErr != nil || !again {
		return false
	}
	for _, name := range names {
		_ = f.Set(name, nil)
	}
	return true
}

func printNotification(n notify.Notification) {
	marker := "✔"
	if n.Variant == notify.VariantDestructive {
		marker = "✖"
	}
	if n.Description != "" {
		fmt.Printf("%s %s: %s\n", marker, n.Title, n.Description)
		return
	}
	fmt.Printf("%s %s\n", marker, n.Title)
}

func logMetrics(zl *zap.Logger, registry *prometheus.Registry) {
	families, err := registry.Gather()
	if err != nil {
		zl.Warn("metrics gather failed", zap.Error(err))
		return
	}
	for _, family := range families {
		var total float64
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		zl.Info("metric", zap.String("name", family.GetName()), zap.Float64("value", total))
	}
}
