package prompt_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/catalog"
	"github.com/goliatone/go-formflow/pkg/client"
	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/prompt"
)

// scriptedDriver answers prompts from queues and records what was asked.
type scriptedDriver struct {
	inputs   []string
	confirms []bool
	selects  []int
	asked    []string
	rejected map[string]string
}

func (d *scriptedDriver) next(cfg prompt.InputConfig) (string, error) {
	d.asked = append(d.asked, cfg.Message)
	for len(d.inputs) > 0 {
		answer := d.inputs[0]
		d.inputs = d.inputs[1:]
		if cfg.Validator != nil {
			if err := cfg.Validator(answer); err != nil {
				if d.rejected == nil {
					d.rejected = make(map[string]string)
				}
				d.rejected[answer] = err.Error()
				continue
			}
		}
		return answer, nil
	}
	return "", errors.New("script exhausted")
}

func (d *scriptedDriver) Input(_ context.Context, cfg prompt.InputConfig) (string, error) {
	return d.next(cfg)
}

func (d *scriptedDriver) Password(_ context.Context, cfg prompt.InputConfig) (string, error) {
	return d.next(cfg)
}

func (d *scriptedDriver) Confirm(_ context.Context, cfg prompt.ConfirmConfig) (bool, error) {
	d.asked = append(d.asked, cfg.Message)
	if len(d.confirms) == 0 {
		return cfg.Default, nil
	}
	v := d.confirms[0]
	d.confirms = d.confirms[1:]
	return v, nil
}

func (d *scriptedDriver) Select(_ context.Context, cfg prompt.SelectConfig) (int, error) {
	d.asked = append(d.asked, cfg.Message)
	if len(d.selects) == 0 {
		return cfg.DefaultIndex, nil
	}
	v := d.selects[0]
	d.selects = d.selects[1:]
	return v, nil
}

func (d *scriptedDriver) MultiSelect(_ context.Context, cfg prompt.SelectConfig) ([]int, error) {
	d.asked = append(d.asked, cfg.Message)
	return cfg.Defaults, nil
}

func (d *scriptedDriver) TextArea(_ context.Context, cfg prompt.TextAreaConfig) (string, error) {
	return d.next(prompt.InputConfig{Message: cfg.Message, Validator: cfg.Validator})
}

func (d *scriptedDriver) Info(context.Context, string) error { return nil }

func TestFill_PharmacistRejectsInvalidAnswers(t *testing.T) {
	v := catalog.MustDefault().MustValidator(catalog.OrganizationPharmacist)
	f, err := form.New(v, form.Create())
	if err != nil {
		t.Fatalf("new form: %v", err)
	}

	d := &scriptedDriver{
		// name, crf twice, email twice, phone, startDate
		inputs:   []string{"Ana Souza", "12a", "123456", "ana@", "ana@farmacia.com.br", "", ""},
		selects:  []int{23},
		confirms: []bool{true},
	}
	if err := prompt.Fill(context.Background(), d, f); err != nil {
		t.Fatalf("fill: %v", err)
	}

	want := map[string]string{"12a": "CRF inválido", "ana@": "E-mail inválido"}
	if diff := cmp.Diff(want, d.rejected); diff != "" {
		t.Fatalf("rejections mismatch (-want +got):\n%s", diff)
	}

	payload, err := f.Validate()
	if err != nil {
		t.Fatalf("filled form should validate: %v", err)
	}
	if payload["crfState"] != "SC" || payload["isResponsible"] != true || payload["crf"] != "123456" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestFill_AsksRevealedFields(t *testing.T) {
	v := catalog.MustDefault().MustValidator(catalog.WhatsAppConfig)
	f, err := form.New(v, form.Create())
	if err != nil {
		t.Fatalf("new form: %v", err)
	}

	d := &scriptedDriver{
		selects: []int{1},
		inputs:  []string{"inst-1", "tok-1", ""},
	}
	if err := prompt.Fill(context.Background(), d, f); err != nil {
		t.Fatalf("fill: %v", err)
	}

	want := []string{"Provedor *", "Instância *", "Token da instância *", "Webhook", "Ativo"}
	if diff := cmp.Diff(want, d.asked); diff != "" {
		t.Fatalf("asked mismatch (-want +got):\n%s", diff)
	}
}

func TestFill_FileField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logo.png")
	if err := os.WriteFile(path, []byte("PNG"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	v := catalog.MustDefault().MustValidator(catalog.SocialBenefit)
	f, err := form.New(v, form.Create())
	if err != nil {
		t.Fatalf("new form: %v", err)
	}
	for name, value := range map[string]any{
		"title": "Desconto", "description": "Desconto em consultas", "category": "saude",
		"discountValue": "10", "discountPercent": "15", "validUntil": "2026-12-31",
		"website": "https://parceiro.com.br", "terms": "Válido de segunda a sexta",
	} {
		if err := f.Set(name, value); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}

	d := &scriptedDriver{inputs: []string{filepath.Join(dir, "missing.png"), path}}
	if err := prompt.Fill(context.Background(), d, f, prompt.WithSkipFilled()); err != nil {
		t.Fatalf("fill: %v", err)
	}
	file, ok := f.Value("imageFile").(*client.File)
	if !ok {
		t.Fatalf("expected upload part, got %T", f.Value("imageFile"))
	}
	raw, _ := io.ReadAll(file.Content)
	if file.Field != "imageFile" || file.Filename != "logo.png" || string(raw) != "PNG" {
		t.Fatalf("unexpected file %+v %q", file, raw)
	}
	if len(d.rejected) != 1 {
		t.Fatalf("missing path should be rejected once, got %v", d.rejected)
	}
}

func TestFill_Cancelled(t *testing.T) {
	v := catalog.MustDefault().MustValidator(catalog.WhatsAppTemplate)
	f, _ := form.New(v, form.Create())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := prompt.Fill(ctx, &scriptedDriver{}, f); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
