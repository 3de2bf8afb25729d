package visibility_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/visibility"
)

func TestRuleEval(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		expr   string
		values map[string]any
		want   bool
	}{
		{name: "empty rule", expr: "", values: nil, want: true},
		{name: "string equality", expr: `provider == "cloud_api"`, values: map[string]any{"provider": "cloud_api"}, want: true},
		{name: "string inequality", expr: `provider != 'cloud_api'`, values: map[string]any{"provider": "zapi"}, want: true},
		{name: "bool literal matches string", expr: "enabled == true", values: map[string]any{"enabled": "true"}, want: true},
		{name: "truthy", expr: "enabled", values: map[string]any{"enabled": true}, want: true},
		{name: "missing is falsy", expr: "enabled", values: map[string]any{}, want: false},
		{name: "not", expr: "!sandbox", values: map[string]any{"sandbox": false}, want: true},
		{name: "number", expr: "plan == 2", values: map[string]any{"plan": 2}, want: true},
		{name: "numeric string", expr: "plan == 2", values: map[string]any{"plan": "2.0"}, want: true},
		{name: "null", expr: "notes == null", values: map[string]any{}, want: true},
		{name: "and or precedence", expr: `a || b && c`, values: map[string]any{"a": false, "b": true, "c": false}, want: false},
		{name: "parens", expr: `(a || b) && c`, values: map[string]any{"a": true, "c": true}, want: true},
		{name: "nested lookup", expr: `cta.headline == "Olá"`, values: map[string]any{"cta": map[string]any{"headline": "Olá"}}, want: true},
		{name: "flattened key", expr: `cta.headline != ""`, values: map[string]any{"cta.headline": "Hello"}, want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule, err := visibility.Compile(tc.expr)
			if err != nil {
				t.Fatalf("Compile(%q): %v", tc.expr, err)
			}
			if got := rule.Eval(tc.values); got != tc.want {
				t.Fatalf("Eval(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestRuleFields(t *testing.T) {
	t.Parallel()

	rule := visibility.MustCompile(`provider == "cloud_api" && (cta.headline || !sandbox)`)
	want := []string{"cta", "provider", "sandbox"}
	if diff := cmp.Diff(want, rule.Fields()); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileErrors(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{
		`provider ==`,
		`(enabled`,
		`provider = "x"`,
		`"unterminated`,
		`enabled enabled`,
		`&& enabled`,
	} {
		if _, err := visibility.Compile(expr); err == nil {
			t.Fatalf("expected error compiling %q", expr)
		}
	}
}
