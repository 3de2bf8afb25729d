package notify

import (
	"fmt"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
)

var (
	templateSetOnce sync.Once
	templateSet     *pongo2.TemplateSet

	compiledMu sync.RWMutex
	compiled   = make(map[string]*pongo2.Template)
)

// Render expands a pongo2 message template such as
// "Benefício {{ title }} salvo" against data. Output is not HTML-escaped.
// Strings without template markup are returned unchanged.
func Render(tpl string, data map[string]any) (string, error) {
	if !strings.Contains(tpl, "{{") && !strings.Contains(tpl, "{%") {
		return tpl, nil
	}

	tmpl, err := lookupTemplate(tpl)
	if err != nil {
		return "", err
	}
	out, err := tmpl.Execute(pongo2.Context(data))
	if err != nil {
		return "", fmt.Errorf("notify: execute template: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// MustRender is Render that falls back to the raw template on error.
func MustRender(tpl string, data map[string]any) string {
	out, err := Render(tpl, data)
	if err != nil {
		return tpl
	}
	return out
}

func lookupTemplate(tpl string) (*pongo2.Template, error) {
	compiledMu.RLock()
	tmpl, ok := compiled[tpl]
	compiledMu.RUnlock()
	if ok {
		return tmpl, nil
	}

	templateSetOnce.Do(func() {
		templateSet = pongo2.NewSet("notify", pongo2.MustNewLocalFileSystemLoader(""))
	})
	tmpl, err := templateSet.FromString("{% autoescape off %}" + tpl + "{% endautoescape %}")
	if err != nil {
		return nil, fmt.Errorf("notify: parse template: %w", err)
	}

	compiledMu.Lock()
	compiled[tpl] = tmpl
	compiledMu.Unlock()
	return tmpl, nil
}
