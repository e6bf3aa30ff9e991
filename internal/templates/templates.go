// Package templates renders the localized prompt templates compiled into the
// binary. Templates are grouped by category (one file per category), named
// within the file, and resolved per locale with a fallback to the default
// locale when a localized version is missing.
package templates

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

//go:embed locales
var localeFS embed.FS

// DefaultLocale is used when the requested locale has no matching template.
const DefaultLocale = "en"

// Parser resolves and renders prompt templates per locale.
type Parser struct {
	// locale is the preferred locale.
	locale string

	// byLocale maps locale -> category -> parsed template set.
	byLocale map[string]map[string]*template.Template
}

// New loads every embedded locale and returns a Parser preferring the given
// locale. An empty locale selects the default.
func New(locale string) (*Parser, error) {
	if locale == "" {
		locale = DefaultLocale
	}

	byLocale := map[string]map[string]*template.Template{}

	locales, err := fs.ReadDir(localeFS, "locales")
	if err != nil {
		return nil, fmt.Errorf("templates: read locales: %w", err)
	}
	for _, loc := range locales {
		if !loc.IsDir() {
			continue
		}
		categories := map[string]*template.Template{}
		files, err := fs.ReadDir(localeFS, "locales/"+loc.Name())
		if err != nil {
			return nil, fmt.Errorf("templates: read locale %s: %w", loc.Name(), err)
		}
		for _, f := range files {
			name := f.Name()
			if !strings.HasSuffix(name, ".tmpl") {
				continue
			}
			t, err := template.ParseFS(localeFS, "locales/"+loc.Name()+"/"+name)
			if err != nil {
				return nil, fmt.Errorf("templates: parse %s/%s: %w", loc.Name(), name, err)
			}
			categories[strings.TrimSuffix(name, ".tmpl")] = t
		}
		byLocale[loc.Name()] = categories
	}

	if _, ok := byLocale[DefaultLocale]; !ok {
		return nil, fmt.Errorf("templates: default locale %q is not embedded", DefaultLocale)
	}

	return &Parser{locale: locale, byLocale: byLocale}, nil
}

// Locale returns the parser's preferred locale.
func (p *Parser) Locale() string {
	return p.locale
}

// Render executes the named template of a category in the preferred locale,
// falling back to the default locale when the locale, category, or template
// name is missing there.
func (p *Parser) Render(category, name string, vars map[string]any) (string, error) {
	if out, err := p.render(p.locale, category, name, vars); err == nil {
		return out, nil
	}
	if p.locale == DefaultLocale {
		return p.render(DefaultLocale, category, name, vars)
	}
	out, err := p.render(DefaultLocale, category, name, vars)
	if err != nil {
		return "", fmt.Errorf("templates: %s/%s not found in %q or %q", category, name, p.locale, DefaultLocale)
	}
	return out, nil
}

func (p *Parser) render(locale, category, name string, vars map[string]any) (string, error) {
	categories, ok := p.byLocale[locale]
	if !ok {
		return "", fmt.Errorf("templates: unknown locale %q", locale)
	}
	t, ok := categories[category]
	if !ok {
		return "", fmt.Errorf("templates: unknown category %q", category)
	}
	if t.Lookup(name) == nil {
		return "", fmt.Errorf("templates: unknown template %q in %s/%s", name, locale, category)
	}

	var sb strings.Builder
	if err := t.ExecuteTemplate(&sb, name, vars); err != nil {
		return "", fmt.Errorf("templates: render %s/%s/%s: %w", locale, category, name, err)
	}
	return sb.String(), nil
}
