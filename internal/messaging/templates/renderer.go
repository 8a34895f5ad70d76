package templates

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z][A-Za-z0-9_.]*)\s*\}\}`)

// BuiltinDefaults apply when neither the context nor the campaign declares a value.
var BuiltinDefaults = map[string]string{
	"FirstName": "there",
}

// Context carries the values a template may reference, in resolution order.
type Context struct {
	// Fields holds prospect contact and appointment values.
	Fields map[string]string
	// Settings holds campaign-level values, then practice-wide values.
	Settings []map[string]string
	// Defaults holds declared per-field fallbacks.
	Defaults map[string]string
}

// Result is a rendered message. Defaulted lists placeholders filled from a
// declared or builtin default; Missing lists those with no data and no
// default, rendered as their field name.
type Result struct {
	Text      string
	Defaulted []string
	Missing   []string
}

// Renderer renders {{Field}} placeholders for outbound messaging.
type Renderer struct{}

// Render substitutes every placeholder in tmpl. It never fails: a placeholder
// with no value renders as its declared default (reported in
// Result.Defaulted), or as the field name itself (reported in
// Result.Missing). Substituted values are not re-expanded.
func (Renderer) Render(tmpl string, ctx Context) Result {
	fields := lowerKeys(ctx.Fields)
	settings := make([]map[string]string, 0, len(ctx.Settings))
	for _, layer := range ctx.Settings {
		settings = append(settings, lowerKeys(layer))
	}
	defaults := lowerKeys(BuiltinDefaults)
	for k, v := range lowerKeys(ctx.Defaults) {
		defaults[k] = v
	}

	var defaulted, missing []string
	seen := map[string]bool{}
	text := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		key := strings.ToLower(name)
		if v, ok := lookup(fields, key); ok {
			return v
		}
		for _, layer := range settings {
			if v, ok := lookup(layer, key); ok {
				return v
			}
		}
		v, hasDefault := defaults[key]
		if !seen[key] {
			seen[key] = true
			if hasDefault {
				defaulted = append(defaulted, name)
			} else {
				missing = append(missing, name)
			}
		}
		if hasDefault {
			return v
		}
		return name
	})
	return Result{Text: text, Defaulted: defaulted, Missing: missing}
}

// Render is a convenience wrapper around Renderer.Render.
func Render(tmpl string, ctx Context) Result {
	return Renderer{}.Render(tmpl, ctx)
}

// Placeholders lists the distinct field names referenced by tmpl.
func Placeholders(tmpl string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		key := strings.ToLower(m[1])
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m[1])
	}
	return out
}

func lookup(m map[string]string, key string) (string, bool) {
	v, ok := m[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
