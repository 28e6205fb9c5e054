package dialog

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Render substitutes {{var}} tokens with values from data. Tokens without a
// value are left as written.
func Render(tmpl string, data FlowData) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(token string) string {
		m := placeholderRe.FindStringSubmatch(token)
		if len(m) < 2 {
			return token
		}
		if v, ok := data.Lookup(m[1]); ok {
			return v
		}
		return token
	})
}

// Placeholders lists the variable names referenced by tmpl in order of
// appearance, without duplicates.
func Placeholders(tmpl string) []string {
	matches := placeholderRe.FindAllStringSubmatch(tmpl, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}
