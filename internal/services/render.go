package services

import (
	"encoding/json"
	"sort"
	"strings"

	"zapblast/internal/adapters/meta"
)

// decodeVariables parses the JSON variables stored on a recipient row.
// Corrupt or empty payloads degrade to no substitutions.
func decodeVariables(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var vars map[string]string
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return nil
	}
	return vars
}

// renderBody substitutes {{key}} markers with per-recipient variables.
// Unknown markers are left in place so a typo is visible in the delivered
// text instead of silently vanishing.
func renderBody(body string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(body, "{{") {
		return body
	}
	out := body
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

// templateComponents turns numeric variable keys ("1", "2", ...) into the
// positional body parameters of a template send. Non-numeric keys are body
// substitutions only and do not travel to the provider.
func templateComponents(vars map[string]string) []meta.TemplateComponent {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		if isDigits(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	// Numeric order: shorter strings first, then lexical.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})

	params := make([]meta.TemplateParameter, 0, len(keys))
	for _, k := range keys {
		params = append(params, meta.TemplateParameter{Type: "text", Text: vars[k]})
	}
	return []meta.TemplateComponent{{Type: "body", Parameters: params}}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
