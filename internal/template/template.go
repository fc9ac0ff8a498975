// Package template renders {{ .Var }} expressions found in manifest strings
// (block content, env values, destinations) against the run's variables.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Vars are the values available to manifest templates.
type Vars struct {
	Home       string
	ConfigRoot string
	Family     string
	User       string
	Templates  string
	Scripts    string
}

func (v Vars) data() map[string]any {
	return map[string]any{
		"Home":       v.Home,
		"ConfigRoot": v.ConfigRoot,
		"Family":     v.Family,
		"User":       v.User,
		"Templates":  v.Templates,
		"Scripts":    v.Scripts,
	}
}

// Render executes s as a Go template. Strings without "{{" are returned
// unchanged. Unknown variables are an error.
func Render(s string, vars Vars) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	t, err := template.New("").Option("missingkey=error").Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", s, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars.data()); err != nil {
		return "", fmt.Errorf("execute template %q: %w", s, err)
	}
	return buf.String(), nil
}
