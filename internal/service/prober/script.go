package prober

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"text/template"
)

var (
	errBadIdentifier = errors.New("not a valid identifier")

	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	modulePattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

	scriptTemplate = template.Must(template.New("probe").Parse(`import sys
{{- if .ImportPath}}
sys.path.append({{printf "%q" .ImportPath}})
{{- end}}

from {{.Module}} import {{.Class}}
import {{.Runtime}}

print("{{.Class}} imported successfully")
print("{{.Runtime}} version:", {{.Runtime}}.__version__)
accelerator = getattr({{.Runtime}}, "cuda", None)
print("Acceleration available:", bool(accelerator is not None and accelerator.is_available()))

instance = {{.Class}}()
print("Everything is ready to use")
`))
)

// Script names what the probe imports.
type Script struct {
	// ImportPath is appended to sys.path; empty skips it.
	ImportPath string
	// Module holds Class.
	Module string
	// Class is instantiated with no arguments.
	Class string
	// Runtime is the tensor runtime to report on.
	Runtime string
}

// Render validates the names and returns the probe program.
func (s Script) Render() ([]byte, error) {
	checks := []struct {
		value   string
		pattern *regexp.Regexp
	}{
		{s.Module, modulePattern},
		{s.Class, identifierPattern},
		{s.Runtime, modulePattern},
	}

	for _, check := range checks {
		if !check.pattern.MatchString(check.value) {
			return nil, fmt.Errorf("%q: %w", check.value, errBadIdentifier)
		}
	}

	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, s); err != nil {
		return nil, fmt.Errorf("render probe: %w", err)
	}

	return buf.Bytes(), nil
}
