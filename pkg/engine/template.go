package engine

import (
	"fmt"
	"strings"
)

const (
	placeholderOpen  = "{{"
	placeholderClose = "}}"
)

// Render replaces every {{name}} placeholder in tmpl with vars[name], scanning
// left to right. Substituted values are not scanned again. An opening "{{" with
// no closing "}}" is kept as literal text.
func Render(tmpl string, vars VariableSet) (string, error) {
	if !strings.Contains(tmpl, placeholderOpen) {
		return tmpl, nil
	}

	var b strings.Builder
	b.Grow(len(tmpl))

	rest := tmpl
	for {
		start := strings.Index(rest, placeholderOpen)
		if start < 0 {
			break
		}
		end := strings.Index(rest[start+len(placeholderOpen):], placeholderClose)
		if end < 0 {
			break
		}
		end += start + len(placeholderOpen)

		name := strings.TrimSpace(rest[start+len(placeholderOpen) : end])
		value, ok := vars[name]
		if !ok {
			return "", undefinedVariable(name)
		}

		b.WriteString(rest[:start])
		b.WriteString(value)
		rest = rest[end+len(placeholderClose):]
	}
	b.WriteString(rest)

	return b.String(), nil
}

// Placeholders returns the distinct variable names referenced by tmpl, in order
// of first appearance.
func Placeholders(tmpl string) []string {
	var names []string
	seen := make(map[string]bool)

	rest := tmpl
	for {
		start := strings.Index(rest, placeholderOpen)
		if start < 0 {
			return names
		}
		end := strings.Index(rest[start+len(placeholderOpen):], placeholderClose)
		if end < 0 {
			return names
		}
		end += start + len(placeholderOpen)

		name := strings.TrimSpace(rest[start+len(placeholderOpen) : end])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		rest = rest[end+len(placeholderClose):]
	}
}

func undefinedVariable(name string) *EngineError {
	return NewError(ErrorKindUndefinedVariable,
		fmt.Sprintf("undefined template variable %q", name), nil).
		WithCode(ErrCodeUndefinedVariable).
		WithDetail("variable", name)
}
