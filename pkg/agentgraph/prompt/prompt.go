// Package prompt renders prompt templates with ${name} placeholders.
//
// Templates are parsed once and rendered per run:
//
//	tpl := prompt.Parse("You assist ${user} with ${topic}.")
//	text, err := tpl.Render(prompt.Vars{"user": "ada", "topic": "billing"})
//
// By default a placeholder without a value is an error, so a prompt never
// reaches the model half-filled. WithMissing(KeepMissing) leaves such
// placeholders in place instead. A literal "${" is written as "$${".
package prompt

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// placeholder matches ${name} and the $${ escape.
var placeholder = regexp.MustCompile(`\$\$\{|\$\{([a-zA-Z_][a-zA-Z0-9_.]*)\}`)

// Vars maps placeholder names to values.
type Vars map[string]string

// Merge returns a copy of v overlaid with other.
func (v Vars) Merge(other Vars) Vars {
	out := make(Vars, len(v)+len(other))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range other {
		out[k] = val
	}
	return out
}

// ParseVars parses "name=value" pairs as given on a command line.
func ParseVars(pairs []string) (Vars, error) {
	vars := make(Vars, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid variable %q: want name=value", pair)
		}
		vars[name] = value
	}
	return vars, nil
}

// Missing selects what Render does with placeholders lacking a value.
type Missing int

const (
	// FailMissing makes Render return a *MissingVarsError. This is the default.
	FailMissing Missing = iota
	// KeepMissing leaves the placeholder text unchanged.
	KeepMissing
	// DropMissing replaces the placeholder with the empty string.
	DropMissing
)

// Option configures Render.
type Option func(*renderConfig)

type renderConfig struct {
	missing Missing
}

// WithMissing sets the policy for placeholders without a value.
func WithMissing(m Missing) Option {
	return func(c *renderConfig) { c.missing = m }
}

// Template is a parsed prompt. The zero value renders the empty string.
type Template struct {
	text  string
	names []string
}

// Parse parses text. Parsing never fails; malformed placeholders such as
// "${1x}" are treated as literal text.
func Parse(text string) Template {
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if m[1] != "" && !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return Template{text: text, names: names}
}

// Text returns the unrendered template.
func (t Template) Text() string { return t.text }

// Names returns the placeholder names in order of first use.
func (t Template) Names() []string { return slices.Clone(t.names) }

// Render substitutes vars into the template.
func (t Template) Render(vars Vars, opts ...Option) (string, error) {
	var cfg renderConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var missing []string
	out := placeholder.ReplaceAllStringFunc(t.text, func(match string) string {
		if match == "$${" {
			return "${"
		}
		name := match[2 : len(match)-1]
		if val, ok := vars[name]; ok {
			return val
		}
		switch cfg.missing {
		case KeepMissing:
			return match
		case DropMissing:
			return ""
		default:
			if !slices.Contains(missing, name) {
				missing = append(missing, name)
			}
			return match
		}
	})

	if len(missing) > 0 {
		return "", &MissingVarsError{Names: missing}
	}
	return out, nil
}

// Render parses and renders text in one step.
func Render(text string, vars Vars, opts ...Option) (string, error) {
	return Parse(text).Render(vars, opts...)
}

// MissingVarsError lists placeholders that had no value.
type MissingVarsError struct {
	Names []string
}

func (e *MissingVarsError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("prompt variable not set: %s", e.Names[0])
	}
	return fmt.Sprintf("prompt variables not set: %s", strings.Join(e.Names, ", "))
}
