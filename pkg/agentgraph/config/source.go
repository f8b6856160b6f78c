package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "AGENTGRAPH_"

// Source is an untyped settings tree as read from a file or the
// environment, before decoding into Settings. Paths address nested maps
// with dots: "checkpoint.backend".
type Source map[string]any

// ReadFile parses a YAML (.yaml, .yml) or JSON (.json) file.
func ReadFile(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseJSON(data)
	default:
		return nil, fmt.Errorf("config file %s: unsupported extension %q", path, ext)
	}
}

// ParseYAML parses a YAML document.
func ParseYAML(data []byte) (Source, error) {
	// Decoding into Source directly would make yaml.v3 type nested
	// mappings as Source as well.
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if tree == nil {
		tree = map[string]any{}
	}
	return Source(tree), nil
}

// ParseJSON parses a JSON object.
func ParseJSON(data []byte) (Source, error) {
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if tree == nil {
		tree = map[string]any{}
	}
	return Source(tree), nil
}

// section returns v as a map when it is a nested section.
func section(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Source:
		return m, true
	default:
		return nil, false
	}
}

// Get returns the value at path.
func (s Source) Get(path string) (any, bool) {
	var cur any = map[string]any(s)
	for _, key := range strings.Split(path, ".") {
		m, ok := section(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores value at path, replacing whatever non-map value is in the way.
func (s Source) Set(path string, value any) {
	keys := strings.Split(path, ".")
	m := map[string]any(s)
	for _, key := range keys[:len(keys)-1] {
		next, ok := section(m[key])
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[keys[len(keys)-1]] = value
}

// Overlay sets every environ entry named prefix + KEY, where KEY is the
// upper-cased path with "__" for each dot:
//
//	AGENTGRAPH_CHECKPOINT__BACKEND=sqlite  ->  checkpoint.backend = "sqlite"
//
// When sections is not empty, entries outside those top-level sections are
// ignored. Values stay strings; decoding converts them.
func (s Source) Overlay(prefix string, environ []string, sections ...string) {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok || rest == "" {
			continue
		}
		path := strings.ReplaceAll(strings.ToLower(rest), "__", ".")
		section, _, _ := strings.Cut(path, ".")
		if len(sections) > 0 && !slices.Contains(sections, section) {
			continue
		}
		s.Set(path, value)
	}
}
