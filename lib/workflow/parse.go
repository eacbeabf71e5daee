// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format identifies a workflow file encoding.
type Format int

const (
	// FormatJSONC is JSON extended with // line comments, /* block
	// comments */, and trailing commas. Plain JSON parses as JSONC.
	FormatJSONC Format = iota

	// FormatYAML is YAML 1.2 as parsed by yaml.v3. Field names match
	// the json struct tags (yaml.v3 lowercases by default; the
	// definitions use snake_case keys that coincide).
	FormatYAML
)

// FormatForPath picks the format from a file extension. ".yaml" and
// ".yml" select YAML; everything else (".jsonc", ".json", no
// extension) selects JSONC.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSONC
	}
}

// Parse unmarshals a workflow definition and applies defaults. For
// JSONC input, comments and trailing commas are stripped first.
func Parse(data []byte, format Format) (*Workflow, error) {
	var wf Workflow
	switch format {
	case FormatYAML:
		// yaml.v3 has no struct-tag fallback to json tags; route
		// through JSON so one set of tags governs both formats.
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing workflow YAML: %w", err)
		}
		bridged, err := json.Marshal(normalizeYAML(raw))
		if err != nil {
			return nil, fmt.Errorf("converting workflow YAML: %w", err)
		}
		if err := json.Unmarshal(bridged, &wf); err != nil {
			return nil, fmt.Errorf("parsing workflow: %w", err)
		}
	default:
		stripped := jsonc.ToJSON(data)
		if err := json.Unmarshal(stripped, &wf); err != nil {
			return nil, fmt.Errorf("parsing workflow: %w", err)
		}
	}

	applyDefaults(&wf)
	return &wf, nil
}

// ReadFile reads a workflow definition from disk, picking the format
// from the file extension, and parses it. The workflow name defaults
// to the file's base name when the definition does not set one.
func ReadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	wf, err := Parse(data, FormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if wf.Name == "" {
		wf.Name = NameFromPath(path)
	}
	return wf, nil
}

// NameFromPath extracts a workflow name from a file path by stripping
// the directory prefix and the file extension. For example,
// ".conveyor/nightly-build.jsonc" returns "nightly-build".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	extension := filepath.Ext(base)
	return strings.TrimSuffix(base, extension)
}

// applyDefaults fills derivable fields: job IDs from names, job names
// from IDs. Validation catches jobs where neither is set.
func applyDefaults(wf *Workflow) {
	for i := range wf.Jobs {
		job := &wf.Jobs[i]
		if job.ID == "" && job.Name != "" {
			job.ID = slugify(job.Name)
		}
		if job.Name == "" {
			job.Name = job.ID
		}
	}
}

// normalizeYAML converts the map[any]any trees yaml.v3 produces for
// any-typed targets into map[string]any trees that encoding/json can
// marshal. Non-string keys are stringified with fmt.Sprint.
func normalizeYAML(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(typed))
		for key, element := range typed {
			result[key] = normalizeYAML(element)
		}
		return result
	case map[any]any:
		result := make(map[string]any, len(typed))
		for key, element := range typed {
			result[fmt.Sprint(key)] = normalizeYAML(element)
		}
		return result
	case []any:
		result := make([]any, len(typed))
		for i, element := range typed {
			result[i] = normalizeYAML(element)
		}
		return result
	default:
		return value
	}
}
