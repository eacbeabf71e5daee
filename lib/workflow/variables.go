// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// variablePattern matches ${NAME} references in strings. Only the
// braced form is recognized — bare $NAME is left for shell
// interpretation. Variable names must start with a letter or
// underscore and contain only letters, digits, and underscores.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveVariables produces the variable map for a run. Event values
// (EVENT_* and anything else the trigger supplies) pass through
// unconditionally; declared variables resolve through a precedence
// chain, highest first:
//
//	environment (via environ) > event value > declared default
//
// environ is typically os.Getenv in production and a stub in tests.
// It is consulted only for declared names — the process environment
// is never swept into the result wholesale.
//
// A declaration marked required with no value from any source is an
// error; all such names are reported together, sorted.
func ResolveVariables(declarations map[string]Variable, eventValues map[string]string, environ func(string) string) (map[string]string, error) {
	resolved := make(map[string]string, len(declarations)+len(eventValues))
	for name, value := range eventValues {
		resolved[name] = value
	}

	var missing []string
	for name, declaration := range declarations {
		if environ != nil {
			if value := environ(name); value != "" {
				resolved[name] = value
				continue
			}
		}
		if _, fromEvent := resolved[name]; fromEvent {
			continue
		}
		if declaration.Default != "" {
			resolved[name] = declaration.Default
			continue
		}
		if declaration.Required {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("required workflow variables not set: %s", strings.Join(missing, ", "))
	}
	return resolved, nil
}

// Expand replaces ${NAME} references in input with values from the
// variables map. Only the braced form is replaced; bare $NAME passes
// through for the shell. A reference with no value in the map is an
// error — all such names are reported together, in order of first
// appearance — so a broken definition fails at load time rather than
// producing a mangled command.
func Expand(input string, variables map[string]string) (string, error) {
	if !strings.Contains(input, "${") {
		return input, nil
	}

	var missing []string
	expanded := variablePattern.ReplaceAllStringFunc(input, func(reference string) string {
		name := reference[2 : len(reference)-1]
		value, known := variables[name]
		if !known {
			missing = append(missing, name)
		}
		return value
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved workflow variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// ExpandStep returns a copy of step with every string field expanded.
// Step env values expand first, against the incoming variables only
// (env entries cannot reference each other), and the results overlay
// the variable map used for the remaining fields. A run command can
// therefore reference a step env entry with ${NAME} and see its
// already-expanded value.
//
// Neither the original step nor the variables map is modified.
func ExpandStep(step Step, variables map[string]string) (Step, error) {
	expandedEnv, err := expandStepEnv(step, variables)
	if err != nil {
		return Step{}, err
	}

	merged := make(map[string]string, len(variables)+len(expandedEnv))
	for name, value := range variables {
		merged[name] = value
	}
	for name, value := range expandedEnv {
		merged[name] = value
	}

	fields := []struct {
		label  string
		target *string
	}{
		{"run", &step.Run},
		{"check", &step.Check},
		{"when", &step.When},
		{"working_dir", &step.WorkingDir},
	}
	for _, field := range fields {
		expanded, err := Expand(*field.target, merged)
		if err != nil {
			return Step{}, fmt.Errorf("step %q %s: %w", step.Name, field.label, err)
		}
		*field.target = expanded
	}

	step.Env = expandedEnv
	return step, nil
}

// expandStepEnv expands a step's env block against the incoming
// variables. Returns nil for a step without env.
func expandStepEnv(step Step, variables map[string]string) (map[string]string, error) {
	if len(step.Env) == 0 {
		return nil, nil
	}
	expanded := make(map[string]string, len(step.Env))
	for name, value := range step.Env {
		resolved, err := Expand(value, variables)
		if err != nil {
			return nil, fmt.Errorf("step %q env[%s]: %w", step.Name, name, err)
		}
		expanded[name] = resolved
	}
	return expanded, nil
}
