// Package testsel resolves a test-selection specifier into concrete test
// types and runs them. Test outcomes are data: they are aggregated and
// reported, and never classify the deployment itself as failed.
package testsel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Type identifies one kind of test suite.
type Type string

const (
	TypeUnit           Type = "unit"
	TypeBehavioral     Type = "behavioral"
	TypeStaticAnalysis Type = "static-analysis"
	TypeStyle          Type = "style"
	TypeLint           Type = "lint"
	TypeSecurity       Type = "security"
	TypeAccessibility  Type = "accessibility"
)

// Registry is the fixed set of runnable test types.
var Registry = []Type{
	TypeUnit,
	TypeBehavioral,
	TypeStaticAnalysis,
	TypeStyle,
	TypeLint,
	TypeSecurity,
	TypeAccessibility,
}

// SkipMarker is the literal spec that runs nothing.
const SkipMarker = "skip"

// presets expand deterministically to fixed subsets of the registry.
var presets = map[string][]Type{
	"quick":     {TypeStyle, TypeLint},
	"essential": {TypeUnit, TypeStaticAnalysis, TypeStyle, TypeLint},
	"full":      Registry,
}

// ErrBadSpec indicates the selection contains an unknown token.
var ErrBadSpec = errors.New("testsel: invalid selection")

// Selection is a resolved test-selection spec.
type Selection struct {
	RawSpec  string
	Types    []Type
	IsPreset bool
	Skip     bool
}

// Validate rejects any spec containing a token outside the presets, the
// registry, and the skip marker. Runs before any pipeline step.
func Validate(spec string) error {
	_, err := Resolve(spec)
	return err
}

// Resolve expands spec into its concrete set of test types. The result
// preserves registry order and contains no duplicates.
func Resolve(spec string) (Selection, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == SkipMarker {
		return Selection{RawSpec: spec, Skip: true}, nil
	}
	if types, ok := presets[trimmed]; ok {
		return Selection{RawSpec: spec, Types: append([]Type(nil), types...), IsPreset: true}, nil
	}

	seen := make(map[Type]bool)
	for _, token := range strings.Split(trimmed, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		typ := Type(token)
		if !registered(typ) {
			return Selection{}, fmt.Errorf("%w: unknown token %q", ErrBadSpec, token)
		}
		seen[typ] = true
	}
	if len(seen) == 0 {
		return Selection{}, fmt.Errorf("%w: empty selection %q", ErrBadSpec, spec)
	}
	var types []Type
	for _, typ := range Registry {
		if seen[typ] {
			types = append(types, typ)
		}
	}
	return Selection{RawSpec: spec, Types: types}, nil
}

// Presets lists the known preset names, sorted.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func registered(typ Type) bool {
	for _, t := range Registry {
		if t == typ {
			return true
		}
	}
	return false
}
