// Package deps implements the dependency controller: validation and
// normalization of package requirement specs, installation through an
// external installer command, persistence, and the allow/deny policy gate.
package deps

import (
	"regexp"
	"strings"

	"codemode/internal/errors"
)

// Spec grammar: canonical package name plus an optional version constraint.
// URL installs, environment markers and extras are rejected outright.
var specRE = regexp.MustCompile(
	`^([A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?)\s*((==|>=|<=|~=|!=|>|<)\s*[A-Za-z0-9.*+!_-]+)?$`,
)

// ParsedSpec is a validated requirement split into name and constraint.
type ParsedSpec struct {
	Name       string
	Constraint string
}

// String renders the canonical spec form.
func (p ParsedSpec) String() string {
	return p.Name + p.Constraint
}

// Parse validates and normalizes a requirement spec. Names are lowercased
// with underscores folded to hyphens, so "Foo_Bar==1.0" and "foo-bar==1.0"
// declare the same package.
func Parse(spec string) (ParsedSpec, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return ParsedSpec{}, errors.New(errors.KindInvalidDepSpec, "empty dep spec")
	}
	for _, forbidden := range []string{"@", ";", "://", "[", "]"} {
		if strings.Contains(trimmed, forbidden) {
			return ParsedSpec{}, errors.New(errors.KindInvalidDepSpec, "invalid dep spec %q: %q is not allowed", spec, forbidden)
		}
	}
	match := specRE.FindStringSubmatch(trimmed)
	if match == nil {
		return ParsedSpec{}, errors.New(errors.KindInvalidDepSpec, "invalid dep spec %q", spec)
	}
	name := strings.ReplaceAll(strings.ToLower(match[1]), "_", "-")
	constraint := strings.ReplaceAll(match[3], " ", "")
	return ParsedSpec{Name: name, Constraint: constraint}, nil
}
