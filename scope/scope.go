// Package scope models OAuth scopes as an ordered set of known values.
//
// A Set preserves the order in which scopes were first seen and never holds
// duplicates. A Registry lists the scope values a deployment accepts; any
// value outside the registry is rejected with ErrUnknownScope.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Scope is a single scope value.
type Scope string

const (
	// ExistingPlugins grants access to the caller's existing plugins.
	ExistingPlugins Scope = "existingPlugins"
)

// ErrUnknownScope is returned when a scope value is not in the registry.
var ErrUnknownScope = errors.New("unknown scope")

// Set is an ordered set of scopes. The zero value is an empty set.
type Set []Scope

// NewSet builds a Set from the given values, dropping duplicates and empty
// values while keeping first-seen order.
func NewSet(values ...Scope) Set {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[Scope]struct{}, len(values))
	out := make(Set, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// FromStrings builds a Set from plain strings.
func FromStrings(values []string) Set {
	scopes := make([]Scope, 0, len(values))
	for _, v := range values {
		scopes = append(scopes, Scope(strings.TrimSpace(v)))
	}
	return NewSet(scopes...)
}

// Parse splits a space-delimited scope parameter (RFC 6749 section 3.3).
func Parse(raw string) Set {
	return FromStrings(strings.Fields(raw))
}

// String renders the set as a space-delimited scope parameter.
func (s Set) String() string {
	return strings.Join(s.Strings(), " ")
}

// Strings returns the scope values as strings.
func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}

// IsEmpty reports whether the set holds no scopes.
func (s Set) IsEmpty() bool {
	return len(s) == 0
}

// Contains reports whether v is a member of the set.
func (s Set) Contains(v Scope) bool {
	for _, have := range s {
		if have == v {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every member of other is in s.
func (s Set) ContainsAll(other Set) bool {
	for _, v := range other {
		if !s.Contains(v) {
			return false
		}
	}
	return true
}

// Intersect returns the members of s that are also in other, in s's order.
func (s Set) Intersect(other Set) Set {
	var out Set
	for _, v := range s {
		if other.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// Equal reports whether both sets hold the same members, ignoring order.
func (s Set) Equal(other Set) bool {
	return len(s) == len(other) && s.ContainsAll(other)
}

// Registry is the closed list of scopes a deployment accepts.
type Registry struct {
	known Set
}

// DefaultRegistry returns a registry holding only ExistingPlugins.
func DefaultRegistry() *Registry {
	return NewRegistry(ExistingPlugins)
}

// NewRegistry creates a registry from the given scope values.
func NewRegistry(values ...Scope) *Registry {
	return &Registry{known: NewSet(values...)}
}

// Known returns every registered scope.
func (r *Registry) Known() Set {
	return append(Set(nil), r.known...)
}

// IsKnown reports whether v is registered.
func (r *Registry) IsKnown(v Scope) bool {
	return r.known.Contains(v)
}

// Validate returns ErrUnknownScope naming the first unregistered value in s.
func (r *Registry) Validate(s Set) error {
	for _, v := range s {
		if !r.known.Contains(v) {
			return fmt.Errorf("%w: %q", ErrUnknownScope, string(v))
		}
	}
	return nil
}
