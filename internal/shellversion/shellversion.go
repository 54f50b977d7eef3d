// Package shellversion matches the shell versions declared by
// an extension in the "shell-version" key of its manifest.
//
// An entry with two components, like "3.2", is compatible with
// every release of the stable series (3.2, 3.2.1, ...). An entry
// with three components only matches that exact release. Single
// numbers, like "40", match the whole major series.
package shellversion

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Key is the key of the manifest listing the supported shell versions.
const Key = "shell-version"

// Constraint is a parsed entry of the shell-version list.
type Constraint struct {
	raw string
	c   *semver.Constraints
}

func (c Constraint) String() string { return c.raw }

// Parse parses a single entry of the shell-version list.
func Parse(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Constraint{}, fmt.Errorf("empty shell version")
	}
	if _, err := semver.NewVersion(s); err != nil {
		return Constraint{}, fmt.Errorf("invalid shell version %q: %w", s, err)
	}

	var expr string
	switch strings.Count(s, ".") {
	case 0, 1:
		expr = "~" + s
	default:
		expr = "=" + s
	}
	c, err := semver.NewConstraint(expr)
	if err != nil {
		return Constraint{}, fmt.Errorf("invalid shell version %q: %w", s, err)
	}
	return Constraint{raw: s, c: c}, nil
}

// Matches returns true if the release v satisfies the constraint.
func (c Constraint) Matches(v string) bool {
	if c.c == nil {
		return false
	}
	ver, err := semver.NewVersion(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	return c.c.Check(ver)
}

// FromExtra returns the shell versions declared in the extra
// fields of a version. Entries that cannot be parsed are skipped.
func FromExtra(extra map[string]any) []Constraint {
	list, ok := extra[Key].([]any)
	if !ok {
		return nil
	}
	cs := make([]Constraint, 0, len(list))
	for _, e := range list {
		s, ok := e.(string)
		if !ok {
			continue
		}
		c, err := Parse(s)
		if err != nil {
			continue
		}
		cs = append(cs, c)
	}
	return cs
}

// Supports returns true if at least one of the constraints
// matches the release v.
func Supports(cs []Constraint, v string) bool {
	for _, c := range cs {
		if c.Matches(v) {
			return true
		}
	}
	return false
}
