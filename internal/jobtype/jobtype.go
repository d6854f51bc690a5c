// Package jobtype defines the closed set of document processing job types
// and the dependency edges between them.
package jobtype

import "fmt"

// Type identifies one kind of document transformation.
type Type string

const (
	Convert   Type = "convert"
	Tile      Type = "tile"
	Thumbnail Type = "thumbnail"
	OCR       Type = "ocr"
)

// all lists every job type in dispatch order. Convert is always first.
var all = [...]Type{Convert, Tile, Thumbnail, OCR}

// dependsOn holds the blocked_by edges of the per-document job graph.
var dependsOn = map[Type][]Type{
	Convert:   nil,
	Tile:      {Convert},
	Thumbnail: {Convert},
	OCR:       {Convert},
}

// All returns every job type in dispatch order.
func All() []Type {
	out := make([]Type, len(all))
	copy(out, all[:])
	return out
}

// Strings returns every job type as a plain string, in dispatch order.
func Strings() []string {
	out := make([]string, len(all))
	for i, t := range all {
		out[i] = string(t)
	}
	return out
}

// Parse converts s into a Type, rejecting anything outside the closed set.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("jobtype: unknown job type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known job types.
func (t Type) Valid() bool {
	_, ok := dependsOn[t]
	return ok
}

func (t Type) String() string { return string(t) }

// Dependencies returns the job types that must complete before t may run.
func Dependencies(t Type) []Type {
	deps := dependsOn[t]
	out := make([]Type, len(deps))
	copy(out, deps)
	return out
}

// Dependents returns the job types that wait on t, in dispatch order.
func Dependents(t Type) []Type {
	var out []Type
	for _, candidate := range all {
		for _, dep := range dependsOn[candidate] {
			if dep == t {
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}

// IsRoot reports whether t has no dependencies.
func IsRoot(t Type) bool {
	return len(dependsOn[t]) == 0
}
