// Package resource models the catalogue: resource identity, per-revision
// records, definition diffing and the loader that turns catalogue files
// into runtime resources.
package resource

import (
	"strings"

	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
)

// ID identifies one resource within one reference frame. Globally
// unique; ordered lexicographically.
type ID struct {
	ReferenceFrame string
	Group          string
	Id             string
}

// FullID is the externally visible name.
func (i ID) FullID() string { return i.Group + "-" + i.Id }

func (i ID) String() string {
	return i.ReferenceFrame + "/" + i.Group + "/" + i.Id
}

// Less orders ids lexicographically by (referenceFrame, group, id).
func (i ID) Less(o ID) bool {
	if c := strings.Compare(i.ReferenceFrame, o.ReferenceFrame); c != 0 {
		return c < 0
	}
	if c := strings.Compare(i.Group, o.Group); c != 0 {
		return c < 0
	}
	return i.Id < o.Id
}

// GeneratorKind selects a producer: the coarse kind plus the free-text
// driver tag. The pair maps to exactly one registered factory.
type GeneratorKind struct {
	Kind   string `json:"type"`
	Driver string `json:"driver"`
}

func (g GeneratorKind) String() string { return g.Kind + "/" + g.Driver }

// Known coarse kinds.
const (
	KindTms     = "tms"
	KindSurface = "surface"
	KindGeodata = "geodata"
)

// Credit attributes tile content to its source.
type Credit struct {
	StringID  string `json:"id"`
	NumericID int    `json:"numericId"`
}

// FileClass buckets served artifacts for cache-control purposes.
type FileClass string

const (
	ClassConfig   FileClass = "config"
	ClassSupport  FileClass = "support"
	ClassRegistry FileClass = "registry"
	ClassData     FileClass = "data"
	ClassUnknown  FileClass = "unknown"
)

// FileClassSettings maps file classes to max-age seconds.
type FileClassSettings map[FileClass]int

// MaxAge returns the configured max-age for a class, falling back to
// the built-in defaults.
func (s FileClassSettings) MaxAge(class FileClass) int {
	if s != nil {
		if v, ok := s[class]; ok {
			return v
		}
	}
	switch class {
	case ClassConfig:
		return 60
	case ClassSupport:
		return 3600
	case ClassRegistry:
		return 3600
	case ClassData:
		return 604800
	}
	return -1
}

// Registry carries inline overrides for the shared projection / credit
// registry.
type Registry struct {
	Credits map[string]Credit `json:"credits,omitempty"`
}

// Resource is one immutable per-revision catalogue record.
type Resource struct {
	ID  ID
	Gen GeneratorKind

	// Revision is monotonically non-decreasing; bumped automatically on
	// a revision-bump diff.
	Revision uint32

	// LodRange and TileRange bound the resource in reference-frame
	// coordinates; empty when the driver needs no ranges.
	LodRange  frame.LodRange
	TileRange frame.TileRange

	Credits           []Credit
	Registry          Registry
	FileClassSettings FileClassSettings
	Comment           string

	Definition Definition
}

// Change classifies a catalogue diff for one resource.
type Change int

const (
	// ChangeNone: nothing observable changed.
	ChangeNone Change = iota
	// ChangeSafe: only items that do not affect generated bytes
	// changed; swap the definition atomically.
	ChangeSafe
	// ChangeRevisionBump: cached output is invalid but the resource
	// stays compatible; revision increments.
	ChangeRevisionBump
	// ChangeIncompatible: replace and re-prepare.
	ChangeIncompatible
)

func (c Change) String() string {
	switch c {
	case ChangeNone:
		return "no"
	case ChangeSafe:
		return "safe"
	case ChangeRevisionBump:
		return "revision-bump"
	}
	return "yes"
}

// merge keeps the most severe of two changes.
func (c Change) merge(o Change) Change {
	if o > c {
		return o
	}
	return c
}

func creditsEqual(a, b []Credit) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Changed diffs the receiver (the new record) against the running one.
func (r *Resource) Changed(old *Resource) Change {
	if r.ID != old.ID || r.Gen != old.Gen {
		return ChangeIncompatible
	}

	change := ChangeNone
	if r.Definition.NeedsRanges() {
		if r.LodRange != old.LodRange || r.TileRange != old.TileRange {
			return ChangeIncompatible
		}
	}
	if !creditsEqual(r.Credits, old.Credits) {
		if r.Definition.FrozenCredits() {
			return ChangeIncompatible
		}
		change = change.merge(ChangeSafe)
	}
	if r.Comment != old.Comment {
		change = change.merge(ChangeSafe)
	}
	if !registriesEqual(r.Registry, old.Registry) {
		change = change.merge(ChangeSafe)
	}
	return change.merge(r.Definition.Diff(old.Definition))
}

func registriesEqual(a, b Registry) bool {
	if len(a.Credits) != len(b.Credits) {
		return false
	}
	for k, v := range a.Credits {
		if b.Credits[k] != v {
			return false
		}
	}
	return true
}
