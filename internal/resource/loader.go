package resource

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
)

// Loader parses a catalogue of resource definition files.
type Loader struct {
	// SystemRegistry resolves credits not found in a resource's inline
	// registry.
	SystemRegistry Registry
	Log            *slog.Logger
}

// Load reads the catalogue rooted at path. A directory loads every
// *.json file inside (non-recursive; nested files are reached through
// include directives). Include expansion is recursive; cycles are
// broken by path-set memoisation.
func (l *Loader) Load(path string) ([]*Resource, error) {
	if l.Log == nil {
		l.Log = slog.Default()
	}
	seen := map[string]bool{}
	byID := map[ID]string{}

	st, err := os.Stat(path)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "catalogue: stat %s", path)
	}

	var out []*Resource
	if st.IsDir() {
		entries, err := filepath.Glob(filepath.Join(path, "*.json"))
		if err != nil {
			return nil, errs.Wrap(errs.IOError, err, "catalogue: list %s", path)
		}
		for _, file := range entries {
			res, err := l.loadFile(file, seen, byID)
			if err != nil {
				return nil, err
			}
			out = append(out, res...)
		}
		return out, nil
	}
	return l.loadFile(path, seen, byID)
}

// rawResource is the on-disk shape of one catalogue entry.
type rawResource struct {
	Group   string `json:"group"`
	Id      string `json:"id"`
	Type    string `json:"type"`
	Driver  string `json:"driver"`
	Comment string `json:"comment,omitempty"`

	Credits  []string `json:"credits,omitempty"`
	Registry Registry `json:"registry,omitempty"`

	// ReferenceFrames is either an object keyed by frame name with
	// lod/tile ranges, or a plain array of frame names.
	ReferenceFrames json.RawMessage `json:"referenceFrames"`

	MaxAge     map[string]int  `json:"maxAge,omitempty"`
	Definition json.RawMessage `json:"definition"`
}

type rawRanges struct {
	LodRange  [2]int    `json:"lodRange"`
	TileRange [2][2]int `json:"tileRange"`
}

type includeDirective struct {
	Include string `json:"include"`
}

func (l *Loader) loadFile(path string, seen map[string]bool, byID map[ID]string) ([]*Resource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if seen[abs] {
		return nil, nil
	}
	seen[abs] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "catalogue: read %s", path)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	switch data[0] {
	case '[':
		var raws []rawResource
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, errs.Wrap(errs.FormatError, err, "catalogue: %s", path)
		}
		var out []*Resource
		for i := range raws {
			res, err := l.expand(path, &raws[i], byID)
			if err != nil {
				return nil, err
			}
			out = append(out, res...)
		}
		return out, nil

	case '{':
		var inc includeDirective
		if err := json.Unmarshal(data, &inc); err == nil && inc.Include != "" {
			return l.loadInclude(path, inc.Include, seen, byID)
		}
		var raw rawResource
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errs.Wrap(errs.FormatError, err, "catalogue: %s", path)
		}
		return l.expand(path, &raw, byID)
	}
	return nil, errs.New(errs.FormatError, "catalogue: %s: expected object or array", path)
}

func (l *Loader) loadInclude(fromFile, pattern string, seen map[string]bool, byID map[ID]string) ([]*Resource, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(filepath.Dir(fromFile), pattern)
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errs.Wrap(errs.FormatError, err, "catalogue: %s: bad include %q", fromFile, pattern)
	}
	var out []*Resource
	for _, m := range matches {
		res, err := l.loadFile(m, seen, byID)
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}

// expand validates one raw entry and fans it out into one runtime
// resource per reference frame.
func (l *Loader) expand(file string, raw *rawResource, byID map[ID]string) ([]*Resource, error) {
	if raw.Group == "" || raw.Id == "" || raw.Type == "" || raw.Driver == "" {
		return nil, errs.New(errs.FormatError,
			"catalogue: %s: group, id, type and driver are mandatory", file)
	}
	gen := GeneratorKind{Kind: raw.Type, Driver: raw.Driver}

	def, err := ParseDefinition(gen, raw.Definition)
	if err != nil {
		return nil, errs.Wrap(errs.FormatError, err, "catalogue: %s: resource %s-%s", file, raw.Group, raw.Id)
	}
	if err := def.Validate(); err != nil {
		return nil, errs.Wrap(errs.FormatError, err, "catalogue: %s: resource %s-%s", file, raw.Group, raw.Id)
	}

	frames, err := parseFrames(file, raw, def.NeedsRanges())
	if err != nil {
		return nil, err
	}

	credits, err := l.resolveCredits(file, raw)
	if err != nil {
		return nil, err
	}

	settings := FileClassSettings{}
	for class, age := range raw.MaxAge {
		settings[FileClass(class)] = age
	}

	var out []*Resource
	for _, fr := range frames {
		if _, ok := frame.Get(fr.name); !ok {
			return nil, errs.New(errs.FormatError,
				"catalogue: %s: unknown reference frame %q", file, fr.name)
		}
		id := ID{ReferenceFrame: fr.name, Group: raw.Group, Id: raw.Id}
		if prev, dup := byID[id]; dup {
			return nil, errs.New(errs.FormatError,
				"catalogue: %s: duplicate resource %s (first defined in %s)", file, id, prev)
		}
		byID[id] = file

		out = append(out, &Resource{
			ID:                id,
			Gen:               gen,
			LodRange:          fr.lodRange,
			TileRange:         fr.tileRange,
			Credits:           credits,
			Registry:          raw.Registry,
			FileClassSettings: settings,
			Comment:           raw.Comment,
			Definition:        def,
		})
	}
	return out, nil
}

type frameEntry struct {
	name      string
	lodRange  frame.LodRange
	tileRange frame.TileRange
}

func parseFrames(file string, raw *rawResource, needsRanges bool) ([]frameEntry, error) {
	if len(raw.ReferenceFrames) == 0 {
		return nil, errs.New(errs.FormatError,
			"catalogue: %s: resource %s-%s: referenceFrames is mandatory", file, raw.Group, raw.Id)
	}
	trimmed := bytes.TrimSpace(raw.ReferenceFrames)
	switch trimmed[0] {
	case '{':
		if !needsRanges {
			return nil, errs.New(errs.FormatError,
				"catalogue: %s: resource %s-%s: driver %s takes a plain reference-frame list",
				file, raw.Group, raw.Id, raw.Driver)
		}
		var obj map[string]rawRanges
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, errs.Wrap(errs.FormatError, err, "catalogue: %s", file)
		}
		out := make([]frameEntry, 0, len(obj))
		for name, rr := range obj {
			out = append(out, frameEntry{
				name:     name,
				lodRange: frame.LodRange{Min: rr.LodRange[0], Max: rr.LodRange[1]},
				tileRange: frame.TileRange{
					LL: rr.TileRange[0],
					UR: rr.TileRange[1],
				},
			})
		}
		return out, nil

	case '[':
		if needsRanges {
			return nil, errs.New(errs.FormatError,
				"catalogue: %s: resource %s-%s: driver %s requires lod and tile ranges per reference frame",
				file, raw.Group, raw.Id, raw.Driver)
		}
		var names []string
		if err := json.Unmarshal(trimmed, &names); err != nil {
			return nil, errs.Wrap(errs.FormatError, err, "catalogue: %s", file)
		}
		out := make([]frameEntry, 0, len(names))
		for _, name := range names {
			out = append(out, frameEntry{name: name})
		}
		return out, nil
	}
	return nil, errs.New(errs.FormatError,
		"catalogue: %s: referenceFrames must be an object or an array", file)
}

func (l *Loader) resolveCredits(file string, raw *rawResource) ([]Credit, error) {
	out := make([]Credit, 0, len(raw.Credits))
	for _, id := range raw.Credits {
		if c, ok := raw.Registry.Credits[id]; ok {
			out = append(out, c)
			continue
		}
		if c, ok := l.SystemRegistry.Credits[id]; ok {
			out = append(out, c)
			continue
		}
		return nil, errs.New(errs.FormatError,
			"catalogue: %s: resource %s-%s: unknown credit %q", file, raw.Group, raw.Id, id)
	}
	return out, nil
}
