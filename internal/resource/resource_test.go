package resource

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
)

// testDef is a minimal driver definition for loader and diff tests.
type testDef struct {
	Dataset    string `json:"dataset"`
	Processing string `json:"processing,omitempty"`
	Tuning     string `json:"tuning,omitempty"`

	needsRanges   bool
	frozenCredits bool
}

func (d *testDef) Validate() error {
	if d.Dataset == "" {
		return assert.AnError
	}
	return nil
}

func (d *testDef) NeedsRanges() bool   { return d.needsRanges }
func (d *testDef) FrozenCredits() bool { return d.frozenCredits }

func (d *testDef) Diff(old Definition) Change {
	o, ok := old.(*testDef)
	if !ok || d.Dataset != o.Dataset {
		return ChangeIncompatible
	}
	if d.Processing != o.Processing {
		return ChangeRevisionBump
	}
	if d.Tuning != o.Tuning {
		return ChangeSafe
	}
	return ChangeNone
}

var testGen = GeneratorKind{Kind: "tms", Driver: "tms-test"}

func init() {
	RegisterDefinition(testGen, func(raw json.RawMessage) (Definition, error) {
		d := &testDef{needsRanges: true}
		if err := json.Unmarshal(raw, d); err != nil {
			return nil, err
		}
		return d, nil
	})
	RegisterDefinition(GeneratorKind{Kind: "geodata", Driver: "geodata-test"},
		func(raw json.RawMessage) (Definition, error) {
			d := &testDef{}
			if err := json.Unmarshal(raw, d); err != nil {
				return nil, err
			}
			return d, nil
		})
}

func testResource(id string, def *testDef) *Resource {
	return &Resource{
		ID:         ID{ReferenceFrame: "webmerc", Group: "g", Id: id},
		Gen:        testGen,
		LodRange:   frame.LodRange{Min: 5, Max: 18},
		TileRange:  frame.TileRange{LL: [2]int{0, 0}, UR: [2]int{30, 30}},
		Credits:    []Credit{{StringID: "src", NumericID: 10}},
		Definition: def,
	}
}

func TestIDOrdering(t *testing.T) {
	a := ID{ReferenceFrame: "a", Group: "g", Id: "x"}
	b := ID{ReferenceFrame: "b", Group: "a", Id: "a"}
	c := ID{ReferenceFrame: "b", Group: "a", Id: "b"}
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(b))
	assert.Equal(t, "g-x", a.FullID())
}

func TestChangedClassification(t *testing.T) {
	base := func() *Resource { return testResource("a", &testDef{Dataset: "/d.tif", needsRanges: true}) }

	t.Run("identical is no change", func(t *testing.T) {
		assert.Equal(t, ChangeNone, base().Changed(base()))
	})

	t.Run("different generator is incompatible", func(t *testing.T) {
		r := base()
		r.Gen = GeneratorKind{Kind: "tms", Driver: "tms-other"}
		assert.Equal(t, ChangeIncompatible, r.Changed(base()))
	})

	t.Run("range change is incompatible when ranges are needed", func(t *testing.T) {
		r := base()
		r.LodRange = frame.LodRange{Min: 4, Max: 18}
		assert.Equal(t, ChangeIncompatible, r.Changed(base()))
	})

	t.Run("range change is invisible without needsRanges", func(t *testing.T) {
		r := testResource("a", &testDef{Dataset: "/d.tif"})
		o := testResource("a", &testDef{Dataset: "/d.tif"})
		r.LodRange = frame.LodRange{Min: 4, Max: 18}
		assert.Equal(t, ChangeNone, r.Changed(o))
	})

	t.Run("credit change is safe by default", func(t *testing.T) {
		r := base()
		r.Credits = []Credit{{StringID: "other", NumericID: 11}}
		assert.Equal(t, ChangeSafe, r.Changed(base()))
	})

	t.Run("credit change with frozen credits is incompatible", func(t *testing.T) {
		r := testResource("a", &testDef{Dataset: "/d.tif", needsRanges: true, frozenCredits: true})
		o := testResource("a", &testDef{Dataset: "/d.tif", needsRanges: true, frozenCredits: true})
		r.Credits = nil
		assert.Equal(t, ChangeIncompatible, r.Changed(o))
	})

	t.Run("definition revision bump wins over safe", func(t *testing.T) {
		r := base()
		r.Comment = "new comment"
		r.Definition = &testDef{Dataset: "/d.tif", Processing: "slope", needsRanges: true}
		assert.Equal(t, ChangeRevisionBump, r.Changed(base()))
	})

	t.Run("definition incompatible wins over everything", func(t *testing.T) {
		r := base()
		r.Definition = &testDef{Dataset: "/other.tif", needsRanges: true}
		assert.Equal(t, ChangeIncompatible, r.Changed(base()))
	})

	t.Run("definition safe tuning", func(t *testing.T) {
		r := base()
		r.Definition = &testDef{Dataset: "/d.tif", Tuning: "x", needsRanges: true}
		assert.Equal(t, ChangeSafe, r.Changed(base()))
	})
}

func TestFileClassSettings(t *testing.T) {
	s := FileClassSettings{ClassData: 600}
	assert.Equal(t, 600, s.MaxAge(ClassData))
	assert.Equal(t, 60, s.MaxAge(ClassConfig))
	assert.Equal(t, -1, s.MaxAge(ClassUnknown))
	var empty FileClassSettings
	assert.Equal(t, 604800, empty.MaxAge(ClassData))
}
