package resource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testLoader() *Loader {
	return &Loader{
		SystemRegistry: Registry{Credits: map[string]Credit{
			"src": {StringID: "src", NumericID: 10},
		}},
	}
}

const resourceA = `{
  "group": "g", "id": "a", "type": "tms", "driver": "tms-test",
  "credits": ["src"],
  "referenceFrames": {"webmerc": {"lodRange": [5, 18], "tileRange": [[0, 0], [30, 30]]}},
  "definition": {"dataset": "/data/a.tif"}
}`

const resourceB = `{
  "group": "g", "id": "b", "type": "tms", "driver": "tms-test",
  "referenceFrames": {"webmerc": {"lodRange": [3, 10], "tileRange": [[0, 0], [7, 7]]}},
  "definition": {"dataset": "/data/b.tif"}
}`

func TestLoadSingleResource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), resourceA)

	res, err := testLoader().Load(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	require.Len(t, res, 1)

	r := res[0]
	assert.Equal(t, ID{ReferenceFrame: "webmerc", Group: "g", Id: "a"}, r.ID)
	assert.Equal(t, "g-a", r.ID.FullID())
	assert.Equal(t, 5, r.LodRange.Min)
	assert.Equal(t, 18, r.LodRange.Max)
	assert.Equal(t, [2]int{30, 30}, r.TileRange.UR)
	require.Len(t, r.Credits, 1)
	assert.Equal(t, 10, r.Credits[0].NumericID)
}

func TestLoadIncludeGlob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "resources.json"), `{"include": "defs/*.json"}`)
	writeFile(t, filepath.Join(dir, "defs", "a.json"), resourceA)
	writeFile(t, filepath.Join(dir, "defs", "b.json"), resourceB)

	res, err := testLoader().Load(filepath.Join(dir, "resources.json"))
	require.NoError(t, err)
	require.Len(t, res, 2)

	ids := map[string]bool{}
	for _, r := range res {
		ids[r.ID.Id] = true
	}
	assert.True(t, ids["a"])
	assert.True(t, ids["b"])
	assert.False(t, ids["c"])
}

func TestLoadIncludeCycleTerminates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one.json"), `{"include": "two.json"}`)
	writeFile(t, filepath.Join(dir, "two.json"), `{"include": "one.json"}`)

	res, err := testLoader().Load(filepath.Join(dir, "one.json"))
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestLoadArrayFansOutPerFrame(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "multi.json"), `[{
	  "group": "g", "id": "vec", "type": "geodata", "driver": "geodata-test",
	  "referenceFrames": ["webmerc", "geodetic"],
	  "definition": {"dataset": "/data/vec.json"}
	}]`)

	res, err := testLoader().Load(filepath.Join(dir, "multi.json"))
	require.NoError(t, err)
	require.Len(t, res, 2)
	frames := []string{res[0].ID.ReferenceFrame, res[1].ID.ReferenceFrame}
	assert.ElementsMatch(t, []string{"webmerc", "geodetic"}, frames)
}

func TestLoadRangeFormMismatch(t *testing.T) {
	dir := t.TempDir()
	// tms-test needs ranges but gets the array form
	writeFile(t, filepath.Join(dir, "bad.json"), `{
	  "group": "g", "id": "a", "type": "tms", "driver": "tms-test",
	  "referenceFrames": ["webmerc"],
	  "definition": {"dataset": "/data/a.tif"}
	}`)

	_, err := testLoader().Load(filepath.Join(dir, "bad.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires lod and tile ranges")
}

func TestLoadDuplicateResource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "resources.json"), `{"include": "*.defs.json"}`)
	writeFile(t, filepath.Join(dir, "one.defs.json"), resourceA)
	writeFile(t, filepath.Join(dir, "two.defs.json"), resourceA)

	_, err := testLoader().Load(filepath.Join(dir, "resources.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate resource")
}

func TestLoadUnknownCredit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.json"), `{
	  "group": "g", "id": "a", "type": "tms", "driver": "tms-test",
	  "credits": ["nobody"],
	  "referenceFrames": {"webmerc": {"lodRange": [5, 18], "tileRange": [[0, 0], [30, 30]]}},
	  "definition": {"dataset": "/data/a.tif"}
	}`)

	_, err := testLoader().Load(filepath.Join(dir, "bad.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown credit "nobody"`)
}

func TestLoadInlineRegistryWinsOverSystem(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), `{
	  "group": "g", "id": "a", "type": "tms", "driver": "tms-test",
	  "credits": ["src"],
	  "registry": {"credits": {"src": {"id": "src", "numericId": 99}}},
	  "referenceFrames": {"webmerc": {"lodRange": [5, 18], "tileRange": [[0, 0], [30, 30]]}},
	  "definition": {"dataset": "/data/a.tif"}
	}`)

	res, err := testLoader().Load(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 99, res[0].Credits[0].NumericID)
}

func TestLoadMissingMandatoryFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.json"), `{"group": "g", "id": "a"}`)
	_, err := testLoader().Load(filepath.Join(dir, "bad.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mandatory")
}

func TestLoadUnknownReferenceFrame(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.json"), `{
	  "group": "g", "id": "a", "type": "tms", "driver": "tms-test",
	  "referenceFrames": {"mars2020": {"lodRange": [5, 18], "tileRange": [[0, 0], [30, 30]]}},
	  "definition": {"dataset": "/data/a.tif"}
	}`)
	_, err := testLoader().Load(filepath.Join(dir, "bad.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown reference frame")
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), resourceA)
	writeFile(t, filepath.Join(dir, "b.json"), resourceB)

	res, err := testLoader().Load(dir)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}
