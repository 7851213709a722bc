package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// fakeDef is the definition of the test driver.
type fakeDef struct {
	Dataset    string `json:"dataset"`
	Processing string `json:"processing,omitempty"`
}

func (d *fakeDef) Validate() error {
	if d.Dataset == "" {
		return errors.New("dataset is mandatory")
	}
	return nil
}
func (d *fakeDef) NeedsRanges() bool   { return true }
func (d *fakeDef) FrozenCredits() bool { return false }
func (d *fakeDef) Diff(old resource.Definition) resource.Change {
	o, ok := old.(*fakeDef)
	if !ok || d.Dataset != o.Dataset {
		return resource.ChangeIncompatible
	}
	if d.Processing != o.Processing {
		return resource.ChangeRevisionBump
	}
	return resource.ChangeNone
}

// fakeGenerator counts preparations and can fail on demand.
type fakeGenerator struct {
	Base
	mu       sync.Mutex
	prepared int
	failWith error
}

func (g *fakeGenerator) Prepare(ctx context.Context) error {
	return g.RunPrepare(ctx, func(context.Context) error {
		g.mu.Lock()
		g.prepared++
		fail := g.failWith
		g.mu.Unlock()
		return fail
	})
}

func (g *fakeGenerator) Generate(context.Context, *Request) (*Tile, error) {
	if err := g.CheckReady(); err != nil {
		return nil, err
	}
	return &Tile{Bytes: []byte("tile"), ContentType: "image/png", FileClass: resource.ClassData}, nil
}

func (g *fakeGenerator) timesPrepared() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prepared
}

var fakeGen = resource.GeneratorKind{Kind: "surface", Driver: "surface-fake"}

func init() {
	resource.RegisterDefinition(fakeGen, func(raw json.RawMessage) (resource.Definition, error) {
		d := &fakeDef{}
		if err := json.Unmarshal(raw, d); err != nil {
			return nil, err
		}
		return d, nil
	})
	RegisterFactory(fakeGen, func(env Env, res *resource.Resource) (Generator, error) {
		g := &fakeGenerator{}
		g.Base = NewBase(env, res, 0)
		return g, nil
	})
}

func TestBaseLifecycle(t *testing.T) {
	res := &resource.Resource{
		ID:         resource.ID{ReferenceFrame: "webmerc", Group: "g", Id: "a"},
		Gen:        fakeGen,
		Definition: &fakeDef{Dataset: "/d.tif"},
	}
	g := &fakeGenerator{}
	g.Base = NewBase(Env{}, res, 3)

	assert.Equal(t, StateNotReady, g.State())
	_, err := g.Generate(context.Background(), &Request{})
	require.Error(t, err)

	require.NoError(t, g.Prepare(context.Background()))
	assert.Equal(t, StateReady, g.State())
	assert.True(t, g.Ready())

	// preparing a ready resource is a no-op
	require.NoError(t, g.Prepare(context.Background()))
	assert.Equal(t, 1, g.timesPrepared())

	tile, err := g.Generate(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "image/png", tile.ContentType)

	assert.Equal(t, "?gr=3&r=0", g.TileURLQuery())
}

func TestBaseFailure(t *testing.T) {
	g := &fakeGenerator{failWith: errors.New("dem missing")}
	g.Base = NewBase(Env{}, &resource.Resource{Definition: &fakeDef{Dataset: "x"}}, 0)

	require.Error(t, g.Prepare(context.Background()))
	assert.Equal(t, StateFailed, g.State())
	assert.ErrorContains(t, g.Failure(), "dem missing")

	// a failed resource may be re-prepared
	g.mu.Lock()
	g.failWith = nil
	g.mu.Unlock()
	require.NoError(t, g.Prepare(context.Background()))
	assert.True(t, g.Ready())
}

func TestConcurrentPrepareCollapses(t *testing.T) {
	g := &fakeGenerator{}
	g.Base = NewBase(Env{}, &resource.Resource{Definition: &fakeDef{Dataset: "x"}}, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Prepare(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, g.timesPrepared())
}

func TestSetSnapshotIsolation(t *testing.T) {
	s := NewSet()
	snap := s.Snapshot()
	assert.Empty(t, snap)

	id := resource.ID{ReferenceFrame: "webmerc", Group: "g", Id: "a"}
	g := &fakeGenerator{}
	g.Base = NewBase(Env{}, &resource.Resource{ID: id, Definition: &fakeDef{Dataset: "x"}}, 0)
	s.swap(map[resource.ID]Generator{id: g})

	// the old snapshot is untouched, the new one sees the generator
	assert.Empty(t, snap)
	got, ok := s.Get(id)
	assert.True(t, ok)
	assert.Same(t, g, got)
}

// --- manager tests over a real temp catalogue ---

func catalogueEntry(id, dataset, processing string) string {
	def := fmt.Sprintf(`{"dataset": %q`, dataset)
	if processing != "" {
		def += fmt.Sprintf(`, "processing": %q`, processing)
	}
	def += "}"
	return fmt.Sprintf(`{
	  "group": "g", "id": %q, "type": "surface", "driver": "surface-fake",
	  "referenceFrames": {"webmerc": {"lodRange": [5, 10], "tileRange": [[0, 0], [10, 10]]}},
	  "definition": %s
	}`, id, def)
}

func newTestManager(t *testing.T, catalogue string, cfg Config) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "resources.json")
	require.NoError(t, os.WriteFile(root, []byte(catalogue), 0o644))
	cfg.Root = root
	cfg.PrepareWorkers = 1
	m := NewManager(cfg, Env{StoreRoot: filepath.Join(dir, "store"), ExternalURL: "http://tiles.test"}, &resource.Loader{})
	return m, root
}

func waitReady(t *testing.T, m *Manager, id resource.ID) {
	t.Helper()
	require.Eventually(t, func() bool { return m.IsReady(id) }, 2*time.Second, 5*time.Millisecond)
}

func TestManagerLoadAndPrepare(t *testing.T) {
	m, _ := newTestManager(t, catalogueEntry("a", "/d.tif", ""), Config{UpdatePeriod: time.Hour})
	require.NoError(t, m.Run(context.Background()))
	defer m.Close()

	id := resource.ID{ReferenceFrame: "webmerc", Group: "g", Id: "a"}
	assert.True(t, m.Has(id))
	assert.False(t, m.Has(resource.ID{ReferenceFrame: "webmerc", Group: "g", Id: "c"}))
	waitReady(t, m, id)

	url, ok := m.URL(id)
	require.True(t, ok)
	assert.Equal(t, "http://tiles.test/webmerc/g-a/", url)
}

func TestManagerRevisionBump(t *testing.T) {
	m, root := newTestManager(t, catalogueEntry("a", "/d.tif", "hillshade"), Config{UpdatePeriod: time.Hour})
	require.NoError(t, m.Run(context.Background()))
	defer m.Close()

	id := resource.ID{ReferenceFrame: "webmerc", Group: "g", Id: "a"}
	waitReady(t, m, id)
	g, _ := m.Set().Get(id)
	assert.Equal(t, uint32(0), g.Resource().Revision)

	// processing change is a revision bump
	require.NoError(t, os.WriteFile(root, []byte(catalogueEntry("a", "/d.tif", "slope")), 0o644))
	require.NoError(t, m.Reconcile(context.Background()))

	g2, ok := m.Set().Get(id)
	require.True(t, ok)
	assert.Equal(t, uint32(1), g2.Resource().Revision)
	waitReady(t, m, id)
}

func TestManagerSafeChangeKeepsGenerator(t *testing.T) {
	m, root := newTestManager(t, catalogueEntry("a", "/d.tif", ""), Config{UpdatePeriod: time.Hour})
	require.NoError(t, m.Run(context.Background()))
	defer m.Close()

	id := resource.ID{ReferenceFrame: "webmerc", Group: "g", Id: "a"}
	waitReady(t, m, id)
	before, _ := m.Set().Get(id)

	// a comment tweak is a safe change: same generator, same revision,
	// no re-preparation
	updated := `{
	  "group": "g", "id": "a", "type": "surface", "driver": "surface-fake",
	  "comment": "touched",
	  "referenceFrames": {"webmerc": {"lodRange": [5, 10], "tileRange": [[0, 0], [10, 10]]}},
	  "definition": {"dataset": "/d.tif"}
	}`
	require.NoError(t, os.WriteFile(root, []byte(updated), 0o644))
	require.NoError(t, m.Reconcile(context.Background()))

	after, ok := m.Set().Get(id)
	require.True(t, ok)
	assert.Same(t, before, after)
	assert.Equal(t, "touched", after.Resource().Comment)
	assert.Equal(t, 1, after.(*fakeGenerator).timesPrepared())
}

func TestManagerFreezePolicy(t *testing.T) {
	m, root := newTestManager(t, catalogueEntry("a", "/d.tif", ""),
		Config{UpdatePeriod: time.Hour, FreezeTypes: []string{"surface"}})
	require.NoError(t, m.Run(context.Background()))
	defer m.Close()

	id := resource.ID{ReferenceFrame: "webmerc", Group: "g", Id: "a"}
	waitReady(t, m, id)
	before, _ := m.Set().Get(id)

	// an incompatible change to a ready frozen-type resource is
	// rejected; the old version keeps serving
	require.NoError(t, os.WriteFile(root, []byte(catalogueEntry("a", "/other.tif", "")), 0o644))
	token := m.UpdateResources()
	require.NoError(t, m.Reconcile(context.Background()))

	after, ok := m.Set().Get(id)
	require.True(t, ok)
	assert.Same(t, before, after)
	assert.Equal(t, "/d.tif", after.Resource().Definition.(*fakeDef).Dataset)

	// the reload itself still completed
	assert.True(t, m.UpdatedSince(token))
}

func TestManagerRemove(t *testing.T) {
	catalogue := "[" + catalogueEntry("a", "/d.tif", "") + "," + catalogueEntry("b", "/e.tif", "") + "]"
	m, root := newTestManager(t, catalogue, Config{UpdatePeriod: time.Hour})
	require.NoError(t, m.Run(context.Background()))
	defer m.Close()

	idA := resource.ID{ReferenceFrame: "webmerc", Group: "g", Id: "a"}
	idB := resource.ID{ReferenceFrame: "webmerc", Group: "g", Id: "b"}
	assert.True(t, m.Has(idA))
	assert.True(t, m.Has(idB))

	require.NoError(t, os.WriteFile(root, []byte(catalogueEntry("a", "/d.tif", "")), 0o644))
	require.NoError(t, m.Reconcile(context.Background()))
	assert.True(t, m.Has(idA))
	assert.False(t, m.Has(idB))
}

func TestManagerUpdateTokens(t *testing.T) {
	m, _ := newTestManager(t, catalogueEntry("a", "/d.tif", ""), Config{UpdatePeriod: time.Hour})
	require.NoError(t, m.Run(context.Background()))
	defer m.Close()

	token := m.UpdateResources()
	require.Eventually(t, func() bool { return m.UpdatedSince(token) },
		2*time.Second, 5*time.Millisecond)

	future := uint64(time.Now().Add(time.Hour).UnixMicro())
	assert.False(t, m.UpdatedSince(future))
}
