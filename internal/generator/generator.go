// Package generator holds the registry of tile producers and the
// per-resource lifecycle: catalogue reconciliation, the preparation
// state machine and the background preparer pool.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
	"github.com/cartolinadev/cartolina-tileserver/internal/warper"
)

// State of one resource's generator.
type State int32

const (
	StateNotReady State = iota
	StatePreparing
	StateReady
	StateFailed
	StateFrozen
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "not-ready"
	case StatePreparing:
		return "preparing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateFrozen:
		return "frozen"
	}
	return "unknown"
}

// FileType selects the artifact class of a tile request.
type FileType int

const (
	TileImage FileType = iota
	TileMask
	TileMeta
	TileMesh
	TileNavtile
)

func (f FileType) String() string {
	switch f {
	case TileImage:
		return "image"
	case TileMask:
		return "mask"
	case TileMeta:
		return "meta"
	case TileMesh:
		return "mesh"
	case TileNavtile:
		return "navtile"
	}
	return "unknown"
}

// Request is one tile request after filename parsing.
type Request struct {
	Tile   frame.TileID
	File   FileType
	Format string
	Flavor string
	// Raw disables the empty-tile optimisation: missing imagery
	// renders as a black tile instead of NotFound.
	Raw bool
}

// Tile is a produced artifact.
type Tile struct {
	Bytes       []byte
	ContentType string
	FileClass   resource.FileClass
}

// Generator wraps one resource and produces its tiles.
type Generator interface {
	// Resource returns the current record (immutable per revision).
	Resource() *resource.Resource
	// State returns the lifecycle state.
	State() State
	// Ready is a release/acquire check of State == StateReady.
	Ready() bool
	// Prepare drives preparation to ready or failed. Idempotent:
	// preparing a ready resource is a no-op.
	Prepare(ctx context.Context) error
	// Generate produces one tile; valid only in ready state.
	Generate(ctx context.Context, req *Request) (*Tile, error)
	// NeedsResources declares dependencies on other resources.
	NeedsResources() []resource.ID
	// Update swaps the resource record after a safe change.
	Update(res *resource.Resource)
}

// Env is handed to factories at construction; it carries the shared
// collaborators producers need.
type Env struct {
	// StoreRoot is the prepared-state directory.
	StoreRoot string
	// ExternalURL prefixes composed resource URLs.
	ExternalURL string
	// Farm executes blocking GDAL work.
	Farm *warper.Farm
	Log  *slog.Logger
}

// ResourceDir is the on-disk home of one resource's prepared state:
// <root>/<referenceFrame>/<iface>/<group>/<id>.
func (e Env) ResourceDir(id resource.ID, iface string) string {
	return filepath.Join(e.StoreRoot, id.ReferenceFrame, iface, id.Group, id.Id)
}

// ResourceURL composes the externally visible resource root.
func (e Env) ResourceURL(id resource.ID) string {
	return fmt.Sprintf("%s/%s/%s/", e.ExternalURL, id.ReferenceFrame, id.FullID())
}

// Base carries the state machine shared by all drivers; drivers embed
// it and run their preparation through RunPrepare.
type Base struct {
	Res *resource.Resource
	Env Env

	// GenRevision tags URLs with the driver's logic revision (?gr=).
	GenRevision uint32

	state   atomic.Int32
	resMu   sync.RWMutex
	prepMu  sync.Mutex
	failure error
}

// NewBase wires the embedded lifecycle.
func NewBase(env Env, res *resource.Resource, genRevision uint32) Base {
	b := Base{Env: env, GenRevision: genRevision}
	b.Res = res
	return b
}

func (b *Base) Resource() *resource.Resource {
	b.resMu.RLock()
	defer b.resMu.RUnlock()
	return b.Res
}

func (b *Base) Update(res *resource.Resource) {
	b.resMu.Lock()
	defer b.resMu.Unlock()
	b.Res = res
}

func (b *Base) State() State { return State(b.state.Load()) }
func (b *Base) Ready() bool  { return b.State() == StateReady }

// Freeze pins the generator; frozen generators keep serving but reject
// replacement.
func (b *Base) Freeze() { b.state.Store(int32(StateFrozen)) }

// RunPrepare serialises preparation: concurrent calls collapse onto the
// running one, and preparing a ready resource does not re-run fn.
func (b *Base) RunPrepare(ctx context.Context, fn func(context.Context) error) error {
	b.prepMu.Lock()
	defer b.prepMu.Unlock()

	switch b.State() {
	case StateReady, StateFrozen:
		return nil
	default:
	}
	b.state.Store(int32(StatePreparing))

	if err := fn(ctx); err != nil {
		b.failure = err
		b.state.Store(int32(StateFailed))
		return err
	}
	b.state.Store(int32(StateReady))
	return nil
}

// Failure returns the recorded preparation error, if any.
func (b *Base) Failure() error {
	b.prepMu.Lock()
	defer b.prepMu.Unlock()
	return b.failure
}

// CheckReady gates tile generation on the ready state.
func (b *Base) CheckReady() error {
	if !b.Ready() {
		return errs.New(errs.Unavailable, "resource %s is not ready", b.Resource().ID)
	}
	return nil
}

// NeedsResources defaults to no dependencies.
func (b *Base) NeedsResources() []resource.ID { return nil }

// TileURLQuery renders the cache-busting revision query for bound
// layer tile URLs.
func (b *Base) TileURLQuery() string {
	return fmt.Sprintf("?gr=%d&r=%d", b.GenRevision, b.Resource().Revision)
}
