package generator

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// Config drives the resource backend.
type Config struct {
	// Root is the catalogue root (file or directory).
	Root string
	// UpdatePeriod is the catalogue poll period.
	UpdatePeriod time.Duration
	// FreezeTypes lists coarse kinds whose ready resources reject
	// incompatible changes.
	FreezeTypes []string
	// PurgeRemoved deletes prepared artifacts of removed resources.
	PurgeRemoved bool
	// PrepareWorkers sizes the background preparer pool.
	PrepareWorkers int
}

func (c Config) withDefaults() Config {
	if c.UpdatePeriod <= 0 {
		c.UpdatePeriod = 300 * time.Second
	}
	if c.PrepareWorkers <= 0 {
		c.PrepareWorkers = 2
	}
	return c
}

// Manager owns the generator set: it polls the catalogue, reconciles
// changes and feeds new resources to the preparer pool.
type Manager struct {
	cfg    Config
	env    Env
	loader *resource.Loader
	set    *Set
	log    *slog.Logger

	reconcileMu sync.Mutex
	// updateStamp is the completion time (us since epoch) of the last
	// finished reload.
	updateStamp atomic.Uint64

	prepareQueue chan Generator
	trigger      chan struct{}

	stop   context.CancelFunc
	done   sync.WaitGroup
	frozen map[string]bool
}

// NewManager wires the manager; Run starts its loops.
func NewManager(cfg Config, env Env, loader *resource.Loader) *Manager {
	cfg = cfg.withDefaults()
	log := env.Log
	if log == nil {
		log = slog.Default()
	}
	frozen := map[string]bool{}
	for _, kind := range cfg.FreezeTypes {
		frozen[kind] = true
	}
	return &Manager{
		cfg:          cfg,
		env:          env,
		loader:       loader,
		set:          NewSet(),
		log:          log,
		prepareQueue: make(chan Generator, 256),
		trigger:      make(chan struct{}, 1),
		frozen:       frozen,
	}
}

// Set exposes the live generator snapshot map.
func (m *Manager) Set() *Set { return m.set }

// Run starts the preparer pool and the poll loop, performing one
// initial reload before returning.
func (m *Manager) Run(ctx context.Context) error {
	ctx, m.stop = context.WithCancel(ctx)

	for i := 0; i < m.cfg.PrepareWorkers; i++ {
		m.done.Add(1)
		go m.prepareWorker(ctx)
	}

	if err := m.Reconcile(ctx); err != nil {
		m.log.Error("initial resource load failed", "error", err)
	}

	m.done.Add(1)
	go m.pollLoop(ctx)
	return nil
}

// Close stops the loops and waits for them.
func (m *Manager) Close() {
	if m.stop != nil {
		m.stop()
	}
	m.done.Wait()
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.done.Done()
	ticker := time.NewTicker(m.cfg.UpdatePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.trigger:
		}
		if err := m.Reconcile(ctx); err != nil {
			m.log.Error("resource reload failed", "error", err)
		}
	}
}

func (m *Manager) prepareWorker(ctx context.Context) {
	defer m.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case g := <-m.prepareQueue:
			res := g.Resource()
			if err := g.Prepare(ctx); err != nil {
				m.log.Warn("resource preparation failed",
					"resource", res.ID.String(), "error", err)
			} else if g.Ready() {
				m.log.Info("resource ready", "resource", res.ID.String(),
					"revision", res.Revision)
			}
		}
	}
}

func (m *Manager) schedule(g Generator) {
	select {
	case m.prepareQueue <- g:
	default:
		// queue full; the next poll reschedules unprepared resources
		m.log.Warn("preparer queue full", "resource", g.Resource().ID.String())
	}
}

// UpdateResources forces an immediate poll and returns a token;
// UpdatedSince(token) turns true once a reload completes at or after the
// call.
func (m *Manager) UpdateResources() uint64 {
	token := uint64(time.Now().UnixMicro())
	select {
	case m.trigger <- struct{}{}:
	default:
	}
	return token
}

// UpdatedSince reports whether a reload has completed at or after the
// given token.
func (m *Manager) UpdatedSince(token uint64) bool {
	return m.updateStamp.Load() >= token
}

// Reconcile loads the catalogue and applies the diff to the running
// set. Per-resource errors leave the old definition in place; they
// never abort the server.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	wanted, err := m.loader.Load(m.cfg.Root)
	if err != nil {
		return err
	}

	current := m.set.Snapshot()
	next := make(map[resource.ID]Generator, len(wanted))
	var added, changed, removed int

	wantedIDs := map[resource.ID]bool{}
	for _, res := range wanted {
		wantedIDs[res.ID] = true
		cur, exists := current[res.ID]
		if !exists {
			g, err := create(m.env, res)
			if err != nil {
				m.log.Warn("resource rejected", "resource", res.ID.String(), "error", err)
				continue
			}
			next[res.ID] = g
			m.schedule(g)
			added++
			continue
		}

		old := cur.Resource()
		switch change := res.Changed(old); change {
		case resource.ChangeNone:
			next[res.ID] = cur
			if cur.State() == StateNotReady {
				m.schedule(cur)
			}

		case resource.ChangeSafe:
			res.Revision = old.Revision
			cur.Update(res)
			next[res.ID] = cur
			if cur.State() == StateNotReady {
				m.schedule(cur)
			}

		case resource.ChangeRevisionBump, resource.ChangeIncompatible:
			if change == resource.ChangeIncompatible && m.frozen[res.Gen.Kind] && cur.Ready() {
				m.log.Warn("change to frozen resource rejected",
					"resource", res.ID.String(), "change", change.String())
				next[res.ID] = cur
				continue
			}
			res.Revision = old.Revision
			if change == resource.ChangeRevisionBump {
				res.Revision = old.Revision + 1
			}
			g, err := create(m.env, res)
			if err != nil {
				m.log.Warn("resource update rejected",
					"resource", res.ID.String(), "error", err)
				next[res.ID] = cur
				continue
			}
			next[res.ID] = g
			m.schedule(g)
			changed++
		}
	}

	for id, g := range current {
		if wantedIDs[id] {
			continue
		}
		removed++
		if m.cfg.PurgeRemoved {
			dir := m.env.ResourceDir(id, g.Resource().Gen.Kind)
			if err := os.RemoveAll(dir); err != nil {
				m.log.Warn("purge failed", "resource", id.String(), "error", err)
			}
		}
	}

	m.set.swap(next)
	m.updateStamp.Store(uint64(time.Now().UnixMicro()))
	if added+changed+removed > 0 {
		m.log.Info("resources reconciled",
			"total", len(next), "added", added, "changed", changed, "removed", removed)
	}
	return nil
}

// Has reports whether a resource exists in the current snapshot.
func (m *Manager) Has(id resource.ID) bool {
	_, ok := m.set.Get(id)
	return ok
}

// IsReady reports whether a resource exists and is ready.
func (m *Manager) IsReady(id resource.ID) bool {
	g, ok := m.set.Get(id)
	return ok && g.Ready()
}

// URL composes the externally visible resource URL.
func (m *Manager) URL(id resource.ID) (string, bool) {
	if _, ok := m.set.Get(id); !ok {
		return "", false
	}
	return m.env.ResourceURL(id), true
}
