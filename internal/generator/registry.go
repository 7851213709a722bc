package generator

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// Factory builds one generator for a resource.
type Factory func(env Env, res *resource.Resource) (Generator, error)

var (
	factoryMu sync.RWMutex
	factories = map[resource.GeneratorKind]Factory{}
)

// RegisterFactory binds a factory to its (kind, driver) pair. Drivers
// register through an explicit RegisterAll call early in startup; a
// duplicate pair panics.
func RegisterFactory(gen resource.GeneratorKind, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := factories[gen]; dup {
		panic(fmt.Sprintf("generator: duplicate factory for %s", gen))
	}
	factories[gen] = f
}

func create(env Env, res *resource.Resource) (Generator, error) {
	factoryMu.RLock()
	f, ok := factories[res.Gen]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("generator: no factory for %s", res.Gen)
	}
	return f(env, res)
}

// Set is the copy-on-write map of live generators: readers grab a
// snapshot lock-free; the reconciler builds a new map and swaps it.
type Set struct {
	p atomic.Pointer[map[resource.ID]Generator]
}

func NewSet() *Set {
	s := &Set{}
	empty := map[resource.ID]Generator{}
	s.p.Store(&empty)
	return s
}

// Snapshot returns the current map. Callers must not mutate it.
func (s *Set) Snapshot() map[resource.ID]Generator {
	return *s.p.Load()
}

// Get looks one generator up in the current snapshot.
func (s *Set) Get(id resource.ID) (Generator, bool) {
	g, ok := s.Snapshot()[id]
	return g, ok
}

func (s *Set) swap(m map[resource.ID]Generator) {
	s.p.Store(&m)
}
