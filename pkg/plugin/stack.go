package plugin

import (
	"sync"

	"github.com/dpmgo/dpmgo/pkg/authn"
	"github.com/dpmgo/dpmgo/pkg/catalog"
	"github.com/dpmgo/dpmgo/pkg/iodriver"
	"github.com/dpmgo/dpmgo/pkg/pool"
	"github.com/dpmgo/dpmgo/pkg/security"
	"github.com/dpmgo/dpmgo/pkg/status"
)

// Bases are the bottom-of-the-chain implementations a StackInstance
// wraps with whatever decorating factories were loaded; a process
// builds one Bases and hands it to every StackInstance it creates.
type Bases struct {
	Authn       authn.Store
	Catalog     *catalog.Catalog
	PoolManager *pool.Manager
	IODriver    *iodriver.Driver
}

// StackInstance is a per-request container owning at most one live
// Authn, Catalog, PoolManager and IODriver, lazily constructed by
// walking the manager's factory chains (§4.1). It is not safe for
// concurrent use — one stack per in-flight request, drawing on shared
// backing resources (connection pool, metadata cache) underneath.
type StackInstance struct {
	mgr   *Manager
	bases Bases
	ctx   security.Context

	mu         sync.Mutex
	authnS     authn.Store
	catalogS   *catalog.Catalog
	poolS      *pool.Manager
	ioS        *iodriver.Driver
	authnBuilt bool
	catBuilt   bool
	poolBuilt  bool
	ioBuilt    bool
}

// NewStackInstance binds a stack to a manager's loaded plugin chains
// and a base (undecorated) implementation of each component.
func NewStackInstance(mgr *Manager, bases Bases) *StackInstance {
	return &StackInstance{mgr: mgr, bases: bases}
}

// SetSecurityContext stores ctx on the stack, where SecurityContext
// returns it. It does not push ctx into components that were already
// built or into ones built later.
func (s *StackInstance) SetSecurityContext(ctx security.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
}

func (s *StackInstance) SecurityContext() security.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Authn lazily builds the decorated Authn store, walking the loaded
// KindAuthn factory chain outward from the base implementation.
func (s *StackInstance) Authn() authn.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authnBuilt {
		return s.authnS
	}
	store := s.bases.Authn
	for _, f := range s.mgr.Chain(KindAuthn) {
		if f.NewAuthn != nil {
			store = f.NewAuthn(store)
		}
	}
	s.authnS = store
	s.authnBuilt = true
	return store
}

// Catalog lazily builds the decorated Catalog.
func (s *StackInstance) Catalog() *catalog.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catBuilt {
		return s.catalogS
	}
	cat := s.bases.Catalog
	for _, f := range s.mgr.Chain(KindCatalog) {
		if f.NewCatalog != nil {
			cat = f.NewCatalog(cat)
		}
	}
	s.catalogS = cat
	s.catBuilt = true
	return cat
}

// PoolManager lazily builds the decorated pool manager.
func (s *StackInstance) PoolManager() *pool.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poolBuilt {
		return s.poolS
	}
	mgr := s.bases.PoolManager
	for _, f := range s.mgr.Chain(KindPoolManager) {
		if f.NewPoolManager != nil {
			mgr = f.NewPoolManager(mgr)
		}
	}
	s.poolS = mgr
	s.poolBuilt = true
	return mgr
}

// IODriver lazily builds the decorated I/O driver.
func (s *StackInstance) IODriver() *iodriver.Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ioBuilt {
		return s.ioS
	}
	d := s.bases.IODriver
	for _, f := range s.mgr.Chain(KindIODriver) {
		if f.NewIODriver != nil {
			d = f.NewIODriver(d)
		}
	}
	s.ioS = d
	s.ioBuilt = true
	return d
}

// PoolDriver resolves the single registered driver for poolType,
// erroring if no PoolDriver factory accepted it (§4.1: keyed by
// pool-type string, not decorated).
func (s *StackInstance) PoolDriver(poolType string) (pool.Driver, error) {
	factory, err := s.mgr.PoolDriverFactory(poolType)
	if err != nil {
		return nil, status.Wrap(err, status.UnknownPoolType, "pool driver for "+poolType)
	}
	return factory(poolType), nil
}
