// Package mdcache implements the metadata cache (§4.7): a bounded,
// TTL-aware cache sitting in front of the inode store, keyed both by
// inode number and by (parent, name), with stat and replica-location
// freshness tracked as two independent state machines per entry — a
// path's stat can be Ok while its locations are still being fetched.
// Concurrent misses for the same key collapse into a single underlying
// store call (scenario S6) via golang.org/x/sync/singleflight. (The pool
// manager's concurrent replica probes use golang.org/x/sync/errgroup
// instead.)
package mdcache

import (
	"container/list"
	"strconv"
	"sync"
	"time"

	"github.com/dpmgo/dpmgo/pkg/inode"
	"github.com/dpmgo/dpmgo/pkg/status"
	"github.com/dpmgo/dpmgo/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var logger = utils.GetLogger("mdcache")

// Status is the per-entry freshness state (§4.7).
type Status int

const (
	NoInfo Status = iota
	InProgress
	Ok
	NotFound
)

func (s Status) String() string {
	switch s {
	case NoInfo:
		return "NoInfo"
	case InProgress:
		return "InProgress"
	case Ok:
		return "Ok"
	case NotFound:
		return "NotFound"
	default:
		return "?"
	}
}

// Config carries the cache's tuning knobs, set from the plug-in
// manager's parsed configuration directives (§6: MemcachedTTL-style
// entries, generalized here to an in-process cache).
type Config struct {
	TTL         time.Duration // how long a positive entry stays fresh
	NegativeTTL time.Duration // how long a NotFound entry is cached
	MaxEntries  int           // LRU capacity shared across stat entries
}

// DefaultConfig mirrors the teacher's conservative defaults for
// similarly-scoped in-process caches.
func DefaultConfig() Config {
	return Config{TTL: 5 * time.Minute, NegativeTTL: 30 * time.Second, MaxEntries: 100000}
}

var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpmgo_mdcache_hits_total",
		Help: "Metadata cache lookups served from cache, by kind (stat/locations).",
	}, []string{"kind"})
	cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpmgo_mdcache_misses_total",
		Help: "Metadata cache lookups that required a store call, by kind.",
	}, []string{"kind"})
	cacheCoalesced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpmgo_mdcache_coalesced_total",
		Help: "Concurrent lookups folded into an in-flight store call, by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, cacheCoalesced)
}

type statEntry struct {
	status   Status
	value    inode.ExtendedStat
	expiry   time.Time
	lruElem  *list.Element
	pathKeys []string // path-index keys that currently point at this entry
}

type locEntry struct {
	status  Status
	value   []inode.Replica
	expiry  time.Time
	lruElem *list.Element
}

// Cache is safe for concurrent use.
type Cache struct {
	cfg Config

	mu          sync.Mutex
	statByIno   map[inode.Ino]*statEntry
	pathIndex   map[string]inode.Ino  // positive path -> ino
	pathNegative map[string]*statEntry // NotFound entries keyed by path only
	statLRU     *list.List

	locMu     sync.Mutex
	locByIno  map[inode.Ino]*locEntry
	locLRU    *list.List

	statFlight singleflight.Group
	locFlight  singleflight.Group
}

// New constructs an empty cache.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg = DefaultConfig()
	}
	return &Cache{
		cfg:          cfg,
		statByIno:    make(map[inode.Ino]*statEntry),
		pathIndex:    make(map[string]inode.Ino),
		pathNegative: make(map[string]*statEntry),
		statLRU:      list.New(),
		locByIno:     make(map[inode.Ino]*locEntry),
		locLRU:       list.New(),
	}
}

// PathKey is the canonical key for the (parent, name) index.
func PathKey(parent inode.Ino, name string) string {
	return strconv.FormatUint(uint64(parent), 10) + "\x00" + name
}

// StatByIno returns ino's cached stat, calling load on a miss or expiry.
// A NotFound result is itself cached (negative caching) for NegativeTTL.
func (c *Cache) StatByIno(ino inode.Ino, load func() (inode.ExtendedStat, error)) (inode.ExtendedStat, error) {
	c.mu.Lock()
	if e, ok := c.statByIno[ino]; ok && c.fresh(e.status, e.expiry) {
		c.statLRU.MoveToFront(e.lruElem)
		c.mu.Unlock()
		cacheHits.WithLabelValues("stat").Inc()
		if e.status == NotFound {
			return inode.ExtendedStat{}, notFoundErr(ino)
		}
		return e.value, nil
	}
	c.mu.Unlock()

	key := inoKey(ino)
	v, err, shared := c.statFlight.Do(key, func() (interface{}, error) {
		st, err := load()
		c.storeStatResult(ino, nil, st, err)
		return st, err
	})
	if shared {
		cacheCoalesced.WithLabelValues("stat").Inc()
	} else {
		cacheMisses.WithLabelValues("stat").Inc()
	}
	if err != nil {
		return inode.ExtendedStat{}, err
	}
	return v.(inode.ExtendedStat), nil
}

// StatByPath returns the cached stat for (parent, name), calling load on
// a miss. A positive result is indexed under both the path key and the
// resulting inode number so a subsequent StatByIno lookup hits too.
func (c *Cache) StatByPath(parent inode.Ino, name string, load func() (inode.ExtendedStat, error)) (inode.ExtendedStat, error) {
	pk := PathKey(parent, name)

	c.mu.Lock()
	if ino, ok := c.pathIndex[pk]; ok {
		if e, ok := c.statByIno[ino]; ok && c.fresh(e.status, e.expiry) {
			c.statLRU.MoveToFront(e.lruElem)
			c.mu.Unlock()
			cacheHits.WithLabelValues("stat").Inc()
			return e.value, nil
		}
	}
	if e, ok := c.pathNegative[pk]; ok && c.fresh(e.status, e.expiry) {
		c.statLRU.MoveToFront(e.lruElem)
		c.mu.Unlock()
		cacheHits.WithLabelValues("stat").Inc()
		return inode.ExtendedStat{}, notFoundErr(parent)
	}
	c.mu.Unlock()

	v, err, shared := c.statFlight.Do("path:"+pk, func() (interface{}, error) {
		st, err := load()
		c.storeStatResult(st.Ino, &pk, st, err)
		return st, err
	})
	if shared {
		cacheCoalesced.WithLabelValues("stat").Inc()
	} else {
		cacheMisses.WithLabelValues("stat").Inc()
	}
	if err != nil {
		return inode.ExtendedStat{}, err
	}
	return v.(inode.ExtendedStat), nil
}

// storeStatResult installs a load's outcome into the cache under the ino
// key and, if pathKey is non-nil, the path key too.
func (c *Cache) storeStatResult(ino inode.Ino, pathKey *string, st inode.ExtendedStat, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if pathKey != nil {
			e := &statEntry{status: NotFound, expiry: time.Now().Add(c.cfg.NegativeTTL)}
			e.lruElem = c.statLRU.PushFront(lruKey{kind: "path-neg", key: *pathKey})
			c.pathNegative[*pathKey] = e
			c.evictIfNeeded()
		} else {
			e, ok := c.statByIno[ino]
			if !ok {
				e = &statEntry{}
				e.lruElem = c.statLRU.PushFront(lruKey{kind: "ino", key: ino})
				c.statByIno[ino] = e
			} else {
				c.statLRU.MoveToFront(e.lruElem)
			}
			for _, pk := range e.pathKeys {
				delete(c.pathIndex, pk)
			}
			e.pathKeys = nil
			e.status, e.value = NotFound, inode.ExtendedStat{}
			e.expiry = time.Now().Add(c.cfg.NegativeTTL)
			c.evictIfNeeded()
		}
		return
	}

	e, ok := c.statByIno[ino]
	if !ok {
		e = &statEntry{}
		e.lruElem = c.statLRU.PushFront(lruKey{kind: "ino", key: ino})
		c.statByIno[ino] = e
	} else {
		c.statLRU.MoveToFront(e.lruElem)
	}
	e.status = Ok
	e.value = st
	e.expiry = time.Now().Add(c.cfg.TTL)
	if pathKey != nil {
		c.pathIndex[*pathKey] = ino
		e.pathKeys = append(e.pathKeys, *pathKey)
		delete(c.pathNegative, *pathKey)
	}
	c.evictIfNeeded()
}

// Locations returns ino's cached replica list, calling load on a miss.
func (c *Cache) Locations(ino inode.Ino, load func() ([]inode.Replica, error)) ([]inode.Replica, error) {
	c.locMu.Lock()
	if e, ok := c.locByIno[ino]; ok && c.fresh(e.status, e.expiry) {
		c.locLRU.MoveToFront(e.lruElem)
		c.locMu.Unlock()
		cacheHits.WithLabelValues("locations").Inc()
		return e.value, nil
	}
	c.locMu.Unlock()

	v, err, shared := c.locFlight.Do(inoKey(ino), func() (interface{}, error) {
		repl, err := load()
		c.storeLocResult(ino, repl, err)
		return repl, err
	})
	if shared {
		cacheCoalesced.WithLabelValues("locations").Inc()
	} else {
		cacheMisses.WithLabelValues("locations").Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.([]inode.Replica), nil
}

func (c *Cache) storeLocResult(ino inode.Ino, repl []inode.Replica, err error) {
	c.locMu.Lock()
	defer c.locMu.Unlock()
	e, ok := c.locByIno[ino]
	if !ok {
		e = &locEntry{}
		e.lruElem = c.locLRU.PushFront(ino)
		c.locByIno[ino] = e
	} else {
		c.locLRU.MoveToFront(e.lruElem)
	}
	if err != nil {
		e.status = NotFound
		e.expiry = time.Now().Add(c.cfg.NegativeTTL)
		return
	}
	e.status = Ok
	e.value = repl
	e.expiry = time.Now().Add(c.cfg.TTL)
	if c.locLRU.Len() > c.cfg.MaxEntries {
		oldest := c.locLRU.Back()
		c.locLRU.Remove(oldest)
		delete(c.locByIno, oldest.Value.(inode.Ino))
	}
}

// Invalidate wipes every key that could reach ino — its own ino entry,
// every path key that has ever pointed at it, and its location entry —
// the "wipe both keys on rename" fix called for in §9: a rename must not
// leave a stale path-keyed hit pointing at an inode's old name/parent.
func (c *Cache) Invalidate(ino inode.Ino) {
	c.mu.Lock()
	if e, ok := c.statByIno[ino]; ok {
		c.statLRU.Remove(e.lruElem)
		delete(c.statByIno, ino)
		for _, pk := range e.pathKeys {
			delete(c.pathIndex, pk)
		}
	}
	c.mu.Unlock()

	c.locMu.Lock()
	if e, ok := c.locByIno[ino]; ok {
		c.locLRU.Remove(e.lruElem)
		delete(c.locByIno, ino)
	}
	c.locMu.Unlock()
}

// InvalidatePath removes a single (parent, name) path-index entry,
// without touching the underlying ino entry (used when only the name
// binding changed, e.g. the old side of a rename).
func (c *Cache) InvalidatePath(parent inode.Ino, name string) {
	pk := PathKey(parent, name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if ino, ok := c.pathIndex[pk]; ok {
		delete(c.pathIndex, pk)
		if e, ok := c.statByIno[ino]; ok {
			filtered := e.pathKeys[:0]
			for _, k := range e.pathKeys {
				if k != pk {
					filtered = append(filtered, k)
				}
			}
			e.pathKeys = filtered
		}
	}
	if e, ok := c.pathNegative[pk]; ok {
		c.statLRU.Remove(e.lruElem)
		delete(c.pathNegative, pk)
	}
}

func (c *Cache) fresh(status Status, expiry time.Time) bool {
	if status == NoInfo || status == InProgress {
		return false
	}
	return time.Now().Before(expiry)
}

// evictIfNeeded drops the coldest stat entries once over MaxEntries.
// Caller holds c.mu.
func (c *Cache) evictIfNeeded() {
	for c.statLRU.Len() > c.cfg.MaxEntries {
		back := c.statLRU.Back()
		k := back.Value.(lruKey)
		c.statLRU.Remove(back)
		switch k.kind {
		case "ino":
			ino := k.key.(inode.Ino)
			if e, ok := c.statByIno[ino]; ok {
				for _, pk := range e.pathKeys {
					delete(c.pathIndex, pk)
				}
			}
			delete(c.statByIno, ino)
		case "path-neg":
			delete(c.pathNegative, k.key.(string))
		}
	}
}

type lruKey struct {
	kind string
	key  interface{}
}

func inoKey(ino inode.Ino) string {
	return "ino:" + strconv.FormatUint(uint64(ino), 10)
}

func notFoundErr(hint inode.Ino) error {
	logger.Debugf("negative cache hit for %d", hint)
	return status.Raisef(status.NoSuchFile, "no such entry (negative cache hit, ino hint %d)", hint)
}
