// Package pool implements the pool manager (§4.8): pool enumeration,
// replica selection for read, allocation for write, and completion —
// dispatched per pool to the registered PoolDriver for that pool's type.
package pool

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dpmgo/dpmgo/pkg/catalog"
	"github.com/dpmgo/dpmgo/pkg/dmval"
	"github.com/dpmgo/dpmgo/pkg/inode"
	"github.com/dpmgo/dpmgo/pkg/security"
	"github.com/dpmgo/dpmgo/pkg/status"
	"github.com/dpmgo/dpmgo/pkg/utils"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var logger = utils.GetLogger("poolmanager")

// Availability is the filter accepted by getPools (§4.8).
type Availability int

const (
	Any Availability = iota
	ForRead
	ForWrite
	Both
	None
)

// Chunk is one contiguous byte range of a Location, served by one host.
type Chunk struct {
	Host   string
	Path   string
	Offset int64
	Size   int64
	Query  dmval.Extensible
}

// Location is an ordered list of chunks a client dereferences to perform
// I/O; simple disk pools return exactly one chunk, striped pools return
// more than one.
type Location []Chunk

// Info describes one configured pool (§3 Pool).
type Info struct {
	Name       string
	DriverType string
	Props      dmval.Extensible
}

// Driver is implemented once per pool type (e.g. "filesystem", "sftp")
// and dispatches the mechanics of checking replica availability and
// carrying out writes for every pool of that type.
type Driver interface {
	Type() string

	// IsReplicaAvailable reports whether r's filesystem/host currently
	// serves reads, per the driver's own health/status view (§4.8).
	IsReplicaAvailable(r inode.Replica) bool

	// SelectFilesystem picks a filesystem within pool for a new write,
	// weighted by the driver's own capacity/load policy.
	SelectFilesystem(pool Info) (fs, host string, err error)

	// BeginWrite allocates server-side state for a new upload (a
	// put-request id) and returns the rfn (replica file name/URL) the
	// client will write to.
	BeginWrite(pool Info, fs, host, logicalPath string) (putRequestID, rfn string, err error)

	// FinalizeWrite is called once the client reports completion;
	// returns the final size and checksum type/value if known.
	FinalizeWrite(putRequestID string, params dmval.Extensible) (size uint64, csumType, csumValue string, err error)

	// CancelWrite releases a pending put-request; idempotent.
	CancelWrite(putRequestID string) error
}

// ManagerConfig carries the process-wide tuning knobs (§6 directives).
type ManagerConfig struct {
	TokenLife      time.Duration // read/write token lifetime
	TokenUsesIP    bool          // TokenId directive: DN vs remote address
	DefaultPool    string
}

// Manager is the pool manager: it owns the registered drivers, the
// configured pools, and mints capability tokens via a shared
// security.TokenAuthority.
type Manager struct {
	mu      sync.RWMutex
	drivers map[string]Driver
	pools   map[string]Info

	cfg     ManagerConfig
	tokens  *security.TokenAuthority
	catalog *catalog.Catalog
}

// New constructs a pool manager bound to a catalog (for permission
// checks and replica bookkeeping) and a token authority (for minting
// read/write capability tokens).
func New(cat *catalog.Catalog, tokens *security.TokenAuthority, cfg ManagerConfig) *Manager {
	if cfg.TokenLife <= 0 {
		cfg.TokenLife = 5 * time.Minute
	}
	return &Manager{
		drivers: make(map[string]Driver),
		pools:   make(map[string]Info),
		cfg:     cfg,
		tokens:  tokens,
		catalog: cat,
	}
}

// RegisterDriver wires a PoolDriver implementation under its type name;
// the documented extension point for additional pool types (§ DESIGN.md:
// "deliberately not wired" cloud SDKs each become one more driver here).
func (m *Manager) RegisterDriver(d Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.Type()] = d
}

// AddPool registers a configured pool.
func (m *Manager) AddPool(info Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[info.Name] = info
}

func (m *Manager) driverFor(poolName string) (Driver, Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.pools[poolName]
	if !ok {
		return nil, Info{}, status.Raisef(status.NoSuchPool, "%s", poolName)
	}
	d, ok := m.drivers[info.DriverType]
	if !ok {
		return nil, Info{}, status.Raisef(status.UnknownPoolType, "%s", info.DriverType)
	}
	return d, info, nil
}

// GetPools lists configured pools, filtered by availability. Only
// "Any" is meaningfully distinct without a live per-filesystem health
// feed wired in; read/write/both/none are accepted for interface
// completeness and currently pass every pool through, since this
// in-process manager has no separate disabled/read-only pool flag.
func (m *Manager) GetPools(avail Availability) []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if avail != Any {
		logger.Debugf("GetPools: availability filter %v is a no-op against the in-process manager, returning all pools", avail)
	}
	out := make([]Info, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	return out
}

// GetPool returns one named pool.
func (m *Manager) GetPool(name string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	if !ok {
		return Info{}, status.Raisef(status.NoSuchPool, "%s", name)
	}
	return p, nil
}

// WhereToRead implements §4.8 whereToRead: resolve path with a read
// permission check, fetch its replicas, pick one available replica at
// random among equally-eligible candidates, and return a single-chunk
// Location carrying a read-mode token.
func (m *Manager) WhereToRead(ctx security.Context, path string) (Location, error) {
	st, err := m.catalog.ExtendedStat(ctx, path, true)
	if err != nil {
		return nil, err
	}
	if !st.IsRegular() {
		return nil, status.Raisef(status.IsDirectory, "%s is not a regular file", path)
	}
	replicas, err := m.catalog.GetReplicas(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(replicas) == 0 {
		return nil, status.Raisef(status.NoReplicas, "%s", path)
	}

	available := m.probeAvailable(replicas)
	if len(available) == 0 {
		return nil, status.Raisef(status.NoReplicas, "no available replica for %s", path)
	}
	chosen := available[rand.Intn(len(available))]

	token, err := m.tokens.Mint(ctx.ClientID(m.cfg.TokenUsesIP), chosen.RFN, security.ModeRead, m.cfg.TokenLife)
	if err != nil {
		return nil, status.Wrap(err, status.InternalError, "mint read token")
	}
	return Location{{
		Host:   chosen.Host,
		Path:   chosen.RFN,
		Offset: 0,
		Size:   int64(st.Size),
		Query:  dmval.New().Set("token", token),
	}}, nil
}

// probeAvailable asks each replica's driver whether it's currently
// serving reads, concurrently and bounded, per §4.8 "for each replica,
// ask the owning driver if it is currently available": fan-out via
// errgroup rather than a sequential loop, since a stalled/slow driver
// for one replica must not delay probing the others.
func (m *Manager) probeAvailable(replicas []inode.Replica) []inode.Replica {
	results := make([]bool, len(replicas))
	var g errgroup.Group
	for i, r := range replicas {
		i, r := i, r
		if r.Status != inode.ReplicaAvailable {
			continue
		}
		d, _, err := m.driverFor(r.Pool)
		if err != nil {
			continue
		}
		g.Go(func() error {
			results[i] = d.IsReplicaAvailable(r)
			return nil
		})
	}
	_ = g.Wait()

	available := make([]inode.Replica, 0, len(replicas))
	for i, ok := range results {
		if ok {
			available = append(available, replicas[i])
		}
	}
	return available
}

// WhereToWrite implements §4.8 whereToWrite: create-or-truncate the
// file, select a pool and filesystem, allocate a put-request with the
// driver, and return a single-chunk Location carrying both the
// put-request id and a write-mode token.
func (m *Manager) WhereToWrite(ctx security.Context, path string, mode uint32) (Location, error) {
	st, err := m.catalog.ExtendedStat(ctx, path, true)
	if status.Is(err, status.NoSuchFile) {
		st, err = m.catalog.Create(ctx, path, mode)
	}
	if err != nil {
		return nil, err
	}
	if !st.IsRegular() {
		return nil, status.Raisef(status.IsDirectory, "%s is not a regular file", path)
	}

	poolName := m.cfg.DefaultPool
	d, info, err := m.driverFor(poolName)
	if err != nil {
		return nil, err
	}
	fs, host, err := d.SelectFilesystem(info)
	if err != nil {
		return nil, status.Wrap(err, status.QueryFailed, "select filesystem")
	}
	putID, rfn, err := d.BeginWrite(info, fs, host, path)
	if err != nil {
		return nil, status.Wrap(err, status.QueryFailed, "begin write")
	}

	token, err := m.tokens.Mint(ctx.ClientID(m.cfg.TokenUsesIP), rfn, security.ModeWrite, m.cfg.TokenLife)
	if err != nil {
		return nil, status.Wrap(err, status.InternalError, "mint write token")
	}

	if _, err := m.catalog.AddReplica(ctx, path, inode.Replica{
		Status: inode.ReplicaBeingPopulated,
		Type:   inode.ReplicaVolatile,
		Host:   host,
		RFN:    rfn,
		Pool:   poolName,
		FS:     fs,
		Xattr:  dmval.New().Set("putRequestId", putID),
	}); err != nil {
		_ = d.CancelWrite(putID)
		return nil, err
	}

	return Location{{
		Host:  host,
		Path:  rfn,
		Query: dmval.New().Set("token", token).Set("putRequestId", putID),
	}}, nil
}

// DoneWriting implements §4.8 doneWriting: the driver finalizes the
// put-request with the daemon, and on success the replica row is
// flipped to available and the inode's size/checksum updated.
func (m *Manager) DoneWriting(ctx security.Context, path string, replicaID int64, poolName, putRequestID string) error {
	d, _, err := m.driverFor(poolName)
	if err != nil {
		return err
	}
	size, csumType, csumValue, err := d.FinalizeWrite(putRequestID, dmval.New())
	if err != nil {
		return status.Wrap(err, status.QueryFailed, "finalize write")
	}

	replicas, err := m.catalog.GetReplicas(ctx, path)
	if err != nil {
		return err
	}
	var target *inode.Replica
	for i := range replicas {
		if replicas[i].ReplicaID == replicaID {
			target = &replicas[i]
		}
	}
	if target == nil {
		return status.Raisef(status.NoSuchReplica, "%d", replicaID)
	}
	target.Status = inode.ReplicaAvailable
	if err := m.catalog.UpdateReplica(ctx, path, *target); err != nil {
		return err
	}
	return m.catalog.SetSizeAndChecksum(ctx, path, size, csumType, csumValue)
}

// CancelWrite releases a pending put-request (§4.8 cancelWrite),
// idempotent by contract of the underlying driver.
func (m *Manager) CancelWrite(poolName, putRequestID string) error {
	d, _, err := m.driverFor(poolName)
	if err != nil {
		return err
	}
	return d.CancelWrite(putRequestID)
}

// NewPutRequestID mints a fresh unique id for a driver's BeginWrite.
func NewPutRequestID() string { return uuid.NewString() }

// BuildRFN renders the conventional "host:/pool/fs/path" replica file
// name shorthand (matching the dmval.ParseURL "h1:/pool/a/f" form from
// spec §8 scenario S1), shared by every concrete PoolDriver.
func BuildRFN(pool, fs, host, path string) string {
	return fmt.Sprintf("%s:/%s/%s%s", host, pool, fs, path)
}
