package authn

import (
	"sync"

	"github.com/dpmgo/dpmgo/pkg/dmval"
	"github.com/dpmgo/dpmgo/pkg/security"
	"github.com/dpmgo/dpmgo/pkg/status"
)

// MemStore is a complete in-memory authn Store: the unique_uid/unique_gid
// counters from §6 modeled as plain locked integers instead of a
// persistent row, and the reference implementation catalog/namespace
// tests resolve identities against.
type MemStore struct {
	mu          sync.Mutex
	mapper      VOMapper
	nextUID     uint32
	nextGID     uint32
	usersByName map[string]*security.UserInfo
	usersByUID  map[uint32]*security.UserInfo
	groupsByName map[string]*security.GroupInfo
	groupsByGID  map[uint32]*security.GroupInfo
}

// NewMemStore seeds the counters starting at 1000 (uid/gid 0 is reserved
// for the synthetic root identity and is never allocated).
func NewMemStore(mapper VOMapper) *MemStore {
	return &MemStore{
		mapper:       mapper,
		nextUID:      1000,
		nextGID:      1000,
		usersByName:  make(map[string]*security.UserInfo),
		usersByUID:   make(map[uint32]*security.UserInfo),
		groupsByName: make(map[string]*security.GroupInfo),
		groupsByGID:  make(map[uint32]*security.GroupInfo),
	}
}

func (m *MemStore) Resolve(dn string, fqans []string) (security.UserInfo, []security.GroupInfo, error) {
	if dn == RootDN {
		return security.UserInfo{UID: 0, Name: "root"}, []security.GroupInfo{{GID: 0, Name: "root"}}, nil
	}

	voNames, err := voNamesFor(dn, fqans, m.mapper)
	if err != nil {
		return security.UserInfo{}, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.usersByName[dn]
	if !ok {
		uid := m.nextUID
		m.nextUID++
		user = &security.UserInfo{UID: uid, Name: dn, Extras: dmval.New()}
		m.usersByName[dn] = user
		m.usersByUID[uid] = user
		logger.Infof("allocated uid %d for %q", uid, dn)
	}

	groups := make([]security.GroupInfo, 0, len(voNames))
	for _, vo := range voNames {
		g, ok := m.groupsByName[vo]
		if !ok {
			gid := m.nextGID
			m.nextGID++
			g = &security.GroupInfo{GID: gid, Name: vo, Extras: dmval.New()}
			m.groupsByName[vo] = g
			m.groupsByGID[gid] = g
			logger.Infof("allocated gid %d for VO %q", gid, vo)
		}
		groups = append(groups, *g)
	}
	return *user, groups, nil
}

func (m *MemStore) GetUser(name string) (security.UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usersByName[name]
	if !ok {
		return security.UserInfo{}, status.Raisef(status.NoSuchUser, "%s", name)
	}
	return *u, nil
}

func (m *MemStore) GetUserByUID(uid uint32) (security.UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usersByUID[uid]
	if !ok {
		return security.UserInfo{}, status.Raisef(status.NoSuchUser, "uid %d", uid)
	}
	return *u, nil
}

func (m *MemStore) GetGroup(name string) (security.GroupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groupsByName[name]
	if !ok {
		return security.GroupInfo{}, status.Raisef(status.NoSuchGroup, "%s", name)
	}
	return *g, nil
}

func (m *MemStore) GetGroupByGID(gid uint32) (security.GroupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groupsByGID[gid]
	if !ok {
		return security.GroupInfo{}, status.Raisef(status.NoSuchGroup, "gid %d", gid)
	}
	return *g, nil
}

func (m *MemStore) SetUserBanned(name string, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usersByName[name]
	if !ok {
		return status.Raisef(status.NoSuchUser, "%s", name)
	}
	u.Banned = banned
	return nil
}

func (m *MemStore) SetGroupBanned(name string, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groupsByName[name]
	if !ok {
		return status.Raisef(status.NoSuchGroup, "%s", name)
	}
	g.Banned = banned
	return nil
}
