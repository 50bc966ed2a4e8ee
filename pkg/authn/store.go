// Package authn implements the authentication store (§4.5): resolving
// (clientDN, fqan-list) to a UserInfo and ordered GroupInfo list,
// allocating uids/gids monotonically from a persistent counter the
// first time an identity is seen.
package authn

import (
	"strings"
	"sync"

	"github.com/dpmgo/dpmgo/pkg/security"
	"github.com/dpmgo/dpmgo/pkg/status"
	"github.com/dpmgo/dpmgo/pkg/utils"
)

var logger = utils.GetLogger("authn")

// RootDN, when equal to a client's DN, resolves to the synthetic root
// identity (uid 0). This mapping always applies; no configuration
// directive turns it off.
const RootDN = "__host__"

// Store resolves identities and manages the user/group tables (§6).
type Store interface {
	// Resolve returns (UserInfo, [GroupInfo]) for a client DN and its
	// FQAN list, allocating new uid/gid rows on first sight.
	Resolve(dn string, fqans []string) (security.UserInfo, []security.GroupInfo, error)

	GetUser(name string) (security.UserInfo, error)
	GetUserByUID(uid uint32) (security.UserInfo, error)
	GetGroup(name string) (security.GroupInfo, error)
	GetGroupByGID(gid uint32) (security.GroupInfo, error)

	SetUserBanned(name string, banned bool) error
	SetGroupBanned(name string, banned bool) error
}

// VOMapper derives a VO group name for a DN with no FQAN attributes,
// from the MapFile configuration directive (§6).
type VOMapper interface {
	MapDN(dn string) (vo string, err error)
}

// Mapfile is a VOMapper backed by an in-memory list of (dnPrefix -> vo)
// rules, the parsed form of the MapFile directive's text file.
type Mapfile struct {
	mu    sync.RWMutex
	rules []mapRule
}

type mapRule struct {
	dnPrefix string
	vo       string
}

func NewMapfile() *Mapfile { return &Mapfile{} }

// AddRule registers one "dnPrefix vo" rule, first match wins in
// registration order (mirroring the line order of a real mapfile).
func (m *Mapfile) AddRule(dnPrefix, vo string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mapRule{dnPrefix: dnPrefix, vo: vo})
}

func (m *Mapfile) MapDN(dn string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rules {
		if strings.HasPrefix(dn, r.dnPrefix) {
			return r.vo, nil
		}
	}
	return "", status.Raisef(status.NoSuchGroup, "no mapfile rule matches DN %q", dn)
}

// stripRole removes a "/Role=xxx" suffix from an FQAN, per §4.5: "each
// FQAN is mapped to a VO name (role stripped)".
func stripRole(fqan string) string {
	if i := strings.Index(fqan, "/Role="); i >= 0 {
		return fqan[:i]
	}
	return fqan
}

// voNamesFor returns the VO group names to resolve for this request: one
// per FQAN (role stripped) if any were presented, else a single name
// derived from the DN via mapper.
func voNamesFor(dn string, fqans []string, mapper VOMapper) ([]string, error) {
	if len(fqans) == 0 {
		if mapper == nil {
			return nil, status.Raisef(status.NoSuchGroup, "no FQANs presented and no mapfile configured")
		}
		vo, err := mapper.MapDN(dn)
		if err != nil {
			return nil, err
		}
		return []string{vo}, nil
	}
	names := make([]string, 0, len(fqans))
	seen := make(map[string]bool)
	for _, f := range fqans {
		vo := stripRole(f)
		if !seen[vo] {
			seen[vo] = true
			names = append(names, vo)
		}
	}
	return names, nil
}
