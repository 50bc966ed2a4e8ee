// Package security implements §4.3: client credentials and the resolved
// security context, POSIX + ACL permission checks, ACL inheritance and
// canonicalization, and capability token mint/verify.
package security

import "github.com/dpmgo/dpmgo/pkg/dmval"

// Credentials carries what a transport layer (not in scope here) learned
// about the client: how it authenticated, its name, where it connected
// from, and any VO role attributes.
type Credentials struct {
	Mechanism string // e.g. "x509", "gsi"
	ClientDN  string
	RemoteAddr string
	SessionID string
	FQANs     []string
	Extras    dmval.Extensible
}

// UserInfo mirrors the userinfo table row (§6).
type UserInfo struct {
	UID     uint32
	Name    string
	CA      string
	Banned  bool
	Extras  dmval.Extensible
}

// GroupInfo mirrors the groupinfo table row (§6).
type GroupInfo struct {
	GID    uint32
	Name   string
	Banned bool
	Extras dmval.Extensible
}

// Context is credentials plus the identity resolved from them by the
// authn store: the user and its ordered groups, primary first.
type Context struct {
	Creds  Credentials
	User   UserInfo
	Groups []GroupInfo
}

// IsRoot reports whether this context is the synthetic root identity
// (uid 0), which is always granted by checkPermissions.
func (c Context) IsRoot() bool { return c.User.UID == 0 }

// HasGID reports whether gid is among the context's groups (primary or
// supplementary) — used for the "named group" and "setgid propagation"
// ACL/permission rules.
func (c Context) HasGID(gid uint32) bool {
	for _, g := range c.Groups {
		if g.GID == gid {
			return true
		}
	}
	return false
}

// PrimaryGID returns the first group's gid, or 0 if the context has none.
func (c Context) PrimaryGID() uint32 {
	if len(c.Groups) == 0 {
		return 0
	}
	return c.Groups[0].GID
}

// ClientID returns the identifier a token is minted/verified against,
// selected by the TokenId configuration directive (§6): either the
// client's DN or its remote (IP) address.
func (c Context) ClientID(useIP bool) string {
	if useIP {
		return c.Creds.RemoteAddr
	}
	return c.Creds.ClientDN
}
