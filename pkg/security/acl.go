package security

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dpmgo/dpmgo/pkg/status"
)

// ACLEntryType identifies the category of an ACL entry (§3). DEFAULT is a
// modifier OR'd onto any of the base types, meaning "inherited by new
// children of this directory", never evaluated for access to the
// directory itself.
type ACLEntryType uint16

const (
	TypeUserObj ACLEntryType = 1 << iota
	TypeUser
	TypeGroupObj
	TypeGroup
	TypeMask
	TypeOther
	TypeDefault // modifier, OR'd onto one of the above
)

func (t ACLEntryType) base() ACLEntryType { return t &^ TypeDefault }
func (t ACLEntryType) isDefault() bool    { return t&TypeDefault != 0 }

var typeNames = map[ACLEntryType]string{
	TypeUserObj:  "USER_OBJ",
	TypeUser:     "USER",
	TypeGroupObj: "GROUP_OBJ",
	TypeGroup:    "GROUP",
	TypeMask:     "MASK",
	TypeOther:    "OTHER",
}

// Entry is one ACL entry: a type, an optional id (user/group entries
// only), and an rwx permission triple encoded in the low 3 bits.
type Entry struct {
	Type ACLEntryType
	ID   uint32
	Perm uint8 // rwx, bits 2,1,0
}

const (
	PermR uint8 = 4
	PermW uint8 = 2
	PermX uint8 = 1
)

// ACL is an ordered list of entries. Validate enforces the canonical
// shape from §3; Serialize/ParseACL round-trip the storage text form.
type ACL []Entry

// Validate checks the structural invariants from spec §3: exactly one
// USER_OBJ, one GROUP_OBJ, one OTHER; a MASK entry iff any named USER or
// GROUP entry exists; DEFAULT entries only make sense on directories
// (checked by the caller, which knows isDir).
func (a ACL) Validate(isDir bool) error {
	if err := validateGroup(a.Effective()); err != nil {
		return err
	}
	defaults := a.Default()
	if len(defaults) == 0 {
		return nil
	}
	if !isDir {
		return status.Raisef(status.InvalidACL, "default entries only allowed on directories")
	}
	// a DEFAULT set, if present at all, must itself be a complete,
	// independently valid ACL (its own USER_OBJ/GROUP_OBJ/OTHER/MASK).
	return validateGroup(stripDefaultBit(defaults))
}

func stripDefaultBit(a ACL) ACL {
	out := make(ACL, len(a))
	for i, e := range a {
		e.Type = e.Type.base()
		out[i] = e
	}
	return out
}

// validateGroup checks the USER_OBJ/GROUP_OBJ/OTHER/MASK invariants
// within one set of entries, either the effective set or the default set.
func validateGroup(a ACL) error {
	var userObj, groupObj, other, mask int
	var namedUserOrGroup int
	for _, e := range a {
		switch e.Type.base() {
		case TypeUserObj:
			userObj++
		case TypeGroupObj:
			groupObj++
		case TypeOther:
			other++
		case TypeMask:
			mask++
		case TypeUser, TypeGroup:
			namedUserOrGroup++
		}
	}
	if userObj != 1 {
		return status.Raisef(status.InvalidACL, "expected exactly one USER_OBJ entry, got %d", userObj)
	}
	if groupObj != 1 {
		return status.Raisef(status.InvalidACL, "expected exactly one GROUP_OBJ entry, got %d", groupObj)
	}
	if other != 1 {
		return status.Raisef(status.InvalidACL, "expected exactly one OTHER entry, got %d", other)
	}
	if namedUserOrGroup > 0 && mask != 1 {
		return status.Raisef(status.InvalidACL, "MASK entry required when named USER/GROUP entries are present")
	}
	if namedUserOrGroup == 0 && mask > 1 {
		return status.Raisef(status.InvalidACL, "at most one MASK entry allowed")
	}
	return nil
}

// canonicalOrder is the fixed evaluation/serialization order from §4.3:
// user-obj, named users, group-obj, named groups, mask, other.
func canonicalOrder(t ACLEntryType) int {
	switch t {
	case TypeUserObj:
		return 0
	case TypeUser:
		return 1
	case TypeGroupObj:
		return 2
	case TypeGroup:
		return 3
	case TypeMask:
		return 4
	case TypeOther:
		return 5
	default:
		return 6
	}
}

// Sorted returns a canonically ordered copy: default entries after
// effective ones, each group ordered per canonicalOrder and then by id.
func (a ACL) Sorted() ACL {
	out := make(ACL, len(a))
	copy(out, a)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := out[i].Type.isDefault(), out[j].Type.isDefault()
		if di != dj {
			return !di
		}
		bi, bj := canonicalOrder(out[i].Type.base()), canonicalOrder(out[j].Type.base())
		if bi != bj {
			return bi < bj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Effective returns only the non-DEFAULT entries (those evaluated for
// access to the object itself).
func (a ACL) Effective() ACL {
	var out ACL
	for _, e := range a {
		if !e.Type.isDefault() {
			out = append(out, e)
		}
	}
	return out
}

// Default returns only the DEFAULT entries (inherited by new children).
func (a ACL) Default() ACL {
	var out ACL
	for _, e := range a {
		if e.Type.isDefault() {
			out = append(out, e)
		}
	}
	return out
}

func permString(p uint8) string {
	r := []byte{'-', '-', '-'}
	if p&PermR != 0 {
		r[0] = 'r'
	}
	if p&PermW != 0 {
		r[1] = 'w'
	}
	if p&PermX != 0 {
		r[2] = 'x'
	}
	return string(r)
}

func parsePerm(s string) (uint8, error) {
	if len(s) != 3 {
		return 0, fmt.Errorf("malformed permission triple %q", s)
	}
	var p uint8
	if s[0] == 'r' {
		p |= PermR
	} else if s[0] != '-' {
		return 0, fmt.Errorf("malformed permission triple %q", s)
	}
	if s[1] == 'w' {
		p |= PermW
	} else if s[1] != '-' {
		return 0, fmt.Errorf("malformed permission triple %q", s)
	}
	if s[2] == 'x' {
		p |= PermX
	} else if s[2] != '-' {
		return 0, fmt.Errorf("malformed permission triple %q", s)
	}
	return p, nil
}

// Serialize renders the ACL to its canonical storage text form:
// "type:id:rwx,type:id:rwx,...", entries canonically sorted.
func (a ACL) Serialize() string {
	sorted := a.Sorted()
	parts := make([]string, 0, len(sorted))
	for _, e := range sorted {
		name := typeNames[e.Type.base()]
		if e.Type.isDefault() {
			name = "DEFAULT_" + name
		}
		id := ""
		if e.Type.base() == TypeUser || e.Type.base() == TypeGroup {
			id = strconv.FormatUint(uint64(e.ID), 10)
		}
		parts = append(parts, fmt.Sprintf("%s:%s:%s", name, id, permString(e.Perm)))
	}
	return strings.Join(parts, ",")
}

var nameToType = map[string]ACLEntryType{
	"USER_OBJ":  TypeUserObj,
	"USER":      TypeUser,
	"GROUP_OBJ": TypeGroupObj,
	"GROUP":     TypeGroup,
	"MASK":      TypeMask,
	"OTHER":     TypeOther,
}

// ParseACL parses the text form produced by Serialize.
func ParseACL(s string) (ACL, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out ACL
	for _, part := range strings.Split(s, ",") {
		fields := strings.SplitN(part, ":", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed ACL entry %q", part)
		}
		typeName := fields[0]
		isDefault := strings.HasPrefix(typeName, "DEFAULT_")
		if isDefault {
			typeName = strings.TrimPrefix(typeName, "DEFAULT_")
		}
		base, ok := nameToType[typeName]
		if !ok {
			return nil, fmt.Errorf("unknown ACL entry type %q", typeName)
		}
		t := base
		if isDefault {
			t |= TypeDefault
		}
		var id uint32
		if fields[1] != "" {
			n, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("malformed ACL id %q: %w", fields[1], err)
			}
			id = uint32(n)
		}
		perm, err := parsePerm(fields[2])
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Type: t, ID: id, Perm: perm})
	}
	return out, nil
}

// FromMode derives the three base effective entries (USER_OBJ, GROUP_OBJ,
// OTHER) from POSIX mode bits, used both when an object has no extended
// ACL and when setMode re-derives entries after a chmod (§4.6).
func FromMode(mode uint16) ACL {
	return ACL{
		{Type: TypeUserObj, Perm: uint8(mode>>6) & 7},
		{Type: TypeGroupObj, Perm: uint8(mode>>3) & 7},
		{Type: TypeOther, Perm: uint8(mode) & 7},
	}
}

// InheritDefaults builds the ACL for a new child created under parent,
// whose ACL may carry DEFAULT entries (§4.3 ACL inheritance):
//   - DEFAULT entries are copied as effective (non-default) entries on
//     the child;
//   - if childIsDir, the DEFAULT entries are *also* kept as DEFAULT on
//     the child, so grandchildren inherit them too;
//   - if the parent has no DEFAULT entries, the child gets a plain
//     mode-derived ACL (no extended entries at all).
func InheritDefaults(parentACL ACL, childIsDir bool, mode uint16) ACL {
	defaults := parentACL.Default()
	if len(defaults) == 0 {
		return FromMode(mode)
	}
	out := make(ACL, 0, len(defaults)*2)
	for _, e := range defaults {
		effective := e
		effective.Type = e.Type.base()
		out = append(out, effective)
		if childIsDir {
			out = append(out, e)
		}
	}
	return ApplyModeMask(out, mode)
}

// ApplyModeMask sets effective USER_OBJ/OTHER/MASK entries' permission
// bits to the requested mode's owner/other/group bits (GROUP_OBJ too,
// but only when the ACL has no named entries), the way
// create coerces an inherited ACL and setMode re-derives one after a
// chmod (§4.6).
func ApplyModeMask(acl ACL, mode uint16) ACL {
	out := make(ACL, len(acl))
	copy(out, acl)
	want := FromMode(mode)
	for i, e := range out {
		if e.Type.isDefault() {
			continue
		}
		switch e.Type.base() {
		case TypeUserObj:
			out[i].Perm = want[0].Perm
		case TypeOther:
			out[i].Perm = want[2].Perm
		case TypeGroupObj:
			// only masked down if there's no explicit MASK entry;
			// a MASK entry governs named user/group, not GROUP_OBJ,
			// unless no extended entries exist at all.
			if !hasExtended(out) {
				out[i].Perm = want[1].Perm
			}
		case TypeMask:
			out[i].Perm = want[1].Perm
		}
	}
	return out
}

func hasExtended(acl ACL) bool {
	for _, e := range acl {
		if e.Type.base() == TypeUser || e.Type.base() == TypeGroup {
			return true
		}
	}
	return false
}

// RetagForOwner rewrites USER_OBJ/GROUP_OBJ ids conceptually to the new
// object's owner/group. ACL entries don't carry USER_OBJ/GROUP_OBJ ids
// (they're implicit owner/group references resolved against the stat
// record at check time), so this is a no-op placeholder kept for
// symmetry with the inheritance description in §4.3; owner/group
// coercion happens on the stat record itself, not the ACL.
func RetagForOwner(acl ACL, _, _ uint32) ACL { return acl }
