package security

// Subject is the minimal shape checkPermissions needs from a stat
// record: owner identity, POSIX mode bits and an optional extended ACL.
// Defined here (rather than depending on the inode package) to keep
// security free of a dependency on the metadata schema; callers in the
// catalog build one of these from an inode.ExtendedStat.
type Subject struct {
	OwnerUID uint32
	OwnerGID uint32
	Mode     uint16
	ACL      ACL // without named USER/GROUP entries, POSIX triples apply
}

// Mode bits requested of checkPermissions, matching POSIX R_OK/W_OK/X_OK.
const (
	Read    uint8 = 4
	Write   uint8 = 2
	Execute uint8 = 1
)

// CheckPermissions implements §4.3's algorithm. Returns true if granted.
// Root (uid 0) is always granted. With an extended ACL present, entries
// are evaluated in canonical order — user-obj, matching named user
// (masked by MASK), group-obj or matching named group (masked by MASK),
// other — first matching category wins. Groups are matched against *any*
// of ctx's groups. Without an extended ACL, POSIX owner/group/other
// triples apply.
func CheckPermissions(ctx Context, subj Subject, want uint8) bool {
	if ctx.IsRoot() {
		return true
	}
	if effective := subj.ACL.Effective(); hasExtended(effective) {
		return checkExtendedACL(ctx, subj, effective, want)
	}
	return checkPOSIX(ctx, subj, want)
}

func checkPOSIX(ctx Context, subj Subject, want uint8) bool {
	if ctx.User.UID == subj.OwnerUID {
		return hasBits(uint8(subj.Mode>>6)&7, want)
	}
	if ctx.HasGID(subj.OwnerGID) {
		return hasBits(uint8(subj.Mode>>3)&7, want)
	}
	return hasBits(uint8(subj.Mode)&7, want)
}

func checkExtendedACL(ctx Context, subj Subject, acl ACL, want uint8) bool {
	mask := findMask(acl)

	var userObj, groupObj, other *Entry
	var namedUser, matchedGroup *Entry
	for i := range acl {
		e := &acl[i]
		switch e.Type {
		case TypeUserObj:
			userObj = e
		case TypeGroupObj:
			groupObj = e
		case TypeOther:
			other = e
		case TypeUser:
			if e.ID == ctx.User.UID {
				namedUser = e
			}
		case TypeGroup:
			if ctx.HasGID(e.ID) && matchedGroup == nil {
				matchedGroup = e
			}
		}
	}

	if userObj != nil && ctx.User.UID == subj.OwnerUID {
		return hasBits(userObj.Perm, want)
	}
	if namedUser != nil {
		return hasBits(maskPerm(namedUser.Perm, mask), want)
	}
	groupGranted, groupMatched := false, false
	if groupObj != nil && ctx.HasGID(subj.OwnerGID) {
		groupMatched = true
		groupGranted = hasBits(maskPerm(groupObj.Perm, mask), want)
	}
	if matchedGroup != nil {
		groupMatched = true
		if hasBits(maskPerm(matchedGroup.Perm, mask), want) {
			groupGranted = true
		}
	}
	if groupMatched {
		return groupGranted
	}
	if other != nil {
		return hasBits(other.Perm, want)
	}
	return false
}

func findMask(acl ACL) *uint8 {
	for i := range acl {
		if acl[i].Type == TypeMask {
			p := acl[i].Perm
			return &p
		}
	}
	return nil
}

func maskPerm(perm uint8, mask *uint8) uint8 {
	if mask == nil {
		return perm
	}
	return perm & *mask
}

func hasBits(have, want uint8) bool { return have&want == want }
