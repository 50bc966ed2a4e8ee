package security

import "testing"

func rootCtx() Context   { return Context{User: UserInfo{UID: 0}} }
func userCtx(uid uint32, gids ...uint32) Context {
	c := Context{User: UserInfo{UID: uid}}
	for _, g := range gids {
		c.Groups = append(c.Groups, GroupInfo{GID: g})
	}
	return c
}

func TestCheckPermissionsPOSIXOwner(t *testing.T) {
	subj := Subject{OwnerUID: 10, OwnerGID: 100, Mode: 0640}
	if !CheckPermissions(userCtx(10), subj, Read|Write) {
		t.Error("owner should have rw")
	}
	if CheckPermissions(userCtx(10), subj, Execute) {
		t.Error("owner should not have x")
	}
}

func TestCheckPermissionsPOSIXGroupAndOther(t *testing.T) {
	subj := Subject{OwnerUID: 10, OwnerGID: 100, Mode: 0640}
	if !CheckPermissions(userCtx(20, 100), subj, Read) {
		t.Error("group member should have r")
	}
	if CheckPermissions(userCtx(20, 100), subj, Write) {
		t.Error("group member should not have w")
	}
	if CheckPermissions(userCtx(30, 200), subj, Read) {
		t.Error("other should not have r")
	}
}

func TestCheckPermissionsRootAlwaysGranted(t *testing.T) {
	subj := Subject{OwnerUID: 10, OwnerGID: 100, Mode: 0000}
	if !CheckPermissions(rootCtx(), subj, Read|Write|Execute) {
		t.Error("root must always be granted")
	}
}

func TestPermissionMonotonicity(t *testing.T) {
	subj := Subject{OwnerUID: 10, OwnerGID: 100, Mode: 0750}
	ctx := userCtx(10)
	if CheckPermissions(ctx, subj, Read|Write|Execute) {
		for _, bits := range []uint8{Read, Write, Execute, Read | Write, Read | Execute, Write | Execute} {
			if !CheckPermissions(ctx, subj, bits) {
				t.Errorf("monotonicity violated for subset %03b", bits)
			}
		}
	}
}

func TestCheckExtendedACLNamedUserMaskedByMask(t *testing.T) {
	acl := ACL{
		{Type: TypeUserObj, Perm: 0700 >> 6 & 7},
		{Type: TypeGroupObj, Perm: 0},
		{Type: TypeOther, Perm: 0},
		{Type: TypeUser, ID: 55, Perm: PermR | PermW},
		{Type: TypeMask, Perm: PermR},
	}
	subj := Subject{OwnerUID: 1, OwnerGID: 1, Mode: 0700, ACL: acl}
	if !CheckPermissions(userCtx(55), subj, Read) {
		t.Error("named user should have r (masked)")
	}
	if CheckPermissions(userCtx(55), subj, Write) {
		t.Error("named user write should be masked off")
	}
}

func TestCheckExtendedACLGroupFallsThroughToOther(t *testing.T) {
	acl := ACL{
		{Type: TypeUserObj, Perm: PermR | PermW | PermX},
		{Type: TypeGroupObj, Perm: 0},
		{Type: TypeOther, Perm: PermR},
		{Type: TypeGroup, ID: 4, Perm: PermR | PermW | PermX},
		{Type: TypeMask, Perm: PermR | PermW | PermX},
	}
	subj := Subject{OwnerUID: 1, OwnerGID: 2, Mode: 0740, ACL: acl}
	if !CheckPermissions(userCtx(99, 3), subj, Read) {
		t.Error("non-owner non-group member should fall through to OTHER=r")
	}
}

func TestACLValidateRequiresSingletons(t *testing.T) {
	bad := ACL{{Type: TypeUserObj, Perm: 7}, {Type: TypeOther, Perm: 0}}
	if err := bad.Validate(false); err == nil {
		t.Error("expected validation error for missing GROUP_OBJ")
	}
}

func TestACLValidateRequiresMaskWithNamedEntries(t *testing.T) {
	acl := ACL{
		{Type: TypeUserObj, Perm: 7}, {Type: TypeGroupObj, Perm: 5}, {Type: TypeOther, Perm: 0},
		{Type: TypeUser, ID: 5, Perm: 4},
	}
	if err := acl.Validate(false); err == nil {
		t.Error("expected validation error: named USER without MASK")
	}
}

func TestACLSerializeParseRoundTrip(t *testing.T) {
	acl := ACL{
		{Type: TypeUserObj, Perm: 7}, {Type: TypeGroupObj, Perm: 5}, {Type: TypeOther, Perm: 0},
		{Type: TypeUser, ID: 42, Perm: 6}, {Type: TypeMask, Perm: 7},
	}
	s := acl.Serialize()
	got, err := ParseACL(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Serialize() != s {
		t.Errorf("round trip mismatch: %q != %q", got.Serialize(), s)
	}
}

func TestInheritDefaultsS4Scenario(t *testing.T) {
	// S4: /d has default ACL [USER_OBJ:rwx, GROUP_OBJ:r-x, OTHER:---,
	// DEFAULT|USER:alice(55):rw-, DEFAULT|MASK:rwx].
	parentACL := ACL{
		{Type: TypeUserObj, Perm: PermR | PermW | PermX},
		{Type: TypeGroupObj, Perm: PermR | PermX},
		{Type: TypeOther, Perm: 0},
		{Type: TypeUser | TypeDefault, ID: 55, Perm: PermR | PermW},
		{Type: TypeMask | TypeDefault, Perm: PermR | PermW | PermX},
	}
	child := InheritDefaults(parentACL, false, 0666&^0022)

	var foundUser *Entry
	for i := range child {
		if child[i].Type == TypeUser && child[i].ID == 55 {
			foundUser = &child[i]
		}
	}
	if foundUser == nil {
		t.Fatal("expected effective USER:alice entry to be inherited")
	}
	if foundUser.Perm != (PermR | PermW) {
		t.Errorf("expected inherited perm rw-, got %03b", foundUser.Perm)
	}
}
