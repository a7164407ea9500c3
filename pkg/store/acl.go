package store

// ACL captures row-level read visibility: a public-read flag plus explicit
// per-role and per-user read grants. Role grants are keyed by role name so
// they survive role-record recreation.
type ACL struct {
	PublicRead bool            `json:"public_read"`
	RoleRead   map[string]bool `json:"role_read,omitempty"`
	UserRead   map[string]bool `json:"user_read,omitempty"`
}

// NewACL returns a private-by-default ACL.
func NewACL() ACL {
	return ACL{}
}

// GrantPublicRead makes the row readable by everyone.
func (a *ACL) GrantPublicRead() {
	a.PublicRead = true
}

// GrantRoleRead grants read access to members of the named role.
func (a *ACL) GrantRoleRead(roleName string) {
	if a.RoleRead == nil {
		a.RoleRead = make(map[string]bool)
	}
	a.RoleRead[roleName] = true
}

// GrantUserRead grants read access to a single user id.
func (a *ACL) GrantUserRead(userID string) {
	if a.UserRead == nil {
		a.UserRead = make(map[string]bool)
	}
	a.UserRead[userID] = true
}

// RevokeUserRead removes a user's read grant.
func (a *ACL) RevokeUserRead(userID string) {
	delete(a.UserRead, userID)
}

// CanRead reports whether a user with the given role names may see the row.
func (a ACL) CanRead(userID string, roleNames []string) bool {
	if a.PublicRead {
		return true
	}
	if a.UserRead[userID] {
		return true
	}
	for _, name := range roleNames {
		if a.RoleRead[name] {
			return true
		}
	}
	return false
}
