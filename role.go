package authority

import (
	"errors"
	"strings"
)

// Role is an account tier. Tiers are strictly ordered and every role gate
// compares with [Role.AtLeast].
type Role int

const (
	RoleUnknown Role = iota
	RoleTrial
	RolePersonal
	RoleEmpresa
	RoleAdministrator
)

// ErrUnknownRole is returned by ParseRole for names outside the hierarchy.
var ErrUnknownRole = errors.New("unknown role")

var roleNames = [...]string{
	RoleUnknown:       "",
	RoleTrial:         "Trial",
	RolePersonal:      "Personal",
	RoleEmpresa:       "Empresa",
	RoleAdministrator: "Administrator",
}

// String returns the stored name of r.
func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return ""
	}
	return roleNames[r]
}

// AtLeast reports whether r grants everything min grants. RoleUnknown grants
// nothing.
func (r Role) AtLeast(min Role) bool {
	return r != RoleUnknown && r >= min
}

// ParseRole maps a stored role name, case-insensitively, to its tier.
func ParseRole(name string) (Role, error) {
	name = strings.TrimSpace(name)
	for r := RoleTrial; r <= RoleAdministrator; r++ {
		if strings.EqualFold(roleNames[r], name) {
			return r, nil
		}
	}
	return RoleUnknown, ErrUnknownRole
}

// isAdministrator is the gate the administrative flows use.
func isAdministrator(name string) bool {
	r, err := ParseRole(name)
	return err == nil && r.AtLeast(RoleAdministrator)
}
