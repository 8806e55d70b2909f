// Package access decides what a viewer may see: the authorization gate, the
// route table, the navigation menu and per-list action affordances.
package access

import (
	"strings"

	"prism-dashboard/domain"
)

// RoleSet is a set of roles. The zero value is the empty set, which places
// no role requirement on a route.
type RoleSet uint8

func roleBit(r domain.Role) RoleSet {
	switch r {
	case domain.RoleAdmin:
		return 1 << 0
	case domain.RoleManager:
		return 1 << 1
	case domain.RoleDeveloper:
		return 1 << 2
	}
	return 0
}

// Of builds a set from the given roles. Unknown roles are ignored.
func Of(roles ...domain.Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s |= roleBit(r)
	}
	return s
}

// AllRoles contains every known role.
var AllRoles = Of(domain.Roles...)

func (s RoleSet) Empty() bool { return s == 0 }

// Allows reports whether r is a member of s. An unknown role is never a member.
func (s RoleSet) Allows(r domain.Role) bool {
	bit := roleBit(r)
	return bit != 0 && s&bit != 0
}

// SubsetOf reports whether every role in s is also in other. Empty means
// unrestricted: every set is a subset of an empty other, and an empty s is a
// subset of nothing else.
func (s RoleSet) SubsetOf(other RoleSet) bool {
	if other.Empty() {
		return true
	}
	if s.Empty() {
		return false
	}
	return s&^other == 0
}

// Roles returns the members in declaration order.
func (s RoleSet) Roles() []domain.Role {
	var out []domain.Role
	for _, r := range domain.Roles {
		if s.Allows(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s RoleSet) String() string {
	if s.Empty() {
		return "any"
	}
	parts := make([]string, 0, 3)
	for _, r := range s.Roles() {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ",")
}
