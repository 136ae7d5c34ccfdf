package domain

import "strings"

// Role is the closed set of participant roles. RoleNone is the value of every
// unregistered identity and is never granted.
type Role uint8

const (
	RoleNone Role = iota
	RoleAdmin
	RoleContractor
	RoleArchitect
	RoleInvestor
	RoleSupplier
)

var roleNames = [...]string{
	RoleNone:       "none",
	RoleAdmin:      "admin",
	RoleContractor: "contractor",
	RoleArchitect:  "architect",
	RoleInvestor:   "investor",
	RoleSupplier:   "supplier",
}

// Roles lists the grantable roles.
var Roles = []Role{RoleAdmin, RoleContractor, RoleArchitect, RoleInvestor, RoleSupplier}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return roleNames[RoleNone]
}

// Grantable reports whether r may be assigned at registration.
func (r Role) Grantable() bool {
	return r > RoleNone && int(r) < len(roleNames)
}

// ParseRole maps a role name to its Role. Unknown names yield RoleNone.
func ParseRole(s string) Role {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range roleNames {
		if name == s {
			return Role(i)
		}
	}
	return RoleNone
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	*r = ParseRole(string(b))
	return nil
}

// MilestoneStatus is the position of a milestone in the approval workflow.
type MilestoneStatus string

const (
	StatusNotCreated       MilestoneStatus = "NOT_CREATED"
	StatusSubmitted        MilestoneStatus = "SUBMITTED"
	StatusRevisionRequired MilestoneStatus = "REVISION_REQUIRED"
	StatusVerified         MilestoneStatus = "VERIFIED"
	StatusApproved         MilestoneStatus = "APPROVED"
)

// ParseMilestoneStatus accepts the upper-case form as well as lower-case and
// dashed variants ("revision-required").
func ParseMilestoneStatus(s string) (MilestoneStatus, bool) {
	norm := MilestoneStatus(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	switch norm {
	case StatusNotCreated, StatusSubmitted, StatusRevisionRequired, StatusVerified, StatusApproved:
		return norm, true
	}
	return "", false
}
