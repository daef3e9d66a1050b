package auth

import (
	"errors"
	"slices"
)

// Role is the caller's authorisation tier.
type Role string

const (
	// RoleViewer reads device status and subscribes to the event stream.
	RoleViewer Role = "viewer"

	// RoleOperator can also force polls and send device commands.
	RoleOperator Role = "operator"
)

// Permission is a capability checked per route.
type Permission string

const (
	PermDeviceRead    Permission = "device:read"
	PermDeviceOperate Permission = "device:operate"
)

var grants = map[Role][]Permission{
	RoleViewer:   {PermDeviceRead},
	RoleOperator: {PermDeviceRead, PermDeviceOperate},
}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	_, ok := grants[r]
	return ok
}

// Grants reports whether role r carries perm.
func (r Role) Grants(perm Permission) bool {
	return slices.Contains(grants[r], perm)
}

var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrUnknownRole  = errors.New("auth: unknown role")
	ErrNoSecret     = errors.New("auth: signing secret is empty")
)
