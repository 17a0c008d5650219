// Package domain contains entity without logic, just meta-data
package domain

import "github.com/pkg/errors"

const (
	AdminRole = "admin"

	DefaultEmail       = "Anonymous"
	DefaultDisplayName = "Guest"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("session is not attached to a room")
)

type Role int

const (
	RoleShopper Role = iota
	RoleOperator
)

func (r Role) String() string {
	if r == RoleOperator {
		return "operator"
	}
	return "shopper"
}

// Identity is self-asserted by the client in its identify frame.
type Identity struct {
	Email       string `json:"email,omitempty" validate:"max=254"`
	DisplayName string `json:"name,omitempty" validate:"max=64"`
	Role        string `json:"role,omitempty" validate:"max=32"`
}

func (i Identity) SessionRole() Role {
	if i.Role == AdminRole {
		return RoleOperator
	}
	return RoleShopper
}

func (i Identity) EmailOrDefault() string {
	if i.Email == "" {
		return DefaultEmail
	}
	return i.Email
}

func (i Identity) NameOrDefault() string {
	if i.DisplayName == "" {
		return DefaultDisplayName
	}
	return i.DisplayName
}
