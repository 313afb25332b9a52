// Package directory defines the user directory collaborator consumed by
// assignment resolution, plus a static file-backed implementation for
// development and tests.
package directory

import (
	"context"
	"errors"
)

var (
	// ErrNoManager indicates the user has no manager edge in the directory.
	ErrNoManager = errors.New("user has no manager")

	// ErrUnknownUser indicates the user id is not present in the directory.
	ErrUnknownUser = errors.New("unknown user")
)

// Directory resolves role memberships and reporting lines. Implementations
// typically wrap an external identity provider; the engine only depends on
// these two queries.
type Directory interface {
	// ResolveRoleMembers returns the user ids holding the role. An unknown
	// role resolves to an empty member set, not an error.
	ResolveRoleMembers(ctx context.Context, roleID string) ([]string, error)

	// ResolveManagerOf returns the manager of the given user, or
	// ErrNoManager when the reporting line ends there.
	ResolveManagerOf(ctx context.Context, userID string) (string, error)
}
