// Package assignment turns a step's static or dynamic assignment rule into
// a concrete actor or candidate set.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/directory"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
)

var (
	// ErrUnresolvable indicates the rule cannot currently produce an actor
	// (empty role, missing manager, unknown dynamic tag). The engine
	// interprets this as reason to leave the instance pending.
	ErrUnresolvable = errors.New("assignment unresolvable")
)

// Resolution is the outcome of resolving a rule: either a single assignee
// or a candidate role whose members may all act (first commit wins).
type Resolution struct {
	AssigneeID  string
	RoleID      string
	MemberCount int
}

// IsRole reports whether the resolution fans out to a role instead of a
// single actor.
func (r Resolution) IsRole() bool {
	return r.RoleID != ""
}

// InstanceContext carries the instance attributes a dynamic resolver may
// consult. The resolver never loads anything itself.
type InstanceContext struct {
	InstanceID  string
	WorkflowID  string
	EntityType  string
	EntityID    string
	InitiatedBy string
	ContextData map[string]any
}

// DynamicResolver resolves a named assignment tag for an instance.
type DynamicResolver func(ctx context.Context, instance InstanceContext) (Resolution, error)

// Resolver dispatches assignment rules over their variants: fixed user,
// role fan-out, initiator's manager, and registered dynamic tags.
type Resolver struct {
	directory directory.Directory
	logger    *slog.Logger

	mu      sync.RWMutex
	dynamic map[string]DynamicResolver
}

// NewResolver creates a resolver backed by the given directory.
func NewResolver(dir directory.Directory, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory: dir,
		logger:    logger,
		dynamic:   make(map[string]DynamicResolver),
	}
}

// Register installs a dynamic resolver under a tag. Registering the same
// tag twice replaces the previous resolver.
func (r *Resolver) Register(tag string, resolver DynamicResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dynamic[tag] = resolver
}

// Resolve produces the actor or candidate set for a rule. A role that
// resolves to exactly one member collapses to a direct assignment; zero
// eligible members fails with ErrUnresolvable.
func (r *Resolver) Resolve(ctx context.Context, rule models.AssignmentRule, instance InstanceContext) (Resolution, error) {
	if err := rule.Validate(); err != nil {
		return Resolution{}, fmt.Errorf("resolve assignment: %w", err)
	}

	switch rule.Kind {
	case models.AssignmentKindUser:
		return Resolution{AssigneeID: rule.UserID}, nil

	case models.AssignmentKindRole:
		return r.resolveRole(ctx, rule.RoleID)

	case models.AssignmentKindManager:
		return r.resolveManager(ctx, instance.InitiatedBy)

	case models.AssignmentKindDynamic:
		return r.resolveDynamic(ctx, rule.Tag, instance)

	default:
		return Resolution{}, fmt.Errorf("resolve assignment: %w", models.ErrInvalidAssignmentRule)
	}
}

func (r *Resolver) resolveRole(ctx context.Context, roleID string) (Resolution, error) {
	members, err := r.directory.ResolveRoleMembers(ctx, roleID)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to resolve role %s: %w", roleID, err)
	}

	switch len(members) {
	case 0:
		return Resolution{}, fmt.Errorf("role %s has no members: %w", roleID, ErrUnresolvable)
	case 1:
		return Resolution{AssigneeID: members[0]}, nil
	default:
		// Any member may act; authorization is first-come, not random pick.
		return Resolution{RoleID: roleID, MemberCount: len(members)}, nil
	}
}

func (r *Resolver) resolveManager(ctx context.Context, userID string) (Resolution, error) {
	manager, err := r.directory.ResolveManagerOf(ctx, userID)
	if err != nil {
		if errors.Is(err, directory.ErrNoManager) || errors.Is(err, directory.ErrUnknownUser) {
			return Resolution{}, fmt.Errorf("no manager for %s: %w", userID, ErrUnresolvable)
		}

		return Resolution{}, fmt.Errorf("failed to resolve manager of %s: %w", userID, err)
	}

	return Resolution{AssigneeID: manager}, nil
}

func (r *Resolver) resolveDynamic(ctx context.Context, tag string, instance InstanceContext) (Resolution, error) {
	r.mu.RLock()
	resolver, ok := r.dynamic[tag]
	r.mu.RUnlock()

	if !ok {
		return Resolution{}, fmt.Errorf("no resolver registered for tag %q: %w", tag, ErrUnresolvable)
	}

	resolution, err := resolver(ctx, instance)
	if err != nil {
		return Resolution{}, fmt.Errorf("dynamic resolver %q: %w", tag, err)
	}

	if resolution.AssigneeID == "" && resolution.RoleID == "" {
		return Resolution{}, fmt.Errorf("dynamic resolver %q produced no actor: %w", tag, ErrUnresolvable)
	}

	return resolution, nil
}
