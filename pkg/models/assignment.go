package models

// AssignmentKind discriminates the variants of an AssignmentRule.
type AssignmentKind string

const (
	// AssignmentKindUser assigns a fixed user id.
	AssignmentKindUser AssignmentKind = "user"
	// AssignmentKindRole assigns any member of a role; first commit wins.
	AssignmentKindRole AssignmentKind = "role"
	// AssignmentKindManager assigns the initiator's manager.
	AssignmentKindManager AssignmentKind = "manager"
	// AssignmentKindDynamic dispatches to a named resolver registered at runtime.
	AssignmentKindDynamic AssignmentKind = "dynamic"
)

// AssignmentRule is the tagged variant describing how a step finds its actor.
// Exactly one of UserID, RoleID, Tag is meaningful depending on Kind;
// Kind manager needs none of them.
type AssignmentRule struct {
	Kind   AssignmentKind `json:"kind"              validate:"required,oneof=user role manager dynamic"`
	UserID string         `json:"user_id,omitempty"`
	RoleID string         `json:"role_id,omitempty"`
	Tag    string         `json:"tag,omitempty"`
}

// Validate checks that the rule carries the field its kind requires.
func (r AssignmentRule) Validate() error {
	switch r.Kind {
	case AssignmentKindUser:
		if r.UserID == "" {
			return ErrInvalidAssignmentRule
		}
	case AssignmentKindRole:
		if r.RoleID == "" {
			return ErrInvalidAssignmentRule
		}
	case AssignmentKindManager:
		// Resolved from the instance initiator, nothing to carry.
	case AssignmentKindDynamic:
		if r.Tag == "" {
			return ErrInvalidAssignmentRule
		}
	default:
		return ErrInvalidAssignmentRule
	}

	return nil
}
