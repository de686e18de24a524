// Package rbac decides which document actions a role may perform.
package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleSuggester Role = "suggester"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	// ActionSuggest edits the document with track changes forced on.
	ActionSuggest Action = "suggest"
	// ActionEdit edits the document under the document's own tracking session
	// and toggles that session.
	ActionEdit    Action = "edit"
	ActionResolve Action = "resolve"
	ActionAdmin   Action = "admin"
)

var grants = map[Role][]Action{
	RoleViewer:    {ActionRead},
	RoleCommenter: {ActionRead, ActionComment},
	RoleSuggester: {ActionRead, ActionComment, ActionSuggest},
	RoleEditor:    {ActionRead, ActionComment, ActionSuggest, ActionEdit, ActionResolve},
}

func Can(role Role, action Action) bool {
	if role == RoleAdmin {
		return true
	}
	for _, granted := range grants[role] {
		if granted == action {
			return true
		}
	}
	return false
}

// Normalize maps unknown roles to viewer.
func Normalize(role string) Role {
	switch r := Role(role); r {
	case RoleViewer, RoleCommenter, RoleSuggester, RoleEditor, RoleAdmin:
		return r
	default:
		return RoleViewer
	}
}

// ForcesTracking reports whether the role's edits are always recorded as
// tracked changes regardless of the document session.
func ForcesTracking(role Role) bool {
	return !Can(role, ActionEdit)
}
