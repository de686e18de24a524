package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer comment", role: RoleViewer, action: ActionComment, allow: false},
		{name: "commenter comment", role: RoleCommenter, action: ActionComment, allow: true},
		{name: "commenter suggest", role: RoleCommenter, action: ActionSuggest, allow: false},
		{name: "suggester suggest", role: RoleSuggester, action: ActionSuggest, allow: true},
		{name: "suggester edit", role: RoleSuggester, action: ActionEdit, allow: false},
		{name: "suggester resolve", role: RoleSuggester, action: ActionResolve, allow: false},
		{name: "editor resolve", role: RoleEditor, action: ActionResolve, allow: true},
		{name: "editor admin", role: RoleEditor, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown role", role: Role("owner"), action: ActionRead, allow: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allow, Can(tc.role, tc.action))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, RoleSuggester, Normalize("suggester"))
	assert.Equal(t, RoleViewer, Normalize("owner"))
	assert.Equal(t, RoleViewer, Normalize(""))
}

func TestForcesTracking(t *testing.T) {
	assert.True(t, ForcesTracking(RoleSuggester))
	assert.False(t, ForcesTracking(RoleEditor))
	assert.False(t, ForcesTracking(RoleAdmin))
}
