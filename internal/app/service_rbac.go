package app

import (
	"redline/api/internal/rbac"
	"redline/api/internal/trackchanges"
)

// Actor is the authenticated caller. Name is recorded as the author of
// every change the actor makes.
type Actor struct {
	Name string
	Role rbac.Role
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

// editSession is the session an actor's raw edits run under. Roles without
// edit rights always suggest; everyone else follows the document switch.
// The author is always the actor.
func editSession(actor Actor, current trackchanges.SessionState) trackchanges.SessionState {
	return trackchanges.SessionState{
		Enabled: current.Enabled || rbac.ForcesTracking(actor.Role),
		Author:  actor.Name,
	}
}
