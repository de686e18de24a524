package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Change event actions.
const (
	ActionCreated  = "created"
	ActionAccepted = "accepted"
	ActionRejected = "rejected"
)

type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedBy string    `json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
	HeadHash  string    `json:"headHash"`
}

// ChangeEvent is one row of the append-only change log. Author is who
// proposed the change; Actor is who created or resolved it.
type ChangeEvent struct {
	ID         int64     `json:"id"`
	DocumentID string    `json:"documentId"`
	ChangeID   string    `json:"changeId"`
	Kind       string    `json:"kind"`
	Author     string    `json:"author"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Excerpt    string    `json:"excerpt"`
	CommitHash string    `json:"commitHash"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ChangeEventFilter struct {
	ChangeID string
	Action   string
	Author   string
	Limit    int
}
