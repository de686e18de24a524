package app

import (
	"time"

	"redline/api/internal/events"
	"redline/api/internal/store"
	"redline/api/internal/trackchanges"
)

const excerptRunes = 200

type markerChange struct {
	Marker trackchanges.Marker
	Action string
}

// diffMarkers compares the markers of two versions. Markers only present
// after are created; markers only present before were resolved with
// resolution.
func diffMarkers(before, after []trackchanges.Marker, resolution string) []markerChange {
	seen := make(map[string]struct{}, len(after))
	for _, m := range after {
		seen[m.ID] = struct{}{}
	}
	old := make(map[string]struct{}, len(before))
	var out []markerChange
	for _, m := range before {
		old[m.ID] = struct{}{}
		if _, ok := seen[m.ID]; !ok && resolution != "" {
			out = append(out, markerChange{Marker: m, Action: resolution})
		}
	}
	for _, m := range after {
		if _, ok := old[m.ID]; !ok {
			out = append(out, markerChange{Marker: m, Action: store.ActionCreated})
		}
	}
	return out
}

func createdMarkers(changes []markerChange) []trackchanges.Marker {
	out := []trackchanges.Marker{}
	for _, c := range changes {
		if c.Action == store.ActionCreated {
			out = append(out, c.Marker)
		}
	}
	return out
}

func changeEvents(documentID string, actor Actor, hash string, changes []markerChange, at time.Time) []store.ChangeEvent {
	out := make([]store.ChangeEvent, 0, len(changes))
	for _, c := range changes {
		out = append(out, store.ChangeEvent{
			DocumentID: documentID,
			ChangeID:   c.Marker.ID,
			Kind:       c.Marker.Kind.String(),
			Author:     c.Marker.Author,
			Actor:      actor.Name,
			Action:     c.Action,
			Excerpt:    excerpt(c.Marker.Text),
			CommitHash: hash,
			CreatedAt:  at,
		})
	}
	return out
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptRunes {
		return text
	}
	return string(runes[:excerptRunes-1]) + "…"
}

func eventType(action string) string {
	switch action {
	case store.ActionAccepted:
		return events.TypeChangeAccepted
	case store.ActionRejected:
		return events.TypeChangeRejected
	default:
		return events.TypeChangeCreated
	}
}
