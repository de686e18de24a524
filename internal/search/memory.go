package search

import (
	"html"
	"sort"
	"strings"
	"sync"
)

// Snapshot holds the latest paragraphs of every document in memory and
// answers queries by scanning them. It serves when Meilisearch is down.
type Snapshot struct {
	mu   sync.RWMutex
	docs map[string][]Record
}

func NewSnapshot() *Snapshot {
	return &Snapshot{docs: make(map[string][]Record)}
}

// Replace swaps the paragraphs of one document and returns the ids that are
// no longer present.
func (s *Snapshot) Replace(documentID string, records []Record) (removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make(map[string]struct{}, len(records))
	for _, r := range records {
		keep[r.ID] = struct{}{}
	}
	for _, old := range s.docs[documentID] {
		if _, ok := keep[old.ID]; !ok {
			removed = append(removed, old.ID)
		}
	}
	if len(records) == 0 {
		delete(s.docs, documentID)
	} else {
		s.docs[documentID] = append([]Record(nil), records...)
	}
	return removed
}

func (s *Snapshot) Remove(documentID string) []string {
	return s.Replace(documentID, nil)
}

func (s *Snapshot) Healthy() bool {
	return true
}

// Search matches every query term case-insensitively against paragraph text.
// Hits are ordered by document id then position.
func (s *Snapshot) Search(q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	documentIDs := make([]string, 0, len(s.docs))
	for id := range s.docs {
		if q.DocumentID == "" || q.DocumentID == id {
			documentIDs = append(documentIDs, id)
		}
	}
	sort.Strings(documentIDs)

	limit := limitOrDefault(q.Limit)
	results := make([]Result, 0)
	total := 0
	for _, id := range documentIDs {
		for _, r := range s.docs[id] {
			lower := strings.ToLower(r.Text)
			if !containsAll(lower, terms) {
				continue
			}
			total++
			if len(results) < limit {
				results = append(results, Result{
					DocumentID:  r.DocumentID,
					ParagraphID: r.ParagraphID,
					Text:        r.Text,
					Snippet:     highlight(r.Text, terms[0]),
				})
			}
		}
	}
	return results, total, nil
}

func containsAll(text string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}

// highlight escapes text and wraps the first occurrence of term in <mark>.
func highlight(text, term string) string {
	idx := strings.Index(strings.ToLower(text), term)
	if idx < 0 || len(strings.ToLower(text)) != len(text) {
		return html.EscapeString(text)
	}
	end := idx + len(term)
	return html.EscapeString(text[:idx]) + "<mark>" + html.EscapeString(text[idx:end]) + "</mark>" + html.EscapeString(text[end:])
}
