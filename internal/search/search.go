// Package search indexes document paragraphs so callers can find the
// paragraph id to edit by its text.
package search

import (
	"hash/fnv"
	"strconv"
)

// Record is one indexed paragraph.
type Record struct {
	ID          string `json:"id"`
	DocumentID  string `json:"documentId"`
	ParagraphID string `json:"paragraphId"`
	Type        string `json:"type"`
	Text        string `json:"text"`
}

// Result is a single search hit. Snippet carries <mark> highlights.
type Result struct {
	DocumentID  string `json:"documentId"`
	ParagraphID string `json:"paragraphId"`
	Text        string `json:"text"`
	Snippet     string `json:"snippet"`
}

type Query struct {
	Text       string
	DocumentID string // empty searches every document
	Limit      int
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// Searcher executes a paragraph search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// RecordID derives an index key from a document and paragraph id. Meilisearch
// only accepts [a-zA-Z0-9_-] keys, paragraph ids are arbitrary strings.
func RecordID(documentID, paragraphID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(documentID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(paragraphID))
	return "p_" + strconv.FormatUint(h.Sum64(), 16)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
