package search

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Index is a searcher the service keeps in sync with every committed
// document, such as PgFTS.
type Index interface {
	Searcher
	Replace(ctx context.Context, documentID string, records []Record) error
}

// Service keeps the in-memory snapshot current and mirrors every change into
// Meilisearch and the fallback index when they are configured. Queries go to
// Meilisearch while it is healthy, then to the fallback index, and to the
// snapshot when both fail.
type Service struct {
	meili    *Meili
	fallback Index
	snapshot *Snapshot
	logger   *slog.Logger
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*update
}

// update is the newest state of one document not yet sent to the indexes.
// Updates of a document are sent by one goroutine at a time, so an older
// state never lands after a newer one.
type update struct {
	records []Record
	removed []string
	next    bool
}

// NewService creates the service. meili and fallback may be nil.
func NewService(meili *Meili, fallback Index, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		meili:    meili,
		fallback: fallback,
		snapshot: NewSnapshot(),
		logger:   logger,
		pending:  make(map[string]*update),
	}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "meilisearch"}
		}
		s.logger.Warn("search: meilisearch failed, trying fallback", slog.Any("error", err))
	}
	if s.fallback != nil && s.fallback.Healthy() {
		results, total, err := s.fallback.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "postgres"}
		}
		s.logger.Warn("search: postgres fts failed, scanning snapshot", slog.Any("error", err))
	}
	results, total, _ := s.snapshot.Search(q)
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "snapshot"}
}

// IndexDocument replaces the indexed paragraphs of one document. The
// snapshot is updated right away; the other indexes in the background.
// While an update of the same document is in flight, further calls are
// folded into one follow-up carrying the latest records.
func (s *Service) IndexDocument(documentID string, records []Record) {
	removed := s.snapshot.Replace(documentID, records)
	if s.meili == nil && s.fallback == nil {
		return
	}
	batch := append([]Record(nil), records...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.pending[documentID]; ok {
		u.removed = pruneRemoved(append(u.removed, removed...), batch)
		u.records = batch
		u.next = true
		return
	}
	s.pending[documentID] = &update{}
	s.wg.Add(1)
	go s.drain(documentID, update{records: batch, removed: removed})
}

func (s *Service) drain(documentID string, u update) {
	defer s.wg.Done()
	for {
		s.send(documentID, u)

		s.mu.Lock()
		queued := s.pending[documentID]
		if !queued.next {
			delete(s.pending, documentID)
			s.mu.Unlock()
			return
		}
		u = update{records: queued.records, removed: queued.removed}
		s.pending[documentID] = &update{}
		s.mu.Unlock()
	}
}

func (s *Service) send(documentID string, u update) {
	if s.meili != nil && s.meili.Healthy() {
		if err := s.meili.IndexParagraphs(u.records); err != nil {
			s.logger.Warn("search: index paragraphs", slog.String("documentId", documentID), slog.Any("error", err))
		}
		if err := s.meili.DeleteParagraphs(u.removed); err != nil {
			s.logger.Warn("search: delete paragraphs", slog.String("documentId", documentID), slog.Any("error", err))
		}
	}
	if s.fallback != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.fallback.Replace(ctx, documentID, u.records); err != nil {
			s.logger.Warn("search: postgres fts replace", slog.String("documentId", documentID), slog.Any("error", err))
		}
	}
}

// pruneRemoved drops ids that are indexed again by records.
func pruneRemoved(removed []string, records []Record) []string {
	present := make(map[string]struct{}, len(records))
	for _, r := range records {
		present[r.ID] = struct{}{}
	}
	out := removed[:0]
	seen := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		if _, ok := present[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Wait blocks until background index updates have been sent.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Close() {
	s.Wait()
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
