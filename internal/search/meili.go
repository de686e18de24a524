package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxParagraphs = "redline_paragraphs"

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili indexes paragraphs in Meilisearch. A background loop tracks server
// health and reconfigures the index when the server comes back.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili connects to url. An unreachable server is not an error; the
// client reports unhealthy until the server answers.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}
	if _, err := m.client.Health(); err != nil {
		logger.Warn("search: meilisearch unavailable", slog.String("url", url), slog.Any("error", err))
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}
	go m.healthLoop(10 * time.Second)
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxParagraphs, PrimaryKey: "id"}); err != nil {
		m.logger.Debug("search: create index", slog.String("index", idxParagraphs), slog.Any("error", err))
	}
	index := m.client.Index(idxParagraphs)
	filterable := []interface{}{"documentId", "paragraphId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("search: update filterable attributes", slog.Any("error", err))
	}
	searchable := []string{"text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("search: update searchable attributes", slog.Any("error", err))
	}
}

func (m *Meili) healthLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			was := m.healthy.Swap(err == nil)
			if err == nil && !was {
				m.logger.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}
	req := &meili.SearchRequest{
		Limit:                 int64(limitOrDefault(q.Limit)),
		AttributesToHighlight: []string{"text"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if q.DocumentID != "" {
		req.Filter = fmt.Sprintf("documentId = %q", q.DocumentID)
	}
	resp, err := m.client.Index(idxParagraphs).Search(q.Text, req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func (m *Meili) IndexParagraphs(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxParagraphs).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteParagraphs(ids []string) error {
	index := m.client.Index(idxParagraphs)
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return err
		}
	}
	return nil
}

func hitToResult(hit meili.Hit) Result {
	text := decodeString(hit, "text")
	return Result{
		DocumentID:  decodeString(hit, "documentId"),
		ParagraphID: decodeString(hit, "paragraphId"),
		Text:        text,
		Snippet:     firstNonBlank(decodeFormattedString(hit, "text"), text),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
