package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"redline/api/internal/config"
	"redline/api/internal/events"
	"redline/api/internal/export"
	"redline/api/internal/gitrepo"
	"redline/api/internal/metrics"
	"redline/api/internal/prosemirror"
	"redline/api/internal/search"
	"redline/api/internal/session"
	"redline/api/internal/store"
	"redline/api/internal/trackchanges"
)

type dataStore interface {
	ListDocuments(context.Context) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) error
	TouchDocument(context.Context, string, string, string) error
	InsertChangeEvents(context.Context, []store.ChangeEvent) error
	ListChangeEvents(context.Context, string, store.ChangeEventFilter) ([]store.ChangeEvent, error)
	Ping(ctx context.Context) error
}

type gitService interface {
	Exists(string) bool
	Create(string, gitrepo.Content, string) (gitrepo.Version, error)
	Commit(string, gitrepo.Content, string, string) (gitrepo.Version, bool, error)
	Head(string) (gitrepo.Content, gitrepo.Version, error)
	ContentAt(string, string) (gitrepo.Content, gitrepo.Version, error)
	History(string, int) ([]gitrepo.Version, error)
}

type publisher interface {
	Publish(events.Event)
	PublishCommit(documentID, hash string)
}

type indexer interface {
	IndexDocument(documentID string, records []search.Record)
	Search(search.Query) search.Response
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

// document is the in-memory editing state of one document. mu serialises
// every operation on it; the editor is rebuilt whenever git moved on
// without us.
type document struct {
	mu      sync.Mutex
	id      string
	title   string
	head    string
	editor  *prosemirror.Editor
	engine  *trackchanges.Engine
	commits int
}

func (d *document) invalidate() {
	d.head = ""
	d.editor = nil
	d.engine = nil
}

type Service struct {
	cfg      config.Config
	store    dataStore
	git      gitService
	sessions session.Store
	events   publisher
	search   indexer
	exporter exporter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	docs map[string]*document
}

type Option func(*Service)

func WithEvents(p publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithSearch(i indexer) Option {
	return func(s *Service) { s.search = i }
}

func WithExporter(e exporter) Option {
	return func(s *Service) { s.exporter = e }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(cfg config.Config, dataStore *store.PostgresStore, gitService *gitrepo.Service, sessions session.Store, opts ...Option) *Service {
	return newService(cfg, dataStore, gitService, sessions, opts...)
}

func newService(cfg config.Config, ds dataStore, git gitService, sessions session.Store, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    ds,
		git:      git,
		sessions: sessions,
		search:   search.NewService(nil, nil, nil),
		exporter: export.NewService(),
		logger:   slog.Default(),
		now:      time.Now,
		docs:     make(map[string]*document),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessions == nil {
		s.sessions = session.NewMemoryStore()
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

const welcomeDocumentID = "welcome"

// Bootstrap seeds a first document on an empty installation and indexes
// every known document so search works before anyone edits.
func (s *Service) Bootstrap(ctx context.Context) error {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(documents) == 0 {
		if _, err := s.CreateDocument(ctx, Actor{Name: s.cfg.AIAuthor}, CreateDocumentInput{
			ID:    welcomeDocumentID,
			Title: "Welcome to Redline",
			Doc:   welcomeDoc(),
		}); err != nil {
			return fmt.Errorf("seed welcome document: %w", err)
		}
		return nil
	}
	for _, doc := range documents {
		_, unlock, err := s.acquire(ctx, doc.ID)
		if err != nil {
			s.logger.Warn("bootstrap: skip document", slog.String("documentId", doc.ID), slog.Any("error", err))
			continue
		}
		unlock()
	}
	return nil
}

func welcomeDoc() json.RawMessage {
	return json.RawMessage(`{"type":"doc","content":[
		{"type":"heading","attrs":{"level":1,"nodeId":"welcome-title"},"content":[{"type":"text","text":"Welcome"}]},
		{"type":"paragraph","attrs":{"nodeId":"welcome-intro"},"content":[{"type":"text","text":"Turn on track changes and start typing. Every insertion and deletion is recorded with its author until someone accepts or rejects it."}]}
	]}`)
}

type CreateDocumentInput struct {
	ID    string          `json:"id"`
	Title string          `json:"title"`
	Doc   json.RawMessage `json:"doc"`
}

func (s *Service) CreateDocument(ctx context.Context, actor Actor, input CreateDocumentInput) (DocumentView, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return DocumentView{}, validationError("title is required", nil)
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if !validDocumentID(id) {
		return DocumentView{}, validationError("id may only contain letters, digits, '-' and '_'", map[string]any{"id": id})
	}
	if s.git.Exists(id) {
		return DocumentView{}, domainError(http.StatusConflict, "DOCUMENT_EXISTS", "Document already exists", map[string]any{"id": id})
	}

	doc := prosemirror.NewDoc(prosemirror.NewParagraph(uuid.NewString()))
	if len(input.Doc) > 0 {
		parsed, err := prosemirror.Parse(input.Doc)
		if err != nil {
			return DocumentView{}, err
		}
		doc = parsed
	}
	assignParagraphIDs(doc)
	raw, err := json.Marshal(doc)
	if err != nil {
		return DocumentView{}, fmt.Errorf("encode document: %w", err)
	}

	version, err := s.git.Create(id, gitrepo.Content{Title: title, Doc: raw}, actor.Name)
	if err != nil {
		return DocumentView{}, fmt.Errorf("create repository: %w", err)
	}
	if err := s.store.InsertDocument(ctx, store.Document{
		ID:        id,
		Title:     title,
		CreatedBy: actor.Name,
		UpdatedBy: actor.Name,
		HeadHash:  version.Hash,
	}); err != nil {
		return DocumentView{}, fmt.Errorf("register document: %w", err)
	}
	return s.GetDocument(ctx, id)
}

// assignParagraphIDs gives every textblock without a stable id a fresh one.
// Only used when a document is created; later edits never assign ids.
func assignParagraphIDs(doc *prosemirror.Node) {
	doc.Descendants(func(node *prosemirror.Node, _ int, _ *prosemirror.Node) bool {
		if !node.IsTextblock() {
			return !node.IsLeaf()
		}
		if node.Attr(trackchanges.ParagraphIDAttr) == "" {
			node.SetAttr(trackchanges.ParagraphIDAttr, uuid.NewString())
		}
		return false
	})
}

func validDocumentID(id string) bool {
	if len(id) > 100 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// DocumentView is a document as returned to clients.
type DocumentView struct {
	ID        string                    `json:"id"`
	Title     string                    `json:"title"`
	Version   string                    `json:"version"`
	UpdatedBy string                    `json:"updatedBy"`
	UpdatedAt time.Time                 `json:"updatedAt"`
	Doc       *prosemirror.Node         `json:"doc"`
	Tracking  trackchanges.SessionState `json:"tracking"`
	Markers   []trackchanges.Marker     `json:"changes"`
	Comments  []string                  `json:"commentIds"`
}

func (s *Service) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return s.store.ListDocuments(ctx)
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (DocumentView, error) {
	d, unlock, err := s.acquire(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	defer unlock()
	return s.view(ctx, d), nil
}

func (s *Service) view(ctx context.Context, d *document) DocumentView {
	doc := d.editor.Doc()
	view := DocumentView{
		ID:       d.id,
		Title:    d.title,
		Version:  d.head,
		Doc:      doc,
		Tracking: d.engine.Session().State(),
		Markers:  nonNilMarkers(trackchanges.Markers(doc)),
		Comments: nonNilStrings(trackchanges.CommentIDs(doc)),
	}
	if meta, err := s.store.GetDocument(ctx, d.id); err == nil {
		view.UpdatedBy = meta.UpdatedBy
		view.UpdatedAt = meta.UpdatedAt
	}
	return view
}

func (s *Service) Paragraphs(ctx context.Context, documentID string) ([]trackchanges.Paragraph, error) {
	d, unlock, err := s.acquire(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	paragraphs := trackchanges.Paragraphs(d.editor.Doc())
	if paragraphs == nil {
		paragraphs = []trackchanges.Paragraph{}
	}
	return paragraphs, nil
}

func (s *Service) Paragraph(ctx context.Context, documentID, paragraphID string) (trackchanges.Paragraph, error) {
	d, unlock, err := s.acquire(ctx, documentID)
	if err != nil {
		return trackchanges.Paragraph{}, err
	}
	defer unlock()
	return d.engine.Paragraph(paragraphID)
}

func (s *Service) Changes(ctx context.Context, documentID string) ([]trackchanges.Marker, error) {
	d, unlock, err := s.acquire(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return nonNilMarkers(trackchanges.Markers(d.editor.Doc())), nil
}

func (s *Service) Tracking(ctx context.Context, documentID string) (trackchanges.SessionState, error) {
	d, unlock, err := s.acquire(ctx, documentID)
	if err != nil {
		return trackchanges.SessionState{}, err
	}
	defer unlock()
	return d.engine.Session().State(), nil
}

// TrackingInput changes the document's tracking session. Nil fields are left
// alone.
type TrackingInput struct {
	Enabled *bool   `json:"enabled"`
	Author  *string `json:"author"`
}

func (s *Service) SetTracking(ctx context.Context, actor Actor, documentID string, input TrackingInput) (trackchanges.SessionState, error) {
	if input.Enabled == nil && input.Author == nil {
		return trackchanges.SessionState{}, validationError("enabled or author is required", nil)
	}
	d, unlock, err := s.acquire(ctx, documentID)
	if err != nil {
		return trackchanges.SessionState{}, err
	}
	defer unlock()

	sess := d.engine.Session()
	if input.Enabled != nil {
		sess.SetEnabled(*input.Enabled)
	}
	if input.Author != nil {
		sess.SetAuthor(strings.TrimSpace(*input.Author))
	}
	state := sess.State()
	if err := s.sessions.Save(ctx, documentID, state); err != nil {
		return trackchanges.SessionState{}, fmt.Errorf("save tracking session: %w", err)
	}
	s.publish(events.Event{
		DocumentID: documentID,
		Type:       events.TypeTrackingUpdated,
		Data:       map[string]any{"enabled": state.Enabled, "author": state.Author, "changedBy": actor.Name},
	})
	return state, nil
}

// EditOp is one raw range edit. Positions are document positions in the
// version the client last saw.
type EditOp struct {
	Op   string `json:"op"`
	From int    `json:"from"`
	To   int    `json:"to"`
	Text string `json:"text"`
}

const (
	opInsert  = "insert"
	opDelete  = "delete"
	opReplace = "replace"
)

// EditResult reports the outcome of an edit request. Applied counts the
// ops that committed; it is short of the request when an op failed.
type EditResult struct {
	Version string                `json:"version"`
	Created []trackchanges.Marker `json:"createdChanges"`
	Applied int                   `json:"applied"`
}

// ApplyEdits applies ops in order as actor. Each op is its own transaction,
// so later positions must already account for earlier ops. When an op fails
// the ones before it stay committed and the returned result describes them
// alongside the error.
func (s *Service) ApplyEdits(ctx context.Context, actor Actor, documentID string, ops []EditOp) (EditResult, error) {
	if len(ops) == 0 {
		return EditResult{}, validationError("at least one edit is required", nil)
	}
	for i, op := range ops {
		if err := validateEditOp(op); err != nil {
			return EditResult{}, validationError(err.Error(), map[string]any{"index": i})
		}
	}

	var result EditResult
	err := s.mutate(ctx, documentID, actor, mutation{
		message:    fmt.Sprintf("Edit by %s", actor.Name),
		resolution: store.ActionRejected,
		run: func(d *document) error {
			restore := d.engine.Session().Override(editSession(actor, d.engine.Session().State()))
			defer restore()
			for i, op := range ops {
				if err := applyEditOp(d.engine, op); err != nil {
					return fmt.Errorf("edit %d: %w", i, err)
				}
				result.Applied = i + 1
			}
			return nil
		},
		done: func(d *document, changes []markerChange) {
			result.Version = d.head
			result.Created = createdMarkers(changes)
		},
	})
	return result, err
}

func validateEditOp(op EditOp) error {
	switch op.Op {
	case opInsert:
		if op.Text == "" {
			return fmt.Errorf("insert requires text")
		}
	case opDelete:
		if op.To <= op.From {
			return fmt.Errorf("delete requires from < to")
		}
	case opReplace:
		if op.To < op.From {
			return fmt.Errorf("replace requires from <= to")
		}
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
	if op.From < 0 {
		return fmt.Errorf("from must not be negative")
	}
	return nil
}

func applyEditOp(engine *trackchanges.Engine, op EditOp) error {
	switch op.Op {
	case opInsert:
		return engine.InsertText(op.From, op.Text)
	case opDelete:
		return engine.DeleteRange(op.From, op.To)
	default:
		return engine.ReplaceRange(op.From, op.To, op.Text)
	}
}

// Resolve accepts or rejects one change. An unknown id resolves nothing and
// is not an error.
func (s *Service) Resolve(ctx context.Context, actor Actor, documentID, changeID string, accept bool) (bool, error) {
	changeID = strings.TrimSpace(changeID)
	if changeID == "" {
		return false, validationError("change id is required", nil)
	}
	var resolved bool
	verb, action := "Reject", store.ActionRejected
	if accept {
		verb, action = "Accept", store.ActionAccepted
	}
	err := s.mutate(ctx, documentID, actor, mutation{
		message:    fmt.Sprintf("%s change %s", verb, changeID),
		resolution: action,
		run: func(d *document) error {
			var err error
			if accept {
				resolved, err = d.engine.Accept(changeID)
			} else {
				resolved, err = d.engine.Reject(changeID)
			}
			return err
		},
	})
	return resolved, err
}

// ResolveAll accepts or rejects every pending change and reports how many
// marker runs were resolved.
func (s *Service) ResolveAll(ctx context.Context, actor Actor, documentID string, accept bool) (int, error) {
	var n int
	verb, action := "Reject", store.ActionRejected
	if accept {
		verb, action = "Accept", store.ActionAccepted
	}
	err := s.mutate(ctx, documentID, actor, mutation{
		message:    verb + " all changes",
		resolution: action,
		run: func(d *document) error {
			var err error
			if accept {
				n, err = d.engine.AcceptAll()
			} else {
				n, err = d.engine.RejectAll()
			}
			return err
		},
	})
	return n, err
}

// ApplyParagraphEdits proposes whole-paragraph rewrites as tracked changes
// authored by actor. The document's own session is untouched afterwards.
func (s *Service) ApplyParagraphEdits(ctx context.Context, actor Actor, documentID string, edits []trackchanges.ParagraphEdit) ([]trackchanges.ParagraphEditResult, error) {
	if len(edits) == 0 {
		return nil, validationError("at least one edit is required", nil)
	}
	for i, edit := range edits {
		if strings.TrimSpace(edit.ParagraphID) == "" {
			return nil, validationError("paragraphId is required", map[string]any{"index": i})
		}
	}

	var results []trackchanges.ParagraphEditResult
	err := s.mutate(ctx, documentID, actor, mutation{
		message:    fmt.Sprintf("Suggested edits by %s", actor.Name),
		resolution: store.ActionRejected,
		run: func(d *document) error {
			var err error
			results, err = d.engine.ApplyParagraphEdits(edits, actor.Name)
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	applied := 0
	for _, r := range results {
		if r.Applied {
			applied++
		}
	}
	s.metrics.ParagraphEditsApplied(applied, len(results)-applied)
	return results, nil
}

// CommentInput anchors a comment. With ParagraphID set, From and To are
// rune offsets into that paragraph's text; otherwise document positions.
type CommentInput struct {
	CommentID   string `json:"commentId"`
	ParagraphID string `json:"paragraphId"`
	From        int    `json:"from"`
	To          int    `json:"to"`
}

// CommentView is a comment anchor as currently present in the document.
type CommentView struct {
	ID     string               `json:"commentId"`
	Text   string               `json:"text"`
	Ranges []trackchanges.Range `json:"ranges"`
}

func (s *Service) AddComment(ctx context.Context, actor Actor, documentID string, input CommentInput) (CommentView, error) {
	if input.To <= input.From || input.From < 0 {
		return CommentView{}, validationError("comment range must satisfy 0 <= from < to", nil)
	}
	id := strings.TrimSpace(input.CommentID)
	if id == "" {
		id = "comment-" + uuid.NewString()
	}

	var view CommentView
	err := s.mutate(ctx, documentID, actor, mutation{
		message: fmt.Sprintf("Comment %s by %s", id, actor.Name),
		run: func(d *document) error {
			from, to := input.From, input.To
			if input.ParagraphID != "" {
				p, err := d.engine.Paragraph(input.ParagraphID)
				if err != nil {
					return err
				}
				from, to = p.From+input.From, p.From+input.To
				if to > p.To {
					return fmt.Errorf("%w: comment extends past paragraph %s", prosemirror.ErrInvalidRange, p.ID)
				}
			}
			return d.engine.AddComment(from, to, id)
		},
		done: func(d *document, _ []markerChange) {
			view = commentView(d.editor.Doc(), id)
		},
	})
	return view, err
}

func (s *Service) Comment(ctx context.Context, documentID, commentID string) (CommentView, error) {
	d, unlock, err := s.acquire(ctx, documentID)
	if err != nil {
		return CommentView{}, err
	}
	defer unlock()
	view := commentView(d.editor.Doc(), commentID)
	if len(view.Ranges) == 0 {
		return CommentView{}, domainError(http.StatusNotFound, "COMMENT_NOT_FOUND", "Comment not found", map[string]any{"commentId": commentID})
	}
	return view, nil
}

func (s *Service) RemoveComment(ctx context.Context, actor Actor, documentID, commentID string) (bool, error) {
	var removed bool
	err := s.mutate(ctx, documentID, actor, mutation{
		message: fmt.Sprintf("Remove comment %s", commentID),
		run: func(d *document) error {
			var err error
			removed, err = d.engine.RemoveComment(commentID)
			return err
		},
	})
	return removed, err
}

func commentView(doc *prosemirror.Node, id string) CommentView {
	ranges := trackchanges.FindComment(doc, id)
	var text strings.Builder
	for _, r := range ranges {
		text.WriteString(doc.TextBetween(r.From, r.To))
	}
	if ranges == nil {
		ranges = []trackchanges.Range{}
	}
	return CommentView{ID: id, Text: text.String(), Ranges: ranges}
}

func (s *Service) History(ctx context.Context, documentID string, limit int) ([]gitrepo.Version, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	history, err := s.git.History(documentID, limit)
	if err != nil {
		return nil, err
	}
	return history, nil
}

// Version returns a past version of the document with the markers it had
// then.
func (s *Service) Version(ctx context.Context, documentID, hash string) (DocumentView, error) {
	content, version, err := s.git.ContentAt(documentID, hash)
	if err != nil {
		return DocumentView{}, err
	}
	doc, err := parseContent(content)
	if err != nil {
		return DocumentView{}, err
	}
	return DocumentView{
		ID:        documentID,
		Title:     content.Title,
		Version:   version.Hash,
		UpdatedBy: version.Author,
		UpdatedAt: version.CreatedAt,
		Doc:       doc,
		Markers:   nonNilMarkers(trackchanges.Markers(doc)),
		Comments:  nonNilStrings(trackchanges.CommentIDs(doc)),
	}, nil
}

// Export renders the document, or the version hash when it is set.
func (s *Service) Export(ctx context.Context, documentID, hash string, format export.Format) (*export.Result, error) {
	var view DocumentView
	var err error
	if hash != "" {
		view, err = s.Version(ctx, documentID, hash)
	} else {
		view, err = s.GetDocument(ctx, documentID)
	}
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		DocumentID: documentID,
		Title:      view.Title,
		Version:    view.Version,
		UpdatedBy:  view.UpdatedBy,
		UpdatedAt:  view.UpdatedAt,
		Doc:        view.Doc,
		Markers:    view.Markers,
		Format:     format,
	})
}

type ActivityFilterInput struct {
	ChangeID string
	Action   string
	Author   string
	Limit    int
}

var allowedActions = map[string]struct{}{
	store.ActionCreated:  {},
	store.ActionAccepted: {},
	store.ActionRejected: {},
}

// Activity lists the change log of a document, newest first.
func (s *Service) Activity(ctx context.Context, documentID string, input ActivityFilterInput) ([]store.ChangeEvent, error) {
	if input.Action != "" {
		if _, ok := allowedActions[input.Action]; !ok {
			return nil, validationError("action must be created, accepted or rejected", map[string]any{"action": input.Action})
		}
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	items, err := s.store.ListChangeEvents(ctx, documentID, store.ChangeEventFilter{
		ChangeID: input.ChangeID,
		Action:   input.Action,
		Author:   input.Author,
		Limit:    input.Limit,
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.ChangeEvent{}
	}
	return items, nil
}

func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := s.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	return nil
}

func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// acquire locks the document and brings its editor up to date with git and
// its session up to date with the session store. The caller must call
// unlock.
func (s *Service) acquire(ctx context.Context, documentID string) (*document, func(), error) {
	s.mu.Lock()
	d, ok := s.docs[documentID]
	if !ok {
		d = &document{id: documentID}
		s.docs[documentID] = d
	}
	s.mu.Unlock()

	d.mu.Lock()
	if err := s.refresh(ctx, d); err != nil {
		d.mu.Unlock()
		return nil, nil, err
	}
	return d, d.mu.Unlock, nil
}

func (s *Service) refresh(ctx context.Context, d *document) error {
	content, version, err := s.git.Head(d.id)
	if err != nil {
		d.invalidate()
		return err
	}
	if d.editor == nil || version.Hash != d.head {
		doc, err := parseContent(content)
		if err != nil {
			return err
		}
		d.editor = prosemirror.NewEditor(doc, prosemirror.WithLogger(s.logger))
		d.editor.OnCommit(func(prosemirror.Commit) { d.commits++ })
		d.engine = trackchanges.New(trackchanges.NewSession(),
			trackchanges.WithLogger(s.logger),
			trackchanges.WithClock(s.now),
		)
		d.engine.Attach(d.editor)
		d.title = content.Title
		d.head = version.Hash
		s.index(d.id, doc)
	}

	state, ok, err := s.sessions.Load(ctx, d.id)
	if err != nil {
		return fmt.Errorf("load tracking session: %w", err)
	}
	if !ok {
		state = trackchanges.SessionState{Author: trackchanges.PlaceholderAuthor}
	}
	d.engine.Session().Restore(state)
	return nil
}

func parseContent(content gitrepo.Content) (*prosemirror.Node, error) {
	if len(content.Doc) == 0 {
		return prosemirror.NewDoc(), nil
	}
	return prosemirror.Parse(content.Doc)
}

type mutation struct {
	message string
	// resolution is the action logged for markers that disappear.
	resolution string
	run        func(d *document) error
	done       func(d *document, changes []markerChange)
}

// mutate runs m on the locked document and, when it committed anything,
// persists the new version and fans out the resulting change events. done
// also runs for a failed run that committed part of its work.
func (s *Service) mutate(ctx context.Context, documentID string, actor Actor, m mutation) error {
	d, unlock, err := s.acquire(ctx, documentID)
	if err != nil {
		return err
	}
	defer unlock()

	d.commits = 0
	before := d.editor.Doc()
	runErr := m.run(d)
	var changes []markerChange
	if d.commits > 0 {
		changes, err = s.persist(ctx, d, before, actor, m)
		if err != nil {
			return err
		}
	}
	if m.done != nil && (runErr == nil || d.commits > 0) {
		m.done(d, changes)
	}
	return runErr
}

func (s *Service) persist(ctx context.Context, d *document, before *prosemirror.Node, actor Actor, m mutation) ([]markerChange, error) {
	after := d.editor.Doc()
	raw, err := json.Marshal(after)
	if err != nil {
		d.invalidate()
		return nil, fmt.Errorf("encode document: %w", err)
	}
	version, committed, err := s.git.Commit(d.id, gitrepo.Content{Title: d.title, Doc: raw}, actor.Name, m.message)
	if err != nil {
		s.metrics.PersistFailed("git")
		d.invalidate()
		return nil, fmt.Errorf("commit document: %w", err)
	}
	if !committed {
		return nil, nil
	}
	d.head = version.Hash
	s.metrics.CommitsPersisted.Inc()

	logger := s.logger.With(slog.String("documentId", d.id), slog.String("version", version.Hash))
	if err := s.store.TouchDocument(ctx, d.id, actor.Name, version.Hash); err != nil {
		s.metrics.PersistFailed("store")
		logger.Warn("persist: touch document", slog.Any("error", err))
	}

	changes := diffMarkers(trackchanges.Markers(before), trackchanges.Markers(after), m.resolution)
	if len(changes) > 0 {
		if err := s.store.InsertChangeEvents(ctx, changeEvents(d.id, actor, version.Hash, changes, s.now().UTC())); err != nil {
			s.metrics.PersistFailed("change_log")
			logger.Warn("persist: change log", slog.Any("error", err))
		}
	}
	for _, c := range changes {
		if c.Action == store.ActionCreated {
			s.metrics.MarkerCreated(c.Marker.Kind.String())
		} else {
			s.metrics.MarkerResolved(c.Marker.Kind.String(), c.Action)
		}
		s.publish(events.Event{
			DocumentID: d.id,
			Type:       eventType(c.Action),
			Data:       map[string]any{"change": c.Marker, "actor": actor.Name, "version": version.Hash},
		})
	}
	if s.events != nil {
		s.events.PublishCommit(d.id, version.Hash)
	}
	s.index(d.id, after)
	logger.Info("persist: document committed", slog.String("author", actor.Name), slog.Int("changes", len(changes)))
	return changes, nil
}

func (s *Service) publish(event events.Event) {
	if s.events != nil {
		s.events.Publish(event)
	}
}

func (s *Service) index(documentID string, doc *prosemirror.Node) {
	paragraphs := trackchanges.Paragraphs(doc)
	records := make([]search.Record, 0, len(paragraphs))
	for _, p := range paragraphs {
		records = append(records, search.Record{
			ID:          search.RecordID(documentID, p.ID),
			DocumentID:  documentID,
			ParagraphID: p.ID,
			Type:        p.Type,
			Text:        p.Text,
		})
	}
	s.search.IndexDocument(documentID, records)
}

func nonNilMarkers(m []trackchanges.Marker) []trackchanges.Marker {
	if m == nil {
		return []trackchanges.Marker{}
	}
	return m
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
