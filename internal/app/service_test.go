package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redline/api/internal/config"
	"redline/api/internal/events"
	"redline/api/internal/gitrepo"
	"redline/api/internal/prosemirror"
	"redline/api/internal/rbac"
	"redline/api/internal/search"
	"redline/api/internal/session"
	"redline/api/internal/store"
	"redline/api/internal/trackchanges"
)

type fakeStore struct {
	mu        sync.Mutex
	documents map[string]store.Document
	events    []store.ChangeEvent

	insertChangeEventsFn func(context.Context, []store.ChangeEvent) error
	pingFn               func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{documents: make(map[string]store.Document)}
}

func (f *fakeStore) ListDocuments(context.Context) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Document, 0, len(f.documents))
	for _, d := range f.documents {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) InsertDocument(_ context.Context, d store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[d.ID]; !ok {
		f.documents[d.ID] = d
	}
	return nil
}

func (f *fakeStore) TouchDocument(_ context.Context, id, updatedBy, headHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return store.ErrNotFound
	}
	d.UpdatedBy, d.HeadHash = updatedBy, headHash
	f.documents[id] = d
	return nil
}

func (f *fakeStore) InsertChangeEvents(ctx context.Context, items []store.ChangeEvent) error {
	if f.insertChangeEventsFn != nil {
		return f.insertChangeEventsFn(ctx, items)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, items...)
	return nil
}

func (f *fakeStore) ListChangeEvents(_ context.Context, id string, filter store.ChangeEventFilter) ([]store.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ChangeEvent
	for _, e := range f.events {
		if e.DocumentID != id || (filter.Action != "" && e.Action != filter.Action) || (filter.ChangeID != "" && e.ChangeID != filter.ChangeID) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) changeEvents() []store.ChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.ChangeEvent(nil), f.events...)
}

type recordingPublisher struct {
	mu      sync.Mutex
	events  []events.Event
	commits []string
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) PublishCommit(_, hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commits = append(p.commits, hash)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	svc      *Service
	store    *fakeStore
	git      *gitrepo.Service
	sessions *session.MemoryStore
	events   *recordingPublisher
}

var (
	jane   = Actor{Name: "Jane", Role: rbac.RoleEditor}
	sam    = Actor{Name: "Sam", Role: rbac.RoleSuggester}
	aiUser = Actor{Name: "AI", Role: rbac.RoleSuggester}
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    newFakeStore(),
		git:      gitrepo.New(t.TempDir()),
		sessions: session.NewMemoryStore(),
		events:   &recordingPublisher{},
	}
	env.svc = newService(config.Config{AIAuthor: "AI"}, env.store, env.git, env.sessions, WithEvents(env.events))
	env.svc.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }
	return env
}

// contract has p1 content at positions 1-12 and p2 at 14-30.
func (env *testEnv) createContract(t *testing.T) DocumentView {
	t.Helper()
	view, err := env.svc.CreateDocument(context.Background(), jane, CreateDocumentInput{
		ID:    "msa",
		Title: "Master Services Agreement",
		Doc: json.RawMessage(`{"type":"doc","content":[
			{"type":"paragraph","attrs":{"nodeId":"p1"},"content":[{"type":"text","text":"Hello world"}]},
			{"type":"paragraph","attrs":{"nodeId":"p2"},"content":[{"type":"text","text":"Second paragraph"}]}
		]}`),
	})
	require.NoError(t, err)
	return view
}

func TestCreateDocument(t *testing.T) {
	env := newTestEnv(t)
	view, err := env.svc.CreateDocument(context.Background(), jane, CreateDocumentInput{
		Title: "  Untitled  ",
		Doc:   json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"x"}]}]}`),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "Untitled", view.Title)
	assert.Len(t, view.Version, 7)
	assert.Equal(t, trackchanges.SessionState{Author: trackchanges.PlaceholderAuthor}, view.Tracking)
	assert.Empty(t, view.Markers)

	paragraphs, err := env.svc.Paragraphs(context.Background(), view.ID)
	require.NoError(t, err)
	require.Len(t, paragraphs, 1)
	assert.NotEmpty(t, paragraphs[0].ID, "textblocks without an id get one on creation")

	stored, err := env.store.GetDocument(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane", stored.CreatedBy)
	assert.Equal(t, view.Version, stored.HeadHash)
}

func TestCreateDocumentValidation(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)

	tests := []struct {
		name  string
		input CreateDocumentInput
		code  string
	}{
		{name: "blank title", input: CreateDocumentInput{Title: " "}, code: "VALIDATION_ERROR"},
		{name: "unsafe id", input: CreateDocumentInput{ID: "../etc", Title: "x"}, code: "VALIDATION_ERROR"},
		{name: "duplicate", input: CreateDocumentInput{ID: "msa", Title: "x"}, code: "DOCUMENT_EXISTS"},
		{name: "bad doc", input: CreateDocumentInput{Title: "x", Doc: json.RawMessage(`{"type":`)}, code: "INVALID_DOCUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateDocument(context.Background(), jane, tt.input)
			require.Error(t, err)
			_, code, _, _ := mapError(err)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, gitrepo.ErrNotFound)
}

func TestSuggesterEditsAreAlwaysTracked(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)
	ctx := context.Background()

	result, err := env.svc.ApplyEdits(ctx, sam, "msa", []EditOp{{Op: opInsert, From: 6, Text: " big"}})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, trackchanges.KindInsertion, result.Created[0].Kind)
	assert.Equal(t, "Sam", result.Created[0].Author)
	assert.Equal(t, " big", result.Created[0].Text)

	p, err := env.svc.Paragraph(ctx, "msa", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Hello big world", p.Text)

	tracking, err := env.svc.Tracking(ctx, "msa")
	require.NoError(t, err)
	assert.False(t, tracking.Enabled, "forced tracking does not touch the document session")

	logged := env.store.changeEvents()
	require.Len(t, logged, 1)
	assert.Equal(t, store.ActionCreated, logged[0].Action)
	assert.Equal(t, "insertion", logged[0].Kind)
	assert.Equal(t, result.Created[0].ID, logged[0].ChangeID)
	assert.Equal(t, result.Version, logged[0].CommitHash)
	assert.Equal(t, []string{events.TypeChangeCreated}, env.events.types())
	assert.Equal(t, []string{result.Version}, env.events.commits)

	history, err := env.svc.History(ctx, "msa", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Edit by Sam", history[0].Message)
	assert.Equal(t, "Sam", history[0].Author)
}

func TestEditorEditsFollowDocumentSession(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)
	ctx := context.Background()

	result, err := env.svc.ApplyEdits(ctx, jane, "msa", []EditOp{{Op: opReplace, From: 7, To: 12, Text: "there"}})
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	p, err := env.svc.Paragraph(ctx, "msa", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", p.Text)

	enabled := true
	_, err = env.svc.SetTracking(ctx, jane, "msa", TrackingInput{Enabled: &enabled})
	require.NoError(t, err)

	result, err = env.svc.ApplyEdits(ctx, jane, "msa", []EditOp{{Op: opDelete, From: 1, To: 7}})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, trackchanges.KindDeletion, result.Created[0].Kind)
	assert.Equal(t, "Jane", result.Created[0].Author)
	assert.Equal(t, "Hello ", result.Created[0].Text)
}

func TestApplyEditsValidation(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)

	for _, ops := range [][]EditOp{
		nil,
		{{Op: "move", From: 1}},
		{{Op: opInsert, From: 1}},
		{{Op: opDelete, From: 4, To: 4}},
		{{Op: opReplace, From: -1, To: 2}},
	} {
		_, err := env.svc.ApplyEdits(context.Background(), jane, "msa", ops)
		var domainErr *DomainError
		require.ErrorAs(t, err, &domainErr, "%v", ops)
		assert.Equal(t, "VALIDATION_ERROR", domainErr.Code)
	}

	_, err := env.svc.ApplyEdits(context.Background(), jane, "msa", []EditOp{{Op: opInsert, From: 500, Text: "x"}})
	_, code, _, _ := mapError(err)
	assert.Equal(t, "INVALID_RANGE", code)
}

func TestApplyEditsReportsCommittedPrefix(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)
	ctx := context.Background()

	result, err := env.svc.ApplyEdits(ctx, sam, "msa", []EditOp{
		{Op: opInsert, From: 6, Text: " big"},
		{Op: opInsert, From: 500, Text: "x"},
		{Op: opInsert, From: 1, Text: "never"},
	})
	require.ErrorIs(t, err, prosemirror.ErrInvalidRange)
	assert.Equal(t, 1, result.Applied)
	assert.NotEmpty(t, result.Version)
	require.Len(t, result.Created, 1)
	assert.Equal(t, " big", result.Created[0].Text)

	p, err := env.svc.Paragraph(ctx, "msa", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Hello big world", p.Text)

	history, err := env.svc.History(ctx, "msa", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, result.Version, history[0].Hash)

	untouched, err := env.svc.ApplyEdits(ctx, sam, "msa", []EditOp{{Op: opInsert, From: 500, Text: "x"}})
	require.Error(t, err)
	assert.Zero(t, untouched.Applied)
	assert.Empty(t, untouched.Version)
}

func TestResolveLogsAcceptAndReject(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)
	ctx := context.Background()

	first, err := env.svc.ApplyEdits(ctx, sam, "msa", []EditOp{{Op: opInsert, From: 6, Text: " big"}})
	require.NoError(t, err)
	second, err := env.svc.ApplyEdits(ctx, sam, "msa", []EditOp{{Op: opDelete, From: 18, To: 24}})
	require.NoError(t, err)

	ok, err := env.svc.Resolve(ctx, jane, "msa", first.Created[0].ID, true)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = env.svc.Resolve(ctx, jane, "msa", second.Created[0].ID, false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.svc.Resolve(ctx, jane, "msa", "ins-unknown", true)
	require.NoError(t, err)
	assert.False(t, ok, "unknown ids are a no-op")

	view, err := env.svc.GetDocument(ctx, "msa")
	require.NoError(t, err)
	assert.Empty(t, view.Markers)
	p, err := env.svc.Paragraph(ctx, "msa", "p2")
	require.NoError(t, err)
	assert.Equal(t, "Second paragraph", p.Text)

	accepted, err := env.svc.Activity(ctx, "msa", ActivityFilterInput{Action: store.ActionAccepted})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, first.Created[0].ID, accepted[0].ChangeID)
	assert.Equal(t, "Sam", accepted[0].Author)
	assert.Equal(t, "Jane", accepted[0].Actor)

	rejected, err := env.svc.Activity(ctx, "msa", ActivityFilterInput{Action: store.ActionRejected})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "deletion", rejected[0].Kind)

	assert.Equal(t, []string{
		events.TypeChangeCreated,
		events.TypeChangeCreated,
		events.TypeChangeAccepted,
		events.TypeChangeRejected,
	}, env.events.types())

	history, err := env.svc.History(ctx, "msa", 10)
	require.NoError(t, err)
	assert.Len(t, history, 5, "the no-op resolve commits nothing")
}

func TestResolveAll(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)
	ctx := context.Background()

	_, err := env.svc.ApplyEdits(ctx, sam, "msa", []EditOp{
		{Op: opInsert, From: 6, Text: " big"},
		{Op: opReplace, From: 18, To: 24, Text: "Third"},
	})
	require.NoError(t, err)

	n, err := env.svc.ResolveAll(ctx, jane, "msa", true)
	require.NoError(t, err)
	assert.Positive(t, n)

	paragraphs, err := env.svc.Paragraphs(ctx, "msa")
	require.NoError(t, err)
	assert.Equal(t, "Hello big world", paragraphs[0].Text)
	assert.Equal(t, "Third paragraph", paragraphs[1].Text)

	n, err = env.svc.ResolveAll(ctx, jane, "msa", false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestParagraphEditsKeepHumanSession(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)
	ctx := context.Background()

	disabled, author := false, "Jane"
	_, err := env.svc.SetTracking(ctx, jane, "msa", TrackingInput{Enabled: &disabled, Author: &author})
	require.NoError(t, err)

	results, err := env.svc.ApplyParagraphEdits(ctx, aiUser, "msa", []trackchanges.ParagraphEdit{
		{ParagraphID: "p1", NewText: "Hello brave world"},
		{ParagraphID: "missing", NewText: "nothing"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Applied)
	assert.False(t, results[1].Applied)

	tracking, err := env.svc.Tracking(ctx, "msa")
	require.NoError(t, err)
	assert.Equal(t, trackchanges.SessionState{Enabled: false, Author: "Jane"}, tracking)

	changes, err := env.svc.Changes(ctx, "msa")
	require.NoError(t, err)
	require.NotEmpty(t, changes)
	for _, m := range changes {
		assert.Equal(t, "AI", m.Author)
		assert.Contains(t, results[0].CreatedMarkerIDs, m.ID)
	}

	stored, _, err := env.sessions.Load(ctx, "msa")
	require.NoError(t, err)
	assert.Equal(t, "Jane", stored.Author)
}

func TestSetTrackingPublishes(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)
	ctx := context.Background()

	_, err := env.svc.SetTracking(ctx, jane, "msa", TrackingInput{})
	_, code, _, _ := mapError(err)
	assert.Equal(t, "VALIDATION_ERROR", code)

	enabled, author := true, "  "
	state, err := env.svc.SetTracking(ctx, jane, "msa", TrackingInput{Enabled: &enabled, Author: &author})
	require.NoError(t, err)
	assert.Equal(t, trackchanges.SessionState{Enabled: true, Author: trackchanges.PlaceholderAuthor}, state)
	assert.Equal(t, []string{events.TypeTrackingUpdated}, env.events.types())
}

func TestSessionSharedThroughStore(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)
	ctx := context.Background()

	require.NoError(t, env.sessions.Save(ctx, "msa", trackchanges.SessionState{Enabled: true, Author: "Remote"}))
	state, err := env.svc.Tracking(ctx, "msa")
	require.NoError(t, err)
	assert.Equal(t, trackchanges.SessionState{Enabled: true, Author: "Remote"}, state)
}

func TestDocumentReloadsAfterExternalCommit(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)
	ctx := context.Background()

	_, err := env.svc.GetDocument(ctx, "msa")
	require.NoError(t, err)

	_, _, err = env.git.Commit("msa", gitrepo.Content{
		Title: "Master Services Agreement",
		Doc:   json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","attrs":{"nodeId":"p1"},"content":[{"type":"text","text":"Rewritten elsewhere"}]}]}`),
	}, "Other process", "External edit")
	require.NoError(t, err)

	p, err := env.svc.Paragraph(ctx, "msa", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Rewritten elsewhere", p.Text)
	_, err = env.svc.Paragraph(ctx, "msa", "p2")
	assert.ErrorIs(t, err, trackchanges.ErrParagraphNotFound)
}

func TestComments(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)
	ctx := context.Background()

	view, err := env.svc.AddComment(ctx, jane, "msa", CommentInput{ParagraphID: "p2", From: 7, To: 16})
	require.NoError(t, err)
	assert.Contains(t, view.ID, "comment-")
	assert.Equal(t, "paragraph", view.Text)
	assert.Equal(t, []trackchanges.Range{{From: 21, To: 30}}, view.Ranges)

	got, err := env.svc.Comment(ctx, "msa", view.ID)
	require.NoError(t, err)
	assert.Equal(t, view, got)

	_, err = env.svc.AddComment(ctx, jane, "msa", CommentInput{ParagraphID: "p1", From: 0, To: 40})
	_, code, _, _ := mapError(err)
	assert.Equal(t, "INVALID_RANGE", code)

	removed, err := env.svc.RemoveComment(ctx, jane, "msa", view.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = env.svc.Comment(ctx, "msa", view.ID)
	_, code, _, _ = mapError(err)
	assert.Equal(t, "COMMENT_NOT_FOUND", code)

	assert.Empty(t, env.store.changeEvents(), "comments are not tracked changes")
}

func TestVersionAndExport(t *testing.T) {
	env := newTestEnv(t)
	created := env.createContract(t)
	ctx := context.Background()

	_, err := env.svc.ApplyEdits(ctx, sam, "msa", []EditOp{{Op: opInsert, From: 6, Text: " big"}})
	require.NoError(t, err)

	old, err := env.svc.Version(ctx, "msa", created.Version)
	require.NoError(t, err)
	assert.Empty(t, old.Markers)
	assert.Equal(t, "Jane", old.UpdatedBy)

	result, err := env.svc.Export(ctx, "msa", "", "html")
	require.NoError(t, err)
	assert.Equal(t, "Master-Services-Agreement.html", result.Filename)
	assert.Contains(t, string(result.Data), "<ins class=\"change\"")

	result, err = env.svc.Export(ctx, "msa", created.Version, "html")
	require.NoError(t, err)
	assert.NotContains(t, string(result.Data), "<ins class=\"change\"")
}

func TestSearchIndexesCommittedText(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)
	ctx := context.Background()

	_, err := env.svc.ApplyEdits(ctx, jane, "msa", []EditOp{{Op: opReplace, From: 7, To: 12, Text: "indemnity"}})
	require.NoError(t, err)

	resp := env.svc.Search(search.Query{Text: "indemnity"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "msa", resp.Results[0].DocumentID)
	assert.Equal(t, "p1", resp.Results[0].ParagraphID)
	assert.Empty(t, env.svc.Search(search.Query{Text: "world"}).Results)
}

func TestChangeLogFailureDoesNotFailEdit(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)
	env.store.insertChangeEventsFn = func(context.Context, []store.ChangeEvent) error {
		return errors.New("connection reset")
	}

	result, err := env.svc.ApplyEdits(context.Background(), sam, "msa", []EditOp{{Op: opInsert, From: 1, Text: "Oh, "}})
	require.NoError(t, err)
	assert.Len(t, result.Created, 1)
}

func TestActivityValidation(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)

	_, err := env.svc.Activity(context.Background(), "msa", ActivityFilterInput{Action: "merged"})
	_, code, _, _ := mapError(err)
	assert.Equal(t, "VALIDATION_ERROR", code)

	_, err = env.svc.Activity(context.Background(), "nope", ActivityFilterInput{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBootstrapSeedsWelcomeDocument(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.svc.Bootstrap(context.Background()))

	docs, err := env.svc.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, welcomeDocumentID, docs[0].ID)
	assert.Equal(t, "AI", docs[0].CreatedBy)

	require.NoError(t, env.svc.Bootstrap(context.Background()))
	assert.Len(t, env.svc.Search(search.Query{Text: "track changes"}).Results, 1)
}

func TestConcurrentEditsSerialise(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.ApplyEdits(context.Background(), sam, "msa", []EditOp{{Op: opInsert, From: 1, Text: "x"}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := env.svc.Paragraph(context.Background(), "msa", "p1")
	require.NoError(t, err)
	assert.Equal(t, "xxxxxxxxHello world", p.Text)
	history, err := env.svc.History(context.Background(), "msa", 20)
	require.NoError(t, err)
	assert.Len(t, history, 9)
}
