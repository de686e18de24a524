package trackchanges

import (
	"errors"
	"fmt"
	"log/slog"

	"redline/api/internal/prosemirror"
)

var (
	ErrNoDocument        = errors.New("trackchanges: no document attached")
	ErrParagraphNotFound = errors.New("trackchanges: paragraph not found")
)

// Engine wires a session and an interceptor to one editor and exposes the
// track-changes operations on it. All methods must be called from the
// goroutine that owns the editor.
type Engine struct {
	editor      *prosemirror.Editor
	session     *Session
	interceptor *Interceptor
	opts        options
}

// New creates an engine for session. Attach must be called before any
// document operation.
func New(session *Session, opts ...Option) *Engine {
	if session == nil {
		session = NewSession()
	}
	o := buildOptions(opts)
	return &Engine{
		session:     session,
		interceptor: newInterceptor(session, o),
		opts:        o,
	}
}

// Attach registers the interceptor with editor and makes it the engine's
// document.
func (e *Engine) Attach(editor *prosemirror.Editor) {
	editor.RegisterHook(e.interceptor.Hook())
	e.editor = editor
}

func (e *Engine) Session() *Session {
	return e.session
}

func (e *Engine) Interceptor() *Interceptor {
	return e.interceptor
}

func (e *Engine) Editor() (*prosemirror.Editor, error) {
	if e.editor == nil {
		return nil, ErrNoDocument
	}
	return e.editor, nil
}

// Doc returns the current document.
func (e *Engine) Doc() (*prosemirror.Node, error) {
	if e.editor == nil {
		return nil, ErrNoDocument
	}
	return e.editor.Doc(), nil
}

// Markers enumerates the current markers.
func (e *Engine) Markers() ([]Marker, error) {
	doc, err := e.Doc()
	if err != nil {
		return nil, err
	}
	return Markers(doc), nil
}

// Paragraph looks up a paragraph in the current document.
func (e *Engine) Paragraph(id string) (Paragraph, error) {
	doc, err := e.Doc()
	if err != nil {
		return Paragraph{}, err
	}
	p, ok := FindParagraph(doc, id)
	if !ok {
		return Paragraph{}, fmt.Errorf("%w: %s", ErrParagraphNotFound, id)
	}
	return p, nil
}

// InsertText inserts text at pos as the session author. The text inherits
// the formatting around pos.
func (e *Engine) InsertText(pos int, text string) error {
	return e.apply(func(tr *prosemirror.Transaction) error {
		return tr.InsertText(pos, text, formattingMarks(tr.Doc().MarksAround(pos))...)
	})
}

// DeleteRange deletes [from, to) as the session author.
func (e *Engine) DeleteRange(from, to int) error {
	return e.apply(func(tr *prosemirror.Transaction) error {
		return tr.Delete(from, to)
	})
}

// ReplaceRange replaces [from, to) with text in a single step.
func (e *Engine) ReplaceRange(from, to int, text string) error {
	return e.apply(func(tr *prosemirror.Transaction) error {
		return tr.Replace(from, to, prosemirror.NewText(text, formattingMarks(tr.Doc().MarksAround(from))...))
	})
}

// ApplyRemote commits a transaction that a collaborating peer already
// tracked; it is never intercepted again.
func (e *Engine) ApplyRemote(build func(tr *prosemirror.Transaction) error) error {
	return e.apply(func(tr *prosemirror.Transaction) error {
		if err := build(tr); err != nil {
			return err
		}
		tr.SetMeta(MetaRemote, true)
		return nil
	})
}

// Accept accepts every run of the change id. An unknown id is a no-op and
// reports false.
func (e *Engine) Accept(id string) (bool, error) {
	n, err := e.resolve(true, byID(id))
	return n > 0, err
}

// Reject rejects every run of the change id. An unknown id is a no-op and
// reports false.
func (e *Engine) Reject(id string) (bool, error) {
	n, err := e.resolve(false, byID(id))
	return n > 0, err
}

// AcceptAll accepts every change and reports how many were resolved.
func (e *Engine) AcceptAll() (int, error) {
	return e.resolve(true, anyRun)
}

// RejectAll rejects every change and reports how many were resolved.
func (e *Engine) RejectAll() (int, error) {
	return e.resolve(false, anyRun)
}

func (e *Engine) resolve(accept bool, match func(run) bool) (int, error) {
	editor, err := e.Editor()
	if err != nil {
		return 0, err
	}
	tr, n := resolve(editor.Doc(), accept, match, e.opts.logger)
	if tr == nil {
		return 0, nil
	}
	if err := editor.Dispatch(tr); err != nil {
		return 0, err
	}
	return n, nil
}

func (e *Engine) apply(build func(tr *prosemirror.Transaction) error) error {
	editor, err := e.Editor()
	if err != nil {
		return err
	}
	return editor.Apply(build)
}

// formattingMarks drops tracking and comment marks so new text only
// inherits formatting.
func formattingMarks(marks []prosemirror.Mark) []prosemirror.Mark {
	out := marks[:0:0]
	for _, m := range marks {
		if !isTrackingOrComment(m) {
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) logger() *slog.Logger {
	return e.opts.logger
}
