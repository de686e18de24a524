package prosemirror

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrStaleTransaction = errors.New("transaction was built on a stale document")
	ErrHookLoop         = errors.New("pre-commit hooks kept appending transactions")
)

const defaultMaxHookRounds = 8

// Hook inspects transactions that are about to commit together with the
// documents before and after them, and may return one more transaction
// built on after. Returning nil declines.
type Hook func(trs []*Transaction, before, after *Node) *Transaction

// Commit is one dispatched transaction plus everything hooks appended to it.
type Commit struct {
	Before       *Node
	After        *Node
	Transactions []*Transaction
}

// Editor owns the current document and serialises every change through
// Dispatch.
type Editor struct {
	doc       *Node
	selection Selection
	hooks     []Hook
	listeners []func(Commit)
	maxRounds int
	logger    *slog.Logger
}

type EditorOption func(*Editor)

func WithLogger(logger *slog.Logger) EditorOption {
	return func(e *Editor) {
		e.logger = logger
	}
}

func WithMaxHookRounds(rounds int) EditorOption {
	return func(e *Editor) {
		if rounds > 0 {
			e.maxRounds = rounds
		}
	}
}

func NewEditor(doc *Node, opts ...EditorOption) *Editor {
	if doc == nil {
		doc = NewDoc()
	}
	e := &Editor{
		doc:       doc,
		maxRounds: defaultMaxHookRounds,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Editor) Doc() *Node {
	return e.doc
}

func (e *Editor) Selection() Selection {
	return e.selection
}

// Transaction starts a transaction on the current document.
func (e *Editor) Transaction() *Transaction {
	return NewTransaction(e.doc)
}

// RegisterHook adds a pre-commit hook. Hooks run in registration order.
func (e *Editor) RegisterHook(h Hook) {
	e.hooks = append(e.hooks, h)
}

// OnCommit registers a listener called after every successful dispatch.
func (e *Editor) OnCommit(fn func(Commit)) {
	e.listeners = append(e.listeners, fn)
}

// Dispatch commits tr. Hooks are offered the newly produced transactions
// round after round until none appends anything; the original transaction
// and everything appended commit as one unit or not at all.
func (e *Editor) Dispatch(tr *Transaction) error {
	if tr.Before() != e.doc {
		return ErrStaleTransaction
	}

	all := []*Transaction{tr}
	pending := []*Transaction{tr}
	before := e.doc
	after := tr.Doc()

	for round := 0; len(pending) > 0; round++ {
		if round >= e.maxRounds {
			return fmt.Errorf("%w: %d rounds", ErrHookLoop, round)
		}
		roundStart := after
		var appended []*Transaction
		for _, hook := range e.hooks {
			next := hook(pending, before, after)
			if next == nil {
				continue
			}
			if next.Before() != after {
				return fmt.Errorf("hook result: %w", ErrStaleTransaction)
			}
			after = next.Doc()
			appended = append(appended, next)
		}
		all = append(all, appended...)
		pending = appended
		before = roundStart
	}

	selection := e.selection
	for _, t := range all {
		if sel, ok := t.Selection(); ok {
			selection = sel
			continue
		}
		mapping := t.Mapping()
		selection = Selection{
			Anchor: mapping.Map(selection.Anchor, 1),
			Head:   mapping.Map(selection.Head, 1),
		}
	}

	commit := Commit{Before: e.doc, After: after, Transactions: all}
	e.doc = after
	e.selection = selection
	if len(all) > 1 {
		e.logger.Debug("prosemirror: hooks appended transactions", slog.Int("appended", len(all)-1))
	}
	for _, fn := range e.listeners {
		fn(commit)
	}
	return nil
}

// Apply builds a transaction with build and dispatches it. Errors from build
// abort without touching the document.
func (e *Editor) Apply(build func(tr *Transaction) error) error {
	tr := e.Transaction()
	if err := build(tr); err != nil {
		return err
	}
	return e.Dispatch(tr)
}
