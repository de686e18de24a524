package trackchanges

import (
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"redline/api/internal/prosemirror"
)

// Transaction meta keys owned by this package.
const (
	// MetaIntercepted marks a transaction produced by the interceptor.
	MetaIntercepted = "trackchanges.intercepted"
	// MetaResolution marks accept/reject transactions.
	MetaResolution = "trackchanges.resolution"
	// MetaRemote marks transactions replayed from a collaborating peer,
	// which already went through the peer's own interceptor.
	MetaRemote = "trackchanges.remote"
)

// Interceptor rewrites committed content changes into tracked ones while
// its session has tracking enabled.
type Interceptor struct {
	session *Session
	ids     IDSource
	now     func() time.Time
	logger  *slog.Logger
}

func newInterceptor(session *Session, o options) *Interceptor {
	return &Interceptor{
		session: session,
		ids:     o.ids,
		now:     o.now,
		logger:  o.logger,
	}
}

// NewInterceptor builds a standalone interceptor for session.
func NewInterceptor(session *Session, opts ...Option) *Interceptor {
	return newInterceptor(session, buildOptions(opts))
}

// Hook adapts the interceptor to the editor's pre-commit hook signature.
func (ic *Interceptor) Hook() prosemirror.Hook {
	return ic.Intercept
}

// Working marks used while a batch is replayed. Neither survives into the
// returned transaction.
const (
	// markRestored tags removed content put back as a deletion marker. The
	// untracked documents of the batch do not contain it.
	markRestored = "trackchanges.restored"
	// markFresh tags content inserted earlier in the same batch.
	markFresh = "trackchanges.fresh"
)

// Intercept inspects trs, which turned before into after, and returns a
// transaction built on after that re-inserts deleted content as deletion
// markers and marks inserted content as insertions. It returns nil when
// nothing needs rewriting.
//
// The batch is replayed step by step onto a tracked copy of before, so a
// step sees the deletion markers restored by earlier steps: a later step
// deleting content the batch itself inserted drops it, and a later range
// enclosing an earlier restored run keeps that run in place.
func (ic *Interceptor) Intercept(trs []*prosemirror.Transaction, before, after *prosemirror.Node) *prosemirror.Transaction {
	if !ic.session.Enabled() {
		return nil
	}
	changed := false
	for _, tr := range trs {
		if tr.HasMeta(MetaIntercepted) || tr.HasMeta(MetaResolution) || tr.HasMeta(MetaRemote) {
			ic.logger.Debug("trackchanges: skipping guarded transaction")
			return nil
		}
		changed = changed || tr.DocChanged()
	}
	if !changed {
		return nil
	}

	state := ic.session.State()
	r := &replay{
		ic:      ic,
		tracked: prosemirror.NewTransaction(before),
		author:  state.Author,
		now:     ic.now(),
	}
	for _, tr := range trs {
		for _, step := range tr.Steps() {
			if err := r.apply(step); err != nil {
				ic.logger.Warn("trackchanges: batch left untracked", slog.Any("error", err))
				return nil
			}
		}
	}
	tracked, err := r.finish()
	if err != nil {
		ic.logger.Warn("trackchanges: batch left untracked", slog.Any("error", err))
		return nil
	}

	out := prosemirror.NewTransaction(after)
	if err := rewriteTo(out, tracked); err != nil {
		ic.logger.Warn("trackchanges: batch left untracked", slog.Any("error", err))
		return nil
	}
	if !out.DocChanged() {
		return nil
	}
	out.SetMeta(MetaIntercepted, true)
	return out
}

// replay carries the tracked copy of a batch. Positions of the batch's
// steps address the untracked document, which is the tracked one minus its
// restored runs.
type replay struct {
	ic      *Interceptor
	tracked *prosemirror.Transaction
	author  string
	now     time.Time
}

func (r *replay) apply(step prosemirror.Step) error {
	switch s := step.(type) {
	case prosemirror.ReplaceStep:
		return r.replace(s)
	case prosemirror.AddMarkStep:
		return r.mark(s.From, s.To, func(from, to int) prosemirror.Step {
			return prosemirror.AddMarkStep{From: from, To: to, Mark: s.Mark}
		})
	case prosemirror.RemoveMarkStep:
		return r.mark(s.From, s.To, func(from, to int) prosemirror.Step {
			return prosemirror.RemoveMarkStep{From: from, To: to, Mark: s.Mark}
		})
	case prosemirror.InsertBlockStep:
		return r.tracked.Step(prosemirror.InsertBlockStep{Pos: r.pos(s.Pos), Node: s.Node})
	case prosemirror.DeleteBlockStep:
		return r.tracked.Step(prosemirror.DeleteBlockStep{Pos: r.pos(s.Pos)})
	default:
		return fmt.Errorf("unsupported step %T", step)
	}
}

// replace turns one replace step into its tracked form: the removed range
// stays as a deletion marker and the new content follows it as an
// insertion.
func (r *replay) replace(s prosemirror.ReplaceStep) error {
	from, to := r.pos(s.From), r.pos(s.To)
	removed, err := r.tracked.Doc().InlineSlice(from, to)
	if err != nil {
		return err
	}
	if prosemirror.InlineSize(removed) == 0 && prosemirror.InlineSize(s.Content) == 0 {
		return nil
	}

	var (
		content   []*prosemirror.Node
		deletion  *prosemirror.Mark
		insertion *prosemirror.Mark
	)
	for _, node := range removed {
		switch {
		case node.HasMark(prosemirror.Mark{Type: markRestored}):
		case node.HasMark(prosemirror.Mark{Type: markFresh}):
			continue
		case r.ownInsertion(node):
			// deleting a pending insertion of the same author retracts it
			continue
		case node.HasMark(prosemirror.Mark{Type: markDeletion}):
			node.Marks = append(node.Marks, prosemirror.Mark{Type: markRestored})
		default:
			if deletion == nil {
				m := newTrackingMark(KindDeletion, r.ic.ids.NewID(KindDeletion, r.now), r.author, r.now)
				deletion = &m
			}
			node.Marks = append(node.Marks, deletion.Clone(), prosemirror.Mark{Type: markRestored})
		}
		content = append(content, node)
	}
	for _, node := range s.Content {
		inserted := node.Clone()
		if !inserted.HasMark(prosemirror.Mark{Type: markInsertion}) {
			if insertion == nil {
				m := newTrackingMark(KindInsertion, r.ic.ids.NewID(KindInsertion, r.now), r.author, r.now)
				insertion = &m
			}
			inserted.Marks = append(inserted.Marks, insertion.Clone())
		}
		inserted.Marks = append(inserted.Marks, prosemirror.Mark{Type: markFresh})
		content = append(content, inserted)
	}
	return r.tracked.Replace(from, to, content...)
}

func (r *replay) ownInsertion(node *prosemirror.Node) bool {
	ins, ok := node.MarkOfType(markInsertion)
	return ok && ins.Attr("author") == r.author
}

// mark applies a formatting step to the live content of [from, to),
// leaving restored runs as they were when removed.
func (r *replay) mark(from, to int, build func(from, to int) prosemirror.Step) error {
	from, to = r.pos(from), r.pos(to)
	var targets []Range
	r.tracked.Doc().Descendants(func(node *prosemirror.Node, pos int, _ *prosemirror.Node) bool {
		end := pos + node.NodeSize()
		if end <= from || pos >= to {
			return false
		}
		if !node.IsInline() {
			return true
		}
		if node.HasMark(prosemirror.Mark{Type: markRestored}) {
			return false
		}
		rg := Range{From: max(pos, from), To: min(end, to)}
		if n := len(targets); n > 0 && targets[n-1].To == rg.From {
			targets[n-1].To = rg.To
		} else {
			targets = append(targets, rg)
		}
		return false
	})
	for _, rg := range targets {
		if err := r.tracked.Step(build(rg.From, rg.To)); err != nil {
			return err
		}
	}
	return nil
}

// pos maps a position of the untracked document onto the tracked one.
// Restored runs right before the position end up on its left, so content
// inserted there follows the deletion marker.
func (r *replay) pos(pos int) int {
	delta := 0
	mapped := -1
	r.tracked.Doc().Descendants(func(node *prosemirror.Node, at int, _ *prosemirror.Node) bool {
		if mapped >= 0 {
			return false
		}
		if !node.IsTextblock() {
			return !node.IsLeaf()
		}
		start := at + 1
		untrackedStart := start - delta
		if pos < untrackedStart {
			mapped = pos + delta
			return false
		}
		offset, trackedOffset, restored := pos-untrackedStart, 0, 0
		live := 0
		for _, child := range node.Content {
			size := child.NodeSize()
			if child.HasMark(prosemirror.Mark{Type: markRestored}) {
				trackedOffset += size
				restored += size
				continue
			}
			if mapped < 0 && offset < live+size {
				mapped = start + trackedOffset + offset - live
			}
			live += size
			trackedOffset += size
		}
		if mapped < 0 && offset <= live {
			mapped = start + trackedOffset
		}
		delta += restored
		return false
	})
	if mapped < 0 {
		return pos + delta
	}
	return mapped
}

// finish strips the working marks and returns the tracked document.
func (r *replay) finish() (*prosemirror.Node, error) {
	size := r.tracked.Doc().ContentSize()
	for _, working := range []string{markRestored, markFresh} {
		if err := r.tracked.RemoveMark(0, size, prosemirror.Mark{Type: working}); err != nil {
			return nil, err
		}
	}
	return r.tracked.Doc(), nil
}

// rewriteTo adds the steps turning out's document into tracked. Both share
// their block structure; each textblock whose inline content differs gets
// one replace step covering the differing middle.
func rewriteTo(out *prosemirror.Transaction, tracked *prosemirror.Node) error {
	have, want := textblocks(out.Doc()), textblocks(tracked)
	if len(have) != len(want) {
		return fmt.Errorf("tracked document has %d textblocks, expected %d", len(want), len(have))
	}
	// last block first keeps the positions of earlier blocks valid
	for i := len(have) - 1; i >= 0; i-- {
		a, b := inlineUnits(have[i].node.Content), inlineUnits(want[i].node.Content)
		prefix := 0
		for prefix < len(a) && prefix < len(b) && sameUnit(a[prefix], b[prefix]) {
			prefix++
		}
		if prefix == len(a) && prefix == len(b) {
			continue
		}
		suffix := 0
		for suffix < len(a)-prefix && suffix < len(b)-prefix && sameUnit(a[len(a)-1-suffix], b[len(b)-1-suffix]) {
			suffix++
		}
		content, err := tracked.InlineSlice(want[i].start+prefix, want[i].start+len(b)-suffix)
		if err != nil {
			return err
		}
		if err := out.Replace(have[i].start+prefix, have[i].start+len(a)-suffix, content...); err != nil {
			return err
		}
	}
	return nil
}

type textblock struct {
	node  *prosemirror.Node
	start int
}

func textblocks(doc *prosemirror.Node) []textblock {
	var out []textblock
	doc.Descendants(func(node *prosemirror.Node, pos int, _ *prosemirror.Node) bool {
		if node.IsTextblock() {
			out = append(out, textblock{node: node, start: pos + 1})
			return false
		}
		return !node.IsLeaf()
	})
	return out
}

// unit is one position of inline content: a character of a text node or
// an inline leaf.
type unit struct {
	node *prosemirror.Node
	char rune
}

func inlineUnits(nodes []*prosemirror.Node) []unit {
	var out []unit
	for _, node := range nodes {
		if !node.IsText() {
			out = append(out, unit{node: node})
			continue
		}
		for _, char := range node.Text {
			out = append(out, unit{node: node, char: char})
		}
	}
	return out
}

func sameUnit(a, b unit) bool {
	if a.char != b.char || a.node.Type != b.node.Type || !prosemirror.SameMarkSet(a.node.Marks, b.node.Marks) {
		return false
	}
	return a.node.IsText() || reflect.DeepEqual(a.node.Attrs, b.node.Attrs)
}
