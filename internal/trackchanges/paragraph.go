package trackchanges

import (
	"log/slog"

	"redline/api/internal/prosemirror"
	"redline/api/internal/worddiff"
)

// ParagraphEdit proposes new text for a whole paragraph.
type ParagraphEdit struct {
	ParagraphID string `json:"paragraphId"`
	NewText     string `json:"newText"`
}

// ParagraphEditResult reports what happened to one proposal.
type ParagraphEditResult struct {
	ParagraphID      string   `json:"paragraphId"`
	CreatedMarkerIDs []string `json:"createdMarkerIds"`
	Applied          bool     `json:"applied"`
	Reason           string   `json:"reason,omitempty"`
}

const (
	reasonNotFound  = "paragraph not found"
	reasonVanished  = "paragraph disappeared while applying"
	reasonBadRange  = "edit fell outside the paragraph"
	reasonUnchanged = "text already matches"
)

// ApplyParagraphEdits applies each proposal as tracked changes authored by
// actor. Proposals are independent: one that cannot be placed is reported
// as not applied and the rest are still attempted. The session is switched
// to actor with tracking on for the duration and restored afterwards.
func (e *Engine) ApplyParagraphEdits(edits []ParagraphEdit, actor string) ([]ParagraphEditResult, error) {
	editor, err := e.Editor()
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = PlaceholderAuthor
	}

	results := make([]ParagraphEditResult, 0, len(edits))
	for _, edit := range edits {
		results = append(results, e.applyParagraphEdit(editor, edit, actor))
	}
	return results, nil
}

func (e *Engine) applyParagraphEdit(editor *prosemirror.Editor, edit ParagraphEdit, actor string) ParagraphEditResult {
	result := ParagraphEditResult{ParagraphID: edit.ParagraphID, CreatedMarkerIDs: []string{}}
	logger := e.logger().With(slog.String("paragraph_id", edit.ParagraphID), slog.String("actor", actor))

	p, ok := FindParagraph(editor.Doc(), edit.ParagraphID)
	if !ok {
		result.Reason = reasonNotFound
		logger.Debug("trackchanges: paragraph edit skipped", slog.String("reason", result.Reason))
		return result
	}
	changes := worddiff.Changes(worddiff.Compute(p.Text, edit.NewText))
	if len(changes) == 0 {
		result.Applied = true
		result.Reason = reasonUnchanged
		return result
	}

	before := markerIDsBy(editor.Doc(), actor)
	applied := func() bool {
		restore := e.session.Override(SessionState{Enabled: true, Author: actor})
		defer restore()
		return e.applySpans(editor, edit.ParagraphID, changes, &result, logger)
	}()

	result.CreatedMarkerIDs = newMarkerIDs(before, editor.Doc(), actor)
	result.Applied = applied
	return result
}

// applySpans applies changes right to left so each span's offset into the
// original text still points at the same content when its turn comes.
func (e *Engine) applySpans(editor *prosemirror.Editor, paragraphID string, changes []worddiff.Span, result *ParagraphEditResult, logger *slog.Logger) bool {
	for i := len(changes) - 1; i >= 0; i-- {
		span := changes[i]
		p, ok := FindParagraph(editor.Doc(), paragraphID)
		if !ok {
			result.Reason = reasonVanished
			logger.Warn("trackchanges: paragraph vanished mid-edit")
			return false
		}
		from := p.From + span.OldStart
		to := p.From + span.OldEnd
		if to > p.To {
			result.Reason = reasonBadRange
			logger.Warn("trackchanges: span outside paragraph",
				slog.Int("from", from), slog.Int("to", to), slog.Int("paragraph_to", p.To))
			return false
		}

		var err error
		switch span.Kind {
		case worddiff.KindDelete:
			err = editor.Apply(func(tr *prosemirror.Transaction) error {
				return tr.Delete(from, to)
			})
		case worddiff.KindInsert:
			err = editor.Apply(func(tr *prosemirror.Transaction) error {
				return tr.InsertText(from, span.Text, formattingMarks(tr.Doc().MarksAround(from))...)
			})
		}
		if err != nil {
			result.Reason = reasonBadRange
			logger.Warn("trackchanges: paragraph span not applied",
				slog.String("kind", string(span.Kind)), slog.Any("error", err))
			return false
		}
	}
	return true
}
