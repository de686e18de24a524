package trackchanges

import (
	"log/slog"

	"redline/api/internal/prosemirror"
)

// resolve builds a transaction on doc that accepts or rejects the runs
// selected by match. It returns nil when no run matches.
func resolve(doc *prosemirror.Node, accept bool, match func(run) bool, logger *slog.Logger) (*prosemirror.Transaction, int) {
	var runs []run
	ids := make(map[string]struct{})
	for _, r := range collectRuns(doc) {
		if match(r) {
			runs = append(runs, r)
			ids[r.id] = struct{}{}
		}
	}
	if len(runs) == 0 {
		return nil, 0
	}

	// Accepting a deletion or rejecting an insertion drops the content;
	// the other two only strip the marker.
	removesContent := func(r run) bool {
		return (r.kind == KindDeletion) == accept
	}
	sortRunsDescending(runs, removesContent)

	tr := prosemirror.NewTransaction(doc)
	for _, r := range runs {
		mapping := tr.Mapping()
		from := mapping.Map(r.from, 1)
		to := mapping.Map(r.to, -1)
		if from >= to {
			continue
		}
		var err error
		if removesContent(r) {
			err = tr.Delete(from, to)
		} else {
			err = tr.RemoveMark(from, to, prosemirror.Mark{
				Type:  r.kind.MarkType(),
				Attrs: map[string]any{"id": r.id},
			})
		}
		if err != nil {
			logger.Debug("trackchanges: skipping unresolvable run",
				slog.String("id", r.id), slog.Int("from", from), slog.Int("to", to), slog.Any("error", err))
		}
	}
	if !tr.DocChanged() {
		return nil, 0
	}
	tr.SetMeta(MetaResolution, true)
	return tr, len(ids)
}

func byID(id string) func(run) bool {
	return func(r run) bool {
		return r.id == id
	}
}

func anyRun(run) bool {
	return true
}
