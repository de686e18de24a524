// Package trackchanges turns raw edits into attributed insertion and
// deletion markers and resolves them later.
//
// Markers live in the document as marks on text; there is no registry
// outside the tree. Every lookup walks the current document, and every
// position is only valid for the document version it was read from.
package trackchanges

import (
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"redline/api/internal/prosemirror"
)

// Kind is the closed set of marker kinds the engine understands.
type Kind int

const (
	KindInsertion Kind = iota + 1
	KindDeletion
	KindComment
)

const (
	markInsertion = "insertion"
	markDeletion  = "deletion"
	markComment   = "comment"
)

// MarkType is the document mark name used for the kind.
func (k Kind) MarkType() string {
	switch k {
	case KindInsertion:
		return markInsertion
	case KindDeletion:
		return markDeletion
	case KindComment:
		return markComment
	default:
		return ""
	}
}

func (k Kind) String() string {
	if name := k.MarkType(); name != "" {
		return name
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

func (k Kind) prefix() string {
	switch k {
	case KindInsertion:
		return "ins"
	case KindDeletion:
		return "del"
	default:
		return "cmt"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	name := k.MarkType()
	if name == "" {
		return nil, fmt.Errorf("trackchanges: unknown kind %d", int(k))
	}
	return []byte(name), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	kind, ok := KindOf(string(text))
	if !ok {
		return fmt.Errorf("trackchanges: unknown kind %q", text)
	}
	*k = kind
	return nil
}

// KindOf maps a document mark name back to its kind.
func KindOf(markType string) (Kind, bool) {
	switch markType {
	case markInsertion:
		return KindInsertion, true
	case markDeletion:
		return KindDeletion, true
	case markComment:
		return KindComment, true
	default:
		return 0, false
	}
}

// Range is a half-open document range.
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Marker is one tracked change as currently present in the document. A
// marker may cover several disjoint runs sharing the same id.
type Marker struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Text      string    `json:"text"`
	From      int       `json:"from"`
	To        int       `json:"to"`
	Runs      []Range   `json:"runs"`
	Color     string    `json:"color"`
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func newTrackingMark(kind Kind, id, author string, createdAt time.Time) prosemirror.Mark {
	return prosemirror.Mark{
		Type: kind.MarkType(),
		Attrs: map[string]any{
			"id":        id,
			"author":    author,
			"createdAt": createdAt.UTC().Format(timestampLayout),
		},
	}
}

// trackingKind reports whether m is an insertion or deletion mark.
func trackingKind(m prosemirror.Mark) (Kind, bool) {
	kind, ok := KindOf(m.Type)
	if !ok || kind == KindComment {
		return 0, false
	}
	return kind, true
}

func isTrackingOrComment(m prosemirror.Mark) bool {
	_, ok := KindOf(m.Type)
	return ok
}

// IDSource generates marker ids.
type IDSource interface {
	NewID(kind Kind, now time.Time) string
}

// RandomIDs produces "<ins|del>-<unix millis>-<random>" ids.
type RandomIDs struct{}

func (RandomIDs) NewID(kind Kind, now time.Time) string {
	return kind.prefix() + "-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()[:8]
}

// PeerIDs produces "<ins|del>-<peer>-<n>" ids with a monotonic counter, for
// deployments where several writers must never collide.
type PeerIDs struct {
	Peer string
	next atomic.Uint64
}

func (p *PeerIDs) NewID(kind Kind, _ time.Time) string {
	return kind.prefix() + "-" + p.Peer + "-" + strconv.FormatUint(p.next.Add(1), 10)
}

// run is a maximal stretch of inline content carrying one tracking mark.
type run struct {
	kind   Kind
	id     string
	author string
	date   string
	from   int
	to     int
	text   string
}

// collectRuns walks doc and returns every tracked run in document order.
// Adjacent pieces with the same id and kind are merged.
func collectRuns(doc *prosemirror.Node) []run {
	var runs []run
	last := make(map[string]int)
	doc.Descendants(func(node *prosemirror.Node, pos int, _ *prosemirror.Node) bool {
		if !node.IsInline() {
			return true
		}
		text := node.TextContent()
		end := pos + node.NodeSize()
		for _, m := range node.Marks {
			kind, ok := trackingKind(m)
			if !ok {
				continue
			}
			id := m.Attr("id")
			key := runKey(kind, id)
			if i, ok := last[key]; ok && runs[i].to == pos {
				runs[i].to = end
				runs[i].text += text
				continue
			}
			last[key] = len(runs)
			runs = append(runs, run{
				kind:   kind,
				id:     id,
				author: m.Attr("author"),
				date:   m.Attr("createdAt"),
				from:   pos,
				to:     end,
				text:   text,
			})
		}
		return false
	})
	return runs
}

func runKey(kind Kind, id string) string {
	return kind.prefix() + "\x00" + id
}

// Markers enumerates the markers in doc deduplicated by id, in document
// order of their first run.
func Markers(doc *prosemirror.Node) []Marker {
	if doc == nil {
		return nil
	}
	index := make(map[string]int)
	var out []Marker
	for _, r := range collectRuns(doc) {
		key := runKey(r.kind, r.id)
		if i, ok := index[key]; ok {
			m := &out[i]
			m.Text += r.text
			m.To = max(m.To, r.to)
			m.Runs = append(m.Runs, Range{From: r.from, To: r.to})
			continue
		}
		createdAt, _ := time.Parse(timestampLayout, r.date)
		index[key] = len(out)
		out = append(out, Marker{
			ID:        r.id,
			Kind:      r.kind,
			Author:    r.author,
			CreatedAt: createdAt,
			Text:      r.text,
			From:      r.from,
			To:        r.to,
			Runs:      []Range{{From: r.from, To: r.to}},
			Color:     AuthorColor(r.author),
		})
	}
	return out
}

// FindMarker returns the marker with id, if present.
func FindMarker(doc *prosemirror.Node, id string) (Marker, bool) {
	for _, m := range Markers(doc) {
		if m.ID == id {
			return m, true
		}
	}
	return Marker{}, false
}

// markerIDsBy returns the ids of markers attributed to author.
func markerIDsBy(doc *prosemirror.Node, author string) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, r := range collectRuns(doc) {
		if r.author == author {
			ids[r.id] = struct{}{}
		}
	}
	return ids
}

// newMarkerIDs lists ids by author present in after but not in before,
// ordered by document position.
func newMarkerIDs(before map[string]struct{}, after *prosemirror.Node, author string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, m := range Markers(after) {
		if m.Author != author {
			continue
		}
		if _, ok := before[m.ID]; ok {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m.ID)
	}
	return out
}

// sortRunsDescending orders runs so later positions come first. On ties mark
// removals come before content removals.
func sortRunsDescending(runs []run, removesContent func(run) bool) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].from != runs[j].from {
			return runs[i].from > runs[j].from
		}
		return !removesContent(runs[i]) && removesContent(runs[j])
	})
}
