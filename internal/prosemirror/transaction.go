package prosemirror

// Selection is an anchor/head pair of document positions.
type Selection struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

func (s Selection) From() int {
	return min(s.Anchor, s.Head)
}

func (s Selection) To() int {
	return max(s.Anchor, s.Head)
}

// Transaction is an atomic batch of steps built on top of one document.
type Transaction struct {
	before    *Node
	doc       *Node
	docs      []*Node
	steps     []Step
	mapping   Mapping
	selection *Selection
	meta      map[string]any
}

func NewTransaction(doc *Node) *Transaction {
	return &Transaction{before: doc, doc: doc}
}

// Before is the document the transaction started from.
func (tr *Transaction) Before() *Node {
	return tr.before
}

// Doc is the document after every step added so far.
func (tr *Transaction) Doc() *Node {
	return tr.doc
}

func (tr *Transaction) Steps() []Step {
	return append([]Step(nil), tr.steps...)
}

// DocBefore returns the document the i-th step was applied to.
func (tr *Transaction) DocBefore(i int) *Node {
	return tr.docs[i]
}

func (tr *Transaction) Mapping() Mapping {
	return Mapping{maps: append([]StepMap(nil), tr.mapping.maps...)}
}

func (tr *Transaction) DocChanged() bool {
	return len(tr.steps) > 0
}

// Step applies s to the current document. A failing step leaves the
// transaction untouched.
func (tr *Transaction) Step(s Step) error {
	next, sm, err := s.Apply(tr.doc)
	if err != nil {
		return err
	}
	tr.docs = append(tr.docs, tr.doc)
	tr.steps = append(tr.steps, s)
	tr.mapping.Append(sm)
	tr.doc = next
	return nil
}

// Replace replaces [from, to) with inline content.
func (tr *Transaction) Replace(from, to int, content ...*Node) error {
	nodes := make([]*Node, 0, len(content))
	for _, node := range content {
		if node != nil {
			nodes = append(nodes, node)
		}
	}
	return tr.Step(ReplaceStep{From: from, To: to, Content: nodes})
}

// InsertText inserts text carrying marks at pos.
func (tr *Transaction) InsertText(pos int, text string, marks ...Mark) error {
	return tr.Replace(pos, pos, NewText(text, marks...))
}

func (tr *Transaction) Delete(from, to int) error {
	return tr.Replace(from, to)
}

func (tr *Transaction) AddMark(from, to int, mark Mark) error {
	return tr.Step(AddMarkStep{From: from, To: to, Mark: mark})
}

func (tr *Transaction) RemoveMark(from, to int, mark Mark) error {
	return tr.Step(RemoveMarkStep{From: from, To: to, Mark: mark})
}

func (tr *Transaction) InsertBlock(pos int, node *Node) error {
	return tr.Step(InsertBlockStep{Pos: pos, Node: node})
}

func (tr *Transaction) DeleteBlock(pos int) error {
	return tr.Step(DeleteBlockStep{Pos: pos})
}

func (tr *Transaction) SetSelection(sel Selection) *Transaction {
	tr.selection = &sel
	return tr
}

// Selection returns the explicitly set selection, if any.
func (tr *Transaction) Selection() (Selection, bool) {
	if tr.selection == nil {
		return Selection{}, false
	}
	return *tr.selection, true
}

// SetMeta tags the transaction. Keys are owned by whoever sets them.
func (tr *Transaction) SetMeta(key string, value any) *Transaction {
	if tr.meta == nil {
		tr.meta = make(map[string]any)
	}
	tr.meta[key] = value
	return tr
}

func (tr *Transaction) Meta(key string) any {
	return tr.meta[key]
}

func (tr *Transaction) HasMeta(key string) bool {
	_, ok := tr.meta[key]
	return ok
}
