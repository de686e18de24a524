package export

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"redline/api/internal/prosemirror"
	"redline/api/internal/trackchanges"
)

// RedlineHTML renders doc as HTML. Pending insertions become <ins> and
// pending deletions <del>, both tinted with the author's colour; comment
// anchors become highlighted spans.
func RedlineHTML(doc *prosemirror.Node) string {
	if doc == nil {
		return ""
	}
	var b strings.Builder
	renderNode(&b, doc)
	return b.String()
}

func renderNode(b *strings.Builder, n *prosemirror.Node) {
	switch n.Type {
	case prosemirror.TypeDoc:
		renderChildren(b, n)
	case prosemirror.TypeParagraph:
		wrapBlock(b, "p", n)
	case prosemirror.TypeHeading:
		level := headingLevel(n)
		wrapBlock(b, fmt.Sprintf("h%d", level), n)
	case "bulletList":
		wrapBlock(b, "ul", n)
	case "orderedList":
		wrapBlock(b, "ol", n)
	case "listItem":
		wrapBlock(b, "li", n)
	case "blockquote":
		wrapBlock(b, "blockquote", n)
	case prosemirror.TypeCodeBlock:
		b.WriteString("<pre><code>")
		renderChildren(b, n)
		b.WriteString("</code></pre>\n")
	case "table":
		wrapBlock(b, "table", n)
	case "tableRow":
		wrapBlock(b, "tr", n)
	case "tableCell":
		wrapBlock(b, "td", n)
	case "tableHeader":
		wrapBlock(b, "th", n)
	case prosemirror.TypeHorizontalRule:
		b.WriteString("<hr>\n")
	case prosemirror.TypeHardBreak:
		b.WriteString(wrapMarks("<br>", n.Marks))
	case prosemirror.TypeImage:
		img := fmt.Sprintf(`<img alt="%s">`, html.EscapeString(n.Attr("alt")))
		if src, ok := safeURL(n.Attr("src"), true); ok {
			img = fmt.Sprintf(`<img src="%s" alt="%s">`, html.EscapeString(src), html.EscapeString(n.Attr("alt")))
		}
		b.WriteString(wrapMarks(img, n.Marks))
	case prosemirror.TypeText:
		b.WriteString(wrapMarks(html.EscapeString(n.Text), n.Marks))
	default:
		renderChildren(b, n)
	}
}

func renderChildren(b *strings.Builder, n *prosemirror.Node) {
	for _, child := range n.Content {
		renderNode(b, child)
	}
}

func wrapBlock(b *strings.Builder, tag string, n *prosemirror.Node) {
	b.WriteString("<" + tag)
	if id := n.Attr(trackchanges.ParagraphIDAttr); id != "" {
		fmt.Fprintf(b, ` id="%s"`, html.EscapeString(id))
	}
	b.WriteString(">")
	renderChildren(b, n)
	b.WriteString("</" + tag + ">\n")
}

func headingLevel(n *prosemirror.Node) int {
	level := 1
	switch v := n.Attrs["level"].(type) {
	case float64:
		level = int(v)
	case int:
		level = v
	}
	if level < 1 || level > 6 {
		return 1
	}
	return level
}

// wrapMarks applies formatting marks innermost, then comment anchors, then
// the tracking mark outermost.
func wrapMarks(inner string, marks []prosemirror.Mark) string {
	var comments, tracking []prosemirror.Mark
	out := inner
	for i := len(marks) - 1; i >= 0; i-- {
		m := marks[i]
		kind, known := trackchanges.KindOf(m.Type)
		switch {
		case known && kind == trackchanges.KindComment:
			comments = append(comments, m)
		case known:
			tracking = append(tracking, m)
		default:
			out = wrapFormatting(m, out)
		}
	}
	for _, m := range comments {
		out = fmt.Sprintf(`<span class="comment" data-comment-id="%s">%s</span>`, html.EscapeString(m.Attr("commentId")), out)
	}
	for _, m := range tracking {
		tag := "ins"
		if m.Type == trackchanges.KindDeletion.MarkType() {
			tag = "del"
		}
		author := m.Attr("author")
		out = fmt.Sprintf(`<%s class="change" data-change-id="%s" data-author="%s" title="%s" style="color:%s">%s</%s>`,
			tag,
			html.EscapeString(m.Attr("id")),
			html.EscapeString(author),
			html.EscapeString(author+" "+m.Attr("createdAt")),
			trackchanges.AuthorColor(author),
			out,
			tag,
		)
	}
	return out
}

func wrapFormatting(m prosemirror.Mark, inner string) string {
	switch m.Type {
	case "bold":
		return "<strong>" + inner + "</strong>"
	case "italic":
		return "<em>" + inner + "</em>"
	case "code":
		return "<code>" + inner + "</code>"
	case "strike":
		return "<s>" + inner + "</s>"
	case "underline":
		return "<u>" + inner + "</u>"
	case "link":
		href, ok := safeURL(m.Attr("href"), false)
		if !ok {
			return inner
		}
		return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), inner)
	default:
		return inner
	}
}

// safeURL accepts absolute http and https URLs, plus inline data images
// when images is set. Anything else, relative references included, is
// left out of the export since the PDF renderer would resolve and fetch it.
func safeURL(raw string, images bool) (string, bool) {
	raw = strings.TrimSpace(raw)
	if images && strings.HasPrefix(strings.ToLower(raw), "data:image/") {
		return raw, true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return raw, true
	}
	return "", false
}
