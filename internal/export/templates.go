package export

import (
	"bytes"
	"embed"
	"html/template"
	"sort"
	"time"

	"redline/api/internal/trackchanges"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate = template.Must(
	template.New("document.html").
		Funcs(template.FuncMap{
			"formatDate": func(t time.Time, layout string) string { return t.Format(layout) },
		}).
		ParseFS(templateFS, "templates/document.html"),
)

type TemplateData struct {
	Title       string
	Version     string
	UpdatedBy   string
	ExportedAt  time.Time
	ContentHTML template.HTML
	Changes     []TemplateChange
	Authors     []TemplateAuthor
}

type TemplateChange struct {
	Kind   string
	Author string
	Text   string
}

type TemplateAuthor struct {
	Name     string
	Initials string
	Color    string
}

func templateData(req Request, exportedAt time.Time) TemplateData {
	data := TemplateData{
		Title:       req.Title,
		Version:     req.Version,
		UpdatedBy:   req.UpdatedBy,
		ExportedAt:  exportedAt,
		ContentHTML: template.HTML(RedlineHTML(req.Doc)),
	}
	seen := map[string]struct{}{}
	for _, m := range req.Markers {
		data.Changes = append(data.Changes, TemplateChange{Kind: m.Kind.String(), Author: m.Author, Text: m.Text})
		if _, ok := seen[m.Author]; ok {
			continue
		}
		seen[m.Author] = struct{}{}
		data.Authors = append(data.Authors, TemplateAuthor{
			Name:     m.Author,
			Initials: trackchanges.AuthorInitials(m.Author),
			Color:    trackchanges.AuthorColor(m.Author),
		})
	}
	sort.Slice(data.Authors, func(i, j int) bool { return data.Authors[i].Name < data.Authors[j].Name })
	return data
}

// RenderDocumentHTML renders the full standalone HTML page.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
