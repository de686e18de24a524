// Package export renders documents with their pending changes as redline
// HTML or PDF and optionally archives the result.
package export

import (
	"errors"
	"time"

	"redline/api/internal/prosemirror"
	"redline/api/internal/trackchanges"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Request carries everything needed to render one document version.
type Request struct {
	DocumentID string
	Title      string
	Version    string
	UpdatedBy  string
	UpdatedAt  time.Time
	Doc        *prosemirror.Node
	Markers    []trackchanges.Marker
	Format     Format
}

type Result struct {
	Data       []byte
	Filename   string
	MimeType   string
	ArchiveKey string
}

var (
	ErrUnsupportedFormat    = errors.New("export format not supported")
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
