package export

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"
)

type Service struct {
	pdf      PDFRenderer
	archiver Archiver
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithPDFRenderer(r PDFRenderer) Option {
	return func(s *Service) { s.pdf = r }
}

// WithArchiver stores every export under <documentId>/<version>/<file>.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(opts ...Option) *Service {
	s := &Service{pdf: ChromePDF, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export renders req in its format. Archiving failures are logged and do
// not fail the export.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	page, err := RenderDocumentHTML(templateData(req, s.now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	var result *Result
	switch req.Format {
	case FormatHTML, "":
		result = &Result{Data: []byte(page), Filename: filename(req.Title, "html"), MimeType: "text/html; charset=utf-8"}
	case FormatPDF:
		data, err := s.pdf(ctx, page)
		if err != nil {
			return nil, err
		}
		result = &Result{Data: data, Filename: filename(req.Title, "pdf"), MimeType: "application/pdf"}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	if s.archiver != nil {
		version := req.Version
		if version == "" {
			version = "latest"
		}
		key := path.Join(req.DocumentID, version, result.Filename)
		if err := s.archiver.Archive(ctx, key, result.Data, result.MimeType); err != nil {
			s.logger.Warn("export: archive failed", slog.String("key", key), slog.Any("error", err))
		} else {
			result.ArchiveKey = key
		}
	}
	return result, nil
}
