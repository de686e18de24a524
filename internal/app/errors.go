package app

import (
	"errors"
	"fmt"
	"net/http"

	"redline/api/internal/auth"
	"redline/api/internal/export"
	"redline/api/internal/gitrepo"
	"redline/api/internal/prosemirror"
	"redline/api/internal/store"
	"redline/api/internal/trackchanges"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

var errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)

// mapError turns any error returned by the service into an HTTP status and
// error body.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, gitrepo.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document not found", nil
	case errors.Is(err, trackchanges.ErrParagraphNotFound):
		return http.StatusNotFound, "PARAGRAPH_NOT_FOUND", "Paragraph not found", nil
	case errors.Is(err, prosemirror.ErrInvalidRange), errors.Is(err, trackchanges.ErrEmptyRange):
		return http.StatusUnprocessableEntity, "INVALID_RANGE", err.Error(), nil
	case errors.Is(err, prosemirror.ErrInvalidDocument):
		return http.StatusUnprocessableEntity, "INVALID_DOCUMENT", err.Error(), nil
	case errors.Is(err, prosemirror.ErrHookLoop), errors.Is(err, prosemirror.ErrStaleTransaction):
		return http.StatusConflict, "EDIT_CONFLICT", "Edit could not be committed", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
