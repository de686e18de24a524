package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"redline/api/internal/auth"
	"redline/api/internal/events"
	"redline/api/internal/export"
	"redline/api/internal/rbac"
	"redline/api/internal/search"
	"redline/api/internal/trackchanges"
)

type HTTPServer struct {
	service    *Service
	issuer     *auth.Issuer
	events     *events.Broker
	corsOrigin string
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, issuer *auth.Issuer, broker *events.Broker, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		issuer:     issuer,
		events:     broker,
		corsOrigin: corsOrigin,
		logger:     service.logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Handle("/metrics", s.service.Metrics().Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Head("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Head("/ready", s.handleReady)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/session", s.handleSession)
			r.With(s.require(rbac.ActionRead)).Get("/search", s.handleSearch)

			r.Route("/documents", func(r chi.Router) {
				r.With(s.require(rbac.ActionRead)).Get("/", s.handleListDocuments)
				r.With(s.require(rbac.ActionEdit)).Post("/", s.handleCreateDocument)

				r.Route("/{documentID}", func(r chi.Router) {
					r.Group(func(r chi.Router) {
						r.Use(s.require(rbac.ActionRead))
						r.Get("/", s.handleGetDocument)
						r.Get("/paragraphs", s.handleParagraphs)
						r.Get("/paragraphs/{paragraphID}", s.handleParagraph)
						r.Get("/tracking", s.handleGetTracking)
						r.Get("/changes", s.handleChanges)
						r.Get("/comments/{commentID}", s.handleGetComment)
						r.Get("/history", s.handleHistory)
						r.Get("/versions/{hash}", s.handleVersion)
						r.Get("/activity", s.handleActivity)
						r.Get("/export.html", s.handleExport(export.FormatHTML))
						r.Get("/export.pdf", s.handleExport(export.FormatPDF))
						r.Get("/events", s.handleEvents)
					})

					r.With(s.require(rbac.ActionEdit)).Put("/tracking", s.handlePutTracking)
					r.With(s.require(rbac.ActionSuggest)).Post("/edits", s.handleEdits)
					r.With(s.require(rbac.ActionSuggest)).Post("/paragraph-edits", s.handleParagraphEdits)

					r.Group(func(r chi.Router) {
						r.Use(s.require(rbac.ActionResolve))
						r.Post("/changes/accept-all", s.handleResolveAll(true))
						r.Post("/changes/reject-all", s.handleResolveAll(false))
						r.Post("/changes/{changeID}/accept", s.handleResolve(true))
						r.Post("/changes/{changeID}/reject", s.handleResolve(false))
					})

					r.Group(func(r chi.Router) {
						r.Use(s.require(rbac.ActionComment))
						r.Post("/comments", s.handleAddComment)
						r.Delete("/comments/{commentID}", s.handleRemoveComment)
					})
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated":  true,
		"userName":       actor.Name,
		"role":           actor.Role,
		"forcedTracking": rbac.ForcesTracking(actor.Role),
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if text == "" {
		s.fail(w, validationError("q is required", nil))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	writeJSON(w, http.StatusOK, s.service.Search(search.Query{
		Text:       text,
		DocumentID: q.Get("documentId"),
		Limit:      limit,
	}))
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListDocuments(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": items})
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body CreateDocumentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.CreateDocument(r.Context(), actorFrom(r.Context()), body)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetDocument(r.Context(), documentID(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleParagraphs(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.Paragraphs(r.Context(), documentID(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paragraphs": items})
}

func (s *HTTPServer) handleParagraph(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.Paragraph(r.Context(), documentID(r), chi.URLParam(r, "paragraphID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleGetTracking(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Tracking(r.Context(), documentID(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handlePutTracking(w http.ResponseWriter, r *http.Request) {
	var body TrackingInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	state, err := s.service.SetTracking(r.Context(), actorFrom(r.Context()), documentID(r), body)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleEdits(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Edits []EditOp `json:"edits"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.ApplyEdits(r.Context(), actorFrom(r.Context()), documentID(r), body.Edits)
	if err != nil {
		if result.Applied > 0 {
			s.failWithDetails(w, err, result)
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleChanges(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.Changes(r.Context(), documentID(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": items})
}

func (s *HTTPServer) handleResolve(accept bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changeID := chi.URLParam(r, "changeID")
		resolved, err := s.service.Resolve(r.Context(), actorFrom(r.Context()), documentID(r), changeID, accept)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"changeId": changeID, "resolved": resolved})
	}
}

func (s *HTTPServer) handleResolveAll(accept bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.service.ResolveAll(r.Context(), actorFrom(r.Context()), documentID(r), accept)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resolved": n})
	}
}

func (s *HTTPServer) handleParagraphEdits(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Edits []trackchanges.ParagraphEdit `json:"edits"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	results, err := s.service.ApplyParagraphEdits(r.Context(), actorFrom(r.Context()), documentID(r), body.Edits)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var body CommentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.AddComment(r.Context(), actorFrom(r.Context()), documentID(r), body)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *HTTPServer) handleGetComment(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Comment(r.Context(), documentID(r), chi.URLParam(r, "commentID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleRemoveComment(w http.ResponseWriter, r *http.Request) {
	commentID := chi.URLParam(r, "commentID")
	removed, err := s.service.RemoveComment(r.Context(), actorFrom(r.Context()), documentID(r), commentID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commentId": commentID, "removed": removed})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.service.History(r.Context(), documentID(r), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": items})
}

func (s *HTTPServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Version(r.Context(), documentID(r), chi.URLParam(r, "hash"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	items, err := s.service.Activity(r.Context(), documentID(r), ActivityFilterInput{
		ChangeID: q.Get("changeId"),
		Action:   q.Get("action"),
		Author:   q.Get("author"),
		Limit:    limit,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": items})
}

func (s *HTTPServer) handleExport(format export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.service.Export(r.Context(), documentID(r), r.URL.Query().Get("version"), format)
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
		if result.ArchiveKey != "" {
			w.Header().Set("X-Archive-Key", result.ArchiveKey)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
	}
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "EVENTS_UNAVAILABLE", "Event stream is not enabled", nil)
		return
	}
	id := documentID(r)
	if _, err := s.service.Tracking(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	s.events.Stream(w, r, id)
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	s.failWithDetails(w, err, nil)
}

// failWithDetails writes err like fail, with details replacing the ones
// the error carries when set.
func (s *HTTPServer) failWithDetails(w http.ResponseWriter, err error, details any) {
	status, code, message, mapped := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("code", code), slog.Any("error", err))
	}
	if details == nil {
		details = mapped
	}
	writeError(w, status, code, message, details)
}

func documentID(r *http.Request) string {
	return chi.URLParam(r, "documentID")
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		started := time.Now()
		writer := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		status := writer.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		s.service.Metrics().ObserveRequest(route, r.Method, status, elapsed)
		s.logger.Info("request",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

func (s *HTTPServer) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", s.corsOrigin)
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		header.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Archive-Key, Content-Disposition")
		header.Set("Cache-Control", "no-store")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
