package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"readingroom/api/internal/comments"
	"readingroom/api/internal/render"
	"readingroom/api/internal/storage"
	"readingroom/api/internal/util"
)

const maxBodyBytes = 64 << 10

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"storage": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["storage"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		page := strings.TrimSpace(r.URL.Query().Get("page"))
		limit, ok := queryInt(w, r, "limit", 20)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0)
		if !ok {
			return
		}

		payload, err := s.service.Search(r.Context(), q, page, limit, offset)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "comments" {
		s.handleComments(w, r, "", parts[2:])
		return
	}
	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "pages" && parts[3] == "comments" {
		s.handleComments(w, r, parts[2], parts[4:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleComments serves one page's forest. rest is the path below
// .../comments.
func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, page string, rest []string) {
	ifMatch := r.Header.Get("If-Match")

	switch {
	case len(rest) == 0:
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			view, err := s.service.Comments(r.Context(), page)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeView(w, http.StatusOK, view)
		case http.MethodPost:
			var body CommentInput
			if err := decodeBody(w, r, &body); err != nil {
				writeMappedError(w, err)
				return
			}
			view, err := s.service.AddComment(r.Context(), page, body, ifMatch)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeView(w, http.StatusCreated, view)
		default:
			methodNotAllowed(w)
		}
		return

	case len(rest) == 1 && rest[0] == "export":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		format, err := render.ParseFormat(strings.TrimSpace(r.URL.Query().Get("format")))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'html' or 'pdf'", nil)
			return
		}
		result, err := s.service.Export(r.Context(), page, format)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		disposition := "inline"
		if format == render.FormatPDF {
			disposition = "attachment"
		}
		w.Header().Set("Content-Disposition", disposition+"; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return

	case len(rest) == 1 && rest[0] == "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		limit, ok := queryInt(w, r, "limit", defaultHistoryLimit)
		if !ok {
			return
		}
		payload, err := s.service.History(r.Context(), page, limit)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return

	case len(rest) == 1:
		id, ok := pathID(w, rest[0])
		if !ok {
			return
		}
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		view, err := s.service.DeleteComment(r.Context(), page, id, ifMatch)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeView(w, http.StatusOK, view)
		return

	case len(rest) == 2 && rest[1] == "replies":
		id, ok := pathID(w, rest[0])
		if !ok {
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body CommentInput
		if err := decodeBody(w, r, &body); err != nil {
			writeMappedError(w, err)
			return
		}
		view, err := s.service.AddReply(r.Context(), page, id, body, ifMatch)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeView(w, http.StatusCreated, view)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, If-Match, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeView(w http.ResponseWriter, status int, view CommentsView) {
	w.Header().Set("ETag", `"`+view.ETag+`"`)
	writeJSON(w, status, view)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
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

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("app: request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domainError(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes), nil)
		}
		return domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	return nil
}

func pathID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "comment id must be an integer", map[string]any{"id": raw})
		return 0, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", key+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, comments.ErrValidation) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, comments.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Comment not found", nil
	}
	if errors.Is(err, storage.ErrConflict) {
		return http.StatusConflict, "CONFLICT", "Comments are being changed concurrently, try again", nil
	}
	if errors.Is(err, render.ErrUnsupportedFormat) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, render.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
