package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jnterry/awoken-bible-usfm/core/bibleref"
	"github.com/jnterry/awoken-bible-usfm/core/errors"
	"github.com/jnterry/awoken-bible-usfm/core/sqlite"
	"github.com/jnterry/awoken-bible-usfm/core/usfm/parser"
	"github.com/jnterry/awoken-bible-usfm/internal/logging"
	"github.com/jnterry/awoken-bible-usfm/internal/source"
	"github.com/jnterry/awoken-bible-usfm/internal/store"
)

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *APIMeta  `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthInfo is returned by GET /health.
type HealthInfo struct {
	Status   string      `json:"status"`
	Version  string      `json:"version"`
	Uptime   string      `json:"uptime"`
	Books    int         `json:"books"`
	Jobs     int         `json:"jobs"`
	Clients  int         `json:"clients"`
	Cache    CacheHealth `json:"cache"`
	Database sqlite.Info `json:"database"`
}

// CacheHealth reports the parse result cache counters.
type CacheHealth struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// ParseResponse is the result of POST /parse and of a completed job.
type ParseResponse struct {
	Digest      string            `json:"digest"`
	Format      string            `json:"format"`
	Result      parser.BookResult `json:"result"`
	Diagnostics int               `json:"diagnostics"`
	Cached      bool              `json:"cached"`
	Saved       bool              `json:"saved"`
}

// VersesResponse is returned by GET /books/{id}/chapters/{n}/verses.
type VersesResponse struct {
	Book    string             `json:"book"`
	Chapter int                `json:"chapter"`
	Verses  []store.VerseRange `json:"verses"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	books, err := s.store.Books(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	stats := s.cache.Stats()
	respond(w, http.StatusOK, HealthInfo{
		Status:  "healthy",
		Version: s.version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Books:   len(books),
		Jobs:    len(s.jobs.List()),
		Clients: s.hub.ClientCount(),
		Cache: CacheHealth{
			Hits:      stats.Hits,
			Misses:    stats.Misses,
			Evictions: stats.Evictions,
			Size:      stats.Size,
		},
		Database: sqlite.GetInfo(),
	})
}

// handleParse handles POST /parse. The body is the raw USFM (or, with
// ?format=usx, USX) source. ?save=1 stores the book, using ?path= as its
// recorded source path.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	req, data, ok := s.readSource(w, r)
	if !ok {
		return
	}

	resp, err := s.parse(r.Context(), req, data, nil)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

// readSource validates the query and reads a bounded request body. It
// writes the error response itself and reports false on failure.
func (s *Server) readSource(w http.ResponseWriter, r *http.Request) (JobRequest, []byte, bool) {
	q := r.URL.Query()
	req := JobRequest{
		Format: strings.ToLower(q.Get("format")),
		Path:   q.Get("path"),
	}
	if req.Format == "" {
		req.Format = source.USFM
	}
	if req.Format != source.USFM && req.Format != source.USX {
		respondError(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", "format must be usfm or usx")
		return req, nil, false
	}
	if v := q.Get("save"); v != "" {
		save, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "save must be a boolean")
			return req, nil, false
		}
		req.Save = save
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds the size limit")
			return req, nil, false
		}
		respondError(w, http.StatusBadRequest, "READ_FAILED", "could not read request body")
		return req, nil, false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		respondError(w, http.StatusBadRequest, "EMPTY_BODY", "request body is empty")
		return req, nil, false
	}
	req.Size = len(data)
	return req, data, true
}

// parse tokenizes and parses data, serving repeated sources from the cache.
// onChapter is only called when the book is actually parsed.
func (s *Server) parse(ctx context.Context, req JobRequest, data []byte, onChapter func(index, total int, res parser.ChapterResult)) (*ParseResponse, error) {
	digest := store.Digest(data)
	key := req.Format + ":" + digest

	cached, hit := s.cache.Get(key)
	if !hit {
		markers, err := source.Tokenize(req.Format, data)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		res, err := parser.ParseBookContext(ctx, markers, parser.Options{Workers: s.config.Workers, OnChapter: onChapter})
		if err != nil {
			return nil, err
		}

		cached = &ParseResponse{
			Digest:      digest,
			Format:      req.Format,
			Result:      res,
			Diagnostics: len(res.AllErrors()),
		}
		book, chapters := "", 0
		if res.Book != nil {
			book, chapters = res.Book.ID, len(res.Book.Chapters)
		}
		logging.ParseSummary(ctx, book, chapters, cached.Diagnostics, time.Since(start), "digest", digest, "format", req.Format)
		s.cache.Set(key, cached)
	}

	resp := *cached
	resp.Cached = hit
	if req.Save {
		if _, err := s.store.SaveBook(ctx, store.Source{Path: req.Path, Format: req.Format, Data: data}, resp.Result); err != nil {
			return nil, err
		}
		resp.Saved = true
	}
	return &resp, nil
}

// handleListBooks handles GET /books.
func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.store.Books(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondList(w, books, len(books))
}

// handleGetBook handles GET /books/{id}.
func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.store.Book(r.Context(), strings.ToUpper(r.PathValue("id")))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, book)
}

// handleGetChapter handles GET /books/{id}/chapters/{n}.
func (s *Server) handleGetChapter(w http.ResponseWriter, r *http.Request) {
	n, ok := chapterParam(w, r)
	if !ok {
		return
	}
	ch, err := s.store.Chapter(r.Context(), strings.ToUpper(r.PathValue("id")), n)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, ch)
}

// handleGetVerses handles GET /books/{id}/chapters/{n}/verses. ?verse=
// keeps only the ranges covering that verse.
func (s *Server) handleGetVerses(w http.ResponseWriter, r *http.Request) {
	n, ok := chapterParam(w, r)
	if !ok {
		return
	}
	verse := 0
	if v := r.URL.Query().Get("verse"); v != "" {
		var err error
		if verse, err = strconv.Atoi(v); err != nil || verse < 1 {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "verse must be a positive integer")
			return
		}
	}
	book := strings.ToUpper(r.PathValue("id"))
	if _, err := s.store.Chapter(r.Context(), book, n); err != nil {
		s.respondErr(w, r, err)
		return
	}
	verses, err := s.store.VerseRanges(r.Context(), book, n)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if verse > 0 {
		want := bibleref.Ref{Book: book, Chapter: n, Verse: verse}
		kept := verses[:0]
		for _, v := range verses {
			if v.Reference(book).Contains(want) {
				kept = append(kept, v)
			}
		}
		verses = kept
	}
	respond(w, http.StatusOK, VersesResponse{Book: book, Chapter: n, Verses: verses})
}

func chapterParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 1 {
		respondError(w, http.StatusBadRequest, "INVALID_CHAPTER", "chapter must be a positive integer")
		return 0, false
	}
	return n, true
}

// respondErr maps an error to a status code and error code. Unexpected
// errors are logged and reported without detail.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var perr *errors.ParseError
	switch {
	case errors.As(err, &perr):
		respondError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
	case errors.Is(err, errors.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, errors.ErrInvalidInput):
		respondError(w, http.StatusUnprocessableEntity, "INVALID_INPUT", err.Error())
	case errors.Is(err, errors.ErrUnsupported):
		respondError(w, http.StatusBadRequest, "UNSUPPORTED", err.Error())
	case errors.Is(err, context.Canceled):
		// The client went away.
		logging.DebugContext(r.Context(), "request cancelled", "error", err)
	default:
		logging.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func respondList(w http.ResponseWriter, data any, total int) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Total:     total,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response", "error", err)
	}
}
