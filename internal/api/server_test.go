package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/jnterry/awoken-bible-usfm/core/usfm/parser"
	"github.com/jnterry/awoken-bible-usfm/internal/store"
)

const genesis = `\id GEN Test Bible
\h Genesis
\mt1 Genesis
\c 1
\p
\v 1 In the beginning.\f + \fr 1:1 \ft Or first.\f*
\v 2 The earth was formless.
\c 2
\q1
\v 1 Thus the heavens.
`

const genesisUSX = `<?xml version="1.0" encoding="utf-8"?>
<usx version="3.0">
  <book code="GEN" style="id">Test Bible</book>
  <chapter number="1" style="c" sid="GEN 1"/>
  <para style="p"><verse number="1" style="v" sid="GEN 1:1"/>In the beginning.<verse eid="GEN 1:1"/></para>
  <chapter eid="GEN 1"/>
</usx>`

// envelope mirrors APIResponse with the payload left undecoded.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 4096
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}

	s := New(cfg, st, "test")
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
		st.Close()
	})
	return s, ts
}

func do(t *testing.T, method, url, body string) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var env envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decoding %s %s response %q: %v", method, url, raw, err)
		}
	}
	return resp, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decoding data %s: %v", env.Data, err)
	}
	return v
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, env := do(t, http.MethodGet, ts.URL+"/health", "")
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("GET /health = %d %+v", resp.StatusCode, env)
	}
	health := decodeData[HealthInfo](t, env)
	if health.Status != "healthy" || health.Version != "test" || health.Books != 0 {
		t.Errorf("health = %+v", health)
	}
	if health.Database.DriverName == "" {
		t.Error("health should report the database driver")
	}

	headers := map[string]string{
		"X-Content-Type-Options":      "nosniff",
		"X-Frame-Options":             "DENY",
		"Access-Control-Allow-Origin": "*",
	}
	for name, want := range headers {
		if got := resp.Header.Get(name); got != want {
			t.Errorf("header %s = %q, want %q", name, got, want)
		}
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestParse(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	want, err := parser.Parse(strings.NewReader(genesis), parser.Options{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}

	resp, env := do(t, http.MethodPost, ts.URL+"/parse", genesis)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /parse = %d %+v", resp.StatusCode, env.Error)
	}
	first := decodeData[ParseResponse](t, env)
	if first.Cached || first.Saved || first.Format != "usfm" || first.Diagnostics != 0 {
		t.Errorf("first parse = %+v", first)
	}
	if first.Digest != store.Digest([]byte(genesis)) {
		t.Errorf("digest = %s", first.Digest)
	}
	if diff := cmp.Diff(want.Book, first.Result.Book, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("parsed book mismatch (-want +got):\n%s", diff)
	}

	_, env = do(t, http.MethodPost, ts.URL+"/parse", genesis)
	second := decodeData[ParseResponse](t, env)
	if !second.Cached || second.Digest != first.Digest {
		t.Errorf("second parse should be served from the cache: %+v", second)
	}
}

func TestParseUSX(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, env := do(t, http.MethodPost, ts.URL+"/parse?format=USX", genesisUSX)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /parse?format=usx = %d %+v", resp.StatusCode, env.Error)
	}
	got := decodeData[ParseResponse](t, env)
	if got.Format != "usx" || got.Result.Book == nil || got.Result.Book.ID != "GEN" {
		t.Fatalf("USX parse = %+v", got)
	}
	if ch := got.Result.Book.Chapters; len(ch) != 1 || !strings.HasPrefix(ch[0].Chapter.Body.Text, "In the beginning.") {
		t.Errorf("USX chapters = %+v", ch)
	}
}

func TestParseErrors(t *testing.T) {
	_, ts := newTestServer(t, Config{MaxBodyBytes: 256})

	tests := []struct {
		name   string
		query  string
		body   string
		status int
		code   string
	}{
		{"unknown format", "?format=osis", genesis[:100], http.StatusBadRequest, "UNSUPPORTED_FORMAT"},
		{"empty body", "", "  \n", http.StatusBadRequest, "EMPTY_BODY"},
		{"too large", "", strings.Repeat(`\v 1 x `, 100), http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE"},
		{"bad save flag", "?save=maybe", genesis[:100], http.StatusBadRequest, "INVALID_PARAM"},
		{"malformed usx", "?format=usx", "<usx><para", http.StatusBadRequest, "PARSE_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := do(t, http.MethodPost, ts.URL+"/parse"+tt.query, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if env.Success || env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %s", env.Error, tt.code)
			}
		})
	}

	resp, _ := do(t, http.MethodGet, ts.URL+"/parse", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /parse = %d, want 405", resp.StatusCode)
	}
}

func TestParseWithoutHeader(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	src := "\\c 1\n\\p\n\\v 1 No identification.\n"

	resp, env := do(t, http.MethodPost, ts.URL+"/parse", src)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /parse = %d %+v", resp.StatusCode, env.Error)
	}
	got := decodeData[ParseResponse](t, env)
	if got.Result.Book != nil || len(got.Result.Errors) == 0 || got.Diagnostics == 0 {
		t.Errorf("headerless parse = %+v", got)
	}

	resp, env = do(t, http.MethodPost, ts.URL+"/parse?save=1", src)
	if resp.StatusCode != http.StatusUnprocessableEntity || env.Error.Code != "INVALID_INPUT" {
		t.Errorf("saving a headerless book = %d %+v", resp.StatusCode, env.Error)
	}
}

func TestSavedBooks(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, env := do(t, http.MethodPost, ts.URL+"/parse?save=true&path=gen.usfm", genesis)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /parse?save = %d %+v", resp.StatusCode, env.Error)
	}
	if !decodeData[ParseResponse](t, env).Saved {
		t.Error("response should report the book as saved")
	}

	_, env = do(t, http.MethodGet, ts.URL+"/books", "")
	books := decodeData[[]store.BookSummary](t, env)
	if len(books) != 1 || books[0].ID != "GEN" || books[0].Path != "gen.usfm" || env.Meta.Total != 1 {
		t.Errorf("GET /books = %+v (meta %+v)", books, env.Meta)
	}

	_, env = do(t, http.MethodGet, ts.URL+"/books/gen", "")
	if book := decodeData[parser.Book](t, env); book.ID != "GEN" || book.Name != "Genesis" {
		t.Errorf("GET /books/gen = %+v", book)
	}

	_, env = do(t, http.MethodGet, ts.URL+"/books/GEN/chapters/2", "")
	if ch := decodeData[parser.Chapter](t, env); ch.Number != 2 || ch.Body.Text != "Thus the heavens. " {
		t.Errorf("GET chapter 2 = %+v", ch)
	}

	_, env = do(t, http.MethodGet, ts.URL+"/books/GEN/chapters/1/verses", "")
	verses := decodeData[VersesResponse](t, env)
	if verses.Book != "GEN" || verses.Chapter != 1 || len(verses.Verses) != 2 {
		t.Errorf("GET verses = %+v", verses)
	}

	_, env = do(t, http.MethodGet, ts.URL+"/books/GEN/chapters/1/verses?verse=2", "")
	verses = decodeData[VersesResponse](t, env)
	if len(verses.Verses) != 1 || verses.Verses[0].Start != 2 {
		t.Errorf("GET verses?verse=2 = %+v", verses)
	}
	resp, env = do(t, http.MethodGet, ts.URL+"/books/GEN/chapters/1/verses?verse=x", "")
	if resp.StatusCode != http.StatusBadRequest || env.Error.Code != "INVALID_PARAM" {
		t.Errorf("GET verses?verse=x = %d %+v", resp.StatusCode, env.Error)
	}

	notFound := []string{"/books/EXO", "/books/GEN/chapters/9", "/books/GEN/chapters/9/verses"}
	for _, path := range notFound {
		resp, env := do(t, http.MethodGet, ts.URL+path, "")
		if resp.StatusCode != http.StatusNotFound || env.Error.Code != "NOT_FOUND" {
			t.Errorf("GET %s = %d %+v", path, resp.StatusCode, env.Error)
		}
	}

	resp, env = do(t, http.MethodGet, ts.URL+"/books/GEN/chapters/zero", "")
	if resp.StatusCode != http.StatusBadRequest || env.Error.Code != "INVALID_CHAPTER" {
		t.Errorf("GET bad chapter = %d %+v", resp.StatusCode, env.Error)
	}
}

func TestCORS(t *testing.T) {
	_, ts := newTestServer(t, Config{AllowedOrigins: []string{"https://app.example.org"}})

	preflight := func(origin string) *http.Response {
		req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/parse", nil)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp
	}

	resp := preflight("https://app.example.org")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != "https://app.example.org" {
		t.Errorf("allowed preflight = %d %q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}
	resp = preflight("https://evil.test")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("rejected preflight = %d, want 403", resp.StatusCode)
	}
}
