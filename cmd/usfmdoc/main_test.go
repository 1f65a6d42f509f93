package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"

	"github.com/jnterry/awoken-bible-usfm/core/errors"
	"github.com/jnterry/awoken-bible-usfm/core/usfm/parser"
	"github.com/jnterry/awoken-bible-usfm/internal/config"
	"github.com/jnterry/awoken-bible-usfm/internal/store"
)

const genesis = `\id GEN Test Bible
\h Genesis
\c 1
\p
\v 1 In the \nd Lord\nd* beginning.
\v 2 And the earth.
\c 2
\p
\v 1 Thus the heavens.
`

// Test helper functions

func createTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Parser.Workers = 2
	var out bytes.Buffer
	return &App{Config: cfg, Out: &out}, &out
}

func TestCLIParse(t *testing.T) {
	var cli CLI
	p, err := kong.New(&cli, kong.Name("usfmdoc"))
	if err != nil {
		t.Fatalf("kong.New() error = %v", err)
	}
	dir := t.TempDir()

	ctx, err := p.Parse([]string{"--workers", "3", "show", "GEN", "2", "--verses"})
	if err != nil {
		t.Fatalf("Parse(show) error = %v", err)
	}
	if !strings.HasPrefix(ctx.Command(), "show") {
		t.Errorf("Command() = %q", ctx.Command())
	}
	if cli.Workers != 3 || cli.Show.Book != "GEN" || cli.Show.Chapter != 2 || !cli.Show.Verses {
		t.Errorf("parsed flags = %+v", cli)
	}

	if _, err := p.Parse([]string{"parse", filepath.Join(dir, "missing.usfm")}); err == nil {
		t.Error("parse of a missing file should be rejected")
	}
}

func TestCLIApp(t *testing.T) {
	dir := t.TempDir()
	cfgPath := createTestFile(t, dir, "usfmdoc.yaml", "log:\n  level: warn\nstore:\n  path: from-file.db\n")

	cli := CLI{Config: cfgPath, Workers: -1, LogLevel: "error"}
	app, err := cli.app(&bytes.Buffer{})
	if err != nil {
		t.Fatalf("app() error = %v", err)
	}
	if app.Config.Log.Level != "error" || app.Config.Store.Path != "from-file.db" || app.Config.Parser.Workers != 0 {
		t.Errorf("config = %+v", app.Config)
	}

	cli = CLI{Workers: 4, Store: filepath.Join(dir, "flag.db")}
	if app, err = cli.app(&bytes.Buffer{}); err != nil || app.Config.Parser.Workers != 4 || app.Config.Store.Path != cli.Store {
		t.Errorf("app() with overrides = %+v, %v", app, err)
	}

	cli = CLI{Workers: -1, LogFormat: "xml"}
	_, err = cli.app(&bytes.Buffer{})
	var verr *errors.ValidationError
	if !errors.As(err, &verr) || verr.Field != "log.format" {
		t.Errorf("app() with a bad format error = %v", err)
	}
}

// Tests for ParseCmd

func TestParseCmd_Run(t *testing.T) {
	app, out := newTestApp(t)
	dir := t.TempDir()
	path := createTestFile(t, dir, "gen.usfm", genesis)

	if err := (&ParseCmd{Path: path}).Run(app); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var got parser.BookResult
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if !got.OK() || got.Book.ID != "GEN" || len(got.Book.Chapters) != 2 {
		t.Fatalf("result = %+v", got)
	}
	body := got.Book.Chapters[0].Chapter.Body
	if !strings.Contains(body.Text, "In the Lord beginning.") {
		t.Errorf("chapter 1 text = %q", body.Text)
	}
}

func TestParseCmd_OutputXZ(t *testing.T) {
	app, out := newTestApp(t)
	dir := t.TempDir()
	path := createTestFile(t, dir, "gen.sfm", genesis)
	dest := filepath.Join(dir, "gen.json.xz")

	if err := (&ParseCmd{Path: path, Output: dest, XZ: true, Indent: true}).Run(app); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected stdout output %q", out.String())
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := store.Decompress(data)
	if err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	if !bytes.HasPrefix(plain, []byte("{\n  ")) {
		t.Errorf("output is not indented JSON: %.40q", plain)
	}
}

func TestParseCmd_USX(t *testing.T) {
	app, out := newTestApp(t)
	dir := t.TempDir()
	path := createTestFile(t, dir, "exo.xml", `<usx version="3.0">
  <book code="EXO" style="id">Test Bible</book>
  <chapter number="1" style="c"/>
  <para style="p"><verse number="1" style="v"/>These are the names.</para>
</usx>`)

	if err := (&ParseCmd{Path: path, USX: true}).Run(app); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var got parser.BookResult
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Book == nil || got.Book.ID != "EXO" {
		t.Errorf("result = %+v", got)
	}
}

// Tests for CheckCmd

func TestCheckCmd_Run(t *testing.T) {
	dir := t.TempDir()
	good := createTestFile(t, dir, "gen.usfm", genesis)
	bad := createTestFile(t, dir, "bad.usfm", "\\id GEN\n\\c 1\n\\p\n\\v 1 Text \\zzz odd.\n")

	app, out := newTestApp(t)
	if err := (&CheckCmd{Paths: []string{good}}).Run(app); err != nil {
		t.Errorf("Run(good) error = %v", err)
	}
	if !strings.Contains(out.String(), good+": GEN (Genesis), 2 chapter(s)") || !strings.Contains(out.String(), "1 file(s) ok") {
		t.Errorf("output = %q", out.String())
	}

	app, out = newTestApp(t)
	err := (&CheckCmd{Paths: []string{good, bad}}).Run(app)
	if err == nil {
		t.Fatal("Run() with a bad file should fail")
	}
	if !strings.Contains(out.String(), bad+":4:") || !strings.Contains(out.String(), `\zzz`) {
		t.Errorf("diagnostic output = %q", out.String())
	}
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, good+":") && !strings.HasPrefix(line, good+": GEN") {
			t.Errorf("good file reported a problem: %q", line)
		}
	}
}

// Tests for IngestCmd and ShowCmd

func TestIngestAndShow(t *testing.T) {
	dir := t.TempDir()
	books := filepath.Join(dir, "books")
	if err := os.Mkdir(books, 0o755); err != nil {
		t.Fatal(err)
	}
	path := createTestFile(t, books, "gen.usfm", genesis)

	app, out := newTestApp(t)
	if err := (&IngestCmd{Paths: []string{books}}).Run(app); err != nil {
		t.Fatalf("Ingest error = %v", err)
	}
	if !strings.Contains(out.String(), "OK   "+path+": GEN, 2 chapter(s)") {
		t.Errorf("ingest output = %q", out.String())
	}

	out.Reset()
	if err := (&IngestCmd{Paths: []string{path}}).Run(app); err != nil {
		t.Fatalf("second ingest error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "SKIP "+path) {
		t.Errorf("second ingest output = %q", out.String())
	}

	out.Reset()
	if err := (&ShowCmd{}).Run(app); err != nil {
		t.Fatalf("show error = %v", err)
	}
	var summaries []store.BookSummary
	if err := json.Unmarshal(out.Bytes(), &summaries); err != nil || len(summaries) != 1 || summaries[0].ID != "GEN" {
		t.Errorf("show output = %q, %v", out.String(), err)
	}

	out.Reset()
	if err := (&ShowCmd{Book: "GEN", Chapter: 1, Verses: true}).Run(app); err != nil {
		t.Fatalf("show verses error = %v", err)
	}
	var verses []store.VerseRange
	if err := json.Unmarshal(out.Bytes(), &verses); err != nil || len(verses) != 2 || verses[1].Start != 2 {
		t.Errorf("verses = %+v, %v", verses, err)
	}

	out.Reset()
	if err := (&ShowCmd{Book: "GEN", Source: true}).Run(app); err != nil {
		t.Fatalf("show source error = %v", err)
	}
	if out.String() != genesis {
		t.Errorf("source = %q", out.String())
	}

	out.Reset()
	if err := (&ShowCmd{Book: "GEN", Diag: true}).Run(app); err != nil {
		t.Fatalf("show diagnostics error = %v", err)
	}
	if strings.TrimSpace(out.String()) != "{}" {
		t.Errorf("diagnostics = %q", out.String())
	}

	if err := (&ShowCmd{Book: "GEN", Chapter: 9}).Run(app); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("show of a missing chapter error = %v", err)
	}
	if err := (&ShowCmd{Book: "EXO", Source: true}).Run(app); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("show source of a missing book error = %v", err)
	}
	if err := (&ShowCmd{Book: "GEN", Verses: true}).Run(app); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("show --verses without a chapter error = %v", err)
	}
}

func TestIngestCmd_Failure(t *testing.T) {
	dir := t.TempDir()
	path := createTestFile(t, dir, "headerless.usfm", "\\c 1\n\\p\n\\v 1 Text.\n")

	app, out := newTestApp(t)
	err := (&IngestCmd{Paths: []string{path}}).Run(app)
	if err == nil || !strings.Contains(err.Error(), "1 of 1") {
		t.Errorf("Run() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "FAIL "+path) {
		t.Errorf("output = %q", out.String())
	}
}

func TestVersionCmd_Run(t *testing.T) {
	app, out := newTestApp(t)
	if err := (&VersionCmd{}).Run(app); err != nil {
		t.Fatal(err)
	}
	if out.String() != "usfmdoc version "+version+"\n" {
		t.Errorf("output = %q", out.String())
	}
}
