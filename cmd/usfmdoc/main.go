// Command usfmdoc parses USFM and USX books into text with style ranges,
// stores them, and serves them over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/jnterry/awoken-bible-usfm/core/errors"
	"github.com/jnterry/awoken-bible-usfm/core/usfm/parser"
	"github.com/jnterry/awoken-bible-usfm/internal/api"
	"github.com/jnterry/awoken-bible-usfm/internal/config"
	"github.com/jnterry/awoken-bible-usfm/internal/logging"
	"github.com/jnterry/awoken-bible-usfm/internal/source"
	"github.com/jnterry/awoken-bible-usfm/internal/store"
	"github.com/jnterry/awoken-bible-usfm/internal/watch"
)

const version = "0.1.0"

// CLI defines the command-line interface for usfmdoc.
type CLI struct {
	// Global flags
	Config    string `name:"config" short:"c" help:"YAML configuration file" type:"existingfile"`
	LogLevel  string `name:"log-level" help:"Override log.level (debug, info, warn, error)"`
	LogFormat string `name:"log-format" help:"Override log.format (json, text)"`
	Workers   int    `help:"Chapters parsed in parallel, overriding parser.workers" default:"-1"`
	Store     string `help:"SQLite database, overriding store.path" type:"path"`

	Parse   ParseCmd   `cmd:"" help:"Parse a book and print the result as JSON"`
	Check   CheckCmd   `cmd:"" help:"Report diagnostics for books"`
	Ingest  IngestCmd  `cmd:"" help:"Parse books and save them in the store"`
	Show    ShowCmd    `cmd:"" help:"Print a stored book or chapter"`
	Serve   ServeCmd   `cmd:"" help:"Start the REST API server"`
	Watch   WatchCmd   `cmd:"" help:"Keep the store in step with a directory"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// App is bound to every command's Run method.
type App struct {
	Config *config.Config
	Out    io.Writer
}

// app loads the configuration file and applies the flag overrides.
func (c *CLI) app(out io.Writer) (*App, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Log.Format = c.LogFormat
	}
	if c.Workers >= 0 {
		cfg.Parser.Workers = c.Workers
	}
	if c.Store != "" {
		cfg.Store.Path = c.Store
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.InitLogging()
	return &App{Config: cfg, Out: out}, nil
}

func (a *App) openStore() (*store.Store, error) {
	return store.Open(a.Config.Store.Path)
}

// parseFile reads, tokenizes and parses one book.
func (a *App) parseFile(ctx context.Context, path, format string) (parser.BookResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return parser.BookResult{}, errors.NewIO("read", path, err)
	}
	if format == "" {
		format = source.FormatOf(path)
	}
	markers, err := source.TokenizeFile(path, format, data)
	if err != nil {
		return parser.BookResult{}, err
	}

	start := time.Now()
	res, err := parser.ParseBookContext(ctx, markers, parser.Options{Workers: a.Config.Parser.Workers})
	if err != nil {
		return parser.BookResult{}, err
	}
	book, chapters := "", 0
	if res.Book != nil {
		book, chapters = res.Book.ID, len(res.Book.Chapters)
	}
	logging.ParseSummary(ctx, book, chapters, len(res.AllErrors()), time.Since(start), "path", path)
	return res, nil
}

// ParseCmd parses one book.
type ParseCmd struct {
	Path   string `arg:"" help:"USFM or USX file" type:"existingfile"`
	USX    bool   `name:"usx" help:"Read the file as USX whatever its extension"`
	Output string `short:"o" help:"Write to this file instead of standard output" type:"path"`
	XZ     bool   `name:"xz" help:"xz-compress the output"`
	Indent bool   `help:"Indent the JSON"`
}

func (c *ParseCmd) Run(app *App) error {
	format := ""
	if c.USX {
		format = source.USX
	}
	res, err := app.parseFile(context.Background(), c.Path, format)
	if err != nil {
		return err
	}

	var data []byte
	if c.Indent {
		data, err = json.MarshalIndent(res, "", "  ")
	} else {
		data, err = json.Marshal(res)
	}
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	data = append(data, '\n')
	if c.XZ {
		if data, err = store.Compress(data); err != nil {
			return err
		}
	}

	if c.Output == "" {
		_, err = app.Out.Write(data)
		return err
	}
	if err := os.WriteFile(c.Output, data, 0o644); err != nil {
		return errors.NewIO("write", c.Output, err)
	}
	return nil
}

// CheckCmd prints every diagnostic and fails if there are any.
type CheckCmd struct {
	Paths []string `arg:"" help:"USFM or USX files" type:"existingfile"`
}

func (c *CheckCmd) Run(app *App) error {
	ctx := context.Background()
	problems := 0
	for _, path := range c.Paths {
		res, err := app.parseFile(ctx, path, "")
		if err != nil {
			fmt.Fprintf(app.Out, "%s: %v\n", path, err)
			problems++
			continue
		}

		for _, e := range res.Errors {
			fmt.Fprintf(app.Out, "%s:%v\n", path, e)
		}
		if res.Book == nil {
			problems += len(res.Errors)
			continue
		}
		for i, ch := range res.Book.Chapters {
			number := i + 1
			if ch.Chapter != nil {
				number = ch.Chapter.Number
			}
			logging.ChapterDiagnostics(ctx, res.Book.ID, number, ch.Errors)
			for _, e := range ch.Errors {
				fmt.Fprintf(app.Out, "%s:%v\n", path, e)
			}
		}
		if n := len(res.AllErrors()); n > 0 {
			problems += n
			continue
		}
		fmt.Fprintf(app.Out, "%s: %s (%s), %d chapter(s)\n", path, res.Book.ID, res.Book.Header(), len(res.Book.Chapters))
	}

	if problems > 0 {
		return fmt.Errorf("%d problem(s) found", problems)
	}
	fmt.Fprintf(app.Out, "%d file(s) ok\n", len(c.Paths))
	return nil
}

// IngestCmd stores books, skipping files whose stored book is current.
type IngestCmd struct {
	Paths []string `arg:"" help:"Files or directories to ingest" type:"path"`
}

func (c *IngestCmd) Run(app *App) error {
	st, err := app.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	var events []watch.Event
	for _, path := range c.Paths {
		info, err := os.Stat(path)
		if err != nil {
			return errors.NewIO("stat", path, err)
		}
		if info.IsDir() {
			evs, err := watch.IngestDir(ctx, st, path, app.Config.Parser.Workers)
			if err != nil {
				return err
			}
			events = append(events, evs...)
			continue
		}
		ev, err := watch.Ingest(ctx, st, path, app.Config.Parser.Workers)
		ev.Err = err
		events = append(events, ev)
	}

	failed := 0
	for _, ev := range events {
		switch {
		case ev.Err != nil:
			failed++
			fmt.Fprintf(app.Out, "FAIL %s: %v\n", ev.Path, ev.Err)
		case ev.Skipped:
			fmt.Fprintf(app.Out, "SKIP %s (unchanged)\n", ev.Path)
		default:
			logging.IngestEvent(ev.Path, ev.Book, ev.Digest, "chapters", ev.Chapters, "diagnostics", ev.Diagnostics)
			fmt.Fprintf(app.Out, "OK   %s: %s, %d chapter(s), %d diagnostic(s)\n", ev.Path, ev.Book, ev.Chapters, ev.Diagnostics)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failed, len(events))
	}
	return nil
}

// ShowCmd prints stored data as JSON.
type ShowCmd struct {
	Book    string `arg:"" optional:"" help:"Book code; omit to list the stored books"`
	Chapter int    `arg:"" optional:"" help:"Chapter number"`
	Verses  bool   `help:"Print the chapter's verse ranges instead of its body"`
	Source  bool   `help:"Print the source the book was parsed from"`
	Diag    bool   `name:"diagnostics" help:"Print the book's stored diagnostics by chapter"`
}

func (c *ShowCmd) Run(app *App) error {
	st, err := store.OpenReadOnly(app.Config.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	var v any
	switch {
	case c.Book == "":
		v, err = st.Books(ctx)
	case c.Source:
		return c.writeSource(ctx, app, st)
	case c.Diag:
		if _, err := st.Book(ctx, c.Book); err != nil {
			return err
		}
		v, err = st.Diagnostics(ctx, c.Book)
	case c.Chapter == 0:
		if c.Verses {
			return errors.NewValidation("chapter", "", "--verses needs a chapter")
		}
		v, err = st.Book(ctx, c.Book)
	case c.Verses:
		if _, err := st.Chapter(ctx, c.Book, c.Chapter); err != nil {
			return err
		}
		v, err = st.VerseRanges(ctx, c.Book, c.Chapter)
	default:
		v, err = st.Chapter(ctx, c.Book, c.Chapter)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(app.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *ShowCmd) writeSource(ctx context.Context, app *App, st *store.Store) error {
	books, err := st.Books(ctx)
	if err != nil {
		return err
	}
	for _, b := range books {
		if b.ID != c.Book {
			continue
		}
		data, err := st.Source(ctx, b.Digest)
		if err != nil {
			return err
		}
		_, err = app.Out.Write(data)
		return err
	}
	return errors.NewNotFound("book", c.Book)
}

// ServeCmd runs the REST API until interrupted.
type ServeCmd struct {
	Port int `help:"HTTP server port, overriding server.port"`
}

func (c *ServeCmd) Run(app *App) error {
	st, err := app.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	cfg := api.ConfigFrom(app.Config)
	if c.Port != 0 {
		cfg.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return api.New(cfg, st, version).ListenAndServe(ctx)
}

// WatchCmd re-ingests a directory's books as they change, until
// interrupted.
type WatchCmd struct {
	Dir      string        `arg:"" help:"Directory of USFM or USX files" type:"existingdir"`
	Debounce time.Duration `help:"Wait this long after a change, overriding watch.debounce"`
}

func (c *WatchCmd) Run(app *App) error {
	st, err := app.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	debounce := app.Config.Watch.Debounce
	if c.Debounce > 0 {
		debounce = c.Debounce
	}

	dir, err := filepath.Abs(c.Dir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watch.New(dir, st, watch.Options{
		Workers:  app.Config.Parser.Workers,
		Debounce: debounce,
	}).Run(ctx)
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(app *App) error {
	fmt.Fprintf(app.Out, "usfmdoc version %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("usfmdoc"),
		kong.Description("USFM and USX book parser"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	app, err := cli.app(os.Stdout)
	ctx.FatalIfErrorf(err)
	ctx.FatalIfErrorf(ctx.Run(app))
}
