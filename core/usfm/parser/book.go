package parser

import (
	"context"
	"io"
	"strings"

	"github.com/jnterry/awoken-bible-usfm/core/bibleref"
	"github.com/jnterry/awoken-bible-usfm/core/document"
	"github.com/jnterry/awoken-bible-usfm/core/usfm"
	"github.com/jnterry/awoken-bible-usfm/internal/workerpool"
)

// Book is the metadata and content of one USFM book.
type Book struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
	Version     string `json:"usfm_version,omitempty"`
	Status      string `json:"status,omitempty"`

	// Headers holds the running headers keyed by marker (h, h1, h2, h3).
	Headers map[string]string `json:"headers,omitempty"`

	TOC          TOC      `json:"toc"`
	Titles       []Title  `json:"titles,omitempty"`
	ChapterLabel string   `json:"chapter_label,omitempty"`
	Remarks      []string `json:"remarks,omitempty"`

	Introduction *document.Document `json:"introduction,omitempty"`
	Chapters     []ChapterResult    `json:"chapters"`
}

// TOC holds the \toc1-3 and \toca1-3 entries.
type TOC struct {
	Long            string `json:"long,omitempty"`
	Short           string `json:"short,omitempty"`
	Abbreviation    string `json:"abbreviation,omitempty"`
	AltLong         string `json:"alt_long,omitempty"`
	AltShort        string `json:"alt_short,omitempty"`
	AltAbbreviation string `json:"alt_abbreviation,omitempty"`
}

// Title is a major title (\mt or \mte) from the book header.
type Title struct {
	Kind  string `json:"kind"`
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Header returns the main running header of the book.
func (b *Book) Header() string {
	if h, ok := b.Headers["h"]; ok {
		return h
	}
	return b.Headers["h1"]
}

// Chapter returns the parsed chapter with the given number.
func (b *Book) Chapter(number int) (*Chapter, bool) {
	for _, r := range b.Chapters {
		if r.Chapter != nil && r.Chapter.Number == number {
			return r.Chapter, true
		}
	}
	return nil, false
}

// BookResult is the outcome of parsing a whole book. Book is nil when the
// header was invalid. Errors holds header and introduction diagnostics;
// chapter diagnostics stay with their chapters.
type BookResult struct {
	Errors []usfm.ParseError `json:"errors"`
	Book   *Book             `json:"book,omitempty"`
}

// OK reports whether the book header was parsed.
func (r BookResult) OK() bool {
	return r.Book != nil
}

// AllErrors returns the header diagnostics followed by those of every
// chapter, in chapter order.
func (r BookResult) AllErrors() []usfm.ParseError {
	all := append([]usfm.ParseError(nil), r.Errors...)
	if r.Book != nil {
		for _, ch := range r.Book.Chapters {
			all = append(all, ch.Errors...)
		}
	}
	return all
}

// Options controls book parsing.
type Options struct {
	// Workers is the number of chapters parsed at once. Zero or less uses
	// one worker per CPU; 1 parses sequentially.
	Workers int

	// OnChapter, when set, is called as each chapter finishes with the
	// chapter's index and the number of chapters. It runs on the worker
	// goroutines and must be safe for concurrent use.
	OnChapter func(index, total int, res ChapterResult)
}

// Parse lexes and parses a USFM book.
func Parse(r io.Reader, opts Options) (BookResult, error) {
	markers, err := usfm.Lex(r)
	if err != nil {
		return BookResult{}, err
	}
	return ParseBook(markers, opts), nil
}

// ParseBook parses the markers of a whole book.
func ParseBook(markers []usfm.Marker, opts Options) BookResult {
	res, _ := ParseBookContext(context.Background(), markers, opts)
	return res
}

// ParseBookContext is ParseBook with cancellation. Chapters already being
// parsed when ctx is cancelled run to completion, the rest are skipped and
// ctx.Err() is returned.
func ParseBookContext(ctx context.Context, markers []usfm.Marker, opts Options) (BookResult, error) {
	header, groups := SplitChapters(markers)
	book, errs, ok := parseHeader(header)
	if !ok {
		return BookResult{Errors: errs}, nil
	}

	type job struct {
		index int
		group []usfm.Marker
	}
	jobs := make([]job, len(groups))
	for i, g := range groups {
		jobs[i] = job{index: i, group: g}
	}
	chapters, err := workerpool.Map(ctx, opts.Workers, jobs, func(j job) ChapterResult {
		res := ParseChapter(j.group, book.ID)
		if opts.OnChapter != nil {
			opts.OnChapter(j.index, len(jobs), res)
		}
		return res
	})
	if err != nil {
		return BookResult{Errors: errs}, err
	}
	book.Chapters = chapters
	return BookResult{Errors: errs, Book: book}, nil
}

// parseHeader reads the markers before the first chapter. Anything other
// than identification, header, title and introduction markers is fatal, as
// is a missing \id.
func parseHeader(markers []usfm.Marker) (*Book, []usfm.ParseError, bool) {
	var errs []usfm.ParseError
	if len(markers) == 0 || markers[0].Kind != "id" {
		m := usfm.Marker{Kind: "id"}
		if len(markers) > 0 {
			m = markers[0]
		}
		return nil, append(errs, usfm.Errorf(m, `book must start with \id`)), false
	}

	id := markers[0]
	code := strings.ToUpper(id.Data)
	name, known := bibleref.BookName(code)
	if !known {
		return nil, append(errs, usfm.Errorf(id, "unknown book code %q", id.Data)), false
	}
	book := &Book{ID: code, Name: name, Description: strings.TrimSpace(id.Text)}

	var intro []usfm.Marker
	for _, m := range markers[1:] {
		value := strings.TrimSpace(m.Text)
		switch {
		case m.Kind == "id":
			return nil, append(errs, usfm.Errorf(m, `duplicate \id`)), false
		case m.Kind == "ide":
			book.Encoding = value
		case m.Kind == "usfm":
			book.Version = value
		case m.Kind == "sts":
			book.Status = value
		case m.Kind == "rem":
			book.Remarks = append(book.Remarks, value)
		case m.Kind == "h" || m.Kind == "h1" || m.Kind == "h2" || m.Kind == "h3":
			if book.Headers == nil {
				book.Headers = make(map[string]string)
			}
			book.Headers[m.Kind] = value
		case strings.HasPrefix(m.Kind, "toc") && usfm.FamilyOf(m.Kind) == usfm.FamilyHeader:
			setTOC(&book.TOC, m.Kind, value)
		case m.Kind == "cl":
			book.ChapterLabel = value
		case m.Kind == "ie":
		case (m.Kind == "mt" || m.Kind == "mte") && !m.Closing:
			level, err := integerLevel(m)
			if err != nil {
				errs = append(errs, usfm.Errorf(m, "%v", err))
				continue
			}
			book.Titles = append(book.Titles, Title{Kind: m.Kind, Level: level, Text: value})
		case m.Kind == "",
			usfm.IsIntroduction(m.Kind),
			usfm.IsMilestone(m.Kind),
			usfm.Classify(m.Kind) == usfm.CategoryCharacter,
			usfm.Classify(m.Kind) == usfm.CategoryNote:
			intro = append(intro, m)
		default:
			return nil, append(errs, usfm.Errorf(m, "not allowed before the first chapter")), false
		}
	}

	if len(intro) > 0 {
		doc, introErrs := ParseBody(intro, book.ID, 0)
		book.Introduction = &doc
		errs = append(errs, introErrs...)
	}
	return book, errs, true
}

func setTOC(toc *TOC, kind, value string) {
	switch kind {
	case "toc1":
		toc.Long = value
	case "toc2":
		toc.Short = value
	case "toc3":
		toc.Abbreviation = value
	case "toca1":
		toc.AltLong = value
	case "toca2":
		toc.AltShort = value
	case "toca3":
		toc.AltAbbreviation = value
	}
}
