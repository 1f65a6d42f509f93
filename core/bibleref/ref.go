// Package bibleref builds and parses scripture references for USFM books.
package bibleref

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Ref is a single scripture location.
type Ref struct {
	// Book is the USFM book code (e.g., "GEN", "1JN").
	Book string `json:"book"`

	// Chapter is the chapter number (0 for whole-book references).
	Chapter int `json:"chapter"`

	// Verse is the verse number (0 for whole-chapter references).
	Verse int `json:"verse"`
}

// String returns the reference as "BOOK C:V".
func (r Ref) String() string {
	var sb strings.Builder
	sb.WriteString(r.Book)
	if r.Chapter > 0 {
		sb.WriteString(" ")
		sb.WriteString(strconv.Itoa(r.Chapter))
		if r.Verse > 0 {
			sb.WriteString(":")
			sb.WriteString(strconv.Itoa(r.Verse))
		}
	}
	return sb.String()
}

// Reference is either a single location or an inclusive range of them.
// End is nil for single references.
type Reference struct {
	Start Ref  `json:"start"`
	End   *Ref `json:"end,omitempty"`
}

// New returns a single verse reference.
func New(book string, chapter, verse int) Reference {
	return Reference{Start: Ref{Book: book, Chapter: chapter, Verse: verse}}
}

// NewRange returns a reference spanning verses start..end of one chapter.
// A range whose ends coincide collapses to a single reference.
func NewRange(book string, chapter, start, end int) Reference {
	ref := New(book, chapter, start)
	if end != start {
		ref.End = &Ref{Book: book, Chapter: chapter, Verse: end}
	}
	return ref
}

// IsRange reports whether the reference spans more than one location.
func (r Reference) IsRange() bool {
	return r.End != nil
}

// String formats the reference as "GEN 1:3" or "GEN 1:3-4".
func (r Reference) String() string {
	if r.End == nil {
		return r.Start.String()
	}
	if r.End.Book == r.Start.Book && r.End.Chapter == r.Start.Chapter {
		return r.Start.String() + "-" + strconv.Itoa(r.End.Verse)
	}
	return r.Start.String() + "-" + r.End.String()
}

// Contains reports whether ref falls inside the reference.
func (r Reference) Contains(ref Ref) bool {
	if r.End == nil {
		return r.Start == ref
	}
	if ref.Book != r.Start.Book || ref.Chapter != r.Start.Chapter {
		return false
	}
	return ref.Verse >= r.Start.Verse && ref.Verse <= r.End.Verse
}

// verseNumber is the grammar for verse marker data: "3" or "3-4".
//
//nolint:govet // participle grammar tags are not standard struct tags
type verseNumber struct {
	Start int  `@Int`
	End   *int `( "-" @Int )?`
}

var verseLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Punct", Pattern: `-`},
})

var verseParser = participle.MustBuild[verseNumber](
	participle.Lexer(verseLexer),
)

// ParseVerseNumber parses verse marker data. It accepts a single
// non-negative integer or an ascending "start-end" range; end equals start
// for single verses.
func ParseVerseNumber(data string) (start, end int, err error) {
	if data == "" {
		return 0, 0, fmt.Errorf("missing verse number")
	}
	parsed, err := verseParser.ParseString("", data)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid verse number %q: %w", data, err)
	}
	start, end = parsed.Start, parsed.Start
	if parsed.End != nil {
		end = *parsed.End
	}
	if end < start {
		return 0, 0, fmt.Errorf("invalid verse range %q: end precedes start", data)
	}
	return start, end, nil
}

// refGrammar is the grammar for human-entered references.
// Examples: "GEN", "GEN 1", "GEN 1:1", "GEN 1.1", "1JN 3:16-18".
//
//nolint:govet // participle grammar tags are not standard struct tags
type refGrammar struct {
	Book    string       `@Book`
	Chapter *chapterPart `@@?`
}

//nolint:govet // participle grammar tags are not standard struct tags
type chapterPart struct {
	Number int        `@Int`
	Verse  *versePart `( ( ":" | "." ) @@ )?`
}

//nolint:govet // participle grammar tags are not standard struct tags
type versePart struct {
	Start int  `@Int`
	End   *int `( "-" @Int )?`
}

// refLexer tokenizes references. Book codes start with an optional digit
// followed by an uppercase letter, so they never collide with Int.
var refLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Book", Pattern: `[1-4]?[A-Z][A-Z0-9]{1,2}`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Punct", Pattern: `[:\-.]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var refParser = participle.MustBuild[refGrammar](
	participle.Lexer(refLexer),
	participle.Elide("Whitespace"),
)

// ParseReference parses a reference such as "GEN 1:3" or "PSA 23:1-4".
// Book codes are upper-cased before parsing and must be known USFM codes.
func ParseReference(s string) (Reference, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Reference{}, fmt.Errorf("empty reference string")
	}

	parsed, err := refParser.ParseString("", s)
	if err != nil {
		return Reference{}, fmt.Errorf("invalid reference format: %q: %w", s, err)
	}
	if !IsBook(parsed.Book) {
		return Reference{}, fmt.Errorf("unknown book code %q", parsed.Book)
	}

	if parsed.Chapter == nil {
		return Reference{Start: Ref{Book: parsed.Book}}, nil
	}
	chapter := parsed.Chapter.Number
	if parsed.Chapter.Verse == nil {
		return Reference{Start: Ref{Book: parsed.Book, Chapter: chapter}}, nil
	}
	verse := parsed.Chapter.Verse
	if verse.End == nil {
		return New(parsed.Book, chapter, verse.Start), nil
	}
	if *verse.End < verse.Start {
		return Reference{}, fmt.Errorf("invalid reference %q: end precedes start", s)
	}
	return NewRange(parsed.Book, chapter, verse.Start, *verse.End), nil
}
