// Package notes parses footnotes and cross references out of a USFM marker
// stream.
//
// A note starts at its trigger marker (\f, \fe, \ef, \x or \ex) and runs to
// the matching closing marker. The note's content becomes a document of its
// own attached to a single zero-width range; none of it is added to the text
// of the verse it annotates.
package notes

import (
	"maps"
	"slices"
	"strings"

	"github.com/jnterry/awoken-bible-usfm/core/bibleref"
	"github.com/jnterry/awoken-bible-usfm/core/document"
	"github.com/jnterry/awoken-bible-usfm/core/usfm"
)

// Result is what a note parser hands back to the body parser.
type Result struct {
	// Cursor is the index of the last marker the note consumed.
	Cursor int

	// Range is the note's range. Min and Max are left for the caller to
	// place at the trigger's gap.
	Range document.Range

	// Text is the text the note adds to the enclosing buffer. Notes add
	// none, so this is always empty for the parsers in this package.
	Text string

	// After is text that followed the note's closing marker. It belongs to
	// the enclosing run, after the note.
	After string

	Errors []usfm.ParseError
}

// Func parses the note whose trigger is tokens[cursor]. It must not modify
// tokens.
type Func func(tokens []usfm.Marker, cursor int, book string, chapter int) Result

type grammar struct {
	name    string
	origin  string
	content map[string]bool
}

var footnote = grammar{
	name:   "footnote",
	origin: "fr",
	content: set("fr", "fq", "fqa", "fk", "fl", "fw", "fp", "fv", "ft", "fdc", "fm",
		"xt"),
}

var crossReference = grammar{
	name:    "cross reference",
	origin:  "xo",
	content: set("xo", "xk", "xq", "xt", "xta", "xop", "xot", "xnt", "xdc"),
}

func set(kinds ...string) map[string]bool {
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

// Footnote parses \f, \fe and \ef notes.
func Footnote(tokens []usfm.Marker, cursor int, book string, chapter int) Result {
	return footnote.parse(tokens, cursor, book, chapter)
}

// CrossReference parses \x and \ex notes.
func CrossReference(tokens []usfm.Marker, cursor int, book string, chapter int) Result {
	return crossReference.parse(tokens, cursor, book, chapter)
}

func (g grammar) parse(tokens []usfm.Marker, cursor int, book string, chapter int) Result {
	trigger := tokens[cursor]
	note := &document.Note{Kind: trigger.Kind, Caller: trigger.Data}
	res := Result{
		Cursor: len(tokens) - 1,
		Range: document.Range{
			Kind:       trigger.Kind,
			Attributes: Attributes(trigger),
			Payload:    document.NotePayload{Note: note},
		},
	}

	b := &body{}
	b.text.WriteString(trigger.Text)

	closed := false
loop:
	for i := cursor + 1; i < len(tokens); i++ {
		m := tokens[i]
		family := usfm.FamilyOf(m.Kind)
		switch {
		case m.Kind == trigger.Kind && m.Closing:
			res.Cursor = i
			res.After = m.Text
			closed = true
			break loop

		case m.Kind == "":
			b.text.WriteString(m.Text)

		case family == usfm.FamilyNoteContent:
			if !g.content[m.Kind] {
				res.Errors = append(res.Errors, usfm.Errorf(m, "not allowed in a %s", g.name))
				b.text.WriteString(m.Text)
				continue
			}
			if m.Closing {
				if !b.closeContent(m.Kind) {
					res.Errors = append(res.Errors, usfm.Errorf(m, "closing marker without matching opening marker"))
				}
				b.text.WriteString(m.Text)
				continue
			}
			b.closeChars()
			b.closeContent("")
			b.content = &document.Range{Kind: m.Kind, Min: b.gap(), Attributes: Attributes(m)}
			b.text.WriteString(m.Text)
			if m.Kind == g.origin {
				note.Origin = strings.TrimRight(strings.TrimSpace(m.Text), ":")
				note.Ref = resolveOrigin(note.Origin, book, chapter)
			}

		case family == usfm.FamilyCharacter:
			if err := b.character(m); err != nil {
				res.Errors = append(res.Errors, *err)
			}

		case family == usfm.FamilyNoteTrigger && m.Closing:
			res.Errors = append(res.Errors, usfm.Errorf(m, "closing marker without matching opening marker"))
			b.text.WriteString(m.Text)

		case !usfm.IsKnown(m.Kind):
			res.Errors = append(res.Errors, usfm.Errorf(m, "unknown marker"))

		default:
			// A structural marker ends the note; leave it for the caller.
			res.Cursor = i - 1
			break loop
		}
	}
	if !closed {
		res.Errors = append(res.Errors, usfm.Errorf(trigger, "unterminated %s", g.name))
	}

	note.Body = b.finish()
	return res
}

// resolveOrigin turns a note origin such as "1:3" or "3" into a reference.
// It returns nil when the origin is not a reference.
func resolveOrigin(origin, book string, chapter int) *bibleref.Reference {
	if origin == "" {
		return nil
	}
	if !strings.ContainsAny(origin, ":.") {
		start, end, err := bibleref.ParseVerseNumber(origin)
		if err != nil {
			return nil
		}
		ref := bibleref.NewRange(book, chapter, start, end)
		return &ref
	}
	ref, err := bibleref.ParseReference(book + " " + origin)
	if err != nil || ref.Start.Verse == 0 {
		return nil
	}
	return &ref
}

// Attributes returns a copy of m's attributes, or nil when there are none.
func Attributes(m usfm.Marker) map[string]string {
	if len(m.Attributes) == 0 {
		return nil
	}
	return maps.Clone(m.Attributes)
}

// body accumulates the document of a single note.
type body struct {
	text    strings.Builder
	ranges  []document.Range
	content *document.Range
	chars   []document.Range
}

func (b *body) gap() int {
	return b.text.Len()
}

// closeContent closes the open content range. With a non-empty kind it only
// closes a range of that kind and reports whether there was one.
func (b *body) closeContent(kind string) bool {
	if b.content == nil || (kind != "" && b.content.Kind != kind) {
		return false
	}
	r := *b.content
	r.Max = b.gap()
	b.ranges = append(b.ranges, r)
	b.content = nil
	return true
}

func (b *body) closeChars() {
	for _, r := range b.chars {
		r.Max = b.gap()
		b.ranges = append(b.ranges, r)
	}
	b.chars = b.chars[:0]
}

func (b *body) closeChar(kind string) bool {
	for i, r := range b.chars {
		if r.Kind == kind {
			r.Max = b.gap()
			b.ranges = append(b.ranges, r)
			b.chars = slices.Delete(b.chars, i, i+1)
			return true
		}
	}
	return false
}

// character applies a character marker inside a note body.
func (b *body) character(m usfm.Marker) *usfm.ParseError {
	if m.Closing {
		var err *usfm.ParseError
		if !b.closeChar(m.Kind) {
			e := usfm.Errorf(m, "closing marker without matching opening marker")
			err = &e
		}
		b.text.WriteString(m.Text)
		return err
	}
	if m.Nested {
		b.closeChar(m.Kind)
	} else {
		b.closeChars()
	}
	b.chars = append(b.chars, document.Range{Kind: m.Kind, Min: b.gap(), Attributes: Attributes(m)})
	b.text.WriteString(m.Text)
	return nil
}

func (b *body) finish() document.Document {
	b.closeChars()
	b.closeContent("")
	document.SortRanges(b.ranges)
	return document.Document{Text: b.text.String(), Ranges: b.ranges}
}
