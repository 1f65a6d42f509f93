// Package parser turns a USFM marker stream into chapter documents.
//
// The body parser keeps one open range per category (paragraph, poetry,
// list entry, column, section, verse, and one per character style) and
// applies each marker's closing rule before opening the marker's own range.
// Tables and lists get virtual wrapper ranges that no marker names directly.
// Footnotes and cross references are handed to the parsers in package notes.
package parser

import (
	"strings"

	"github.com/jnterry/awoken-bible-usfm/core/bibleref"
	"github.com/jnterry/awoken-bible-usfm/core/document"
	"github.com/jnterry/awoken-bible-usfm/core/usfm"
	"github.com/jnterry/awoken-bible-usfm/core/usfm/notes"
)

// subParsers maps each note trigger kind to the parser that consumes it.
var subParsers = map[string]notes.Func{
	"f":  notes.Footnote,
	"fe": notes.Footnote,
	"ef": notes.Footnote,
	"x":  notes.CrossReference,
	"ex": notes.CrossReference,
}

// ParseBody parses one chapter's markers, not including its \c marker, into
// a document. book and chapter are used to build verse references.
//
// Problems with individual markers never stop the parse; they are returned
// as diagnostics in the order they were found.
func ParseBody(tokens []usfm.Marker, book string, chapter int) (document.Document, []usfm.ParseError) {
	p := &bodyParser{tokens: tokens, book: book, chapter: chapter}
	for i := 0; i < len(tokens); i++ {
		m := tokens[i]
		// Notes are dispatched before the character rules, so a note leaves
		// the character runs around it open.
		if fn, ok := subParsers[m.Kind]; ok && !m.Closing {
			i = p.note(fn, i)
			continue
		}
		p.marker(m)
	}
	p.reg.closeAll(p.gap())

	ranges := p.reg.closed
	document.SortRanges(ranges)
	return document.Document{Text: p.text.String(), Ranges: ranges}, p.errs
}

type bodyParser struct {
	tokens  []usfm.Marker
	book    string
	chapter int

	text strings.Builder
	reg  registry
	errs []usfm.ParseError

	// listFooter is set once the open list has seen its \lf.
	listFooter bool
}

func (p *bodyParser) gap() int {
	return p.text.Len()
}

func (p *bodyParser) errorf(m usfm.Marker, format string, args ...any) {
	p.errs = append(p.errs, usfm.Errorf(m, format, args...))
}

func (p *bodyParser) marker(m usfm.Marker) {
	if m.Kind == "" {
		p.text.WriteString(m.Text)
		return
	}
	if r, ok := rules[m.Kind]; ok {
		if m.Closing {
			p.closeStructural(m, r)
		} else {
			p.structural(m, r)
		}
		return
	}

	switch usfm.FamilyOf(m.Kind) {
	case usfm.FamilyVerse:
		p.verse(m)
	case usfm.FamilyCharacter:
		p.character(m)
	case usfm.FamilyNoteTrigger:
		p.errorf(m, "closing marker without matching opening marker")
		p.text.WriteString(m.Text)
	case usfm.FamilyNoteContent:
		p.errorf(m, "note content outside a note")
		p.text.WriteString(m.Text)
	case usfm.FamilyRemark:
	case usfm.FamilyChapter, usfm.FamilyHeader:
		p.errorf(m, "not allowed in a chapter body")
	default:
		if usfm.IsMilestone(m.Kind) {
			return
		}
		p.errorf(m, "unknown marker")
	}
}

func (p *bodyParser) structural(m usfm.Marker, r rule) {
	gap := p.gap()
	if r.closesCharacters {
		p.reg.closeCharacters(gap)
	}
	p.virtual(m.Kind, gap)
	for _, c := range r.closes {
		p.reg.close(c, gap)
	}

	if r.blank {
		p.reg.emit(document.Range{Kind: m.Kind, Min: gap, Max: gap})
		if m.Text != "" || m.Data != "" {
			p.errorf(m, "blank line must not carry text")
		}
		return
	}

	p.reg.close(r.opens, gap)
	var payload document.Payload
	if r.payload != nil {
		var err error
		if payload, err = r.payload(m); err != nil {
			p.errorf(m, "%v", err)
			p.text.WriteString(m.Text)
			return
		}
	}
	p.reg.open(r.opens, document.Range{
		Kind:       m.Kind,
		Min:        gap,
		Attributes: notes.Attributes(m),
		Payload:    payload,
	})
	p.text.WriteString(m.Text)
}

// closeStructural handles an explicit close such as \liv*.
func (p *bodyParser) closeStructural(m usfm.Marker, r rule) {
	if r.blank || p.reg.kindOf(r.opens) != m.Kind {
		p.errorf(m, "closing marker without matching opening marker")
	} else {
		p.reg.close(r.opens, p.gap())
	}
	p.text.WriteString(m.Text)
}

// virtual opens and closes the synthesized table, list and list_items
// ranges around a structural marker.
func (p *bodyParser) virtual(kind string, gap int) {
	if tableKinds[kind] {
		if !p.reg.isOpen(catTable) {
			p.reg.open(catTable, virtualRange(document.KindTable, gap))
		}
	} else if p.reg.isOpen(catTable) {
		if tableKinds[p.reg.kindOf(catColumn)] {
			p.reg.close(catColumn, gap)
		}
		if p.reg.kindOf(catParagraph) == "tr" {
			p.reg.close(catParagraph, gap)
		}
		p.reg.close(catTable, gap)
	}

	switch kind {
	case "li", "lim":
		if !p.reg.isOpen(catList) || p.listFooter {
			p.closeList(gap)
			p.reg.open(catList, virtualRange(document.KindList, gap))
		}
		if !p.reg.isOpen(catListItems) {
			p.reg.open(catListItems, virtualRange(document.KindListItems, gap))
		}
	case "lh":
		p.closeList(gap)
		p.reg.open(catList, virtualRange(document.KindList, gap))
	case "lf":
		p.reg.close(catListItems, gap)
		if !p.reg.isOpen(catList) {
			p.reg.open(catList, virtualRange(document.KindList, gap))
		}
		p.listFooter = true
	default:
		if !listKinds[kind] && p.reg.isOpen(catList) {
			p.closeList(gap)
		}
	}
}

func (p *bodyParser) closeList(gap int) {
	p.reg.close(catListItems, gap)
	p.reg.close(catListEntry, gap)
	if p.reg.kindOf(catColumn) == "liv" {
		p.reg.close(catColumn, gap)
	}
	p.reg.close(catList, gap)
	p.listFooter = false
}

func virtualRange(kind string, gap int) document.Range {
	return document.Range{Kind: kind, Min: gap, Payload: document.VirtualPayload{}}
}

func (p *bodyParser) verse(m usfm.Marker) {
	if m.Closing {
		p.errorf(m, "closing marker without matching opening marker")
		p.text.WriteString(m.Text)
		return
	}

	gap := p.gap()
	p.reg.close(catVerse, gap)
	start, end, err := bibleref.ParseVerseNumber(m.Data)
	if err != nil {
		p.errorf(m, "invalid verse number %q", m.Data)
	} else {
		p.reg.open(catVerse, document.Range{
			Kind:       document.KindVerse,
			Min:        gap,
			Attributes: notes.Attributes(m),
			Payload:    document.VersePayload{Ref: bibleref.NewRange(p.book, p.chapter, start, end)},
		})
	}
	p.text.WriteString(m.Text)
}

func (p *bodyParser) character(m usfm.Marker) {
	gap := p.gap()
	c := charCategories[m.Kind]
	switch {
	case m.Closing:
		if p.reg.isOpen(c) {
			p.reg.close(c, gap)
		} else {
			p.errorf(m, "closing marker without matching opening marker")
		}
	default:
		if m.Nested {
			p.reg.close(c, gap)
		} else {
			p.reg.closeCharacters(gap)
		}
		p.reg.open(c, document.Range{Kind: m.Kind, Min: gap, Attributes: notes.Attributes(m)})
	}
	p.text.WriteString(m.Text)
}

// note hands the note starting at tokens[i] to its parser and returns the
// index of the last marker the note consumed.
func (p *bodyParser) note(fn notes.Func, i int) int {
	gap := p.gap()
	res := fn(p.tokens, i, p.book, p.chapter)
	p.errs = append(p.errs, res.Errors...)

	rng := res.Range
	rng.Min = gap
	rng.Max = gap + len(res.Text)
	p.text.WriteString(res.Text)
	p.reg.emit(rng)
	p.text.WriteString(res.After)

	if res.Cursor < i {
		return i
	}
	return res.Cursor
}
