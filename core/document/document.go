// Package document holds the output model of the USFM parser: a flat text
// buffer and the style ranges laid over it.
package document

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jnterry/awoken-bible-usfm/core/bibleref"
	"github.com/jnterry/awoken-bible-usfm/core/usfm"
)

// Kinds of ranges that have no marker of the same name.
const (
	KindVerse     = "verse"
	KindTable     = "table"
	KindList      = "list"
	KindListItems = "list_items"
)

// Document is a text buffer plus the ranges styling it. Range boundaries are
// byte offsets into Text, so Text[r.Min:r.Max] is the content of r.
type Document struct {
	Text   string  `json:"text"`
	Ranges []Range `json:"ranges"`
}

// Range is a half-open interval [Min, Max) of gap indices into the text. Gap
// 0 precedes the first byte.
type Range struct {
	Kind       string
	Min        int
	Max        int
	Attributes map[string]string
	Payload    Payload
}

// Payload is the kind-specific data of a range. It is one of VersePayload,
// IndentPayload, ColumnPayload, HeadingPayload, VirtualPayload or
// NotePayload; a nil Payload means the range carries nothing extra.
type Payload interface {
	isPayload()
}

// VersePayload is the reference of a verse range.
type VersePayload struct {
	Ref bibleref.Reference
}

// IndentPayload is the indent level of paragraphs, poetry and list entries.
type IndentPayload struct {
	Level int
}

// ColumnPayload is the column (or span of columns) of a table cell.
type ColumnPayload struct {
	Column usfm.Level
}

// HeadingPayload is the level of a heading.
type HeadingPayload struct {
	Level int
}

// VirtualPayload marks a range synthesized by the parser.
type VirtualPayload struct{}

// NotePayload is the parsed content of a footnote or cross reference.
type NotePayload struct {
	Note *Note
}

func (VersePayload) isPayload()   {}
func (IndentPayload) isPayload()  {}
func (ColumnPayload) isPayload()  {}
func (HeadingPayload) isPayload() {}
func (VirtualPayload) isPayload() {}
func (NotePayload) isPayload()    {}

// Note is a footnote or cross reference. Its body is a document of its own;
// the note contributes no text to the enclosing buffer.
type Note struct {
	Kind   string `json:"kind"`
	Caller string `json:"caller"`

	// Origin is the text of the note's \fr or \xo marker, and Ref its
	// resolved form when it parses as a reference in the current book.
	Origin string              `json:"origin,omitempty"`
	Ref    *bibleref.Reference `json:"ref,omitempty"`

	Body Document `json:"body"`
}

// rangeJSON is the wire form of a Range, with the payload flattened into
// optional fields.
type rangeJSON struct {
	Kind       string              `json:"kind"`
	Min        int                 `json:"min"`
	Max        int                 `json:"max"`
	Attributes map[string]string   `json:"attributes,omitempty"`
	Ref        *bibleref.Reference `json:"ref,omitempty"`
	Indent     *int                `json:"indent,omitempty"`
	Heading    *int                `json:"heading,omitempty"`
	Column     *usfm.Level         `json:"column,omitempty"`
	Virtual    bool                `json:"virtual,omitempty"`
	Note       *Note               `json:"note,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r Range) MarshalJSON() ([]byte, error) {
	out := rangeJSON{Kind: r.Kind, Min: r.Min, Max: r.Max, Attributes: r.Attributes}
	switch p := r.Payload.(type) {
	case nil:
	case VersePayload:
		out.Ref = &p.Ref
	case IndentPayload:
		out.Indent = &p.Level
	case HeadingPayload:
		out.Heading = &p.Level
	case ColumnPayload:
		out.Column = &p.Column
	case VirtualPayload:
		out.Virtual = true
	case NotePayload:
		out.Note = p.Note
	default:
		return nil, fmt.Errorf("range %s: unknown payload %T", r.Kind, p)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Range) UnmarshalJSON(data []byte) error {
	var in rangeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Range{Kind: in.Kind, Min: in.Min, Max: in.Max, Attributes: in.Attributes}
	switch {
	case in.Ref != nil:
		r.Payload = VersePayload{Ref: *in.Ref}
	case in.Indent != nil:
		r.Payload = IndentPayload{Level: *in.Indent}
	case in.Heading != nil:
		r.Payload = HeadingPayload{Level: *in.Heading}
	case in.Column != nil:
		r.Payload = ColumnPayload{Column: *in.Column}
	case in.Virtual:
		r.Payload = VirtualPayload{}
	case in.Note != nil:
		r.Payload = NotePayload{Note: in.Note}
	}
	return nil
}

// Compare orders ranges by Min ascending, then Max descending so outer
// ranges precede the ranges they contain, then Kind.
func Compare(a, b Range) int {
	if c := cmp.Compare(a.Min, b.Min); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Max, a.Max); c != 0 {
		return c
	}
	return cmp.Compare(a.Kind, b.Kind)
}

// SortRanges sorts ranges in place into canonical order.
func SortRanges(ranges []Range) {
	slices.SortStableFunc(ranges, Compare)
}

// Slice returns the text covered by r.
func (d Document) Slice(r Range) string {
	if r.Min < 0 || r.Max > len(d.Text) || r.Min > r.Max {
		return ""
	}
	return d.Text[r.Min:r.Max]
}

// RangesOf returns the ranges of the given kind, in document order.
func (d Document) RangesOf(kind string) []Range {
	var out []Range
	for _, r := range d.Ranges {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Verse returns the range of the verse that starts with verse number n.
func (d Document) Verse(n int) (Range, bool) {
	for _, r := range d.Ranges {
		if p, ok := r.Payload.(VersePayload); ok && p.Ref.Start.Verse == n {
			return r, true
		}
	}
	return Range{}, false
}

// Validate checks that every range lies inside the text and that ranges are
// in canonical order.
func (d Document) Validate() error {
	for i, r := range d.Ranges {
		if r.Min < 0 || r.Min > r.Max || r.Max > len(d.Text) {
			return fmt.Errorf("range %d (%s) [%d, %d) outside text of length %d", i, r.Kind, r.Min, r.Max, len(d.Text))
		}
		if i > 0 && Compare(d.Ranges[i-1], r) > 0 {
			return fmt.Errorf("range %d (%s) out of order", i, r.Kind)
		}
	}
	return nil
}
