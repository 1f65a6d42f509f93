package usfm

import (
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/jnterry/awoken-bible-usfm/core/errors"
)

// usfmLexer splits a source into tags and the text between them. A lone
// backslash that does not start a tag is kept as text; "\*" ends a
// milestone and carries nothing.
var usfmLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Marker", Pattern: `\\\+?[A-Za-z]+[0-9]*(?:-[0-9]+|-[se])?\*?`},
	{Name: "MilestoneEnd", Pattern: `\\\*`},
	{Name: "Stray", Pattern: `\\`},
	{Name: "Text", Pattern: `[^\\]+`},
})

// attributeList is the grammar for the |key="value" tail of a character
// marker's text.
//
//nolint:govet // participle grammar tags are not standard struct tags
type attributeList struct {
	Pairs []*attributePair `@@*`
}

//nolint:govet // participle grammar tags are not standard struct tags
type attributePair struct {
	Key   string `@Ident "="`
	Value string `@String`
}

var attributeLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Ident", Pattern: `[A-Za-z][A-Za-z0-9_\-]*`},
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Punct", Pattern: `=`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var attributeParser = participle.MustBuild[attributeList](
	participle.Lexer(attributeLexer),
	participle.Elide("Whitespace"),
	participle.Unquote("String"),
)

// Lex reads a whole USFM document and returns its markers in order.
func Lex(r io.Reader) ([]Marker, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewIO("read", "", err)
	}
	return LexString(string(data))
}

// LexString tokenizes a USFM document held in memory.
//
// Whitespace runs (including line breaks) collapse to one space, the space
// separating an opening tag from its text is dropped, and "~" becomes a
// no-break space. Data-bearing tags (\id, \c, \v, note callers) move their
// first word into Data. A "|" tail in the text directly before a closing
// tag is parsed into the Attributes of the matching opener.
func LexString(src string) ([]Marker, error) {
	src = strings.TrimPrefix(src, "\ufeff")

	lex, err := usfmLexer.LexString("", src)
	if err != nil {
		return nil, errors.NewParseAt("USFM", 0, 0, "cannot start lexer", err)
	}
	tokens, err := lexer.ConsumeAll(lex)
	if err != nil {
		var lerr *lexer.Error
		if errors.As(err, &lerr) {
			return nil, errors.NewParseAt("USFM", lerr.Pos.Line, lerr.Pos.Column, lerr.Msg, err)
		}
		return nil, errors.NewParseAt("USFM", 0, 0, err.Error(), err)
	}

	symbols := usfmLexer.Symbols()
	markerType := symbols["Marker"]
	milestoneEndType := symbols["MilestoneEnd"]

	b := &markerBuilder{}
	for _, tok := range tokens {
		switch tok.Type {
		case lexer.EOF:
		case markerType:
			b.flush()
			m := ParseTag(tok.Value)
			m.Pos = Position{Line: tok.Pos.Line, Column: tok.Pos.Column}
			b.current = &m
		case milestoneEndType:
			b.flush()
			b.runPos = Position{Line: tok.Pos.Line, Column: tok.Pos.Column + len(tok.Value)}
		default:
			if b.current == nil && b.raw.Len() == 0 && b.runPos.Line == 0 {
				b.runPos = Position{Line: tok.Pos.Line, Column: tok.Pos.Column}
			}
			b.raw.WriteString(tok.Value)
		}
	}
	b.flush()

	applyAttributes(b.markers)
	return b.markers, nil
}

// markerBuilder attaches the text following each tag to that tag's marker.
type markerBuilder struct {
	markers []Marker
	current *Marker
	raw     strings.Builder
	runPos  Position
}

func (b *markerBuilder) flush() {
	text := NormalizeText(b.raw.String())
	b.raw.Reset()

	if b.current == nil {
		// Text with no tag: ignorable whitespace before the first tag, or
		// the continuation after a milestone.
		if text != "" && (len(b.markers) > 0 || strings.TrimSpace(text) != "") {
			if len(b.markers) == 0 {
				text = strings.TrimLeft(text, " ")
			}
			b.markers = append(b.markers, Marker{Text: text, Pos: b.runPos})
		}
		b.runPos = Position{}
		return
	}

	m := *b.current
	b.current = nil
	if !m.Closing {
		text = strings.TrimPrefix(text, " ")
		if HasData(m.Kind) {
			data, rest, _ := strings.Cut(text, " ")
			m.Data = data
			text = rest
		}
	}
	m.Text = text
	b.markers = append(b.markers, m)
}

// ParseTag decodes a tag such as `\+nd*` or `tc1-2`. The leading backslash
// is optional.
func ParseTag(raw string) Marker {
	name := strings.TrimPrefix(raw, `\`)
	var m Marker
	if strings.HasPrefix(name, "+") {
		m.Nested = true
		name = name[1:]
	}
	if strings.HasSuffix(name, "*") {
		m.Closing = true
		name = strings.TrimSuffix(name, "*")
	}

	// Names such as toc1 and h2 keep their digits.
	if IsKnown(name) {
		m.Kind = name
		return m
	}

	i := strings.IndexFunc(name, unicode.IsDigit)
	if i <= 0 {
		m.Kind = name
		return m
	}
	level, ok := parseLevel(name[i:])
	if !ok {
		m.Kind = name
		return m
	}
	m.Kind = name[:i]
	m.Level = level
	return m
}

func parseLevel(s string) (*Level, bool) {
	first, second, isRange := strings.Cut(s, "-")
	start, err := strconv.Atoi(first)
	if err != nil {
		return nil, false
	}
	if !isRange {
		return IntLevel(start), true
	}
	end, err := strconv.Atoi(second)
	if err != nil {
		return nil, false
	}
	return RangeLevel(start, end), true
}

// NormalizeText collapses whitespace runs to a single space and maps the
// USFM no-break space "~" to U+00A0.
func NormalizeText(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !space {
				sb.WriteByte(' ')
				space = true
			}
			continue
		}
		space = false
		if r == '~' {
			r = '\u00a0'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// applyAttributes moves the "|..." tail of the text just before a closing
// tag into the Attributes of the innermost unclosed opener of that kind. The
// text may belong to a nested marker, as in `\w a \+nd b\+nd*|x\w*`.
func applyAttributes(markers []Marker) {
	open := make(map[string][]int)
	for i := range markers {
		m := &markers[i]
		if m.Kind == "" {
			continue
		}
		if !m.Closing {
			open[m.Kind] = append(open[m.Kind], i)
			continue
		}
		stack := open[m.Kind]
		if len(stack) == 0 {
			continue
		}
		opener := stack[len(stack)-1]
		open[m.Kind] = stack[:len(stack)-1]

		prev := &markers[i-1]
		text, tail, found := strings.Cut(prev.Text, "|")
		if !found {
			continue
		}
		prev.Text = text
		markers[opener].Attributes = parseAttributes(m.Kind, tail)
	}
}

func parseAttributes(kind, tail string) map[string]string {
	tail = strings.TrimSpace(tail)
	if tail == "" {
		return nil
	}
	parsed, err := attributeParser.ParseString("", tail)
	if err != nil || len(parsed.Pairs) == 0 {
		return map[string]string{DefaultAttribute(kind): tail}
	}
	attrs := make(map[string]string, len(parsed.Pairs))
	for _, pair := range parsed.Pairs {
		attrs[pair.Key] = pair.Value
	}
	return attrs
}
