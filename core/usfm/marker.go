// Package usfm defines the marker token model for USFM sources, the marker
// classifier and a lexer that turns USFM text into markers.
package usfm

import (
	"fmt"
	"strconv"
	"strings"
)

// Position is a location in the source text. The zero value means the
// marker did not come from a lexed source.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Level is the numeric suffix of a marker such as q2 or tc1-2.
type Level struct {
	Start   int  `json:"start"`
	End     int  `json:"end,omitempty"`
	IsRange bool `json:"is_range,omitempty"`
}

// IntLevel returns a plain integer level.
func IntLevel(n int) *Level {
	return &Level{Start: n}
}

// RangeLevel returns a level spanning start..end, such as a table cell that
// covers several columns.
func RangeLevel(start, end int) *Level {
	return &Level{Start: start, End: end, IsRange: true}
}

// String returns the level as written in USFM ("2" or "1-3").
func (l Level) String() string {
	if l.IsRange {
		return strconv.Itoa(l.Start) + "-" + strconv.Itoa(l.End)
	}
	return strconv.Itoa(l.Start)
}

// Marker is a single lexical unit of a USFM stream: a tag plus the literal
// text that immediately follows it. A Marker with an empty Kind is a bare run
// of text with no tag.
type Marker struct {
	// Kind is the tag name without backslash, nesting prefix, level or
	// closing star (e.g., "p", "v", "add", "q").
	Kind string `json:"kind"`

	// Text is the literal text following the tag, up to the next tag.
	Text string `json:"text,omitempty"`

	// Data is the tag-specific payload, such as a verse or chapter number,
	// a note caller or a book code.
	Data string `json:"data,omitempty"`

	// Level is the numbered variant of the tag, nil when absent.
	Level *Level `json:"level,omitempty"`

	// Closing is set for the closing form of a paired tag (\add*).
	Closing bool `json:"closing,omitempty"`

	// Nested is set for character tags explicitly nested inside another
	// open character tag (\+nd).
	Nested bool `json:"nested,omitempty"`

	// Attributes holds |key="value" attributes of a character tag.
	Attributes map[string]string `json:"attributes,omitempty"`

	// Pos is where the tag started in the source.
	Pos Position `json:"pos"`
}

// Tag renders the marker as it would appear in USFM, without its text.
func (m Marker) Tag() string {
	if m.Kind == "" {
		return "text"
	}
	var sb strings.Builder
	sb.WriteByte('\\')
	if m.Nested {
		sb.WriteByte('+')
	}
	sb.WriteString(m.Kind)
	if m.Level != nil {
		sb.WriteString(m.Level.String())
	}
	if m.Closing {
		sb.WriteByte('*')
	}
	return sb.String()
}

// ParseError is a diagnostic tied to the marker that caused it.
type ParseError struct {
	Message string `json:"message"`
	Marker  Marker `json:"marker"`
}

func (e ParseError) Error() string {
	if e.Marker.Pos.Line > 0 {
		return fmt.Sprintf("%d:%d: %s: %s", e.Marker.Pos.Line, e.Marker.Pos.Column, e.Marker.Tag(), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Marker.Tag(), e.Message)
}

// Errorf builds a ParseError for m.
func Errorf(m Marker, format string, args ...any) ParseError {
	return ParseError{Message: fmt.Sprintf(format, args...), Marker: m}
}
