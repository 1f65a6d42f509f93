package usfm

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLexString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Marker
	}{
		{
			name:  "paragraph and verse",
			input: "\\p In the beginning \\v 1 God created",
			want: []Marker{
				{Kind: "p", Text: "In the beginning ", Pos: Position{Line: 1, Column: 1}},
				{Kind: "v", Data: "1", Text: "God created", Pos: Position{Line: 1, Column: 21}},
			},
		},
		{
			name:  "whitespace collapses across lines",
			input: "\\q1 The Lord is\n   my shepherd\n\\q2 I shall not want",
			want: []Marker{
				{Kind: "q", Level: IntLevel(1), Text: "The Lord is my shepherd ", Pos: Position{Line: 1, Column: 1}},
				{Kind: "q", Level: IntLevel(2), Text: "I shall not want", Pos: Position{Line: 3, Column: 1}},
			},
		},
		{
			name:  "character style with nesting",
			input: "\\add the \\+nd Lord\\+nd*\\add*",
			want: []Marker{
				{Kind: "add", Text: "the ", Pos: Position{Line: 1, Column: 1}},
				{Kind: "nd", Nested: true, Text: "Lord", Pos: Position{Line: 1, Column: 10}},
				{Kind: "nd", Nested: true, Closing: true, Pos: Position{Line: 1, Column: 19}},
				{Kind: "add", Closing: true, Pos: Position{Line: 1, Column: 24}},
			},
		},
		{
			name:  "table cell range level",
			input: "\\tr \\tc1-2 Total",
			want: []Marker{
				{Kind: "tr", Pos: Position{Line: 1, Column: 1}},
				{Kind: "tc", Level: RangeLevel(1, 2), Text: "Total", Pos: Position{Line: 1, Column: 5}},
			},
		},
		{
			name:  "digits that belong to the name",
			input: "\\toc1 Genesis\n\\h1 Gen",
			want: []Marker{
				{Kind: "toc1", Text: "Genesis ", Pos: Position{Line: 1, Column: 1}},
				{Kind: "h1", Text: "Gen", Pos: Position{Line: 2, Column: 1}},
			},
		},
		{
			name:  "id data",
			input: "\\id GEN World English Bible",
			want: []Marker{
				{Kind: "id", Data: "GEN", Text: "World English Bible", Pos: Position{Line: 1, Column: 1}},
			},
		},
		{
			name:  "verse range data",
			input: "\\v 3-4 text",
			want: []Marker{
				{Kind: "v", Data: "3-4", Text: "text", Pos: Position{Line: 1, Column: 1}},
			},
		},
		{
			name:  "closing marker keeps leading space of following text",
			input: "\\add a\\add* b",
			want: []Marker{
				{Kind: "add", Text: "a", Pos: Position{Line: 1, Column: 1}},
				{Kind: "add", Closing: true, Text: " b", Pos: Position{Line: 1, Column: 7}},
			},
		},
		{
			name:  "leading text before any tag",
			input: "  stray words \\p x",
			want: []Marker{
				{Text: "stray words ", Pos: Position{Line: 1, Column: 1}},
				{Kind: "p", Text: "x", Pos: Position{Line: 1, Column: 15}},
			},
		},
		{
			name:  "milestone continues as bare text",
			input: "\\p \\qt-s |who=\"Pilate\"\\*Are you the king?",
			want: []Marker{
				{Kind: "p", Pos: Position{Line: 1, Column: 1}},
				{Kind: "qt-s", Text: "|who=\"Pilate\"", Pos: Position{Line: 1, Column: 4}},
				{Text: "Are you the king?", Pos: Position{Line: 1, Column: 25}},
			},
		},
		{
			name:  "no-break space",
			input: "\\p a~b",
			want: []Marker{
				{Kind: "p", Text: "a\u00a0b", Pos: Position{Line: 1, Column: 1}},
			},
		},
		{
			name:  "byte order mark",
			input: "\ufeff\\c 1",
			want: []Marker{
				{Kind: "c", Data: "1", Pos: Position{Line: 1, Column: 1}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LexString(tt.input)
			if err != nil {
				t.Fatalf("LexString() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("LexString() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLexAttributes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		text  string
		want  map[string]string
	}{
		{
			name:  "key value pairs",
			input: `\w gracious|lemma="grace" strong="H2603"\w*`,
			text:  "gracious",
			want:  map[string]string{"lemma": "grace", "strong": "H2603"},
		},
		{
			name:  "bare value uses default attribute",
			input: `\w gracious|grace\w*`,
			text:  "gracious",
			want:  map[string]string{"lemma": "grace"},
		},
		{
			name:  "ruby gloss",
			input: `\rb 漢字|かんじ\rb*`,
			text:  "漢字",
			want:  map[string]string{"gloss": "かんじ"},
		},
		{
			name:  "unknown default",
			input: `\add word|extra\add*`,
			text:  "word",
			want:  map[string]string{"default": "extra"},
		},
		{
			name:  "no attributes",
			input: `\w word\w*`,
			text:  "word",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LexString(tt.input)
			if err != nil {
				t.Fatalf("LexString() error = %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("LexString() returned %d markers, want 2", len(got))
			}
			if got[0].Text != tt.text {
				t.Errorf("Text = %q, want %q", got[0].Text, tt.text)
			}
			if diff := cmp.Diff(tt.want, got[0].Attributes); diff != "" {
				t.Errorf("Attributes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLexAttributesAfterNestedClose(t *testing.T) {
	got, err := LexString(`\w gracious \+nd Lord\+nd*|lemma="grace"\w* end`)
	if err != nil {
		t.Fatalf("LexString() error = %v", err)
	}
	want := []Marker{
		{Kind: "w", Text: "gracious ", Attributes: map[string]string{"lemma": "grace"}, Pos: Position{Line: 1, Column: 1}},
		{Kind: "nd", Nested: true, Text: "Lord", Pos: Position{Line: 1, Column: 13}},
		{Kind: "nd", Nested: true, Closing: true, Pos: Position{Line: 1, Column: 22}},
		{Kind: "w", Closing: true, Text: " end", Pos: Position{Line: 1, Column: 41}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LexString() mismatch (-want +got):\n%s", diff)
	}
}

func TestLexAttributesInnermostOpener(t *testing.T) {
	got, err := LexString(`\w outer \+w inner|lemma="in"\+w*|lemma="out"\w*`)
	if err != nil {
		t.Fatalf("LexString() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("LexString() returned %d markers, want 4", len(got))
	}
	if got[0].Attributes["lemma"] != "out" || got[1].Attributes["lemma"] != "in" {
		t.Errorf("Attributes = %v, %v", got[0].Attributes, got[1].Attributes)
	}
	if got[1].Text != "inner" || got[2].Text != "" {
		t.Errorf("Text = %q, %q", got[1].Text, got[2].Text)
	}
}

func TestLexReader(t *testing.T) {
	got, err := Lex(strings.NewReader("\\c 1\n\\p\n\\v 1 text\n"))
	if err != nil {
		t.Fatalf("Lex() error = %v", err)
	}
	kinds := make([]string, len(got))
	for i, m := range got {
		kinds[i] = m.Kind
	}
	if diff := cmp.Diff([]string{"c", "p", "v"}, kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	if got[2].Text != "text " {
		t.Errorf("verse Text = %q, want %q", got[2].Text, "text ")
	}
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`\p`, `\p`},
		{`\q2`, `\q2`},
		{`\+nd*`, `\+nd*`},
		{`\tc1-3`, `\tc1-3`},
		{`\toca2`, `\toca2`},
		{`\zzz`, `\zzz`},
		{`\qt-e`, `\qt-e`},
		{`q1`, `\q1`},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := ParseTag(tt.raw).Tag(); got != tt.want {
				t.Errorf("ParseTag(%q).Tag() = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func FuzzLexString(f *testing.F) {
	f.Add("\\id GEN\n\\c 1\n\\p\n\\v 1 In the beginning")
	f.Add("\\w word|lemma=\"x\"\\w*")
	f.Add("\\tc1-2 \\+nd*\\*\\")
	f.Add("")

	f.Fuzz(func(t *testing.T, input string) {
		markers, err := LexString(input)
		if err != nil {
			return
		}
		for _, m := range markers {
			if strings.Contains(m.Text, "\n") {
				t.Errorf("marker %s text contains a newline: %q", m.Tag(), m.Text)
			}
		}
	})
}
