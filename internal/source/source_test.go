package source

import (
	"testing"

	"github.com/jnterry/awoken-bible-usfm/core/errors"
)

func TestIsSource(t *testing.T) {
	tests := map[string]bool{
		"01GEN.usfm":     true,
		"gen.SFM":        true,
		"GEN.usx":        true,
		"notes.txt":      false,
		"usfm":           false,
		"dir/book.usfm~": false,
	}
	for path, want := range tests {
		if got := IsSource(path); got != want {
			t.Errorf("IsSource(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestFormatOf(t *testing.T) {
	tests := map[string]string{
		"a/GEN.USX": USX,
		"gen.sfm":   USFM,
		"gen.usfm":  USFM,
		"README":    USFM,
	}
	for path, want := range tests {
		if got := FormatOf(path); got != want {
			t.Errorf("FormatOf(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestTokenize(t *testing.T) {
	usfmMarkers, err := Tokenize(USFM, []byte("\\id GEN\n\\c 1\n\\p\n\\v 1 Text.\n"))
	if err != nil {
		t.Fatalf("Tokenize(usfm) error = %v", err)
	}
	usxMarkers, err := Tokenize(USX, []byte(`<usx><book code="GEN" style="id"/><chapter number="1" style="c"/><para style="p"><verse number="1" style="v"/>Text.</para></usx>`))
	if err != nil {
		t.Fatalf("Tokenize(usx) error = %v", err)
	}
	if len(usfmMarkers) != 4 || len(usxMarkers) != 4 {
		t.Errorf("Tokenize() returned %d and %d markers, want 4 each", len(usfmMarkers), len(usxMarkers))
	}

	if _, err := Tokenize("osis", nil); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("Tokenize(osis) error = %v, want ErrUnsupported", err)
	}
}

func TestTokenizeFileTagsPath(t *testing.T) {
	_, err := TokenizeFile("books/bad.usx", USX, []byte("<usx><para"))
	var perr *errors.ParseError
	if !errors.As(err, &perr) || perr.Path != "books/bad.usx" {
		t.Errorf("TokenizeFile() error = %v, want *ParseError with path", err)
	}
}
