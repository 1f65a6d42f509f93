// Package source recognises USFM and USX book files and turns them into
// marker streams.
package source

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/jnterry/awoken-bible-usfm/core/errors"
	"github.com/jnterry/awoken-bible-usfm/core/usfm"
	"github.com/jnterry/awoken-bible-usfm/core/usx"
)

// Source formats.
const (
	USFM = "usfm"
	USX  = "usx"
)

// IsSource reports whether path names a USFM or USX file.
func IsSource(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".usfm", ".sfm", ".usx":
		return true
	}
	return false
}

// FormatOf returns USX for .usx files and USFM otherwise.
func FormatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".usx") {
		return USX
	}
	return USFM
}

// Tokenize lexes data in the given format. Lexing failures are
// *errors.ParseError values.
func Tokenize(format string, data []byte) ([]usfm.Marker, error) {
	switch format {
	case USFM:
		return usfm.Lex(bytes.NewReader(data))
	case USX:
		return usx.TokenizeBytes(data)
	}
	return nil, errors.NewUnsupported("format "+format, "expected usfm or usx")
}

// TokenizeFile is Tokenize for data read from path; parse errors are
// tagged with the path.
func TokenizeFile(path, format string, data []byte) ([]usfm.Marker, error) {
	markers, err := Tokenize(format, data)
	if err != nil {
		return nil, errors.WithPath(err, path)
	}
	return markers, nil
}
