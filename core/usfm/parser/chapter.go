package parser

import (
	"strconv"
	"strings"

	"github.com/jnterry/awoken-bible-usfm/core/document"
	"github.com/jnterry/awoken-bible-usfm/core/usfm"
)

// Chapter is a successfully parsed chapter.
type Chapter struct {
	Number      int               `json:"chapter"`
	AltNumber   *int              `json:"chapter_alt,omitempty"`
	Label       *string           `json:"label,omitempty"`
	DropCap     *string           `json:"drop_cap,omitempty"`
	Description *string           `json:"description,omitempty"`
	Body        document.Document `json:"body"`
}

// ChapterResult is the outcome of parsing one chapter. Chapter is nil when
// the chapter could not be parsed at all; Errors may be set either way.
type ChapterResult struct {
	Errors  []usfm.ParseError `json:"errors"`
	Chapter *Chapter          `json:"chapter,omitempty"`
}

// OK reports whether the chapter was parsed.
func (r ChapterResult) OK() bool {
	return r.Chapter != nil
}

// SplitChapters separates the markers before the first \c from the chapter
// groups that follow. Every group starts with its \c marker.
func SplitChapters(markers []usfm.Marker) (header []usfm.Marker, chapters [][]usfm.Marker) {
	start := -1
	for i, m := range markers {
		if m.Kind != "c" || m.Closing {
			continue
		}
		if start < 0 {
			header = markers[:i]
		} else {
			chapters = append(chapters, markers[start:i])
		}
		start = i
	}
	if start < 0 {
		return markers, nil
	}
	return header, append(chapters, markers[start:])
}

// ParseChapter parses a chapter group as returned by SplitChapters. The
// chapter metadata markers \ca, \cl, \cp and \cd are taken out of the body
// wherever they appear.
func ParseChapter(group []usfm.Marker, book string) ChapterResult {
	if len(group) == 0 || group[0].Kind != "c" {
		return ChapterResult{Errors: []usfm.ParseError{{Message: `chapter does not start with \c`}}}
	}

	c := group[0]
	number, err := strconv.Atoi(c.Data)
	if err != nil || number < 0 {
		return ChapterResult{Errors: []usfm.ParseError{usfm.Errorf(c, "invalid chapter number %q", c.Data)}}
	}

	ch := &Chapter{Number: number}
	var errs []usfm.ParseError
	body := make([]usfm.Marker, 0, len(group))
	if strings.TrimSpace(c.Text) != "" {
		body = append(body, usfm.Marker{Text: c.Text, Pos: c.Pos})
	}

	for _, m := range group[1:] {
		if usfm.FamilyOf(m.Kind) != usfm.FamilyChapter {
			body = append(body, m)
			continue
		}
		if m.Closing {
			if strings.TrimSpace(m.Text) != "" {
				body = append(body, usfm.Marker{Text: m.Text, Pos: m.Pos})
			}
			continue
		}

		value := strings.TrimSpace(m.Text)
		switch m.Kind {
		case "ca":
			alt, err := strconv.Atoi(value)
			if err != nil {
				errs = append(errs, usfm.Errorf(m, "invalid alternate chapter number %q", value))
				continue
			}
			ch.AltNumber = &alt
		case "cl":
			ch.Label = &value
		case "cp":
			ch.DropCap = &value
		case "cd":
			ch.Description = &value
		}
	}

	doc, bodyErrs := ParseBody(body, book, number)
	ch.Body = doc
	return ChapterResult{Errors: append(errs, bodyErrs...), Chapter: ch}
}
