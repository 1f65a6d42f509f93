package parser

import (
	"fmt"

	"github.com/jnterry/awoken-bible-usfm/core/document"
	"github.com/jnterry/awoken-bible-usfm/core/usfm"
)

// payloadFunc builds the payload of the range a marker opens.
type payloadFunc func(m usfm.Marker) (document.Payload, error)

// rule is the closing policy of one structural marker kind: the categories
// it ends before opening its own range in opens.
type rule struct {
	closes           []category
	opens            category
	payload          payloadFunc
	closesCharacters bool

	// blank rules emit a zero-width range instead of opening a slot.
	blank bool
}

var (
	paragraphCloses = []category{catParagraph, catPoetry, catListEntry, catColumn, catSection}
	sectionCloses   = []category{catParagraph, catPoetry, catListEntry, catColumn, catSection, catVerse}
	poetryCloses    = []category{catPoetry, catSection}
	listEdgeCloses  = []category{catListEntry, catParagraph, catPoetry, catSection, catColumn}
	listItemCloses  = []category{catListEntry, catParagraph, catColumn, catPoetry, catSection}
	columnCloses    = []category{catColumn}
	blankCloses     = []category{catParagraph, catPoetry, catListEntry}
)

func paragraph(payload payloadFunc) rule {
	return rule{closes: paragraphCloses, opens: catParagraph, payload: payload, closesCharacters: true}
}

func section(payload payloadFunc) rule {
	return rule{closes: sectionCloses, opens: catSection, payload: payload, closesCharacters: true}
}

func poetry(payload payloadFunc) rule {
	return rule{closes: poetryCloses, opens: catPoetry, payload: payload}
}

func listEdge() rule {
	return rule{closes: listEdgeCloses, opens: catListEntry, closesCharacters: true}
}

func listItem() rule {
	return rule{closes: listItemCloses, opens: catListEntry, payload: indent, closesCharacters: true}
}

func column() rule {
	return rule{closes: columnCloses, opens: catColumn, payload: columnPosition}
}

func blank() rule {
	return rule{closes: blankCloses, closesCharacters: true, blank: true}
}

// rules maps every structural marker kind to its closing policy.
var rules = map[string]rule{
	"p": paragraph(nil), "m": paragraph(nil), "po": paragraph(nil),
	"cls": paragraph(nil), "pr": paragraph(nil), "pc": paragraph(nil),
	"pmo": paragraph(nil), "pm": paragraph(nil), "pmc": paragraph(nil),
	"pmr": paragraph(nil), "mi": paragraph(nil), "nb": paragraph(nil),
	"tr": paragraph(nil), "pi": paragraph(indent), "ph": paragraph(indent),
	"ip": paragraph(nil), "ipi": paragraph(nil), "im": paragraph(nil),
	"imi": paragraph(nil), "ipq": paragraph(nil), "imq": paragraph(nil),
	"ipr": paragraph(nil), "iex": paragraph(nil), "iot": paragraph(nil),
	"io": paragraph(indent), "ili": paragraph(indent),

	"sr": section(nil), "r": section(nil), "d": section(nil),
	"sp": section(nil), "mr": section(nil),
	"s": section(heading), "sd": section(heading), "ms": section(heading),
	"mt": section(heading), "mte": section(heading), "is": section(heading),
	"imt": section(heading), "imte": section(heading),

	"q": poetry(indent), "qm": poetry(indent), "iq": poetry(indent),
	"qr": poetry(nil), "qc": poetry(nil), "qa": poetry(nil), "qd": poetry(nil),

	"lh": listEdge(), "lf": listEdge(),
	"li": listItem(), "lim": listItem(),

	"th": column(), "thr": column(), "thc": column(),
	"tc": column(), "tcr": column(), "tcc": column(),
	"liv": column(),

	"b": blank(), "ib": blank(),
}

// tableKinds open or continue a virtual table.
var tableKinds = map[string]bool{
	"tr": true, "th": true, "thr": true, "thc": true,
	"tc": true, "tcr": true, "tcc": true,
}

// listKinds keep a virtual list open.
var listKinds = map[string]bool{
	"li": true, "lim": true, "lh": true, "lf": true, "liv": true,
}

// integerLevel returns the marker's level, defaulting to 1. Range levels are
// rejected.
func integerLevel(m usfm.Marker) (int, error) {
	if m.Level == nil {
		return 1, nil
	}
	if m.Level.IsRange {
		return 0, fmt.Errorf("level %s must be an integer", m.Level)
	}
	return m.Level.Start, nil
}

func indent(m usfm.Marker) (document.Payload, error) {
	level, err := integerLevel(m)
	if err != nil {
		return nil, err
	}
	return document.IndentPayload{Level: level}, nil
}

func heading(m usfm.Marker) (document.Payload, error) {
	level, err := integerLevel(m)
	if err != nil {
		return nil, err
	}
	return document.HeadingPayload{Level: level}, nil
}

func columnPosition(m usfm.Marker) (document.Payload, error) {
	if m.Level == nil {
		return document.ColumnPayload{Column: *usfm.IntLevel(1)}, nil
	}
	if m.Level.IsRange && m.Level.End < m.Level.Start {
		return nil, fmt.Errorf("column span %s ends before it starts", m.Level)
	}
	return document.ColumnPayload{Column: *m.Level}, nil
}
