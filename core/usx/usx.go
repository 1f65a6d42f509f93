// Package usx reads USX, the XML form of USFM, into the same marker stream
// the USFM lexer produces, so USX books go through the USFM parser unchanged.
//
// Security: documents are parsed with xmlquery, which uses encoding/xml and
// never fetches external entities.
package usx

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/jnterry/awoken-bible-usfm/core/errors"
	"github.com/jnterry/awoken-bible-usfm/core/usfm"
)

var rootExpr = xpath.MustCompile("/usx")

// attributes that describe the USX element rather than the USFM marker.
var structuralAttrs = map[string]bool{
	"style": true, "closed": true, "sid": true, "eid": true, "vid": true,
	"number": true, "altnumber": true, "pubnumber": true, "caller": true,
	"code": true, "align": true, "category": true,
}

// Tokenize reads a USX document and returns its content as USFM markers.
func Tokenize(r io.Reader) ([]usfm.Marker, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		var serr *xml.SyntaxError
		if errors.As(err, &serr) {
			return nil, errors.NewParseAt("USX", serr.Line, 0, serr.Msg, err)
		}
		return nil, errors.NewParseAt("USX", 0, 0, "invalid XML", err)
	}
	root := xmlquery.QuerySelector(doc, rootExpr)
	if root == nil {
		return nil, errors.NewParseAt("USX", 0, 0, "missing <usx> root element", nil)
	}

	t := &tokenizer{}
	t.children(root)
	return t.markers, nil
}

// TokenizeBytes is Tokenize for a document held in memory.
func TokenizeBytes(data []byte) ([]usfm.Marker, error) {
	return Tokenize(bytes.NewReader(data))
}

type tokenizer struct {
	markers []usfm.Marker

	// detached is set after a milestone; the next text starts a bare run.
	detached bool
	// charDepth counts the open <char> elements.
	charDepth int
}

func (t *tokenizer) emit(m usfm.Marker) {
	t.markers = append(t.markers, m)
	t.detached = false
}

// text attaches s to the last marker the way the USFM lexer attaches text to
// the tag before it.
func (t *tokenizer) text(s string) {
	s = usfm.NormalizeText(s)
	if s == "" {
		return
	}
	if len(t.markers) == 0 {
		s = strings.TrimLeft(s, " ")
		if s == "" {
			return
		}
		t.emit(usfm.Marker{Text: s})
		return
	}
	if t.detached {
		t.emit(usfm.Marker{Text: s})
		return
	}

	last := &t.markers[len(t.markers)-1]
	if last.Text == "" && last.Kind != "" && !last.Closing {
		s = strings.TrimPrefix(s, " ")
	}
	if strings.HasSuffix(last.Text, " ") {
		s = strings.TrimPrefix(s, " ")
	}
	last.Text += s
}

func (t *tokenizer) children(n *xmlquery.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		t.node(child)
	}
}

func (t *tokenizer) node(n *xmlquery.Node) {
	switch n.Type {
	case xmlquery.TextNode, xmlquery.CharDataNode:
		t.text(n.Data)
		return
	case xmlquery.ElementNode:
	default:
		return
	}

	style := n.SelectAttr("style")
	switch n.Data {
	case "book":
		t.emit(usfm.Marker{Kind: "id", Data: strings.ToUpper(n.SelectAttr("code"))})
		t.children(n)

	case "chapter":
		if n.SelectAttr("eid") != "" {
			return
		}
		t.emit(usfm.Marker{Kind: "c", Data: n.SelectAttr("number")})
		t.numbers(n, "ca", "cp")

	case "verse":
		if n.SelectAttr("eid") != "" {
			return
		}
		t.emit(usfm.Marker{Kind: "v", Data: n.SelectAttr("number")})
		t.numbers(n, "va", "vp")

	case "para", "row", "cell":
		if style == "" {
			t.children(n)
			return
		}
		t.emit(t.marker(n, style))
		t.children(n)

	case "char":
		m := t.marker(n, style)
		if usfm.FamilyOf(m.Kind) == usfm.FamilyCharacter {
			m.Nested = t.charDepth > 0
			t.charDepth++
			defer func() { t.charDepth-- }()
		}
		t.emit(m)
		t.children(n)
		if n.SelectAttr("closed") != "false" {
			t.emit(usfm.Marker{Kind: m.Kind, Level: m.Level, Nested: m.Nested, Closing: true})
		}

	case "note":
		m := t.marker(n, style)
		m.Data = n.SelectAttr("caller")
		t.emit(m)
		depth := t.charDepth
		t.charDepth = 0
		t.children(n)
		t.charDepth = depth
		t.emit(usfm.Marker{Kind: m.Kind, Closing: true})

	case "ms":
		t.emit(t.marker(n, style))
		t.detached = true

	case "figure":
		m := t.marker(n, "fig")
		t.emit(m)
		t.children(n)
		t.emit(usfm.Marker{Kind: "fig", Closing: true})

	case "optbreak":

	default:
		// <table>, <sidebar>, <ref> and unknown wrappers contribute only
		// their content.
		t.children(n)
	}
}

func (t *tokenizer) marker(n *xmlquery.Node, style string) usfm.Marker {
	m := usfm.ParseTag(style)
	for _, attr := range n.Attr {
		name := attr.Name.Local
		if structuralAttrs[name] || attr.Name.Space == "xmlns" || name == "xmlns" {
			continue
		}
		if m.Attributes == nil {
			m.Attributes = make(map[string]string)
		}
		m.Attributes[name] = attr.Value
	}
	return m
}

// numbers emits the alternate and published numbers of a chapter or verse
// as the character-like markers that carry them in USFM.
func (t *tokenizer) numbers(n *xmlquery.Node, alt, pub string) {
	if v := n.SelectAttr("altnumber"); v != "" {
		t.emit(usfm.Marker{Kind: alt, Text: v})
		t.emit(usfm.Marker{Kind: alt, Closing: true})
	}
	if v := n.SelectAttr("pubnumber"); v != "" {
		t.emit(usfm.Marker{Kind: pub, Text: v})
		if pub == "vp" {
			t.emit(usfm.Marker{Kind: pub, Closing: true})
		}
	}
}
