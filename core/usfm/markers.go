package usfm

import "strings"

// Category is the coarse class of a marker, used to pick the automatic
// closing policy of the body parser.
type Category int

const (
	CategoryOther Category = iota
	CategoryParagraph
	CategoryCharacter
	CategoryNote
)

func (c Category) String() string {
	switch c {
	case CategoryParagraph:
		return "paragraph"
	case CategoryCharacter:
		return "character"
	case CategoryNote:
		return "note"
	default:
		return "other"
	}
}

// Family is the structural family a marker kind belongs to.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyParagraph
	FamilySection
	FamilyPoetry
	FamilyList
	FamilyColumn
	FamilyVerse
	FamilyBlank
	FamilyCharacter
	FamilyNoteTrigger
	FamilyNoteContent
	FamilyChapter
	FamilyHeader
	FamilyRemark
)

var familyNames = map[Family]string{
	FamilyUnknown:     "unknown",
	FamilyParagraph:   "paragraph",
	FamilySection:     "section",
	FamilyPoetry:      "poetry",
	FamilyList:        "list",
	FamilyColumn:      "column",
	FamilyVerse:       "verse",
	FamilyBlank:       "blank",
	FamilyCharacter:   "character",
	FamilyNoteTrigger: "note",
	FamilyNoteContent: "note content",
	FamilyChapter:     "chapter",
	FamilyHeader:      "header",
	FamilyRemark:      "remark",
}

func (f Family) String() string {
	return familyNames[f]
}

// CharacterStyles lists every paired inline character marker. Its length is
// a compile-time constant, so callers can size fixed tables with it.
var CharacterStyles = [...]string{
	"add", "addpn", "bd", "bdit", "bk", "dc", "em", "fig", "ior", "iqt",
	"it", "jmp", "k", "lik", "litl", "nd", "no", "ord", "pn", "png",
	"pro", "qac", "qs", "qt", "rb", "rq", "sc", "sig", "sls", "sup",
	"tl", "va", "vp", "w", "wa", "wg", "wh", "wj",
}

var families = map[string]Family{
	// paragraphs, including table rows and introduction paragraphs
	"p": FamilyParagraph, "m": FamilyParagraph, "po": FamilyParagraph,
	"cls": FamilyParagraph, "pr": FamilyParagraph, "pc": FamilyParagraph,
	"pmo": FamilyParagraph, "pm": FamilyParagraph, "pmc": FamilyParagraph,
	"pmr": FamilyParagraph, "mi": FamilyParagraph, "nb": FamilyParagraph,
	"pi": FamilyParagraph, "ph": FamilyParagraph, "tr": FamilyParagraph,
	"ip": FamilyParagraph, "ipi": FamilyParagraph, "im": FamilyParagraph,
	"imi": FamilyParagraph, "ipq": FamilyParagraph, "imq": FamilyParagraph,
	"ipr": FamilyParagraph, "iex": FamilyParagraph, "iot": FamilyParagraph,
	"io": FamilyParagraph, "ili": FamilyParagraph,

	// headings
	"sr": FamilySection, "r": FamilySection, "d": FamilySection,
	"sp": FamilySection, "s": FamilySection, "sd": FamilySection,
	"ms": FamilySection, "mr": FamilySection, "mt": FamilySection,
	"mte": FamilySection, "is": FamilySection, "imt": FamilySection,
	"imte": FamilySection,

	"q": FamilyPoetry, "qm": FamilyPoetry, "qr": FamilyPoetry,
	"qc": FamilyPoetry, "qa": FamilyPoetry, "qd": FamilyPoetry,
	"iq": FamilyPoetry,

	"lh": FamilyList, "lf": FamilyList, "li": FamilyList, "lim": FamilyList,

	"th": FamilyColumn, "thr": FamilyColumn, "thc": FamilyColumn,
	"tc": FamilyColumn, "tcr": FamilyColumn, "tcc": FamilyColumn,
	"liv": FamilyColumn,

	"v": FamilyVerse,

	"b": FamilyBlank, "ib": FamilyBlank,

	"f": FamilyNoteTrigger, "fe": FamilyNoteTrigger, "ef": FamilyNoteTrigger,
	"x": FamilyNoteTrigger, "ex": FamilyNoteTrigger,

	"fr": FamilyNoteContent, "fq": FamilyNoteContent, "fqa": FamilyNoteContent,
	"fk": FamilyNoteContent, "fl": FamilyNoteContent, "fw": FamilyNoteContent,
	"fp": FamilyNoteContent, "fv": FamilyNoteContent, "ft": FamilyNoteContent,
	"fdc": FamilyNoteContent, "fm": FamilyNoteContent,
	"xo": FamilyNoteContent, "xk": FamilyNoteContent, "xq": FamilyNoteContent,
	"xt": FamilyNoteContent, "xta": FamilyNoteContent, "xop": FamilyNoteContent,
	"xot": FamilyNoteContent, "xnt": FamilyNoteContent, "xdc": FamilyNoteContent,

	"c": FamilyChapter, "ca": FamilyChapter, "cl": FamilyChapter,
	"cp": FamilyChapter, "cd": FamilyChapter,

	"id": FamilyHeader, "ide": FamilyHeader, "usfm": FamilyHeader,
	"sts": FamilyHeader, "h": FamilyHeader, "h1": FamilyHeader,
	"h2": FamilyHeader, "h3": FamilyHeader,
	"toc1": FamilyHeader, "toc2": FamilyHeader, "toc3": FamilyHeader,
	"toca1": FamilyHeader, "toca2": FamilyHeader, "toca3": FamilyHeader,
	"ie": FamilyHeader,

	"rem": FamilyRemark,
}

var introduction = map[string]bool{
	"ip": true, "ipi": true, "im": true, "imi": true, "ipq": true,
	"imq": true, "ipr": true, "iex": true, "iot": true, "io": true,
	"ili": true, "is": true, "imt": true, "imte": true, "iq": true,
	"ib": true, "ie": true,
}

// dataKinds carry a leading word of data (a number, caller or book code)
// before their text.
var dataKinds = map[string]bool{
	"id": true, "c": true, "v": true,
	"f": true, "fe": true, "ef": true, "x": true, "ex": true,
}

// defaultAttributes names the attribute a bare |value is assigned to.
var defaultAttributes = map[string]string{
	"w":   "lemma",
	"rb":  "gloss",
	"xt":  "link-href",
	"jmp": "link-href",
}

func init() {
	for _, kind := range CharacterStyles {
		families[kind] = FamilyCharacter
	}
}

// FamilyOf returns the structural family of a marker kind.
func FamilyOf(kind string) Family {
	return families[kind]
}

// Classify returns the closing-policy category of a marker kind. Unknown
// kinds classify as CategoryOther.
func Classify(kind string) Category {
	switch families[kind] {
	case FamilyParagraph:
		return CategoryParagraph
	case FamilyCharacter:
		return CategoryCharacter
	case FamilyNoteTrigger, FamilyNoteContent:
		return CategoryNote
	default:
		return CategoryOther
	}
}

// IsKnown reports whether kind is a recognised marker.
func IsKnown(kind string) bool {
	_, ok := families[kind]
	return ok
}

// IsIntroduction reports whether kind belongs to a book introduction.
func IsIntroduction(kind string) bool {
	return introduction[kind]
}

// HasData reports whether kind carries a leading data word.
func HasData(kind string) bool {
	return dataKinds[kind]
}

// DefaultAttribute returns the attribute a bare |value is stored under.
func DefaultAttribute(kind string) string {
	if name, ok := defaultAttributes[kind]; ok {
		return name
	}
	return "default"
}

// IsMilestone reports whether kind is a milestone such as \qt-s or \ts.
// Milestones mark a point in the text and carry no content of their own.
func IsMilestone(kind string) bool {
	return kind == "ts" || strings.HasSuffix(kind, "-s") || strings.HasSuffix(kind, "-e")
}
