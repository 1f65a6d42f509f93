package parser

import (
	"fmt"

	"github.com/jnterry/awoken-bible-usfm/core/document"
	"github.com/jnterry/awoken-bible-usfm/core/usfm"
)

// category is a slot of the open-environment registry. Each slot holds at
// most one open range.
type category int

const (
	catParagraph category = iota
	catPoetry
	catListEntry
	catListItems
	catList
	catTable
	catColumn
	catSection
	catVerse

	// catCharStyle is the first of one slot per usfm.CharacterStyles kind.
	catCharStyle
)

const numCategories = int(catCharStyle) + len(usfm.CharacterStyles)

var categoryNames = [...]string{
	catParagraph: "paragraph",
	catPoetry:    "poetry",
	catListEntry: "list entry",
	catListItems: "list items",
	catList:      "list",
	catTable:     "table",
	catColumn:    "column",
	catSection:   "section",
	catVerse:     "verse",
}

func (c category) String() string {
	if c >= catCharStyle && int(c) < numCategories {
		return usfm.CharacterStyles[c-catCharStyle]
	}
	if c >= 0 && int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", int(c))
}

var charCategories = func() map[string]category {
	m := make(map[string]category, len(usfm.CharacterStyles))
	for i, kind := range usfm.CharacterStyles {
		m[kind] = catCharStyle + category(i)
	}
	return m
}()

// registry tracks the open range of every category and collects the ranges
// that have been closed.
type registry struct {
	slots  [numCategories]*document.Range
	closed []document.Range
}

func (r *registry) isOpen(c category) bool {
	return r.slots[c] != nil
}

// kindOf returns the kind of the range open in c, or "" when c is empty.
func (r *registry) kindOf(c category) string {
	if r.slots[c] == nil {
		return ""
	}
	return r.slots[c].Kind
}

// open starts a range in c. The slot must be empty.
func (r *registry) open(c category, rng document.Range) {
	if r.slots[c] != nil {
		panic(fmt.Sprintf("usfm parser: opening %s while %s is still open", rng.Kind, c))
	}
	r.slots[c] = &rng
}

// close ends the range open in c at gap. It is a no-op on an empty slot.
func (r *registry) close(c category, gap int) {
	rng := r.slots[c]
	if rng == nil {
		return
	}
	rng.Max = gap
	r.closed = append(r.closed, *rng)
	r.slots[c] = nil
}

func (r *registry) closeCharacters(gap int) {
	for c := catCharStyle; int(c) < numCategories; c++ {
		r.close(c, gap)
	}
}

func (r *registry) closeAll(gap int) {
	for c := category(0); int(c) < numCategories; c++ {
		r.close(c, gap)
	}
}

// emit records a range that never occupies a slot.
func (r *registry) emit(rng document.Range) {
	r.closed = append(r.closed, rng)
}

func (r *registry) empty() bool {
	for _, s := range r.slots {
		if s != nil {
			return false
		}
	}
	return true
}
