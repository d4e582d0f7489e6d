// Package dimension defines identity and lineage matching for action lines.
//
// A line finds its source in the preceding layer by explicit lineage first.
// Lines without lineage fall back to the canonical key (action, year,
// perimetre): the first source line in insertion order with an equal key
// wins. The fallback is best-effort and may multi-match; "no source" is a
// valid answer and never an error.
package dimension

import (
	"sort"

	"pdfcp/internal/domain"
)

// Key is the canonical fallback key. Commune and site are labels only.
type Key struct {
	ActionKey   domain.ActionKey
	Year        int
	PerimetreID string
}

func Of(l domain.ActionLine) Key {
	return Key{ActionKey: l.ActionKey, Year: l.Year, PerimetreID: l.PerimetreID}
}

// InsertionOrder returns a copy of lines sorted by insertion sequence.
func InsertionOrder(lines []domain.ActionLine) []domain.ActionLine {
	out := make([]domain.ActionLine, len(lines))
	copy(out, lines)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Index answers source lookups against one layer's lines.
type Index struct {
	byID  map[string]domain.ActionLine
	byKey map[Key][]domain.ActionLine
}

// NewIndex indexes the candidate source lines. Order within a key follows
// insertion sequence regardless of the input order.
func NewIndex(lines []domain.ActionLine) *Index {
	ix := &Index{
		byID:  make(map[string]domain.ActionLine, len(lines)),
		byKey: make(map[Key][]domain.ActionLine),
	}
	for _, l := range InsertionOrder(lines) {
		ix.byID[l.ID] = l
		k := Of(l)
		ix.byKey[k] = append(ix.byKey[k], l)
	}
	return ix
}

func (ix *Index) Get(id string) (domain.ActionLine, bool) {
	l, ok := ix.byID[id]
	return l, ok
}

// Matches returns every candidate with key k in insertion order.
func (ix *Index) Matches(k Key) []domain.ActionLine {
	return ix.byKey[k]
}

// Source resolves the source line for line. A dangling lineage reference
// resolves to no source; it does not fall back to key matching.
func (ix *Index) Source(line domain.ActionLine) (domain.ActionLine, bool) {
	if line.Lineage != "" {
		return ix.Get(line.Lineage)
	}
	if m := ix.byKey[Of(line)]; len(m) > 0 {
		return m[0], true
	}
	return domain.ActionLine{}, false
}

// Resolve is Source over an ad-hoc candidate list.
func Resolve(line domain.ActionLine, candidates []domain.ActionLine) (domain.ActionLine, bool) {
	return NewIndex(candidates).Source(line)
}

// Covered returns the ids of source lines that some target line resolves to.
func Covered(targets []domain.ActionLine, sources *Index) map[string]bool {
	covered := make(map[string]bool, len(targets))
	for _, t := range InsertionOrder(targets) {
		if src, ok := sources.Source(t); ok {
			covered[src.ID] = true
		}
	}
	return covered
}
