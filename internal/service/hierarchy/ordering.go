package hierarchy

import (
	"bytes"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	models "osmlevels/internal/domain/models/hierarchy"
)

// NameOrder sorts sibling lists by a locale-aware, case-insensitive name
// ordering in which digit runs compare as numbers ("Level 2" < "Level 10").
// Equal names fall back to id so the order is total.
type NameOrder struct {
	tag language.Tag
}

// NewNameOrder creates an ordering for tag
func NewNameOrder(tag language.Tag) NameOrder {
	return NameOrder{tag: tag}
}

// Sort returns a sorted copy of nodes. A collator is not safe for concurrent
// use, so each call builds its own.
func (o NameOrder) Sort(nodes []models.Node) []models.Node {
	c := collate.New(o.tag, collate.Numeric, collate.IgnoreCase)
	var buf collate.Buffer
	keys := make(map[string][]byte, len(nodes))
	for _, n := range nodes {
		if _, ok := keys[n.Name]; !ok {
			keys[n.Name] = append([]byte(nil), c.KeyFromString(&buf, n.Name)...)
			buf.Reset()
		}
	}

	sorted := append(make([]models.Node, 0, len(nodes)), nodes...)
	slices.SortStableFunc(sorted, func(a, b models.Node) int {
		if cmp := bytes.Compare(keys[a.Name], keys[b.Name]); cmp != 0 {
			return cmp
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sorted
}

// IndexOf returns the position of id in nodes, or -1
func IndexOf(nodes []models.Node, id string) int {
	return slices.IndexFunc(nodes, func(n models.Node) bool { return n.ID == id })
}
