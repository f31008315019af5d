package taxonomy

import "strings"

// Mapper resolves retailer category strings to the internal taxonomy. It is
// pure and safe for concurrent use.
type Mapper struct {
	tax *Taxonomy
}

func NewMapper(tax *Taxonomy) *Mapper {
	if tax == nil {
		tax = Default()
	}
	return &Mapper{tax: tax}
}

func (m *Mapper) Taxonomy() *Taxonomy { return m.tax }

// Normalize maps (retailer, leaf, parent) to a (top, sub) slug pair. Lookup
// order: retailer table by leaf, retailer table by parent, generic table by
// parent, generic table by leaf. sub is empty when only the top category is
// known. Nothing matching yields (Uncategorized, "").
func (m *Mapper) Normalize(retailer, leaf, parent string) (top string, sub string) {
	table := m.tax.retailer[strings.ToLower(strings.TrimSpace(retailer))]
	leafKey, parentKey := matchKey(leaf), matchKey(parent)

	candidates := []struct {
		table map[string]target
		key   string
	}{
		{table, leafKey},
		{table, parentKey},
		{m.tax.generic, parentKey},
		{m.tax.generic, leafKey},
	}
	for _, c := range candidates {
		if c.table == nil || c.key == "" {
			continue
		}
		if tg, ok := c.table[c.key]; ok {
			return tg.top, tg.sub
		}
	}
	return Uncategorized, ""
}

// ShouldInclude reports whether a record in top belongs in the catalog. Only
// uncategorized records are dropped, and only under strict filtering.
func (m *Mapper) ShouldInclude(top string, strict bool) bool {
	if !strict {
		return true
	}
	return top != Uncategorized && top != ""
}
