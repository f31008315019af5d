package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	apperr "github.com/andrewdyar/switchyard-sub001/internal/pkg/errors"
)

// Uncategorized is the fallback top category slug.
const Uncategorized = "uncategorized"

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

type Subcategory struct {
	Slug string
	Name string
}

type Top struct {
	Slug          string
	Name          string
	Subcategories []Subcategory
}

// Entry maps one retailer category string to an internal (top, sub) pair.
type Entry struct {
	Key         string `yaml:"key"`
	Category    string `yaml:"category"`
	Subcategory string `yaml:"subcategory"`
}

type fileTop struct {
	Name          string   `yaml:"name"`
	Subcategories []string `yaml:"subcategories"`
}

type file struct {
	Categories []fileTop          `yaml:"categories"`
	Generic    []Entry            `yaml:"generic"`
	Retailers  map[string][]Entry `yaml:"retailers"`
}

type target struct {
	top string
	sub string
}

// Taxonomy is the fixed internal hierarchy plus the compiled mapping tables.
// It is immutable once loaded.
type Taxonomy struct {
	tops     []Top
	topBySlg map[string]*Top
	topByNm  map[string]string

	generic  map[string]target
	retailer map[string]map[string]target
}

// Load reads the taxonomy from path, or the embedded default when path is empty.
func Load(path string) (*Taxonomy, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultTaxonomy)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Config("TAXONOMY_CONFIG", err)
	}
	return Parse(raw)
}

// Default returns the embedded taxonomy. It panics if the embedded file is
// malformed, which the package tests rule out.
func Default() *Taxonomy {
	t, err := Parse(defaultTaxonomy)
	if err != nil {
		panic(err)
	}
	return t
}

func Parse(raw []byte) (*Taxonomy, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, apperr.Config("taxonomy", err)
	}
	t := &Taxonomy{
		topBySlg: map[string]*Top{},
		topByNm:  map[string]string{},
		generic:  map[string]target{},
		retailer: map[string]map[string]target{},
	}
	for _, ft := range f.Categories {
		name := strings.TrimSpace(ft.Name)
		if name == "" {
			return nil, apperr.Configf("taxonomy", "category with empty name")
		}
		top := Top{Slug: Slugify(name), Name: name}
		if _, dup := t.topByNm[matchKey(name)]; dup {
			return nil, apperr.Configf("taxonomy", "duplicate category %q", name)
		}
		seen := map[string]bool{}
		for _, s := range ft.Subcategories {
			s = strings.TrimSpace(s)
			if s == "" || seen[matchKey(s)] {
				return nil, apperr.Configf("taxonomy", "bad subcategory %q under %q", s, name)
			}
			seen[matchKey(s)] = true
			top.Subcategories = append(top.Subcategories, Subcategory{Slug: Slugify(s), Name: s})
		}
		t.tops = append(t.tops, top)
		t.topByNm[matchKey(name)] = top.Slug
	}
	for i := range t.tops {
		t.topBySlg[t.tops[i].Slug] = &t.tops[i]
	}
	if _, ok := t.topBySlg[Uncategorized]; !ok {
		return nil, apperr.Configf("taxonomy", "missing %q category", Uncategorized)
	}

	if err := t.register(t.generic, f.Generic, "generic"); err != nil {
		return nil, err
	}
	for retailer, entries := range f.Retailers {
		r := strings.ToLower(strings.TrimSpace(retailer))
		table := t.retailer[r]
		if table == nil {
			table = map[string]target{}
			t.retailer[r] = table
		}
		if err := t.register(table, entries, r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// register compiles entries into table. The first entry for a key wins.
func (t *Taxonomy) register(table map[string]target, entries []Entry, where string) error {
	for _, e := range entries {
		k := matchKey(e.Key)
		if k == "" {
			return apperr.Configf("taxonomy", "%s: entry with empty key", where)
		}
		topSlug, ok := t.topByNm[matchKey(e.Category)]
		if !ok {
			return apperr.Configf("taxonomy", "%s: %q maps to unknown category %q", where, e.Key, e.Category)
		}
		tg := target{top: topSlug}
		if strings.TrimSpace(e.Subcategory) != "" {
			sub, ok := t.findSub(topSlug, e.Subcategory)
			if !ok {
				return apperr.Configf("taxonomy", "%s: %q maps to unknown subcategory %q of %q", where, e.Key, e.Subcategory, e.Category)
			}
			tg.sub = sub.Slug
		}
		if _, exists := table[k]; !exists {
			table[k] = tg
		}
	}
	return nil
}

func (t *Taxonomy) findSub(topSlug, name string) (Subcategory, bool) {
	top := t.topBySlg[topSlug]
	if top == nil {
		return Subcategory{}, false
	}
	k := matchKey(name)
	for _, s := range top.Subcategories {
		if matchKey(s.Name) == k || s.Slug == name {
			return s, true
		}
	}
	return Subcategory{}, false
}

// Tops returns the top categories in declaration order.
func (t *Taxonomy) Tops() []Top {
	out := make([]Top, len(t.tops))
	copy(out, t.tops)
	return out
}

// Names returns the authoritative names for a (top, sub) slug pair.
func (t *Taxonomy) Names(topSlug, subSlug string) (top string, sub string, ok bool) {
	tp := t.topBySlg[topSlug]
	if tp == nil {
		return "", "", false
	}
	if subSlug == "" {
		return tp.Name, "", true
	}
	s, found := t.findSub(topSlug, subSlug)
	if !found {
		return tp.Name, "", false
	}
	return tp.Name, s.Name, true
}

// SubcategoryKey is the unique slug stored for a subcategory row.
func SubcategoryKey(topSlug, subSlug string) string {
	return topSlug + "/" + subSlug
}

// Slugify lower-cases name and joins alphanumeric runs with "-":
// "Baby & kids" -> "baby-kids".
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func matchKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "&", " and ")
	return strings.Join(strings.Fields(s), " ")
}

func (t *Taxonomy) String() string {
	return fmt.Sprintf("taxonomy(%d categories, %d retailers)", len(t.tops), len(t.retailer))
}
