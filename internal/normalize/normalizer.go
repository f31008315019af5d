package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	types "github.com/andrewdyar/switchyard-sub001/internal/domain"
	"github.com/andrewdyar/switchyard-sub001/internal/pkg/pointers"
	"github.com/andrewdyar/switchyard-sub001/internal/taxonomy"
)

var (
	// ErrSchemaViolation marks records missing external_id or name. Callers
	// skip them.
	ErrSchemaViolation = errors.New("schema violation")
	ErrUnknownRetailer = errors.New("no extractor for retailer")
)

// Normalizer maps retailer-native records to canonical products. It is
// stateless and safe for concurrent use.
type Normalizer struct {
	mapper     *taxonomy.Mapper
	extractors map[string]Extractor
}

func New(mapper *taxonomy.Mapper, extractors map[string]Extractor) (*Normalizer, error) {
	if mapper == nil {
		mapper = taxonomy.NewMapper(nil)
	}
	for r, e := range extractors {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", r, err)
		}
	}
	return &Normalizer{mapper: mapper, extractors: extractors}, nil
}

// Normalize extracts a canonical product from raw. fallbackPath is used as
// the retailer category path when the record carries none.
func (n *Normalizer) Normalize(retailer, locationID string, raw []byte, fallbackPath []string) (*types.CanonicalProduct, error) {
	ex, ok := n.extractors[retailer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRetailer, retailer)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: record is not JSON", ErrSchemaViolation)
	}
	doc := gjson.ParseBytes(raw)

	externalID := text(doc, ex.ExternalID)
	if externalID == "" {
		return nil, fmt.Errorf("%w: missing external_id", ErrSchemaViolation)
	}
	name := text(doc, ex.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: %s missing name", ErrSchemaViolation, externalID)
	}

	p := &types.CanonicalProduct{
		Retailer:        retailer,
		LocationID:      locationID,
		ExternalID:      externalID,
		Name:            name,
		Brand:           pointers.NonEmpty(text(doc, ex.Brand)),
		Description:     pointers.NonEmpty(text(doc, ex.Description)),
		Size:            pointers.NonEmpty(text(doc, ex.Size)),
		UnitOfMeasure:   pointers.NonEmpty(text(doc, ex.UnitOfMeasure)),
		ImageURL:        pointers.NonEmpty(text(doc, ex.ImageURL)),
		StoreItemID:     pointers.NonEmpty(text(doc, ex.StoreItemID)),
		CostPrice:       price(doc, ex.CostPrice, ex.PriceScale),
		ListPrice:       price(doc, ex.ListPrice, ex.PriceScale),
		PricePerUnit:    price(doc, ex.PricePerUnit, ex.PriceScale),
		PricePerUnitUOM: pointers.NonEmpty(text(doc, ex.PricePerUnitUOM)),
		Rating:          number(doc, ex.Rating),
		ReviewCount:     integer(doc, ex.ReviewCount),
		Aisle:           pointers.NonEmpty(text(doc, ex.Aisle)),
		Block:           pointers.NonEmpty(text(doc, ex.Block)),
		Zone:            pointers.NonEmpty(text(doc, ex.Zone)),
		IsActive:        true,
		Raw:             append([]byte(nil), raw...),
	}
	if bc := CanonicalBarcode(text(doc, ex.Barcode)); bc != "" {
		p.Barcode = &bc
	}
	if p.StoreItemID == nil {
		p.StoreItemID = pointers.String(externalID)
	}

	if v, ok := boolean(doc, ex.IsOnSale); ok {
		p.IsOnSale = v
	} else if p.CostPrice.Valid && p.ListPrice.Valid {
		p.IsOnSale = p.CostPrice.Decimal.LessThan(p.ListPrice.Decimal)
	}
	if v, ok := boolean(doc, ex.Available); ok {
		p.IsActive = v
	}

	p.RetailerCategoryPath = categoryPath(doc, ex)
	if len(p.RetailerCategoryPath) == 0 && len(fallbackPath) > 0 {
		p.RetailerCategoryPath = append([]string(nil), fallbackPath...)
	}
	p.Category, p.Subcategory = n.mapper.Normalize(retailer, p.Leaf(), p.Parent())
	p.NeedsReview = p.Category == taxonomy.Uncategorized
	return p, nil
}

// Include reports whether p passes the grocery filter.
func (n *Normalizer) Include(p *types.CanonicalProduct, strict bool) bool {
	return n.mapper.ShouldInclude(p.Category, strict)
}

func lookup(doc gjson.Result, paths Path) gjson.Result {
	for _, path := range paths {
		r := doc.Get(path)
		if !r.Exists() || r.Type == gjson.Null {
			continue
		}
		if r.Type == gjson.String && strings.TrimSpace(r.Str) == "" {
			continue
		}
		if r.IsArray() && len(r.Array()) == 0 {
			continue
		}
		return r
	}
	return gjson.Result{}
}

func text(doc gjson.Result, paths Path) string {
	r := lookup(doc, paths)
	switch {
	case !r.Exists():
		return ""
	case r.Type == gjson.Number:
		return r.Raw
	case r.IsArray():
		arr := r.Array()
		return strings.TrimSpace(arr[0].String())
	default:
		return strings.TrimSpace(r.String())
	}
}

// price coerces numbers and strings like "$1,299.00" to a decimal. Negative
// or non-numeric values are null.
func price(doc gjson.Result, paths Path, scale int64) decimal.NullDecimal {
	r := lookup(doc, paths)
	var raw string
	switch r.Type {
	case gjson.Number:
		raw = r.Raw
	case gjson.String:
		raw = strings.NewReplacer("$", "", ",", "", " ", "").Replace(r.Str)
	default:
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}
	}
	if scale > 1 {
		d = d.Div(decimal.NewFromInt(scale))
	}
	return decimal.NewNullDecimal(d.Round(4))
}

func number(doc gjson.Result, paths Path) *float64 {
	r := lookup(doc, paths)
	switch r.Type {
	case gjson.Number:
		return pointers.Float64(r.Num)
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return &f
	}
	return nil
}

func integer(doc gjson.Result, paths Path) *int {
	f := number(doc, paths)
	if f == nil || *f < 0 {
		return nil
	}
	return pointers.Int(int(*f))
}

func boolean(doc gjson.Result, paths Path) (bool, bool) {
	r := lookup(doc, paths)
	switch r.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(r.Str)) {
		case "true", "yes", "y", "1", "in_stock", "available":
			return true, true
		case "false", "no", "n", "0", "out_of_stock", "unavailable":
			return false, true
		}
	case gjson.Number:
		return r.Num != 0, true
	}
	return false, false
}

func categoryPath(doc gjson.Result, ex Extractor) []string {
	r := lookup(doc, ex.CategoryPath)
	if !r.Exists() {
		return nil
	}
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if r.IsArray() {
		for _, el := range r.Array() {
			if el.IsObject() && ex.CategoryName != "" {
				add(el.Get(ex.CategoryName).String())
			} else {
				add(el.String())
			}
		}
		return out
	}
	delim := ex.CategoryDelimiter
	if delim == "" {
		delim = ">"
	}
	for _, part := range strings.Split(r.String(), delim) {
		add(part)
	}
	return out
}
