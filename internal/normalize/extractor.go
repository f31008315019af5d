package normalize

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Path is one or more gjson paths; the first that yields a non-empty value
// wins. In YAML it is a scalar or a sequence.
type Path []string

func (p *Path) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*p = splitAlternatives(s)
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		*p = nil
		for _, s := range ss {
			if s = strings.TrimSpace(s); s != "" {
				*p = append(*p, s)
			}
		}
		return nil
	default:
		return fmt.Errorf("line %d: path must be a string or list", node.Line)
	}
}

func splitAlternatives(s string) Path {
	var out Path
	for _, part := range strings.Split(s, "||") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Extractor declares where each canonical field lives in a retailer record.
type Extractor struct {
	ExternalID    Path `yaml:"external_id"`
	Barcode       Path `yaml:"barcode"`
	Name          Path `yaml:"name"`
	Brand         Path `yaml:"brand"`
	Description   Path `yaml:"description"`
	Size          Path `yaml:"size"`
	UnitOfMeasure Path `yaml:"unit_of_measure"`
	ImageURL      Path `yaml:"image_url"`
	StoreItemID   Path `yaml:"store_item_id"`

	CostPrice       Path `yaml:"cost_price"`
	ListPrice       Path `yaml:"list_price"`
	PricePerUnit    Path `yaml:"price_per_unit"`
	PricePerUnitUOM Path `yaml:"price_per_unit_uom"`
	IsOnSale        Path `yaml:"is_on_sale"`
	// PriceScale divides raw prices, e.g. 100 for prices in cents.
	PriceScale int64 `yaml:"price_scale"`

	Rating      Path `yaml:"rating"`
	ReviewCount Path `yaml:"review_count"`

	Aisle     Path `yaml:"aisle"`
	Block     Path `yaml:"block"`
	Zone      Path `yaml:"zone"`
	Available Path `yaml:"available"`

	// CategoryPath points at an array (of strings, or of objects holding
	// CategoryName) or at a single delimited string.
	CategoryPath      Path   `yaml:"retailer_category_path"`
	CategoryName      string `yaml:"category_name"`
	CategoryDelimiter string `yaml:"category_delimiter"`
}

// Validate checks the fields every record needs.
func (e Extractor) Validate() error {
	if len(e.ExternalID) == 0 {
		return fmt.Errorf("extractor: external_id path required")
	}
	if len(e.Name) == 0 {
		return fmt.Errorf("extractor: name path required")
	}
	return nil
}
