package taxonomy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/andrewdyar/switchyard-sub001/internal/data/repos/catalog"
	types "github.com/andrewdyar/switchyard-sub001/internal/domain"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/dbctx"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

type CategoryStore interface {
	GetBySlug(dbc dbctx.Context, slug string) (*types.Category, error)
	Create(dbc dbctx.Context, row *types.Category) error
}

// Seed creates any goods category rows of tax missing from the store and
// reports how many it created. Existing rows are left untouched.
func Seed(ctx context.Context, store CategoryStore, tax *Taxonomy, log *logger.Logger) (int, error) {
	if tax == nil {
		tax = Default()
	}
	dbc := dbctx.Context{Ctx: ctx}
	created := 0
	for _, top := range tax.Tops() {
		row, made, err := ensure(dbc, store, top.Slug, top.Name, nil, 1)
		if err != nil {
			return created, err
		}
		if made {
			created++
		}
		for _, sub := range top.Subcategories {
			parent := row.ID
			_, made, err := ensure(dbc, store, SubcategoryKey(top.Slug, sub.Slug), sub.Name, &parent, 2)
			if err != nil {
				return created, err
			}
			if made {
				created++
			}
		}
	}
	if created > 0 {
		log.Info("taxonomy seeded", "created", created)
	}
	return created, nil
}

func ensure(dbc dbctx.Context, store CategoryStore, slug, name string, parentID *uuid.UUID, level int) (*types.Category, bool, error) {
	existing, err := store.GetBySlug(dbc, slug)
	if err != nil {
		return nil, false, fmt.Errorf("seed %s: %w", slug, err)
	}
	if existing != nil {
		return existing, false, nil
	}
	row := &types.Category{
		Slug:     slug,
		Name:     name,
		ParentID: parentID,
		Level:    level,
		Source:   types.CategorySourceGoods,
	}
	if err := store.Create(dbc, row); err != nil {
		if !catalog.IsUniqueViolation(err) {
			return nil, false, fmt.Errorf("seed %s: %w", slug, err)
		}
		// Another instance seeded concurrently.
		existing, err = store.GetBySlug(dbc, slug)
		if err != nil || existing == nil {
			return nil, false, fmt.Errorf("seed %s: reread after conflict: %v", slug, err)
		}
		return existing, false, nil
	}
	return row, true, nil
}
