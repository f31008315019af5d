package taxonomy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	types "github.com/andrewdyar/switchyard-sub001/internal/domain"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/dbctx"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

// CategoryLookup is the read side of the category repository.
type CategoryLookup interface {
	FindGoodsByName(dbc dbctx.Context, name string, parentID *uuid.UUID) (*types.Category, error)
}

// Resolver turns (top, sub) slugs into category row ids. Hits are cached per
// name path for the life of the resolver; misses are not, so rows seeded later
// are picked up. It never creates categories.
type Resolver struct {
	tax    *Taxonomy
	lookup CategoryLookup
	log    *logger.Logger

	mu    sync.RWMutex
	cache map[string]uuid.UUID
}

func NewResolver(tax *Taxonomy, lookup CategoryLookup, baseLog *logger.Logger) *Resolver {
	if tax == nil {
		tax = Default()
	}
	return &Resolver{
		tax:    tax,
		lookup: lookup,
		log:    baseLog.With("component", "TaxonomyResolver"),
		cache:  map[string]uuid.UUID{},
	}
}

// ResolveIDs returns the category id for top and, when sub is set and
// present in the store, the subcategory id. A nil category id means the top
// category is not in the store.
func (r *Resolver) ResolveIDs(ctx context.Context, top, sub string) (*uuid.UUID, *uuid.UUID, error) {
	topName, subName, _ := r.tax.Names(top, sub)
	if topName == "" {
		return nil, nil, nil
	}
	dbc := dbctx.Context{Ctx: ctx}

	topID, err := r.find(dbc, topName, nil, topName)
	if err != nil || topID == nil {
		return nil, nil, err
	}
	if subName == "" {
		return topID, nil, nil
	}
	subID, err := r.find(dbc, subName, topID, topName+"\x00"+subName)
	if err != nil {
		return topID, nil, err
	}
	return topID, subID, nil
}

func (r *Resolver) find(dbc dbctx.Context, name string, parentID *uuid.UUID, cacheKey string) (*uuid.UUID, error) {
	r.mu.RLock()
	id, ok := r.cache[cacheKey]
	r.mu.RUnlock()
	if ok {
		return &id, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.cache[cacheKey]; ok {
		return &id, nil
	}
	row, err := r.lookup.FindGoodsByName(dbc, name, parentID)
	if err != nil {
		return nil, fmt.Errorf("resolve category %q: %w", name, err)
	}
	if row == nil {
		r.log.Debug("category not in store", "name", name)
		return nil, nil
	}
	r.cache[cacheKey] = row.ID
	out := row.ID
	return &out, nil
}
