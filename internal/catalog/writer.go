package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/andrewdyar/switchyard-sub001/internal/data/repos"
	types "github.com/andrewdyar/switchyard-sub001/internal/domain"
	"github.com/andrewdyar/switchyard-sub001/internal/pkg/pointers"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/dbctx"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
	"github.com/andrewdyar/switchyard-sub001/internal/taxonomy"
)

var (
	// ErrIdentityConflict is reported when a (retailer, external_id) mapping
	// already points at a different product than the record resolves to.
	ErrIdentityConflict = errors.New("identity conflict")
	// ErrInvalidRecord rejects records missing external_id or name.
	ErrInvalidRecord = errors.New("invalid canonical record")

	errPriceRace = errors.New("open price row closed concurrently")
	errDryRun    = errors.New("dry run rollback")
)

const defaultMaxAttempts = 3

// CategoryResolver maps taxonomy keys to category row ids.
type CategoryResolver interface {
	ResolveIDs(ctx context.Context, top, sub string) (*uuid.UUID, *uuid.UUID, error)
}

type Config struct {
	// DryRun runs every step and rolls the transaction back.
	DryRun bool
	// MaxAttempts bounds retries after unique-key races.
	MaxAttempts int
}

// Result describes what one Write did (or, in dry-run mode, would have done).
type Result struct {
	ProductID      uuid.UUID
	ProductCreated bool
	ProductUpdated bool
	MappingCreated bool
	PriceInserted  bool
	PriceClosed    bool
	NeedsReview    bool
	// Conflict is set when the mapping write was skipped because the
	// (retailer, external_id) belongs to another product.
	Conflict bool
	Attempts int
}

type Writer struct {
	db       *gorm.DB
	repos    repos.Set
	resolver CategoryResolver
	images   *imageStabilizer
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
	tracer   trace.Tracer

	priceLocks *keyedMutex
}

type Option func(*Writer)

func WithClock(now func() time.Time) Option { return func(w *Writer) { w.now = now } }

// WithImageStore enables image stabilization. client may be nil.
func WithImageStore(store ImageStore, client *http.Client) Option {
	return func(w *Writer) { w.images = newImageStabilizer(store, client, w.log) }
}

func NewWriter(db *gorm.DB, set repos.Set, resolver CategoryResolver, cfg Config, baseLog *logger.Logger, opts ...Option) *Writer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	w := &Writer{
		db:         db,
		repos:      set,
		resolver:   resolver,
		cfg:        cfg,
		log:        baseLog.With("component", "CatalogWriter"),
		now:        func() time.Time { return time.Now().UTC() },
		tracer:     otel.Tracer("ingest/catalog"),
		priceLocks: newKeyedMutex(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Write persists one canonical record in its own transaction. Unique-key
// violations are treated as a race with another worker: the transaction is
// replayed, which re-reads and merges. Any other store error fails only this
// record.
func (w *Writer) Write(ctx context.Context, p *types.CanonicalProduct) (Result, error) {
	if p == nil || p.ExternalID == "" || p.Name == "" {
		return Result{}, ErrInvalidRecord
	}
	ctx, span := w.tracer.Start(ctx, "catalog.Write", trace.WithAttributes(
		attribute.String("retailer", p.Retailer),
		attribute.String("external_id", p.ExternalID),
	))
	defer span.End()

	cats, err := w.categories(ctx, p)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	rec := *p
	if rec.ImageURL != nil && w.images != nil && !w.cfg.DryRun {
		rec.ImageURL = pointers.String(w.images.Stabilize(ctx, rec.Retailer, *rec.ImageURL))
	}

	var res Result
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		res, err = w.writeOnce(ctx, &rec, cats)
		res.Attempts = attempt
		if errors.Is(err, errDryRun) {
			return res, nil
		}
		if err == nil {
			return res, nil
		}
		if !repos.IsUniqueViolation(err) && !errors.Is(err, errPriceRace) {
			break
		}
		w.log.Debug("write raced; replaying", "retailer", rec.Retailer, "external_id", rec.ExternalID, "attempt", attempt, "error", err)
	}
	span.RecordError(err)
	return res, fmt.Errorf("write %s/%s: %w", rec.Retailer, rec.ExternalID, err)
}

type categoryIDs struct {
	category    *uuid.UUID
	subcategory *uuid.UUID
	needsReview bool
}

// categories resolves ids outside the record transaction. A top category
// missing from the store falls back to Uncategorized with needs_review.
func (w *Writer) categories(ctx context.Context, p *types.CanonicalProduct) (categoryIDs, error) {
	out := categoryIDs{needsReview: p.NeedsReview || p.Category == "" || p.Category == taxonomy.Uncategorized}
	if w.resolver == nil {
		out.needsReview = true
		return out, nil
	}
	if !out.needsReview {
		top, sub, err := w.resolver.ResolveIDs(ctx, p.Category, p.Subcategory)
		if err != nil {
			return out, err
		}
		if top != nil {
			out.category, out.subcategory = top, sub
			return out, nil
		}
		out.needsReview = true
	}
	top, _, err := w.resolver.ResolveIDs(ctx, taxonomy.Uncategorized, "")
	if err != nil {
		return out, err
	}
	if top == nil {
		w.log.Warn("uncategorized row missing; taxonomy not seeded?")
	}
	out.category = top
	return out, nil
}

func (w *Writer) writeOnce(ctx context.Context, p *types.CanonicalProduct, cats categoryIDs) (Result, error) {
	var (
		res    Result
		unlock func()
	)
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		now := w.now()

		product, created, conflict, err := w.resolveIdentity(dbc, p, cats)
		if err != nil {
			return err
		}
		res.ProductID = product.ID
		res.ProductCreated = created
		res.Conflict = conflict
		res.NeedsReview = cats.needsReview

		if !created {
			updated, err := w.merge(dbc, product, p, cats)
			if err != nil {
				return err
			}
			res.ProductUpdated = updated
		}

		if !conflict {
			made, err := w.upsertMapping(dbc, product.ID, p, now)
			if err != nil {
				return err
			}
			res.MappingCreated = made
		}

		if p.CostPrice.Valid {
			// Held until commit so the open row we read stays current.
			unlock = w.priceLocks.Lock(priceKey(product.ID, p.Retailer, p.LocationID))
			inserted, closed, err := w.writePrice(dbc, product.ID, p, now)
			if err != nil {
				return err
			}
			res.PriceInserted, res.PriceClosed = inserted, closed
		}

		if w.cfg.DryRun {
			return errDryRun
		}
		return nil
	})
	return res, err
}

// resolveIdentity finds the product a record belongs to: by barcode, then by
// the (retailer, external_id) mapping, else a new product. When the mapping
// points elsewhere the incumbent product keeps the record and conflict is set.
func (w *Writer) resolveIdentity(dbc dbctx.Context, p *types.CanonicalProduct, cats categoryIDs) (*types.Product, bool, bool, error) {
	var (
		product *types.Product
		err     error
	)
	if p.Barcode != nil {
		if product, err = w.repos.Products.GetByBarcode(dbc, *p.Barcode); err != nil {
			return nil, false, false, err
		}
	}

	mapping, err := w.repos.Mappings.GetByRetailerExternalID(dbc, p.Retailer, p.ExternalID)
	if err != nil {
		return nil, false, false, err
	}
	if mapping != nil && (product == nil || product.ID != mapping.ProductID) {
		incumbent, err := w.repos.Products.GetByID(dbc, mapping.ProductID)
		if err != nil {
			return nil, false, false, err
		}
		if incumbent != nil {
			if product != nil {
				w.log.Warn("identity conflict; keeping existing mapping",
					"retailer", p.Retailer,
					"external_id", p.ExternalID,
					"barcode_product_id", product.ID,
					"mapped_product_id", incumbent.ID,
					"error", ErrIdentityConflict,
				)
				return incumbent, false, true, nil
			}
			return incumbent, false, false, nil
		}
	}
	if product != nil {
		return product, false, false, nil
	}

	product = &types.Product{
		Barcode:       p.Barcode,
		Name:          p.Name,
		Brand:         p.Brand,
		Description:   p.Description,
		ImageURL:      p.ImageURL,
		Size:          p.Size,
		UnitOfMeasure: p.UnitOfMeasure,
		CategoryID:    cats.category,
		SubcategoryID: cats.subcategory,
		NeedsReview:   cats.needsReview,
		Raw:           datatypes.JSON(p.Raw),
	}
	if err := w.repos.Products.Create(dbc, product); err != nil {
		return nil, false, false, err
	}
	return product, true, false, nil
}

// merge fills only null product fields from the record. A product still
// filed under Uncategorized takes the first real category it is seen with.
// raw is last-writer-wins.
func (w *Writer) merge(dbc dbctx.Context, product *types.Product, p *types.CanonicalProduct, cats categoryIDs) (bool, error) {
	updates := map[string]interface{}{}
	fill := func(col string, cur, in *string) {
		if cur == nil && in != nil {
			updates[col] = *in
		}
	}
	fill("brand", product.Brand, p.Brand)
	fill("description", product.Description, p.Description)
	fill("image_url", product.ImageURL, p.ImageURL)
	fill("size", product.Size, p.Size)
	fill("unit_of_measure", product.UnitOfMeasure, p.UnitOfMeasure)
	if product.Barcode == nil && p.Barcode != nil {
		other, err := w.repos.Products.GetByBarcode(dbc, *p.Barcode)
		if err != nil {
			return false, err
		}
		if other == nil {
			updates["barcode"] = *p.Barcode
		}
	}

	if !cats.needsReview && cats.category != nil {
		switch {
		case product.CategoryID == nil || product.NeedsReview:
			updates["category_id"] = *cats.category
			if cats.subcategory != nil {
				updates["subcategory_id"] = *cats.subcategory
			}
			updates["needs_review"] = false
		case product.SubcategoryID == nil && cats.subcategory != nil && *product.CategoryID == *cats.category:
			updates["subcategory_id"] = *cats.subcategory
		}
	} else if product.CategoryID == nil && cats.category != nil {
		updates["category_id"] = *cats.category
	}

	if len(p.Raw) > 0 && !bytes.Equal(product.Raw, p.Raw) {
		updates["raw"] = datatypes.JSON(p.Raw)
	}
	if len(updates) == 0 {
		return false, nil
	}
	updates["updated_at"] = w.now()
	if err := w.repos.Products.UpdateFields(dbc, product.ID, updates); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Writer) upsertMapping(dbc dbctx.Context, productID uuid.UUID, p *types.CanonicalProduct, now time.Time) (bool, error) {
	existing, err := w.repos.Mappings.GetByKey(dbc, productID, p.Retailer, p.ExternalID)
	if err != nil {
		return false, err
	}
	storeItemID := p.ExternalID
	if p.StoreItemID != nil && *p.StoreItemID != "" {
		storeItemID = *p.StoreItemID
	}
	row := &types.ProductStoreMapping{
		ProductID:     productID,
		Retailer:      p.Retailer,
		ExternalID:    p.ExternalID,
		StoreItemID:   storeItemID,
		StoreItemName: p.Name,
		ImageURL:      p.ImageURL,
		LocationID:    p.LocationID,
		Aisle:         p.Aisle,
		Block:         p.Block,
		Zone:          p.Zone,
		Rating:        p.Rating,
		ReviewCount:   p.ReviewCount,
		IsActive:      p.IsActive,
		LastSeenAt:    now,
		CreatedAt:     now,
	}
	if err := w.repos.Mappings.Upsert(dbc, row); err != nil {
		return false, err
	}
	return existing == nil, nil
}

// writePrice maintains the open pricing row for (product, retailer,
// location): equal price is a no-op, a different price closes the open row
// and opens a new one at the same instant.
func (w *Writer) writePrice(dbc dbctx.Context, productID uuid.UUID, p *types.CanonicalProduct, now time.Time) (inserted, closed bool, err error) {
	price := p.CostPrice.Decimal.Round(2)
	open, err := w.repos.Pricing.GetOpen(dbc, productID, p.Retailer, p.LocationID)
	if err != nil {
		return false, false, err
	}
	if open != nil {
		if open.Price.Equal(price) {
			return false, false, nil
		}
		ok, err := w.repos.Pricing.Close(dbc, open.ID, now)
		if err != nil {
			return false, false, err
		}
		if !ok {
			return false, false, errPriceRace
		}
		closed = true
	}
	row := &types.ProductPricing{
		ProductID:       productID,
		Retailer:        p.Retailer,
		LocationID:      p.LocationID,
		Price:           price,
		ListPrice:       p.ListPrice,
		PricePerUnit:    p.PricePerUnit,
		PricePerUnitUOM: p.PricePerUnitUOM,
		IsOnSale:        p.IsOnSale,
		EffectiveFrom:   now,
		CreatedAt:       now,
	}
	if err := w.repos.Pricing.Insert(dbc, row); err != nil {
		return false, closed, err
	}
	return true, closed, nil
}

func priceKey(productID uuid.UUID, retailer, locationID string) string {
	return productID.String() + "|" + retailer + "|" + locationID
}
