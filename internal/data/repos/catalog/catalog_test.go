package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/andrewdyar/switchyard-sub001/internal/data/repos/testutil"
	types "github.com/andrewdyar/switchyard-sub001/internal/domain"
	"github.com/andrewdyar/switchyard-sub001/internal/pkg/pointers"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/dbctx"
)

func TestCategoryRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewCategoryRepo(db, testutil.Logger(t))

	top := &types.Category{Slug: "beverages", Name: "Beverages", Level: 1, Source: types.CategorySourceGoods}
	if err := repo.Create(dbc, top); err != nil {
		t.Fatalf("Create top: %v", err)
	}
	sub := &types.Category{Slug: "beverages/soda", Name: "Soda & pop", ParentID: &top.ID, Level: 2, Source: types.CategorySourceGoods}
	if err := repo.Create(dbc, sub); err != nil {
		t.Fatalf("Create sub: %v", err)
	}
	manual := &types.Category{Slug: "manual/beverages", Name: "Beverages", Level: 1, Source: types.CategorySourceManual}
	if err := repo.Create(dbc, manual); err != nil {
		t.Fatalf("Create manual: %v", err)
	}

	got, err := repo.FindGoodsByName(dbc, "Beverages", nil)
	if err != nil || got == nil || got.ID != top.ID {
		t.Fatalf("FindGoodsByName top: err=%v got=%v", err, got)
	}
	got, err = repo.FindGoodsByName(dbc, "Soda & pop", &top.ID)
	if err != nil || got == nil || got.ID != sub.ID {
		t.Fatalf("FindGoodsByName sub: err=%v got=%v", err, got)
	}
	got, err = repo.FindGoodsByName(dbc, "Soda & pop", nil)
	if err != nil || got != nil {
		t.Fatalf("FindGoodsByName wrong parent: err=%v got=%v", err, got)
	}
	if got, err := repo.GetBySlug(dbc, "beverages/soda"); err != nil || got == nil || got.ID != sub.ID {
		t.Fatalf("GetBySlug: err=%v got=%v", err, got)
	}
	rows, err := repo.List(dbc)
	if err != nil || len(rows) != 3 {
		t.Fatalf("List: err=%v len=%d", err, len(rows))
	}
}

func TestProductRepoBarcodeUnique(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewProductRepo(db, testutil.Logger(t))

	p := &types.Product{Name: "Cola 12oz", Barcode: pointers.String("49000050103")}
	if err := repo.Create(dbc, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	dup := &types.Product{Name: "Coca-Cola", Barcode: pointers.String("49000050103")}
	err := repo.Create(dbc, dup)
	if err == nil || !IsUniqueViolation(err) {
		t.Fatalf("duplicate barcode: want unique violation got=%v", err)
	}
	if err := repo.Create(dbc, &types.Product{Name: "Loose bananas"}); err != nil {
		t.Fatalf("Create without barcode: %v", err)
	}
	if err := repo.Create(dbc, &types.Product{Name: "Loose limes"}); err != nil {
		t.Fatalf("second product without barcode: %v", err)
	}

	got, err := repo.GetByBarcode(dbc, "49000050103")
	if err != nil || got == nil || got.ID != p.ID {
		t.Fatalf("GetByBarcode: err=%v got=%v", err, got)
	}
	if err := repo.UpdateFields(dbc, p.ID, map[string]interface{}{"brand": "Coca-Cola"}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	got, _ = repo.GetByID(dbc, p.ID)
	if got.Brand == nil || *got.Brand != "Coca-Cola" {
		t.Fatalf("brand after update: got=%v", got.Brand)
	}
	if n, err := repo.Count(dbc); err != nil || n != 3 {
		t.Fatalf("Count: err=%v n=%d", err, n)
	}
}

func TestStoreMappingRepoUpsert(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	products := NewProductRepo(db, testutil.Logger(t))
	repo := NewStoreMappingRepo(db, testutil.Logger(t))

	p := &types.Product{Name: "Cola"}
	if err := products.Create(dbc, p); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	first := time.Now().UTC().Add(-time.Hour)
	m := &types.ProductStoreMapping{
		ProductID: p.ID, Retailer: "heb", ExternalID: "123",
		StoreItemID: "123", StoreItemName: "Cola", IsActive: true, LastSeenAt: first,
	}
	if err := repo.Upsert(dbc, m); err != nil {
		t.Fatalf("Upsert insert: %v", err)
	}
	again := &types.ProductStoreMapping{
		ProductID: p.ID, Retailer: "heb", ExternalID: "123",
		StoreItemID: "123", StoreItemName: "Cola 12oz", Aisle: pointers.String("A7"), IsActive: true, LastSeenAt: time.Now().UTC(),
	}
	if err := repo.Upsert(dbc, again); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}

	rows, err := repo.ListByProductID(dbc, p.ID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListByProductID: err=%v len=%d", err, len(rows))
	}
	if rows[0].StoreItemName != "Cola 12oz" || rows[0].Aisle == nil || *rows[0].Aisle != "A7" {
		t.Fatalf("updated fields: got=%+v", rows[0])
	}
	if !rows[0].LastSeenAt.After(first) {
		t.Fatalf("last_seen_at did not advance: %v", rows[0].LastSeenAt)
	}
	got, err := repo.GetByRetailerExternalID(dbc, "heb", "123")
	if err != nil || got == nil || got.ProductID != p.ID {
		t.Fatalf("GetByRetailerExternalID: err=%v got=%v", err, got)
	}
	if got, err := repo.GetByKey(dbc, p.ID, "walmart", "123"); err != nil || got != nil {
		t.Fatalf("GetByKey other retailer: err=%v got=%v", err, got)
	}
}

func TestStoreMappingRepoDeactivateUnseen(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	products := NewProductRepo(db, testutil.Logger(t))
	repo := NewStoreMappingRepo(db, testutil.Logger(t))

	p := &types.Product{Name: "Cola"}
	if err := products.Create(dbc, p); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	now := time.Now().UTC()
	seed := []*types.ProductStoreMapping{
		{ProductID: p.ID, Retailer: "heb", LocationID: "L1", ExternalID: "stale", StoreItemID: "stale", IsActive: true, LastSeenAt: now.Add(-2 * time.Hour)},
		{ProductID: p.ID, Retailer: "heb", LocationID: "L1", ExternalID: "fresh", StoreItemID: "fresh", IsActive: true, LastSeenAt: now},
		{ProductID: p.ID, Retailer: "heb", LocationID: "L2", ExternalID: "other-store", StoreItemID: "other-store", IsActive: true, LastSeenAt: now.Add(-2 * time.Hour)},
	}
	for _, m := range seed {
		if err := repo.Upsert(dbc, m); err != nil {
			t.Fatalf("Upsert %s: %v", m.ExternalID, err)
		}
	}

	n, err := repo.DeactivateUnseen(dbc, "heb", "L1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeactivateUnseen: %v", err)
	}
	if n != 1 {
		t.Fatalf("DeactivateUnseen rows: want=1 got=%d", n)
	}
	rows, err := repo.ListByProductID(dbc, p.ID)
	if err != nil {
		t.Fatalf("ListByProductID: %v", err)
	}
	for _, r := range rows {
		want := r.ExternalID != "stale"
		if r.IsActive != want {
			t.Fatalf("%s is_active: want=%v got=%v", r.ExternalID, want, r.IsActive)
		}
	}
	if n, _ := repo.DeactivateUnseen(dbc, "", "L1", now); n != 0 {
		t.Fatalf("empty retailer: want=0 got=%d", n)
	}
}

func TestPricingRepoCloseIsConditional(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewPricingRepo(db, testutil.Logger(t))
	productID := uuid.New()

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	open := &types.ProductPricing{
		ProductID: productID, Retailer: "heb", LocationID: "92",
		Price: decimal.RequireFromString("1.99"), EffectiveFrom: start,
	}
	if err := repo.Insert(dbc, open); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := repo.GetOpen(dbc, productID, "heb", "92")
	if err != nil || got == nil || got.ID != open.ID {
		t.Fatalf("GetOpen: err=%v got=%v", err, got)
	}
	if !got.Price.Equal(decimal.RequireFromString("1.99")) {
		t.Fatalf("price: want=1.99 got=%s", got.Price)
	}

	closed, err := repo.Close(dbc, open.ID, start.Add(time.Hour))
	if err != nil || !closed {
		t.Fatalf("Close: err=%v closed=%v", err, closed)
	}
	closed, err = repo.Close(dbc, open.ID, start.Add(2*time.Hour))
	if err != nil || closed {
		t.Fatalf("second Close: want no-op err=%v closed=%v", err, closed)
	}
	if got, err := repo.GetOpen(dbc, productID, "heb", "92"); err != nil || got != nil {
		t.Fatalf("GetOpen after close: err=%v got=%v", err, got)
	}
	series, err := repo.Series(dbc, productID, "heb", "92")
	if err != nil || len(series) != 1 || series[0].EffectiveTo == nil {
		t.Fatalf("Series: err=%v rows=%v", err, series)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(nil) {
		t.Fatalf("nil")
	}
	if !IsUniqueViolation(gorm.ErrDuplicatedKey) {
		t.Fatalf("gorm.ErrDuplicatedKey")
	}
	if IsUniqueViolation(errors.New("connection refused")) {
		t.Fatalf("unrelated error")
	}
}
