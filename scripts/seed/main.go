package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Demo data for a bakery: one kitchen warehouse, a delivery van and a cafe
// that holds consigned stock.
func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Seeding locations...")
	if err := seedLocations(ctx, pool); err != nil {
		log.Fatalf("seed locations: %v", err)
	}
	fmt.Println("→ Seeding items...")
	if err := seedItems(ctx, pool); err != nil {
		log.Fatalf("seed items: %v", err)
	}
	fmt.Println("→ Seeding recipes...")
	if err := seedRecipes(ctx, pool); err != nil {
		log.Fatalf("seed recipes: %v", err)
	}
	fmt.Println("→ Posting opening purchases...")
	if err := seedOpeningStock(ctx, pool); err != nil {
		log.Fatalf("seed opening stock: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedLocations(ctx context.Context, pool *pgxpool.Pool) error {
	locations := []inventory.Location{
		{ID: 1, Name: "Kitchen", Kind: inventory.LocationWarehouse},
		{ID: 2, Name: "Delivery Van", Kind: inventory.LocationTransit},
		{ID: 3, Name: "Corner Cafe", Kind: inventory.LocationClient},
	}
	for _, loc := range locations {
		if _, err := pool.Exec(ctx, `INSERT INTO locations (id, name, kind) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			loc.ID, loc.Name, string(loc.Kind)); err != nil {
			return err
		}
	}
	_, err := pool.Exec(ctx, `SELECT setval('locations_id_seq', (SELECT MAX(id) FROM locations))`)
	return err
}

func seedItems(ctx context.Context, pool *pgxpool.Pool) error {
	items := []struct {
		id       int64
		name     string
		kind     inventory.ItemKind
		weighted bool
		price    string
	}{
		{10, "Flour (kg)", inventory.ItemKindRaw, true, ""},
		{11, "Yeast (g)", inventory.ItemKindRaw, true, ""},
		{12, "Butter (kg)", inventory.ItemKindRaw, true, ""},
		{20, "Sourdough Loaf", inventory.ItemKindFinished, false, "6.50"},
		{21, "Croissant", inventory.ItemKindFinished, false, "2.80"},
		{22, "Laminated Dough (kg)", inventory.ItemKindFinished, true, ""},
	}
	for _, it := range items {
		var price any
		if it.price != "" {
			price = decimal.RequireFromString(it.price)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO items (id, name, kind, is_weighted, sale_price) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
			it.id, it.name, string(it.kind), it.weighted, price); err != nil {
			return err
		}
	}
	_, err := pool.Exec(ctx, `SELECT setval('items_id_seq', (SELECT MAX(id) FROM items))`)
	return err
}

func seedRecipes(ctx context.Context, pool *pgxpool.Pool) error {
	rows := []struct {
		finished, ingredient int64
		qty                  string
		returnsToRaw         bool
		minutes              *int32
	}{
		{20, 10, "0.5", false, minutes(240)},
		{20, 11, "5", false, minutes(240)},
		{21, 10, "0.08", false, minutes(90)},
		{21, 12, "0.04", false, minutes(90)},
		{22, 10, "1", true, nil},
		{22, 12, "0.5", true, nil},
	}
	for _, r := range rows {
		if _, err := pool.Exec(ctx, `INSERT INTO recipes (finished_good_id, ingredient_id, quantity, returns_to_raw, production_time_minutes)
VALUES ($1, $2, $3, $4, $5) ON CONFLICT (finished_good_id, ingredient_id) DO NOTHING`,
			r.finished, r.ingredient, decimal.RequireFromString(r.qty), r.returnsToRaw, r.minutes); err != nil {
			return err
		}
	}
	return nil
}

// seedOpeningStock posts purchases through the inventory service so the cost
// pools and balances stay consistent with the ledger. Items that already have
// moves are left alone.
func seedOpeningStock(ctx context.Context, pool *pgxpool.Pool) error {
	repo := inventory.NewRepository(pool)
	svc := inventory.NewService(repo, nil, nil, nil)
	purchases := []struct {
		item       int64
		qty, price string
	}{
		{10, "250", "0.90"},
		{11, "2000", "0.02"},
		{12, "40", "7.50"},
	}
	for _, p := range purchases {
		moves, err := repo.ListMoves(ctx, inventory.MoveFilter{ItemID: p.item, Limit: 1})
		if err != nil {
			return err
		}
		if len(moves) > 0 {
			continue
		}
		if _, err := svc.PostPurchase(ctx, inventory.PurchaseInput{
			ItemID:     p.item,
			LocationID: 1,
			Qty:        decimal.RequireFromString(p.qty),
			UnitPrice:  decimal.RequireFromString(p.price),
			Reference:  fmt.Sprintf("opening-%d", p.item),
		}); err != nil {
			return err
		}
	}
	return nil
}

func minutes(n int32) *int32 {
	return &n
}
