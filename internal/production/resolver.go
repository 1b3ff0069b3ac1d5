package production

import (
	"context"
	"sort"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

// RecipeSource reads recipes and catalog items.
type RecipeSource interface {
	ListRecipeRows(ctx context.Context, finishedGoodID int64) ([]RecipeRow, error)
	GetItem(ctx context.Context, itemID int64) (inventory.Item, error)
}

// Resolver turns stored recipe rows into a costed bill of materials. Ingredient
// costs are read on every call.
type Resolver struct {
	source RecipeSource
}

// NewResolver constructs Resolver.
func NewResolver(source RecipeSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the recipe of finishedGoodID or ErrNoRecipe.
func (r *Resolver) Resolve(ctx context.Context, finishedGoodID int64) (Recipe, error) {
	rows, err := r.source.ListRecipeRows(ctx, finishedGoodID)
	if err != nil {
		return Recipe{}, err
	}
	if len(rows) == 0 {
		return Recipe{}, ErrNoRecipe
	}
	output, err := r.source.GetItem(ctx, finishedGoodID)
	if err != nil {
		return Recipe{}, err
	}
	recipe, err := recipeHeader(rows)
	if err != nil {
		return Recipe{}, err
	}
	recipe.FinishedGoodID = finishedGoodID
	recipe.OutputName = output.Name
	recipe.OutputWeighted = output.IsWeighted
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].IngredientID < rows[j].IngredientID })
	for _, row := range rows {
		ingredient, err := r.source.GetItem(ctx, row.IngredientID)
		if err != nil {
			return Recipe{}, err
		}
		recipe.Lines = append(recipe.Lines, RecipeLine{
			IngredientID:    ingredient.ID,
			Name:            ingredient.Name,
			IsWeighted:      ingredient.IsWeighted,
			UnitCost:        ingredient.UnitCost,
			QuantityPerUnit: row.Quantity,
		})
	}
	return recipe, nil
}

// recipeHeader extracts the per-product flags every row repeats.
func recipeHeader(rows []RecipeRow) (Recipe, error) {
	recipe := Recipe{ReturnsToRaw: rows[0].ReturnsToRaw}
	for _, row := range rows {
		if row.ReturnsToRaw != recipe.ReturnsToRaw {
			return Recipe{}, ErrInconsistentRecipe
		}
		if row.ProductionTimeMinutes != nil && recipe.TimingMinutes == nil {
			minutes := *row.ProductionTimeMinutes
			recipe.TimingMinutes = &minutes
		}
	}
	return recipe, nil
}
