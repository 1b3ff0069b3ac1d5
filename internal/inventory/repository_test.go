package inventory

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d targets for %d columns", len(dest), len(r.values))
	}
	for i, target := range dest {
		switch d := target.(type) {
		case sql.Scanner:
			if err := d.Scan(r.values[i]); err != nil {
				return err
			}
		case *int64:
			*d = r.values[i].(int64)
		case *string:
			*d = r.values[i].(string)
		case *bool:
			*d = r.values[i].(bool)
		default:
			return fmt.Errorf("scan: unsupported target %T", target)
		}
	}
	return nil
}

func TestScanItemSalePrice(t *testing.T) {
	item, err := scanItem(fakeRow{values: []any{int64(10), "Flour", "raw_material", "10", "1000", true, nil}})
	require.NoError(t, err)
	require.Equal(t, ItemKindRaw, item.Kind)
	require.True(t, item.SalePrice.IsZero())
	require.Equal(t, "1000", item.TotalValue.String())

	item, err = scanItem(fakeRow{values: []any{int64(20), "Bread", "finished_good", "0", "0", false, "2.5"}})
	require.NoError(t, err)
	require.Equal(t, "2.5", item.SalePrice.String())

	_, err = scanItem(fakeRow{err: pgx.ErrNoRows})
	require.ErrorIs(t, err, ErrItemNotFound)
}
