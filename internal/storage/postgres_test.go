package storage

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentchain/internal/models"
)

// fakeRow satisfies pgx.Row from a fixed value list
type fakeRow struct {
	vals []any
	err  error
}

func (f fakeRow) Scan(dest ...any) error {
	if f.err != nil {
		return f.err
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(f.vals[i]))
	}
	return nil
}

func listingRow() fakeRow {
	now := time.Now().UTC()
	return fakeRow{vals: []any{
		"listing-1",
		"Sunny loft",
		"Top floor",
		"",
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"QmTestHash",
		"500000000000000000",
		"1000000000000000000",
		uint64(12),
		(*string)(nil),
		models.StatusAvailable,
		false,
		(*time.Time)(nil),
		false,
		false,
		now,
		now,
	}}
}

func TestScanListingParsesWeiColumns(t *testing.T) {
	listing, err := scanListing(listingRow())
	require.NoError(t, err)

	wantRent, _ := new(big.Int).SetString("500000000000000000", 10)
	wantDeposit, _ := new(big.Int).SetString("1000000000000000000", 10)
	assert.Equal(t, wantRent, listing.RentAmount)
	assert.Equal(t, wantDeposit, listing.DepositAmount)
	assert.Equal(t, models.StatusAvailable, listing.Status)
}

func TestScanListingRejectsCorruptWeiColumn(t *testing.T) {
	row := listingRow()
	row.vals[7] = "not-a-number"

	_, err := scanListing(row)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rent_amount")
}

func TestScanListingKeepsNoRowsDetectable(t *testing.T) {
	// GetListing maps this to ErrNotFound via errors.Is, so the sentinel must
	// survive even when a driver layer wraps it
	row := fakeRow{err: fmt.Errorf("scan failed: %w", pgx.ErrNoRows)}

	_, err := scanListing(row)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pgx.ErrNoRows))
}
