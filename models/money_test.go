package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrencyTotals_AddOnNullDeserializedField(t *testing.T) {
	// A stats document stored before any sale carries null totals; the
	// first Add has to work on the resulting nil map.
	var stats CreatorSalesStats
	require.NoError(t, json.Unmarshal([]byte(`{"total_sales":null}`), &stats))
	require.Nil(t, stats.TotalSales)

	assert.NotPanics(t, func() {
		stats.TotalSales.Add(CurrencyUSD, 1000)
		stats.TotalSales.Add(CurrencyUSD, 500)
	})
	assert.Equal(t, int64(1500), stats.TotalSales.Get(CurrencyUSD))
	assert.Equal(t, int64(0), stats.TotalRefunds.Get(CurrencyBTC))
}

func TestCurrencyType_Exponent(t *testing.T) {
	assert.Equal(t, int32(2), CurrencyUSD.Exponent())
	assert.Equal(t, int32(9), CurrencyETH.Exponent())
	assert.Equal(t, int32(8), CurrencyBTC.Exponent())
}
