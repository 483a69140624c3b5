package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = &Schema{
	Source: "test",
	Fields: []Field{
		{Target: TargetCoinID, Path: "id", Kind: KindString, Required: true},
		{Target: TargetName, Path: "name", Kind: KindString, Required: true},
		{Target: TargetSymbol, Path: "symbol", Kind: KindString, Required: true},
		{Target: TargetPriceUSD, Path: "quotes.USD.price", Kind: KindNumber},
		{Target: TargetMarketCapUSD, Path: "quotes.USD.market_cap", Kind: KindNumber},
		{Target: TargetRank, Path: "rank", Kind: KindInt},
		{Target: TargetLastUpdated, Path: "last_updated", Kind: KindTime},
	},
}

func TestValidateCoercesNestedFields(t *testing.T) {
	rec, err := testSchema.Validate(Payload{
		"id":     "btc-bitcoin",
		"name":   "Bitcoin",
		"symbol": "btc",
		"rank":   float64(1),
		"quotes": map[string]any{
			"USD": map[string]any{
				"price":      "43250.50",
				"market_cap": float64(846000000000),
			},
		},
		"last_updated": "2024-01-15T10:30:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, "btc-bitcoin", rec.CoinID)
	require.NotNil(t, rec.PriceUSD)
	assert.Equal(t, 43250.50, *rec.PriceUSD)
	require.NotNil(t, rec.MarketCapUSD)
	assert.Equal(t, 846e9, *rec.MarketCapUSD)
	require.NotNil(t, rec.Rank)
	assert.Equal(t, 1, *rec.Rank)
	require.NotNil(t, rec.LastUpdated)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), *rec.LastUpdated)
	assert.Empty(t, rec.Anomalies)
}

func TestValidateAccumulatesRequiredErrors(t *testing.T) {
	rec, err := testSchema.Validate(Payload{"symbol": "ETH"})
	require.Error(t, err)
	assert.Nil(t, rec)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 2)
	assert.Equal(t, "id", verrs[0].Field)
	assert.Equal(t, "name", verrs[1].Field)
}

func TestValidateInvalidOptionalBecomesNull(t *testing.T) {
	rec, err := testSchema.Validate(Payload{
		"id":     "eth",
		"name":   "Ethereum",
		"symbol": "eth",
		"quotes": map[string]any{"USD": map[string]any{"price": "n/a"}},
		"rank":   1.5,
	})
	require.NoError(t, err)

	assert.Nil(t, rec.PriceUSD)
	assert.Nil(t, rec.Rank)
	assert.Nil(t, rec.MarketCapUSD)
	require.Len(t, rec.Anomalies, 2)
	assert.Equal(t, "quotes.USD.price", rec.Anomalies[0].Field)
	assert.Equal(t, "rank", rec.Anomalies[1].Field)
}

func TestValidateRequiredWrongType(t *testing.T) {
	_, err := testSchema.Validate(Payload{
		"id":     []any{"x"},
		"name":   "X",
		"symbol": "X",
	})
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, "id", verrs[0].Field)
}

func TestMarkerFallsBack(t *testing.T) {
	fetched := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	rec := &Record{}
	assert.Equal(t, fetched, rec.Marker(fetched))

	updated := fetched.Add(-time.Hour)
	rec.LastUpdated = &updated
	assert.Equal(t, updated, rec.Marker(fetched))
}

func TestToUnifiedUppercasesSymbol(t *testing.T) {
	price := 0.58
	rec := &Record{CoinID: "cardano", Name: "Cardano", Symbol: "ada", PriceUSD: &price}
	marker := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	u := rec.ToUnified("csv", marker)
	assert.Equal(t, "ADA", u.Symbol)
	assert.Equal(t, "csv", u.Source)
	assert.Equal(t, marker, u.SourceUpdatedAt)
	assert.Equal(t, &price, u.PriceUSD)
}

func TestLookup(t *testing.T) {
	p := Payload{"a": map[string]any{"b": map[string]any{"c": 1.0}}, "s": "x"}

	v, ok := Lookup(p, "a.b.c")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = Lookup(p, "a.x.c")
	assert.False(t, ok)
	_, ok = Lookup(p, "s.t")
	assert.False(t, ok)
}
