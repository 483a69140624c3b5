package schema

import (
	"strings"
	"time"

	"crypto-etl/internal/models"
)

// ToUnified maps a validated record to the unified row for source. marker becomes
// SourceUpdatedAt so the row always carries the position it was written at.
func (r *Record) ToUnified(source string, marker time.Time) models.UnifiedCrypto {
	return models.UnifiedCrypto{
		CoinID:                r.CoinID,
		Name:                  r.Name,
		Symbol:                strings.ToUpper(r.Symbol),
		PriceUSD:              r.PriceUSD,
		MarketCapUSD:          r.MarketCapUSD,
		Volume24hUSD:          r.Volume24hUSD,
		PriceChange24hPercent: r.PercentChange24h,
		Rank:                  r.Rank,
		Source:                source,
		SourceUpdatedAt:       marker,
	}
}
