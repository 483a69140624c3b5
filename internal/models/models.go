package models

import (
	"time"

	"gorm.io/datatypes"
)

// RawRecord is one payload exactly as a source returned it. Rows are only ever appended.
type RawRecord struct {
	ID         uint              `json:"id" gorm:"primaryKey"`
	Source     string            `json:"source" gorm:"size:50;not null;index:idx_raw_source_time,priority:1"`
	RunID      string            `json:"run_id" gorm:"size:100;index"`
	CoinID     string            `json:"coin_id" gorm:"size:100;index"`
	Payload    datatypes.JSONMap `json:"payload" gorm:"type:json"`
	IngestedAt time.Time         `json:"ingested_at" gorm:"not null;index:idx_raw_source_time,priority:2"`
}

func (RawRecord) TableName() string {
	return "raw_records"
}

// UnifiedCrypto is the normalized view of one coin as reported by one source.
// (coin_id, source) is unique; rows are updated in place on every ingestion.
type UnifiedCrypto struct {
	ID                    uint      `json:"id" gorm:"primaryKey"`
	CoinID                string    `json:"coin_id" gorm:"size:100;not null;uniqueIndex:idx_unified_coin_source,priority:1"`
	Name                  string    `json:"name" gorm:"size:255;not null"`
	Symbol                string    `json:"symbol" gorm:"size:50;not null;index"`
	PriceUSD              *float64  `json:"price_usd" gorm:"column:price_usd"`
	MarketCapUSD          *float64  `json:"market_cap_usd" gorm:"column:market_cap_usd"`
	Volume24hUSD          *float64  `json:"volume_24h_usd" gorm:"column:volume_24h_usd"`
	PriceChange24hPercent *float64  `json:"price_change_24h_percent" gorm:"column:price_change_24h_percent"`
	Rank                  *int      `json:"rank"`
	Source                string    `json:"source" gorm:"size:50;not null;uniqueIndex:idx_unified_coin_source,priority:2;index"`
	SourceUpdatedAt       time.Time `json:"source_updated_at"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at" gorm:"index"`
}

func (UnifiedCrypto) TableName() string {
	return "unified_crypto"
}

// UnifiedMutableColumns are overwritten when an existing (coin_id, source) row is upserted.
var UnifiedMutableColumns = []string{
	"name",
	"symbol",
	"price_usd",
	"market_cap_usd",
	"volume_24h_usd",
	"price_change_24h_percent",
	"rank",
	"source_updated_at",
	"updated_at",
}
