package sources

import (
	"fmt"
	"strings"

	"crypto-etl/internal/schema"
)

// tabularSchema is shared by the file sources. Header row:
// coin_id,name,symbol,price,market_cap,volume[,last_updated]
func tabularSchema(source string) *schema.Schema {
	return &schema.Schema{
		Source: source,
		Fields: []schema.Field{
			{Target: schema.TargetCoinID, Path: "coin_id", Kind: schema.KindString, Required: true},
			{Target: schema.TargetName, Path: "name", Kind: schema.KindString, Required: true},
			{Target: schema.TargetSymbol, Path: "symbol", Kind: schema.KindString, Required: true},
			{Target: schema.TargetPriceUSD, Path: "price", Kind: schema.KindNumber},
			{Target: schema.TargetMarketCapUSD, Path: "market_cap", Kind: schema.KindNumber},
			{Target: schema.TargetVolume24hUSD, Path: "volume", Kind: schema.KindNumber},
			{Target: schema.TargetLastUpdated, Path: "last_updated", Kind: schema.KindTime},
		},
	}
}

// rowsToPayloads turns a header row plus data rows into payloads keyed by the
// header names. Blank lines are dropped, short rows leave the tail columns out.
func rowsToPayloads(rows [][]string) ([]schema.Payload, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("missing header row")
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	if !hasColumn(header, "coin_id") {
		return nil, fmt.Errorf("header has no coin_id column: %v", rows[0])
	}

	payloads := make([]schema.Payload, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		p := make(schema.Payload, len(header))
		for i, col := range header {
			if col == "" || i >= len(row) {
				continue
			}
			p[col] = strings.TrimSpace(row[i])
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

func hasColumn(header []string, name string) bool {
	for _, h := range header {
		if h == name {
			return true
		}
	}
	return false
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
