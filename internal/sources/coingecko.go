package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"crypto-etl/internal/config"
	"crypto-etl/internal/models"
	"crypto-etl/internal/schema"

	"github.com/go-resty/resty/v2"
)

const CoinGeckoName = "coingecko"

var coinGeckoSchema = &schema.Schema{
	Source: CoinGeckoName,
	Fields: []schema.Field{
		{Target: schema.TargetCoinID, Path: "id", Kind: schema.KindString, Required: true},
		{Target: schema.TargetName, Path: "name", Kind: schema.KindString, Required: true},
		{Target: schema.TargetSymbol, Path: "symbol", Kind: schema.KindString, Required: true},
		{Target: schema.TargetPriceUSD, Path: "current_price", Kind: schema.KindNumber},
		{Target: schema.TargetMarketCapUSD, Path: "market_cap", Kind: schema.KindNumber},
		{Target: schema.TargetVolume24hUSD, Path: "total_volume", Kind: schema.KindNumber},
		{Target: schema.TargetPercentChange, Path: "price_change_percentage_24h", Kind: schema.KindNumber},
		{Target: schema.TargetRank, Path: "market_cap_rank", Kind: schema.KindInt},
		{Target: schema.TargetLastUpdated, Path: "last_updated", Kind: schema.KindTime},
	},
}

// CoinGecko reads one page of /coins/markets ordered by market cap.
type CoinGecko struct {
	client    *resty.Client
	pace      *pacer
	rateLimit time.Duration
	perPage   int
}

func NewCoinGecko(cfg config.APISourceConfig, timeout time.Duration) *CoinGecko {
	client := newClient(cfg.BaseURL, timeout)
	if cfg.APIKey != "" {
		client.SetHeader("x-cg-demo-api-key", cfg.APIKey)
	}
	return &CoinGecko{
		client:    client,
		pace:      newPacer(cfg.RateLimit),
		rateLimit: cfg.RateLimit,
		perPage:   cfg.CoinLimit,
	}
}

func (c *CoinGecko) Name() string { return CoinGeckoName }
func (c *CoinGecko) RateLimit() time.Duration { return c.rateLimit }
func (c *CoinGecko) Schema() *schema.Schema { return coinGeckoSchema }

func (c *CoinGecko) Fetch(ctx context.Context, _ *models.Checkpoint) (*Batch, error) {
	if err := c.pace.Wait(ctx); err != nil {
		return nil, err
	}
	fetchedAt := time.Now().UTC()

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"vs_currency":             "usd",
			"order":                   "market_cap_desc",
			"per_page":                strconv.Itoa(c.perPage),
			"page":                    "1",
			"sparkline":               "false",
			"price_change_percentage": "24h",
		}).
		Get("/coins/markets")
	if err := checkResponse(ctx, CoinGeckoName, resp, err); err != nil {
		return nil, err
	}

	var payloads []schema.Payload
	if err := json.Unmarshal(resp.Body(), &payloads); err != nil {
		return nil, permanent(CoinGeckoName, fmt.Errorf("malformed markets response: %w", err))
	}
	return &Batch{Payloads: payloads, FetchedAt: fetchedAt}, nil
}
