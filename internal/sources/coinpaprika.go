package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crypto-etl/internal/config"
	"crypto-etl/internal/models"
	"crypto-etl/internal/schema"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const CoinPaprikaName = "coinpaprika"

var coinPaprikaSchema = &schema.Schema{
	Source: CoinPaprikaName,
	Fields: []schema.Field{
		{Target: schema.TargetCoinID, Path: "id", Kind: schema.KindString, Required: true},
		{Target: schema.TargetName, Path: "name", Kind: schema.KindString, Required: true},
		{Target: schema.TargetSymbol, Path: "symbol", Kind: schema.KindString, Required: true},
		{Target: schema.TargetPriceUSD, Path: "quotes.USD.price", Kind: schema.KindNumber},
		{Target: schema.TargetMarketCapUSD, Path: "quotes.USD.market_cap", Kind: schema.KindNumber},
		{Target: schema.TargetVolume24hUSD, Path: "quotes.USD.volume_24h", Kind: schema.KindNumber},
		{Target: schema.TargetPercentChange, Path: "quotes.USD.percent_change_24h", Kind: schema.KindNumber},
		{Target: schema.TargetRank, Path: "rank", Kind: schema.KindInt},
		{Target: schema.TargetLastUpdated, Path: "last_updated", Kind: schema.KindTime},
	},
}

// CoinPaprika lists the active coins and then fetches one ticker per coin.
type CoinPaprika struct {
	client    *resty.Client
	pace      *pacer
	rateLimit time.Duration
	coinLimit int
	logger    *zap.Logger
}

type paprikaCoin struct {
	ID       string `json:"id"`
	IsActive *bool  `json:"is_active"`
}

// active treats a coin without an is_active flag as active.
func (c paprikaCoin) active() bool {
	return c.IsActive == nil || *c.IsActive
}

func NewCoinPaprika(cfg config.APISourceConfig, timeout time.Duration, logger *zap.Logger) *CoinPaprika {
	client := newClient(cfg.BaseURL, timeout)
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", cfg.APIKey)
	}
	return &CoinPaprika{
		client:    client,
		pace:      newPacer(cfg.RateLimit),
		rateLimit: cfg.RateLimit,
		coinLimit: cfg.CoinLimit,
		logger:    logger.With(zap.String("source", CoinPaprikaName)),
	}
}

func (c *CoinPaprika) Name() string { return CoinPaprikaName }
func (c *CoinPaprika) RateLimit() time.Duration { return c.rateLimit }
func (c *CoinPaprika) Schema() *schema.Schema { return coinPaprikaSchema }

func (c *CoinPaprika) Fetch(ctx context.Context, _ *models.Checkpoint) (*Batch, error) {
	fetchedAt := time.Now().UTC()

	ids, err := c.activeCoins(ctx)
	if err != nil {
		return nil, err
	}

	payloads := make([]schema.Payload, 0, len(ids))
	var lastErr error
	for _, id := range ids {
		p, err := c.ticker(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("ticker fetch failed, skipping coin", zap.String("coin_id", id), zap.Error(err))
			lastErr = err
			continue
		}
		payloads = append(payloads, p)
	}

	// Nothing came back at all: surface the failure so it can be retried.
	if len(payloads) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return &Batch{Payloads: payloads, FetchedAt: fetchedAt}, nil
}

func (c *CoinPaprika) activeCoins(ctx context.Context) ([]string, error) {
	if err := c.pace.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.client.R().SetContext(ctx).Get("/coins")
	if err := checkResponse(ctx, CoinPaprikaName, resp, err); err != nil {
		return nil, err
	}

	var coins []paprikaCoin
	if err := json.Unmarshal(resp.Body(), &coins); err != nil {
		return nil, permanent(CoinPaprikaName, fmt.Errorf("malformed coin list: %w", err))
	}

	ids := make([]string, 0, c.coinLimit)
	for _, coin := range coins {
		if !coin.active() || coin.ID == "" {
			continue
		}
		ids = append(ids, coin.ID)
		if len(ids) >= c.coinLimit {
			break
		}
	}
	return ids, nil
}

func (c *CoinPaprika) ticker(ctx context.Context, id string) (schema.Payload, error) {
	if err := c.pace.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get("/tickers/{id}")
	if err := checkResponse(ctx, CoinPaprikaName, resp, err); err != nil {
		return nil, err
	}

	var p schema.Payload
	if err := json.Unmarshal(resp.Body(), &p); err != nil {
		return nil, permanent(CoinPaprikaName, fmt.Errorf("malformed ticker %s: %w", id, err))
	}
	return p, nil
}
