package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crypto-etl/internal/models"
	"crypto-etl/internal/schema"

	"go.uber.org/zap"
)

const CSVName = "csv"

// sampleRows seed a missing CSV file so a fresh install has something to ingest.
var sampleRows = [][]string{
	{"coin_id", "name", "symbol", "price", "market_cap", "volume"},
	{"bitcoin", "Bitcoin", "BTC", "43250.50", "846000000000", "28000000000"},
	{"ethereum", "Ethereum", "ETH", "2280.75", "274000000000", "15000000000"},
	{"binancecoin", "BNB", "BNB", "312.40", "48000000000", "1200000000"},
	{"cardano", "Cardano", "ADA", "0.58", "20500000000", "450000000"},
	{"solana", "Solana", "SOL", "98.25", "42000000000", "2100000000"},
}

// CSV reads a local CSV export. It has no rate limit.
type CSV struct {
	path         string
	createSample bool
	schema       *schema.Schema
	logger       *zap.Logger
}

func NewCSV(path string, createSample bool, logger *zap.Logger) *CSV {
	return &CSV{
		path:         path,
		createSample: createSample,
		schema:       tabularSchema(CSVName),
		logger:       logger.With(zap.String("source", CSVName)),
	}
}

func (c *CSV) Name() string { return CSVName }
func (c *CSV) RateLimit() time.Duration { return 0 }
func (c *CSV) Schema() *schema.Schema { return c.schema }

func (c *CSV) Fetch(ctx context.Context, _ *models.Checkpoint) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(c.path)
	if errors.Is(err, os.ErrNotExist) && c.createSample {
		if err := writeSample(c.path); err != nil {
			return nil, permanent(CSVName, err)
		}
		c.logger.Info("created sample csv", zap.String("path", c.path))
		info, err = os.Stat(c.path)
	}
	if err != nil {
		return nil, permanent(CSVName, fmt.Errorf("stat %s: %w", c.path, err))
	}

	f, err := os.Open(c.path)
	if err != nil {
		return nil, transient(CSVName, fmt.Errorf("open %s: %w", c.path, err))
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, permanent(CSVName, fmt.Errorf("parse %s: %w", c.path, err))
	}

	payloads, err := rowsToPayloads(rows)
	if err != nil {
		return nil, permanent(CSVName, err)
	}
	return &Batch{Payloads: payloads, FetchedAt: info.ModTime().UTC()}, nil
}

func writeSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create sample dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create sample csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(sampleRows); err != nil {
		return fmt.Errorf("write sample csv: %w", err)
	}
	return nil
}
