package sources

import (
	"context"
	"fmt"
	"os"
	"time"

	"crypto-etl/internal/models"
	"crypto-etl/internal/schema"

	"github.com/xuri/excelize/v2"
)

const SpreadsheetName = "xlsx"

// Spreadsheet reads the first sheet of an .xlsx workbook laid out like the CSV source.
type Spreadsheet struct {
	path   string
	schema *schema.Schema
}

func NewSpreadsheet(path string) *Spreadsheet {
	return &Spreadsheet{path: path, schema: tabularSchema(SpreadsheetName)}
}

func (s *Spreadsheet) Name() string { return SpreadsheetName }
func (s *Spreadsheet) RateLimit() time.Duration { return 0 }
func (s *Spreadsheet) Schema() *schema.Schema { return s.schema }

func (s *Spreadsheet) Fetch(ctx context.Context, _ *models.Checkpoint) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return nil, permanent(SpreadsheetName, fmt.Errorf("stat %s: %w", s.path, err))
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, permanent(SpreadsheetName, fmt.Errorf("open %s: %w", s.path, err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, permanent(SpreadsheetName, fmt.Errorf("%s has no sheets", s.path))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, permanent(SpreadsheetName, fmt.Errorf("read sheet %s: %w", sheets[0], err))
	}

	payloads, err := rowsToPayloads(rows)
	if err != nil {
		return nil, permanent(SpreadsheetName, err)
	}
	return &Batch{Payloads: payloads, FetchedAt: info.ModTime().UTC()}, nil
}
