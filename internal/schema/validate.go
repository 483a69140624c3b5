package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FieldError describes one field that failed validation or coercion.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationErrors is every FieldError found in a single payload.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Record is a payload that passed validation, with optional fields coerced.
type Record struct {
	CoinID           string
	Name             string
	Symbol           string
	PriceUSD         *float64
	MarketCapUSD     *float64
	Volume24hUSD     *float64
	PercentChange24h *float64
	Rank             *int
	LastUpdated      *time.Time

	// Anomalies are optional fields that were present but could not be coerced.
	Anomalies []FieldError
	Payload   Payload
}

// Validate coerces p against the schema. It checks every field before returning,
// so a nil record always comes with the full list of FieldErrors.
func (s *Schema) Validate(p Payload) (*Record, error) {
	rec := &Record{Payload: p}
	var errs ValidationErrors

	for _, f := range s.Fields {
		raw, ok := Lookup(p, f.Path)
		if !ok || raw == nil || raw == "" {
			if f.Required {
				errs = append(errs, FieldError{Field: f.Path, Reason: "required field missing"})
			}
			continue
		}

		if err := rec.assign(f, raw); err != nil {
			fe := FieldError{Field: f.Path, Reason: err.Error()}
			if f.Required {
				errs = append(errs, fe)
			} else {
				rec.Anomalies = append(rec.Anomalies, fe)
			}
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return rec, nil
}

func (r *Record) assign(f Field, raw any) error {
	switch f.Kind {
	case KindString:
		s, err := toString(raw)
		if err != nil {
			return err
		}
		r.setString(f.Target, s)
	case KindNumber:
		n, err := toFloat(raw)
		if err != nil {
			return err
		}
		r.setNumber(f.Target, n)
	case KindInt:
		n, err := toInt(raw)
		if err != nil {
			return err
		}
		if f.Target == TargetRank {
			r.Rank = &n
		}
	case KindTime:
		t, err := toTime(raw)
		if err != nil {
			return err
		}
		if f.Target == TargetLastUpdated {
			r.LastUpdated = &t
		}
	default:
		return fmt.Errorf("unsupported kind %q", f.Kind)
	}
	return nil
}

func (r *Record) setString(target, s string) {
	switch target {
	case TargetCoinID:
		r.CoinID = s
	case TargetName:
		r.Name = s
	case TargetSymbol:
		r.Symbol = s
	}
}

func (r *Record) setNumber(target string, n float64) {
	switch target {
	case TargetPriceUSD:
		r.PriceUSD = &n
	case TargetMarketCapUSD:
		r.MarketCapUSD = &n
	case TargetVolume24hUSD:
		r.Volume24hUSD = &n
	case TargetPercentChange:
		r.PercentChange24h = &n
	}
}

// Marker is the position of the record in its source's stream: last_updated when
// the source provides it, fallback otherwise.
func (r *Record) Marker(fallback time.Time) time.Time {
	if r.LastUpdated != nil {
		return *r.LastUpdated
	}
	return fallback
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", fmt.Errorf("empty string")
		}
		return s, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	case int, int64:
		return fmt.Sprint(t), nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("not numeric: %q", t)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("expected number, got %T", v)
	}
}

func toFloat(v any) (float64, error) {
	d, err := toDecimal(v)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

func toInt(v any) (int, error) {
	d, err := toDecimal(v)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("expected integer, got %s", d.String())
	}
	return int(d.IntPart()), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", t)
	default:
		d, err := toDecimal(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("expected timestamp, got %T", v)
		}
		return time.Unix(d.IntPart(), 0).UTC(), nil
	}
}
