// Package drift compares the observed shape of a source against the last shape seen for it.
package drift

import (
	"sort"
	"time"

	"crypto-etl/internal/models"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Detector owns the per-source baselines. The caller loads them before a pass and
// persists Baselines afterwards; the detector keeps no other state.
type Detector struct {
	Baselines map[string]Shape

	now func() time.Time
}

func NewDetector(baselines map[string]Shape) *Detector {
	if baselines == nil {
		baselines = map[string]Shape{}
	}
	return &Detector{Baselines: baselines, now: time.Now}
}

// Check diffs observed against the baseline for source and moves the baseline to
// observed. It returns nil when nothing changed or when source had no baseline yet.
// required lists field paths whose disappearance makes the event high severity.
func (d *Detector) Check(source string, observed Shape, required []string) *models.SchemaDrift {
	baseline, seen := d.Baselines[source]
	if !seen {
		d.Baselines[source] = observed.clone()
		return nil
	}

	var added, missing, changed []string
	for path, kind := range observed {
		prev, ok := baseline[path]
		if !ok {
			added = append(added, path)
			continue
		}
		if kind != KindNull && prev != KindNull && kind != prev {
			changed = append(changed, path)
		}
	}
	for path := range baseline {
		if _, ok := observed[path]; !ok {
			missing = append(missing, path)
		}
	}

	next := observed.clone()
	for path, kind := range next {
		// keep the last typed kind for fields that only came back null
		if prev, ok := baseline[path]; kind == KindNull && ok && prev != KindNull {
			next[path] = prev
		}
	}
	d.Baselines[source] = next

	if len(added) == 0 && len(missing) == 0 && len(changed) == 0 {
		return nil
	}

	sort.Strings(added)
	sort.Strings(missing)
	sort.Strings(changed)

	return &models.SchemaDrift{
		SourceName:        source,
		AddedFields:       added,
		MissingFields:     missing,
		TypeChangedFields: changed,
		ConfidenceScore:   confidence(missing, changed),
		Severity:          severity(missing, changed, required),
		DetectedAt:        d.now().UTC(),
	}
}

func confidence(missing, changed []string) float64 {
	switch {
	case len(missing) > 0:
		return 1.0
	case len(changed) > 0:
		return 0.9
	default:
		return 0.8
	}
}

func severity(missing, changed, required []string) string {
	req := make(map[string]bool, len(required))
	for _, r := range required {
		req[r] = true
	}
	for _, m := range missing {
		if req[m] {
			return SeverityHigh
		}
	}
	if len(missing) > 0 || len(changed) > 0 {
		return SeverityMedium
	}
	return SeverityLow
}
