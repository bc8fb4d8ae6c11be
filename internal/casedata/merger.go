package casedata

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/melbdata/enrich-cli/internal/model"
)

// ErrUnmatchedRegion is returned when a property's region cannot be
// reconciled with any region in the case tables, even fuzzily.
var ErrUnmatchedRegion = eris.New("casedata: unmatched region")

// DefaultSimilarityThreshold rejects fuzzy matches scoring below it.
const DefaultSimilarityThreshold = 0.85

// Merger attaches case counts to properties. Suburb-level data wins when
// present; LGA totals are the flagged fallback when the source only
// reports at the coarser granularity.
type Merger struct {
	suburb    *Table
	lga       *Table
	threshold float64
}

// NewMerger wires the two granularity tables. Either may be nil or empty.
func NewMerger(suburb, lga *Table, threshold float64) *Merger {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if suburb == nil {
		suburb = NewTable()
	}
	if lga == nil {
		lga = NewTable()
	}
	return &Merger{suburb: suburb, lga: lga, threshold: threshold}
}

// Attach resolves the case count for a property as of asOf. The result is
// a pure function of the inputs, so attaching twice yields the same value
// and flags. Zero is a legitimate count; "no data" is quality missing.
func (m *Merger) Attach(p model.Property, asOf time.Time) model.Derived[int] {
	if d, ok := m.lookup(m.suburb, p.Suburb, asOf, false); ok {
		return d
	}
	if d, ok := m.lookup(m.lga, p.LGA, asOf, true); ok {
		return d
	}
	return model.Missing[int]("no case data")
}

// History returns the case history backing a region name, suburb table
// first, matched the same way Attach matches. The boolean reports whether
// the LGA table served it, so callers can flag coarser-granularity results.
func (m *Merger) History(region string) ([]model.CaseRecord, bool, error) {
	if key, _, ok := m.suburb.match(region, m.threshold); ok {
		return m.suburb.histories[key], false, nil
	}
	if key, _, ok := m.lga.match(region, m.threshold); ok {
		return m.lga.histories[key], true, nil
	}
	return nil, false, eris.Wrapf(ErrUnmatchedRegion, "casedata: %q", region)
}

func (m *Merger) lookup(t *Table, region model.Derived[string], asOf time.Time, coarse bool) (model.Derived[int], bool) {
	if !region.IsSet() || t.Len() == 0 {
		return model.Derived[int]{}, false
	}

	key, score, ok := t.match(region.Value, m.threshold)
	if !ok {
		return model.Derived[int]{}, false
	}

	count, found := CountAsOf(t.histories[key], asOf)
	if !found {
		// Matched but no observation at or before the date; let the
		// coarser table try.
		return model.Derived[int]{}, false
	}

	source := "suburb cases"
	if coarse {
		// LGA totals used unsplit when suburb data is absent.
		source = "lga total"
	}
	if score < 1 {
		source = fmt.Sprintf("%s (fuzzy %q, %.2f)", source, t.display[key], score)
	}

	if coarse {
		return model.Approximate(count, source), true
	}
	return model.Exact(count, source), true
}
