package casedata

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/melbdata/enrich-cli/internal/model"
)

// Table holds per-region case histories keyed by normalized region name.
// Built once from a scraped dataset, read-only afterwards.
type Table struct {
	histories map[string][]model.CaseRecord
	display   map[string]string
	keys      []string
	sorted    bool
}

// NewTable returns an empty case table.
func NewTable() *Table {
	return &Table{
		histories: make(map[string][]model.CaseRecord),
		display:   make(map[string]string),
	}
}

// Add appends one record. Within a region, dates must be strictly
// increasing and counts non-negative; violations are load errors rather
// than silent data corruption.
func (t *Table) Add(rec model.CaseRecord) error {
	if rec.Cumulative < 0 {
		return eris.Errorf("casedata: negative count for %s on %s", rec.Region, rec.Date.Format("2006-01-02"))
	}
	key := Normalize(rec.Region)
	if key == "" {
		return eris.Errorf("casedata: empty region name")
	}

	hist := t.histories[key]
	if n := len(hist); n > 0 && !rec.Date.After(hist[n-1].Date) {
		return eris.Errorf("casedata: out-of-order date for %s: %s", rec.Region, rec.Date.Format("2006-01-02"))
	}

	if _, ok := t.histories[key]; !ok {
		t.keys = append(t.keys, key)
		t.sorted = false
		t.display[key] = rec.Region
	}
	t.histories[key] = append(t.histories[key], rec)
	return nil
}

// Len reports the number of regions with data.
func (t *Table) Len() int { return len(t.histories) }

// History returns the date-ordered records for a region name (matched
// exactly after normalization), or nil.
func (t *Table) History(region string) []model.CaseRecord {
	return t.histories[Normalize(region)]
}

// Regions lists the region display names, sorted for determinism.
func (t *Table) Regions() []string {
	t.sortKeys()
	names := make([]string, len(t.keys))
	for i, k := range t.keys {
		names[i] = t.display[k]
	}
	return names
}

// match resolves a region name against the table: exact normalized match
// first, then the best fuzzy candidate at or above the threshold. Ties on
// score break by key order so the answer is stable.
func (t *Table) match(region string, threshold float64) (string, float64, bool) {
	key := Normalize(region)
	if key == "" {
		return "", 0, false
	}
	if _, ok := t.histories[key]; ok {
		return key, 1, true
	}

	t.sortKeys()
	bestKey, bestScore := "", 0.0
	for _, candidate := range t.keys {
		score := levenshteinScore(key, candidate)
		if score > bestScore {
			bestKey, bestScore = candidate, score
		}
	}
	if bestScore < threshold {
		return "", bestScore, false
	}
	return bestKey, bestScore, true
}

func (t *Table) sortKeys() {
	if !t.sorted {
		sort.Strings(t.keys)
		t.sorted = true
	}
}

// DailyCount is one day's case change for a region.
type DailyCount struct {
	Date  time.Time
	Count int
}

// DailyChanges converts a cumulative history into per-record daily changes.
// The first record contributes its cumulative value as-is; later records
// contribute the difference from the previous record, floored at zero
// (sources occasionally revise counts downward).
func DailyChanges(history []model.CaseRecord) []DailyCount {
	changes := make([]DailyCount, 0, len(history))
	for i, rec := range history {
		count := rec.Cumulative
		if i > 0 {
			count = rec.Cumulative - history[i-1].Cumulative
			if count < 0 {
				count = 0
			}
		}
		changes = append(changes, DailyCount{Date: rec.Date, Count: count})
	}
	return changes
}

// CountAsOf returns the daily case change at the most recent date at or
// before asOf. The boolean is false when no record qualifies; callers must
// not confuse that with a zero count.
func CountAsOf(history []model.CaseRecord, asOf time.Time) (int, bool) {
	changes := DailyChanges(history)
	for i := len(changes) - 1; i >= 0; i-- {
		if !changes[i].Date.After(asOf) {
			return changes[i].Count, true
		}
	}
	return 0, false
}

// TrailingAverage returns the rounded mean daily change over the most
// recent `days` records at or before asOf. ok is false when no records
// qualify.
func TrailingAverage(history []model.CaseRecord, asOf time.Time, days int) (int, bool) {
	changes := DailyChanges(history)
	end := -1
	for i := len(changes) - 1; i >= 0; i-- {
		if !changes[i].Date.After(asOf) {
			end = i
			break
		}
	}
	if end < 0 || days <= 0 {
		return 0, false
	}

	start := end - days + 1
	if start < 0 {
		start = 0
	}
	total := 0
	for _, c := range changes[start : end+1] {
		total += c.Count
	}
	n := end - start + 1
	return roundHalfUp(float64(total) / float64(n)), true
}

func roundHalfUp(v float64) int {
	if v < 0 {
		return -int(-v + 0.5)
	}
	return int(v + 0.5)
}
