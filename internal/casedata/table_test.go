package casedata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melbdata/enrich-cli/internal/model"
)

func day(d int) time.Time {
	return time.Date(2021, time.September, d, 0, 0, 0, 0, time.UTC)
}

func record(region string, d, cumulative int) model.CaseRecord {
	return model.CaseRecord{Region: region, Date: day(d), Cumulative: cumulative}
}

func buildTable(t *testing.T, recs ...model.CaseRecord) *Table {
	t.Helper()
	table := NewTable()
	for _, r := range recs {
		require.NoError(t, table.Add(r))
	}
	return table
}

func TestTableAdd_Validation(t *testing.T) {
	table := NewTable()

	require.NoError(t, table.Add(record("Yarra", 1, 10)))

	err := table.Add(record("Yarra", 1, 12))
	assert.Error(t, err, "duplicate date rejected")

	err = table.Add(record("Yarra", 2, -1))
	assert.Error(t, err, "negative count rejected")

	err = table.Add(model.CaseRecord{Region: "   ", Date: day(3)})
	assert.Error(t, err, "blank region rejected")

	// Gaps are fine.
	require.NoError(t, table.Add(record("Yarra", 5, 14)))
	assert.Len(t, table.History("yarra"), 2)
}

func TestDailyChanges(t *testing.T) {
	hist := []model.CaseRecord{
		record("Yarra", 1, 100),
		record("Yarra", 2, 104),
		record("Yarra", 4, 104), // gap and a flat day
		record("Yarra", 5, 102), // downward revision floors at zero
	}

	changes := DailyChanges(hist)
	require.Len(t, changes, 4)
	assert.Equal(t, 100, changes[0].Count)
	assert.Equal(t, 4, changes[1].Count)
	assert.Equal(t, 0, changes[2].Count)
	assert.Equal(t, 0, changes[3].Count)
}

func TestCountAsOf(t *testing.T) {
	hist := []model.CaseRecord{
		record("Yarra", 1, 100),
		record("Yarra", 2, 104),
		record("Yarra", 5, 110),
	}

	count, ok := CountAsOf(hist, day(2))
	require.True(t, ok)
	assert.Equal(t, 4, count)

	// asOf inside a gap picks the most recent earlier record.
	count, ok = CountAsOf(hist, day(4))
	require.True(t, ok)
	assert.Equal(t, 4, count)

	count, ok = CountAsOf(hist, day(30))
	require.True(t, ok)
	assert.Equal(t, 6, count)

	_, ok = CountAsOf(hist, day(1).AddDate(0, 0, -5))
	assert.False(t, ok, "no record at or before the date")
}

func TestTrailingAverage(t *testing.T) {
	hist := []model.CaseRecord{
		record("Yarra", 1, 10),
		record("Yarra", 2, 20),
		record("Yarra", 3, 26),
		record("Yarra", 4, 37),
	}

	// Last 3 records before day 4: changes 10, 6, 11 -> mean 9.
	avg, ok := TrailingAverage(hist, day(4), 3)
	require.True(t, ok)
	assert.Equal(t, 9, avg)

	// Window larger than history uses what exists: (10+10+6+11)/4 = 9.25.
	avg, ok = TrailingAverage(hist, day(4), 60)
	require.True(t, ok)
	assert.Equal(t, 9, avg)

	_, ok = TrailingAverage(hist, day(1).AddDate(0, 0, -1), 14)
	assert.False(t, ok)
}

func TestTableMatch(t *testing.T) {
	table := buildTable(t,
		record("Strathbogie", 1, 5),
		record("Greater Geelong", 1, 8),
	)

	key, score, ok := table.match("STRATHBOGIE", 0.85)
	require.True(t, ok)
	assert.Equal(t, "strathbogie", key)
	assert.Equal(t, 1.0, score)

	// Scraped-name drift recovers through the fuzzy tier.
	key, score, ok = table.match("TRATHBOGIE", 0.85)
	require.True(t, ok)
	assert.Equal(t, "strathbogie", key)
	assert.Less(t, score, 1.0)

	_, _, ok = table.match("Ballarat", 0.85)
	assert.False(t, ok)
}

func TestTableRegions_Sorted(t *testing.T) {
	table := buildTable(t,
		record("Yarra", 1, 1),
		record("Banyule", 1, 1),
		record("Moreland", 1, 1),
	)
	assert.Equal(t, []string{"Banyule", "Moreland", "Yarra"}, table.Regions())
}
