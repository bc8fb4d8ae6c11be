package ingest

import (
	"io"
	"time"

	"github.com/rotisserie/eris"

	"github.com/melbdata/enrich-cli/internal/casedata"
	"github.com/melbdata/enrich-cli/internal/model"
)

type caseRow struct {
	Region     string `csv:"region"`
	Date       string `csv:"date"`
	Cumulative int    `csv:"cumulative"`
}

// ReadCaseCSV reads a pre-scraped case table: region, date (YYYY-MM-DD),
// cumulative count.
func ReadCaseCSV(r io.Reader) ([]model.CaseRecord, error) {
	rows, err := decodeCSV[caseRow](r, "cases")
	if err != nil {
		return nil, err
	}
	records := make([]model.CaseRecord, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: case date %q for %s", row.Date, row.Region)
		}
		records = append(records, model.CaseRecord{
			Region:     row.Region,
			Date:       date,
			Cumulative: row.Cumulative,
		})
	}
	return records, nil
}

// BuildCaseTable loads records into a lookup table. Records must arrive in
// date order within each region; the table rejects regressions.
func BuildCaseTable(records []model.CaseRecord) (*casedata.Table, error) {
	t := casedata.NewTable()
	for _, rec := range records {
		if err := t.Add(rec); err != nil {
			return nil, eris.Wrapf(err, "ingest: case record %s %s", rec.Region, rec.Date.Format("2006-01-02"))
		}
	}
	return t, nil
}

type suburbLGARow struct {
	Suburb string `csv:"suburb"`
	LGA    string `csv:"lga"`
}

// ReadSuburbLGAMap reads a suburb-to-LGA lookup CSV, keyed by normalized
// suburb name for the pipeline's hint table.
func ReadSuburbLGAMap(r io.Reader) (map[string]string, error) {
	rows, err := decodeCSV[suburbLGARow](r, "suburb_lga")
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Suburb == "" || row.LGA == "" {
			continue
		}
		m[casedata.Normalize(row.Suburb)] = row.LGA
	}
	return m, nil
}
