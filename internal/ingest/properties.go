package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/melbdata/enrich-cli/internal/model"
)

// ReadPropertiesJSON reads a JSON array of property rows.
func ReadPropertiesJSON(ctx context.Context, r io.Reader) ([]model.PropertyRow, error) {
	rowCh, errCh := DecodeJSONArray[model.PropertyRow](ctx, r)

	var rows []model.PropertyRow
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "ingest: properties json")
	}
	return rows, nil
}

// ReadPropertiesXML reads <property> elements from an XML document.
func ReadPropertiesXML(ctx context.Context, r io.Reader) ([]model.PropertyRow, error) {
	rowCh, errCh := StreamXML[model.PropertyRow](ctx, r, "property")

	var rows []model.PropertyRow
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "ingest: properties xml")
	}
	return rows, nil
}

// ReadPropertiesCSV reads a headed CSV of property rows.
func ReadPropertiesCSV(r io.Reader) ([]model.PropertyRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "ingest: properties csv header")
	}

	var rows []model.PropertyRow
	for {
		var row model.PropertyRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrap(err, "ingest: properties csv row")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadPropertiesXLSX reads property rows from the first sheet of a
// workbook. The first row must be a header naming the same columns the CSV
// form uses. Rows with unparseable coordinates are skipped and counted.
func ReadPropertiesXLSX(path string) ([]model.PropertyRow, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("ingest: %s has no sheets", path)
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	col := map[string]int{}
	for i, cell := range sheet.Rows[0].Cells {
		col[strings.ToLower(strings.TrimSpace(cell.String()))] = i
	}
	for _, required := range []string{"property_id", "lat", "lng"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("ingest: xlsx missing %q column", required)
		}
	}

	cellAt := func(row *xlsx.Row, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row.Cells) {
			return ""
		}
		return strings.TrimSpace(row.Cells[i].String())
	}

	var rows []model.PropertyRow
	skipped := 0
	for _, row := range sheet.Rows[1:] {
		id := cellAt(row, "property_id")
		if id == "" {
			continue
		}
		lat, latErr := strconv.ParseFloat(cellAt(row, "lat"), 64)
		lng, lngErr := strconv.ParseFloat(cellAt(row, "lng"), 64)
		if latErr != nil || lngErr != nil {
			skipped++
			continue
		}
		rows = append(rows, model.PropertyRow{
			ID:        id,
			Latitude:  lat,
			Longitude: lng,
			Street:    cellAt(row, "addr_street"),
			Suburb:    cellAt(row, "suburb"),
			LGA:       cellAt(row, "lga"),
		})
	}
	if skipped > 0 {
		zap.L().Debug("ingest: skipped xlsx rows with bad coordinates",
			zap.String("path", path), zap.Int("skipped", skipped))
	}
	return rows, nil
}

// Dedupe drops rows whose property id was already seen, keeping the first
// occurrence. Input order is preserved.
func Dedupe(rows []model.PropertyRow) []model.PropertyRow {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		if _, ok := seen[row.ID]; ok {
			continue
		}
		seen[row.ID] = struct{}{}
		out = append(out, row)
	}
	if dropped := len(rows) - len(out); dropped > 0 {
		zap.L().Debug("ingest: dropped duplicate property ids", zap.Int("dropped", dropped))
	}
	return out
}

// LoadProperties reads every input file, dispatching on extension, then
// concatenates and de-duplicates by property id.
func LoadProperties(ctx context.Context, paths []string) ([]model.PropertyRow, error) {
	var all []model.PropertyRow
	for _, path := range paths {
		rows, err := loadPropertyFile(ctx, path)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return Dedupe(all), nil
}

func loadPropertyFile(ctx context.Context, path string) ([]model.PropertyRow, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xlsx" {
		return ReadPropertiesXLSX(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close()

	switch ext {
	case ".json":
		return ReadPropertiesJSON(ctx, f)
	case ".xml":
		return ReadPropertiesXML(ctx, f)
	case ".csv":
		return ReadPropertiesCSV(f)
	default:
		return nil, eris.Errorf("ingest: unsupported property file %s", path)
	}
}
