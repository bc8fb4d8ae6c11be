package covidlive

import (
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// covidlive renders daily cases as an HTML table marked with a
// DAILY-CASES class, newest row first, dates like "30 Sep 21" and
// counts with thousands separators.
const dateLayout = "2 Jan 06"

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func parseDailyCases(page string) ([]Record, error) {
	table, err := extractTable(page, "DAILY-CASES")
	if err != nil {
		return nil, err
	}

	rows := extractRows(table)
	if len(rows) < 2 {
		return nil, eris.New("daily cases table has no data rows")
	}

	dateCol, casesCol, err := headerColumns(rows[0])
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		cells := extractCells(row)
		if len(cells) <= dateCol || len(cells) <= casesCol {
			continue
		}
		date, parseErr := time.Parse(dateLayout, cells[dateCol])
		if parseErr != nil {
			continue
		}
		count, parseErr := strconv.Atoi(strings.ReplaceAll(cells[casesCol], ",", ""))
		if parseErr != nil {
			continue
		}
		records = append(records, Record{Date: date, Cumulative: count})
	}
	if len(records) == 0 {
		return nil, eris.New("daily cases table has no parseable rows")
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})

	// Keep the first record per date so the series is strictly increasing
	// in time.
	out := records[:1]
	for _, r := range records[1:] {
		if r.Date.After(out[len(out)-1].Date) {
			out = append(out, r)
		}
	}
	return out, nil
}

// extractTable returns the innerHTML of the first <table> whose opening
// tag mentions marker.
func extractTable(page, marker string) (string, error) {
	idx := strings.Index(page, marker)
	if idx < 0 {
		return "", eris.Errorf("no table with marker %q", marker)
	}
	start := strings.LastIndex(page[:idx], "<table")
	if start < 0 {
		return "", eris.Errorf("marker %q is not inside a table", marker)
	}
	end := strings.Index(page[start:], "</table>")
	if end < 0 {
		return "", eris.New("unterminated table")
	}
	return page[start : start+end], nil
}

func extractRows(table string) []string {
	var rows []string
	rest := table
	for {
		start := strings.Index(rest, "<tr")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], "</tr>")
		if end < 0 {
			break
		}
		rows = append(rows, rest[start:start+end])
		rest = rest[start+end:]
	}
	return rows
}

func extractCells(row string) []string {
	var cells []string
	rest := row
	for {
		start := strings.Index(rest, "<td")
		tag := "</td>"
		if th := strings.Index(rest, "<th"); th >= 0 && (start < 0 || th < start) {
			start = th
			tag = "</th>"
		}
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], tag)
		if end < 0 {
			break
		}
		cells = append(cells, cellText(rest[start:start+end]))
		rest = rest[start+end:]
	}
	return cells
}

func cellText(cell string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(cell, "")))
}

func headerColumns(headerRow string) (dateCol, casesCol int, err error) {
	dateCol, casesCol = -1, -1
	for i, cell := range extractCells(headerRow) {
		switch strings.ToUpper(cell) {
		case "DATE":
			dateCol = i
		case "CASES":
			casesCol = i
		}
	}
	if dateCol < 0 || casesCol < 0 {
		return 0, 0, eris.New("daily cases table is missing DATE or CASES column")
	}
	return dateCol, casesCol, nil
}
