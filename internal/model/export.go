package model

import "strconv"

// NotAvailable is the exported placeholder for missing derived values.
const NotAvailable = "not available"

// Export flattens a property into the output contract. Missing numeric
// fields export as "not available" rather than zero, so consumers can tell
// absent data from a legitimate zero.
func (p Property) Export() ExportRow {
	row := ExportRow{
		ID:             p.ID,
		Latitude:       round6(p.Latitude),
		Longitude:      round6(p.Longitude),
		Suburb:         stringOr(p.Suburb, NotAvailable),
		NearestStation: stringOr(p.NearestStation, NotAvailable),
		LGA:            stringOr(p.LGA, NotAvailable),
	}

	if p.TravelMinutes.IsSet() {
		row.TravelTimeMinutes = strconv.Itoa(p.TravelMinutes.Value)
	} else {
		row.TravelTimeMinutes = NotAvailable
	}

	if p.CaseCount.IsSet() {
		row.CaseCount = strconv.Itoa(p.CaseCount.Value)
		row.CaseCountApproximate = p.CaseCount.Quality == QualityApproximate
	} else {
		row.CaseCount = NotAvailable
	}

	if p.ForecastCases.IsSet() {
		row.ForecastCaseCount = strconv.Itoa(p.ForecastCases.Value)
	} else {
		row.ForecastCaseCount = NotAvailable
	}

	return row
}

func stringOr(d Derived[string], fallback string) string {
	if d.IsSet() {
		return d.Value
	}
	return fallback
}

func round6(v float64) float64 {
	const scale = 1e6
	if v < 0 {
		return float64(int64(v*scale-0.5)) / scale
	}
	return float64(int64(v*scale+0.5)) / scale
}
