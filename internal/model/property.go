// Package model defines the data types shared across the enrichment pipeline.
package model

// Quality describes how a derived field value was obtained.
type Quality string

const (
	// QualityExact means the value was resolved directly (containment hit,
	// matched case region, routed travel time).
	QualityExact Quality = "exact"
	// QualityApproximate means a fallback produced the value (nearest
	// boundary, LGA-level case total) and downstream consumers should know.
	QualityApproximate Quality = "approximate"
	// QualityMissing means no value could be derived. The zero Value must
	// not be read as data.
	QualityMissing Quality = "missing"
)

// Derived is a pipeline-written field carrying its value and provenance.
// Fields start missing and are written by exactly one pipeline stage.
type Derived[T any] struct {
	Value   T
	Quality Quality
	Source  string
}

// Exact returns a derived field resolved without fallback.
func Exact[T any](v T, source string) Derived[T] {
	return Derived[T]{Value: v, Quality: QualityExact, Source: source}
}

// Approximate returns a derived field produced by a fallback path.
func Approximate[T any](v T, source string) Derived[T] {
	return Derived[T]{Value: v, Quality: QualityApproximate, Source: source}
}

// Missing returns an unresolved derived field. source records why.
func Missing[T any](source string) Derived[T] {
	return Derived[T]{Quality: QualityMissing, Source: source}
}

// IsSet reports whether the field holds a usable value.
func (d Derived[T]) IsSet() bool {
	return d.Quality == QualityExact || d.Quality == QualityApproximate
}

// PropertyRow is the raw input contract for one property record.
type PropertyRow struct {
	ID        string  `json:"property_id" xml:"property_id" csv:"property_id"`
	Latitude  float64 `json:"lat" xml:"lat" csv:"lat"`
	Longitude float64 `json:"lng" xml:"lng" csv:"lng"`
	Street    string  `json:"addr_street" xml:"addr_street" csv:"addr_street"`
	Suburb    string  `json:"suburb,omitempty" xml:"suburb,omitempty" csv:"suburb,omitempty"`
	LGA       string  `json:"lga,omitempty" xml:"lga,omitempty" csv:"lga,omitempty"`
}

// Property is one record flowing through the pipeline. Input fields are
// fixed at construction; derived fields are each written by a single stage.
type Property struct {
	ID        string
	Latitude  float64
	Longitude float64
	Street    string

	Suburb            Derived[string]
	LGA               Derived[string]
	NearestStation    Derived[string]
	StationDistanceKM Derived[float64]
	TravelMinutes     Derived[int]
	DirectJourney     Derived[bool]
	CaseCount         Derived[int]
	ForecastCases     Derived[int]
}

// NewProperty builds a Property from an input row. Pre-filled suburb/LGA
// values are kept and tagged as input-sourced; everything else starts missing.
func NewProperty(row PropertyRow) Property {
	p := Property{
		ID:        row.ID,
		Latitude:  row.Latitude,
		Longitude: row.Longitude,
		Street:    row.Street,
	}
	if row.Suburb != "" {
		p.Suburb = Exact(row.Suburb, "input")
	}
	if row.LGA != "" {
		p.LGA = Exact(row.LGA, "input")
	}
	return p
}

// ExportRow is the flat output contract handed to the export stage.
type ExportRow struct {
	ID                   string  `csv:"property_id" json:"property_id"`
	Latitude             float64 `csv:"lat" json:"lat"`
	Longitude            float64 `csv:"lng" json:"lng"`
	Suburb               string  `csv:"suburb" json:"suburb"`
	LGA                  string  `csv:"lga" json:"lga"`
	NearestStation       string  `csv:"nearest_station" json:"nearest_station"`
	TravelTimeMinutes    string  `csv:"travel_time_minutes" json:"travel_time_minutes"`
	CaseCount            string  `csv:"case_count" json:"case_count"`
	CaseCountApproximate bool    `csv:"case_count_approximate" json:"case_count_approximate"`
	ForecastCaseCount    string  `csv:"forecast_case_count" json:"forecast_case_count"`
}
