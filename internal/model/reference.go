package model

import "time"

// EdgeTo is one directed rail connection from a station.
type EdgeTo struct {
	StationID string
	Minutes   float64
}

// Station is static rail reference data, read-only after load.
type Station struct {
	ID        string
	Name      string
	Latitude  float64
	Longitude float64
	Neighbors []EdgeTo
}

// RegionKind distinguishes the two polygon reference layers.
type RegionKind string

const (
	RegionSuburb RegionKind = "suburb"
	RegionLGA    RegionKind = "lga"
)

// CaseRecord is one scraped observation: the cumulative case count for a
// region on a date. Dates within a region are strictly increasing; gaps are
// legal and must not break aggregation.
type CaseRecord struct {
	Region     string
	Date       time.Time
	Cumulative int
}

// RunStatus tracks an enrichment run through the store.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one persisted enrichment run.
type Run struct {
	ID         string    `json:"id"`
	Status     RunStatus `json:"status"`
	Properties int       `json:"properties"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Stage names, in pipeline execution order.
const (
	StageDefaults = "defaults"
	StageSuburb   = "suburb"
	StageLGA      = "lga"
	StageStation  = "station"
	StageTravel   = "travel"
	StageCases    = "cases"
	StageForecast = "forecast"
)

// StageResult records one stage's outcome for a run.
type StageResult struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Failures   int    `json:"failures"`
	Error      string `json:"error,omitempty"`
}
