package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/melbdata/enrich-cli/internal/casedata"
	"github.com/melbdata/enrich-cli/internal/config"
	"github.com/melbdata/enrich-cli/internal/geoindex"
	"github.com/melbdata/enrich-cli/internal/model"
	"github.com/melbdata/enrich-cli/internal/routegraph"
	"github.com/melbdata/enrich-cli/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Cases:    config.CasesConfig{SimilarityThreshold: 0.85, AsOfDate: "2021-09-30"},
		Forecast: config.ForecastConfig{WindowDays: 14},
		Pipeline: config.PipelineConfig{Workers: 2},
	}
}

func testStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// squareRegion builds a unit-square region anchored at (x, y).
func squareRegion(t *testing.T, name string, kind model.RegionKind, x, y float64) geoindex.Region {
	t.Helper()
	ring := geom.NewLinearRingFlat(geom.XY, []float64{
		x, y, x + 1, y, x + 1, y + 1, x, y + 1, x, y,
	})
	poly := geom.NewPolygon(geom.XY)
	require.NoError(t, poly.Push(ring))
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(poly))
	return geoindex.Region{Name: name, Kind: kind, Boundary: mp}
}

// testIndex covers lat [-38, -37], lng [144, 145] with one suburb and one
// LGA, and two stations inside it.
func testIndex(t *testing.T) *geoindex.Index {
	t.Helper()
	regions := []geoindex.Region{
		squareRegion(t, "CARLTON", model.RegionSuburb, 144, -38),
		squareRegion(t, "MELBOURNE", model.RegionLGA, 144, -38),
	}
	stations := []model.Station{
		{ID: "S1", Name: "Carlton", Latitude: -37.5, Longitude: 144.5},
		{ID: "19842", Name: "Melbourne Central", Latitude: -37.2, Longitude: 144.8},
	}
	return geoindex.NewIndex(regions, stations)
}

func testGraph() *routegraph.Graph {
	g := routegraph.New()
	g.AddStation(model.Station{ID: "S1", Name: "Carlton"})
	g.AddStation(model.Station{ID: "19842", Name: "Melbourne Central"})
	g.AddEdge("S1", "19842", 10)
	g.SetDestination("19842")
	return g
}

// testMerger loads four consecutive days of CARLTON suburb data ending on
// the as-of date, each day adding ten cases.
func testMerger(t *testing.T) *casedata.Merger {
	t.Helper()
	suburb := casedata.NewTable()
	for i, cum := range []int{10, 20, 30, 40} {
		require.NoError(t, suburb.Add(model.CaseRecord{
			Region:     "CARLTON",
			Date:       time.Date(2021, time.September, 27+i, 0, 0, 0, 0, time.UTC),
			Cumulative: cum,
		}))
	}
	return casedata.NewMerger(suburb, nil, 0.85)
}

func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	direct := map[string]routegraph.DirectTime{"S1": {AvgMinutes: 10, Trips: 3}}
	return New(testConfig(), testStore(t), testIndex(t), testGraph(), direct, testMerger(t), DefaultPolicy(), nil)
}

func TestPipeline_Run_FullyExact(t *testing.T) {
	p := testPipeline(t)

	// Centroid of the suburb square: every stage should resolve without a
	// fallback.
	rows := []model.PropertyRow{
		{ID: "p-1", Latitude: -37.5, Longitude: 144.5, Street: "1 Example St"},
	}
	res, err := p.Run(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, res.Properties, 1)

	prop := res.Properties[0]
	assert.Equal(t, model.QualityExact, prop.Suburb.Quality)
	assert.Equal(t, "CARLTON", prop.Suburb.Value)
	assert.Equal(t, model.QualityExact, prop.LGA.Quality)
	assert.Equal(t, "MELBOURNE", prop.LGA.Value)
	assert.Equal(t, model.QualityExact, prop.NearestStation.Quality)
	assert.Equal(t, "Carlton", prop.NearestStation.Value)
	assert.Equal(t, model.QualityExact, prop.TravelMinutes.Quality)
	assert.Equal(t, 10, prop.TravelMinutes.Value)
	assert.Equal(t, model.QualityExact, prop.DirectJourney.Quality)
	assert.True(t, prop.DirectJourney.Value)
	assert.Equal(t, model.QualityExact, prop.CaseCount.Quality)
	assert.Equal(t, 10, prop.CaseCount.Value)
	assert.Equal(t, model.QualityExact, prop.ForecastCases.Quality)
	assert.Equal(t, 10, prop.ForecastCases.Value)

	require.Len(t, res.Rows, 1)
	row := res.Rows[0]
	assert.Equal(t, "CARLTON", row.Suburb)
	assert.Equal(t, "MELBOURNE", row.LGA)
	assert.Equal(t, "Carlton", row.NearestStation)
	assert.Equal(t, "10", row.TravelTimeMinutes)
	assert.Equal(t, "10", row.CaseCount)
	assert.False(t, row.CaseCountApproximate)
	assert.Equal(t, "10", row.ForecastCaseCount)
}

func TestPipeline_Run_PersistsRunAndStages(t *testing.T) {
	st := testStore(t)
	direct := map[string]routegraph.DirectTime{"S1": {AvgMinutes: 10, Trips: 3}}
	p := New(testConfig(), st, testIndex(t), testGraph(), direct, testMerger(t), DefaultPolicy(), nil)

	rows := []model.PropertyRow{{ID: "p-1", Latitude: -37.5, Longitude: 144.5}}
	res, err := p.Run(context.Background(), rows)
	require.NoError(t, err)

	run, err := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 1, run.Properties)

	stages, err := st.ListStages(context.Background(), res.RunID)
	require.NoError(t, err)
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name
	}
	assert.Equal(t, []string{
		model.StageDefaults, model.StageSuburb, model.StageLGA,
		model.StageStation, model.StageTravel, model.StageCases, model.StageForecast,
	}, names)

	saved, err := st.ListProperties(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Rows, saved)
}

func TestPipeline_Run_OrderPreserved(t *testing.T) {
	p := testPipeline(t)

	var rows []model.PropertyRow
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		rows = append(rows, model.PropertyRow{ID: id, Latitude: -37.5, Longitude: 144.5})
	}
	res, err := p.Run(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, res.Rows, len(rows))
	for i, row := range res.Rows {
		assert.Equal(t, rows[i].ID, row.ID)
	}
}

func TestPipeline_Run_OutsidePolygons_Approximate(t *testing.T) {
	p := testPipeline(t)

	// Just outside the square: nearest-boundary fallback, flagged.
	rows := []model.PropertyRow{{ID: "p-1", Latitude: -37.5, Longitude: 145.2}}
	res, err := p.Run(context.Background(), rows)
	require.NoError(t, err)

	prop := res.Properties[0]
	assert.Equal(t, model.QualityApproximate, prop.Suburb.Quality)
	assert.Equal(t, "CARLTON", prop.Suburb.Value)
	assert.Contains(t, prop.Suburb.Source, "nearest boundary")
}

func TestPipeline_Run_InputRegionsKept(t *testing.T) {
	p := testPipeline(t)

	// Pre-filled suburb and LGA survive, even though containment would
	// agree; source says where they came from.
	rows := []model.PropertyRow{
		{ID: "p-1", Latitude: -37.5, Longitude: 144.5, Suburb: "CARLTON", LGA: "MELBOURNE"},
	}
	res, err := p.Run(context.Background(), rows)
	require.NoError(t, err)

	prop := res.Properties[0]
	assert.Equal(t, "input", prop.Suburb.Source)
	assert.Equal(t, "input", prop.LGA.Source)
}

func TestPipeline_Run_EmptySuburbLayer_Continues(t *testing.T) {
	// Only the LGA layer and the stations are loaded: the suburb field
	// degrades per property while every other stage still runs.
	st := testStore(t)
	ix := geoindex.NewIndex(
		[]geoindex.Region{squareRegion(t, "MELBOURNE", model.RegionLGA, 144, -38)},
		[]model.Station{{ID: "S1", Name: "Carlton", Latitude: -37.5, Longitude: 144.5}},
	)
	p := New(testConfig(), st, ix, nil, nil, nil, DefaultPolicy(), nil)

	rows := []model.PropertyRow{{ID: "p-1", Latitude: -37.5, Longitude: 144.5}}
	res, err := p.Run(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	prop := res.Properties[0]
	assert.Equal(t, model.QualityMissing, prop.Suburb.Quality)
	assert.Equal(t, "no reference data", prop.Suburb.Source)
	assert.Equal(t, model.QualityExact, prop.LGA.Quality)
	assert.Equal(t, "MELBOURNE", prop.LGA.Value)
	assert.Equal(t, model.QualityExact, prop.NearestStation.Quality)
	assert.Equal(t, model.NotAvailable, res.Rows[0].Suburb)

	run, getErr := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, model.RunStatusComplete, run.Status)
}

func TestPipeline_Run_NoReferenceDataAtAll_Fails(t *testing.T) {
	st := testStore(t)
	p := New(testConfig(), st, geoindex.NewIndex(nil, nil), nil, nil, nil, DefaultPolicy(), nil)

	rows := []model.PropertyRow{{ID: "p-1", Latitude: -37.5, Longitude: 144.5}}
	res, err := p.Run(context.Background(), rows)
	require.ErrorIs(t, err, geoindex.ErrNoReferenceData)

	run, getErr := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, model.RunStatusFailed, run.Status)
}

func TestPipeline_Run_UnmatchedCaseRegion_MissingNotZero(t *testing.T) {
	// Case tables only know FOOTSCRAY; the property resolves to CARLTON.
	suburb := casedata.NewTable()
	require.NoError(t, suburb.Add(model.CaseRecord{
		Region:     "FOOTSCRAY",
		Date:       time.Date(2021, time.September, 29, 0, 0, 0, 0, time.UTC),
		Cumulative: 5,
	}))
	merger := casedata.NewMerger(suburb, nil, 0.85)
	p := New(testConfig(), testStore(t), testIndex(t), testGraph(), nil, merger, DefaultPolicy(), nil)

	rows := []model.PropertyRow{{ID: "p-1", Latitude: -37.5, Longitude: 144.5}}
	res, err := p.Run(context.Background(), rows)
	require.NoError(t, err)

	prop := res.Properties[0]
	assert.Equal(t, model.QualityMissing, prop.CaseCount.Quality)
	assert.Equal(t, model.QualityMissing, prop.ForecastCases.Quality)
	assert.Equal(t, model.NotAvailable, res.Rows[0].CaseCount)
	assert.Equal(t, model.NotAvailable, res.Rows[0].ForecastCaseCount)
}

func TestPipeline_Run_LGAFallback_Approximate(t *testing.T) {
	// Only LGA-level data exists: count and forecast both flag the coarser
	// granularity.
	lga := casedata.NewTable()
	for i, cum := range []int{10, 20, 30, 40} {
		require.NoError(t, lga.Add(model.CaseRecord{
			Region:     "MELBOURNE",
			Date:       time.Date(2021, time.September, 27+i, 0, 0, 0, 0, time.UTC),
			Cumulative: cum,
		}))
	}
	merger := casedata.NewMerger(nil, lga, 0.85)
	p := New(testConfig(), testStore(t), testIndex(t), testGraph(), nil, merger, DefaultPolicy(), nil)

	rows := []model.PropertyRow{{ID: "p-1", Latitude: -37.5, Longitude: 144.5}}
	res, err := p.Run(context.Background(), rows)
	require.NoError(t, err)

	prop := res.Properties[0]
	assert.Equal(t, model.QualityApproximate, prop.CaseCount.Quality)
	assert.Equal(t, 10, prop.CaseCount.Value)
	assert.True(t, res.Rows[0].CaseCountApproximate)
	assert.Equal(t, model.QualityApproximate, prop.ForecastCases.Quality)
	assert.Equal(t, 10, prop.ForecastCases.Value)
}

func TestPipeline_Run_SuburbSharesLGAName_ForecastExact(t *testing.T) {
	// Suburb and LGA are both named MELBOURNE but the data is suburb-level,
	// so the count and the forecast on the same record both stay exact.
	regions := []geoindex.Region{
		squareRegion(t, "MELBOURNE", model.RegionSuburb, 144, -38),
		squareRegion(t, "MELBOURNE", model.RegionLGA, 144, -38),
	}
	ix := geoindex.NewIndex(regions, []model.Station{
		{ID: "S1", Name: "Carlton", Latitude: -37.5, Longitude: 144.5},
	})
	suburb := casedata.NewTable()
	for i, cum := range []int{10, 20, 30, 40} {
		require.NoError(t, suburb.Add(model.CaseRecord{
			Region:     "MELBOURNE",
			Date:       time.Date(2021, time.September, 27+i, 0, 0, 0, 0, time.UTC),
			Cumulative: cum,
		}))
	}
	merger := casedata.NewMerger(suburb, nil, 0.85)
	p := New(testConfig(), testStore(t), ix, nil, nil, merger, DefaultPolicy(), nil)

	rows := []model.PropertyRow{{ID: "p-1", Latitude: -37.5, Longitude: 144.5}}
	res, err := p.Run(context.Background(), rows)
	require.NoError(t, err)

	prop := res.Properties[0]
	assert.Equal(t, model.QualityExact, prop.CaseCount.Quality)
	assert.Equal(t, model.QualityExact, prop.ForecastCases.Quality)
	assert.Equal(t, "linear trend", prop.ForecastCases.Source)
	assert.False(t, res.Rows[0].CaseCountApproximate)
}

func TestPipeline_Run_LGAHintBeatsContainment(t *testing.T) {
	hints := map[string]string{casedata.Normalize("CARLTON"): "CITY OF YARRA"}
	direct := map[string]routegraph.DirectTime{"S1": {AvgMinutes: 10, Trips: 3}}
	p := New(testConfig(), testStore(t), testIndex(t), testGraph(), direct, testMerger(t), DefaultPolicy(), hints)

	rows := []model.PropertyRow{{ID: "p-1", Latitude: -37.5, Longitude: 144.5}}
	res, err := p.Run(context.Background(), rows)
	require.NoError(t, err)

	prop := res.Properties[0]
	assert.Equal(t, "CITY OF YARRA", prop.LGA.Value)
	assert.Equal(t, "suburb lookup", prop.LGA.Source)
}

func TestPipeline_Run_NoGraph_TravelMissing(t *testing.T) {
	p := New(testConfig(), testStore(t), testIndex(t), nil, nil, testMerger(t), DefaultPolicy(), nil)

	rows := []model.PropertyRow{{ID: "p-1", Latitude: -37.5, Longitude: 144.5}}
	res, err := p.Run(context.Background(), rows)
	require.NoError(t, err)

	prop := res.Properties[0]
	assert.Equal(t, model.QualityMissing, prop.TravelMinutes.Quality)
	assert.Equal(t, model.QualityMissing, prop.DirectJourney.Quality)
	assert.Equal(t, model.NotAvailable, res.Rows[0].TravelTimeMinutes)

	// Stations still resolve; only travel is degraded.
	assert.Equal(t, model.QualityExact, prop.NearestStation.Quality)
}

func TestPipeline_Run_BadAsOfDate(t *testing.T) {
	cfg := testConfig()
	cfg.Cases.AsOfDate = "30 Sep"
	p := New(cfg, testStore(t), testIndex(t), nil, nil, nil, DefaultPolicy(), nil)

	_, err := p.Run(context.Background(), []model.PropertyRow{{ID: "p-1"}})
	require.Error(t, err)
}
