package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/melbdata/enrich-cli/internal/casedata"
	"github.com/melbdata/enrich-cli/internal/geoindex"
	"github.com/melbdata/enrich-cli/internal/ingest"
	"github.com/melbdata/enrich-cli/internal/model"
	"github.com/melbdata/enrich-cli/internal/pipeline"
	"github.com/melbdata/enrich-cli/internal/resilience"
	"github.com/melbdata/enrich-cli/internal/routegraph"
	"github.com/melbdata/enrich-cli/internal/store"
	"github.com/melbdata/enrich-cli/pkg/covidlive"
)

// pipelineEnv holds the store, reference indexes, and the pipeline needed
// by the enrich/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Index    *geoindex.Index
	Graph    *routegraph.Graph
	Direct   map[string]routegraph.DirectTime
	Merger   *casedata.Merger
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.NewSQLite(cfg.Store.DSN)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// initPipeline sets up the store, loads boundary, station, timetable, and
// case reference data, and builds the Pipeline. Callers should defer
// env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	regions, err := loadRegions(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	stations, err := loadStations()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	index := geoindex.NewIndex(regions, stations)

	graph, direct, err := buildGraph(stations)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	merger, lgaHints, err := loadCaseData(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	policy, err := pipeline.LoadPolicy(cfg.Pipeline.DefaultsFile)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	zap.L().Info("reference data loaded",
		zap.Int("regions", len(regions)),
		zap.Int("stations", len(stations)),
		zap.Int("direct_stops", len(direct)),
	)

	p := pipeline.New(cfg, st, index, graph, direct, merger, policy, lgaHints)
	return &pipelineEnv{
		Store:    st,
		Index:    index,
		Graph:    graph,
		Direct:   direct,
		Merger:   merger,
		Pipeline: p,
	}, nil
}

// loadRegions prefers configured shapefiles, refreshing the store cache on
// the way; with no shapefile configured it falls back to the cached copy.
func loadRegions(ctx context.Context, st store.Store) ([]geoindex.Region, error) {
	var regions []geoindex.Region

	load := func(path string, kind model.RegionKind, nameField string) error {
		if path != "" {
			rs, err := geoindex.LoadRegionsShapefile(path, kind, nameField, cfg.Geo.PopulationField)
			if err != nil {
				return err
			}
			if err := st.SaveRegions(ctx, rs); err != nil {
				return eris.Wrapf(err, "cache %s regions", kind)
			}
			regions = append(regions, rs...)
			return nil
		}
		rs, err := st.LoadRegions(ctx, kind)
		if err != nil {
			return err
		}
		regions = append(regions, rs...)
		return nil
	}

	if err := load(cfg.Geo.SuburbShapefile, model.RegionSuburb, cfg.Geo.SuburbNameField); err != nil {
		return nil, err
	}
	if err := load(cfg.Geo.LGAShapefile, model.RegionLGA, cfg.Geo.LGANameField); err != nil {
		return nil, err
	}

	if len(regions) == 0 {
		zap.L().Warn("no boundary reference data configured or cached")
	}
	return regions, nil
}

func loadStations() ([]model.Station, error) {
	if cfg.Geo.StopsFile == "" {
		return nil, nil
	}
	f, err := os.Open(cfg.Geo.StopsFile)
	if err != nil {
		return nil, eris.Wrap(err, "open stops file")
	}
	defer f.Close()
	return ingest.ReadStops(f)
}

// buildGraph derives the travel-time graph from the GTFS timetable. With
// no timetable configured the travel stage resolves as missing.
func buildGraph(stations []model.Station) (*routegraph.Graph, map[string]routegraph.DirectTime, error) {
	if cfg.Geo.StopTimesFile == "" {
		return nil, nil, nil
	}

	stopTimes, err := readStopTimes(cfg.Geo.StopTimesFile)
	if err != nil {
		return nil, nil, err
	}

	weekday := map[string]struct{}{}
	if cfg.Geo.TripsFile != "" && cfg.Geo.CalendarFile != "" {
		trips, tripsErr := readTrips(cfg.Geo.TripsFile)
		if tripsErr != nil {
			return nil, nil, tripsErr
		}
		services, calErr := readCalendar(cfg.Geo.CalendarFile)
		if calErr != nil {
			return nil, nil, calErr
		}
		weekday = routegraph.WeekdayTrips(trips, services)
	} else {
		// Without service calendars every trip counts as a weekday trip.
		for _, st := range stopTimes {
			weekday[st.TripID] = struct{}{}
		}
	}

	direct := routegraph.BuildDirectTimes(
		stopTimes, weekday,
		cfg.Graph.DestinationStopID,
		cfg.Graph.WindowStartHour, cfg.Graph.WindowEndHour,
	)

	g := routegraph.New()
	for _, st := range stations {
		g.AddStation(st)
	}
	for origin, dt := range direct {
		g.AddEdge(origin, cfg.Graph.DestinationStopID, dt.AvgMinutes)
	}
	g.SetDestination(cfg.Graph.DestinationStopID)
	return g, direct, nil
}

func readStopTimes(path string) ([]routegraph.StopTime, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open stop times file")
	}
	defer f.Close()
	return ingest.ReadStopTimes(f)
}

func readTrips(path string) ([]routegraph.Trip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open trips file")
	}
	defer f.Close()
	return ingest.ReadTrips(f)
}

func readCalendar(path string) ([]routegraph.Service, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open calendar file")
	}
	defer f.Close()
	return ingest.ReadCalendar(f)
}

// loadCaseData builds the suburb and LGA case tables. LGA data comes from
// the configured CSV, or live from covidlive for the configured LGA list.
func loadCaseData(ctx context.Context) (*casedata.Merger, map[string]string, error) {
	suburbTable, err := caseTableFromFile(cfg.Cases.SuburbFile)
	if err != nil {
		return nil, nil, err
	}

	lgaTable, err := caseTableFromFile(cfg.Cases.LGAFile)
	if err != nil {
		return nil, nil, err
	}

	if lgaTable == nil && len(cfg.Cases.FetchLGAs) > 0 {
		lgaTable, err = fetchLGATables(ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	merger := casedata.NewMerger(suburbTable, lgaTable, cfg.Cases.SimilarityThreshold)

	var hints map[string]string
	if cfg.Cases.SuburbLGAMapFile != "" {
		f, openErr := os.Open(cfg.Cases.SuburbLGAMapFile)
		if openErr != nil {
			return nil, nil, eris.Wrap(openErr, "open suburb-lga map")
		}
		defer f.Close()
		hints, err = ingest.ReadSuburbLGAMap(f)
		if err != nil {
			return nil, nil, err
		}
	}
	return merger, hints, nil
}

func caseTableFromFile(path string) (*casedata.Table, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open case file")
	}
	defer f.Close()

	records, err := ingest.ReadCaseCSV(f)
	if err != nil {
		return nil, err
	}
	return ingest.BuildCaseTable(records)
}

func fetchLGATables(ctx context.Context) (*casedata.Table, error) {
	client := covidlive.NewClient(
		covidlive.WithBaseURL(cfg.Covidlive.BaseURL),
		covidlive.WithRateLimit(cfg.Covidlive.RequestsPerSecond),
		covidlive.WithRetry(resilience.RetryConfig{
			MaxAttempts: cfg.Covidlive.MaxAttempts,
			OnRetry:     resilience.RetryLogger("covidlive", "fetch_lga"),
		}),
	)

	table := casedata.NewTable()
	for _, lga := range cfg.Cases.FetchLGAs {
		recs, err := client.FetchLGA(ctx, lga)
		if err != nil {
			zap.L().Warn("covidlive fetch failed",
				zap.String("lga", lga),
				zap.Error(err),
			)
			continue
		}
		for _, r := range recs {
			if addErr := table.Add(model.CaseRecord{
				Region:     lga,
				Date:       r.Date,
				Cumulative: r.Cumulative,
			}); addErr != nil {
				return nil, eris.Wrapf(addErr, "covidlive records for %s", lga)
			}
		}
		zap.L().Info("covidlive history fetched",
			zap.String("lga", lga),
			zap.Int("records", len(recs)),
		)
	}
	return table, nil
}
