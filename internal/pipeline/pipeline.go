// Package pipeline orchestrates the enrichment stages over a property
// dataset: defaults, suburb, lga, station, travel, cases, forecast. Stage
// order is fixed; per-property failures downgrade the one field and the run
// continues. Only a wholly absent reference dataset aborts a run.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/melbdata/enrich-cli/internal/casedata"
	"github.com/melbdata/enrich-cli/internal/config"
	"github.com/melbdata/enrich-cli/internal/forecast"
	"github.com/melbdata/enrich-cli/internal/geoindex"
	"github.com/melbdata/enrich-cli/internal/model"
	"github.com/melbdata/enrich-cli/internal/routegraph"
	"github.com/melbdata/enrich-cli/internal/store"
)

// Pipeline wires the lookup components to the stage sequence.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	index    *geoindex.Index
	graph    *routegraph.Graph
	direct   map[string]routegraph.DirectTime
	merger   *casedata.Merger
	policy   Policy
	lgaHints map[string]string
}

// New creates a Pipeline. graph and direct may be nil when no timetable was
// loaded; travel fields then resolve as missing. lgaHints maps normalized
// suburb names to their LGA, consulted before polygon containment.
func New(
	cfg *config.Config,
	st store.Store,
	index *geoindex.Index,
	graph *routegraph.Graph,
	direct map[string]routegraph.DirectTime,
	merger *casedata.Merger,
	policy Policy,
	lgaHints map[string]string,
) *Pipeline {
	if merger == nil {
		merger = casedata.NewMerger(nil, nil, cfg.Cases.SimilarityThreshold)
	}
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		index:    index,
		graph:    graph,
		direct:   direct,
		merger:   merger,
		policy:   policy,
		lgaHints: lgaHints,
	}
}

// Result is the outcome of one enrichment run.
type Result struct {
	RunID      string
	Properties []model.Property
	Rows       []model.ExportRow
	Stages     []model.StageResult
}

// Run enriches the dataset. Output order always matches input order.
func (p *Pipeline) Run(ctx context.Context, rows []model.PropertyRow) (*Result, error) {
	log := zap.L().With(zap.Int("properties", len(rows)))
	log.Info("pipeline: starting enrichment")

	asOf, err := p.cfg.Cases.AsOf()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: as-of date")
	}

	run, err := p.store.CreateRun(ctx, len(rows))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	result := &Result{RunID: run.ID}

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}

	trackStage := func(name string, fn func() (int, error)) error {
		start := time.Now()
		failures, fnErr := fn()
		stage := model.StageResult{
			Name:       name,
			DurationMS: time.Since(start).Milliseconds(),
			Failures:   failures,
		}
		if fnErr != nil {
			stage.Error = fnErr.Error()
			log.Error("pipeline: stage failed",
				zap.String("stage", name),
				zap.Int64("duration_ms", stage.DurationMS),
				zap.Error(fnErr),
			)
		} else {
			log.Info("pipeline: stage complete",
				zap.String("stage", name),
				zap.Int64("duration_ms", stage.DurationMS),
				zap.Int("failures", failures),
			)
		}
		if saveErr := p.store.SaveStage(ctx, run.ID, stage); saveErr != nil {
			log.Warn("pipeline: failed to save stage", zap.String("stage", name), zap.Error(saveErr))
		}
		result.Stages = append(result.Stages, stage)
		return fnErr
	}

	props := make([]model.Property, len(rows))
	stationIDs := make([]string, len(rows))

	// Each stage worker writes only its own index, so the slices need no
	// locking.
	forEach := func(fn func(i int) error) error {
		workers := p.cfg.Pipeline.Workers
		if workers < 1 {
			workers = 1
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := range props {
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return fn(i)
			})
		}
		return g.Wait()
	}

	setStatus(model.RunStatusRunning)

	fail := func(stageErr error) (*Result, error) {
		setStatus(model.RunStatusFailed)
		return result, stageErr
	}

	// A missing layer downgrades its field per property; the run itself
	// aborts only when every lookup would fail.
	if p.index == nil || p.index.Empty() {
		return fail(eris.Wrap(geoindex.ErrNoReferenceData, "pipeline: no reference data loaded"))
	}

	// ===== Defaults =====
	_ = trackStage(model.StageDefaults, func() (int, error) {
		for i, row := range rows {
			props[i] = model.NewProperty(row)
		}
		return 0, nil
	})

	// ===== Suburb =====
	if stageErr := trackStage(model.StageSuburb, p.regionStage(props, model.RegionSuburb, forEach)); stageErr != nil {
		return fail(eris.Wrap(stageErr, "pipeline: suburb stage"))
	}

	// ===== LGA =====
	if stageErr := trackStage(model.StageLGA, p.lgaStage(props, forEach)); stageErr != nil {
		return fail(eris.Wrap(stageErr, "pipeline: lga stage"))
	}

	// ===== Station =====
	if stageErr := trackStage(model.StageStation, func() (int, error) {
		var failures atomic.Int64
		var noData atomic.Bool
		err := forEach(func(i int) error {
			pr := &props[i]
			st, km, stErr := p.index.NearestStation(pr.Latitude, pr.Longitude)
			if stErr != nil {
				failures.Add(1)
				reason := "no station"
				if eris.Is(stErr, geoindex.ErrNoReferenceData) {
					noData.Store(true)
					reason = "no reference data"
				}
				pr.NearestStation = model.Missing[string](reason)
				pr.StationDistanceKM = model.Missing[float64](reason)
				return nil
			}
			pr.NearestStation = model.Exact(st.Name, "haversine")
			pr.StationDistanceKM = model.Exact(km, "haversine")
			stationIDs[i] = st.ID
			return nil
		})
		if noData.Load() {
			zap.L().Warn("pipeline: no station reference data")
		}
		return int(failures.Load()), err
	}); stageErr != nil {
		return fail(eris.Wrap(stageErr, "pipeline: station stage"))
	}

	// ===== Travel =====
	_ = trackStage(model.StageTravel, func() (int, error) {
		var failures atomic.Int64
		err := forEach(func(i int) error {
			pr := &props[i]
			if p.graph == nil || stationIDs[i] == "" {
				failures.Add(1)
				pr.TravelMinutes = model.Missing[int]("no route graph")
				pr.DirectJourney = model.Missing[bool]("no route graph")
				return nil
			}
			minutes, routeErr := p.graph.MinutesTo(stationIDs[i])
			if routeErr != nil {
				failures.Add(1)
				pr.TravelMinutes = model.Missing[int]("no route")
				pr.DirectJourney = model.Missing[bool]("no route")
				return nil
			}
			pr.TravelMinutes = model.Exact(minutes, "shortest path")
			_, direct := p.direct[stationIDs[i]]
			pr.DirectJourney = model.Exact(direct, "timetable")
			return nil
		})
		return int(failures.Load()), err
	})

	// ===== Cases =====
	_ = trackStage(model.StageCases, func() (int, error) {
		var failures atomic.Int64
		err := forEach(func(i int) error {
			pr := &props[i]
			pr.CaseCount = p.merger.Attach(*pr, asOf)
			if !pr.CaseCount.IsSet() {
				failures.Add(1)
			}
			return nil
		})
		return int(failures.Load()), err
	})

	// ===== Forecast =====
	_ = trackStage(model.StageForecast, p.forecastStage(props, asOf))

	rowsOut := make([]model.ExportRow, len(props))
	for i := range props {
		rowsOut[i] = p.policy.Apply(props[i].Export())
	}
	result.Properties = props
	result.Rows = rowsOut

	if saveErr := p.store.SaveProperties(ctx, run.ID, rowsOut); saveErr != nil {
		log.Warn("pipeline: failed to save properties", zap.Error(saveErr))
	}
	setStatus(model.RunStatusComplete)

	log.Info("pipeline: enrichment complete",
		zap.String("run_id", run.ID),
		zap.Int("properties", len(rowsOut)),
	)
	return result, nil
}

// regionStage resolves one polygon layer. Every lookup problem downgrades
// the one property, an empty layer included: the other layers still have
// data worth enriching with.
func (p *Pipeline) regionStage(props []model.Property, kind model.RegionKind, forEach func(func(int) error) error) func() (int, error) {
	return func() (int, error) {
		var failures atomic.Int64
		var noData atomic.Bool
		err := forEach(func(i int) error {
			pr := &props[i]
			field := &pr.Suburb
			if kind == model.RegionLGA {
				field = &pr.LGA
			}
			if field.IsSet() {
				return nil
			}
			match, resErr := p.index.ResolveRegion(pr.Latitude, pr.Longitude, kind)
			if resErr != nil {
				failures.Add(1)
				if eris.Is(resErr, geoindex.ErrNoReferenceData) {
					noData.Store(true)
					*field = model.Missing[string]("no reference data")
				} else {
					*field = model.Missing[string]("unresolved")
				}
				return nil
			}
			if match.Approximate {
				*field = model.Approximate(match.Name, fmt.Sprintf("nearest boundary %.2f km", match.DistanceKM))
			} else {
				*field = model.Exact(match.Name, "containment")
			}
			return nil
		})
		if noData.Load() {
			zap.L().Warn("pipeline: region layer has no reference data", zap.String("kind", string(kind)))
		}
		return int(failures.Load()), err
	}
}

// lgaStage tries the suburb-to-LGA lookup table first, then falls back to
// polygon containment.
func (p *Pipeline) lgaStage(props []model.Property, forEach func(func(int) error) error) func() (int, error) {
	containment := p.regionStage(props, model.RegionLGA, forEach)
	return func() (int, error) {
		for i := range props {
			pr := &props[i]
			if pr.LGA.IsSet() || !pr.Suburb.IsSet() {
				continue
			}
			if name, ok := p.lgaHints[casedata.Normalize(pr.Suburb.Value)]; ok {
				pr.LGA = model.Exact(name, "suburb lookup")
			}
		}
		return containment()
	}
}

// forecastStage projects the next day's case count, computed once per
// distinct region and broadcast to every property in it.
func (p *Pipeline) forecastStage(props []model.Property, asOf time.Time) func() (int, error) {
	return func() (int, error) {
		type projection struct {
			value    int
			lgaTotal bool
			err      error
		}
		cache := map[string]projection{}
		projectionFor := func(region string) projection {
			if v, ok := cache[region]; ok {
				return v
			}
			v := projection{}
			hist, coarse, err := p.merger.History(region)
			if err != nil {
				v.err = err
			} else {
				v.lgaTotal = coarse
				changes := casedata.DailyChanges(hist)
				points := make([]forecast.Point, 0, len(changes))
				for _, c := range changes {
					if c.Date.After(asOf) {
						continue
					}
					points = append(points, forecast.Point{Date: c.Date, Count: c.Count})
				}
				v.value, v.err = forecast.Next(points, p.cfg.Forecast.WindowDays)
			}
			cache[region] = v
			return v
		}

		failures := 0
		for i := range props {
			pr := &props[i]
			resolved := false
			for _, region := range []model.Derived[string]{pr.Suburb, pr.LGA} {
				if !region.IsSet() {
					continue
				}
				v := projectionFor(region.Value)
				if v.err != nil {
					continue
				}
				if v.lgaTotal {
					pr.ForecastCases = model.Approximate(v.value, "linear trend (lga total)")
				} else {
					pr.ForecastCases = model.Exact(v.value, "linear trend")
				}
				resolved = true
				break
			}
			if !resolved {
				failures++
				pr.ForecastCases = model.Missing[int]("no forecast")
			}
		}
		return failures, nil
	}
}
