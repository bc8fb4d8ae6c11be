package store

import (
	"context"

	"github.com/melbdata/enrich-cli/internal/geoindex"
	"github.com/melbdata/enrich-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the enrichment pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, properties int) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Stages
	SaveStage(ctx context.Context, runID string, stage model.StageResult) error
	ListStages(ctx context.Context, runID string) ([]model.StageResult, error)

	// Enriched output rows, in pipeline output order.
	SaveProperties(ctx context.Context, runID string, rows []model.ExportRow) error
	ListProperties(ctx context.Context, runID string) ([]model.ExportRow, error)

	// Boundary cache. Load order is preserved so region resolution stays
	// deterministic across restarts.
	SaveRegions(ctx context.Context, regions []geoindex.Region) error
	LoadRegions(ctx context.Context, kind model.RegionKind) ([]geoindex.Region, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
