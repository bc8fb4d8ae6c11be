package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	_ "modernc.org/sqlite"

	"github.com/melbdata/enrich-cli/internal/geoindex"
	"github.com/melbdata/enrich-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'queued',
	properties INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_stages (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	failures    INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_properties (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	position    INTEGER NOT NULL,
	property_id TEXT NOT NULL,
	row         TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS regions (
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	position   INTEGER NOT NULL,
	population INTEGER NOT NULL DEFAULT 0,
	boundary   BLOB NOT NULL,
	PRIMARY KEY (kind, name)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_stages_run_id ON run_stages(run_id);
CREATE INDEX IF NOT EXISTS idx_run_properties_run_id ON run_properties(run_id);
CREATE INDEX IF NOT EXISTS idx_regions_kind ON regions(kind, position);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, properties int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, properties, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(model.RunStatusQueued), properties, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:         id,
		Status:     model.RunStatusQueued,
		Properties: properties,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, properties, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)

	var r model.Run
	err := row.Scan(&r.ID, &r.Status, &r.Properties, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, properties, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.Status, &r.Properties, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveStage(ctx context.Context, runID string, stage model.StageResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_stages (id, run_id, name, duration_ms, failures, error, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, stage.Name, stage.DurationMS, stage.Failures, stage.Error, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert stage %s for run %s", stage.Name, runID)
}

func (s *SQLiteStore) ListStages(ctx context.Context, runID string) ([]model.StageResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, duration_ms, failures, error FROM run_stages WHERE run_id = ? ORDER BY recorded_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list stages for run %s", runID)
	}
	defer rows.Close()

	var stages []model.StageResult
	for rows.Next() {
		var st model.StageResult
		var errMsg sql.NullString
		if err := rows.Scan(&st.Name, &st.DurationMS, &st.Failures, &errMsg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage")
		}
		st.Error = errMsg.String
		stages = append(stages, st)
	}
	return stages, eris.Wrap(rows.Err(), "sqlite: list stages iterate")
}

func (s *SQLiteStore) SaveProperties(ctx context.Context, runID string, rows []model.ExportRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save properties")
	}
	defer tx.Rollback()

	for i, row := range rows {
		rowJSON, err := json.Marshal(row)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal property %s", row.ID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO run_properties (run_id, position, property_id, row) VALUES (?, ?, ?, ?)`,
			runID, i, row.ID, string(rowJSON),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert property %s", row.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save properties")
}

func (s *SQLiteStore) ListProperties(ctx context.Context, runID string) ([]model.ExportRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row FROM run_properties WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list properties for run %s", runID)
	}
	defer rows.Close()

	var out []model.ExportRow
	for rows.Next() {
		var rowJSON string
		if err := rows.Scan(&rowJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan property row")
		}
		var er model.ExportRow
		if err := json.Unmarshal([]byte(rowJSON), &er); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal property row")
		}
		out = append(out, er)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list properties iterate")
}

// SaveRegions replaces the cached boundaries for every kind present in the
// given slice. Boundaries are stored as EWKB; positions record load order so
// resolution order survives the cache round trip.
func (s *SQLiteStore) SaveRegions(ctx context.Context, regions []geoindex.Region) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save regions")
	}
	defer tx.Rollback()

	kinds := map[model.RegionKind]bool{}
	for _, r := range regions {
		kinds[r.Kind] = true
	}
	for kind := range kinds {
		if _, err := tx.ExecContext(ctx, `DELETE FROM regions WHERE kind = ?`, string(kind)); err != nil {
			return eris.Wrapf(err, "sqlite: clear %s regions", kind)
		}
	}

	for i, r := range regions {
		if r.Boundary == nil {
			continue
		}
		data, err := ewkb.Marshal(r.Boundary, ewkb.NDR)
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode boundary %s", r.Name)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO regions (kind, name, position, population, boundary) VALUES (?, ?, ?, ?, ?)`,
			string(r.Kind), r.Name, i, r.Population, data,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert region %s", r.Name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save regions")
}

func (s *SQLiteStore) LoadRegions(ctx context.Context, kind model.RegionKind) ([]geoindex.Region, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, population, boundary FROM regions WHERE kind = ? ORDER BY position`,
		string(kind),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load %s regions", kind)
	}
	defer rows.Close()

	var regions []geoindex.Region
	for rows.Next() {
		var r geoindex.Region
		var data []byte
		if err := rows.Scan(&r.Name, &r.Population, &data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan region")
		}
		g, err := ewkb.Unmarshal(data)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode boundary %s", r.Name)
		}
		mp, ok := g.(*geom.MultiPolygon)
		if !ok {
			return nil, eris.Errorf("sqlite: region %s: unexpected geometry %T", r.Name, g)
		}
		r.Kind = kind
		r.Boundary = mp
		regions = append(regions, r)
	}
	return regions, eris.Wrap(rows.Err(), "sqlite: load regions iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
