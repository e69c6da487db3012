package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"XetraCast/internal/domain/models"
	domrepo "XetraCast/internal/domain/repository"
	applogger "XetraCast/pkg/logger"
)

// SQLiteRegistry records training jobs, endpoints and served forecasts in a
// local SQLite file.
type SQLiteRegistry struct {
	db *sql.DB
	l  *applogger.Logger
}

// NewSQLiteRegistry opens (or creates) the registry database and migrates it.
func NewSQLiteRegistry(path string, l *applogger.Logger) (*SQLiteRegistry, error) {
	if l == nil {
		l = applogger.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the CLI and the dashboard may share the file.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	r := &SQLiteRegistry{db: db, l: l.With("registry")}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r.l.Info("sqlite registry opened", applogger.String("path", path))
	return r, nil
}

func (r *SQLiteRegistry) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS training_jobs (
			name             TEXT PRIMARY KEY,
			image            TEXT,
			status           TEXT NOT NULL,
			hyperparameters  TEXT,
			train_uri        TEXT,
			test_uri         TEXT,
			model_artifact   TEXT,
			failure_reason   TEXT,
			billable_seconds INTEGER,
			created_at       INTEGER NOT NULL,
			finished_at      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON training_jobs(created_at)`,

		`CREATE TABLE IF NOT EXISTS endpoints (
			name           TEXT PRIMARY KEY,
			model_name     TEXT,
			config_name    TEXT,
			training_job   TEXT,
			instance_type  TEXT,
			status         TEXT NOT NULL,
			failure_reason TEXT,
			created_at     INTEGER NOT NULL,
			deleted_at     INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS forecasts (
			id         TEXT PRIMARY KEY,
			endpoint   TEXT,
			symbol     TEXT NOT NULL,
			start      INTEGER NOT NULL,
			horizon    INTEGER,
			payload    BLOB,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_forecasts_symbol ON forecasts(symbol, created_at)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks that the database file is still usable.
func (r *SQLiteRegistry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

func (r *SQLiteRegistry) SaveTrainingJob(ctx context.Context, job *models.TrainingJob) error {
	hp, err := json.Marshal(job.Hyperparameters)
	if err != nil {
		return fmt.Errorf("encode hyperparameters: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO training_jobs (name, image, status, hyperparameters, train_uri, test_uri,
			model_artifact, failure_reason, billable_seconds, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			status = excluded.status,
			model_artifact = excluded.model_artifact,
			failure_reason = excluded.failure_reason,
			billable_seconds = excluded.billable_seconds,
			finished_at = excluded.finished_at`,
		job.Name, job.Image, job.Status, string(hp), job.TrainURI, job.TestURI,
		job.ModelArtifact, job.FailureReason, job.BillableSeconds, toMillis(job.CreatedAt), toMillis(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("save training job %s: %w", job.Name, err)
	}
	return nil
}

const jobColumns = `name, image, status, hyperparameters, train_uri, test_uri,
	model_artifact, failure_reason, billable_seconds, created_at, finished_at`

func (r *SQLiteRegistry) GetTrainingJob(ctx context.Context, name string) (*models.TrainingJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM training_jobs WHERE name = ?`, name)
	return scanJob(row)
}

// LatestTrainingJob returns the most recent completed job.
func (r *SQLiteRegistry) LatestTrainingJob(ctx context.Context) (*models.TrainingJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM training_jobs
		WHERE status = ? ORDER BY created_at DESC LIMIT 1`, models.StatusCompleted)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*models.TrainingJob, error) {
	var (
		job              models.TrainingJob
		image, hp        sql.NullString
		train, test      sql.NullString
		artifact, reason sql.NullString
		billable         sql.NullInt64
		created          int64
		finished         sql.NullInt64
	)
	err := row.Scan(&job.Name, &image, &job.Status, &hp, &train, &test, &artifact, &reason, &billable, &created, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domrepo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan training job: %w", err)
	}
	job.Image = image.String
	job.TrainURI = train.String
	job.TestURI = test.String
	job.ModelArtifact = artifact.String
	job.FailureReason = reason.String
	job.BillableSeconds = billable.Int64
	job.CreatedAt = fromMillis(created)
	job.FinishedAt = fromMillis(finished.Int64)
	if hp.String != "" {
		if err := json.Unmarshal([]byte(hp.String), &job.Hyperparameters); err != nil {
			return nil, fmt.Errorf("decode hyperparameters: %w", err)
		}
	}
	return &job, nil
}

func (r *SQLiteRegistry) SaveEndpoint(ctx context.Context, ep *models.Endpoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO endpoints (name, model_name, config_name, training_job, instance_type,
			status, failure_reason, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			model_name = excluded.model_name,
			config_name = excluded.config_name,
			training_job = excluded.training_job,
			instance_type = excluded.instance_type,
			status = excluded.status,
			failure_reason = excluded.failure_reason,
			created_at = excluded.created_at,
			deleted_at = excluded.deleted_at`,
		ep.Name, ep.ModelName, ep.ConfigName, ep.TrainingJob, ep.InstanceType,
		ep.Status, ep.FailureReason, toMillis(ep.CreatedAt), toMillis(ep.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("save endpoint %s: %w", ep.Name, err)
	}
	return nil
}

const endpointColumns = `name, model_name, config_name, training_job, instance_type,
	status, failure_reason, created_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (*models.Endpoint, error) {
	var (
		ep               models.Endpoint
		model, cfg, job  sql.NullString
		instance, reason sql.NullString
		created          int64
		deleted          sql.NullInt64
	)
	if err := row.Scan(&ep.Name, &model, &cfg, &job, &instance, &ep.Status, &reason, &created, &deleted); err != nil {
		return nil, err
	}
	ep.ModelName = model.String
	ep.ConfigName = cfg.String
	ep.TrainingJob = job.String
	ep.InstanceType = instance.String
	ep.FailureReason = reason.String
	ep.CreatedAt = fromMillis(created)
	ep.DeletedAt = fromMillis(deleted.Int64)
	return &ep, nil
}

func (r *SQLiteRegistry) GetEndpoint(ctx context.Context, name string) (*models.Endpoint, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE name = ?`, name)
	ep, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domrepo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan endpoint: %w", err)
	}
	return ep, nil
}

func (r *SQLiteRegistry) MarkEndpointDeleted(ctx context.Context, name string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE endpoints SET status = ?, deleted_at = ? WHERE name = ?`,
		models.StatusDeleted, toMillis(at), name)
	if err != nil {
		return fmt.Errorf("mark endpoint %s deleted: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domrepo.ErrNotFound
	}
	return nil
}

// ActiveEndpoints lists endpoints that have not been deleted, newest first.
func (r *SQLiteRegistry) ActiveEndpoints(ctx context.Context) ([]models.Endpoint, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+endpointColumns+` FROM endpoints
		WHERE status != ? ORDER BY created_at DESC`, models.StatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("query endpoints: %w", err)
	}
	defer rows.Close()

	var out []models.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

func (r *SQLiteRegistry) SaveForecast(ctx context.Context, rec *models.ForecastRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO forecasts (id, endpoint, symbol, start, horizon, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Endpoint, rec.Symbol, toMillis(rec.Start), rec.Horizon, rec.Payload, toMillis(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save forecast %s: %w", rec.ID, err)
	}
	return nil
}

// ListForecasts returns up to limit records for symbol, newest first. An
// empty symbol lists all symbols.
func (r *SQLiteRegistry) ListForecasts(ctx context.Context, symbol string, limit int) ([]models.ForecastRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, endpoint, symbol, start, horizon, payload, created_at
		FROM forecasts
		WHERE ? = '' OR symbol = ?
		ORDER BY created_at DESC
		LIMIT ?`, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query forecasts: %w", err)
	}
	defer rows.Close()

	var out []models.ForecastRecord
	for rows.Next() {
		var (
			rec            models.ForecastRecord
			endpoint       sql.NullString
			start, created int64
			horizon        sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &endpoint, &rec.Symbol, &start, &horizon, &rec.Payload, &created); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		rec.Endpoint = endpoint.String
		rec.Horizon = int(horizon.Int64)
		rec.Start = fromMillis(start)
		rec.CreatedAt = fromMillis(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
