package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/dickeyy/pr-flow-metrics/scraper"
)

var (
	Pool *pgxpool.Pool
)

// RunMeta identifies where a run's data came from.
type RunMeta struct {
	Provider     string
	Organization string
	Project      string
}

func Init(ctx context.Context, connString string) error {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return err
	}
	Pool = pool
	log.Info().Msg("connected to Postgres")
	return ensureSchema(ctx)
}

func ensureSchema(ctx context.Context) error {
	_, err := Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kpi_runs (
			id UUID PRIMARY KEY,
			provider TEXT NOT NULL,
			organization TEXT NOT NULL,
			project TEXT NOT NULL,
			window_from TIMESTAMPTZ,
			window_to TIMESTAMPTZ,
			repositories INTEGER NOT NULL,
			failed_repositories INTEGER NOT NULL,
			pr_count INTEGER NOT NULL,
			dwell_count INTEGER NOT NULL,
			dwell_p50_seconds DOUBLE PRECISION,
			dwell_p75_seconds DOUBLE PRECISION,
			dwell_p90_seconds DOUBLE PRECISION,
			completion_count INTEGER NOT NULL,
			completion_p50_seconds DOUBLE PRECISION,
			completion_p75_seconds DOUBLE PRECISION,
			completion_p90_seconds DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS pr_kpis (
			provider TEXT NOT NULL,
			repo_id TEXT NOT NULL,
			pr_id INTEGER NOT NULL,
			repo_name TEXT NOT NULL,
			author_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			dwell_seconds DOUBLE PRECISION,
			completion_seconds DOUBLE PRECISION,
			run_id UUID NOT NULL REFERENCES kpi_runs (id),
			PRIMARY KEY (provider, repo_id, pr_id)
		);
	`)
	return err
}

// prRow is one pr_kpis row.
type prRow struct {
	RepoID            string
	RepoName          string
	PRID              int
	AuthorID          string
	Status            string
	CreatedAt         time.Time
	DwellSeconds      *float64
	CompletionSeconds *float64
}

func seconds(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	v := d.Seconds()
	return &v
}

// prRows flattens the per-pull-request KPIs of every processed repository.
func prRows(res *scraper.Result) []prRow {
	var rows []prRow
	for _, rep := range res.Repositories {
		if rep.Failed() || rep.Summary == nil {
			continue
		}
		for _, k := range rep.Summary.KPIs {
			rows = append(rows, prRow{
				RepoID:            rep.Repository.ID,
				RepoName:          rep.Repository.Name,
				PRID:              k.PullRequestID,
				AuthorID:          k.AuthorID,
				Status:            string(k.Status),
				CreatedAt:         k.CreatedAt,
				DwellSeconds:      seconds(k.Dwell),
				CompletionSeconds: seconds(k.Completion),
			})
		}
	}
	return rows
}

// SaveRun stores the run summary and upserts every pull request's KPIs in a
// single transaction. It returns the new run id.
func SaveRun(ctx context.Context, meta RunMeta, res *scraper.Result) (uuid.UUID, error) {
	if Pool == nil {
		return uuid.Nil, fmt.Errorf("database is not initialized")
	}

	id := uuid.New()
	tx, err := Pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO kpi_runs (
			id, provider, organization, project, window_from, window_to,
			repositories, failed_repositories, pr_count,
			dwell_count, dwell_p50_seconds, dwell_p75_seconds, dwell_p90_seconds,
			completion_count, completion_p50_seconds, completion_p75_seconds, completion_p90_seconds
		)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17);
	`,
		id.String(), meta.Provider, meta.Organization, meta.Project, res.Window.From, res.Window.To,
		len(res.Repositories), len(res.Failed()), res.PRCount,
		res.Dwell.Count, seconds(res.Dwell.P50), seconds(res.Dwell.P75), seconds(res.Dwell.P90),
		res.Completion.Count, seconds(res.Completion.P50), seconds(res.Completion.P75), seconds(res.Completion.P90),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	rows := prRows(res)
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO pr_kpis (provider, repo_id, pr_id, repo_name, author_id, status, created_at, dwell_seconds, completion_seconds, run_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::uuid)
			ON CONFLICT (provider, repo_id, pr_id)
			DO UPDATE SET
				repo_name = EXCLUDED.repo_name,
				author_id = EXCLUDED.author_id,
				status = EXCLUDED.status,
				created_at = EXCLUDED.created_at,
				dwell_seconds = EXCLUDED.dwell_seconds,
				completion_seconds = EXCLUDED.completion_seconds,
				run_id = EXCLUDED.run_id;
		`, meta.Provider, row.RepoID, row.PRID, row.RepoName, row.AuthorID, row.Status, row.CreatedAt,
			row.DwellSeconds, row.CompletionSeconds, id.String())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return uuid.Nil, fmt.Errorf("upsert pull request KPIs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	log.Info().Str("run_id", id.String()).Int("pr_rows", len(rows)).Msg("saved run")
	return id, nil
}

func Close() {
	if Pool != nil {
		Pool.Close()
	}
}
