package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/awaregh/platform/pkg/models"
)

func (s *PostgresStore) CreateVersionWithJob(ctx context.Context, version *models.SiteVersion, job *models.BuildJob) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO site_versions (id, site_id, tenant_id, version, artifact_prefix, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		version.ID, version.SiteID, version.TenantID, version.Version,
		version.ArtifactPrefix, version.Status, version.CreatedAt)
	if err != nil {
		return mapError(err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO build_jobs (id, site_version_id, tenant_id, status, retry_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.SiteVersionID, job.TenantID, job.Status, job.RetryCount, job.CreatedAt)
	if err != nil {
		return mapError(err)
	}

	return tx.Commit(ctx)
}

const versionColumns = `id, site_id, tenant_id, version, artifact_prefix, status, page_count, asset_size, COALESCE(manifest_hash, ''), COALESCE(build_duration_ms, 0), published_at, created_at`

func scanVersion(row interface{ Scan(...any) error }) (*models.SiteVersion, error) {
	var v models.SiteVersion
	err := row.Scan(&v.ID, &v.SiteID, &v.TenantID, &v.Version, &v.ArtifactPrefix, &v.Status,
		&v.PageCount, &v.AssetSize, &v.ManifestHash, &v.BuildDurationMs, &v.PublishedAt, &v.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &v, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, siteID, id string) (*models.SiteVersion, error) {
	return scanVersion(s.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM site_versions WHERE site_id = $1 AND id = $2`, siteID, id))
}

func (s *PostgresStore) GetVersionByID(ctx context.Context, id string) (*models.SiteVersion, error) {
	return scanVersion(s.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM site_versions WHERE id = $1`, id))
}

func (s *PostgresStore) ListVersions(ctx context.Context, siteID string, page PageRequest) ([]*models.SiteVersion, int, error) {
	page = page.Normalize()

	var total int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM site_versions WHERE site_id = $1`, siteID).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+versionColumns+` FROM site_versions WHERE site_id = $1
		 ORDER BY version DESC LIMIT $2 OFFSET $3`,
		siteID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	var versions []*models.SiteVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, 0, err
		}
		versions = append(versions, v)
	}
	return versions, total, rows.Err()
}

func (s *PostgresStore) NextVersionNumber(ctx context.Context, siteID string) (int, error) {
	var max int
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM site_versions WHERE site_id = $1`, siteID).Scan(&max)
	if err != nil {
		return 0, mapError(err)
	}
	return max + 1, nil
}

func (s *PostgresStore) GetBuildJob(ctx context.Context, id string) (*models.BuildJob, error) {
	var (
		job              models.BuildJob
		workerID, errMsg *string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, site_version_id, tenant_id, status, retry_count, worker_id, error, started_at, completed_at, created_at
		 FROM build_jobs WHERE id = $1`, id).
		Scan(&job.ID, &job.SiteVersionID, &job.TenantID, &job.Status, &job.RetryCount,
			&workerID, &errMsg, &job.StartedAt, &job.CompletedAt, &job.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if workerID != nil {
		job.WorkerID = *workerID
	}
	if errMsg != nil {
		job.Error = *errMsg
	}
	return &job, nil
}

func (s *PostgresStore) UpdateBuildJob(ctx context.Context, job *models.BuildJob) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE build_jobs SET status = $1, retry_count = $2, worker_id = NULLIF($3, ''), error = NULLIF($4, ''), started_at = $5, completed_at = $6
		 WHERE id = $7`,
		job.Status, job.RetryCount, job.WorkerID, job.Error, job.StartedAt, job.CompletedAt, job.ID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ActivateVersion(ctx context.Context, version *models.SiteVersion, jobID string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	// Row lock on the site serializes concurrent activations.
	var activeVersionID *string
	err = tx.QueryRow(ctx,
		`SELECT active_version_id FROM sites WHERE id = $1 FOR UPDATE`, version.SiteID).
		Scan(&activeVersionID)
	if err != nil {
		return mapError(err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE site_versions SET status = $1, page_count = $2, asset_size = $3, manifest_hash = $4, build_duration_ms = $5, published_at = $6
		 WHERE id = $7`,
		models.VersionStatusReady, version.PageCount, version.AssetSize,
		version.ManifestHash, version.BuildDurationMs, now, version.ID)
	if err != nil {
		return mapError(err)
	}

	if activeVersionID != nil && *activeVersionID != version.ID {
		_, err = tx.Exec(ctx,
			`UPDATE site_versions SET status = $1 WHERE id = $2`,
			models.VersionStatusSuperseded, *activeVersionID)
		if err != nil {
			return mapError(err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE sites SET active_version_id = $1, updated_at = $2 WHERE id = $3`,
		version.ID, now, version.SiteID)
	if err != nil {
		return mapError(err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE build_jobs SET status = $1, completed_at = $2 WHERE id = $3`,
		models.BuildJobCompleted, now, jobID)
	if err != nil {
		return mapError(err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) FailVersion(ctx context.Context, versionID, jobID, reason string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	_, err = tx.Exec(ctx,
		`UPDATE site_versions SET status = $1 WHERE id = $2`,
		models.VersionStatusFailed, versionID)
	if err != nil {
		return mapError(err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE build_jobs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		models.BuildJobFailed, reason, now, jobID)
	if err != nil {
		return mapError(err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) PromoteVersion(ctx context.Context, siteID, targetVersionID string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var activeVersionID *string
	err = tx.QueryRow(ctx,
		`SELECT active_version_id FROM sites WHERE id = $1 FOR UPDATE`, siteID).
		Scan(&activeVersionID)
	if err != nil {
		return mapError(err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE site_versions SET status = $1 WHERE id = $2 AND site_id = $3`,
		models.VersionStatusReady, targetVersionID, siteID)
	if err != nil {
		return mapError(err)
	}

	if activeVersionID != nil && *activeVersionID != targetVersionID {
		_, err = tx.Exec(ctx,
			`UPDATE site_versions SET status = $1 WHERE id = $2`,
			models.VersionStatusSuperseded, *activeVersionID)
		if err != nil {
			return mapError(err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE sites SET active_version_id = $1, updated_at = NOW() WHERE id = $2`,
		targetVersionID, siteID)
	if err != nil {
		return mapError(err)
	}

	return tx.Commit(ctx)
}
