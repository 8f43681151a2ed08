package repository

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/awaregh/platform/pkg/models"
)

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	def, err := json.Marshal(wf.Definition)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO workflows (id, tenant_id, name, version, definition, is_active, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		wf.ID, wf.TenantID, wf.Name, wf.Version, def, wf.IsActive, wf.CreatedBy, wf.CreatedAt, wf.UpdatedAt)
	return mapError(err)
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	var (
		wf  models.Workflow
		def []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, version, definition, is_active, created_by, created_at, updated_at
		 FROM workflows WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&wf.ID, &wf.TenantID, &wf.Name, &wf.Version, &def, &wf.IsActive, &wf.CreatedBy, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := json.Unmarshal(def, &wf.Definition); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, tenantID string, page PageRequest) ([]*models.Workflow, int, error) {
	page = page.Normalize()

	var total int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM workflows WHERE tenant_id = $1 AND is_active`, tenantID).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, name, version, definition, is_active, created_by, created_at, updated_at
		 FROM workflows WHERE tenant_id = $1 AND is_active
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tenantID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		var (
			wf  models.Workflow
			def []byte
		)
		if err := rows.Scan(&wf.ID, &wf.TenantID, &wf.Name, &wf.Version, &def, &wf.IsActive, &wf.CreatedBy, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(def, &wf.Definition); err != nil {
			return nil, 0, err
		}
		workflows = append(workflows, &wf)
	}
	return workflows, total, rows.Err()
}

func (s *PostgresStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	def, err := json.Marshal(wf.Definition)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE workflows SET name = $1, version = $2, definition = $3, updated_at = $4
		 WHERE tenant_id = $5 AND id = $6 AND is_active`,
		wf.Name, wf.Version, def, wf.UpdatedAt, wf.TenantID, wf.ID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeactivateWorkflow(ctx context.Context, tenantID, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflows SET is_active = FALSE, updated_at = NOW()
		 WHERE tenant_id = $1 AND id = $2 AND is_active`, tenantID, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
