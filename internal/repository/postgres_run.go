package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/awaregh/platform/pkg/models"
)

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run, steps []*models.Step) error {
	input, err := marshalMap(run.Input)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (id, tenant_id, workflow_id, workflow_version, status, input, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.TenantID, run.WorkflowID, run.WorkflowVersion, run.Status, input, run.StartedAt)
	if err != nil {
		return mapError(err)
	}

	for _, step := range steps {
		_, err = tx.Exec(ctx,
			`INSERT INTO steps (id, run_id, step_key, type, status, retry_count)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			step.ID, step.RunID, step.StepKey, step.Type, step.Status, step.RetryCount)
		if err != nil {
			return mapError(err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetRun(ctx context.Context, tenantID, id string) (*models.Run, error) {
	return s.getRun(ctx, `SELECT id, tenant_id, workflow_id, workflow_version, status, input, output, error, current_step_key, started_at, completed_at
		 FROM runs WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

func (s *PostgresStore) GetRunByID(ctx context.Context, id string) (*models.Run, error) {
	return s.getRun(ctx, `SELECT id, tenant_id, workflow_id, workflow_version, status, input, output, error, current_step_key, started_at, completed_at
		 FROM runs WHERE id = $1`, id)
}

func (s *PostgresStore) getRun(ctx context.Context, query string, args ...any) (*models.Run, error) {
	var (
		run            models.Run
		input, output  []byte
		errMsg, curKey *string
	)
	err := s.db.QueryRow(ctx, query, args...).
		Scan(&run.ID, &run.TenantID, &run.WorkflowID, &run.WorkflowVersion, &run.Status,
			&input, &output, &errMsg, &curKey, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if run.Input, err = unmarshalMap(input); err != nil {
		return nil, err
	}
	if run.Output, err = unmarshalMap(output); err != nil {
		return nil, err
	}
	if errMsg != nil {
		run.Error = *errMsg
	}
	if curKey != nil {
		run.CurrentStepKey = *curKey
	}
	return &run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, tenantID, workflowID string, status models.RunStatus, page PageRequest) ([]*models.Run, int, error) {
	page = page.Normalize()

	where := `tenant_id = $1 AND workflow_id = $2`
	args := []any{tenantID, workflowID}
	if status != "" {
		where += fmt.Sprintf(` AND status = $%d`, len(args)+1)
		args = append(args, status)
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM runs WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	query := fmt.Sprintf(`SELECT id, tenant_id, workflow_id, workflow_version, status, input, output, error, current_step_key, started_at, completed_at
		 FROM runs WHERE %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset())

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		var (
			run            models.Run
			input, output  []byte
			errMsg, curKey *string
		)
		if err := rows.Scan(&run.ID, &run.TenantID, &run.WorkflowID, &run.WorkflowVersion, &run.Status,
			&input, &output, &errMsg, &curKey, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, 0, err
		}
		if run.Input, err = unmarshalMap(input); err != nil {
			return nil, 0, err
		}
		if run.Output, err = unmarshalMap(output); err != nil {
			return nil, 0, err
		}
		if errMsg != nil {
			run.Error = *errMsg
		}
		if curKey != nil {
			run.CurrentStepKey = *curKey
		}
		runs = append(runs, &run)
	}
	return runs, total, rows.Err()
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.Run) error {
	output, err := marshalMap(run.Output)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE runs SET status = $1, output = $2, error = NULLIF($3, ''), current_step_key = NULLIF($4, ''), completed_at = $5
		 WHERE id = $6`,
		run.Status, output, run.Error, run.CurrentStepKey, run.CompletedAt, run.ID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetStep(ctx context.Context, runID, stepKey string) (*models.Step, error) {
	var (
		step          models.Step
		input, output []byte
		errMsg        *string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, run_id, step_key, type, status, input, output, error, retry_count, started_at, completed_at
		 FROM steps WHERE run_id = $1 AND step_key = $2`, runID, stepKey).
		Scan(&step.ID, &step.RunID, &step.StepKey, &step.Type, &step.Status,
			&input, &output, &errMsg, &step.RetryCount, &step.StartedAt, &step.CompletedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if step.Input, err = unmarshalMap(input); err != nil {
		return nil, err
	}
	if step.Output, err = unmarshalMap(output); err != nil {
		return nil, err
	}
	if errMsg != nil {
		step.Error = *errMsg
	}
	return &step, nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, runID string) ([]*models.Step, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, run_id, step_key, type, status, input, output, error, retry_count, started_at, completed_at
		 FROM steps WHERE run_id = $1 ORDER BY step_key`, runID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var steps []*models.Step
	for rows.Next() {
		var (
			step          models.Step
			input, output []byte
			errMsg        *string
		)
		if err := rows.Scan(&step.ID, &step.RunID, &step.StepKey, &step.Type, &step.Status,
			&input, &output, &errMsg, &step.RetryCount, &step.StartedAt, &step.CompletedAt); err != nil {
			return nil, err
		}
		if step.Input, err = unmarshalMap(input); err != nil {
			return nil, err
		}
		if step.Output, err = unmarshalMap(output); err != nil {
			return nil, err
		}
		if errMsg != nil {
			step.Error = *errMsg
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

func (s *PostgresStore) UpdateStep(ctx context.Context, step *models.Step) error {
	input, err := marshalMap(step.Input)
	if err != nil {
		return err
	}
	output, err := marshalMap(step.Output)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE steps SET status = $1, input = $2, output = $3, error = NULLIF($4, ''), retry_count = $5, started_at = $6, completed_at = $7
		 WHERE id = $8`,
		step.Status, input, output, step.Error, step.RetryCount, step.StartedAt, step.CompletedAt, step.ID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CancelRun(ctx context.Context, tenantID, id string) (*models.Run, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	var run models.Run
	err = tx.QueryRow(ctx,
		`UPDATE runs SET status = $1, completed_at = $2
		 WHERE tenant_id = $3 AND id = $4 AND status IN ($5, $6)
		 RETURNING id, tenant_id, workflow_id, workflow_version, status, started_at, completed_at`,
		models.RunStatusCancelled, now, tenantID, id, models.RunStatusPending, models.RunStatusRunning).
		Scan(&run.ID, &run.TenantID, &run.WorkflowID, &run.WorkflowVersion, &run.Status, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, mapError(err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE steps SET status = $1, completed_at = $2
		 WHERE run_id = $3 AND status IN ($4, $5)`,
		models.StepStatusSkipped, now, id, models.StepStatusPending, models.StepStatusRunning)
	if err != nil {
		return nil, mapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *PostgresStore) SkipPendingSteps(ctx context.Context, runID string) (int, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE steps SET status = $1, completed_at = NOW()
		 WHERE run_id = $2 AND status = $3`,
		models.StepStatusSkipped, runID, models.StepStatusPending)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}
