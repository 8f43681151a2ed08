package repository

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/awaregh/platform/pkg/models"
)

func (s *PostgresStore) AppendEvent(ctx context.Context, event *models.Event) error {
	payload, err := marshalMap(event.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO events (id, run_id, step_id, step_key, type, payload, ts)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)`,
		event.ID, event.RunID, event.StepID, event.StepKey, event.Type, payload, event.Timestamp)
	return mapError(err)
}

func (s *PostgresStore) ListEvents(ctx context.Context, runID string, since time.Time, page PageRequest) ([]*models.Event, int, error) {
	page = page.Normalize()

	var total int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE run_id = $1 AND ts > $2`, runID, since).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, run_id, step_id, step_key, type, payload, ts
		 FROM events WHERE run_id = $1 AND ts > $2
		 ORDER BY ts ASC LIMIT $3 OFFSET $4`,
		runID, since, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var (
			ev              models.Event
			stepID, stepKey *string
			payload         []byte
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &stepID, &stepKey, &ev.Type, &payload, &ev.Timestamp); err != nil {
			return nil, 0, err
		}
		if stepID != nil {
			ev.StepID = *stepID
		}
		if stepKey != nil {
			ev.StepKey = *stepKey
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, 0, err
			}
		}
		events = append(events, &ev)
	}
	return events, total, rows.Err()
}
