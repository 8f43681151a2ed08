// Package memory holds an in-memory repository.Store used by unit tests.
// Semantics mirror the Postgres implementation,
// including uniqueness checks and the activation transactions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/awaregh/platform/internal/repository"
	"github.com/awaregh/platform/pkg/models"
)

type Store struct {
	mu sync.Mutex

	tenants   map[string]*models.Tenant
	users     map[string]*models.User
	workflows map[string]*models.Workflow
	runs      map[string]*models.Run
	steps     map[string]*models.Step // keyed runID+"/"+stepKey
	events    []*models.Event
	sites     map[string]*models.Site
	pages     map[string]*models.Page
	versions  map[string]*models.SiteVersion
	buildJobs map[string]*models.BuildJob
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		tenants:   make(map[string]*models.Tenant),
		users:     make(map[string]*models.User),
		workflows: make(map[string]*models.Workflow),
		runs:      make(map[string]*models.Run),
		steps:     make(map[string]*models.Step),
		sites:     make(map[string]*models.Site),
		pages:     make(map[string]*models.Page),
		versions:  make(map[string]*models.SiteVersion),
		buildJobs: make(map[string]*models.BuildJob),
	}
}

func stepKey(runID, key string) string {
	return runID + "/" + key
}

func paginate[T any](items []T, page repository.PageRequest) ([]T, int) {
	page = page.Normalize()
	total := len(items)
	start := page.Offset()
	if start >= total {
		return nil, total
	}
	end := start + page.Limit
	if end > total {
		end = total
	}
	return items[start:end], total
}

func (s *Store) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tenant
	s.tenants[tenant.ID] = &cp
	return nil
}

func (s *Store) GetTenant(_ context.Context, id string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return fmt.Errorf("%w: users_email_key", models.ErrConflict)
		}
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Store) GetUser(_ context.Context, tenantID, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) CreateWorkflow(_ context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *Store) GetWorkflow(_ context.Context, tenantID, id string) (*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok || wf.TenantID != tenantID {
		return nil, models.ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

func (s *Store) ListWorkflows(_ context.Context, tenantID string, page repository.PageRequest) ([]*models.Workflow, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Workflow
	for _, wf := range s.workflows {
		if wf.TenantID == tenantID && wf.IsActive {
			cp := *wf
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	items, total := paginate(out, page)
	return items, total, nil
}

func (s *Store) UpdateWorkflow(_ context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.workflows[wf.ID]
	if !ok || existing.TenantID != wf.TenantID || !existing.IsActive {
		return models.ErrNotFound
	}
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *Store) DeactivateWorkflow(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok || wf.TenantID != tenantID || !wf.IsActive {
		return models.ErrNotFound
	}
	wf.IsActive = false
	return nil
}

func (s *Store) CreateRun(_ context.Context, run *models.Run, steps []*models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	for _, step := range steps {
		sc := *step
		s.steps[stepKey(step.RunID, step.StepKey)] = &sc
	}
	return nil
}

func (s *Store) GetRun(_ context.Context, tenantID, id string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.TenantID != tenantID {
		return nil, models.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *Store) GetRunByID(_ context.Context, id string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *Store) ListRuns(_ context.Context, tenantID, workflowID string, status models.RunStatus, page repository.PageRequest) ([]*models.Run, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Run
	for _, run := range s.runs {
		if run.TenantID != tenantID || run.WorkflowID != workflowID {
			continue
		}
		if status != "" && run.Status != status {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	items, total := paginate(out, page)
	return items, total, nil
}

func (s *Store) UpdateRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return models.ErrNotFound
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *Store) GetStep(_ context.Context, runID, key string) (*models.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[stepKey(runID, key)]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *step
	return &cp, nil
}

func (s *Store) ListSteps(_ context.Context, runID string) ([]*models.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Step
	for k, step := range s.steps {
		if strings.HasPrefix(k, runID+"/") {
			cp := *step
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepKey < out[j].StepKey })
	return out, nil
}

func (s *Store) UpdateStep(_ context.Context, step *models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := stepKey(step.RunID, step.StepKey)
	if _, ok := s.steps[k]; !ok {
		return models.ErrNotFound
	}
	cp := *step
	s.steps[k] = &cp
	return nil
}

func (s *Store) CancelRun(_ context.Context, tenantID, id string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.TenantID != tenantID {
		return nil, models.ErrNotFound
	}
	if run.Status != models.RunStatusPending && run.Status != models.RunStatusRunning {
		return nil, models.ErrNotFound
	}
	now := time.Now().UTC()
	run.Status = models.RunStatusCancelled
	run.CompletedAt = &now
	for k, step := range s.steps {
		if !strings.HasPrefix(k, id+"/") {
			continue
		}
		if step.Status == models.StepStatusPending || step.Status == models.StepStatusRunning {
			step.Status = models.StepStatusSkipped
			step.CompletedAt = &now
		}
	}
	cp := *run
	return &cp, nil
}

func (s *Store) SkipPendingSteps(_ context.Context, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	skipped := 0
	for k, step := range s.steps {
		if !strings.HasPrefix(k, runID+"/") {
			continue
		}
		if step.Status == models.StepStatusPending {
			step.Status = models.StepStatusSkipped
			step.CompletedAt = &now
			skipped++
		}
	}
	return skipped, nil
}

func (s *Store) AppendEvent(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *Store) ListEvents(_ context.Context, runID string, since time.Time, page repository.PageRequest) ([]*models.Event, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Event
	for _, ev := range s.events {
		if ev.RunID == runID && ev.Timestamp.After(since) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	items, total := paginate(out, page)
	return items, total, nil
}
