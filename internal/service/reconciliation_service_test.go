package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/jobs"
)

type statsStoreStub struct {
	ids       []string
	failing   map[string]error
	refreshed []string
}

func (s *statsStoreStub) ListIDs(ctx context.Context) ([]string, error) {
	return s.ids, nil
}

func (s *statsStoreStub) RefreshStats(ctx context.Context, id string) (*models.Course, error) {
	if err := s.failing[id]; err != nil {
		return nil, err
	}
	s.refreshed = append(s.refreshed, id)
	return &models.Course{ID: id}, nil
}

type dispatcherStub struct {
	jobs []jobs.Job
}

func (d *dispatcherStub) Enqueue(job jobs.Job) error {
	d.jobs = append(d.jobs, job)
	return nil
}

func TestReconcileAllRequeuesFailedCourses(t *testing.T) {
	store := &statsStoreStub{
		ids: []string{"c1", "c2", "c3", "gone"},
		failing: map[string]error{
			"c2":   errors.New("deadlock detected"),
			"gone": sql.ErrNoRows,
		},
	}
	queue := &dispatcherStub{}
	metrics := NewMetricsService()
	svc := NewReconciliationService(store, queue, nil, metrics, zap.NewNop())

	err := svc.Handle(context.Background(), jobs.Job{ID: "j1", Type: JobReconcileAllCourses})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c3"}, store.refreshed)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, JobReconcileCourse, queue.jobs[0].Type)
	assert.Equal(t, "c2", queue.jobs[0].Payload)
	assert.Equal(t, uint64(1), metrics.Snapshot().JobRuns)
}

func TestReconcileAllWithoutQueueReportsFailure(t *testing.T) {
	store := &statsStoreStub{ids: []string{"c1"}, failing: map[string]error{"c1": errors.New("boom")}}
	svc := NewReconciliationService(store, nil, nil, nil, nil)

	refreshed, err := svc.ReconcileAll(context.Background())
	require.Error(t, err)
	assert.Zero(t, refreshed)
}

func TestReconcileCourseJob(t *testing.T) {
	store := &statsStoreStub{failing: map[string]error{"gone": sql.ErrNoRows}}
	svc := NewReconciliationService(store, nil, nil, nil, nil)

	require.NoError(t, svc.Handle(context.Background(), jobs.Job{Type: JobReconcileCourse, Payload: "c9"}))
	assert.Equal(t, []string{"c9"}, store.refreshed)

	require.NoError(t, svc.Handle(context.Background(), jobs.Job{Type: JobReconcileCourse, Payload: "gone"}))
	require.NoError(t, svc.Handle(context.Background(), jobs.Job{Type: JobReconcileCourse}))
	require.NoError(t, svc.Handle(context.Background(), jobs.Job{Type: "unknown"}))
	assert.Len(t, store.refreshed, 1)
}
