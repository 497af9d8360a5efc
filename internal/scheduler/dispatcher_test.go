package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
)

type fakeScheduleRepo struct {
	resetNextRuns func(ctx context.Context, computeNext func(*domain.Schedule) time.Time) (int, error)
	claimAndFire  func(ctx context.Context, limit int, computeNext func(*domain.Schedule) time.Time) ([]*domain.JobRun, error)
}

func (f *fakeScheduleRepo) Create(_ context.Context, s *domain.Schedule) (*domain.Schedule, error) {
	return s, nil
}

func (f *fakeScheduleRepo) GetByID(_ context.Context, _, _ string) (*domain.Schedule, error) {
	return nil, domain.ErrScheduleNotFound
}

func (f *fakeScheduleRepo) List(_ context.Context, _ string) ([]*domain.Schedule, error) {
	return nil, nil
}

func (f *fakeScheduleRepo) Update(_ context.Context, s *domain.Schedule) (*domain.Schedule, error) {
	return s, nil
}

func (f *fakeScheduleRepo) Delete(_ context.Context, _, _ string) error { return nil }

func (f *fakeScheduleRepo) ResetNextRuns(ctx context.Context, computeNext func(*domain.Schedule) time.Time) (int, error) {
	return f.resetNextRuns(ctx, computeNext)
}

func (f *fakeScheduleRepo) ClaimAndFire(ctx context.Context, limit int, computeNext func(*domain.Schedule) time.Time) ([]*domain.JobRun, error) {
	return f.claimAndFire(ctx, limit, computeNext)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(repo *fakeScheduleRepo) *Dispatcher {
	return NewDispatcher(repo, testLogger(), time.Minute)
}

func TestComputeNext_AlwaysInFuture(t *testing.T) {
	d := newTestDispatcher(&fakeScheduleRepo{})
	s := &domain.Schedule{ID: "sched-1", CronExpression: "*/5 * * * *"}

	now := time.Now()
	next := d.computeNext(s)
	if !next.After(now) {
		t.Errorf("next = %v, not after %v", next, now)
	}
	if next.After(now.Add(5 * time.Minute)) {
		t.Errorf("next = %v, more than one interval out", next)
	}
}

func TestComputeNext_SkipsMissedFires(t *testing.T) {
	// A schedule that last pointed three days into the past must jump
	// straight to the next future fire, not replay every missed occurrence.
	d := newTestDispatcher(&fakeScheduleRepo{})
	stale := time.Now().Add(-72 * time.Hour)
	s := &domain.Schedule{ID: "sched-1", CronExpression: "*/10 * * * *", NextRunAt: &stale}

	now := time.Now()
	next := d.computeNext(s)
	if !next.After(now) {
		t.Errorf("next = %v, still in the past", next)
	}
	if next.After(now.Add(10 * time.Minute)) {
		t.Errorf("next = %v, skipped past the first future fire", next)
	}
}

func TestComputeNext_InvalidExpressionFallsBack(t *testing.T) {
	d := newTestDispatcher(&fakeScheduleRepo{})
	s := &domain.Schedule{ID: "sched-1", CronExpression: "garbage"}

	now := time.Now()
	next := d.computeNext(s)
	if next.Before(now.Add(59 * time.Minute)) || next.After(now.Add(61 * time.Minute)) {
		t.Errorf("next = %v, want about an hour out", next)
	}
}

func TestDispatch_ClaimsWithBatchLimit(t *testing.T) {
	var gotLimit int
	repo := &fakeScheduleRepo{
		claimAndFire: func(_ context.Context, limit int, computeNext func(*domain.Schedule) time.Time) ([]*domain.JobRun, error) {
			gotLimit = limit
			if computeNext == nil {
				t.Error("claim received no computeNext")
			}
			return []*domain.JobRun{{ID: "run-1"}}, nil
		},
	}
	d := newTestDispatcher(repo)

	d.dispatch(context.Background())
	if gotLimit != 100 {
		t.Errorf("limit = %d, want 100", gotLimit)
	}
}

func TestResetOnStartup_PropagatesError(t *testing.T) {
	dbErr := errors.New("db down")
	repo := &fakeScheduleRepo{
		resetNextRuns: func(_ context.Context, _ func(*domain.Schedule) time.Time) (int, error) {
			return 0, dbErr
		},
	}
	d := newTestDispatcher(repo)

	if err := d.ResetOnStartup(context.Background()); !errors.Is(err, dbErr) {
		t.Errorf("want dbErr, got %v", err)
	}
}

func TestResetOnStartup_CountsResets(t *testing.T) {
	repo := &fakeScheduleRepo{
		resetNextRuns: func(_ context.Context, computeNext func(*domain.Schedule) time.Time) (int, error) {
			// The repository applies computeNext per enabled schedule.
			s := &domain.Schedule{CronExpression: "0 * * * *"}
			if next := computeNext(s); !next.After(time.Now()) {
				t.Errorf("computeNext returned %v", next)
			}
			return 3, nil
		},
	}
	d := newTestDispatcher(repo)

	if err := d.ResetOnStartup(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
