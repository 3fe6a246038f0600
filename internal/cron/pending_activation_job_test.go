package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/verdeviva/verdeviva-backend/internal/reconciler"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
)

type fakeSweeper struct {
	stats reconciler.SweepStats
	err   error
	runs  int
}

func (f *fakeSweeper) SweepOnce(ctx context.Context) (reconciler.SweepStats, error) {
	f.runs++
	if ctx.Err() != nil {
		return reconciler.SweepStats{}, ctx.Err()
	}
	return f.stats, f.err
}

func TestPendingActivationJobReportsSweepStats(t *testing.T) {
	sweeper := &fakeSweeper{stats: reconciler.SweepStats{Scanned: 3, Activated: 2, NotApproved: 1}}
	job, err := NewPendingActivationJob(PendingActivationJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Sweeper: sweeper,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sweeper.runs != 1 {
		t.Fatalf("expected one sweep, got %d", sweeper.runs)
	}
}

func TestPendingActivationJobPropagatesSweepErrors(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("boom")}
	job, err := NewPendingActivationJob(PendingActivationJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Sweeper: sweeper,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
