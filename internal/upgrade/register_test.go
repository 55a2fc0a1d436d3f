// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package upgrade

import (
	"context"
	"strings"
	"testing"

	"github.com/toeirei/ghostshift/internal/model"
	"github.com/toeirei/ghostshift/internal/queue"
	"github.com/toeirei/ghostshift/internal/store"
	"github.com/toeirei/ghostshift/internal/testutil"
)

func TestRegister_RunsQueuedMigration(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx := context.Background()
	r := queue.New(f.Store.BunDB())
	Register(r, NewEngine(f.Store, f.MasterKey))

	job, err := r.Enqueue(ctx, QueueName, JobName, payloadFor(t, f, f.Owner), JobOptions)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if processed, err := r.ProcessNext(ctx, QueueName); err != nil || !processed {
		t.Fatalf("ProcessNext: processed=%v err=%v", processed, err)
	}
	if p := f.Reload(t); p.Version != model.ProjectV2 {
		t.Fatalf("project not migrated: %+v", p)
	}
	if j, _ := r.Get(ctx, job.ID); j != nil {
		t.Fatalf("successful job should be removed, got %+v", j)
	}
}

func TestRegister_FailedJobIsKept(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx := context.Background()
	r := queue.New(f.Store.BunDB())
	Register(r, NewEngine(f.Store, f.MasterKey))

	p := payloadFor(t, f, f.Owner)
	p.ProjectID = "missing"
	if _, err := r.Enqueue(ctx, QueueName, JobName, p, JobOptions); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := r.ProcessNext(ctx, QueueName); err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}
	failed, err := r.List(ctx, QueueName, queue.StatusFailed)
	if err != nil || len(failed) != 1 {
		t.Fatalf("failed jobs: %d %v", len(failed), err)
	}
	if !strings.Contains(failed[0].Error, "not found") || failed[0].AttemptsMade != 1 {
		t.Fatalf("unexpected failed job: %+v", failed[0])
	}
}

// cancelOnClaim stops the worker as soon as the project is marked
// IN_PROGRESS.
type cancelOnClaim struct {
	store.Store
	cancel context.CancelFunc
}

func (s cancelOnClaim) ClaimUpgrade(ctx context.Context, id string) error {
	err := s.Store.ClaimUpgrade(ctx, id)
	s.cancel()
	return err
}

func TestRegister_ShutdownDoesNotAbortMigration(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := queue.New(f.Store.BunDB())
	Register(r, NewEngine(cancelOnClaim{Store: f.Store, cancel: cancel}, f.MasterKey))

	job, err := r.Enqueue(ctx, QueueName, JobName, payloadFor(t, f, f.Owner), JobOptions)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if processed, err := r.ProcessNext(ctx, QueueName); err != nil || !processed {
		t.Fatalf("ProcessNext: processed=%v err=%v", processed, err)
	}
	if ctx.Err() == nil {
		t.Fatalf("worker context was not cancelled")
	}
	if p := f.Reload(t); p.Version != model.ProjectV2 || p.UpgradeStatus != model.UpgradeStatusNone {
		t.Fatalf("migration did not run to completion: %+v", p)
	}
	if j, _ := r.Get(context.Background(), job.ID); j != nil {
		t.Fatalf("successful job should be removed, got %+v", j)
	}
}
