// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package project is the entry point for callers that want a project
// upgraded. It checks the request and hands the work to the queue; the
// migration itself lives in internal/upgrade.
package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/toeirei/ghostshift/internal/crypto"
	"github.com/toeirei/ghostshift/internal/errs"
	"github.com/toeirei/ghostshift/internal/logging"
	"github.com/toeirei/ghostshift/internal/model"
	"github.com/toeirei/ghostshift/internal/permission"
	"github.com/toeirei/ghostshift/internal/queue"
	"github.com/toeirei/ghostshift/internal/security"
	"github.com/toeirei/ghostshift/internal/store"
	"github.com/toeirei/ghostshift/internal/upgrade"
)

// Enqueuer accepts jobs. *queue.Runner implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, name string, data any, opts queue.Options) (*queue.Job, error)
}

// Service starts and reports project upgrades.
type Service struct {
	projects   store.ProjectStore
	jobs       Enqueuer
	authorizer permission.Authorizer
	master     *crypto.MasterKey
}

// NewService wires a Service.
func NewService(projects store.ProjectStore, jobs Enqueuer, authorizer permission.Authorizer, master *crypto.MasterKey) *Service {
	return &Service{projects: projects, jobs: jobs, authorizer: authorizer, master: master}
}

// UpgradeProjectRequest asks for projectID to be moved to V2. UserPrivateKey
// is the actor's plain private key; it only leaves this call sealed.
type UpgradeProjectRequest struct {
	ProjectID      string
	ActorID        string
	UserPrivateKey security.Secret
}

// UpgradeProject validates the request and enqueues the migration job.
func (s *Service) UpgradeProject(ctx context.Context, req UpgradeProjectRequest) (*queue.Job, error) {
	if req.ProjectID == "" || req.ActorID == "" {
		return nil, errors.New("project id and actor id are required")
	}
	if req.UserPrivateKey.Empty() {
		return nil, errors.New("user private key is required")
	}

	decision, err := s.authorizer.Authorize(ctx, req.ActorID, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("authorize upgrade: %w", err)
	}
	if !decision.Granted {
		if decision.Reason != "" {
			return nil, fmt.Errorf("%w: %s", errs.ErrForbidden, decision.Reason)
		}
		return nil, errs.ErrForbidden
	}

	p, err := s.projects.FindProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", req.ProjectID, err)
	}
	if p == nil {
		return nil, fmt.Errorf("project %s: %w", req.ProjectID, errs.ErrNotFound)
	}
	if p.Version != model.ProjectV1 {
		return nil, fmt.Errorf("project %s is already upgraded: %w", req.ProjectID, errs.ErrInvalidState)
	}
	if p.UpgradeStatus == model.UpgradeStatusInProgress {
		return nil, fmt.Errorf("project %s is being upgraded: %w", req.ProjectID, errs.ErrInvalidState)
	}

	sealed, err := upgrade.SealPrivateKey(s.master, req.UserPrivateKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("seal private key: %w", err)
	}
	job, err := s.jobs.Enqueue(ctx, upgrade.QueueName, upgrade.JobName, upgrade.Payload{
		ProjectID:           req.ProjectID,
		StartedByUserID:     req.ActorID,
		EncryptedPrivateKey: sealed,
	}, upgrade.JobOptions)
	if err != nil {
		return nil, fmt.Errorf("enqueue upgrade of %s: %w", req.ProjectID, err)
	}
	logging.With("project", req.ProjectID, "actor", req.ActorID, "job", job.ID).Info("project upgrade queued")
	return job, nil
}

// Status is what a poller sees of a project.
type Status struct {
	ProjectID     string
	Version       model.ProjectVersion
	UpgradeStatus model.UpgradeStatus
}

// UpgradeStatus reports the version and upgrade status of projectID.
func (s *Service) UpgradeStatus(ctx context.Context, projectID string) (Status, error) {
	p, err := s.projects.FindProject(ctx, projectID)
	if err != nil {
		return Status{}, fmt.Errorf("load project %s: %w", projectID, err)
	}
	if p == nil {
		return Status{}, fmt.Errorf("project %s: %w", projectID, errs.ErrNotFound)
	}
	return Status{ProjectID: p.ID, Version: p.Version, UpgradeStatus: p.UpgradeStatus}, nil
}
