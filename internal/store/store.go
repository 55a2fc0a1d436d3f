// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package store defines the persistence contract consumed by the migration
// engine and its collaborators. Keep these interfaces minimal; they describe
// side-effect boundaries. The bun-backed implementation lives in
// internal/db.
//
// Finders return (nil, nil) when nothing matches. Bulk writes return the
// number of rows the database reports as affected, so callers can detect
// silently dropped writes.
package store

import (
	"context"

	"github.com/toeirei/ghostshift/internal/model"
)

// ProjectStore reads and mutates project rows. SetUpgradeStatus is the single
// write path for the upgrade status.
type ProjectStore interface {
	FindProject(ctx context.Context, id string) (*model.Project, error)
	// FindProjectWithVersion only matches when the project is at version v.
	FindProjectWithVersion(ctx context.Context, id string, v model.ProjectVersion) (*model.Project, error)
	// SetProjectVersion only moves a project that is still V1.
	SetProjectVersion(ctx context.Context, id string, v model.ProjectVersion) error
	// ClaimUpgrade sets IN_PROGRESS only when the project is V1 with a null
	// or FAILED status.
	ClaimUpgrade(ctx context.Context, id string) error
	SetUpgradeStatus(ctx context.Context, id string, status model.UpgradeStatus) error
}

// KeyStore manages the project key roster and the project bot.
type KeyStore interface {
	// FindLatestProjectKey returns the newest key wrapped for receiverID,
	// with SenderPublicKey resolved.
	FindLatestProjectKey(ctx context.Context, receiverID, projectID string) (*model.ProjectKey, error)
	ListProjectKeys(ctx context.Context, projectID string) ([]model.ProjectKey, error)
	CreateProjectKey(ctx context.Context, key *model.ProjectKey) error
	InsertProjectKeys(ctx context.Context, keys []model.ProjectKey) error
	DeleteProjectKeys(ctx context.Context, projectID string, ids []string) (int, error)

	FindProjectBot(ctx context.Context, projectID string) (*model.ProjectBot, error)
	CreateProjectBot(ctx context.Context, bot *model.ProjectBot) error
	DeleteProjectBot(ctx context.Context, id string) error
}

// IdentityStore manages users, their encryption keys and memberships.
type IdentityStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	CreateUserEncryptionKey(ctx context.Context, k *model.UserEncryptionKey) error
	FindUserEncryptionKey(ctx context.Context, userID string) (*model.UserEncryptionKey, error)
	CreateOrgMembership(ctx context.Context, m *model.OrgMembership) error
	FindOrgMembership(ctx context.Context, userID, orgID string) (*model.OrgMembership, error)
	CreateProjectMembership(ctx context.Context, m *model.ProjectMembership) error
	FindProjectMembership(ctx context.Context, userID, projectID string) (*model.ProjectMembership, error)
}

// RecordStore reads and rewrites the encrypted records of a project.
type RecordStore interface {
	ListEnvironments(ctx context.Context, projectID string) ([]model.Environment, error)
	ListFolders(ctx context.Context, envIDs []string) ([]model.Folder, error)

	ListSecrets(ctx context.Context, folderID string) ([]model.Secret, error)
	// ListSecretVersions returns the newest limit versions of a folder,
	// newest first.
	ListSecretVersions(ctx context.Context, folderID string, limit int) ([]model.SecretVersion, error)
	// ListSecretVersionIDsBeyond returns the ids of every version of a folder
	// that is not among the newest keep versions.
	ListSecretVersionIDsBeyond(ctx context.Context, folderID string, keep int) ([]string, error)
	ListOpenApprovalRequests(ctx context.Context, folderID string) ([]model.ApprovalRequest, error)
	ListApprovalSecrets(ctx context.Context, requestIDs []string) ([]model.ApprovalSecret, error)
	ListIntegrationAuths(ctx context.Context, projectID string) ([]model.IntegrationAuth, error)

	UpdateSecrets(ctx context.Context, rows []model.Secret) (int, error)
	UpdateSecretVersions(ctx context.Context, rows []model.SecretVersion) (int, error)
	UpdateApprovalSecrets(ctx context.Context, rows []model.ApprovalSecret) (int, error)
	UpdateIntegrationAuths(ctx context.Context, rows []model.IntegrationAuth) (int, error)
	DeleteSecretVersions(ctx context.Context, ids []string) (int, error)
}

// Store is the full persistence surface.
type Store interface {
	ProjectStore
	KeyStore
	IdentityStore
	RecordStore

	// RunInTx runs fn inside one transaction at the strongest isolation the
	// backend offers. fn receives a Store bound to the transaction; any error
	// returned (or panic) rolls everything back. Calling RunInTx on a
	// transaction-bound store reuses the open transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
