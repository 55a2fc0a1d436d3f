// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/toeirei/ghostshift/internal/model"
	"github.com/uptrace/bun"
)

func (s *BunStore) ListEnvironments(ctx context.Context, projectID string) ([]model.Environment, error) {
	var rows []EnvironmentModel
	if err := s.db.NewSelect().Model(&rows).Where("project_id = ?", projectID).Order("id").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Environment, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Environment{ID: r.ID, ProjectID: r.ProjectID, Name: r.Name, Slug: r.Slug})
	}
	return out, nil
}

func (s *BunStore) ListFolders(ctx context.Context, envIDs []string) ([]model.Folder, error) {
	if len(envIDs) == 0 {
		return nil, nil
	}
	var rows []FolderModel
	if err := s.db.NewSelect().Model(&rows).Where("env_id IN (?)", bun.In(envIDs)).Order("id").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Folder, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Folder{ID: r.ID, EnvID: r.EnvID, ParentID: r.ParentID.String, Name: r.Name})
	}
	return out, nil
}

func (s *BunStore) ListSecrets(ctx context.Context, folderID string) ([]model.Secret, error) {
	var rows []SecretModel
	if err := s.db.NewSelect().Model(&rows).Where("folder_id = ?", folderID).Order("id").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Secret, 0, len(rows))
	for _, r := range rows {
		out = append(out, secretModelToModel(r))
	}
	return out, nil
}

func (s *BunStore) ListSecretVersions(ctx context.Context, folderID string, limit int) ([]model.SecretVersion, error) {
	var rows []SecretVersionModel
	q := s.db.NewSelect().Model(&rows).Where("folder_id = ?", folderID).OrderExpr("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.SecretVersion, 0, len(rows))
	for _, r := range rows {
		out = append(out, secretVersionModelToModel(r))
	}
	return out, nil
}

// ListSecretVersionIDsBeyond selects every id in retention order and drops
// the first keep. OFFSET without LIMIT is not portable across the dialects.
func (s *BunStore) ListSecretVersionIDsBeyond(ctx context.Context, folderID string, keep int) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().Model((*SecretVersionModel)(nil)).
		Column("id").
		Where("folder_id = ?", folderID).
		OrderExpr("created_at DESC, id DESC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(ids) <= keep {
		return nil, nil
	}
	return ids[keep:], nil
}

func (s *BunStore) ListOpenApprovalRequests(ctx context.Context, folderID string) ([]model.ApprovalRequest, error) {
	var rows []ApprovalRequestModel
	err := s.db.NewSelect().Model(&rows).
		Where("folder_id = ?", folderID).
		Where("status = ?", string(model.ApprovalOpen)).
		Order("id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ApprovalRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ApprovalRequest{ID: r.ID, FolderID: r.FolderID, Status: model.ApprovalRequestStatus(r.Status), CreatedAt: r.CreatedAt})
	}
	return out, nil
}

func (s *BunStore) ListApprovalSecrets(ctx context.Context, requestIDs []string) ([]model.ApprovalSecret, error) {
	if len(requestIDs) == 0 {
		return nil, nil
	}
	var rows []ApprovalSecretModel
	if err := s.db.NewSelect().Model(&rows).Where("request_id IN (?)", bun.In(requestIDs)).Order("id").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.ApprovalSecret, 0, len(rows))
	for _, r := range rows {
		out = append(out, approvalSecretModelToModel(r))
	}
	return out, nil
}

func (s *BunStore) ListIntegrationAuths(ctx context.Context, projectID string) ([]model.IntegrationAuth, error) {
	var rows []IntegrationAuthModel
	if err := s.db.NewSelect().Model(&rows).Where("project_id = ?", projectID).Order("id").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.IntegrationAuth, 0, len(rows))
	for _, r := range rows {
		out = append(out, integrationAuthModelToModel(r))
	}
	return out, nil
}

// Bulk updates rewrite only the encrypted columns plus algorithm and
// key_encoding, one statement per row, and report the rows matched.

func (s *BunStore) UpdateSecrets(ctx context.Context, rows []model.Secret) (int, error) {
	total := 0
	for _, r := range rows {
		m := secretToModel(r)
		res, err := s.db.NewUpdate().Model(&m).Column(secretFieldColumns...).WherePK().Exec(ctx)
		if err != nil {
			return total, err
		}
		total += rowsAffected(res)
	}
	return total, nil
}

func (s *BunStore) UpdateSecretVersions(ctx context.Context, rows []model.SecretVersion) (int, error) {
	total := 0
	for _, r := range rows {
		m := secretVersionToModel(r)
		res, err := s.db.NewUpdate().Model(&m).Column(secretFieldColumns...).WherePK().Exec(ctx)
		if err != nil {
			return total, err
		}
		total += rowsAffected(res)
	}
	return total, nil
}

func (s *BunStore) UpdateApprovalSecrets(ctx context.Context, rows []model.ApprovalSecret) (int, error) {
	total := 0
	for _, r := range rows {
		m := approvalSecretToModel(r)
		res, err := s.db.NewUpdate().Model(&m).Column(secretFieldColumns...).WherePK().Exec(ctx)
		if err != nil {
			return total, err
		}
		total += rowsAffected(res)
	}
	return total, nil
}

func (s *BunStore) UpdateIntegrationAuths(ctx context.Context, rows []model.IntegrationAuth) (int, error) {
	total := 0
	for _, r := range rows {
		m := integrationAuthToModel(r)
		res, err := s.db.NewUpdate().Model(&m).Column(integrationAuthColumns...).WherePK().Exec(ctx)
		if err != nil {
			return total, err
		}
		total += rowsAffected(res)
	}
	return total, nil
}

func (s *BunStore) DeleteSecretVersions(ctx context.Context, ids []string) (int, error) {
	total := 0
	for _, part := range chunk(ids, deleteChunkSize) {
		res, err := s.db.NewDelete().Model((*SecretVersionModel)(nil)).Where("id IN (?)", bun.In(part)).Exec(ctx)
		if err != nil {
			return total, err
		}
		total += rowsAffected(res)
	}
	return total, nil
}

// Record creation. The migration never creates records; these serve
// seeding and imports.

// CreateEnvironment inserts an environment.
func (s *BunStore) CreateEnvironment(ctx context.Context, e *model.Environment) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m := EnvironmentModel{ID: e.ID, ProjectID: e.ProjectID, Name: e.Name, Slug: e.Slug}
	_, err := s.db.NewInsert().Model(&m).Exec(ctx)
	return MapDBError(err)
}

// CreateFolder inserts a folder.
func (s *BunStore) CreateFolder(ctx context.Context, f *model.Folder) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	m := FolderModel{ID: f.ID, EnvID: f.EnvID, ParentID: nullString(f.ParentID), Name: f.Name}
	_, err := s.db.NewInsert().Model(&m).Exec(ctx)
	return MapDBError(err)
}

// CreateApprovalRequest inserts an approval request.
func (s *BunStore) CreateApprovalRequest(ctx context.Context, r *model.ApprovalRequest) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	m := ApprovalRequestModel{ID: r.ID, FolderID: r.FolderID, Status: string(r.Status), CreatedAt: r.CreatedAt}
	_, err := s.db.NewInsert().Model(&m).Exec(ctx)
	return MapDBError(err)
}

// InsertSecrets bulk inserts secrets, assigning missing ids and timestamps.
func (s *BunStore) InsertSecrets(ctx context.Context, rows []model.Secret) error {
	if len(rows) == 0 {
		return nil
	}
	ms := make([]SecretModel, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now()
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = r.CreatedAt
		}
		ms = append(ms, secretToModel(*r))
	}
	_, err := s.db.NewInsert().Model(&ms).Exec(ctx)
	return MapDBError(err)
}

// InsertSecretVersions bulk inserts secret versions.
func (s *BunStore) InsertSecretVersions(ctx context.Context, rows []model.SecretVersion) error {
	if len(rows) == 0 {
		return nil
	}
	ms := make([]SecretVersionModel, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now()
		}
		ms = append(ms, secretVersionToModel(*r))
	}
	_, err := s.db.NewInsert().Model(&ms).Exec(ctx)
	return MapDBError(err)
}

// InsertApprovalSecrets bulk inserts approval snapshot secrets.
func (s *BunStore) InsertApprovalSecrets(ctx context.Context, rows []model.ApprovalSecret) error {
	if len(rows) == 0 {
		return nil
	}
	ms := make([]ApprovalSecretModel, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now()
		}
		ms = append(ms, approvalSecretToModel(*r))
	}
	_, err := s.db.NewInsert().Model(&ms).Exec(ctx)
	return MapDBError(err)
}

// InsertIntegrationAuths bulk inserts integration credentials.
func (s *BunStore) InsertIntegrationAuths(ctx context.Context, rows []model.IntegrationAuth) error {
	if len(rows) == 0 {
		return nil
	}
	ms := make([]IntegrationAuthModel, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now()
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = r.CreatedAt
		}
		ms = append(ms, integrationAuthToModel(*r))
	}
	_, err := s.db.NewInsert().Model(&ms).Exec(ctx)
	return MapDBError(err)
}
