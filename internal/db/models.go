// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"time"

	"github.com/toeirei/ghostshift/internal/model"
	"github.com/uptrace/bun"
)

// ProjectModel maps the projects table.
type ProjectModel struct {
	bun.BaseModel `bun:"table:projects"`
	ID            string         `bun:"id,pk"`
	OrgID         string         `bun:"org_id"`
	Name          string         `bun:"name"`
	Version       int            `bun:"version"`
	UpgradeStatus sql.NullString `bun:"upgrade_status"`
	CreatedAt     time.Time      `bun:"created_at"`
}

// UserModel maps users.
type UserModel struct {
	bun.BaseModel `bun:"table:users"`
	ID            string    `bun:"id,pk"`
	Email         string    `bun:"email"`
	IsGhost       bool      `bun:"is_ghost"`
	CreatedAt     time.Time `bun:"created_at"`
}

// UserEncryptionKeyModel maps user_encryption_keys.
type UserEncryptionKeyModel struct {
	bun.BaseModel       `bun:"table:user_encryption_keys"`
	UserID              string `bun:"user_id,pk"`
	PublicKey           string `bun:"public_key"`
	EncryptedPrivateKey string `bun:"encrypted_private_key"`
	IV                  string `bun:"iv"`
	Tag                 string `bun:"tag"`
	KeyEncoding         string `bun:"key_encoding"`
}

// OrgMembershipModel maps org_memberships.
type OrgMembershipModel struct {
	bun.BaseModel `bun:"table:org_memberships"`
	ID            string    `bun:"id,pk"`
	OrgID         string    `bun:"org_id"`
	UserID        string    `bun:"user_id"`
	Role          string    `bun:"role"`
	CreatedAt     time.Time `bun:"created_at"`
}

// ProjectMembershipModel maps project_memberships.
type ProjectMembershipModel struct {
	bun.BaseModel `bun:"table:project_memberships"`
	ID            string    `bun:"id,pk"`
	ProjectID     string    `bun:"project_id"`
	UserID        string    `bun:"user_id"`
	Role          string    `bun:"role"`
	CreatedAt     time.Time `bun:"created_at"`
}

// ProjectKeyModel maps project_keys.
type ProjectKeyModel struct {
	bun.BaseModel `bun:"table:project_keys"`
	ID            string    `bun:"id,pk"`
	ProjectID     string    `bun:"project_id"`
	ReceiverID    string    `bun:"receiver_id"`
	SenderID      string    `bun:"sender_id"`
	EncryptedKey  string    `bun:"encrypted_key"`
	Nonce         string    `bun:"nonce"`
	CreatedAt     time.Time `bun:"created_at"`
}

// ProjectBotModel maps project_bots.
type ProjectBotModel struct {
	bun.BaseModel            `bun:"table:project_bots"`
	ID                       string         `bun:"id,pk"`
	Name                     string         `bun:"name"`
	ProjectID                string         `bun:"project_id"`
	PublicKey                string         `bun:"public_key"`
	EncryptedPrivateKey      string         `bun:"encrypted_private_key"`
	IV                       string         `bun:"iv"`
	Tag                      string         `bun:"tag"`
	Algorithm                string         `bun:"algorithm"`
	KeyEncoding              string         `bun:"key_encoding"`
	SenderID                 sql.NullString `bun:"sender_id"`
	EncryptedProjectKey      sql.NullString `bun:"encrypted_project_key"`
	EncryptedProjectKeyNonce sql.NullString `bun:"encrypted_project_key_nonce"`
	IsActive                 bool           `bun:"is_active"`
	CreatedAt                time.Time      `bun:"created_at"`
}

// EnvironmentModel maps project_environments.
type EnvironmentModel struct {
	bun.BaseModel `bun:"table:project_environments"`
	ID            string `bun:"id,pk"`
	ProjectID     string `bun:"project_id"`
	Name          string `bun:"name"`
	Slug          string `bun:"slug"`
}

// FolderModel maps secret_folders.
type FolderModel struct {
	bun.BaseModel `bun:"table:secret_folders"`
	ID            string         `bun:"id,pk"`
	EnvID         string         `bun:"env_id"`
	ParentID      sql.NullString `bun:"parent_id"`
	Name          string         `bun:"name"`
}

// encryptedColumns is embedded with a column prefix, e.g. secret_key_iv.
type encryptedColumns struct {
	Ciphertext string `bun:"ciphertext"`
	IV         string `bun:"iv"`
	Tag        string `bun:"tag"`
}

// SecretModel maps secrets.
type SecretModel struct {
	bun.BaseModel `bun:"table:secrets"`
	ID            string           `bun:"id,pk"`
	FolderID      string           `bun:"folder_id"`
	Version       int              `bun:"version"`
	Type          string           `bun:"type"`
	UserID        sql.NullString   `bun:"user_id"`
	SecretKey     encryptedColumns `bun:"embed:secret_key_"`
	SecretValue   encryptedColumns `bun:"embed:secret_value_"`
	SecretComment encryptedColumns `bun:"embed:secret_comment_"`
	Algorithm     string           `bun:"algorithm"`
	KeyEncoding   string           `bun:"key_encoding"`
	CreatedAt     time.Time        `bun:"created_at"`
	UpdatedAt     time.Time        `bun:"updated_at"`
}

// SecretVersionModel maps secret_versions.
type SecretVersionModel struct {
	bun.BaseModel `bun:"table:secret_versions"`
	ID            string           `bun:"id,pk"`
	SecretID      string           `bun:"secret_id"`
	FolderID      string           `bun:"folder_id"`
	EnvID         string           `bun:"env_id"`
	Version       int              `bun:"version"`
	Type          string           `bun:"type"`
	SecretKey     encryptedColumns `bun:"embed:secret_key_"`
	SecretValue   encryptedColumns `bun:"embed:secret_value_"`
	SecretComment encryptedColumns `bun:"embed:secret_comment_"`
	Algorithm     string           `bun:"algorithm"`
	KeyEncoding   string           `bun:"key_encoding"`
	CreatedAt     time.Time        `bun:"created_at"`
}

// ApprovalRequestModel maps secret_approval_requests.
type ApprovalRequestModel struct {
	bun.BaseModel `bun:"table:secret_approval_requests"`
	ID            string    `bun:"id,pk"`
	FolderID      string    `bun:"folder_id"`
	Status        string    `bun:"status"`
	CreatedAt     time.Time `bun:"created_at"`
}

// ApprovalSecretModel maps secret_approval_request_secrets.
type ApprovalSecretModel struct {
	bun.BaseModel `bun:"table:secret_approval_request_secrets"`
	ID            string           `bun:"id,pk"`
	RequestID     string           `bun:"request_id"`
	SecretID      sql.NullString   `bun:"secret_id"`
	Op            string           `bun:"op"`
	Version       int              `bun:"version"`
	SecretKey     encryptedColumns `bun:"embed:secret_key_"`
	SecretValue   encryptedColumns `bun:"embed:secret_value_"`
	SecretComment encryptedColumns `bun:"embed:secret_comment_"`
	Algorithm     string           `bun:"algorithm"`
	KeyEncoding   string           `bun:"key_encoding"`
	CreatedAt     time.Time        `bun:"created_at"`
}

// IntegrationAuthModel maps integration_auths.
type IntegrationAuthModel struct {
	bun.BaseModel `bun:"table:integration_auths"`
	ID            string           `bun:"id,pk"`
	ProjectID     string           `bun:"project_id"`
	Integration   string           `bun:"integration"`
	TeamID        sql.NullString   `bun:"team_id"`
	URL           sql.NullString   `bun:"url"`
	Access        encryptedColumns `bun:"embed:access_"`
	AccessID      encryptedColumns `bun:"embed:access_id_"`
	Refresh       encryptedColumns `bun:"embed:refresh_"`
	Algorithm     string           `bun:"algorithm"`
	KeyEncoding   string           `bun:"key_encoding"`
	CreatedAt     time.Time        `bun:"created_at"`
	UpdatedAt     time.Time        `bun:"updated_at"`
}

// Columns rewritten by the bulk updates of each record kind.
var (
	secretFieldColumns = []string{
		"secret_key_ciphertext", "secret_key_iv", "secret_key_tag",
		"secret_value_ciphertext", "secret_value_iv", "secret_value_tag",
		"secret_comment_ciphertext", "secret_comment_iv", "secret_comment_tag",
		"algorithm", "key_encoding",
	}
	integrationAuthColumns = []string{
		"access_ciphertext", "access_iv", "access_tag",
		"access_id_ciphertext", "access_id_iv", "access_id_tag",
		"refresh_ciphertext", "refresh_iv", "refresh_tag",
		"algorithm", "key_encoding",
	}
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toColumns(f model.EncryptedField) encryptedColumns {
	return encryptedColumns{Ciphertext: f.Ciphertext, IV: f.IV, Tag: f.Tag}
}

func (c encryptedColumns) field() model.EncryptedField {
	return model.EncryptedField{Ciphertext: c.Ciphertext, IV: c.IV, Tag: c.Tag}
}

func projectModelToModel(p ProjectModel) model.Project {
	return model.Project{
		ID:            p.ID,
		OrgID:         p.OrgID,
		Name:          p.Name,
		Version:       model.ProjectVersion(p.Version),
		UpgradeStatus: model.UpgradeStatus(p.UpgradeStatus.String),
		CreatedAt:     p.CreatedAt,
	}
}

func userEncryptionKeyModelToModel(k UserEncryptionKeyModel) model.UserEncryptionKey {
	return model.UserEncryptionKey{
		UserID:              k.UserID,
		PublicKey:           k.PublicKey,
		EncryptedPrivateKey: k.EncryptedPrivateKey,
		IV:                  k.IV,
		Tag:                 k.Tag,
		KeyEncoding:         model.KeyEncoding(k.KeyEncoding),
	}
}

func projectKeyModelToModel(k ProjectKeyModel) model.ProjectKey {
	return model.ProjectKey{
		ID:           k.ID,
		ProjectID:    k.ProjectID,
		ReceiverID:   k.ReceiverID,
		SenderID:     k.SenderID,
		EncryptedKey: k.EncryptedKey,
		Nonce:        k.Nonce,
		CreatedAt:    k.CreatedAt,
	}
}

func projectKeyToModel(k model.ProjectKey) ProjectKeyModel {
	return ProjectKeyModel{
		ID:           k.ID,
		ProjectID:    k.ProjectID,
		ReceiverID:   k.ReceiverID,
		SenderID:     k.SenderID,
		EncryptedKey: k.EncryptedKey,
		Nonce:        k.Nonce,
		CreatedAt:    k.CreatedAt,
	}
}

func projectBotModelToModel(b ProjectBotModel) model.ProjectBot {
	return model.ProjectBot{
		ID:                       b.ID,
		Name:                     b.Name,
		ProjectID:                b.ProjectID,
		PublicKey:                b.PublicKey,
		EncryptedPrivateKey:      b.EncryptedPrivateKey,
		IV:                       b.IV,
		Tag:                      b.Tag,
		Algorithm:                b.Algorithm,
		KeyEncoding:              model.KeyEncoding(b.KeyEncoding),
		SenderID:                 b.SenderID.String,
		EncryptedProjectKey:      b.EncryptedProjectKey.String,
		EncryptedProjectKeyNonce: b.EncryptedProjectKeyNonce.String,
		IsActive:                 b.IsActive,
		CreatedAt:                b.CreatedAt,
	}
}

func secretModelToModel(s SecretModel) model.Secret {
	return model.Secret{
		ID:            s.ID,
		FolderID:      s.FolderID,
		Version:       s.Version,
		Type:          model.SecretType(s.Type),
		UserID:        s.UserID.String,
		SecretKey:     s.SecretKey.field(),
		SecretValue:   s.SecretValue.field(),
		SecretComment: s.SecretComment.field(),
		Algorithm:     s.Algorithm,
		KeyEncoding:   model.KeyEncoding(s.KeyEncoding),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func secretToModel(s model.Secret) SecretModel {
	return SecretModel{
		ID:            s.ID,
		FolderID:      s.FolderID,
		Version:       s.Version,
		Type:          string(s.Type),
		UserID:        nullString(s.UserID),
		SecretKey:     toColumns(s.SecretKey),
		SecretValue:   toColumns(s.SecretValue),
		SecretComment: toColumns(s.SecretComment),
		Algorithm:     s.Algorithm,
		KeyEncoding:   string(s.KeyEncoding),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func secretVersionModelToModel(v SecretVersionModel) model.SecretVersion {
	return model.SecretVersion{
		ID:            v.ID,
		SecretID:      v.SecretID,
		FolderID:      v.FolderID,
		EnvID:         v.EnvID,
		Version:       v.Version,
		Type:          model.SecretType(v.Type),
		SecretKey:     v.SecretKey.field(),
		SecretValue:   v.SecretValue.field(),
		SecretComment: v.SecretComment.field(),
		Algorithm:     v.Algorithm,
		KeyEncoding:   model.KeyEncoding(v.KeyEncoding),
		CreatedAt:     v.CreatedAt,
	}
}

func secretVersionToModel(v model.SecretVersion) SecretVersionModel {
	return SecretVersionModel{
		ID:            v.ID,
		SecretID:      v.SecretID,
		FolderID:      v.FolderID,
		EnvID:         v.EnvID,
		Version:       v.Version,
		Type:          string(v.Type),
		SecretKey:     toColumns(v.SecretKey),
		SecretValue:   toColumns(v.SecretValue),
		SecretComment: toColumns(v.SecretComment),
		Algorithm:     v.Algorithm,
		KeyEncoding:   string(v.KeyEncoding),
		CreatedAt:     v.CreatedAt,
	}
}

func approvalSecretModelToModel(a ApprovalSecretModel) model.ApprovalSecret {
	return model.ApprovalSecret{
		ID:            a.ID,
		RequestID:     a.RequestID,
		SecretID:      a.SecretID.String,
		Op:            a.Op,
		Version:       a.Version,
		SecretKey:     a.SecretKey.field(),
		SecretValue:   a.SecretValue.field(),
		SecretComment: a.SecretComment.field(),
		Algorithm:     a.Algorithm,
		KeyEncoding:   model.KeyEncoding(a.KeyEncoding),
		CreatedAt:     a.CreatedAt,
	}
}

func approvalSecretToModel(a model.ApprovalSecret) ApprovalSecretModel {
	return ApprovalSecretModel{
		ID:            a.ID,
		RequestID:     a.RequestID,
		SecretID:      nullString(a.SecretID),
		Op:            a.Op,
		Version:       a.Version,
		SecretKey:     toColumns(a.SecretKey),
		SecretValue:   toColumns(a.SecretValue),
		SecretComment: toColumns(a.SecretComment),
		Algorithm:     a.Algorithm,
		KeyEncoding:   string(a.KeyEncoding),
		CreatedAt:     a.CreatedAt,
	}
}

func integrationAuthModelToModel(i IntegrationAuthModel) model.IntegrationAuth {
	return model.IntegrationAuth{
		ID:          i.ID,
		ProjectID:   i.ProjectID,
		Integration: i.Integration,
		TeamID:      i.TeamID.String,
		URL:         i.URL.String,
		Access:      i.Access.field(),
		AccessID:    i.AccessID.field(),
		Refresh:     i.Refresh.field(),
		Algorithm:   i.Algorithm,
		KeyEncoding: model.KeyEncoding(i.KeyEncoding),
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	}
}

func integrationAuthToModel(i model.IntegrationAuth) IntegrationAuthModel {
	return IntegrationAuthModel{
		ID:          i.ID,
		ProjectID:   i.ProjectID,
		Integration: i.Integration,
		TeamID:      nullString(i.TeamID),
		URL:         nullString(i.URL),
		Access:      toColumns(i.Access),
		AccessID:    toColumns(i.AccessID),
		Refresh:     toColumns(i.Refresh),
		Algorithm:   i.Algorithm,
		KeyEncoding: string(i.KeyEncoding),
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	}
}
