// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "time"

// KeyEncoding records how the key used for a ciphertext was encoded.
type KeyEncoding string

const (
	EncodingUTF8   KeyEncoding = "utf8"
	EncodingBase64 KeyEncoding = "base64"
)

// AlgorithmAES256GCM is the only symmetric algorithm written by this system.
const AlgorithmAES256GCM = "aes-256-gcm"

// EncryptedField is one logical secret field as stored: base64 ciphertext,
// initialization vector and authentication tag.
type EncryptedField struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
}

// IsZero reports whether nothing was ever stored in the field.
func (f EncryptedField) IsZero() bool {
	return f.Ciphertext == "" && f.IV == "" && f.Tag == ""
}

// SecretType distinguishes shared secrets from personal overrides.
type SecretType string

const (
	SecretShared   SecretType = "shared"
	SecretPersonal SecretType = "personal"
)

// Secret is the current value of a secret in a folder.
type Secret struct {
	ID            string         `json:"id"`
	FolderID      string         `json:"folderId"`
	Version       int            `json:"version"`
	Type          SecretType     `json:"type"`
	UserID        string         `json:"userId,omitempty"`
	SecretKey     EncryptedField `json:"secretKey"`
	SecretValue   EncryptedField `json:"secretValue"`
	SecretComment EncryptedField `json:"secretComment"`
	Algorithm     string         `json:"algorithm"`
	KeyEncoding   KeyEncoding    `json:"keyEncoding"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// SecretVersion is a historical snapshot of a secret.
type SecretVersion struct {
	ID            string         `json:"id"`
	SecretID      string         `json:"secretId"`
	FolderID      string         `json:"folderId"`
	EnvID         string         `json:"envId"`
	Version       int            `json:"version"`
	Type          SecretType     `json:"type"`
	SecretKey     EncryptedField `json:"secretKey"`
	SecretValue   EncryptedField `json:"secretValue"`
	SecretComment EncryptedField `json:"secretComment"`
	Algorithm     string         `json:"algorithm"`
	KeyEncoding   KeyEncoding    `json:"keyEncoding"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// ApprovalSecret is the proposed secret content attached to an approval
// request.
type ApprovalSecret struct {
	ID            string         `json:"id"`
	RequestID     string         `json:"requestId"`
	SecretID      string         `json:"secretId,omitempty"`
	Op            string         `json:"op"`
	Version       int            `json:"version"`
	SecretKey     EncryptedField `json:"secretKey"`
	SecretValue   EncryptedField `json:"secretValue"`
	SecretComment EncryptedField `json:"secretComment"`
	Algorithm     string         `json:"algorithm"`
	KeyEncoding   KeyEncoding    `json:"keyEncoding"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// IntegrationAuth is third-party credentials used by a project integration.
type IntegrationAuth struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"projectId"`
	Integration string         `json:"integration"`
	TeamID      string         `json:"teamId,omitempty"`
	URL         string         `json:"url,omitempty"`
	Access      EncryptedField `json:"access"`
	AccessID    EncryptedField `json:"accessId"`
	Refresh     EncryptedField `json:"refresh"`
	Algorithm   string         `json:"algorithm"`
	KeyEncoding KeyEncoding    `json:"keyEncoding"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}
