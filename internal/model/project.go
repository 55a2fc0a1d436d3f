// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"fmt"
	"time"
)

// ProjectVersion identifies the key hierarchy a project uses. V1 projects are
// encrypted under a human member's key; V2 projects under a ghost identity.
type ProjectVersion int

const (
	ProjectV1 ProjectVersion = 1
	ProjectV2 ProjectVersion = 2
)

func (v ProjectVersion) String() string { return fmt.Sprintf("v%d", int(v)) }

// UpgradeStatus is the project-level migration state. The empty value is
// stored as NULL and means "no migration running".
type UpgradeStatus string

const (
	UpgradeStatusNone       UpgradeStatus = ""
	UpgradeStatusInProgress UpgradeStatus = "IN_PROGRESS"
	UpgradeStatusFailed     UpgradeStatus = "FAILED"
)

func (s UpgradeStatus) String() string {
	if s == UpgradeStatusNone {
		return "none"
	}
	return string(s)
}

// MembershipRole is shared by org and project memberships.
type MembershipRole string

const (
	RoleAdmin  MembershipRole = "admin"
	RoleMember MembershipRole = "member"
)

// Project is a container of environments, folders and secrets.
type Project struct {
	ID            string
	OrgID         string
	Name          string
	Version       ProjectVersion
	UpgradeStatus UpgradeStatus
	CreatedAt     time.Time
}

// CanStartUpgrade reports whether a migration may start for this project.
func (p Project) CanStartUpgrade() bool {
	if p.Version != ProjectV1 {
		return false
	}
	return p.UpgradeStatus == UpgradeStatusNone || p.UpgradeStatus == UpgradeStatusFailed
}

// ProjectKey is one copy of the project's symmetric key, asymmetrically
// wrapped for a single receiver by a sender.
type ProjectKey struct {
	ID           string
	ProjectID    string
	ReceiverID   string
	SenderID     string
	EncryptedKey string
	Nonce        string
	CreatedAt    time.Time

	// SenderPublicKey is resolved on read; it is not a column of project_keys.
	SenderPublicKey string
}

// User is a human or ghost account.
type User struct {
	ID        string
	Email     string
	IsGhost   bool
	CreatedAt time.Time
}

// UserEncryptionKey holds a user's public key and their private key sealed
// by whoever owns it (the client for humans, the master key for ghosts).
type UserEncryptionKey struct {
	UserID              string
	PublicKey           string
	EncryptedPrivateKey string
	IV                  string
	Tag                 string
	KeyEncoding         KeyEncoding
}

// OrgMembership links a user to an organization.
type OrgMembership struct {
	ID        string
	OrgID     string
	UserID    string
	Role      MembershipRole
	CreatedAt time.Time
}

// ProjectMembership links a user to a project.
type ProjectMembership struct {
	ID        string
	ProjectID string
	UserID    string
	Role      MembershipRole
	CreatedAt time.Time
}

// ProjectBot is the automation credential of a project: the ghost private
// key sealed under the master key plus the project key wrapped for the ghost.
type ProjectBot struct {
	ID                       string
	Name                     string
	ProjectID                string
	PublicKey                string
	EncryptedPrivateKey      string
	IV                       string
	Tag                      string
	Algorithm                string
	KeyEncoding              KeyEncoding
	SenderID                 string
	EncryptedProjectKey      string
	EncryptedProjectKeyNonce string
	IsActive                 bool
	CreatedAt                time.Time
}

// Environment groups folders of a project (dev, staging, prod).
type Environment struct {
	ID        string
	ProjectID string
	Name      string
	Slug      string
}

// Folder holds secrets within an environment.
type Folder struct {
	ID       string
	EnvID    string
	ParentID string
	Name     string
}

// ApprovalRequestStatus is the state of a change request.
type ApprovalRequestStatus string

const (
	ApprovalOpen  ApprovalRequestStatus = "open"
	ApprovalClose ApprovalRequestStatus = "close"
)

// ApprovalRequest is a pending change to secrets in a folder.
type ApprovalRequest struct {
	ID        string
	FolderID  string
	Status    ApprovalRequestStatus
	CreatedAt time.Time
}
