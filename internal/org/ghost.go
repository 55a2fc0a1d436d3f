// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package org provisions organization-level identities.
package org

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/toeirei/ghostshift/internal/crypto"
	"github.com/toeirei/ghostshift/internal/model"
	"github.com/toeirei/ghostshift/internal/security"
	"github.com/toeirei/ghostshift/internal/store"
)

// GhostUser is a freshly provisioned machine identity and its plain keys.
// PrivateKey must not outlive the operation that created it.
type GhostUser struct {
	User       model.User
	PublicKey  string
	PrivateKey security.Secret
}

// GhostEmail is the synthetic address of a ghost user.
func GhostEmail(userID, orgID string) string {
	return fmt.Sprintf("sudo-%s@%s.ghost", userID, orgID)
}

// AddGhostUser creates a ghost user in orgID with a new box key pair. The
// private key is stored sealed under master and the ghost joins the org as
// admin. Run it inside the caller's transaction.
func AddGhostUser(ctx context.Context, s store.IdentityStore, master *crypto.MasterKey, orgID string) (*GhostUser, error) {
	if master == nil {
		return nil, crypto.ErrNoMasterKey
	}
	if orgID == "" {
		return nil, errors.New("org id is required")
	}
	id := uuid.NewString()
	u := model.User{ID: id, Email: GhostEmail(id, orgID), IsGhost: true}
	if err := s.CreateUser(ctx, &u); err != nil {
		return nil, fmt.Errorf("create ghost user: %w", err)
	}

	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate ghost key pair: %w", err)
	}
	sealed, err := master.Encrypt(priv.Bytes())
	if err != nil {
		priv.Zero()
		return nil, fmt.Errorf("seal ghost private key: %w", err)
	}
	if err := s.CreateUserEncryptionKey(ctx, &model.UserEncryptionKey{
		UserID:              u.ID,
		PublicKey:           pub,
		EncryptedPrivateKey: sealed.Ciphertext,
		IV:                  sealed.IV,
		Tag:                 sealed.Tag,
		KeyEncoding:         sealed.Encoding,
	}); err != nil {
		priv.Zero()
		return nil, fmt.Errorf("store ghost encryption key: %w", err)
	}

	if err := s.CreateOrgMembership(ctx, &model.OrgMembership{OrgID: orgID, UserID: u.ID, Role: model.RoleAdmin}); err != nil {
		priv.Zero()
		return nil, fmt.Errorf("add ghost to org %s: %w", orgID, err)
	}
	return &GhostUser{User: u, PublicKey: pub, PrivateKey: priv}, nil
}
