// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil seeds in-memory stores for package tests.
package testutil

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/toeirei/ghostshift/internal/crypto"
	"github.com/toeirei/ghostshift/internal/db"
	"github.com/toeirei/ghostshift/internal/model"
	"github.com/toeirei/ghostshift/internal/security"
)

// NewStore opens a migrated in-memory sqlite store named after the test.
func NewStore(t testing.TB) *db.BunStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := db.NewStoreFromDSN(db.TypeSQLite, "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// NewMasterKey returns a base64 root master key with fixed bytes.
func NewMasterKey(t testing.TB) *crypto.MasterKey {
	t.Helper()
	root := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	mk, err := crypto.LoadMasterKey(root, "")
	if err != nil {
		t.Fatalf("LoadMasterKey failed: %v", err)
	}
	return mk
}

// Member is a seeded human user with a plain key pair.
type Member struct {
	ID         string
	PublicKey  string
	PrivateKey security.Secret
}

// Fixture is a V1 project owned by one admin who holds the project key.
type Fixture struct {
	Store      *db.BunStore
	MasterKey  *crypto.MasterKey
	OrgID      string
	Project    model.Project
	Owner      Member
	ProjectKey security.Secret
}

// NewFixture seeds a store with an org, an owner and a V1 project whose
// project key is wrapped for the owner.
func NewFixture(t testing.TB) *Fixture {
	t.Helper()
	ctx := context.Background()
	f := &Fixture{
		Store:     NewStore(t),
		MasterKey: NewMasterKey(t),
		OrgID:     "org-1",
	}
	f.Owner = f.newUser(t, "owner@example.com", model.RoleAdmin)

	f.Project = model.Project{OrgID: f.OrgID, Name: "demo"}
	if err := f.Store.CreateProject(ctx, &f.Project); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	f.addProjectMembership(t, f.Owner.ID, model.RoleAdmin)

	plain, wrapped, err := crypto.NewProjectKey(f.Owner.PublicKey, f.Owner.PrivateKey)
	if err != nil {
		t.Fatalf("NewProjectKey failed: %v", err)
	}
	f.ProjectKey = plain
	if err := f.Store.CreateProjectKey(ctx, &model.ProjectKey{
		ProjectID:    f.Project.ID,
		ReceiverID:   f.Owner.ID,
		SenderID:     f.Owner.ID,
		EncryptedKey: wrapped.EncryptedKey,
		Nonce:        wrapped.Nonce,
	}); err != nil {
		t.Fatalf("CreateProjectKey failed: %v", err)
	}
	return f
}

// AddMember creates a user in the org with a project membership of role and
// a copy of the project key sent by the owner.
func (f *Fixture) AddMember(t testing.TB, email string, role model.MembershipRole) Member {
	t.Helper()
	m := f.newUser(t, email, model.RoleMember)
	f.addProjectMembership(t, m.ID, role)
	wrapped, err := crypto.WrapProjectKey(f.ProjectKey, m.PublicKey, f.Owner.PrivateKey)
	if err != nil {
		t.Fatalf("WrapProjectKey failed: %v", err)
	}
	if err := f.Store.CreateProjectKey(context.Background(), &model.ProjectKey{
		ProjectID:    f.Project.ID,
		ReceiverID:   m.ID,
		SenderID:     f.Owner.ID,
		EncryptedKey: wrapped.EncryptedKey,
		Nonce:        wrapped.Nonce,
	}); err != nil {
		t.Fatalf("CreateProjectKey failed: %v", err)
	}
	return m
}

// AddOutsider creates a user with keys but no org membership and hands them
// a project key, a roster entry that cannot be migrated.
func (f *Fixture) AddOutsider(t testing.TB, email string) Member {
	t.Helper()
	ctx := context.Background()
	m := f.createUserWithKeys(t, email)
	wrapped, err := crypto.WrapProjectKey(f.ProjectKey, m.PublicKey, f.Owner.PrivateKey)
	if err != nil {
		t.Fatalf("WrapProjectKey failed: %v", err)
	}
	if err := f.Store.CreateProjectKey(ctx, &model.ProjectKey{
		ProjectID:    f.Project.ID,
		ReceiverID:   m.ID,
		SenderID:     f.Owner.ID,
		EncryptedKey: wrapped.EncryptedKey,
		Nonce:        wrapped.Nonce,
	}); err != nil {
		t.Fatalf("CreateProjectKey failed: %v", err)
	}
	return m
}

// Seal encrypts plaintext under the fixture's project key.
func (f *Fixture) Seal(t testing.TB, plaintext string) model.EncryptedField {
	t.Helper()
	field, err := crypto.EncryptWithProjectKey(plaintext, f.ProjectKey)
	if err != nil {
		t.Fatalf("EncryptWithProjectKey failed: %v", err)
	}
	return field
}

// AddFolder creates an environment with one folder and returns the folder.
func (f *Fixture) AddFolder(t testing.TB, slug string) model.Folder {
	t.Helper()
	ctx := context.Background()
	env := model.Environment{ProjectID: f.Project.ID, Name: slug, Slug: slug}
	if err := f.Store.CreateEnvironment(ctx, &env); err != nil {
		t.Fatalf("CreateEnvironment failed: %v", err)
	}
	folder := model.Folder{EnvID: env.ID, Name: "root"}
	if err := f.Store.CreateFolder(ctx, &folder); err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	return folder
}

func (f *Fixture) newUser(t testing.TB, email string, orgRole model.MembershipRole) Member {
	t.Helper()
	m := f.createUserWithKeys(t, email)
	if err := f.Store.CreateOrgMembership(context.Background(), &model.OrgMembership{OrgID: f.OrgID, UserID: m.ID, Role: orgRole}); err != nil {
		t.Fatalf("CreateOrgMembership failed: %v", err)
	}
	return m
}

func (f *Fixture) createUserWithKeys(t testing.TB, email string) Member {
	t.Helper()
	ctx := context.Background()
	u := model.User{Email: email}
	if err := f.Store.CreateUser(ctx, &u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	// Human private keys are sealed client side; any opaque value will do.
	sealed, err := f.MasterKey.Encrypt(priv.Bytes())
	if err != nil {
		t.Fatalf("seal private key: %v", err)
	}
	if err := f.Store.CreateUserEncryptionKey(ctx, &model.UserEncryptionKey{
		UserID:              u.ID,
		PublicKey:           pub,
		EncryptedPrivateKey: sealed.Ciphertext,
		IV:                  sealed.IV,
		Tag:                 sealed.Tag,
		KeyEncoding:         sealed.Encoding,
	}); err != nil {
		t.Fatalf("CreateUserEncryptionKey failed: %v", err)
	}
	return Member{ID: u.ID, PublicKey: pub, PrivateKey: priv}
}

func (f *Fixture) addProjectMembership(t testing.TB, userID string, role model.MembershipRole) {
	t.Helper()
	if err := f.Store.CreateProjectMembership(context.Background(), &model.ProjectMembership{ProjectID: f.Project.ID, UserID: userID, Role: role}); err != nil {
		t.Fatalf("CreateProjectMembership failed: %v", err)
	}
}

// Reload returns the current state of the fixture project.
func (f *Fixture) Reload(t testing.TB) model.Project {
	t.Helper()
	p, err := f.Store.FindProject(context.Background(), f.Project.ID)
	if err != nil || p == nil {
		t.Fatalf("FindProject: %v %v", p, err)
	}
	return *p
}

// Count returns the number of rows in table.
func (f *Fixture) Count(t testing.TB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRawInto(context.Background(), f.Store.BunDB(), &n, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
