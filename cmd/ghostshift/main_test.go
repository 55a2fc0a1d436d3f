// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/toeirei/ghostshift/internal/crypto"
	"github.com/toeirei/ghostshift/internal/db"
	"github.com/toeirei/ghostshift/internal/i18n"
	"github.com/toeirei/ghostshift/internal/model"
	"github.com/toeirei/ghostshift/internal/queue"
	"github.com/toeirei/ghostshift/internal/upgrade"
)

const rootKey = "a2tra2tra2tra2tra2tra2tra2tra2tra2tra2tra2s=" // 32 x "k"

// env isolates config discovery and points the CLI at a sqlite file.
func env(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Setenv("HOME", tmp)
	wd, _ := os.Getwd()
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		i18n.Init("en")
	})
	dsn := "file:" + filepath.Join(tmp, "ghostshift.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	t.Setenv("GHOSTSHIFT_DATABASE_TYPE", "sqlite")
	t.Setenv("GHOSTSHIFT_DATABASE_DSN", dsn)
	t.Setenv("GHOSTSHIFT_ENCRYPTION_ROOT_KEY", rootKey)
	t.Setenv("GHOSTSHIFT_LOG_LEVEL", "error")
	return dsn
}

func run(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

type seeded struct {
	projectID string
	ownerID   string
	ownerKey  string
}

// seed creates a V1 project with one admin owner holding the project key.
func seed(t *testing.T, dsn string) seeded {
	t.Helper()
	ctx := context.Background()
	s, err := db.NewStoreFromDSN(db.TypeSQLite, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = s.Close() }()
	mk, err := crypto.LoadMasterKey(rootKey, "")
	if err != nil {
		t.Fatalf("LoadMasterKey: %v", err)
	}
	if raw, _ := base64.StdEncoding.DecodeString(rootKey); len(raw) != 32 {
		t.Fatalf("root key must decode to 32 bytes")
	}

	owner := model.User{Email: "owner@example.com"}
	if err := s.CreateUser(ctx, &owner); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sealed, _ := mk.Encrypt(priv.Bytes())
	if err := s.CreateUserEncryptionKey(ctx, &model.UserEncryptionKey{
		UserID: owner.ID, PublicKey: pub, EncryptedPrivateKey: sealed.Ciphertext, IV: sealed.IV, Tag: sealed.Tag, KeyEncoding: sealed.Encoding,
	}); err != nil {
		t.Fatalf("CreateUserEncryptionKey: %v", err)
	}
	if err := s.CreateOrgMembership(ctx, &model.OrgMembership{OrgID: "org-1", UserID: owner.ID, Role: model.RoleAdmin}); err != nil {
		t.Fatalf("CreateOrgMembership: %v", err)
	}
	p := model.Project{OrgID: "org-1", Name: "demo"}
	if err := s.CreateProject(ctx, &p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := s.CreateProjectMembership(ctx, &model.ProjectMembership{ProjectID: p.ID, UserID: owner.ID, Role: model.RoleAdmin}); err != nil {
		t.Fatalf("CreateProjectMembership: %v", err)
	}
	_, wrapped, err := crypto.NewProjectKey(pub, priv)
	if err != nil {
		t.Fatalf("NewProjectKey: %v", err)
	}
	if err := s.CreateProjectKey(ctx, &model.ProjectKey{
		ProjectID: p.ID, ReceiverID: owner.ID, SenderID: owner.ID, EncryptedKey: wrapped.EncryptedKey, Nonce: wrapped.Nonce,
	}); err != nil {
		t.Fatalf("CreateProjectKey: %v", err)
	}
	return seeded{projectID: p.ID, ownerID: owner.ID, ownerKey: priv.Reveal()}
}

func TestStatus_PrintsVersionAndStatus(t *testing.T) {
	dsn := env(t)
	sd := seed(t, dsn)
	out, err := run(t, context.Background(), "", "status", sd.projectID)
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, sd.projectID) || !strings.Contains(out, "v1") || !strings.Contains(out, "none") {
		t.Fatalf("unexpected status output:\n%s", out)
	}

	if _, err := run(t, context.Background(), "", "status", "missing"); err == nil {
		t.Fatalf("expected error for unknown project")
	}
}

func TestStatus_German(t *testing.T) {
	dsn := env(t)
	sd := seed(t, dsn)
	out, err := run(t, context.Background(), "", "--lang", "de", "status", sd.projectID)
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Upgrade-Status") {
		t.Fatalf("expected German labels:\n%s", out)
	}
}

func TestUpgradeAndServe(t *testing.T) {
	dsn := env(t)
	sd := seed(t, dsn)
	t.Setenv("GHOSTSHIFT_QUEUE_POLL_INTERVAL", "20ms")

	keyFile := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(keyFile, []byte(sd.ownerKey+"\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	out, err := run(t, context.Background(), "", "upgrade", sd.projectID, "--actor", sd.ownerID, "--private-key-file", keyFile)
	if err != nil {
		t.Fatalf("upgrade failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "queued as job") {
		t.Fatalf("unexpected upgrade output:\n%s", out)
	}

	poll, err := db.NewStoreFromDSN(db.TypeSQLite, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = poll.Close() }()
	version := func() model.ProjectVersion {
		p, err := poll.FindProject(context.Background(), sd.projectID)
		if err != nil || p == nil {
			t.Fatalf("FindProject: %v %v", p, err)
		}
		return p.Version
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := run(t, ctx, "", "serve")
		done <- err
	}()

	deadline := time.Now().Add(10 * time.Second)
	for version() != model.ProjectV2 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("project was not upgraded in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve returned error: %v", err)
	}

	out, err = run(t, context.Background(), "", "jobs")
	if err != nil || !strings.Contains(out, "No failed upgrade jobs.") {
		t.Fatalf("jobs: %v\n%s", err, out)
	}
}

func TestUpgrade_ReadsKeyFromStdin(t *testing.T) {
	dsn := env(t)
	sd := seed(t, dsn)
	out, err := run(t, context.Background(), sd.ownerKey+"\n", "upgrade", sd.projectID, "--actor", sd.ownerID)
	if err != nil {
		t.Fatalf("upgrade failed: %v\n%s", err, out)
	}

	s, err := db.NewStoreFromDSN(db.TypeSQLite, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = s.Close() }()
	waiting, err := queue.New(s.BunDB()).List(context.Background(), upgrade.QueueName, queue.StatusWaiting)
	if err != nil || len(waiting) != 1 {
		t.Fatalf("waiting jobs: %d %v", len(waiting), err)
	}
}

func TestUpgrade_Rejections(t *testing.T) {
	dsn := env(t)
	sd := seed(t, dsn)

	if _, err := run(t, context.Background(), "", "upgrade", sd.projectID, "--actor", sd.ownerID); err == nil {
		t.Fatalf("expected error for empty key")
	}
	_, err := run(t, context.Background(), sd.ownerKey+"\n", "upgrade", sd.projectID, "--actor", "someone-else")
	if err == nil || !strings.Contains(err.Error(), "forbidden") {
		t.Fatalf("expected forbidden, got %v", err)
	}
	t.Setenv("GHOSTSHIFT_ENCRYPTION_ROOT_KEY", "")
	if _, err := run(t, context.Background(), sd.ownerKey+"\n", "upgrade", sd.projectID, "--actor", sd.ownerID); err == nil {
		t.Fatalf("expected error without master key")
	}
}

func TestJobs_ListsFailures(t *testing.T) {
	dsn := env(t)
	seed(t, dsn)
	s, err := db.NewStoreFromDSN(db.TypeSQLite, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	r := queue.New(s.BunDB())
	r.Start(upgrade.QueueName, func(context.Context, *queue.Job) error { return context.DeadlineExceeded })
	if _, err := r.Enqueue(context.Background(), upgrade.QueueName, upgrade.JobName, upgrade.Payload{ProjectID: "p-broken"}, upgrade.JobOptions); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := r.ProcessNext(context.Background(), upgrade.QueueName); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	_ = s.Close()

	out, err := run(t, context.Background(), "", "jobs")
	if err != nil {
		t.Fatalf("jobs failed: %v", err)
	}
	if !strings.Contains(out, "p-broken") || !strings.Contains(out, "deadline exceeded") {
		t.Fatalf("unexpected jobs output:\n%s", out)
	}
}

func TestConfigInit_WritesUserFile(t *testing.T) {
	env(t)
	out, err := run(t, context.Background(), "", "config", "init")
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	path := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "ghostshift", "ghostshift.yaml")
	if !strings.Contains(out, path) {
		t.Fatalf("output should name %s:\n%s", path, out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "sqlite") {
		t.Fatalf("unexpected config:\n%s", data)
	}
}

func TestDBMaintenance(t *testing.T) {
	dsn := env(t)
	seed(t, dsn)
	out, err := run(t, context.Background(), "", "db", "maintenance")
	if err != nil {
		t.Fatalf("db maintenance failed: %v", err)
	}
	if !strings.Contains(out, "Database maintenance finished") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
