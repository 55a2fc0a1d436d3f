// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package upgrade

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/toeirei/ghostshift/internal/codec"
	"github.com/toeirei/ghostshift/internal/crypto"
	"github.com/toeirei/ghostshift/internal/errs"
	"github.com/toeirei/ghostshift/internal/model"
	"github.com/toeirei/ghostshift/internal/security"
	"github.com/toeirei/ghostshift/internal/store"
	"github.com/toeirei/ghostshift/internal/testutil"
)

func payloadFor(t *testing.T, f *testutil.Fixture, actor testutil.Member) Payload {
	t.Helper()
	sealed, err := SealPrivateKey(f.MasterKey, actor.PrivateKey.Bytes())
	if err != nil {
		t.Fatalf("SealPrivateKey failed: %v", err)
	}
	return Payload{ProjectID: f.Project.ID, StartedByUserID: actor.ID, EncryptedPrivateKey: sealed}
}

// botKey opens the project key held by the project bot.
func botKey(t *testing.T, f *testutil.Fixture) (*model.ProjectBot, security.Secret) {
	t.Helper()
	bot, err := f.Store.FindProjectBot(context.Background(), f.Project.ID)
	if err != nil || bot == nil {
		t.Fatalf("FindProjectBot: %v %v", bot, err)
	}
	e := NewEngine(f.Store, f.MasterKey)
	key, err := e.botProjectKey(bot, bot.PublicKey)
	if err != nil {
		t.Fatalf("open bot project key: %v", err)
	}
	return bot, key
}

func seedSecrets(t *testing.T, f *testutil.Fixture, folder model.Folder, n int) {
	t.Helper()
	rows := make([]model.Secret, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, model.Secret{
			FolderID:    folder.ID,
			Version:     1,
			Type:        model.SecretShared,
			SecretKey:   f.Seal(t, fmt.Sprintf("KEY_%d", i)),
			SecretValue: f.Seal(t, fmt.Sprintf("value-%d", i)),
			Algorithm:   model.AlgorithmAES256GCM,
			KeyEncoding: model.EncodingBase64,
		})
	}
	if err := f.Store.InsertSecrets(context.Background(), rows); err != nil {
		t.Fatalf("InsertSecrets failed: %v", err)
	}
}

func seedVersions(t *testing.T, f *testutil.Fixture, folder model.Folder, n int) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]model.SecretVersion, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, model.SecretVersion{
			ID:          fmt.Sprintf("v-%04d", i),
			SecretID:    "s-history",
			FolderID:    folder.ID,
			EnvID:       folder.EnvID,
			Version:     i,
			Type:        model.SecretShared,
			SecretKey:   f.Seal(t, "HISTORY"),
			SecretValue: f.Seal(t, fmt.Sprintf("rev-%d", i)),
			Algorithm:   model.AlgorithmAES256GCM,
			KeyEncoding: model.EncodingBase64,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}
	for start := 0; start < len(rows); start += 200 {
		end := min(start+200, len(rows))
		if err := f.Store.InsertSecretVersions(context.Background(), rows[start:end]); err != nil {
			t.Fatalf("InsertSecretVersions failed: %v", err)
		}
	}
}

func seedApproval(t *testing.T, f *testutil.Fixture, folder model.Folder, status model.ApprovalRequestStatus, n int) model.ApprovalRequest {
	t.Helper()
	ctx := context.Background()
	req := model.ApprovalRequest{FolderID: folder.ID, Status: status}
	if err := f.Store.CreateApprovalRequest(ctx, &req); err != nil {
		t.Fatalf("CreateApprovalRequest failed: %v", err)
	}
	rows := make([]model.ApprovalSecret, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, model.ApprovalSecret{
			RequestID:     req.ID,
			Op:            "update",
			Version:       1,
			SecretKey:     f.Seal(t, fmt.Sprintf("PENDING_%d", i)),
			SecretValue:   f.Seal(t, "pending"),
			SecretComment: f.Seal(t, "needs review"),
			Algorithm:     model.AlgorithmAES256GCM,
			KeyEncoding:   model.EncodingBase64,
		})
	}
	if err := f.Store.InsertApprovalSecrets(ctx, rows); err != nil {
		t.Fatalf("InsertApprovalSecrets failed: %v", err)
	}
	return req
}

func TestRun_MigratesProject(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx := context.Background()
	member := f.AddMember(t, "member@example.com", model.RoleMember)
	folder := f.AddFolder(t, "dev")

	seedSecrets(t, f, folder, 3)
	seedVersions(t, f, folder, 800)
	open := seedApproval(t, f, folder, model.ApprovalOpen, 2)
	closed := seedApproval(t, f, folder, model.ApprovalClose, 1)
	if err := f.Store.InsertIntegrationAuths(ctx, []model.IntegrationAuth{{
		ProjectID:   f.Project.ID,
		Integration: "github",
		Access:      f.Seal(t, "gho_token"),
		Refresh:     f.Seal(t, "refresh-token"),
		Algorithm:   model.AlgorithmAES256GCM,
		KeyEncoding: model.EncodingBase64,
	}}); err != nil {
		t.Fatalf("InsertIntegrationAuths failed: %v", err)
	}
	oldBot := model.ProjectBot{
		Name:        "old bot",
		ProjectID:   f.Project.ID,
		PublicKey:   f.Owner.PublicKey,
		Algorithm:   model.AlgorithmAES256GCM,
		KeyEncoding: model.EncodingBase64,
	}
	if err := f.Store.CreateProjectBot(ctx, &oldBot); err != nil {
		t.Fatalf("CreateProjectBot failed: %v", err)
	}

	if err := NewEngine(f.Store, f.MasterKey).Run(ctx, payloadFor(t, f, f.Owner)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	p := f.Reload(t)
	if p.Version != model.ProjectV2 || p.UpgradeStatus != model.UpgradeStatusNone {
		t.Fatalf("unexpected project state: %+v", p)
	}

	bot, key := botKey(t, f)
	if bot.ID == oldBot.ID || bot.Name != BotName || !bot.IsActive {
		t.Fatalf("unexpected bot: %+v", bot)
	}
	if n := f.Count(t, "project_bots"); n != 1 {
		t.Fatalf("expected 1 bot, got %d", n)
	}

	ghostMembership, err := f.Store.FindOrgMembership(ctx, bot.SenderID, f.OrgID)
	if err != nil || ghostMembership == nil || ghostMembership.Role != model.RoleAdmin {
		t.Fatalf("ghost org membership: %+v %v", ghostMembership, err)
	}
	ghostProject, err := f.Store.FindProjectMembership(ctx, bot.SenderID, f.Project.ID)
	if err != nil || ghostProject == nil || ghostProject.Role != model.RoleAdmin {
		t.Fatalf("ghost project membership: %+v %v", ghostProject, err)
	}

	// Ghost plus one key per former recipient.
	if n := f.Count(t, "project_keys"); n != 3 {
		t.Fatalf("expected 3 project keys, got %d", n)
	}
	for _, m := range []testutil.Member{f.Owner, member} {
		k, err := f.Store.FindLatestProjectKey(ctx, m.ID, f.Project.ID)
		if err != nil || k == nil {
			t.Fatalf("FindLatestProjectKey(%s): %v %v", m.ID, k, err)
		}
		if k.SenderID != bot.SenderID {
			t.Fatalf("key of %s sent by %s, want ghost %s", m.ID, k.SenderID, bot.SenderID)
		}
		got, err := crypto.OpenProjectKey(crypto.WrappedKey{EncryptedKey: k.EncryptedKey, Nonce: k.Nonce}, k.SenderPublicKey, m.PrivateKey)
		if err != nil {
			t.Fatalf("OpenProjectKey for %s: %v", m.ID, err)
		}
		if !got.Equal(key) {
			t.Fatalf("member %s holds a different project key than the bot", m.ID)
		}
	}
	if key.Equal(f.ProjectKey) {
		t.Fatalf("project key was not rotated")
	}

	secrets, err := f.Store.ListSecrets(ctx, folder.ID)
	if err != nil {
		t.Fatalf("ListSecrets failed: %v", err)
	}
	decSecrets, err := codec.Secrets.Decrypt(secrets, key)
	if err != nil || len(decSecrets) != 3 {
		t.Fatalf("secrets under new key: %d %v", len(decSecrets), err)
	}
	for _, s := range secrets {
		if s.KeyEncoding != model.EncodingUTF8 {
			t.Fatalf("secret %s key encoding %q", s.ID, s.KeyEncoding)
		}
	}

	if n := f.Count(t, "secret_versions"); n != DefaultVersionRetention {
		t.Fatalf("expected %d secret versions, got %d", DefaultVersionRetention, n)
	}
	versions, err := f.Store.ListSecretVersions(ctx, folder.ID, 1000)
	if err != nil {
		t.Fatalf("ListSecretVersions failed: %v", err)
	}
	decVersions, err := codec.SecretVersions.Decrypt(versions, key)
	if err != nil {
		t.Fatalf("versions under new key: %v", err)
	}
	if v, _ := codec.SecretVersions.Value(decVersions[0], "value"); v != "rev-800" {
		t.Fatalf("newest version value = %q", v)
	}
	if oldest := versions[len(versions)-1].Version; oldest != 101 {
		t.Fatalf("oldest kept version = %d, want 101", oldest)
	}

	approvals, err := f.Store.ListApprovalSecrets(ctx, []string{open.ID})
	if err != nil || len(approvals) != 2 {
		t.Fatalf("ListApprovalSecrets(open): %d %v", len(approvals), err)
	}
	if _, err := codec.ApprovalSecrets.Decrypt(approvals, key); err != nil {
		t.Fatalf("open approvals under new key: %v", err)
	}
	untouched, err := f.Store.ListApprovalSecrets(ctx, []string{closed.ID})
	if err != nil || len(untouched) != 1 {
		t.Fatalf("ListApprovalSecrets(closed): %d %v", len(untouched), err)
	}
	if _, err := codec.ApprovalSecrets.Decrypt(untouched, f.ProjectKey); err != nil {
		t.Fatalf("closed approvals must stay under the old key: %v", err)
	}

	auths, err := f.Store.ListIntegrationAuths(ctx, f.Project.ID)
	if err != nil || len(auths) != 1 {
		t.Fatalf("ListIntegrationAuths: %d %v", len(auths), err)
	}
	decAuths, err := codec.IntegrationAuths.Decrypt(auths, key)
	if err != nil {
		t.Fatalf("integration auth under new key: %v", err)
	}
	if v, _ := codec.IntegrationAuths.Value(decAuths[0], "access"); v != "gho_token" {
		t.Fatalf("access = %q", v)
	}
	if v, _ := codec.IntegrationAuths.Value(decAuths[0], "accessId"); v != "" {
		t.Fatalf("accessId = %q, want empty", v)
	}
}

func TestRun_CustomRetention(t *testing.T) {
	f := testutil.NewFixture(t)
	folder := f.AddFolder(t, "dev")
	seedVersions(t, f, folder, 12)

	if err := NewEngine(f.Store, f.MasterKey, WithVersionRetention(5)).Run(context.Background(), payloadFor(t, f, f.Owner)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n := f.Count(t, "secret_versions"); n != 5 {
		t.Fatalf("expected 5 versions, got %d", n)
	}
}

func TestRun_EntryGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("v2 project", func(t *testing.T) {
		f := testutil.NewFixture(t)
		if err := f.Store.SetProjectVersion(ctx, f.Project.ID, model.ProjectV2); err != nil {
			t.Fatalf("SetProjectVersion failed: %v", err)
		}
		err := NewEngine(f.Store, f.MasterKey).Run(ctx, payloadFor(t, f, f.Owner))
		if !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if p := f.Reload(t); p.UpgradeStatus != model.UpgradeStatusNone {
			t.Fatalf("status must stay untouched, got %s", p.UpgradeStatus)
		}
	})

	t.Run("no project key", func(t *testing.T) {
		f := testutil.NewFixture(t)
		p := payloadFor(t, f, f.Owner)
		p.StartedByUserID = "nobody"
		if err := NewEngine(f.Store, f.MasterKey).Run(ctx, p); !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if got := f.Reload(t); got.UpgradeStatus != model.UpgradeStatusNone {
			t.Fatalf("status must stay untouched, got %s", got.UpgradeStatus)
		}
	})

	t.Run("in progress", func(t *testing.T) {
		f := testutil.NewFixture(t)
		if err := f.Store.SetUpgradeStatus(ctx, f.Project.ID, model.UpgradeStatusInProgress); err != nil {
			t.Fatalf("SetUpgradeStatus failed: %v", err)
		}
		err := NewEngine(f.Store, f.MasterKey).Run(ctx, payloadFor(t, f, f.Owner))
		if !errors.Is(err, errs.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
		if p := f.Reload(t); p.UpgradeStatus != model.UpgradeStatusInProgress {
			t.Fatalf("status changed to %s", p.UpgradeStatus)
		}
	})
}

func TestRun_ResumesAfterFailure(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx := context.Background()
	if err := f.Store.SetUpgradeStatus(ctx, f.Project.ID, model.UpgradeStatusFailed); err != nil {
		t.Fatalf("SetUpgradeStatus failed: %v", err)
	}
	if err := NewEngine(f.Store, f.MasterKey).Run(ctx, payloadFor(t, f, f.Owner)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if p := f.Reload(t); p.Version != model.ProjectV2 || p.UpgradeStatus != model.UpgradeStatusNone {
		t.Fatalf("unexpected project state: %+v", p)
	}
}

// assertRolledBack checks that nothing but the upgrade status changed.
func assertRolledBack(t *testing.T, f *testutil.Fixture, keys int) {
	t.Helper()
	p := f.Reload(t)
	if p.Version != model.ProjectV1 || p.UpgradeStatus != model.UpgradeStatusFailed {
		t.Fatalf("expected V1/FAILED, got %s/%s", p.Version, p.UpgradeStatus)
	}
	if n := f.Count(t, "project_keys"); n != keys {
		t.Fatalf("expected %d project keys, got %d", keys, n)
	}
	if n := f.Count(t, "project_bots"); n != 0 {
		t.Fatalf("expected no bot, got %d", n)
	}
	var ghosts int
	if err := f.Store.BunDB().NewSelect().Table("users").ColumnExpr("COUNT(*)").Where("is_ghost = ?", true).Scan(context.Background(), &ghosts); err != nil {
		t.Fatalf("count ghosts: %v", err)
	}
	if ghosts != 0 {
		t.Fatalf("ghost user leaked out of the rolled back transaction")
	}
}

func TestRun_SchemaFailureRollsBack(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx := context.Background()
	folder := f.AddFolder(t, "dev")
	bad := model.Secret{
		FolderID:    folder.ID,
		Version:     1,
		Type:        model.SecretType("bogus"),
		SecretKey:   f.Seal(t, "KEY"),
		SecretValue: f.Seal(t, "value"),
		Algorithm:   model.AlgorithmAES256GCM,
		KeyEncoding: model.EncodingBase64,
	}
	if err := f.Store.InsertSecrets(ctx, []model.Secret{bad}); err != nil {
		t.Fatalf("InsertSecrets failed: %v", err)
	}

	err := NewEngine(f.Store, f.MasterKey).Run(ctx, payloadFor(t, f, f.Owner))
	if !errors.Is(err, errs.ErrSchemaValidation) {
		t.Fatalf("expected ErrSchemaValidation, got %v", err)
	}
	assertRolledBack(t, f, 1)

	secrets, _ := f.Store.ListSecrets(ctx, folder.ID)
	if _, err := codec.Secrets.Decrypt(secrets, f.ProjectKey); err != nil {
		t.Fatalf("secret must still open with the old key: %v", err)
	}
}

func TestRun_RecipientOutsideOrgRollsBack(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddOutsider(t, "outsider@example.com")

	err := NewEngine(f.Store, f.MasterKey).Run(context.Background(), payloadFor(t, f, f.Owner))
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	assertRolledBack(t, f, 2)
}

func TestRun_WrongPrivateKeyFails(t *testing.T) {
	f := testutil.NewFixture(t)
	member := f.AddMember(t, "member@example.com", model.RoleMember)
	p := payloadFor(t, f, member)
	p.StartedByUserID = f.Owner.ID

	err := NewEngine(f.Store, f.MasterKey).Run(context.Background(), p)
	if !errors.Is(err, crypto.ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
	assertRolledBack(t, f, 2)
}

// lossyStore drops one row of every secret update.
type lossyStore struct {
	store.Store
}

func (s lossyStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		return fn(ctx, lossyStore{tx})
	})
}

func (s lossyStore) UpdateSecrets(ctx context.Context, rows []model.Secret) (int, error) {
	n, err := s.Store.UpdateSecrets(ctx, rows[1:])
	return n, err
}

func TestRun_PartialUpdateRollsBack(t *testing.T) {
	f := testutil.NewFixture(t)
	folder := f.AddFolder(t, "dev")
	seedSecrets(t, f, folder, 2)

	err := NewEngine(lossyStore{f.Store}, f.MasterKey).Run(context.Background(), payloadFor(t, f, f.Owner))
	if !errors.Is(err, errs.ErrPartialUpdate) {
		t.Fatalf("expected ErrPartialUpdate, got %v", err)
	}
	assertRolledBack(t, f, 1)
}

func TestLatestPerRecipient(t *testing.T) {
	keys := []model.ProjectKey{
		{ID: "k3", ReceiverID: "a"},
		{ID: "k2", ReceiverID: "b"},
		{ID: "k1", ReceiverID: "a"},
	}
	got := latestPerRecipient(keys)
	if len(got) != 2 || got[0].ID != "k3" || got[1].ID != "k2" {
		t.Fatalf("unexpected roster: %+v", got)
	}
}

// racedClaim lets another worker claim the project between the entry checks
// and the claim of this run.
type racedClaim struct {
	store.Store
}

func (s racedClaim) ClaimUpgrade(ctx context.Context, id string) error {
	if err := s.Store.ClaimUpgrade(ctx, id); err != nil {
		return err
	}
	return s.Store.ClaimUpgrade(ctx, id)
}

func TestRun_LosesConcurrentClaim(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx := context.Background()
	err := NewEngine(racedClaim{Store: f.Store}, f.MasterKey).Run(ctx, payloadFor(t, f, f.Owner))
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	p := f.Reload(t)
	if p.Version != model.ProjectV1 || p.UpgradeStatus != model.UpgradeStatusInProgress {
		t.Fatalf("the winning claim must be left alone: %+v", p)
	}
	if n := f.Count(t, "project_keys"); n == 0 {
		t.Fatalf("project keys must be untouched")
	}
}
