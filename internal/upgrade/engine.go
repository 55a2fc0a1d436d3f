// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package upgrade migrates a V1 project, whose secrets are readable only
// through its members' personal keys, to a V2 project owned by a ghost
// identity and its automation bot.
//
// A migration reads and decrypts the whole corpus outside any transaction,
// then rewrites keys, bot and records in one transaction. The project's
// upgrade status is the mutex: IN_PROGRESS while running, FAILED after an
// error, and null again once the new version is committed.
package upgrade

import (
	"context"
	"fmt"

	clog "github.com/charmbracelet/log"
	"github.com/toeirei/ghostshift/internal/codec"
	"github.com/toeirei/ghostshift/internal/crypto"
	"github.com/toeirei/ghostshift/internal/errs"
	"github.com/toeirei/ghostshift/internal/logging"
	"github.com/toeirei/ghostshift/internal/model"
	"github.com/toeirei/ghostshift/internal/security"
	"github.com/toeirei/ghostshift/internal/store"
)

// DefaultVersionRetention is the number of secret versions kept per folder.
const DefaultVersionRetention = 700

// BotName names the automation credential created by a migration.
const BotName = "Ghost Bot"

// Engine runs migrations.
type Engine struct {
	store     store.Store
	master    *crypto.MasterKey
	retention int
}

// Option configures an Engine.
type Option func(*Engine)

// WithVersionRetention overrides how many secret versions per folder
// survive the migration.
func WithVersionRetention(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.retention = n
		}
	}
}

// NewEngine returns an Engine over s. master seals the bot's private key and
// opens the payload's user private key.
func NewEngine(s store.Store, master *crypto.MasterKey, opts ...Option) *Engine {
	e := &Engine{store: s, master: master, retention: DefaultVersionRetention}
	for _, o := range opts {
		o(e)
	}
	return e
}

// corpus is every encrypted record of a project, as read before the
// transaction.
type corpus struct {
	secrets      []model.Secret
	versions     []model.SecretVersion
	overflow     []string
	approvals    []model.ApprovalSecret
	integrations []model.IntegrationAuth
}

// plaintext is the decrypted corpus.
type plaintext struct {
	secrets      []codec.Decrypted[model.Secret]
	versions     []codec.Decrypted[model.SecretVersion]
	approvals    []codec.Decrypted[model.ApprovalSecret]
	integrations []codec.Decrypted[model.IntegrationAuth]
}

// Run migrates p.ProjectID. Entry checks fail without touching the project.
// Any later failure rolls back the transaction, marks the project FAILED
// when it is still V1, and is returned unchanged.
func (e *Engine) Run(ctx context.Context, p Payload) (err error) {
	log := logging.With("project", p.ProjectID, "actor", p.StartedByUserID)

	project, err := e.store.FindProjectWithVersion(ctx, p.ProjectID, model.ProjectV1)
	if err != nil {
		return fmt.Errorf("load project %s: %w", p.ProjectID, err)
	}
	if project == nil {
		return fmt.Errorf("project %s at version %s: %w", p.ProjectID, model.ProjectV1, errs.ErrNotFound)
	}
	userKey, err := e.store.FindLatestProjectKey(ctx, p.StartedByUserID, p.ProjectID)
	if err != nil {
		return fmt.Errorf("load project key of %s: %w", p.StartedByUserID, err)
	}
	if userKey == nil {
		return fmt.Errorf("project key of user %s in project %s: %w", p.StartedByUserID, p.ProjectID, errs.ErrNotFound)
	}
	if !project.CanStartUpgrade() {
		return fmt.Errorf("project %s upgrade status is %s: %w", p.ProjectID, project.UpgradeStatus, errs.ErrInvalidState)
	}
	if e.master == nil {
		return crypto.ErrNoMasterKey
	}

	if err := e.store.ClaimUpgrade(ctx, p.ProjectID); err != nil {
		return err
	}
	log.Info("project upgrade started")
	defer func() {
		if err != nil {
			e.markFailed(ctx, log, p.ProjectID, err)
		}
	}()

	userPrivateKey, err := e.master.Decrypt(p.EncryptedPrivateKey.sealed())
	if err != nil {
		return fmt.Errorf("open user private key: %w", err)
	}
	userPriv := security.FromBytes(userPrivateKey)
	defer userPriv.Zero()

	c, err := e.collect(ctx, project.ID)
	if err != nil {
		return err
	}
	log.Debug("corpus collected",
		"secrets", len(c.secrets), "versions", len(c.versions), "overflow", len(c.overflow),
		"approvals", len(c.approvals), "integrations", len(c.integrations))

	oldKey, err := crypto.OpenProjectKey(crypto.WrappedKey{EncryptedKey: userKey.EncryptedKey, Nonce: userKey.Nonce}, userKey.SenderPublicKey, userPriv)
	if err != nil {
		return fmt.Errorf("open project key: %w", err)
	}
	defer oldKey.Zero()

	plain, err := decryptCorpus(c, oldKey)
	if err != nil {
		return err
	}

	existingBot, err := e.store.FindProjectBot(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("load project bot: %w", err)
	}
	existingKeys, err := e.store.ListProjectKeys(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("load project keys: %w", err)
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		return e.migrate(ctx, tx, log, *project, existingBot, existingKeys, c, plain)
	})
	if err != nil {
		return err
	}
	log.Info("project upgraded", "version", model.ProjectV2)
	return nil
}

// markFailed records the failure outside the rolled back transaction. A
// project that is gone or no longer V1 is left alone.
func (e *Engine) markFailed(ctx context.Context, log *clog.Logger, projectID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	project, err := e.store.FindProjectWithVersion(ctx, projectID, model.ProjectV1)
	if err != nil {
		log.Error("project upgrade failed; status not updated", "err", cause, "lookupErr", err)
		return
	}
	if project == nil {
		log.Error("project upgrade failed; no project found to mark", "err", cause)
		return
	}
	if err := e.store.SetUpgradeStatus(ctx, projectID, model.UpgradeStatusFailed); err != nil {
		log.Error("project upgrade failed; could not mark it", "err", cause, "statusErr", err)
		return
	}
	log.Error("project upgrade failed", "err", cause)
}

// collect reads the encrypted corpus folder by folder.
func (e *Engine) collect(ctx context.Context, projectID string) (*corpus, error) {
	envs, err := e.store.ListEnvironments(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	envIDs := make([]string, 0, len(envs))
	for _, env := range envs {
		envIDs = append(envIDs, env.ID)
	}
	folders, err := e.store.ListFolders(ctx, envIDs)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}

	c := &corpus{}
	c.integrations, err = e.store.ListIntegrationAuths(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list integration auths: %w", err)
	}
	for _, folder := range folders {
		secrets, err := e.store.ListSecrets(ctx, folder.ID)
		if err != nil {
			return nil, fmt.Errorf("list secrets of folder %s: %w", folder.ID, err)
		}
		versions, err := e.store.ListSecretVersions(ctx, folder.ID, e.retention)
		if err != nil {
			return nil, fmt.Errorf("list secret versions of folder %s: %w", folder.ID, err)
		}
		overflow, err := e.store.ListSecretVersionIDsBeyond(ctx, folder.ID, e.retention)
		if err != nil {
			return nil, fmt.Errorf("list expired secret versions of folder %s: %w", folder.ID, err)
		}
		requests, err := e.store.ListOpenApprovalRequests(ctx, folder.ID)
		if err != nil {
			return nil, fmt.Errorf("list approval requests of folder %s: %w", folder.ID, err)
		}
		requestIDs := make([]string, 0, len(requests))
		for _, r := range requests {
			requestIDs = append(requestIDs, r.ID)
		}
		approvals, err := e.store.ListApprovalSecrets(ctx, requestIDs)
		if err != nil {
			return nil, fmt.Errorf("list approval secrets of folder %s: %w", folder.ID, err)
		}

		c.secrets = append(c.secrets, secrets...)
		c.versions = append(c.versions, versions...)
		c.overflow = append(c.overflow, overflow...)
		c.approvals = append(c.approvals, approvals...)
	}
	return c, nil
}

func decryptCorpus(c *corpus, key security.Secret) (*plaintext, error) {
	var (
		p   plaintext
		err error
	)
	if p.secrets, err = codec.Secrets.Decrypt(c.secrets, key); err != nil {
		return nil, err
	}
	if p.versions, err = codec.SecretVersions.Decrypt(c.versions, key); err != nil {
		return nil, err
	}
	if p.approvals, err = codec.ApprovalSecrets.Decrypt(c.approvals, key); err != nil {
		return nil, err
	}
	if p.integrations, err = codec.IntegrationAuths.Decrypt(c.integrations, key); err != nil {
		return nil, err
	}
	return &p, nil
}

// latestPerRecipient keeps the newest key of each recipient. keys must be
// ordered newest first.
func latestPerRecipient(keys []model.ProjectKey) []model.ProjectKey {
	seen := make(map[string]bool, len(keys))
	out := make([]model.ProjectKey, 0, len(keys))
	for _, k := range keys {
		if seen[k.ReceiverID] {
			continue
		}
		seen[k.ReceiverID] = true
		out = append(out, k)
	}
	return out
}
