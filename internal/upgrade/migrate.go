// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package upgrade

import (
	"context"
	"fmt"

	clog "github.com/charmbracelet/log"
	"github.com/toeirei/ghostshift/internal/codec"
	"github.com/toeirei/ghostshift/internal/crypto"
	"github.com/toeirei/ghostshift/internal/errs"
	"github.com/toeirei/ghostshift/internal/model"
	"github.com/toeirei/ghostshift/internal/org"
	"github.com/toeirei/ghostshift/internal/security"
	"github.com/toeirei/ghostshift/internal/store"
)

// migrate is the transactional half of Run. Every write goes through tx.
func (e *Engine) migrate(ctx context.Context, tx store.Store, log *clog.Logger, project model.Project,
	existingBot *model.ProjectBot, existingKeys []model.ProjectKey, c *corpus, plain *plaintext) error {

	if err := tx.SetProjectVersion(ctx, project.ID, model.ProjectV2); err != nil {
		return fmt.Errorf("set project version: %w", err)
	}

	ghost, err := org.AddGhostUser(ctx, tx, e.master, project.OrgID)
	if err != nil {
		return err
	}
	defer ghost.PrivateKey.Zero()

	ghostProjectKey, wrapped, err := crypto.NewProjectKey(ghost.PublicKey, ghost.PrivateKey)
	if err != nil {
		return fmt.Errorf("mint project key: %w", err)
	}
	ghostProjectKey.Zero()
	if err := tx.CreateProjectKey(ctx, &model.ProjectKey{
		ProjectID:    project.ID,
		ReceiverID:   ghost.User.ID,
		SenderID:     ghost.User.ID,
		EncryptedKey: wrapped.EncryptedKey,
		Nonce:        wrapped.Nonce,
	}); err != nil {
		return fmt.Errorf("store ghost project key: %w", err)
	}
	if err := tx.CreateProjectMembership(ctx, &model.ProjectMembership{
		ProjectID: project.ID,
		UserID:    ghost.User.ID,
		Role:      model.RoleAdmin,
	}); err != nil {
		return fmt.Errorf("add ghost to project: %w", err)
	}

	if existingBot != nil {
		if err := tx.DeleteProjectBot(ctx, existingBot.ID); err != nil {
			return fmt.Errorf("delete project bot %s: %w", existingBot.ID, err)
		}
	}
	if len(existingKeys) > 0 {
		ids := make([]string, 0, len(existingKeys))
		for _, k := range existingKeys {
			ids = append(ids, k.ID)
		}
		n, err := tx.DeleteProjectKeys(ctx, project.ID, ids)
		if err != nil {
			return fmt.Errorf("delete project keys: %w", err)
		}
		if n != len(ids) {
			return fmt.Errorf("deleted %d of %d project keys: %w", n, len(ids), errs.ErrPartialUpdate)
		}
	}

	ghostKey, err := tx.FindLatestProjectKey(ctx, ghost.User.ID, project.ID)
	if err != nil {
		return fmt.Errorf("reload ghost project key: %w", err)
	}
	if ghostKey == nil {
		return fmt.Errorf("project key of ghost user %s: %w", ghost.User.ID, errs.ErrNotFound)
	}

	bot, err := e.newBot(project.ID, ghost, ghostKey)
	if err != nil {
		return err
	}
	if err := tx.CreateProjectBot(ctx, bot); err != nil {
		return fmt.Errorf("create project bot: %w", err)
	}
	botKey, err := e.botProjectKey(bot, ghost.PublicKey)
	if err != nil {
		return err
	}
	defer botKey.Zero()

	roster, err := rewrapRoster(ctx, tx, project, ghost, botKey, latestPerRecipient(existingKeys))
	if err != nil {
		return err
	}
	if err := tx.InsertProjectKeys(ctx, roster); err != nil {
		return fmt.Errorf("store rewrapped project keys: %w", err)
	}
	log.Debug("project keys rewrapped", "recipients", len(roster))

	if err := rewrite(ctx, codec.Secrets, plain.secrets, botKey, tx.UpdateSecrets); err != nil {
		return err
	}
	if err := rewrite(ctx, codec.SecretVersions, plain.versions, botKey, tx.UpdateSecretVersions); err != nil {
		return err
	}
	if err := rewrite(ctx, codec.ApprovalSecrets, plain.approvals, botKey, tx.UpdateApprovalSecrets); err != nil {
		return err
	}
	if err := rewrite(ctx, codec.IntegrationAuths, plain.integrations, botKey, tx.UpdateIntegrationAuths); err != nil {
		return err
	}

	if len(c.overflow) > 0 {
		n, err := tx.DeleteSecretVersions(ctx, c.overflow)
		if err != nil {
			return fmt.Errorf("delete expired secret versions: %w", err)
		}
		if n != len(c.overflow) {
			return fmt.Errorf("deleted %d of %d expired secret versions: %w", n, len(c.overflow), errs.ErrPartialUpdate)
		}
		log.Debug("expired secret versions deleted", "count", n)
	}

	return tx.SetUpgradeStatus(ctx, project.ID, model.UpgradeStatusNone)
}

// newBot builds the project bot owned by ghost. The bot carries the ghost's
// key pair and the ghost's wrapped project key.
func (e *Engine) newBot(projectID string, ghost *org.GhostUser, ghostKey *model.ProjectKey) (*model.ProjectBot, error) {
	sealed, err := e.master.Encrypt(ghost.PrivateKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("seal bot private key: %w", err)
	}
	return &model.ProjectBot{
		Name:                     BotName,
		ProjectID:                projectID,
		PublicKey:                ghost.PublicKey,
		EncryptedPrivateKey:      sealed.Ciphertext,
		IV:                       sealed.IV,
		Tag:                      sealed.Tag,
		Algorithm:                sealed.Algorithm,
		KeyEncoding:              sealed.Encoding,
		SenderID:                 ghost.User.ID,
		EncryptedProjectKey:      ghostKey.EncryptedKey,
		EncryptedProjectKeyNonce: ghostKey.Nonce,
		IsActive:                 true,
	}, nil
}

// botProjectKey opens the project key the way any later reader of the bot
// would: unseal the bot private key, then open the wrapped project key.
func (e *Engine) botProjectKey(bot *model.ProjectBot, senderPublicKey string) (security.Secret, error) {
	raw, err := e.master.Decrypt(crypto.Sealed{
		EncryptedField: model.EncryptedField{Ciphertext: bot.EncryptedPrivateKey, IV: bot.IV, Tag: bot.Tag},
		Algorithm:      bot.Algorithm,
		Encoding:       bot.KeyEncoding,
	})
	if err != nil {
		return nil, fmt.Errorf("open bot private key: %w", err)
	}
	botPriv := security.FromBytes(raw)
	defer botPriv.Zero()
	key, err := crypto.OpenProjectKey(crypto.WrappedKey{
		EncryptedKey: bot.EncryptedProjectKey,
		Nonce:        bot.EncryptedProjectKeyNonce,
	}, senderPublicKey, botPriv)
	if err != nil {
		return nil, fmt.Errorf("open bot project key: %w", err)
	}
	return key, nil
}

// rewrapRoster wraps the new project key for every former recipient, with
// the ghost as sender.
func rewrapRoster(ctx context.Context, tx store.Store, project model.Project, ghost *org.GhostUser,
	botKey security.Secret, recipients []model.ProjectKey) ([]model.ProjectKey, error) {

	out := make([]model.ProjectKey, 0, len(recipients))
	for _, old := range recipients {
		encKey, err := tx.FindUserEncryptionKey(ctx, old.ReceiverID)
		if err != nil {
			return nil, fmt.Errorf("load encryption key of %s: %w", old.ReceiverID, err)
		}
		if encKey == nil {
			return nil, fmt.Errorf("encryption key of user %s: %w", old.ReceiverID, errs.ErrNotFound)
		}
		membership, err := tx.FindOrgMembership(ctx, old.ReceiverID, project.OrgID)
		if err != nil {
			return nil, fmt.Errorf("load org membership of %s: %w", old.ReceiverID, err)
		}
		if membership == nil {
			return nil, fmt.Errorf("org membership of user %s in %s: %w", old.ReceiverID, project.OrgID, errs.ErrNotFound)
		}
		w, err := crypto.WrapProjectKey(botKey, encKey.PublicKey, ghost.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wrap project key for %s: %w", old.ReceiverID, err)
		}
		out = append(out, model.ProjectKey{
			ProjectID:    project.ID,
			ReceiverID:   old.ReceiverID,
			SenderID:     ghost.User.ID,
			EncryptedKey: w.EncryptedKey,
			Nonce:        w.Nonce,
		})
	}
	return out, nil
}

// rewrite seals items under key and writes them back, requiring every row
// to land.
func rewrite[R any](ctx context.Context, kind *codec.Kind[R], items []codec.Decrypted[R], key security.Secret,
	update func(context.Context, []R) (int, error)) error {

	if len(items) == 0 {
		return nil
	}
	rows, err := kind.Encrypt(items, key)
	if err != nil {
		return err
	}
	if len(rows) != len(items) {
		return fmt.Errorf("%s: encrypted %d of %d records: %w", kind.Name(), len(rows), len(items), errs.ErrPartialUpdate)
	}
	n, err := update(ctx, rows)
	if err != nil {
		return fmt.Errorf("update %s: %w", kind.Name(), err)
	}
	if n != len(rows) {
		return fmt.Errorf("%s: updated %d of %d rows: %w", kind.Name(), n, len(rows), errs.ErrPartialUpdate)
	}
	return nil
}
