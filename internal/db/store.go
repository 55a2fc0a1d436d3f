// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/toeirei/ghostshift/internal/errs"
	"github.com/toeirei/ghostshift/internal/model"
	"github.com/toeirei/ghostshift/internal/store"
	"github.com/uptrace/bun"
)

// deleteChunkSize bounds the number of ids bound into one IN (...) clause.
const deleteChunkSize = 500

// now returns the current time at the precision every backend can store.
var now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// BunStore implements store.Store on a *bun.DB or an open bun.Tx.
type BunStore struct {
	db      bun.IDB
	bdb     *bun.DB
	dbType  string
	txOpts  *sql.TxOptions
	inTx    bool
	closeFn func() error
}

var _ store.Store = (*BunStore)(nil)

func newBunStore(bdb *bun.DB, dbType string) *BunStore {
	s := &BunStore{db: bdb, bdb: bdb, dbType: dbType, closeFn: bdb.Close}
	// SQLite transactions are serializable already and reject explicit
	// isolation levels.
	if dbType != TypeSQLite {
		s.txOpts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return s
}

// BunDB exposes the underlying *bun.DB for collaborators sharing the
// connection pool (the job queue).
func (s *BunStore) BunDB() *bun.DB { return s.bdb }

// Type returns the database type the store was opened with.
func (s *BunStore) Type() string { return s.dbType }

// Close releases the connection pool. Closing a transaction-bound store is a
// no-op.
func (s *BunStore) Close() error {
	if s.inTx || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// RunInTx implements store.Store.
func (s *BunStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return WithTx(ctx, s.bdb, s.txOpts, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &BunStore{db: tx, bdb: s.bdb, dbType: s.dbType, txOpts: s.txOpts, inTx: true})
	})
}

// Projects

func (s *BunStore) FindProject(ctx context.Context, id string) (*model.Project, error) {
	var m ProjectModel
	if err := s.db.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	p := projectModelToModel(m)
	return &p, nil
}

func (s *BunStore) FindProjectWithVersion(ctx context.Context, id string, v model.ProjectVersion) (*model.Project, error) {
	var m ProjectModel
	if err := s.db.NewSelect().Model(&m).Where("id = ?", id).Where("version = ?", int(v)).Limit(1).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	p := projectModelToModel(m)
	return &p, nil
}

// CreateProject inserts a project. A zero version defaults to V1.
func (s *BunStore) CreateProject(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Version == 0 {
		p.Version = model.ProjectV1
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	m := ProjectModel{
		ID:            p.ID,
		OrgID:         p.OrgID,
		Name:          p.Name,
		Version:       int(p.Version),
		UpgradeStatus: nullString(string(p.UpgradeStatus)),
		CreatedAt:     p.CreatedAt,
	}
	_, err := s.db.NewInsert().Model(&m).Exec(ctx)
	return MapDBError(err)
}

// SetProjectVersion moves a V1 project to v. A project that is missing or
// no longer V1 yields errs.ErrPartialUpdate.
func (s *BunStore) SetProjectVersion(ctx context.Context, id string, v model.ProjectVersion) error {
	res, err := s.db.NewUpdate().Model((*ProjectModel)(nil)).
		Set("version = ?", int(v)).
		Where("id = ?", id).
		Where("version = ?", int(model.ProjectV1)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set version of project %s: %w", id, err)
	}
	if n := rowsAffected(res); n != 1 {
		return fmt.Errorf("set version of project %s: %d rows updated: %w", id, n, errs.ErrPartialUpdate)
	}
	return nil
}

// ClaimUpgrade flips a V1 project whose upgrade status is null or FAILED to
// IN_PROGRESS in one conditional update. Any other state yields
// errs.ErrInvalidState.
func (s *BunStore) ClaimUpgrade(ctx context.Context, id string) error {
	res, err := s.db.NewUpdate().Model((*ProjectModel)(nil)).
		Set("upgrade_status = ?", string(model.UpgradeStatusInProgress)).
		Where("id = ?", id).
		Where("version = ?", int(model.ProjectV1)).
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Where("upgrade_status IS NULL").WhereOr("upgrade_status = ?", string(model.UpgradeStatusFailed))
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("claim upgrade of project %s: %w", id, err)
	}
	if rowsAffected(res) != 1 {
		return fmt.Errorf("claim upgrade of project %s: %w", id, errs.ErrInvalidState)
	}
	return nil
}

func (s *BunStore) SetUpgradeStatus(ctx context.Context, id string, status model.UpgradeStatus) error {
	_, err := s.db.NewUpdate().Model((*ProjectModel)(nil)).Set("upgrade_status = ?", nullString(string(status))).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("set upgrade status of project %s: %w", id, err)
	}
	return nil
}

// Project keys and bots

func (s *BunStore) FindLatestProjectKey(ctx context.Context, receiverID, projectID string) (*model.ProjectKey, error) {
	var m ProjectKeyModel
	err := s.db.NewSelect().Model(&m).
		Where("receiver_id = ?", receiverID).
		Where("project_id = ?", projectID).
		OrderExpr("created_at DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	k := projectKeyModelToModel(m)
	sender, err := s.FindUserEncryptionKey(ctx, k.SenderID)
	if err != nil {
		return nil, fmt.Errorf("resolve sender key for project key %s: %w", k.ID, err)
	}
	if sender != nil {
		k.SenderPublicKey = sender.PublicKey
	}
	return &k, nil
}

func (s *BunStore) ListProjectKeys(ctx context.Context, projectID string) ([]model.ProjectKey, error) {
	var rows []ProjectKeyModel
	if err := s.db.NewSelect().Model(&rows).Where("project_id = ?", projectID).OrderExpr("created_at DESC, id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.ProjectKey, 0, len(rows))
	for _, r := range rows {
		out = append(out, projectKeyModelToModel(r))
	}
	return out, nil
}

func (s *BunStore) CreateProjectKey(ctx context.Context, key *model.ProjectKey) error {
	prepareProjectKey(key)
	m := projectKeyToModel(*key)
	_, err := s.db.NewInsert().Model(&m).Exec(ctx)
	return MapDBError(err)
}

func (s *BunStore) InsertProjectKeys(ctx context.Context, keys []model.ProjectKey) error {
	if len(keys) == 0 {
		return nil
	}
	rows := make([]ProjectKeyModel, 0, len(keys))
	for i := range keys {
		prepareProjectKey(&keys[i])
		rows = append(rows, projectKeyToModel(keys[i]))
	}
	_, err := s.db.NewInsert().Model(&rows).Exec(ctx)
	return MapDBError(err)
}

func prepareProjectKey(k *model.ProjectKey) {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now()
	}
}

func (s *BunStore) DeleteProjectKeys(ctx context.Context, projectID string, ids []string) (int, error) {
	total := 0
	for _, part := range chunk(ids, deleteChunkSize) {
		res, err := s.db.NewDelete().Model((*ProjectKeyModel)(nil)).
			Where("project_id = ?", projectID).
			Where("id IN (?)", bun.In(part)).
			Exec(ctx)
		if err != nil {
			return total, err
		}
		total += rowsAffected(res)
	}
	return total, nil
}

func (s *BunStore) FindProjectBot(ctx context.Context, projectID string) (*model.ProjectBot, error) {
	var m ProjectBotModel
	if err := s.db.NewSelect().Model(&m).Where("project_id = ?", projectID).Limit(1).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	b := projectBotModelToModel(m)
	return &b, nil
}

func (s *BunStore) CreateProjectBot(ctx context.Context, bot *model.ProjectBot) error {
	if bot.ID == "" {
		bot.ID = uuid.NewString()
	}
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = now()
	}
	m := ProjectBotModel{
		ID:                       bot.ID,
		Name:                     bot.Name,
		ProjectID:                bot.ProjectID,
		PublicKey:                bot.PublicKey,
		EncryptedPrivateKey:      bot.EncryptedPrivateKey,
		IV:                       bot.IV,
		Tag:                      bot.Tag,
		Algorithm:                bot.Algorithm,
		KeyEncoding:              string(bot.KeyEncoding),
		SenderID:                 nullString(bot.SenderID),
		EncryptedProjectKey:      nullString(bot.EncryptedProjectKey),
		EncryptedProjectKeyNonce: nullString(bot.EncryptedProjectKeyNonce),
		IsActive:                 bot.IsActive,
		CreatedAt:                bot.CreatedAt,
	}
	_, err := s.db.NewInsert().Model(&m).Exec(ctx)
	return MapDBError(err)
}

func (s *BunStore) DeleteProjectBot(ctx context.Context, id string) error {
	_, err := s.db.NewDelete().Model((*ProjectBotModel)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// Identities

func (s *BunStore) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now()
	}
	m := UserModel{ID: u.ID, Email: u.Email, IsGhost: u.IsGhost, CreatedAt: u.CreatedAt}
	_, err := s.db.NewInsert().Model(&m).Exec(ctx)
	return MapDBError(err)
}

// FindUser returns the user with id, or nil.
func (s *BunStore) FindUser(ctx context.Context, id string) (*model.User, error) {
	var m UserModel
	if err := s.db.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &model.User{ID: m.ID, Email: m.Email, IsGhost: m.IsGhost, CreatedAt: m.CreatedAt}, nil
}

func (s *BunStore) CreateUserEncryptionKey(ctx context.Context, k *model.UserEncryptionKey) error {
	m := UserEncryptionKeyModel{
		UserID:              k.UserID,
		PublicKey:           k.PublicKey,
		EncryptedPrivateKey: k.EncryptedPrivateKey,
		IV:                  k.IV,
		Tag:                 k.Tag,
		KeyEncoding:         string(k.KeyEncoding),
	}
	_, err := s.db.NewInsert().Model(&m).Exec(ctx)
	return MapDBError(err)
}

func (s *BunStore) FindUserEncryptionKey(ctx context.Context, userID string) (*model.UserEncryptionKey, error) {
	var m UserEncryptionKeyModel
	if err := s.db.NewSelect().Model(&m).Where("user_id = ?", userID).Limit(1).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	k := userEncryptionKeyModelToModel(m)
	return &k, nil
}

func (s *BunStore) CreateOrgMembership(ctx context.Context, m *model.OrgMembership) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	row := OrgMembershipModel{ID: m.ID, OrgID: m.OrgID, UserID: m.UserID, Role: string(m.Role), CreatedAt: m.CreatedAt}
	_, err := s.db.NewInsert().Model(&row).Exec(ctx)
	return MapDBError(err)
}

func (s *BunStore) FindOrgMembership(ctx context.Context, userID, orgID string) (*model.OrgMembership, error) {
	var m OrgMembershipModel
	if err := s.db.NewSelect().Model(&m).Where("user_id = ?", userID).Where("org_id = ?", orgID).Limit(1).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &model.OrgMembership{ID: m.ID, OrgID: m.OrgID, UserID: m.UserID, Role: model.MembershipRole(m.Role), CreatedAt: m.CreatedAt}, nil
}

func (s *BunStore) CreateProjectMembership(ctx context.Context, m *model.ProjectMembership) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	row := ProjectMembershipModel{ID: m.ID, ProjectID: m.ProjectID, UserID: m.UserID, Role: string(m.Role), CreatedAt: m.CreatedAt}
	_, err := s.db.NewInsert().Model(&row).Exec(ctx)
	return MapDBError(err)
}

func (s *BunStore) FindProjectMembership(ctx context.Context, userID, projectID string) (*model.ProjectMembership, error) {
	var m ProjectMembershipModel
	if err := s.db.NewSelect().Model(&m).Where("user_id = ?", userID).Where("project_id = ?", projectID).Limit(1).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &model.ProjectMembership{ID: m.ID, ProjectID: m.ProjectID, UserID: m.UserID, Role: model.MembershipRole(m.Role), CreatedAt: m.CreatedAt}, nil
}
