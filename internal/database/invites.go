package database

import (
	"context"
	"database/sql"
	"time"

	"domaindns/internal/model"
)

const inviteColumns = "id, code, owner_user_id, status, max_uses, used_count, expired_at, created_at"

func scanInvite(row *sql.Row) (*model.InviteCode, error) {
	ic := &model.InviteCode{}
	err := row.Scan(&ic.ID, &ic.Code, &ic.OwnerUserID, &ic.Status, &ic.MaxUses,
		&ic.UsedCount, &ic.ExpiredAt, &ic.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ic, nil
}

func (db *DB) FindInviteByCode(ctx context.Context, code string) (*model.InviteCode, error) {
	return scanInvite(db.q.QueryRowContext(ctx,
		"SELECT "+inviteColumns+" FROM invite_codes WHERE code = $1", code))
}

func (db *DB) FindInviteByOwner(ctx context.Context, ownerUserID int64) (*model.InviteCode, error) {
	return scanInvite(db.q.QueryRowContext(ctx,
		"SELECT "+inviteColumns+" FROM invite_codes WHERE owner_user_id = $1", ownerUserID))
}

func (db *DB) InsertInvite(ctx context.Context, code string, ownerUserID int64, maxUses *int, expiredAt *time.Time) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO invite_codes (code, owner_user_id, status, max_uses, expired_at)
		 VALUES ($1, $2, 'ACTIVE', $3, $4)`,
		code, ownerUserID, maxUses, expiredAt)
	return err
}

func (db *DB) ResetInviteByOwner(ctx context.Context, ownerUserID int64, code string, maxUses *int, expiredAt *time.Time) error {
	_, err := db.q.ExecContext(ctx,
		`UPDATE invite_codes SET code = $1, max_uses = $2, expired_at = $3, used_count = 0, status = 'ACTIVE'
		 WHERE owner_user_id = $4`,
		code, maxUses, expiredAt, ownerUserID)
	return err
}

func (db *DB) IncrementInviteUse(ctx context.Context, code string) error {
	_, err := db.q.ExecContext(ctx,
		"UPDATE invite_codes SET used_count = used_count + 1 WHERE code = $1", code)
	return err
}
