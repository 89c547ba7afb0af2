package database

import (
	"context"
	"database/sql"
	"time"

	"domaindns/internal/model"
)

func (db *DB) FindCardByCode(ctx context.Context, code string) (*model.Card, error) {
	c := &model.Card{}
	err := db.q.QueryRowContext(ctx,
		`SELECT id, code, points, status, usage_limit, used_count, used_by, expired_at, created_at
		 FROM cards WHERE code = $1`, code,
	).Scan(&c.ID, &c.Code, &c.Points, &c.Status, &c.UsageLimit, &c.UsedCount, &c.UsedBy, &c.ExpiredAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (db *DB) InsertCard(ctx context.Context, code string, points int, usageLimit *int, expiredAt *time.Time) (int64, error) {
	var id int64
	err := db.q.QueryRowContext(ctx,
		`INSERT INTO cards (code, points, status, usage_limit, expired_at)
		 VALUES ($1, $2, 'ACTIVE', $3, $4) RETURNING id`,
		code, points, usageLimit, expiredAt,
	).Scan(&id)
	return id, err
}

func (db *DB) ListCards(ctx context.Context, limit, offset int) ([]model.Card, int, error) {
	var total int
	_ = db.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM cards").Scan(&total)

	rows, err := db.q.QueryContext(ctx,
		`SELECT id, code, points, status, usage_limit, used_count, used_by, expired_at, created_at
		 FROM cards ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var cards []model.Card
	for rows.Next() {
		var c model.Card
		if err := rows.Scan(&c.ID, &c.Code, &c.Points, &c.Status, &c.UsageLimit, &c.UsedCount,
			&c.UsedBy, &c.ExpiredAt, &c.CreatedAt); err != nil {
			return nil, 0, err
		}
		cards = append(cards, c)
	}
	return cards, total, rows.Err()
}

// ConsumeCardUse claims one use of a card with a single guarded update, so
// concurrent redeemers racing past a stale read cannot over-consume it. A
// negative limit means unlimited. Returns the used count after the claim and
// whether a use was actually consumed.
func (db *DB) ConsumeCardUse(ctx context.Context, id int64, limit int) (int, bool, error) {
	query := `UPDATE cards SET used_count = used_count + 1
		 WHERE id = $1 AND status = 'ACTIVE' RETURNING used_count`
	args := []interface{}{id}
	if limit >= 0 {
		query = `UPDATE cards SET used_count = used_count + 1
			 WHERE id = $1 AND status = 'ACTIVE' AND used_count < $2 RETURNING used_count`
		args = append(args, limit)
	}
	var used int
	err := db.q.QueryRowContext(ctx, query, args...).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return used, true, nil
}

func (db *DB) MarkCardUsed(ctx context.Context, id, userID int64, at time.Time) error {
	_, err := db.q.ExecContext(ctx,
		"UPDATE cards SET status = 'USED', used_by = $1, used_at = $2 WHERE id = $3", userID, at, id)
	return err
}
