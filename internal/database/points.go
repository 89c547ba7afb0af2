package database

import (
	"context"

	"domaindns/internal/model"
)

// AdjustPoints applies a signed delta to the user's balance and returns the
// resulting balance. The UPDATE takes a row lock, so concurrent adjustments
// for the same user serialize; callers pair every call with exactly one
// InsertPointsTxn inside the same transaction.
func (db *DB) AdjustPoints(ctx context.Context, userID int64, delta int) (int, error) {
	var balance int
	err := db.q.QueryRowContext(ctx,
		"UPDATE users SET points = points + $1, updated_at = NOW() WHERE id = $2 RETURNING points",
		delta, userID).Scan(&balance)
	return balance, err
}

// InsertPointsTxn appends one ledger row. Rows are never updated or deleted.
func (db *DB) InsertPointsTxn(ctx context.Context, txn model.PointsTransaction) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO points_transactions (user_id, change, balance_after, type, remark, related_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		txn.UserID, txn.Change, txn.BalanceAfter, txn.Type, txn.Remark, txn.RelatedID,
	)
	return err
}

func (db *DB) ListPointsTxns(ctx context.Context, userID int64, limit, offset int) ([]model.PointsTransaction, int, error) {
	var total int
	if err := db.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM points_transactions WHERE user_id = $1", userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.q.QueryContext(ctx,
		`SELECT id, user_id, change, balance_after, type, remark, related_id, created_at
		 FROM points_transactions WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var txns []model.PointsTransaction
	for rows.Next() {
		var t model.PointsTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Change, &t.BalanceAfter, &t.Type,
			&t.Remark, &t.RelatedID, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		txns = append(txns, t)
	}
	return txns, total, rows.Err()
}

// HasPointsTxn reports whether a ledger row of the given type and related
// entity already exists for the user. Guards one-shot credits such as card
// redemptions and the verification reward.
func (db *DB) HasPointsTxn(ctx context.Context, userID int64, txnType string, relatedID *int64) (bool, error) {
	var n int
	var err error
	if relatedID != nil {
		err = db.q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM points_transactions WHERE user_id = $1 AND type = $2 AND related_id = $3",
			userID, txnType, *relatedID).Scan(&n)
	} else {
		err = db.q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM points_transactions WHERE user_id = $1 AND type = $2",
			userID, txnType).Scan(&n)
	}
	return n > 0, err
}

func (db *DB) GetStats(ctx context.Context) (*model.Stats, error) {
	s := &model.Stats{RecordsByType: make(map[string]int)}
	if err := db.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&s.UserCount); err != nil {
		return nil, err
	}
	if err := db.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_domains").Scan(&s.DomainCount); err != nil {
		return nil, err
	}
	if err := db.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM dns_records").Scan(&s.RecordCount); err != nil {
		return nil, err
	}
	if err := db.q.QueryRowContext(ctx, "SELECT COALESCE(SUM(points), 0) FROM users").Scan(&s.TotalPoints); err != nil {
		return nil, err
	}

	rows, err := db.q.QueryContext(ctx, "SELECT type, COUNT(*) FROM dns_records GROUP BY type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		s.RecordsByType[typ] = n
	}
	return s, rows.Err()
}
