package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"domaindns/internal/model"
)

// Unique constraint names on user_domains; the workflow maps violations to
// its error taxonomy and compensates the already-created provider record.
const (
	ConstraintUserDomainOwner = "user_domains_user_id_full_domain_key"
	ConstraintUserDomainName  = "user_domains_zone_name_uniq"
)

// UniqueViolation reports which unique constraint, if any, err represents.
func UniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

const userDomainColumns = "id, user_id, zone_id, dns_record_id, prefix, full_domain, record_type, record_value, ttl, remark, created_at"

func scanUserDomain(row *sql.Row) (*model.UserDomain, error) {
	d := &model.UserDomain{}
	err := row.Scan(&d.ID, &d.UserID, &d.ZoneID, &d.DNSRecordID, &d.Prefix,
		&d.FullDomain, &d.RecordType, &d.RecordValue, &d.TTL, &d.Remark, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (db *DB) InsertUserDomain(ctx context.Context, d model.UserDomain) (int64, error) {
	var id int64
	err := db.q.QueryRowContext(ctx,
		`INSERT INTO user_domains (user_id, zone_id, dns_record_id, prefix, full_domain, record_type, record_value, ttl, remark)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		d.UserID, d.ZoneID, d.DNSRecordID, d.Prefix, d.FullDomain, d.RecordType, d.RecordValue, d.TTL, d.Remark,
	).Scan(&id)
	return id, err
}

func (db *DB) FindUserDomainByIDAndUser(ctx context.Context, id, userID int64) (*model.UserDomain, error) {
	return scanUserDomain(db.q.QueryRowContext(ctx,
		"SELECT "+userDomainColumns+" FROM user_domains WHERE id = $1 AND user_id = $2", id, userID))
}

func (db *DB) CountUserDomainsByUserAndDomain(ctx context.Context, userID int64, fullDomain string) (int, error) {
	var n int
	err := db.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_domains WHERE user_id = $1 AND full_domain = $2",
		userID, fullDomain).Scan(&n)
	return n, err
}

func (db *DB) ListUserDomains(ctx context.Context, userID int64, limit, offset int) ([]model.UserDomain, int, error) {
	var total int
	if err := db.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_domains WHERE user_id = $1", userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.q.QueryContext(ctx,
		"SELECT "+userDomainColumns+" FROM user_domains WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []model.UserDomain
	for rows.Next() {
		var d model.UserDomain
		if err := rows.Scan(&d.ID, &d.UserID, &d.ZoneID, &d.DNSRecordID, &d.Prefix,
			&d.FullDomain, &d.RecordType, &d.RecordValue, &d.TTL, &d.Remark, &d.CreatedAt); err != nil {
			return nil, 0, err
		}
		list = append(list, d)
	}
	return list, total, rows.Err()
}

func (db *DB) DeleteUserDomainByIDAndUser(ctx context.Context, id, userID int64) (bool, error) {
	res, err := db.q.ExecContext(ctx,
		"DELETE FROM user_domains WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetUserDomainRecordID attaches or detaches (nil) the weak mirror
// reference. Always detach before deleting the referenced mirror row.
func (db *DB) SetUserDomainRecordID(ctx context.Context, id int64, recordID *int64) error {
	_, err := db.q.ExecContext(ctx,
		"UPDATE user_domains SET dns_record_id = $1 WHERE id = $2", recordID, id)
	return err
}

func (db *DB) UpdateUserDomainRecordInfo(ctx context.Context, id int64, recordType, recordValue string, ttl *int, remark string) error {
	_, err := db.q.ExecContext(ctx,
		"UPDATE user_domains SET record_type = $1, record_value = $2, ttl = $3, remark = $4 WHERE id = $5",
		recordType, recordValue, ttl, remark, id)
	return err
}
