package database

import (
	"context"
	"database/sql"

	"golang.org/x/crypto/bcrypt"

	"domaindns/internal/model"
)

const userColumns = "id, username, email, pass_hash, role, points, active, auth_source, inviter_id, invite_code, created_at, updated_at"

func scanUser(row *sql.Row) (*model.User, error) {
	u := &model.User{}
	var email, inviteCode sql.NullString
	err := row.Scan(&u.ID, &u.Username, &email, &u.PassHash, &u.Role, &u.Points,
		&u.Active, &u.AuthSource, &u.InviterID, &inviteCode, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.InviteCode = inviteCode.String
	return u, nil
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(db.q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username))
}

func (db *DB) FindUserByID(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(db.q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (db *DB) ListUsers(ctx context.Context, limit, offset int) ([]model.User, int, error) {
	var total int
	_ = db.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total)

	rows, err := db.q.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY id LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		var email, inviteCode sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &email, &u.PassHash, &u.Role, &u.Points,
			&u.Active, &u.AuthSource, &u.InviterID, &inviteCode, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, 0, err
		}
		u.Email = email.String
		u.InviteCode = inviteCode.String
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (db *DB) CreateUser(ctx context.Context, username, email, password, role string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return 0, err
	}
	var id int64
	err = db.q.QueryRowContext(ctx,
		"INSERT INTO users (username, email, pass_hash, role) VALUES ($1, $2, $3, $4) RETURNING id",
		username, email, string(hash), role,
	).Scan(&id)
	return id, err
}

func (db *DB) UpdateUserPassword(ctx context.Context, username, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), 12)
	if err != nil {
		return err
	}
	_, err = db.q.ExecContext(ctx, "UPDATE users SET pass_hash = $1, updated_at = NOW() WHERE username = $2",
		string(hash), username)
	return err
}

func (db *DB) SetUserActive(ctx context.Context, username string, active bool) error {
	_, err := db.q.ExecContext(ctx, "UPDATE users SET active = $1, updated_at = NOW() WHERE username = $2",
		active, username)
	return err
}

func (db *DB) SetUserInviter(ctx context.Context, userID, inviterID int64) error {
	_, err := db.q.ExecContext(ctx, "UPDATE users SET inviter_id = $1, updated_at = NOW() WHERE id = $2",
		inviterID, userID)
	return err
}

func (db *DB) SetUserInviteCode(ctx context.Context, userID int64, code string) error {
	_, err := db.q.ExecContext(ctx, "UPDATE users SET invite_code = $1, updated_at = NOW() WHERE id = $2",
		code, userID)
	return err
}

func (db *DB) AuthenticateUser(ctx context.Context, username, password string) (*model.User, error) {
	u, err := db.GetUserByUsername(ctx, username)
	if err != nil || u == nil || !u.Active {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PassHash), []byte(password)); err != nil {
		return nil, nil
	}
	return u, nil
}

func (db *DB) CreateLDAPUser(ctx context.Context, username, email, role string) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO users (username, email, pass_hash, role, auth_source)
		 VALUES ($1, $2, '', $3, 'ldap')
		 ON CONFLICT(username) DO UPDATE SET
		   role = $4, auth_source = 'ldap', updated_at = NOW()`,
		username, email, role, role,
	)
	return err
}
