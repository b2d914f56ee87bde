package repo

import (
	"context"
	"database/sql"

	"switchboard/internal/domain"
)

const userColumns = `id,email,display_name,phone,password,created_at,admin,enabled`

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var phone sql.NullString
	err := scan(&u.ID, &u.Email, &u.DisplayName, &phone, &u.Password, &u.CreatedAt, &u.Admin, &u.Enabled)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if phone.Valid {
		u.Phone = &phone.String
	}
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,email,display_name,phone,password,created_at,admin,enabled) VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, u.DisplayName, nullableStringPtr(u.Phone), u.Password, u.CreatedAt, u.Admin, u.Enabled)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id).Scan)
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email).Scan)
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
