package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"sparrowvision.org/internal/access"
	"sparrowvision.org/internal/directory"
)

const pgErrUniqueViolation = "23505"

var _ directory.Store = (*Store)(nil)

func (s *Store) LoadUsers(ctx context.Context) ([]directory.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, email, name, role, status, coalesce(invited_by,''), invited_at, last_login
		from users
		order by invited_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []directory.User
	for rows.Next() {
		var (
			u         directory.User
			role      string
			status    string
			lastLogin sql.NullTime
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &role, &status, &u.InvitedBy, &u.InvitedAt, &lastLogin); err != nil {
			return nil, err
		}
		u.Role = access.Role(role)
		u.Status = directory.Status(status)
		if lastLogin.Valid {
			ts := lastLogin.Time.UTC()
			u.LastLogin = &ts
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) SaveUser(ctx context.Context, u directory.User) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	var lastLogin sql.NullTime
	if u.LastLogin != nil {
		lastLogin = sql.NullTime{Time: u.LastLogin.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, name, role, status, invited_by, invited_at, last_login)
		values ($1, $2, $3, $4, $5, nullif($6,''), $7, $8)
		on conflict (id) do update
		set email = excluded.email,
		    name = excluded.name,
		    role = excluded.role,
		    status = excluded.status,
		    last_login = excluded.last_login,
		    updated_at = now()
	`, u.ID, u.Email, u.Name, string(u.Role), string(u.Status), u.InvitedBy, u.InvitedAt, lastLogin)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return directory.ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return directory.ErrNotFound
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
