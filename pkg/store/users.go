package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a dashboard account as shown to the outside world. It never holds the password.
type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
	LastLogin string `json:"last_login,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Account is a [User] together with its password hash, as needed to authenticate it.
type Account struct {
	User
	PasswordHash string `json:"-"`
}

// NewUser holds what's needed to create a dashboard account.
// The password must already be hashed: the store persists whatever it's given.
type NewUser struct {
	Name         string
	Email        string
	PasswordHash string
	Role         string // default is [RoleUser]
}

// SaveUser creates the account and returns its id.
// It returns [ErrDuplicateEmail] if the email is already in use, and [ErrNotSaved] on any other failure.
func (s *Store) SaveUser(ctx context.Context, u NewUser) (int64, error) {
	if u.Role == "" {
		u.Role = RoleUser
	}

	var id int64
	err := s.withRetry(ctx, func() error {
		res, err := s.insertUser.ExecContext(ctx, u.Name, u.Email, u.PasswordHash, u.Role)
		if err != nil {
			return err
		}

		id, err = res.LastInsertId()
		return err
	})

	switch {
	case err == nil:
		return id, nil

	case isUniqueViolation(err):
		return 0, ErrDuplicateEmail

	default:
		s.log.Error("store: failed to save user", "error", err)
		return 0, ErrNotSaved
	}
}

// FindUserByEmail returns the account with the given email, including its password hash.
// Emails are compared as stored (case-sensitive). It returns [ErrUserNotFound] if the account
// doesn't exist or can't be read.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (Account, error) {
	var a Account
	var lastLogin sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password, role, is_active, last_login, created_at, updated_at
		FROM "dashboard-user"
		WHERE email = ?`, email,
	).Scan(
		&a.ID,
		&a.Name,
		&a.Email,
		&a.PasswordHash,
		&a.Role,
		&a.IsActive,
		&lastLogin,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Error("store: failed to find user by email", "error", err)
		}
		return Account{}, ErrUserNotFound
	}

	a.LastLogin = lastLogin.String
	return a, nil
}

// FindUserByID returns the user with the given id, without its password.
// It returns [ErrUserNotFound] if the user doesn't exist or can't be read.
func (s *Store) FindUserByID(ctx context.Context, id int64) (User, error) {
	var u User
	var lastLogin sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, is_active, last_login, created_at, updated_at
		FROM "dashboard-user"
		WHERE id = ?`, id,
	).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.IsActive,
		&lastLogin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Error("store: failed to find user by id", "error", err, "id", id)
		}
		return User{}, ErrUserNotFound
	}

	u.LastLogin = lastLogin.String
	return u, nil
}

// UpdateUserLastLogin sets the last login of the user to now.
// It returns [ErrUserNotFound] if no user has that id, and [ErrNotSaved] on any other failure.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id int64) error {
	var updated int64
	err := s.withRetry(ctx, func() error {
		res, err := s.updateLastLogin.ExecContext(ctx, id)
		if err != nil {
			return err
		}

		updated, err = res.RowsAffected()
		return err
	})

	if err != nil {
		s.log.Error("store: failed to update last login", "error", err, "id", id)
		return ErrNotSaved
	}

	if updated == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AllUsers returns every user, newest first, without passwords.
func (s *Store) AllUsers(ctx context.Context) []User {
	users, err := s.scanUsers(ctx)
	if err != nil {
		s.log.Error("store: failed to fetch users", "error", err)
		return []User{}
	}
	return users
}

func (s *Store) scanUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, role, is_active, last_login, created_at
		FROM "dashboard-user"
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		var lastLogin sql.NullString

		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.IsActive, &lastLogin, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}

		u.LastLogin = lastLogin.String
		users = append(users, u)
	}
	return users, rows.Err()
}
