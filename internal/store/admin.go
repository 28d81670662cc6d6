// ABOUTME: Admin user type and store methods backing password login
// ABOUTME: Usernames are unique case-insensitively; hashes are bcrypt

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrAdminUserNotFound is returned when an admin user doesn't exist.
var ErrAdminUserNotFound = fmt.Errorf("admin user %w", ErrNotFound)

// ErrUsernameExists is returned when trying to create a user with an existing username.
var ErrUsernameExists = errors.New("username already exists")

// AdminUser represents an account that may sign in to the back office.
type AdminUser struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt hash
	Role         string // "admin" or empty
	CreatedAt    time.Time
}

// AdminStore defines the interface for admin user persistence.
type AdminStore interface {
	CredentialStore

	CreateAdminUser(ctx context.Context, user *AdminUser) error
	UpdateAdminUserPassword(ctx context.Context, id, passwordHash string) error
	UpdateAdminUserRole(ctx context.Context, id, role string) error
	ListAdminUsers(ctx context.Context) ([]*AdminUser, error)
	CountAdminUsers(ctx context.Context) (int, error)
}

// Ensure SQLiteStore implements AdminStore.
var _ AdminStore = (*SQLiteStore)(nil)

const adminUserColumns = `id, username, password_hash, role, created_at`

// CreateAdminUser creates a new admin user.
func (s *SQLiteStore) CreateAdminUser(ctx context.Context, user *AdminUser) error {
	query := `
		INSERT INTO admin_users (id, username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.Role,
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		// Check for unique constraint violation
		if isUniqueConstraintError(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("inserting admin user: %w", err)
	}

	s.logger.Info("created admin user", "id", user.ID, "username", user.Username, "role", user.Role)
	return nil
}

// GetAdminUserByUsername retrieves an admin user by username (case-insensitive).
func (s *SQLiteStore) GetAdminUserByUsername(ctx context.Context, username string) (*AdminUser, error) {
	query := `SELECT ` + adminUserColumns + ` FROM admin_users WHERE username = ?`

	user, err := scanAdminUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		return nil, fmt.Errorf("querying admin user by username: %w", err)
	}
	return user, nil
}

// UpdateAdminUserPassword updates an admin user's password hash.
func (s *SQLiteStore) UpdateAdminUserPassword(ctx context.Context, id, passwordHash string) error {
	if err := s.updateAdminUser(ctx, `UPDATE admin_users SET password_hash = ? WHERE id = ?`, passwordHash, id); err != nil {
		return fmt.Errorf("updating admin user password: %w", err)
	}
	s.logger.Info("updated admin user password", "id", id)
	return nil
}

// UpdateAdminUserRole sets the role granted to an admin user.
func (s *SQLiteStore) UpdateAdminUserRole(ctx context.Context, id, role string) error {
	if err := s.updateAdminUser(ctx, `UPDATE admin_users SET role = ? WHERE id = ?`, role, id); err != nil {
		return fmt.Errorf("updating admin user role: %w", err)
	}
	s.logger.Info("updated admin user role", "id", id, "role", role)
	return nil
}

func (s *SQLiteStore) updateAdminUser(ctx context.Context, query, value, id string) error {
	result, err := s.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAdminUserNotFound
	}
	return nil
}

// ListAdminUsers returns all admin users.
func (s *SQLiteStore) ListAdminUsers(ctx context.Context) ([]*AdminUser, error) {
	query := `SELECT ` + adminUserColumns + ` FROM admin_users ORDER BY created_at ASC, username ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying admin users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*AdminUser
	for rows.Next() {
		user, err := scanAdminUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning admin user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating admin users: %w", err)
	}

	return users, nil
}

// CountAdminUsers returns the number of admin users.
func (s *SQLiteStore) CountAdminUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM admin_users").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting admin users: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAdminUser(row rowScanner) (*AdminUser, error) {
	var user AdminUser
	var createdAtStr string

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&createdAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAdminUserNotFound
	}
	if err != nil {
		return nil, err
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}

func isUniqueConstraintError(err error) bool {
	// SQLite returns "UNIQUE constraint failed" in the error message
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "unique constraint"))
}
