// ABOUTME: Tests for admin user persistence
// ABOUTME: Covers creation, case-insensitive lookup, updates, listing, and not-found errors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdminUser(id, username string) *AdminUser {
	return &AdminUser{
		ID:           id,
		Username:     username,
		PasswordHash: "$2a$10$abcdefghijklmnopqrstuv",
		Role:         "admin",
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndGetAdminUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := testAdminUser("user-1", "ada")
	require.NoError(t, s.CreateAdminUser(ctx, user))

	got, err := s.GetAdminUserByUsername(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, user.Username, got.Username)
	assert.Equal(t, user.PasswordHash, got.PasswordHash)
	assert.Equal(t, "admin", got.Role)
	assert.True(t, user.CreatedAt.Equal(got.CreatedAt))
}

func TestGetAdminUserByUsername_CaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAdminUser(ctx, testAdminUser("user-1", "Ada")))

	got, err := s.GetAdminUserByUsername(ctx, "ADA")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)
}

func TestGetAdminUserByUsername_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetAdminUserByUsername(ctx, "missing")
	assert.ErrorIs(t, err, ErrAdminUserNotFound)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCreateAdminUser_DuplicateUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAdminUser(ctx, testAdminUser("user-1", "ada")))
	err := s.CreateAdminUser(ctx, testAdminUser("user-2", "ADA"))
	assert.ErrorIs(t, err, ErrUsernameExists)
}

func TestUpdateAdminUserPasswordAndRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAdminUser(ctx, testAdminUser("user-1", "ada")))
	require.NoError(t, s.UpdateAdminUserPassword(ctx, "user-1", "new-hash"))
	require.NoError(t, s.UpdateAdminUserRole(ctx, "user-1", ""))

	got, err := s.GetAdminUserByUsername(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.Empty(t, got.Role)

	assert.ErrorIs(t, s.UpdateAdminUserPassword(ctx, "missing", "x"), ErrAdminUserNotFound)
	assert.ErrorIs(t, s.UpdateAdminUserRole(ctx, "missing", "admin"), ErrAdminUserNotFound)
}

func TestListAndCountAdminUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.CountAdminUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	first := testAdminUser("user-1", "ada")
	first.CreatedAt = first.CreatedAt.Add(-time.Hour)
	require.NoError(t, s.CreateAdminUser(ctx, first))
	require.NoError(t, s.CreateAdminUser(ctx, testAdminUser("user-2", "grace")))

	users, err := s.ListAdminUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "ada", users[0].Username)
	assert.Equal(t, "grace", users[1].Username)

	count, err = s.CountAdminUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
