package repository_test

import (
	"context"
	"database/sql"
	"realtime-chat-server/internal/repository"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"uuid", "login", "display_name", "role", "password_hash", "created_at"}).
		AddRow("u1", "user1", "Пользователь 1", "member", "$2a$10$hash", time.Now())
}

func TestFindByLogin(t *testing.T) {
	database, mockDB := newMockDatabase(t)
	repo := repository.NewUserRepository(database)

	mockDB.ExpectQuery(`SELECT uuid, login, display_name, role, password_hash, created_at FROM users WHERE login = \$1`).
		WithArgs("user1").
		WillReturnRows(userRows())

	user, err := repo.FindByLogin(context.Background(), "user1")

	require.NoError(t, err)
	assert.Equal(t, "u1", user.UUID)
	assert.Equal(t, "member", user.Role)
}

func TestFindByLogin_NotFound(t *testing.T) {
	database, mockDB := newMockDatabase(t)
	repo := repository.NewUserRepository(database)

	mockDB.ExpectQuery(`SELECT uuid, login, display_name, role, password_hash, created_at FROM users WHERE login = \$1`).
		WithArgs("unknown").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByLogin(context.Background(), "unknown")

	assert.Error(t, err)
}

func TestFindByUUID(t *testing.T) {
	database, mockDB := newMockDatabase(t)
	repo := repository.NewUserRepository(database)

	mockDB.ExpectQuery(`SELECT uuid, login, display_name, role, password_hash, created_at FROM users WHERE uuid = \$1`).
		WithArgs("u1").
		WillReturnRows(userRows())

	user, err := repo.FindByUUID(context.Background(), "u1")

	require.NoError(t, err)
	assert.Equal(t, "user1", user.Login)
}
