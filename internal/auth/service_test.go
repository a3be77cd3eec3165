package auth

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc, err := NewService(db)
	require.NoError(t, err)
	return svc
}

func TestRegisterHashesPassword(t *testing.T) {
	svc := newTestService(t)

	user, err := svc.Register("alice", "s3cret")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.NotEqual(t, "s3cret", user.Password)
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Register("alice", "s3cret")
	require.NoError(t, err)

	_, err = svc.Register("alice", "other")
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	svc := newTestService(t)

	created, err := svc.Register("alice", "s3cret")
	require.NoError(t, err)

	user, err := svc.Authenticate("alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)

	_, err = svc.Authenticate("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate("nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
