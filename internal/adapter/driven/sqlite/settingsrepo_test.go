package sqlite

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z871327332/kiropanel/internal/domain/port/driven"
)

func testEncryptionKey() []byte {
	return bytes.Repeat([]byte("k"), 32)
}

func TestSettingsRepo_SetAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepo(db, testEncryptionKey())
	ctx := context.Background()

	err := repo.Set(ctx, driven.SettingAdminToken, "super-secret-token")
	require.NoError(t, err)

	val, err := repo.Get(ctx, driven.SettingAdminToken)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-token", val)
}

func TestSettingsRepo_ValueIsEncryptedAtRest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepo(db, testEncryptionKey())
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, driven.SettingAdminToken, "super-secret-token"))

	var raw string
	err := db.Reader.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, driven.SettingAdminToken).Scan(&raw)
	require.NoError(t, err)
	assert.NotContains(t, raw, "super-secret-token")
}

func TestSettingsRepo_GetMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepo(db, testEncryptionKey())

	val, err := repo.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Equal(t, "", val)
}

func TestSettingsRepo_SetOverwrites(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepo(db, testEncryptionKey())
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, driven.SettingUpstreamURL, "http://old:8080"))
	require.NoError(t, repo.Set(ctx, driven.SettingUpstreamURL, "http://new:8080"))

	val, err := repo.Get(ctx, driven.SettingUpstreamURL)
	require.NoError(t, err)
	assert.Equal(t, "http://new:8080", val)
}

func TestSettingsRepo_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepo(db, testEncryptionKey())
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, driven.SettingAdminToken, "tok"))
	require.NoError(t, repo.Delete(ctx, driven.SettingAdminToken))

	val, err := repo.Get(ctx, driven.SettingAdminToken)
	require.NoError(t, err)
	assert.Equal(t, "", val)
}

func TestSettingsRepo_NoEncryptionKey(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepo(db, nil)
	ctx := context.Background()

	err := repo.Set(ctx, driven.SettingAdminToken, "tok")
	assert.ErrorIs(t, err, driven.ErrEncryptionKeyNotSet)

	_, err = repo.Get(ctx, driven.SettingAdminToken)
	assert.ErrorIs(t, err, driven.ErrEncryptionKeyNotSet)
}

func TestSettingsRepo_WrongKeyFailsDecrypt(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, NewSettingsRepo(db, testEncryptionKey()).Set(ctx, driven.SettingAdminToken, "tok"))

	other := NewSettingsRepo(db, bytes.Repeat([]byte("x"), 32))
	_, err := other.Get(ctx, driven.SettingAdminToken)
	require.Error(t, err)
}
