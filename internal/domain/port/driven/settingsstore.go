package driven

import (
	"context"
	"errors"
)

// ErrEncryptionKeyNotSet is returned by SettingsStore operations when
// KIROPANEL_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set KIROPANEL_SECRET_KEY")

// Well-known settings keys.
const (
	SettingUpstreamURL = "upstream_url"
	SettingAdminToken  = "admin_token"
)

// SettingsStore defines the driven port for encrypted dashboard settings.
// The adapter layer is responsible for encryption/decryption; this interface
// operates on plaintext values at the domain boundary.
type SettingsStore interface {
	// Set stores or replaces the value for the given key.
	// Returns ErrEncryptionKeyNotSet if the adapter has no encryption key.
	Set(ctx context.Context, key, plaintext string) error

	// Get retrieves the plaintext value for the given key.
	// Returns ("", nil) if no value exists for that key.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes the value for the given key.
	Delete(ctx context.Context, key string) error
}
