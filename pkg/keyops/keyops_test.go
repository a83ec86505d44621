package keyops_test

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/crypto"
	"github.com/keyward/keyward/internal/envfile"
	kwerrors "github.com/keyward/keyward/internal/errors"
	"github.com/keyward/keyward/internal/keysource"
	"github.com/keyward/keyward/internal/lifecycle"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/metadata"
	"github.com/keyward/keyward/internal/rotation"
	"github.com/keyward/keyward/pkg/keyops"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	service *keyops.Service
	manager *lifecycle.Manager
	store   *metadata.Store
	keys    *keysource.FileSource
	cipher  *crypto.Cipher
	editor  *envfile.Editor
	envFile string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logging.New(false, true)
	validator, err := metadata.NewValidator(logger)
	require.NoError(t, err)

	dir := t.TempDir()
	store := metadata.NewStore(filepath.Join(dir, "metadata.json"), validator, logger)
	editor := envfile.NewEditor()
	keys := keysource.NewFileSource(filepath.Join(dir, "keys.env"), editor)
	cipher := crypto.NewCipher(keys)

	manager := lifecycle.NewManager(store, keys, logger)
	manager.SetClock(func() time.Time { return testNow })
	rotator := rotation.NewService(manager, store, keys, cipher, editor, logger)
	rotator.SetClock(func() time.Time { return testNow })

	return &fixture{
		service: keyops.New(manager, rotator, store, cipher, editor, logger),
		manager: manager,
		store:   store,
		keys:    keys,
		cipher:  cipher,
		editor:  editor,
		envFile: filepath.Join(dir, ".env"),
	}
}

// TestGenerateKey validates generated material is stored, tracked, and
// returned exactly once
func TestGenerateKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	value, err := f.service.GenerateKey("APP_KEY", false, metadata.DefaultRotationConfig())
	require.NoError(t, err)

	// 32 random bytes, hex encoded.
	raw, err := hex.DecodeString(value)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	stored, ok, err := f.keys.Get("APP_KEY")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value, stored)

	info, err := f.service.GetKeyInfo("APP_KEY", false)
	require.NoError(t, err)
	assert.Equal(t, 0, info.RotationCount)
	assert.Equal(t, metadata.StatusHealthy, info.Status)

	// A second generate without rotate leaves the material alone and
	// returns nothing, since nothing was stored.
	second, err := f.service.GenerateKey("APP_KEY", false, metadata.DefaultRotationConfig())
	require.NoError(t, err)
	assert.Empty(t, second)
	stored, _, err = f.keys.Get("APP_KEY")
	require.NoError(t, err)
	assert.Equal(t, value, stored)
}

// TestEncryptVariables tests explicit and sweep modes
func TestEncryptVariables(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.service.GenerateKey("APP_KEY", false, metadata.DefaultRotationConfig())
	require.NoError(t, err)

	require.NoError(t, f.editor.UpdateKeyValue(f.envFile, "DB_URL", "postgres://localhost"))
	require.NoError(t, f.editor.UpdateKeyValue(f.envFile, "API_TOKEN", "abc123"))
	require.NoError(t, f.editor.UpdateKeyValue(f.envFile, "PORT", "8080"))

	count, err := f.service.EncryptVariables(context.Background(), f.envFile, "APP_KEY", []string{"DB_URL", "API_TOKEN"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// The named values are sealed, the rest untouched.
	dbURL, _, err := f.editor.GetKeyValue(f.envFile, "DB_URL")
	require.NoError(t, err)
	assert.True(t, crypto.IsEncrypted(dbURL))
	port, _, err := f.editor.GetKeyValue(f.envFile, "PORT")
	require.NoError(t, err)
	assert.Equal(t, "8080", port)

	opened, err := f.cipher.Decrypt(dbURL, "APP_KEY")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost", opened)

	// Usage tracking picked up the file and variables.
	info, err := f.service.GetKeyInfo("APP_KEY", false)
	require.NoError(t, err)
	assert.Equal(t, []string{f.envFile}, info.UsageTracking.EnvironmentsUsedIn)
	assert.Equal(t, []string{"API_TOKEN", "DB_URL"}, info.UsageTracking.DependentVariables)

	// A sweep takes the remaining plaintext; already sealed values and
	// absent names are skipped.
	count, err = f.service.EncryptVariables(context.Background(), f.envFile, "APP_KEY", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = f.service.EncryptVariables(context.Background(), f.envFile, "APP_KEY", []string{"MISSING"})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// TestRotateThroughFacade validates end-to-end rotation via the facade
func TestRotateThroughFacade(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.service.GenerateKey("APP_KEY", false, metadata.DefaultRotationConfig())
	require.NoError(t, err)

	require.NoError(t, f.editor.UpdateKeyValue(f.envFile, "DB_URL", "postgres://localhost"))
	_, err = f.service.EncryptVariables(context.Background(), f.envFile, "APP_KEY", nil)
	require.NoError(t, err)

	result, err := f.service.RotateKeyWithAudit(context.Background(), "APP_KEY", "fresh-material", f.envFile, metadata.ReasonScheduled, rotation.Options{})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 1, result.ReEncryptedCount)

	dbURL, _, err := f.editor.GetKeyValue(f.envFile, "DB_URL")
	require.NoError(t, err)
	opened, err := f.cipher.Decrypt(dbURL, "APP_KEY")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost", opened)

	info, err := f.service.GetKeyInfo("APP_KEY", true)
	require.NoError(t, err)
	assert.Equal(t, 1, info.RotationCount)
	require.NotNil(t, info.AuditTrail)
	assert.NotEmpty(t, info.AuditTrail.RotationHistory)
}

// TestGetKeyInfoAuditDetail validates the trail is withheld unless asked for
func TestGetKeyInfoAuditDetail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.service.GenerateKey("APP_KEY", false, metadata.DefaultRotationConfig())
	require.NoError(t, err)

	info, err := f.service.GetKeyInfo("APP_KEY", false)
	require.NoError(t, err)
	assert.Nil(t, info.AuditTrail)

	info, err = f.service.GetKeyInfo("APP_KEY", true)
	require.NoError(t, err)
	require.NotNil(t, info.AuditTrail)

	_, err = f.service.GetKeyInfo("UNTRACKED", false)
	require.Error(t, err)
	assert.True(t, kwerrors.IsNotFound(err))
}

// TestStartupSecurityCheck tests the pass and fail verdicts
func TestStartupSecurityCheck(t *testing.T) {
	t.Parallel()

	t.Run("passes_on_healthy_system", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := f.service.GenerateKey("APP_KEY", false, metadata.DefaultRotationConfig())
		require.NoError(t, err)

		report, err := f.service.StartupSecurityCheck()
		require.NoError(t, err)
		assert.True(t, report.Passed)
		assert.Equal(t, metadata.StatusHealthy, report.SystemHealth)
		assert.Nil(t, report.InterruptedRotation)
	})

	t.Run("fails_on_expired_key", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		rec := metadata.NewKeyMetadata("OLD_KEY", metadata.DefaultRotationConfig(), testNow.Add(-100*24*time.Hour))
		require.NoError(t, f.store.UpdateKey("OLD_KEY", rec))

		report, err := f.service.StartupSecurityCheck()
		require.NoError(t, err)
		assert.False(t, report.Passed)
		assert.Equal(t, metadata.StatusCritical, report.SystemHealth)
	})

	t.Run("fails_on_interrupted_rotation", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		markerPath := rotation.MarkerPath(f.store.Path())
		require.NoError(t, os.MkdirAll(filepath.Dir(markerPath), 0700))
		require.NoError(t, os.WriteFile(markerPath, []byte(`{
			"attemptId": "8d2f",
			"keyName": "APP_KEY",
			"environmentFile": ".env",
			"state": "re_encrypting",
			"startedAt": "2026-03-01T12:00:00Z"
		}`), 0600))

		report, err := f.service.StartupSecurityCheck()
		require.NoError(t, err)
		assert.False(t, report.Passed)
		require.NotNil(t, report.InterruptedRotation)
		assert.Equal(t, "APP_KEY", report.InterruptedRotation.KeyName)

		// Acknowledging clears the marker and the next check passes.
		require.NoError(t, f.service.ClearRotationMarker())
		report, err = f.service.StartupSecurityCheck()
		require.NoError(t, err)
		assert.True(t, report.Passed)
	})
}
