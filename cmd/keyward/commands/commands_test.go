package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/crypto"
	"github.com/keyward/keyward/internal/envfile"
	"github.com/keyward/keyward/internal/logging"
)

// newTestConfig writes a keyward.yaml pointing every path into a temp dir.
func newTestConfig(t *testing.T) (*config.Config, string) {
	t.Helper()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "keyward.yaml")
	content := fmt.Sprintf(`
version: 1
metadataFile: %s
keySource:
  type: file
  path: %s
environments:
  production: %s
`,
		filepath.Join(dir, "state", "metadata.json"),
		filepath.Join(dir, "keys.env"),
		filepath.Join(dir, ".env.production"),
	)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	return &config.Config{
		Path:   configPath,
		Logger: logging.New(false, true),
	}, dir
}

func runCommand(t *testing.T, cfg *config.Config, build func(*config.Config) *cobra.Command, args ...string) error {
	t.Helper()

	cmd := build(cfg)
	cmd.SetArgs(args)
	return cmd.Execute()
}

// TestGenerateStatusAuditFlow exercises the provisioning commands end to end
func TestGenerateStatusAuditFlow(t *testing.T) {
	cfg, dir := newTestConfig(t)

	require.NoError(t, runCommand(t, cfg, NewGenerateCommand, "APP_KEY", "--quiet"))

	// The key landed in the configured source.
	editor := envfile.NewEditor()
	value, ok, err := editor.GetKeyValue(filepath.Join(dir, "keys.env"), "APP_KEY")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, value)

	// Metadata tracking started.
	_, err = os.Stat(filepath.Join(dir, "state", "metadata.json"))
	require.NoError(t, err)

	require.NoError(t, runCommand(t, cfg, NewStatusCommand, "APP_KEY", "--format", "json"))
	require.NoError(t, runCommand(t, cfg, NewAuditCommand, "--format", "json"))
	require.NoError(t, runCommand(t, cfg, NewInfoCommand, "APP_KEY", "--format", "json"))
	require.NoError(t, runCommand(t, cfg, NewStartupCheckCommand))
}

// TestEncryptAndRotateFlow exercises encrypt followed by rotation with the
// environment name resolved from config
func TestEncryptAndRotateFlow(t *testing.T) {
	cfg, dir := newTestConfig(t)
	envFile := filepath.Join(dir, ".env.production")
	require.NoError(t, os.WriteFile(envFile, []byte("DB_URL=postgres://localhost\n"), 0600))

	require.NoError(t, runCommand(t, cfg, NewGenerateCommand, "APP_KEY", "--quiet"))
	require.NoError(t, runCommand(t, cfg, NewEncryptCommand, "production", "--key", "APP_KEY"))

	editor := envfile.NewEditor()
	sealed, _, err := editor.GetKeyValue(envFile, "DB_URL")
	require.NoError(t, err)
	assert.True(t, crypto.IsEncrypted(sealed))

	require.NoError(t, runCommand(t, cfg, NewRotateCommand, "APP_KEY", "production", "--reason", "scheduled"))

	// Re-encrypted under the new key.
	rotated, _, err := editor.GetKeyValue(envFile, "DB_URL")
	require.NoError(t, err)
	assert.True(t, crypto.IsEncrypted(rotated))
	assert.NotEqual(t, sealed, rotated)

	require.NoError(t, runCommand(t, cfg, NewHistoryCommand, "APP_KEY", "--format", "json"))
}

// TestRotateRejectsUnknownReason validates reason validation
func TestRotateRejectsUnknownReason(t *testing.T) {
	cfg, _ := newTestConfig(t)

	require.NoError(t, runCommand(t, cfg, NewGenerateCommand, "APP_KEY", "--quiet"))

	err := runCommand(t, cfg, NewRotateCommand, "APP_KEY", "production", "--reason", "because")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid reason")
}
