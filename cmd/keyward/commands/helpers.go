package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/crypto"
	"github.com/keyward/keyward/internal/envfile"
	"github.com/keyward/keyward/internal/keysource"
	"github.com/keyward/keyward/internal/lifecycle"
	"github.com/keyward/keyward/internal/metadata"
	"github.com/keyward/keyward/internal/rotation"
	"github.com/keyward/keyward/pkg/keyops"
)

// buildServices loads the config and wires the full service graph behind
// the keyops facade. Every command goes through here.
func buildServices(cfg *config.Config) (*keyops.Service, error) {
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	validator, err := metadata.NewValidator(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to compile metadata schema: %w", err)
	}

	store := metadata.NewStore(cfg.Definition.MetadataFile, validator, cfg.Logger)
	editor := envfile.NewEditor()

	var keys keysource.Source
	switch cfg.Definition.KeySource.Type {
	case "keyring":
		keys = keysource.NewKeyringSource(cfg.Definition.KeySource.Service)
	default:
		keys = keysource.NewFileSource(cfg.Definition.KeySource.Path, editor)
	}

	cipher := crypto.NewCipher(keys)
	manager := lifecycle.NewManager(store, keys, cfg.Logger)
	rotator := rotation.NewService(manager, store, keys, cipher, editor, cfg.Logger)

	return keyops.New(manager, rotator, store, cipher, editor, cfg.Logger), nil
}

// outputJSON writes data to stdout as indented JSON.
func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// outputYAML writes data to stdout as YAML.
func outputYAML(data interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

// formatKeyStatus renders a key status with a glyph for table output.
func formatKeyStatus(status metadata.KeyStatus) string {
	switch status {
	case metadata.StatusHealthy:
		return "✅ Healthy"
	case metadata.StatusWarning:
		return "🟡 Warning"
	case metadata.StatusExpired:
		return "⏰ Expired"
	case metadata.StatusCritical:
		return "❌ Critical"
	default:
		return string(status)
	}
}

// formatTimestamp renders a timestamp relative to now for table output.
func formatTimestamp(t time.Time, now time.Time) string {
	diff := now.Sub(t)
	if diff < time.Minute {
		return "Just now"
	} else if diff < time.Hour {
		return fmt.Sprintf("%d min ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%d hr ago", int(diff.Hours()))
	} else if diff < 7*24*time.Hour {
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	}
	return t.Format("2006-01-02")
}
