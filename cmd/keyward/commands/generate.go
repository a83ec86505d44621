package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/metadata"
)

// NewGenerateCommand creates the 'generate' command
func NewGenerateCommand(cfg *config.Config) *cobra.Command {
	var (
		rotate  bool
		maxAge  int
		warning int
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "generate KEY_NAME",
		Short: "Generate and store key material for a new key",
		Long: `Generate 32 bytes of random key material, store it in the configured
key source, and start tracking the key's lifecycle.

Generating a key that is already stored is a no-op unless --rotate is
given, in which case the material is replaced in place and the rotation
count incremented. No re-encryption happens here; use 'keyward rotate'
for keys that already protect values.`,
		Example: `  # Generate a new application key with the default 90/7 policy
  keyward generate APP_MASTER_KEY

  # Generate with a tighter rotation policy
  keyward generate APP_MASTER_KEY --max-age 30 --warning 5

  # Replace the stored material in place
  keyward generate APP_MASTER_KEY --rotate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cfg)
			if err != nil {
				return err
			}

			rotationCfg := metadata.RotationConfig{
				MaxAgeInDays:           maxAge,
				WarningThresholdInDays: warning,
			}

			value, err := svc.GenerateKey(args[0], rotate, rotationCfg)
			if err != nil {
				return err
			}
			if value == "" {
				// Already stored; nothing was generated.
				return nil
			}

			cfg.Logger.Info("Key '%s' stored (max age %d days, warning at %d days remaining)",
				args[0], rotationCfg.MaxAgeInDays, rotationCfg.WarningThresholdInDays)
			if !quiet {
				// The one time the material is shown; it is not logged.
				fmt.Println(value)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&rotate, "rotate", false, "Replace existing key material in place")
	cmd.Flags().IntVar(&maxAge, "max-age", metadata.DefaultMaxAgeInDays, "Maximum key age in days")
	cmd.Flags().IntVar(&warning, "warning", metadata.DefaultWarningThresholdInDays, "Days before expiry to start warning")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the generated material")

	return cmd
}
