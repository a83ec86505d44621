package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/metadata"
	"github.com/keyward/keyward/internal/rotation"
)

// NewRotateCommand creates the 'rotate' command
func NewRotateCommand(cfg *config.Config) *cobra.Command {
	var (
		reason   string
		value    string
		maxAge   int
		forceAll bool
	)

	cmd := &cobra.Command{
		Use:   "rotate KEY_NAME ENVIRONMENT",
		Short: "Rotate a key and re-encrypt its dependent variables",
		Long: `Rotate a key's material and re-encrypt every dependent variable in the
environment file under the new key, recording the full audit trail.

New material is generated unless --value provides it. The rotation runs
as a transaction: on failure before the key swap nothing has changed; on
failure after the swap the command reports a consistency error and the
affected file needs a manual audit before retrying.`,
		Example: `  # Scheduled rotation of APP_MASTER_KEY in .env.production
  keyward rotate APP_MASTER_KEY production

  # Emergency rotation after a suspected compromise
  keyward rotate APP_MASTER_KEY production --reason compromised

  # Rotate and re-encrypt every variable, marked or not
  keyward rotate APP_MASTER_KEY production --force-all`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cfg)
			if err != nil {
				return err
			}

			rotationReason := metadata.RotationReason(reason)
			switch rotationReason {
			case metadata.ReasonScheduled, metadata.ReasonManual, metadata.ReasonExpired,
				metadata.ReasonCompromised, metadata.ReasonSecurityBreach:
			default:
				return fmt.Errorf("invalid reason '%s': must be scheduled, manual, expired, compromised, or security_breach", reason)
			}

			newValue := value
			if newValue == "" {
				raw := make([]byte, 32)
				if _, err := rand.Read(raw); err != nil {
					return fmt.Errorf("failed to generate key material: %w", err)
				}
				newValue = hex.EncodeToString(raw)
			}

			envFile := cfg.EnvironmentFile(args[1])
			result, err := svc.RotateKeyWithAudit(cmd.Context(), args[0], newValue, envFile, rotationReason, rotation.Options{
				CustomMaxAge: maxAge,
				ForceAll:     forceAll,
			})
			if err != nil {
				return err
			}

			cfg.Logger.Info("Rotated key '%s': %d variable(s) re-encrypted in %s",
				args[0], result.ReEncryptedCount, envFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", string(metadata.ReasonManual), "Rotation reason: scheduled, manual, expired, compromised, security_breach")
	cmd.Flags().StringVar(&value, "value", "", "Use this key material instead of generating it")
	cmd.Flags().IntVar(&maxAge, "max-age", 0, "Override the key's maximum age for the new cycle")
	cmd.Flags().BoolVar(&forceAll, "force-all", false, "Re-encrypt every variable, not just marked ones")

	return cmd
}
