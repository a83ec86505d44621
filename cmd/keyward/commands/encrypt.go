package commands

import (
	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/config"
)

// NewEncryptCommand creates the 'encrypt' command
func NewEncryptCommand(cfg *config.Config) *cobra.Command {
	var keyName string

	cmd := &cobra.Command{
		Use:   "encrypt ENVIRONMENT [VARIABLE...]",
		Short: "Encrypt plaintext variables in an environment file",
		Long: `Encrypt the named variables in an environment file under a tracked
key. With no variables given, every plaintext variable in the file is
encrypted. Already encrypted variables are skipped.

ENVIRONMENT is either a name from the config's environments map or a
path to an env file.`,
		Example: `  # Encrypt everything in .env.production under APP_MASTER_KEY
  keyward encrypt production --key APP_MASTER_KEY

  # Encrypt two specific variables
  keyward encrypt .env --key APP_MASTER_KEY DATABASE_URL API_TOKEN`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cfg)
			if err != nil {
				return err
			}

			envFile := cfg.EnvironmentFile(args[0])
			count, err := svc.EncryptVariables(cmd.Context(), envFile, keyName, args[1:])
			if err != nil {
				return err
			}

			cfg.Logger.Info("Encrypted %d variable(s) in %s", count, envFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&keyName, "key", "k", "", "Key to encrypt under (required)")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}
