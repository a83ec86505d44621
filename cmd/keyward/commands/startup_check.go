package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/config"
)

// NewStartupCheckCommand creates the 'startup-check' command
func NewStartupCheckCommand(cfg *config.Config) *cobra.Command {
	var clearMarker bool

	cmd := &cobra.Command{
		Use:   "startup-check",
		Short: "Run the startup security check",
		Long: `Run the system audit and look for an interrupted rotation. The check
fails (exit code 1) when system health is critical or a rotation was
left in flight, making it suitable as a deployment gate.

A leftover rotation marker means a rotation crashed mid-transaction and
the environment file may hold values encrypted under two different
keys. Audit the file manually, then clear the marker with
--clear-marker.`,
		Example: `  # Gate a deployment on key health
  keyward startup-check

  # Acknowledge an interrupted rotation after a manual audit
  keyward startup-check --clear-marker`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cfg)
			if err != nil {
				return err
			}

			report, err := svc.StartupSecurityCheck()
			if err != nil {
				return err
			}

			if report.InterruptedRotation != nil {
				marker := report.InterruptedRotation
				fmt.Printf("Interrupted rotation: key '%s', attempt %s, state '%s', started %s\n",
					marker.KeyName, marker.AttemptID, marker.State,
					marker.StartedAt.Format(time.RFC3339))

				if clearMarker {
					if err := svc.ClearRotationMarker(); err != nil {
						return fmt.Errorf("failed to clear rotation marker: %w", err)
					}
					cfg.Logger.Info("Rotation marker cleared")
				}
			}

			fmt.Printf("System health: %s\n", formatKeyStatus(report.SystemHealth))
			if !report.Passed {
				return fmt.Errorf("startup security check failed")
			}

			cfg.Logger.Info("Startup security check passed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearMarker, "clear-marker", false, "Clear a leftover rotation marker after a manual audit")

	return cmd
}
