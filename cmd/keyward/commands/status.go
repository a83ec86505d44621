package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/lifecycle"
	"github.com/keyward/keyward/internal/metadata"
	"github.com/keyward/keyward/pkg/keyops"
)

// NewStatusCommand creates the 'status' command
func NewStatusCommand(cfg *config.Config) *cobra.Command {
	var statusFormat string

	cmd := &cobra.Command{
		Use:   "status [KEY_NAME]",
		Short: "Show rotation status for tracked keys",
		Long: `Display the rotation policy status for one or all tracked keys:
current age, days until rotation is due, and whether the key needs
rotation now or a warning.

Each check also records a health-check entry in the key's history.`,
		Example: `  # Show status for all tracked keys
  keyward status

  # Show status for one key
  keyward status APP_MASTER_KEY

  # Machine-readable output
  keyward status --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cfg)
			if err != nil {
				return err
			}

			var keysToShow []string
			if len(args) > 0 {
				keysToShow = []string{args[0]}
			} else {
				keysToShow = svc.ListKeys()
			}

			switch statusFormat {
			case "json":
				return outputStatusStructured(svc, keysToShow, outputJSON)
			case "yaml":
				return outputStatusStructured(svc, keysToShow, outputYAML)
			default:
				return outputStatusTable(svc, keysToShow)
			}
		},
	}

	cmd.Flags().StringVar(&statusFormat, "format", "table", "Output format: table, json, yaml")

	return cmd
}

func outputStatusTable(svc *keyops.Service, keys []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "KEY\tSTATUS\tAGE\tDUE IN\tACTION")
	fmt.Fprintln(w, "---\t------\t---\t------\t------")

	for _, keyName := range keys {
		status, err := svc.CheckRotationStatus(keyName, metadata.SourceManual)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d days\t%d days\t%s\n",
			keyName,
			formatKeyStatus(status.Status),
			status.AgeInDays,
			status.DaysUntilRotation,
			formatAction(status),
		)
	}

	return nil
}

func formatAction(status *lifecycle.RotationStatus) string {
	switch {
	case !status.Known:
		return "⚪ Not tracked"
	case status.NeedsRotation:
		return "🔴 Rotate now"
	case status.NeedsWarning:
		return "🟡 Rotate soon"
	default:
		return "✅ None"
	}
}

func outputStatusStructured(svc *keyops.Service, keys []string, emit func(interface{}) error) error {
	statuses := make(map[string]interface{})
	for _, keyName := range keys {
		status, err := svc.CheckRotationStatus(keyName, metadata.SourceManual)
		if err != nil {
			return err
		}
		statuses[keyName] = map[string]interface{}{
			"key_name":            status.KeyName,
			"known":               status.Known,
			"needs_rotation":      status.NeedsRotation,
			"needs_warning":       status.NeedsWarning,
			"age_in_days":         status.AgeInDays,
			"days_until_rotation": status.DaysUntilRotation,
			"status":              status.Status,
		}
	}
	return emit(statuses)
}
