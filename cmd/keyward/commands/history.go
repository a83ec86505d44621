package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/metadata"
)

// NewHistoryCommand creates the 'history' command
func NewHistoryCommand(cfg *config.Config) *cobra.Command {
	var (
		historyLimit  int
		historyFormat string
	)

	cmd := &cobra.Command{
		Use:   "history KEY_NAME",
		Short: "Show the rotation history for a key",
		Long: `Display a key's rotation history, newest first: when each rotation
ran, why, whether it succeeded, and which files and variables it
touched.`,
		Example: `  # Show the last 10 rotations
  keyward history APP_MASTER_KEY

  # Show everything as JSON
  keyward history APP_MASTER_KEY --limit 0 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cfg)
			if err != nil {
				return err
			}

			info, err := svc.GetKeyInfo(args[0], true)
			if err != nil {
				return err
			}

			history := info.AuditTrail.RotationHistory
			// Newest first.
			reversed := make([]metadata.RotationEvent, 0, len(history))
			for i := len(history) - 1; i >= 0; i-- {
				reversed = append(reversed, history[i])
			}
			if historyLimit > 0 && len(reversed) > historyLimit {
				reversed = reversed[:historyLimit]
			}

			switch historyFormat {
			case "json":
				return outputJSON(reversed)
			case "yaml":
				return outputYAML(reversed)
			default:
				printHistory(reversed)
				return nil
			}
		},
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 10, "Maximum entries to show (0 for all)")
	cmd.Flags().StringVar(&historyFormat, "format", "table", "Output format: table, json, yaml")

	return cmd
}

func printHistory(history []metadata.RotationEvent) {
	if len(history) == 0 {
		fmt.Println("No rotations recorded.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "WHEN\tREASON\tRESULT\tVARIABLES\tFILES")
	fmt.Fprintln(w, "----\t------\t------\t---------\t-----")

	now := time.Now()
	for _, event := range history {
		result := "✅ Success"
		if !event.Success {
			result = fmt.Sprintf("❌ Failed: %s", event.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
			formatTimestamp(event.Timestamp, now),
			event.Reason,
			result,
			len(event.AffectedVariables),
			len(event.AffectedFiles),
		)
	}
}
