package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/lifecycle"
)

// NewAuditCommand creates the 'audit' command
func NewAuditCommand(cfg *config.Config) *cobra.Command {
	var auditFormat string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run a system-wide key audit",
		Long: `Evaluate the rotation policy for every tracked key and aggregate age
statistics into a single system health verdict: critical when any key
needs rotation, warning when any key approaches its deadline, healthy
otherwise.`,
		Example: `  # Run the audit
  keyward audit

  # Machine-readable output
  keyward audit --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cfg)
			if err != nil {
				return err
			}

			audit, err := svc.SystemAudit()
			if err != nil {
				return err
			}

			switch auditFormat {
			case "json":
				return outputJSON(auditPayload(audit))
			case "yaml":
				return outputYAML(auditPayload(audit))
			default:
				printAudit(audit)
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&auditFormat, "format", "text", "Output format: text, json, yaml")

	return cmd
}

func printAudit(audit *lifecycle.SystemAudit) {
	fmt.Printf("System health: %s\n", formatKeyStatus(audit.SystemHealth))
	fmt.Printf("Tracked keys:  %d\n", audit.TotalKeys)
	if audit.TotalKeys > 0 {
		fmt.Printf("Key age:       avg %.1f days, oldest %d, newest %d\n",
			audit.AverageAgeDays, audit.OldestAgeDays, audit.NewestAgeDays)
	}

	if len(audit.KeysNeedingRotation) > 0 {
		fmt.Println("\nKeys needing rotation:")
		for _, name := range audit.KeysNeedingRotation {
			fmt.Printf("  🔴 %s\n", name)
		}
	}
	if len(audit.KeysNeedingWarning) > 0 {
		fmt.Println("\nKeys approaching their deadline:")
		for _, name := range audit.KeysNeedingWarning {
			fmt.Printf("  🟡 %s\n", name)
		}
	}
	if len(audit.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, rec := range audit.Recommendations {
			fmt.Printf("  💡 %s\n", rec)
		}
	}
}

func auditPayload(audit *lifecycle.SystemAudit) map[string]interface{} {
	return map[string]interface{}{
		"timestamp":             audit.Timestamp,
		"total_keys":            audit.TotalKeys,
		"keys_needing_rotation": audit.KeysNeedingRotation,
		"keys_needing_warning":  audit.KeysNeedingWarning,
		"average_age_days":      audit.AverageAgeDays,
		"oldest_age_days":       audit.OldestAgeDays,
		"newest_age_days":       audit.NewestAgeDays,
		"system_health":         audit.SystemHealth,
		"recommendations":       audit.Recommendations,
	}
}
