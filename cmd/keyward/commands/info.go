package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/pkg/keyops"
)

// NewInfoCommand creates the 'info' command
func NewInfoCommand(cfg *config.Config) *cobra.Command {
	var (
		withAudit  bool
		infoFormat string
	)

	cmd := &cobra.Command{
		Use:   "info KEY_NAME",
		Short: "Show the tracked metadata for a key",
		Long: `Display a key's lifecycle record: creation and rotation timestamps,
rotation count and policy, current status, and which files and
variables the key protects. --audit includes the full event history.`,
		Example: `  # Show the record for a key
  keyward info APP_MASTER_KEY

  # Include the audit trail
  keyward info APP_MASTER_KEY --audit --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cfg)
			if err != nil {
				return err
			}

			info, err := svc.GetKeyInfo(args[0], withAudit)
			if err != nil {
				return err
			}

			switch infoFormat {
			case "json":
				return outputJSON(infoPayload(info))
			case "yaml":
				return outputYAML(infoPayload(info))
			default:
				printInfo(info)
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&withAudit, "audit", false, "Include the full audit trail")
	cmd.Flags().StringVar(&infoFormat, "format", "text", "Output format: text, json, yaml")

	return cmd
}

func printInfo(info *keyops.KeyInfo) {
	now := time.Now()

	fmt.Printf("Key:            %s\n", info.KeyName)
	fmt.Printf("Status:         %s\n", formatKeyStatus(info.Status))
	fmt.Printf("Created:        %s\n", formatTimestamp(info.CreatedAt, now))
	if info.LastRotatedAt != nil {
		fmt.Printf("Last rotated:   %s\n", formatTimestamp(*info.LastRotatedAt, now))
	} else {
		fmt.Printf("Last rotated:   Never\n")
	}
	fmt.Printf("Rotation count: %d\n", info.RotationCount)
	fmt.Printf("Policy:         rotate every %d days, warn %d days before\n",
		info.RotationConfig.MaxAgeInDays, info.RotationConfig.WarningThresholdInDays)

	if len(info.UsageTracking.EnvironmentsUsedIn) > 0 {
		fmt.Println("\nProtected files:")
		for _, file := range info.UsageTracking.EnvironmentsUsedIn {
			fmt.Printf("  %s\n", file)
		}
	}
	if len(info.UsageTracking.DependentVariables) > 0 {
		fmt.Println("\nProtected variables:")
		for _, name := range info.UsageTracking.DependentVariables {
			fmt.Printf("  %s\n", name)
		}
	}

	if info.AuditTrail != nil {
		fmt.Printf("\nAudit events (%d):\n", len(info.AuditTrail.AuditEvents))
		for _, event := range info.AuditTrail.AuditEvents {
			fmt.Printf("  %s  [%s] %s: %s\n",
				event.Timestamp.Format(time.RFC3339), event.Severity, event.EventType, event.Details)
		}
	}
}

func infoPayload(info *keyops.KeyInfo) map[string]interface{} {
	payload := map[string]interface{}{
		"key_name":        info.KeyName,
		"created_at":      info.CreatedAt,
		"last_rotated_at": info.LastRotatedAt,
		"rotation_count":  info.RotationCount,
		"status":          info.Status,
		"rotation_config": info.RotationConfig,
		"usage_tracking":  info.UsageTracking,
	}
	if info.AuditTrail != nil {
		payload["audit_trail"] = info.AuditTrail
	}
	return payload
}
