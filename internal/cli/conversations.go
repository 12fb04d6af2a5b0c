package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"whatsapp-console/internal/conversation"
	"whatsapp-console/internal/prompts"
)

func init() {
	convCmd := &cobra.Command{
		Use:   "conversations",
		Short: "Inspect the conversation log",
	}
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export conversations as JSON",
		Long:  "Prints logged messages newest first. Filter by phone number substring with --number.",
		RunE:  runConversationsExport,
	}
	exportCmd.Flags().StringP("number", "n", "", "Filter by phone number (substring)")
	exportCmd.Flags().IntP("limit", "l", conversation.DefaultLimit, "Max records")
	exportCmd.Flags().StringP("mode", "m", conversation.ModeAll, "todas, recebidas or enviadas")

	convCmd.AddCommand(exportCmd)
	RootCmd.AddCommand(convCmd)
}

func runConversationsExport(cmd *cobra.Command, args []string) error {
	number, _ := cmd.Flags().GetString("number")
	limit, _ := cmd.Flags().GetInt("limit")
	mode, _ := cmd.Flags().GetString("mode")

	cfg := loadConfig()
	l, err := conversation.Open(cfg.Path(prompts.ConversationsFile), nil)
	if err != nil {
		return fmt.Errorf("open conversations: %w", err)
	}
	records, err := l.Query(conversation.QueryParams{Limit: limit, Number: number, Mode: mode})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	b, _ := json.MarshalIndent(records, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
