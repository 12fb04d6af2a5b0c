package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"whatsapp-console/internal/schedule"
)

func init() {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled messages",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a message",
		RunE:  runScheduleAdd,
	}
	addCmd.Flags().String("to", "", "Recipient phone number")
	addCmd.Flags().String("date", "", "Delivery date (YYYY-MM-DD)")
	addCmd.Flags().String("time", "", "Delivery time (HH:MM)")
	addCmd.Flags().String("body", "", "Message text")
	for _, f := range []string{"to", "date", "time", "body"} {
		addCmd.MarkFlagRequired(f)
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled messages",
		RunE:  runScheduleList,
	}
	listCmd.Flags().Bool("pending", false, "Only pending messages")

	scheduleCmd.AddCommand(addCmd, listCmd)
	RootCmd.AddCommand(scheduleCmd)
}

func openSchedules() (*schedule.Store, error) {
	cfg := loadConfig()
	return schedule.NewStore(cfg.ScheduleDir, cfg.Location(), nil)
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	to, _ := cmd.Flags().GetString("to")
	date, _ := cmd.Flags().GetString("date")
	clock, _ := cmd.Flags().GetString("time")
	body, _ := cmd.Flags().GetString("body")

	s, err := openSchedules()
	if err != nil {
		return fmt.Errorf("open schedules: %w", err)
	}
	key, err := s.Create(to, date, clock, body)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	pendingOnly, _ := cmd.Flags().GetBool("pending")

	s, err := openSchedules()
	if err != nil {
		return fmt.Errorf("open schedules: %w", err)
	}
	msgs, err := s.List()
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	out := make([]schedule.Message, 0, len(msgs))
	for _, m := range msgs {
		if pendingOnly && m.Status != schedule.StatusPending {
			continue
		}
		out = append(out, m)
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
