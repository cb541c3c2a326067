package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	dbt "drivelog/db/db"
)

func reportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "report",
		Short:   "print the day report of one driver",
		Long:    `Print the day report of one driver: every closed WorkDay of the date with time, distance and fuel split per project.`,
		Example: `drivelog report --user 42 --date 2025-03-10 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetInt64("user")
			dateStr, _ := cmd.Flags().GetString("date")
			asJSON, _ := cmd.Flags().GetBool("json")

			date := dbt.DateOf(time.Now())
			if dateStr != "" {
				d, err := time.Parse(time.DateOnly, dateStr)
				if err != nil {
					return fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", dateStr, err)
				}
				date = d
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, optionsFrom(cmd))
			if err != nil {
				return err
			}
			defer a.close()

			days, err := a.services.Journal.ListWorkDays(ctx, dbt.UserID(user), date)
			if err != nil {
				return err
			}
			if !asJSON {
				text, err := a.services.Reports.DayReport(ctx, days)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			}
			if len(days) == 0 {
				return fmt.Errorf("no work days for user %d on %s", user, date.Format(time.DateOnly))
			}
			exp, err := a.services.Reports.DayExport(ctx, days)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(exp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().Int64("user", 0, "chat user id (required)")
	if err := cmd.MarkFlagRequired("user"); err != nil {
		panic(err)
	}
	cmd.Flags().String("date", "", "report date YYYY-MM-DD (default today)")
	cmd.Flags().Bool("json", false, "print the structured export instead of text")

	return cmd
}
