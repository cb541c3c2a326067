package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func fuelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "fuel",
		Short:   "print the fuel ledger",
		Example: `drivelog fuel --vehicle "Машина А"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			vehicle, _ := cmd.Flags().GetString("vehicle")
			asJSON, _ := cmd.Flags().GetBool("json")

			ctx := cmd.Context()
			a, err := newApp(ctx, optionsFrom(cmd))
			if err != nil {
				return err
			}
			defer a.close()

			ledger := a.services.Ledger
			if !asJSON {
				text, err := ledger.Report(ctx, vehicle)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			}
			var v any
			if vehicle != "" {
				v, err = ledger.Status(ctx, vehicle)
			} else {
				v, err = ledger.Statuses(ctx)
			}
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().String("vehicle", "", "vehicle name (default all vehicles)")
	cmd.Flags().Bool("json", false, "print statuses as JSON")

	return cmd
}
