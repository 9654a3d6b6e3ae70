package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	checkData     int64
	checkServices []string
)

var harvestCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check unit compatibility of integrated data",
	Long:  "Compares the units of an integrated data item against what the target services already hold and prints the report. Exits non-zero when a conversion is impossible.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initHarvest(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Orchestrator.Check(ctx, checkData, checkServices)
		if err != nil {
			return eris.Wrap(err, "harvest check")
		}
		if err := report.Render(os.Stdout); err != nil {
			return err
		}
		if !report.Valid() {
			return eris.Errorf("harvest check: %d unit conflict(s) in %s", len(report.Errors), report.File)
		}
		return nil
	},
}

func init() {
	harvestCheckCmd.Flags().Int64Var(&checkData, "data", 0, "integrated data id")
	harvestCheckCmd.Flags().StringSliceVar(&checkServices, "service", nil, "service ids to check against (default from config)")
	_ = harvestCheckCmd.MarkFlagRequired("data")
	harvestCmd.AddCommand(harvestCheckCmd)
}
