package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/pthm-cable/grainsim/store"
	"github.com/pthm-cable/grainsim/telemetry"
	"github.com/spf13/cobra"
)

func newPlotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plot [history.csv]",
		Short: "Render a run's history as a PNG line chart",
		Long: `Render a run's history as a PNG line chart.

The history comes from a history.csv written by 'grainsim run --output', or
from a stored run.

Examples:
  grainsim plot out/history.csv --out counts.png
  grainsim plot --store runs.db --run <run-id> --fields`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storePath, _ := cmd.Flags().GetString("store")
			runID, _ := cmd.Flags().GetString("run")
			outPath, _ := cmd.Flags().GetString("out")
			withFields, _ := cmd.Flags().GetBool("fields")
			title, _ := cmd.Flags().GetString("title")

			var rows []telemetry.HistoryRow
			switch {
			case len(args) == 1:
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening history: %w", err)
				}
				rows, err = telemetry.ReadHistoryCSV(f)
				f.Close()
				if err != nil {
					return err
				}
			case storePath != "" && runID != "":
				st, err := store.Open(cmd.Context(), storePath)
				if err != nil {
					return err
				}
				defer st.Close()
				if rows, err = st.Samples(cmd.Context(), runID); err != nil {
					return err
				}
				if title == "" {
					if run, err := st.GetRun(cmd.Context(), runID); err == nil {
						title = run.Model
					}
				}
			default:
				return errors.New("give a history.csv or --store with --run")
			}

			steps, series := telemetry.SeriesFromRows(rows)
			if !withFields {
				grains := series[:0]
				for _, s := range series {
					if s.Kind == telemetry.KindGrain {
						grains = append(grains, s)
					}
				}
				series = grains
			}

			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("creating %s: %w", outPath, err)
			}
			if err := telemetry.RenderChart(f, title, steps, series); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chart written to %s (%d series, %d samples)\n", outPath, len(series), len(steps))
			return nil
		},
	}

	cmd.Flags().String("out", "history.png", "Output PNG path")
	cmd.Flags().String("store", "", "SQLite run store path")
	cmd.Flags().String("run", "", "Stored run id")
	cmd.Flags().String("title", "", "Chart title")
	cmd.Flags().Bool("fields", false, "Include field total series")

	return cmd
}
