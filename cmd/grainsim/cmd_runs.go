package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pthm-cable/grainsim/store"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs in a store",
		RunE: func(cmd *cobra.Command, args []string) error {
			storePath, _ := cmd.Flags().GetString("store")
			jsonOut, _ := cmd.Flags().GetBool("json")

			st, err := store.Open(cmd.Context(), storePath)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if runs == nil {
					runs = []store.Run{}
				}
				return json.NewEncoder(out).Encode(runs)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "id\tmodel\tseed\tgrid\tsteps\tcreated\tfinished\n")
			for _, r := range runs {
				finished := "-"
				if r.FinishedAt != nil {
					finished = r.FinishedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%dx%dx%d\t%d\t%s\t%s\n",
					r.ID, r.Model, r.Seed, r.Grid.Width, r.Grid.Height, r.Grid.Depth,
					r.Steps, r.CreatedAt.Local().Format(time.DateTime), finished)
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("store", "grainsim.db", "SQLite run store path")
	cmd.Flags().Bool("json", false, "Output as JSON")

	return cmd
}
