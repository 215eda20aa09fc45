package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"optrack.evalgo.org/statemanager"
	"optrack.evalgo.org/sweeper"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "reclaim stuck operations once and exit",
	Long: `Runs a single recovery sweep: every operation RUNNING for longer than the
stuck threshold is moved to FAILED. With --dry-run the candidates are listed
and nothing is changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := serviceLogger(cfg)

		b, err := openBackends(cfg, log, true)
		if err != nil {
			return err
		}
		defer b.Close()

		sw := sweeper.New(sweeperConfig(cfg, b, statemanager.NewLogObserver(log), log))

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		out := cmd.OutOrStdout()
		if dryRun {
			stuck, err := sw.Stuck(cmd.Context())
			if err != nil {
				return err
			}
			return printStuck(out, stuck)
		}

		res, err := sw.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "examined %d, reclaimed %d, skipped %d, failed %d, purged %s idempotency records\n",
			res.Examined, res.Reclaimed, res.Skipped, res.Failed, humanize.Comma(res.Purged))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().Bool("dry-run", false, "list stuck operations without changing them")
}

func printStuck(out io.Writer, stuck []*statemanager.Operation) error {
	if len(stuck) == 0 {
		_, err := fmt.Fprintln(out, "no stuck operations")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTARTED")
	for _, op := range stuck {
		started := "-"
		if op.StartedAt != nil {
			started = humanize.Time(*op.StartedAt)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", op.ID, op.Type, started)
	}
	return w.Flush()
}
