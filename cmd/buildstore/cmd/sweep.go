package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove abandoned staging entries",
	Long:  "Remove entries of the temp area older than --grace, left behind by crashed or abandoned writers.",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

var sweepGrace time.Duration

func init() {
	sweepCmd.Flags().DurationVar(&sweepGrace, "grace", 24*time.Hour, "minimum age of entries to remove")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	n, err := s.Sweep(sweepGrace)
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
	return err
}
