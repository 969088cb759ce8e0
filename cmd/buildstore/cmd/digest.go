package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var digestCmd = &cobra.Command{
	Use:   "digest <path>...",
	Short: "Print the identity of files or directories without storing them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDigest,
}

func init() {
	rootCmd.AddCommand(digestCmd)
}

func runDigest(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, path := range args {
		id, err := s.Digest(context.Background(), path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, path)
	}
	return nil
}
