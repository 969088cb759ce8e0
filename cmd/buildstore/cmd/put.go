package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/buildstore"
)

var putCmd = &cobra.Command{
	Use:   "put [path|-]",
	Short: "Store a file or directory",
	Long:  "Store a file or directory tree, or stdin when the path is - or omitted, and print its identity.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPut,
}

var (
	putRef    string
	putCreate bool
)

func init() {
	putCmd.Flags().StringVar(&putRef, "ref", "", "point this ref at the stored object")
	putCmd.Flags().BoolVar(&putCreate, "create", false, "with --ref, fail if the ref already exists")
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx := context.Background()
	var id buildstore.Identity
	if len(args) == 0 || args[0] == "-" {
		id, err = s.Put(ctx, cmd.InOrStdin())
	} else {
		id, err = s.PutPath(ctx, args[0])
	}
	if err != nil {
		return fmt.Errorf("put failed: %w", err)
	}

	if putRef != "" {
		if putCreate {
			err = s.RefCreate(putRef, id)
		} else {
			err = s.RefSet(putRef, id)
		}
		if err != nil {
			return err
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
