package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/buildstore"
	"github.com/aweris/buildstore/internal/fsutil"
)

var getCmd = &cobra.Command{
	Use:   "get <id|ref> [dest]",
	Short: "Retrieve an object",
	Long: `Retrieve an object by identity or ref name.

A blob is written to dest, or to stdout when dest is omitted. A tree is
copied to dest, which must not exist. With --path only the location of
the stored content is printed.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runGet,
}

var getPath bool

func init() {
	getCmd.Flags().BoolVar(&getPath, "path", false, "print the stored content path instead of copying")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	id, err := resolve(s, args[0])
	if err != nil {
		return err
	}
	obj, err := s.Get(id)
	if err != nil {
		return err
	}

	if getPath {
		fmt.Fprintln(cmd.OutOrStdout(), obj.Path)
		return nil
	}

	if obj.Kind == buildstore.KindTree {
		if len(args) < 2 {
			return fmt.Errorf("%s is a tree, a destination directory is required", id)
		}
		return fsutil.CopyTree(obj.Path, args[1])
	}

	f, err := s.OpenBlob(id)
	if err != nil {
		return err
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	if len(args) == 2 {
		dst, err := os.OpenFile(args[1], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := dst.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		out = dst
	}
	_, err = io.Copy(out, f)
	return err
}
