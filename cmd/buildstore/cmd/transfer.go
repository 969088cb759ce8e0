package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <id|ref> [file]",
	Short: "Write an object as a tar.zst archive",
	Long:  "Write an object as a zstd-compressed tar archive to file, or to stdout when file is omitted.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Store an object from a tar.zst archive",
	Long:  "Store the object in an archive written by export, read from file or stdin, and print its identity.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runImport,
}

var importRef string

func init() {
	importCmd.Flags().StringVar(&importRef, "ref", "", "point this ref at the imported object")
	rootCmd.AddCommand(exportCmd, importCmd)
}

func runExport(cmd *cobra.Command, args []string) (err error) {
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

	var w io.Writer = cmd.OutOrStdout()
	if len(args) == 2 {
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = f
	}
	if err := s.Export(w, id); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	r := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	id, err := s.Import(context.Background(), r)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	if importRef != "" {
		if err := s.RefSet(importRef, id); err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
