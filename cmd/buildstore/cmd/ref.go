package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var refCmd = &cobra.Command{
	Use:   "ref",
	Short: "Manage named refs",
}

var refSetCmd = &cobra.Command{
	Use:   "set <name> <id|ref>",
	Short: "Point a ref at an object",
	Args:  cobra.ExactArgs(2),
	RunE:  runRefSet,
}

var refCreateCmd = &cobra.Command{
	Use:   "create <name> <id|ref>",
	Short: "Create a ref, failing if it exists",
	Args:  cobra.ExactArgs(2),
	RunE:  runRefCreate,
}

var refGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print the identity a ref points at",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefGet,
}

var refRmCmd = &cobra.Command{
	Use:     "rm <name>...",
	Aliases: []string{"delete"},
	Short:   "Delete refs (objects are kept)",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runRefRm,
}

var refLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List refs",
	Args:  cobra.NoArgs,
	RunE:  runRefLs,
}

var refWatchCmd = &cobra.Command{
	Use:   "watch <name>",
	Short: "Print the target of a ref every time it changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefWatch,
}

func init() {
	refCmd.AddCommand(refSetCmd, refCreateCmd, refGetCmd, refRmCmd, refLsCmd, refWatchCmd)
	rootCmd.AddCommand(refCmd)
}

func runRefSet(cmd *cobra.Command, args []string) error {
	return bindRef(cmd, args[0], args[1], false)
}

func runRefCreate(cmd *cobra.Command, args []string) error {
	return bindRef(cmd, args[0], args[1], true)
}

func bindRef(cmd *cobra.Command, name, target string, create bool) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	id, err := resolve(s, target)
	if err != nil {
		return err
	}
	if create {
		return s.RefCreate(name, id)
	}
	return s.RefSet(name, id)
}

func runRefGet(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	id, err := s.RefGet(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runRefRm(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, name := range args {
		if err := s.RefDelete(name); err != nil {
			return err
		}
	}
	return nil
}

func runRefLs(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	count := 0
	for ref, rerr := range s.Refs() {
		if rerr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", rerr)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ref.Name, ref.ID)
		count++
	}

	if count == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "(no refs)")
	}
	return nil
}

func runRefWatch(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	updates, err := s.WatchRef(ctx, args[0])
	if err != nil {
		return err
	}
	for u := range updates {
		if u.Deleted {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t(deleted)\n", u.Name)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u.Name, u.ID)
	}
	return nil
}
