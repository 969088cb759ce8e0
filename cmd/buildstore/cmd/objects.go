package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var objectsCmd = &cobra.Command{
	Use:   "objects",
	Short: "List stored objects",
	Args:  cobra.NoArgs,
	RunE:  runObjects,
}

var hasCmd = &cobra.Command{
	Use:   "has <id>",
	Short: "Report whether an object is stored",
	Long:  "Print true or false. The exit status is non-zero when the object is missing.",
	Args:  cobra.ExactArgs(1),
	RunE:  runHas,
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Remove objects",
	Long:  "Remove objects from the store. Refs pointing at them are left dangling.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRm,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <id|ref>...",
	Short: "Recompute the identity of objects",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runVerify,
}

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Verify every stored object",
	Args:  cobra.NoArgs,
	RunE:  runFsck,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(objectsCmd, hasCmd, rmCmd, verifyCmd, fsckCmd, statsCmd)
}

func runObjects(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for id, err := range s.Objects() {
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func runHas(cmd *cobra.Command, args []string) (err error) {
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
	ok, err := s.Has(id)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ok)
	if !ok {
		return fmt.Errorf("%s not stored", id)
	}
	return nil
}

func runRm(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, arg := range args {
		id, err := resolve(s, arg)
		if err != nil {
			return err
		}
		if err := s.Remove(id); err != nil {
			return err
		}
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	failed := 0
	for _, arg := range args {
		id, err := resolve(s, arg)
		if err == nil {
			err = s.Verify(context.Background(), id)
		}
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tFAILED\t%v\n", arg, err)
			failed++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tok\n", id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d objects failed verification", failed, len(args))
	}
	return nil
}

func runFsck(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	problems, err := s.Fsck(context.Background())
	for _, p := range problems {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\n", p.ID, p.Err)
	}
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d corrupt objects", len(problems))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func runStats(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	objects, err := s.Count()
	if err != nil {
		return err
	}
	refs := 0
	for _, rerr := range s.Refs() {
		if rerr == nil {
			refs++
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "root:      %s\n", s.Root())
	fmt.Fprintf(out, "algorithm: %s\n", s.Algorithm())
	fmt.Fprintf(out, "objects:   %d\n", objects)
	fmt.Fprintf(out, "refs:      %d\n", refs)
	return nil
}
