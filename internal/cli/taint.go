package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var taintCmd = &cobra.Command{
	Use:   "taint <address>",
	Short: "Mark a resource for recreation",
	Long: `Marks a resource as tainted so the next apply destroys and recreates
it even when its configuration is unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaint,
}

var untaintCmd = &cobra.Command{
	Use:   "untaint <address>",
	Short: "Remove the taint mark from a resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runUntaint,
}

func runTaint(cmd *cobra.Command, args []string) error {
	return setTainted(cmd, args[0], true)
}

func runUntaint(cmd *cobra.Command, args []string) error {
	return setTainted(cmd, args[0], false)
}

func setTainted(cmd *cobra.Command, addr string, tainted bool) error {
	mgr, err := stateManager()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if err := mgr.Lock(); err != nil {
		return err
	}
	defer mgr.Unlock()

	s, err := mgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	res := s.Lookup(addr)
	if res == nil {
		return fmt.Errorf("resource %s not found in state", addr)
	}
	res.Tainted = tainted

	if err := mgr.Write(ctx, s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	if tainted {
		fmt.Printf("Resource %s has been marked as tainted.\n", addr)
	} else {
		fmt.Printf("Resource %s is no longer tainted.\n", addr)
	}
	return nil
}
