package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and modify the state file",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resource addresses tracked in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show the recorded attributes of one resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Remove a resource from state without destroying it",
	Long: `Forgets a resource. The real infrastructure is untouched; the next
plan will propose creating it again.`,
	Args: cobra.ExactArgs(1),
	RunE: runStateRm,
}

var stateMvCmd = &cobra.Command{
	Use:   "mv <source> <destination>",
	Short: "Rename a resource in state",
	Long: `Moves a resource record to a new address so a renamed resource is
not destroyed and recreated. Both addresses must use the same type.`,
	Args: cobra.ExactArgs(2),
	RunE: runStateMv,
}

func init() {
	stateCmd.AddCommand(stateListCmd, stateShowCmd, stateRmCmd, stateMvCmd)
}

func stateManager() (*state.Manager, error) {
	proj, err := resolveProject(nil)
	if err != nil {
		return nil, err
	}
	return state.NewManager(proj.statePath()), nil
}

func runStateList(cmd *cobra.Command, args []string) error {
	mgr, err := stateManager()
	if err != nil {
		return err
	}
	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return err
	}
	for _, res := range s.Resources {
		fmt.Println(res.Address())
	}
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	mgr, err := stateManager()
	if err != nil {
		return err
	}
	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return err
	}
	res := s.Lookup(args[0])
	if res == nil {
		return fmt.Errorf("resource %s not found in state", args[0])
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
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
		return err
	}

	addr := args[0]
	found := false
	for i, res := range s.Resources {
		if res.Address() == addr {
			s.Resources = append(s.Resources[:i], s.Resources[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("resource %s not found in state", addr)
	}

	if err := mgr.Write(ctx, s); err != nil {
		return err
	}
	fmt.Printf("Removed %s from state.\n", addr)
	return nil
}

func runStateMv(cmd *cobra.Command, args []string) error {
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
		return err
	}

	src, dst := args[0], args[1]
	res := s.Lookup(src)
	if res == nil {
		return fmt.Errorf("resource %s not found in state", src)
	}
	if s.Lookup(dst) != nil {
		return fmt.Errorf("resource %s already exists in state", dst)
	}

	dstType, dstName, ok := splitAddress(dst)
	if !ok {
		return fmt.Errorf("invalid address %q, expected <type>.<name>", dst)
	}
	if dstType != res.Type {
		return fmt.Errorf("cannot move %s to %s: type must not change", src, dst)
	}

	res.Name = dstName

	// Recorded dependency edges elsewhere in state still point at the
	// old address.
	for _, other := range s.Resources {
		for i, dep := range other.Dependencies {
			if dep == src {
				other.Dependencies[i] = dst
			}
		}
	}

	if err := mgr.Write(ctx, s); err != nil {
		return err
	}
	fmt.Printf("Moved %s to %s.\n", src, dst)
	return nil
}

// splitAddress splits "type.name" at the last dot so dotted type names
// like aws:S3.Bucket keep their own dots.
func splitAddress(addr string) (string, string, bool) {
	i := strings.LastIndex(addr, ".")
	if i <= 0 || i == len(addr)-1 {
		return "", "", false
	}
	return addr[:i], addr[i+1:], true
}
