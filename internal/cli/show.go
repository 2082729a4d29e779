package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Show the current state",
	Long:  `Displays a human-readable view of the current state.`,
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}

func runShow(cmd *cobra.Command, args []string) error {
	proj, err := resolveProject(args)
	if err != nil {
		return err
	}

	store, err := openStateStore(proj)
	if err != nil {
		return err
	}

	s, err := store.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if showJSON {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("State: version=%d serial=%d lineage=%s\n", s.Version, s.Serial, s.Lineage)
	fmt.Printf("Resources: %d\n\n", len(s.Resources))

	for _, res := range s.Resources {
		fmt.Printf("# %s\n", res.Address())
		fmt.Printf("  provider = %s\n", res.Provider)
		for k, v := range res.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
		fmt.Println()
	}

	if len(s.Outputs) > 0 {
		fmt.Println("Outputs:")
		for k, v := range s.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
	}
	return nil
}
