package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/eval"
	"github.com/stackform-io/stackform/internal/schema"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check that the configuration is valid",
	Long: `Evaluates the configuration and checks every resource against its
type schema without touching state or providers.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	proj, err := resolveProject(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(proj.dir)
	cfg, err := evaluator.LoadConfig(ctx, proj.entryPoint, nil)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	schemas, err := schema.NewRegistry()
	if err != nil {
		return err
	}

	resources := engine.ExpandCount(cfg.Resources)
	seen := make(map[string]bool, len(resources))
	for _, res := range resources {
		addr := res.Address()
		if seen[addr] {
			return fmt.Errorf("duplicate resource address %s", addr)
		}
		seen[addr] = true
		if err := schemas.Validate(res); err != nil {
			return err
		}
	}

	// Surface dependency cycles at validate time rather than at plan time.
	if _, err := engine.BuildGraph(resources); err != nil {
		return err
	}

	fmt.Printf("Success! Configuration is valid: %d resource(s).\n", len(resources))
	return nil
}
