package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/eval"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  stackform graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	proj, err := resolveProject(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(proj.dir)
	cfg, err := evaluator.LoadConfig(ctx, proj.entryPoint, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	resources := engine.ExpandCount(cfg.Resources)
	graph, err := engine.BuildGraph(resources)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph stackform {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, addr := range graph.CreationOrder() {
		fmt.Printf("  %q;\n", addr)
	}
	fmt.Println()

	for _, addr := range graph.CreationOrder() {
		for _, dep := range graph.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}

	fmt.Println("}")
	return nil
}
