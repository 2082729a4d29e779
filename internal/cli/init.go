package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Initialize a new project",
	Long: `Creates the working directory layout for a new project: a starter
main.pkl and the .stackform data directory.`,
	RunE: runInit,
}

const starterConfig = `// Declarative infrastructure configuration.
// Run 'stackform plan' to preview changes and 'stackform apply' to make them.

providers {
}

resources {
  new {
    type = "null_resource"
    name = "example"
    provider = "null"
    properties {
      triggers {
        ["version"] = "1"
      }
    }
  }
}

outputs {
}
`

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	if err := os.MkdirAll(filepath.Join(dir, stateDirName), 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", stateDirName, err)
	}

	entry := filepath.Join(dir, "main.pkl")
	if _, err := os.Stat(entry); err == nil {
		fmt.Printf("main.pkl already exists, leaving it untouched.\n")
	} else {
		if err := os.WriteFile(entry, []byte(starterConfig), 0o644); err != nil {
			return fmt.Errorf("failed to write main.pkl: %w", err)
		}
		fmt.Printf("Created %s\n", entry)
	}

	fmt.Println("\nProject initialized. Next steps:")
	fmt.Println("  1. Edit main.pkl to describe your infrastructure")
	fmt.Println("  2. Run 'stackform plan' to preview changes")
	fmt.Println("  3. Run 'stackform apply' to create resources")
	return nil
}
