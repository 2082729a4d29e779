package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/state"
)

const stateDirName = ".stackform"

// project locates the configuration entry point and the state directory.
type project struct {
	dir        string
	entryPoint string
}

// resolveProject derives the project from an optional path argument,
// which may be a directory or a .pkl file.
func resolveProject(args []string) (*project, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	p := &project{dir: wd, entryPoint: "main.pkl"}

	if len(args) > 0 {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", args[0], err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat path %s: %w", args[0], err)
		}
		if info.IsDir() {
			p.dir = absPath
		} else {
			p.dir = filepath.Dir(absPath)
			p.entryPoint = filepath.Base(absPath)
		}
	}
	return p, nil
}

func (p *project) statePath() string {
	return filepath.Join(p.dir, stateDirName, "state.json")
}

func (p *project) backendPath() string {
	return filepath.Join(p.dir, stateDirName, "backend.json")
}

// stateStore abstracts local and remote state storage.
type stateStore interface {
	Read(ctx context.Context) (*ir.State, error)
	Write(ctx context.Context, state *ir.State) error
	Checkpoint(ctx context.Context, state *ir.State) error
	Lock() error
	Unlock() error
}

// openStateStore returns the remote backend configured in backend.json,
// or the local state manager when none is configured.
func openStateStore(p *project) (stateStore, error) {
	raw, err := os.ReadFile(p.backendPath())
	if os.IsNotExist(err) {
		return state.NewManager(p.statePath()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backend config: %w", err)
	}

	var cfg state.BackendConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse backend config: %w", err)
	}
	if cfg.Type == "" || cfg.Type == "local" {
		return state.NewManager(p.statePath()), nil
	}
	return state.NewBackend(&cfg)
}

// configureProviders loads and configures every provider referenced by
// the config or by existing state records.
func configureProviders(ctx context.Context, registry *provider.Registry, cfg *ir.Config, st *ir.State) error {
	names := make(map[string]bool)
	if cfg != nil {
		for _, res := range cfg.Resources {
			if res.Provider != "" {
				names[res.Provider] = true
			}
		}
	}
	if st != nil {
		for _, res := range st.Resources {
			if res.Provider != "" {
				names[res.Provider] = true
			}
		}
	}

	for name := range names {
		if err := registry.Load(name); err != nil {
			return fmt.Errorf("failed to load provider %s: %w", name, err)
		}
		prov, err := registry.Get(name)
		if err != nil {
			return err
		}
		settings := map[string]string{}
		if cfg != nil {
			settings = cfg.ProviderSettings(name)
		}
		if _, err := prov.Configure(ctx, &provider.ConfigureRequest{Settings: settings}); err != nil {
			return fmt.Errorf("failed to configure provider %s: %w", name, err)
		}
	}
	return nil
}

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

func actionColor(action string) string {
	switch action {
	case ir.ActionCreate:
		return colorGreen
	case ir.ActionDelete:
		return colorRed
	case ir.ActionUpdate, ir.ActionReplace:
		return colorYellow
	default:
		return colorReset
	}
}

func actionSymbol(action string) string {
	switch action {
	case ir.ActionCreate:
		return "+"
	case ir.ActionDelete:
		return "-"
	case ir.ActionReplace:
		return "-/+"
	case ir.ActionUpdate:
		return "~"
	default:
		return " "
	}
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		color := actionColor(change.Action)

		var resourceType, resourceName string
		if change.Desired != nil {
			resourceType = change.Desired.Type
			resourceName = change.Desired.Name
		} else if change.Prior != nil {
			resourceType = change.Prior.Type
			resourceName = change.Prior.Name
		}

		fmt.Printf("\n%s  # %s will be %sd%s\n", color, change.Address, change.Action, colorReset)
		fmt.Printf("%s  %s resource \"%s\" \"%s\" {\n", color, actionSymbol(change.Action), resourceType, resourceName)

		if len(change.Diff) > 0 {
			renderPropertyDiff(change, color)
		} else {
			fmt.Printf("%s      ...\n", color)
		}
		fmt.Printf("%s    }%s\n", color, colorReset)
	}
}

func renderPropertyDiff(change *ir.ResourceChange, color string) {
	for key, diff := range change.Diff {
		switch diff.Action {
		case ir.ActionCreate:
			fmt.Printf("%s      + %s = %v%s\n", colorGreen, key, formatValue(diff.After), colorReset)
		case ir.ActionDelete:
			fmt.Printf("%s      - %s = %v%s\n", colorRed, key, formatValue(diff.Before), colorReset)
		case ir.ActionUpdate:
			suffix := ""
			if diff.ForcesReplacement {
				suffix = " # forces replacement"
			}
			fmt.Printf("%s      ~ %s = %v -> %v%s%s\n", colorYellow, key, formatValue(diff.Before), formatValue(diff.After), suffix, colorReset)
		default:
			fmt.Printf("%s        %s = %v\n", color, key, formatValue(diff.After))
		}
	}
}

func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Delete:  %d\n", plan.Summary.Delete)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// confirm prompts for interactive approval.
func confirm(prompt string) bool {
	fmt.Printf("%s (y/n): ", prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "yes"
}
