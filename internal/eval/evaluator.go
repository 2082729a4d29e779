// Package eval loads PKL configuration into the IR resource model.
package eval

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"

	"github.com/stackform-io/stackform/internal/ir"
)

type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{projectDir: projectDir}
}

// LoadConfig evaluates the desired-state entry point and returns the IR.
// External properties are exposed to the PKL module.
func (e *Evaluator) LoadConfig(ctx context.Context, entryPoint string, properties map[string]string) (*ir.Config, error) {
	entryPath := filepath.Join(e.projectDir, entryPoint)
	if _, err := os.Stat(entryPath); err != nil {
		return nil, fmt.Errorf("configuration entry point %s: %w", entryPath, err)
	}

	evaluator, err := pkl.NewProjectEvaluator(ctx, e.projectDir, e.evaluatorOptions(properties)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var cfg ir.Config
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(entryPath), &cfg); err != nil {
		return nil, fmt.Errorf("failed to evaluate config: %w", err)
	}
	return &cfg, nil
}

func (e *Evaluator) projectURL() (*url.URL, error) {
	u, err := url.Parse("file://" + e.projectDir + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
	}
	return u, nil
}

// evaluatorOptions layers external properties over the preconfigured
// evaluator defaults.
func (e *Evaluator) evaluatorOptions(properties map[string]string) []func(*pkl.EvaluatorOptions) {
	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) == 0 {
		return opts
	}
	return append(opts, func(o *pkl.EvaluatorOptions) {
		if o.Properties == nil {
			o.Properties = make(map[string]string, len(properties))
		}
		for k, v := range properties {
			o.Properties[k] = v
		}
	})
}
