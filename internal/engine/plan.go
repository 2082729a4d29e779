package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/logging"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/schema"
)

// Engine orchestrates the lifecycle of resources: diffing desired state
// against last-applied state and executing the resulting plan.
type Engine struct {
	registry *provider.Registry
	schemas  *schema.Registry

	// ContinueOnError lets apply proceed past failures in independent
	// subgraphs instead of stopping at the first error.
	ContinueOnError bool

	// Parallelism bounds concurrent operations during apply.
	Parallelism int

	// Checkpoint, if set, is invoked with the updated state after every
	// successfully applied operation so partial progress is never lost.
	Checkpoint func(ctx context.Context, state *ir.State) error
}

func NewEngine(registry *provider.Registry, schemas *schema.Registry) *Engine {
	return &Engine{
		registry:    registry,
		schemas:     schemas,
		Parallelism: defaultParallelism,
	}
}

// CreatePlan generates an execution plan by comparing desired config with
// current state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource
// addresses (plus their transitive dependencies). Nil or empty targets
// plan everything.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources), "targets", len(targets))

	resources := ExpandCount(cfg.Resources)

	for _, res := range resources {
		if err := e.schemas.Validate(res); err != nil {
			return nil, err
		}
	}

	for _, res := range resources {
		if err := e.registry.Load(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}
	for _, res := range state.Resources {
		if err := e.registry.Load(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}

	graph, err := BuildGraph(resources)
	if err != nil {
		return nil, err
	}

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			ConfigHash:  hashValue(resources),
			PriorSerial: state.Serial,
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	stateMap := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		stateMap[res.Address()] = res
	}
	configByAddr := make(map[string]*ir.Resource)
	for _, res := range resources {
		configByAddr[res.Address()] = res
	}

	targetSet := buildTargetSet(graph, targets)

	for _, addr := range graph.CreationOrder() {
		res, ok := configByAddr[addr]
		if !ok {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		change, err := e.diffResource(ctx, res, stateMap[addr], state)
		if err != nil {
			return nil, err
		}
		if change == nil {
			plan.Summary.NoOp++
			continue
		}
		plan.Changes = append(plan.Changes, change)
		plan.Summary.Count(change.Action)
	}

	deletes, err := e.planDeletes(state, configByAddr, targetSet)
	if err != nil {
		return nil, err
	}
	for _, change := range deletes {
		plan.Changes = append(plan.Changes, change)
		plan.Summary.Delete++
	}

	return plan, nil
}

// diffResource computes the operation for a single desired resource.
// A nil change means no-op.
func (e *Engine) diffResource(ctx context.Context, res *ir.Resource, prior *ir.ResourceState, state *ir.State) (*ir.ResourceChange, error) {
	addr := res.Address()

	prov, err := e.registry.Get(res.Provider)
	if err != nil {
		return nil, err
	}

	// Resolve references against prior outputs where possible so the
	// provider diffs concrete values, not ref strings.
	props := resolveReferences(normalizeValue(res.Properties), state)
	desiredJSON, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes for %s: %w", addr, err)
	}

	// Providers diff against the last-applied inputs; outputs are only
	// consulted during refresh.
	var priorJSON []byte
	if prior != nil {
		priorJSON, _ = json.Marshal(prior.Inputs)
	}

	resp, err := prov.Plan(ctx, &provider.PlanRequest{
		Type:        res.Type,
		Name:        res.Name,
		DesiredJSON: desiredJSON,
		PriorJSON:   priorJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("plan failed for %s: %w", addr, err)
	}

	action := resp.Action

	// A tainted record forces recreation regardless of the diff.
	if prior != nil && prior.Tainted && action != provider.ActionCreate {
		action = provider.ActionReplace
	}

	// A changed immutable attribute cannot be updated in place.
	if action == provider.ActionUpdate && anyImmutableChanged(e.schemas.Immutable(res.Type), resp.ChangedAttributes) {
		action = provider.ActionReplace
	}

	if action == provider.ActionUpdate || action == provider.ActionReplace {
		action = filterIgnoredChanges(res, action, resp.ChangedAttributes)
	}

	if action == provider.ActionNoop {
		return nil, nil
	}

	if err := enforceLifecycle(res, action, addr); err != nil {
		return nil, err
	}

	change := &ir.ResourceChange{
		Address: addr,
		Action:  action.String(),
		Desired: res,
	}
	if prior != nil {
		change.Prior = &ir.Resource{
			Type:       prior.Type,
			Name:       prior.Name,
			Provider:   prior.Provider,
			Properties: prior.Inputs,
		}
		change.Diff = buildPropertyDiff(prior.Inputs, res.Properties, e.schemas.Immutable(res.Type))
	} else {
		change.Diff = buildCreateDiff(res.Properties)
	}
	return change, nil
}

// planDeletes plans removal of resources present in state but absent from
// configuration, ordered dependents-first from recorded state edges.
func (e *Engine) planDeletes(state *ir.State, configByAddr map[string]*ir.Resource, targetSet map[string]bool) ([]*ir.ResourceChange, error) {
	var orphaned []*ir.ResourceState
	for _, res := range state.Resources {
		if _, ok := configByAddr[res.Address()]; ok {
			continue
		}
		if targetSet != nil && !targetSet[res.Address()] {
			continue
		}
		orphaned = append(orphaned, res)
	}
	if len(orphaned) == 0 {
		return nil, nil
	}

	graph, err := BuildGraphFromState(orphaned)
	if err != nil {
		return nil, err
	}

	byAddr := make(map[string]*ir.ResourceState, len(orphaned))
	for _, res := range orphaned {
		byAddr[res.Address()] = res
	}

	var changes []*ir.ResourceChange
	for _, addr := range graph.DestructionOrder() {
		res, ok := byAddr[addr]
		if !ok {
			continue
		}
		changes = append(changes, &ir.ResourceChange{
			Address: addr,
			Action:  ir.ActionDelete,
			Prior: &ir.Resource{
				Type:       res.Type,
				Name:       res.Name,
				Provider:   res.Provider,
				Properties: res.Inputs,
			},
			Diff: buildDeleteDiff(res.Inputs),
		})
	}
	return changes, nil
}

func buildTargetSet(graph *Graph, targets []string) map[string]bool {
	if len(targets) == 0 {
		return nil
	}
	set := make(map[string]bool)
	for _, t := range targets {
		set[t] = true
		for _, dep := range graph.TransitiveDeps(t) {
			set[dep] = true
		}
	}
	return set
}

// enforceLifecycle rejects operations a resource's lifecycle forbids.
func enforceLifecycle(res *ir.Resource, action provider.Action, addr string) error {
	if res.Lifecycle == nil {
		return nil
	}
	if res.Lifecycle.PreventDestroy && (action == provider.ActionDelete || action == provider.ActionReplace) {
		return fmt.Errorf("resource %s has preventDestroy set but the plan requires destruction", addr)
	}
	return nil
}

// filterIgnoredChanges downgrades an update to no-op when every changed
// attribute is listed in ignoreChanges. Replacements are never filtered.
func filterIgnoredChanges(res *ir.Resource, action provider.Action, changed []string) provider.Action {
	if res.Lifecycle == nil || len(res.Lifecycle.IgnoreChanges) == 0 {
		return action
	}
	if action != provider.ActionUpdate || len(changed) == 0 {
		return action
	}

	ignored := make(map[string]bool, len(res.Lifecycle.IgnoreChanges))
	for _, attr := range res.Lifecycle.IgnoreChanges {
		ignored[attr] = true
	}
	for _, attr := range changed {
		if !ignored[attr] {
			return action
		}
	}
	return provider.ActionNoop
}

func anyImmutableChanged(immutable, changed []string) bool {
	if len(immutable) == 0 || len(changed) == 0 {
		return false
	}
	set := make(map[string]bool, len(immutable))
	for _, attr := range immutable {
		set[attr] = true
	}
	for _, attr := range changed {
		if set[attr] {
			return true
		}
	}
	return false
}

// buildPropertyDiff compares prior and desired attributes key by key.
func buildPropertyDiff(prior, desired map[string]any, immutable []string) map[string]*ir.PropertyDiff {
	immutableSet := make(map[string]bool, len(immutable))
	for _, attr := range immutable {
		immutableSet[attr] = true
	}

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	diff := make(map[string]*ir.PropertyDiff)
	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{After: desiredVal, Action: ir.ActionCreate}
		case !inDesired:
			diff[k] = &ir.PropertyDiff{Before: priorVal, Action: ir.ActionDelete}
		case hashValue(priorVal) != hashValue(desiredVal):
			diff[k] = &ir.PropertyDiff{
				Before:            priorVal,
				After:             desiredVal,
				Action:            ir.ActionUpdate,
				ForcesReplacement: immutableSet[k],
			}
		}
	}
	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{After: v, Action: ir.ActionCreate}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{Before: v, Action: ir.ActionDelete}
	}
	return diff
}

// hashValue returns a stable digest of any JSON-representable value.
// encoding/json sorts map keys, so equal values hash equally.
func hashValue(v any) string {
	data, err := json.Marshal(normalizeValue(v))
	if err != nil {
		return fmt.Sprintf("unhashable:%v", v)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// normalizeValue converts decoder-specific map shapes into plain
// map[string]any trees.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, v := range val {
			m[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, v := range val {
			m[k] = normalizeValue(v)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, v := range val {
			s[i] = normalizeValue(v)
		}
		return s
	default:
		return val
	}
}
