package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/logging"
	"github.com/stackform-io/stackform/internal/provider"
)

const defaultParallelism = 10

// ApplyEvent is a progress event emitted while executing a plan.
type ApplyEvent struct {
	Address  string
	Action   string
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
}

type ApplyCallback func(event ApplyEvent)

// ApplyPlan executes a plan and returns the updated state.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// ApplyPlanWithCallback executes a plan with progress callbacks.
//
// Operations on independent subgraphs run concurrently, bounded by
// e.Parallelism. A failed operation poisons only its transitive
// dependents; independent subgraphs keep going. Unless ContinueOnError
// is set, no new operations start after the first failure.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ir.State, error) {
	exec := &execution{
		engine:   e,
		state:    state,
		callback: callback,
		index:    make(map[string]int),
	}
	for i, res := range state.Resources {
		exec.index[res.Address()] = i
	}

	var creates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == ir.ActionDelete {
			deletes = append(deletes, change)
		} else {
			creates = append(creates, change)
		}
	}

	var errs []error

	// Deletes run first so replaced addresses and orphans are gone before
	// anything that might collide with them is created.
	if err := exec.run(ctx, deletes, deleteDependencies(deletes, state)); err != nil {
		if !e.ContinueOnError {
			return state, err
		}
		errs = append(errs, err)
	}
	if err := exec.run(ctx, creates, createDependencies(creates)); err != nil {
		if !e.ContinueOnError {
			return state, err
		}
		errs = append(errs, err)
	}

	if plan.Outputs != nil {
		state.Outputs, _ = resolveReferences(plan.Outputs, state).(map[string]any)
	}

	if len(errs) > 0 {
		return state, errors.Join(errs...)
	}
	return state, nil
}

// createDependencies maps each create/update change to the in-plan changes
// it must wait for, from dependsOn edges and attribute references.
func createDependencies(changes []*ir.ResourceChange) map[string]map[string]bool {
	inPlan := make(map[string]bool, len(changes))
	for _, c := range changes {
		inPlan[c.Address] = true
	}

	deps := make(map[string]map[string]bool, len(changes))
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
		if c.Desired == nil {
			continue
		}
		for _, d := range c.Desired.DependsOn {
			if inPlan[d] {
				deps[c.Address][d] = true
			}
		}
		for _, ref := range extractRefs(c.Desired.Properties) {
			if depAddr := refToAddr(ref); inPlan[depAddr] {
				deps[c.Address][depAddr] = true
			}
		}
	}
	return deps
}

// deleteDependencies inverts the recorded state edges: a resource is
// deleted only after everything that depends on it has been deleted.
func deleteDependencies(changes []*ir.ResourceChange, state *ir.State) map[string]map[string]bool {
	inPlan := make(map[string]bool, len(changes))
	for _, c := range changes {
		inPlan[c.Address] = true
	}

	deps := make(map[string]map[string]bool, len(changes))
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
	}
	for _, res := range state.Resources {
		if !inPlan[res.Address()] {
			continue
		}
		for _, dep := range res.Dependencies {
			if inPlan[dep] {
				deps[dep][res.Address()] = true
			}
		}
	}
	return deps
}

// execution tracks shared executor state across one run batch.
type execution struct {
	engine   *Engine
	state    *ir.State
	callback ApplyCallback

	mu    sync.Mutex // guards state and index
	index map[string]int
}

func (x *execution) emit(event ApplyEvent) {
	if x.callback != nil {
		x.callback(event)
	}
}

// run executes one batch of changes concurrently under dependency gating.
func (x *execution) run(ctx context.Context, changes []*ir.ResourceChange, deps map[string]map[string]bool) error {
	if len(changes) == 0 {
		return nil
	}

	parallelism := x.engine.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	var (
		gateMu    sync.Mutex
		gate      = sync.NewCond(&gateMu)
		completed = make(map[string]bool)
		failed    = make(map[string]bool)
		halted    bool
		errs      []error
	)
	sem := make(chan struct{}, parallelism)

	var wg sync.WaitGroup
	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			gateMu.Lock()
			for {
				if halted {
					gateMu.Unlock()
					return
				}
				ready, blocked := true, false
				for dep := range deps[c.Address] {
					if failed[dep] {
						blocked = true
						break
					}
					if !completed[dep] {
						ready = false
						break
					}
				}
				if blocked {
					failed[c.Address] = true
					gateMu.Unlock()
					x.emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "skipped",
						Error: fmt.Errorf("dependency failed")})
					gate.Broadcast()
					return
				}
				if ready {
					break
				}
				gate.Wait()
			}
			gateMu.Unlock()

			if err := ctx.Err(); err != nil {
				gateMu.Lock()
				halted = true
				errs = append(errs, fmt.Errorf("apply cancelled: %w", err))
				gateMu.Unlock()
				gate.Broadcast()
				return
			}

			sem <- struct{}{}
			start := time.Now()
			x.emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})
			err := x.applyChange(ctx, c)
			<-sem

			gateMu.Lock()
			if err != nil {
				failed[c.Address] = true
				errs = append(errs, err)
				if !x.engine.ContinueOnError {
					halted = true
				}
				gateMu.Unlock()
				x.emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed",
					Duration: time.Since(start), Error: err})
			} else {
				completed[c.Address] = true
				gateMu.Unlock()
				x.emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed",
					Duration: time.Since(start)})
			}
			gate.Broadcast()
		}(change)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// applyChange executes one operation and commits the result to state.
func (x *execution) applyChange(ctx context.Context, change *ir.ResourceChange) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	timeout := DefaultTimeout
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := change.Desired
	if res == nil {
		res = change.Prior
	}
	if res == nil {
		return fmt.Errorf("change for %s carries no resource", addr)
	}

	prov, err := x.engine.registry.Get(res.Provider)
	if err != nil {
		return err
	}

	var priorJSON []byte
	x.mu.Lock()
	if idx, ok := x.index[addr]; ok && x.state.Resources[idx].Outputs != nil {
		priorJSON, _ = json.Marshal(x.state.Resources[idx].Outputs)
	}
	x.mu.Unlock()

	policy := DefaultRetryPolicy()

	switch change.Action {
	case ir.ActionCreate, ir.ActionUpdate, ir.ActionReplace:
		x.mu.Lock()
		resolved := resolveReferences(normalizeValue(change.Desired.Properties), x.state)
		x.mu.Unlock()
		desiredJSON, err := json.Marshal(resolved)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes for %s: %w", addr, err)
		}

		// A replace is delete-then-create against the provider. The old
		// record is dropped and checkpointed as soon as the delete lands,
		// so a failed create cannot leave state claiming a resource that
		// no longer exists.
		if change.Action == ir.ActionReplace && len(priorJSON) > 0 {
			if err := x.deleteRemote(ctx, prov, change, priorJSON, policy); err != nil {
				return classifyFailure(addr, err)
			}
			priorJSON = nil
			x.removeRecord(addr)
			if err := x.checkpoint(ctx); err != nil {
				return err
			}
		}

		var resp *provider.ApplyResponse
		err = RetryWithBackoff(ctx, policy, func() error {
			var applyErr error
			resp, applyErr = prov.Apply(ctx, &provider.ApplyRequest{
				Type:        res.Type,
				Name:        res.Name,
				DesiredJSON: desiredJSON,
				PriorJSON:   priorJSON,
			})
			return applyErr
		}, IsTransient)
		if err != nil {
			return classifyFailure(addr, err)
		}

		var outputs map[string]any
		if len(resp.NewStateJSON) > 0 {
			if err := json.Unmarshal(resp.NewStateJSON, &outputs); err != nil {
				return fmt.Errorf("provider returned invalid state for %s: %w", addr, err)
			}
		}

		record := &ir.ResourceState{
			Type:         res.Type,
			Name:         res.Name,
			Provider:     res.Provider,
			Inputs:       change.Desired.Properties,
			InputsHash:   hashValue(change.Desired.Properties),
			Outputs:      outputs,
			Dependencies: recordedDependencies(change.Desired),
		}

		x.mu.Lock()
		if idx, ok := x.index[addr]; ok {
			x.state.Resources[idx] = record
		} else {
			x.index[addr] = len(x.state.Resources)
			x.state.Resources = append(x.state.Resources, record)
		}
		x.mu.Unlock()

	case ir.ActionDelete:
		if err := x.deleteRemote(ctx, prov, change, priorJSON, policy); err != nil {
			return classifyFailure(addr, err)
		}
		x.removeRecord(addr)

	default:
		return nil
	}

	return x.checkpoint(ctx)
}

// removeRecord drops a resource's state record and rebuilds the index.
func (x *execution) removeRecord(addr string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	idx, ok := x.index[addr]
	if !ok {
		return
	}
	x.state.Resources = append(x.state.Resources[:idx], x.state.Resources[idx+1:]...)
	x.index = make(map[string]int, len(x.state.Resources))
	for i, r := range x.state.Resources {
		x.index[r.Address()] = i
	}
}

func (x *execution) deleteRemote(ctx context.Context, prov provider.Interface, change *ir.ResourceChange, priorJSON []byte, policy *RetryPolicy) error {
	res := change.Prior
	if res == nil {
		res = change.Desired
	}

	var id string
	x.mu.Lock()
	if idx, ok := x.index[change.Address]; ok {
		if v, exists := x.state.Resources[idx].Outputs["id"]; exists {
			id = fmt.Sprintf("%v", v)
		}
	}
	x.mu.Unlock()

	return RetryWithBackoff(ctx, policy, func() error {
		_, err := prov.Delete(ctx, &provider.DeleteRequest{
			Type:        res.Type,
			ID:          id,
			CurrentJSON: priorJSON,
		})
		return err
	}, IsTransient)
}

// checkpoint persists state after every committed operation so an
// interrupted apply loses at most the in-flight resources.
func (x *execution) checkpoint(ctx context.Context) error {
	if x.engine.Checkpoint == nil {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.engine.Checkpoint(ctx, x.state); err != nil {
		return fmt.Errorf("state checkpoint failed: %w", err)
	}
	return nil
}

// recordedDependencies captures the addresses a resource depends on, so
// destroy ordering survives without the original configuration.
func recordedDependencies(res *ir.Resource) []string {
	set := make(map[string]bool)
	for _, d := range res.DependsOn {
		set[d] = true
	}
	for _, ref := range extractRefs(res.Properties) {
		if addr := refToAddr(ref); addr != "" {
			set[addr] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// resolveReferences substitutes ref:// strings with the referenced
// resource's recorded attribute value. Unresolvable references are left
// as-is so the provider can surface a useful error.
func resolveReferences(val any, state *ir.State) any {
	switch v := val.(type) {
	case string:
		typ, name, attr, ok := parseRef(v)
		if !ok {
			return v
		}
		res := state.Lookup(typ + "." + name)
		if res == nil {
			return v
		}
		if out, ok := res.Outputs[attr]; ok {
			return out
		}
		if in, ok := res.Inputs[attr]; ok {
			return in
		}
		return v
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, item := range v {
			m[k] = resolveReferences(item, state)
		}
		return m
	case []any:
		s := make([]any, len(v))
		for i, item := range v {
			s[i] = resolveReferences(item, state)
		}
		return s
	default:
		return v
	}
}
