package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

// eventRecorder collects apply events across goroutines.
type eventRecorder struct {
	mu     sync.Mutex
	events []ApplyEvent
}

func (r *eventRecorder) callback(event ApplyEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) statusOf(addr string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Address == addr {
			return r.events[i].Status
		}
	}
	return ""
}

func (r *eventRecorder) completionOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Status == "completed" {
			out = append(out, e.Address)
		}
	}
	return out
}

func TestApplyPlan_RecordsStateAndOutputs(t *testing.T) {
	eng := newTestEngine(t)
	cfg := &ir.Config{
		Resources: []*ir.Resource{nullResource("a", map[string]any{"v": "1"})},
		Outputs:   map[string]any{"a_id": "ref://null_resource/a/id"},
	}

	state := emptyState()
	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)

	state, err = eng.ApplyPlan(context.Background(), plan, state)
	require.NoError(t, err)

	require.Len(t, state.Resources, 1)
	rec := state.Resources[0]
	assert.Equal(t, "null_resource.a", rec.Address())
	assert.Equal(t, "null-a", rec.Outputs["id"])
	assert.NotEmpty(t, rec.InputsHash)
	assert.Equal(t, "null-a", state.Outputs["a_id"])
}

func TestApplyPlan_RecordsDependencies(t *testing.T) {
	eng := newTestEngine(t)

	base := nullResource("base", map[string]any{"v": "1"})
	dependent := nullResource("dependent", map[string]any{"v": "1"})
	dependent.DependsOn = []string{"null_resource.base"}

	state := emptyState()
	plan, err := eng.CreatePlan(context.Background(), &ir.Config{Resources: []*ir.Resource{base, dependent}}, state)
	require.NoError(t, err)
	state, err = eng.ApplyPlan(context.Background(), plan, state)
	require.NoError(t, err)

	rec := state.Lookup("null_resource.dependent")
	require.NotNil(t, rec)
	assert.Equal(t, []string{"null_resource.base"}, rec.Dependencies)
}

func TestApplyPlan_DependencyOrder(t *testing.T) {
	eng := newTestEngine(t)

	a := nullResource("a", map[string]any{"v": "1"})
	b := nullResource("b", map[string]any{"v": "1"})
	b.DependsOn = []string{"null_resource.a"}
	c := nullResource("c", map[string]any{"v": "1"})
	c.DependsOn = []string{"null_resource.b"}

	state := emptyState()
	plan, err := eng.CreatePlan(context.Background(), &ir.Config{Resources: []*ir.Resource{c, b, a}}, state)
	require.NoError(t, err)

	rec := &eventRecorder{}
	_, err = eng.ApplyPlanWithCallback(context.Background(), plan, state, rec.callback)
	require.NoError(t, err)

	order := rec.completionOrder()
	require.Len(t, order, 3)
	assert.Equal(t, []string{"null_resource.a", "null_resource.b", "null_resource.c"}, order)
}

func TestApplyPlan_FailurePoisonsDependents(t *testing.T) {
	eng := newTestEngine(t)
	eng.ContinueOnError = true

	failing := nullResource("failing", map[string]any{"v": "1"})
	failing.Properties["fail"] = true
	dependent := nullResource("dependent", map[string]any{"v": "1"})
	dependent.DependsOn = []string{"null_resource.failing"}
	independent := nullResource("independent", map[string]any{"v": "1"})

	state := emptyState()
	plan, err := eng.CreatePlan(context.Background(),
		&ir.Config{Resources: []*ir.Resource{failing, dependent, independent}}, state)
	require.NoError(t, err)

	rec := &eventRecorder{}
	state, err = eng.ApplyPlanWithCallback(context.Background(), plan, state, rec.callback)
	require.Error(t, err)

	assert.Equal(t, "failed", rec.statusOf("null_resource.failing"))
	assert.Equal(t, "skipped", rec.statusOf("null_resource.dependent"))
	assert.Equal(t, "completed", rec.statusOf("null_resource.independent"))

	assert.Nil(t, state.Lookup("null_resource.failing"))
	assert.Nil(t, state.Lookup("null_resource.dependent"))
	assert.NotNil(t, state.Lookup("null_resource.independent"))
}

func TestApplyPlan_FatalErrorClassification(t *testing.T) {
	eng := newTestEngine(t)

	failing := nullResource("failing", map[string]any{"v": "1"})
	failing.Properties["fail"] = true

	state := emptyState()
	plan, err := eng.CreatePlan(context.Background(), &ir.Config{Resources: []*ir.Resource{failing}}, state)
	require.NoError(t, err)

	_, err = eng.ApplyPlan(context.Background(), plan, state)
	require.Error(t, err)

	var fatal *FatalProviderError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "null_resource.failing", fatal.Address)
}

func TestApplyPlan_DeletesRunBeforeCreates(t *testing.T) {
	eng := newTestEngine(t)

	state := &ir.State{Version: 1, Resources: []*ir.ResourceState{
		{Type: "null_resource", Name: "old", Provider: "null",
			Inputs:  map[string]any{"triggers": map[string]any{"v": "1"}},
			Outputs: map[string]any{"id": "null-old"}},
	}}
	cfg := &ir.Config{Resources: []*ir.Resource{nullResource("new", map[string]any{"v": "1"})}}

	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)

	rec := &eventRecorder{}
	state, err = eng.ApplyPlanWithCallback(context.Background(), plan, state, rec.callback)
	require.NoError(t, err)

	order := rec.completionOrder()
	require.Equal(t, []string{"null_resource.old", "null_resource.new"}, order)
	assert.Nil(t, state.Lookup("null_resource.old"))
	assert.NotNil(t, state.Lookup("null_resource.new"))
}

func TestApplyPlan_DeleteOrderRespectsRecordedEdges(t *testing.T) {
	eng := newTestEngine(t)

	state := &ir.State{Version: 1, Resources: []*ir.ResourceState{
		{Type: "null_resource", Name: "base", Provider: "null",
			Inputs:  map[string]any{"triggers": map[string]any{"v": "1"}},
			Outputs: map[string]any{"id": "null-base"}},
		{Type: "null_resource", Name: "dependent", Provider: "null",
			Inputs:       map[string]any{"triggers": map[string]any{"v": "1"}},
			Outputs:      map[string]any{"id": "null-dependent"},
			Dependencies: []string{"null_resource.base"}},
	}}

	plan, err := eng.CreatePlan(context.Background(), &ir.Config{}, state)
	require.NoError(t, err)

	rec := &eventRecorder{}
	state, err = eng.ApplyPlanWithCallback(context.Background(), plan, state, rec.callback)
	require.NoError(t, err)

	order := rec.completionOrder()
	require.Equal(t, []string{"null_resource.dependent", "null_resource.base"}, order)
	assert.Empty(t, state.Resources)
}

func TestApplyPlan_CheckpointAfterEachCommit(t *testing.T) {
	eng := newTestEngine(t)

	var mu sync.Mutex
	var serials []int
	eng.Checkpoint = func(ctx context.Context, s *ir.State) error {
		mu.Lock()
		defer mu.Unlock()
		serials = append(serials, len(s.Resources))
		return nil
	}

	cfg := &ir.Config{Resources: []*ir.Resource{
		nullResource("a", map[string]any{"v": "1"}),
		nullResource("b", map[string]any{"v": "1"}),
	}}

	state := emptyState()
	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)
	_, err = eng.ApplyPlan(context.Background(), plan, state)
	require.NoError(t, err)

	assert.Len(t, serials, 2)
}

func TestApplyPlan_CancelledContext(t *testing.T) {
	eng := newTestEngine(t)

	cfg := &ir.Config{Resources: []*ir.Resource{nullResource("a", map[string]any{"v": "1"})}}
	state := emptyState()
	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = eng.ApplyPlan(ctx, plan, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
}

func TestApplyPlan_ReferenceResolution(t *testing.T) {
	eng := newTestEngine(t)

	base := nullResource("base", map[string]any{"v": "1"})
	dependent := nullResource("dependent", map[string]any{"upstream": "ref://null_resource/base/id"})

	state := emptyState()
	plan, err := eng.CreatePlan(context.Background(), &ir.Config{Resources: []*ir.Resource{base, dependent}}, state)
	require.NoError(t, err)
	state, err = eng.ApplyPlan(context.Background(), plan, state)
	require.NoError(t, err)

	rec := state.Lookup("null_resource.dependent")
	require.NotNil(t, rec)
	triggers, ok := rec.Outputs["triggers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "null-base", triggers["upstream"])
}

func TestResolveReferences(t *testing.T) {
	state := &ir.State{Resources: []*ir.ResourceState{
		{Type: "aws:S3.Bucket", Name: "logs", Provider: "aws",
			Inputs:  map[string]any{"bucket": "my-logs"},
			Outputs: map[string]any{"id": "my-logs", "arn": "arn:aws:s3:::my-logs"}},
	}}

	resolved := resolveReferences(map[string]any{
		"arn":       "ref://aws:S3.Bucket/logs/arn",
		"input":     "ref://aws:S3.Bucket/logs/bucket",
		"missing":   "ref://aws:S3.Bucket/logs/nope",
		"unrelated": "plain string",
	}, state).(map[string]any)

	assert.Equal(t, "arn:aws:s3:::my-logs", resolved["arn"])
	assert.Equal(t, "my-logs", resolved["input"])
	assert.Equal(t, "ref://aws:S3.Bucket/logs/nope", resolved["missing"])
	assert.Equal(t, "plain string", resolved["unrelated"])
}

func TestApplyPlan_FailedReplaceDropsStaleRecord(t *testing.T) {
	var deleted bool
	registerFake(t, "brittle", &fakeProvider{
		planFn: func(req *provider.PlanRequest) (*provider.PlanResponse, error) {
			return &provider.PlanResponse{
				Action:            provider.ActionReplace,
				ChangedAttributes: []string{"size"},
			}, nil
		},
		applyFn: func(req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
			return nil, errors.New("create rejected")
		},
		deleteFn: func(req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
			deleted = true
			return &provider.DeleteResponse{}, nil
		},
	})

	eng := newTestEngine(t)
	var checkpoints int
	eng.Checkpoint = func(ctx context.Context, s *ir.State) error {
		checkpoints++
		return nil
	}

	state := &ir.State{Version: 1, Resources: []*ir.ResourceState{
		{Type: "brittle:Thing", Name: "x", Provider: "brittle",
			Inputs:  map[string]any{"size": "small"},
			Outputs: map[string]any{"id": "brittle-x"}},
	}}
	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "brittle:Thing", Name: "x", Provider: "brittle",
			Properties: map[string]any{"size": "large"}},
	}}

	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	require.Equal(t, ir.ActionReplace, plan.Changes[0].Action)

	state, err = eng.ApplyPlan(context.Background(), plan, state)
	require.Error(t, err)

	// The remote delete succeeded, so the old record must be gone even
	// though the create failed.
	assert.True(t, deleted)
	assert.Nil(t, state.Lookup("brittle:Thing.x"))
	assert.Equal(t, 1, checkpoints)
}
