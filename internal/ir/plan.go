package ir

// Operation kinds a plan can assign to a resource.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionReplace = "replace"
	ActionDelete  = "delete"
	ActionNoop    = "noop"
)

// Plan is an ordered sequence of operations. Creates and updates appear in
// dependency order, deletes in reverse dependency order.
type Plan struct {
	Metadata *PlanMetadata     `json:"metadata"`
	Changes  []*ResourceChange `json:"changes"`
	Summary  *PlanSummary      `json:"summary"`
	Outputs  map[string]any    `json:"outputs,omitempty"`
}

type PlanMetadata struct {
	Timestamp   string `json:"timestamp"`
	ConfigHash  string `json:"configHash,omitempty"`
	PriorSerial int    `json:"priorSerial"`
}

type ResourceChange struct {
	Address string                   `json:"address"`
	Action  string                   `json:"action"`
	Desired *Resource                `json:"desired,omitempty"`
	Prior   *Resource                `json:"prior,omitempty"`
	Diff    map[string]*PropertyDiff `json:"diff,omitempty"`
}

type PropertyDiff struct {
	Before            any    `json:"before,omitempty"`
	After             any    `json:"after,omitempty"`
	ForcesReplacement bool   `json:"forcesReplacement,omitempty"`
	Action            string `json:"action"`
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Replace int `json:"replace"`
	NoOp    int `json:"noop"`
}

// Count bumps the summary counter for the given action.
func (s *PlanSummary) Count(action string) {
	switch action {
	case ActionCreate:
		s.Create++
	case ActionUpdate:
		s.Update++
	case ActionReplace:
		s.Replace++
	case ActionDelete:
		s.Delete++
	default:
		s.NoOp++
	}
}

// Empty reports whether the plan contains no operations that would change
// infrastructure.
func (p *Plan) Empty() bool {
	return len(p.Changes) == 0
}
