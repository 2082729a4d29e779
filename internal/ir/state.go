package ir

// State is the persisted record of everything successfully applied.
// A ResourceState exists if and only if the resource has been created
// and not yet destroyed.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage"`
	Resources []*ResourceState `json:"resources"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
}

// ResourceState is one record per live resource, keyed by logical address.
type ResourceState struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Provider     string         `json:"provider"`
	Inputs       map[string]any `json:"inputs"` // last-applied declared attributes
	InputsHash   string         `json:"inputsHash,omitempty"`
	Outputs      map[string]any `json:"outputs"` // provider-assigned attributes
	Dependencies []string       `json:"dependencies,omitempty"`
	Tainted      bool           `json:"tainted,omitempty"` // force replacement on next apply
}

// Address returns the logical address of the record (type.name).
func (r *ResourceState) Address() string {
	return r.Type + "." + r.Name
}

// Lookup returns the record at the given address, or nil.
func (s *State) Lookup(addr string) *ResourceState {
	for _, res := range s.Resources {
		if res.Address() == addr {
			return res
		}
	}
	return nil
}
