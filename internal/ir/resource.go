package ir

// Resource is a single declared resource node. Once a plan has been
// calculated from it the node is treated as immutable.
type Resource struct {
	Type       string         `pkl:"type" json:"type"` // e.g. "aws:S3.Bucket"
	Name       string         `pkl:"name" json:"name"`
	Provider   string         `pkl:"provider" json:"provider"`
	Count      int            `pkl:"count" json:"count,omitempty"`
	Lifecycle  *Lifecycle     `pkl:"lifecycle" json:"lifecycle,omitempty"`
	DependsOn  []string       `pkl:"dependsOn" json:"dependsOn,omitempty"`
	Timeout    string         `pkl:"timeout" json:"timeout,omitempty"`
	Properties map[string]any `pkl:"properties" json:"properties"`
}

// Address returns the logical address of the resource (type.name).
func (r *Resource) Address() string {
	t := r.Type
	if t == "" {
		t = "null_resource"
	}
	return t + "." + r.Name
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy" json:"createBeforeDestroy,omitempty"`
	PreventDestroy      bool     `pkl:"preventDestroy" json:"preventDestroy,omitempty"`
	IgnoreChanges       []string `pkl:"ignoreChanges" json:"ignoreChanges,omitempty"`
}
