package engine

import (
	"fmt"
	"strings"

	"github.com/stackform-io/stackform/internal/ir"
)

// ExpandCount flattens resources declared with count > 0 into individual
// nodes, substituting ${count.index} in attribute values. Must run before
// plan calculation.
func ExpandCount(resources []*ir.Resource) []*ir.Resource {
	var expanded []*ir.Resource
	for _, res := range resources {
		if res.Count <= 0 {
			expanded = append(expanded, res)
			continue
		}
		for i := 0; i < res.Count; i++ {
			clone := cloneResource(res)
			clone.Count = 0
			clone.Name = fmt.Sprintf("%s[%d]", res.Name, i)
			clone.Properties = substituteIndex(clone.Properties, i)
			expanded = append(expanded, clone)
		}
	}
	return expanded
}

func cloneResource(res *ir.Resource) *ir.Resource {
	clone := &ir.Resource{
		Type:     res.Type,
		Name:     res.Name,
		Provider: res.Provider,
		Timeout:  res.Timeout,
	}
	if res.Lifecycle != nil {
		clone.Lifecycle = &ir.Lifecycle{
			CreateBeforeDestroy: res.Lifecycle.CreateBeforeDestroy,
			PreventDestroy:      res.Lifecycle.PreventDestroy,
			IgnoreChanges:       append([]string{}, res.Lifecycle.IgnoreChanges...),
		}
	}
	clone.DependsOn = append([]string{}, res.DependsOn...)
	clone.Properties = deepCopyMap(res.Properties)
	return clone
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		clone := make([]any, len(val))
		for i, item := range val {
			clone[i] = deepCopyValue(item)
		}
		return clone
	default:
		return v
	}
}

func substituteIndex(props map[string]any, index int) map[string]any {
	result := make(map[string]any, len(props))
	for k, v := range props {
		result[k] = substituteValue(v, "${count.index}", fmt.Sprintf("%d", index))
	}
	return result
}

func substituteValue(v any, placeholder, replacement string) any {
	switch val := v.(type) {
	case string:
		return strings.ReplaceAll(val, placeholder, replacement)
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = substituteValue(item, placeholder, replacement)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = substituteValue(item, placeholder, replacement)
		}
		return result
	default:
		return v
	}
}
