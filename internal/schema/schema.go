// Package schema validates declared resource attributes against per-type
// JSON Schemas and carries the attribute metadata the differ needs, such
// as which attributes cannot be changed in place.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stackform-io/stackform/internal/ir"
)

//go:embed schemas.json
var rawSchemas []byte

// ViolationError reports a resource whose attributes are missing or of the
// wrong shape. It is returned before any provider call is made.
type ViolationError struct {
	Address string
	Detail  string
	Err     error
}

func (e *ViolationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("schema violation for %s: %s", e.Address, e.Detail)
	}
	return fmt.Sprintf("schema violation for %s: %v", e.Address, e.Err)
}

func (e *ViolationError) Unwrap() error { return e.Err }

type schemaEntry struct {
	Schema    json.RawMessage `json:"schema"`
	Immutable []string        `json:"immutable"`
}

// Registry holds the compiled schema per resource type.
type Registry struct {
	compiled  map[string]*jsonschema.Schema
	immutable map[string][]string
}

// NewRegistry compiles the embedded resource schemas.
func NewRegistry() (*Registry, error) {
	var entries map[string]schemaEntry
	if err := json.Unmarshal(rawSchemas, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse embedded schemas: %w", err)
	}

	r := &Registry{
		compiled:  make(map[string]*jsonschema.Schema),
		immutable: make(map[string][]string),
	}
	for typ, entry := range entries {
		if err := r.Add(typ, entry.Schema, entry.Immutable); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add compiles and registers a schema for a resource type. Exposed so
// providers and tests can contribute additional types.
func (r *Registry) Add(typ string, schemaJSON []byte, immutable []string) error {
	url := schemaURL(typ)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("failed to add schema for %s: %w", typ, err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", typ, err)
	}
	r.compiled[typ] = sch
	r.immutable[typ] = immutable
	return nil
}

// Validate checks the resource's attributes against its type schema.
// Types without a registered schema pass; their provider is the authority.
func (r *Registry) Validate(res *ir.Resource) error {
	sch, ok := r.compiled[res.Type]
	if !ok {
		return nil
	}

	props, err := normalize(res.Properties)
	if err != nil {
		return &ViolationError{Address: res.Address(), Err: err}
	}

	if err := sch.Validate(props); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &ViolationError{Address: res.Address(), Detail: flatten(ve)}
		}
		return &ViolationError{Address: res.Address(), Err: err}
	}
	return nil
}

// Immutable returns the attributes of a type that cannot be changed in
// place; a change to any of them forces replacement.
func (r *Registry) Immutable(typ string) []string {
	return r.immutable[typ]
}

// normalize round-trips the attribute map through JSON so the validator
// sees plain JSON values regardless of how the config was decoded.
func normalize(props map[string]any) (any, error) {
	if props == nil {
		props = map[string]any{}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("attributes are not JSON-representable: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// flatten renders the leaf causes of a validation error on one line.
func flatten(ve *jsonschema.ValidationError) string {
	leaves := ve.Causes
	if len(leaves) == 0 {
		leaves = []*jsonschema.ValidationError{ve}
	}
	var parts []string
	for _, c := range leaves {
		loc := strings.TrimPrefix(c.InstanceLocation, "/")
		if loc == "" {
			parts = append(parts, c.Message)
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", loc, c.Message))
		}
	}
	return strings.Join(parts, "; ")
}

func schemaURL(typ string) string {
	return "mem://" + strings.NewReplacer(":", "_", ".", "_").Replace(typ) + ".json"
}
