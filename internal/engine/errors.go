package engine

import (
	"fmt"
	"strings"
)

// CyclicDependencyError reports a dependency cycle in the resource graph,
// naming the members of the cycle.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// TransientProviderError wraps a retryable provider failure (throttling,
// timeouts, 5xx). The executor retries these before giving up.
type TransientProviderError struct {
	Address string
	Err     error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("transient provider error for %s: %v", e.Address, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// FatalProviderError wraps a non-retryable provider failure (permission
// denied, quota, invalid parameter). It aborts the affected subgraph.
type FatalProviderError struct {
	Address string
	Err     error
}

func (e *FatalProviderError) Error() string {
	return fmt.Sprintf("fatal provider error for %s: %v", e.Address, e.Err)
}

func (e *FatalProviderError) Unwrap() error { return e.Err }
