// Package mock provides an in-memory test double for the semantic index.
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent
// use via an internal [sync.Mutex].
//
// Typical usage:
//
//	idx := &mock.SemanticIndex{}
//	idx.QueryResult = []memory.Result{{Fragment: memory.Fragment{Content: "the dragon fled"}}}
//
//	// inject idx into the system under test …
//
//	if got := idx.CallCount("Query"); got != 1 {
//	    t.Errorf("expected 1 Query call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/taleweaver/pkg/memory"
)

// Compile-time interface check.
var _ memory.SemanticIndex = (*SemanticIndex)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// SemanticIndex is a configurable test double for [memory.SemanticIndex].
// All exported *Err fields default to nil (success); QueryResult defaults to
// nil (empty slice returned).
type SemanticIndex struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// AddID is returned by [SemanticIndex.Add]. When empty, Add derives the
	// real deterministic ID via [memory.FragmentID].
	AddID string

	// AddErr is returned by [SemanticIndex.Add] when non-nil.
	AddErr error

	// UpdateID and UpdateErr configure [SemanticIndex.Update].
	UpdateID  string
	UpdateErr error

	// DeleteErr is returned by [SemanticIndex.Delete] when non-nil.
	DeleteErr error

	// GetResult and GetErr configure [SemanticIndex.Get].
	GetResult memory.Fragment
	GetErr    error

	// QueryResult is returned by [SemanticIndex.Query].
	// When nil, Query returns an empty non-nil slice.
	QueryResult []memory.Result

	// QueryErr is returned by [SemanticIndex.Query] when non-nil.
	QueryErr error

	// PurgeCount and PurgeErr configure [SemanticIndex.PurgeOlderThan].
	PurgeCount int
	PurgeErr   error
}

// Calls returns a copy of all recorded method invocations.
func (m *SemanticIndex) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *SemanticIndex) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *SemanticIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Add implements [memory.SemanticIndex].
func (m *SemanticIndex) Add(_ context.Context, fragment memory.Fragment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Add", Args: []any{fragment}})
	if m.AddErr != nil {
		return "", m.AddErr
	}
	if m.AddID != "" {
		return m.AddID, nil
	}
	return memory.FragmentID(fragment.Content, fragment.Metadata), nil
}

// Update implements [memory.SemanticIndex].
func (m *SemanticIndex) Update(_ context.Context, id string, fragment memory.Fragment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Update", Args: []any{id, fragment}})
	return m.UpdateID, m.UpdateErr
}

// Delete implements [memory.SemanticIndex].
func (m *SemanticIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Delete", Args: []any{id}})
	return m.DeleteErr
}

// Get implements [memory.SemanticIndex].
func (m *SemanticIndex) Get(_ context.Context, id string) (memory.Fragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Get", Args: []any{id}})
	return m.GetResult, m.GetErr
}

// Query implements [memory.SemanticIndex].
func (m *SemanticIndex) Query(_ context.Context, text string, opts ...memory.QueryOpt) ([]memory.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Query", Args: []any{text, memory.ApplyQueryOpts(opts)}})
	if m.QueryResult == nil {
		return []memory.Result{}, m.QueryErr
	}
	out := make([]memory.Result, len(m.QueryResult))
	copy(out, m.QueryResult)
	return out, m.QueryErr
}

// PurgeOlderThan implements [memory.SemanticIndex].
func (m *SemanticIndex) PurgeOlderThan(_ context.Context, age time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "PurgeOlderThan", Args: []any{age}})
	return m.PurgeCount, m.PurgeErr
}
