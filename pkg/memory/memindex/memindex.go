// Package memindex provides a thread-safe, in-memory implementation of
// [memory.SemanticIndex]. It is suitable for single-session use, tests, and
// running without a database; fragments do not survive process restarts.
package memindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/taleweaver/pkg/memory"
	"github.com/MrWong99/taleweaver/pkg/provider/embeddings"
)

// Compile-time assertion that Index satisfies the SemanticIndex interface.
var _ memory.SemanticIndex = (*Index)(nil)

// entry pairs a stored fragment with its embedding vector.
type entry struct {
	fragment  memory.Fragment
	embedding []float32
}

// Index is a thread-safe, in-memory semantic index backed by brute-force
// cosine distance over all stored embeddings.
type Index struct {
	embedder embeddings.Provider

	mu      sync.RWMutex
	entries map[string]entry
}

// NewIndex returns an initialised [Index] that embeds fragments and queries
// with the given provider.
func NewIndex(embedder embeddings.Provider) *Index {
	return &Index{
		embedder: embedder,
		entries:  make(map[string]entry),
	}
}

// Add implements [memory.SemanticIndex].
func (i *Index) Add(ctx context.Context, fragment memory.Fragment) (string, error) {
	if !fragment.Partition.Storable() {
		return "", fmt.Errorf("memindex: add: partition %q is not storable", fragment.Partition)
	}

	id := fragment.ID
	if id == "" {
		id = memory.FragmentID(fragment.Content, fragment.Metadata)
	}

	vec, err := i.embedder.Embed(ctx, fragment.Content)
	if err != nil {
		return "", fmt.Errorf("memindex: embed: %w", err)
	}

	fragment.ID = id
	if fragment.CreatedAt.IsZero() {
		fragment.CreatedAt = time.Now()
	}
	if fragment.Metadata == nil {
		fragment.Metadata = map[string]string{}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries[id] = entry{fragment: fragment, embedding: vec}
	return id, nil
}

// Update implements [memory.SemanticIndex].
func (i *Index) Update(ctx context.Context, id string, fragment memory.Fragment) (string, error) {
	i.mu.RLock()
	old, ok := i.entries[id]
	i.mu.RUnlock()
	if !ok {
		return "", memory.ErrNotFound
	}

	if fragment.Partition == "" {
		fragment.Partition = old.fragment.Partition
	}
	fragment.ID = ""
	newID, err := i.Add(ctx, fragment)
	if err != nil {
		return "", err
	}

	i.mu.Lock()
	if newID != id {
		delete(i.entries, id)
	}
	i.mu.Unlock()
	return newID, nil
}

// Delete implements [memory.SemanticIndex]. Missing IDs are a no-op.
func (i *Index) Delete(_ context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.entries, id)
	return nil
}

// Get implements [memory.SemanticIndex].
func (i *Index) Get(_ context.Context, id string) (memory.Fragment, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.entries[id]
	if !ok {
		return memory.Fragment{}, memory.ErrNotFound
	}
	return e.fragment, nil
}

// Query implements [memory.SemanticIndex].
func (i *Index) Query(ctx context.Context, text string, opts ...memory.QueryOpt) ([]memory.Result, error) {
	params := memory.ApplyQueryOpts(opts)
	if !params.Partition.IsValid() {
		return nil, fmt.Errorf("memindex: query: unknown partition %q", params.Partition)
	}

	vec, err := i.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("memindex: embed query: %w", err)
	}

	i.mu.RLock()
	results := make([]memory.Result, 0, len(i.entries))
	for _, e := range i.entries {
		if params.Partition != memory.PartitionAll && e.fragment.Partition != params.Partition {
			continue
		}
		if !matchesMetadata(e.fragment.Metadata, params.Metadata) {
			continue
		}
		results = append(results, memory.Result{
			Fragment: e.fragment,
			Distance: cosineDistance(vec, e.embedding),
		})
	}
	i.mu.RUnlock()

	sort.Slice(results, func(a, b int) bool {
		return results[a].Distance < results[b].Distance
	})
	if len(results) > params.Limit {
		results = results[:params.Limit]
	}
	return results, nil
}

// PurgeOlderThan implements [memory.SemanticIndex]. Fragments whose timestamp
// metadata is missing or malformed are skipped.
func (i *Index) PurgeOlderThan(_ context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)

	i.mu.Lock()
	defer i.mu.Unlock()
	purged := 0
	for id, e := range i.entries {
		if e.fragment.Partition != memory.PartitionMemory {
			continue
		}
		ts, err := time.Parse(time.RFC3339, e.fragment.Metadata["timestamp"])
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			delete(i.entries, id)
			purged++
		}
	}
	return purged, nil
}

// matchesMetadata reports whether metadata contains every pair in want.
func matchesMetadata(metadata, want map[string]string) bool {
	for k, v := range want {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// cosineDistance returns 1 minus the cosine similarity of a and b.
// Mismatched or zero-magnitude vectors yield the maximum distance.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for n := range a {
		dot += float64(a[n]) * float64(b[n])
		normA += float64(a[n]) * float64(a[n])
		normB += float64(b[n]) * float64(b[n])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
