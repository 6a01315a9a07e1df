// Package memory defines the semantic memory index used by Taleweaver to
// ground narration in past play.
//
// The index is a partitioned vector store over [Fragment] records. Three
// partitions keep retrieval focused: campaign lore ([PartitionCampaign]),
// play history ([PartitionMemory]) and character sheets
// ([PartitionCharacter]). Queries target one partition or all of them.
//
// Fragment identifiers are deterministic content hashes ([FragmentID]), so
// adding the same fragment twice is a harmless upsert. Implementations own
// the embedding step: callers hand over plain text and the index talks to an
// embeddings provider itself.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested fragment does not exist.
var ErrNotFound = errors.New("memory: fragment not found")

// ErrUnavailable is returned when the backing index cannot be reached.
// Callers decide per operation whether to surface or degrade.
var ErrUnavailable = errors.New("memory: store unavailable")

// DefaultQueryLimit is applied when a query does not specify its own limit.
const DefaultQueryLimit = 5

// SemanticIndex is the embedding-backed fragment store.
//
// Implementations must be safe for concurrent use.
type SemanticIndex interface {
	// Add embeds and stores a fragment, returning its deterministic ID.
	// The fragment's Partition must be storable. Re-adding a fragment with
	// identical content and metadata is an upsert, not an error.
	Add(ctx context.Context, fragment Fragment) (string, error)

	// Update replaces the fragment identified by id with the new content:
	// it deletes the old record and adds the replacement, returning the
	// replacement's ID (which differs from id whenever content or metadata
	// changed). Returns [ErrNotFound] when id does not exist.
	Update(ctx context.Context, id string, fragment Fragment) (string, error)

	// Delete removes the fragment with the given ID. Deleting an ID that
	// does not exist is not an error.
	Delete(ctx context.Context, id string) error

	// Get retrieves a fragment by ID.
	// Returns [ErrNotFound] when it does not exist.
	Get(ctx context.Context, id string) (Fragment, error)

	// Query embeds the query text and returns the closest fragments ordered
	// by ascending cosine distance. With [WithPartition] set to
	// [PartitionAll] the per-partition results are merged and re-sorted
	// globally before the limit applies.
	// Returns an empty (non-nil) slice when nothing matches.
	Query(ctx context.Context, text string, opts ...QueryOpt) ([]Result, error)

	// PurgeOlderThan deletes fragments from [PartitionMemory] whose
	// "timestamp" metadata parses as RFC 3339 and lies before now-age.
	// Fragments without a parseable timestamp are left alone. Returns the
	// number of fragments deleted.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// queryOptions accumulates options for [SemanticIndex.Query].
// Unexported; callers configure it via [QueryOpt] functional options.
type queryOptions struct {
	partition Partition
	limit     int
	metadata  map[string]string
}

// QueryOpt is a functional option for [SemanticIndex.Query].
type QueryOpt func(*queryOptions)

// WithPartition restricts the query to a single partition, or widens it to
// every partition with [PartitionAll]. The default is [PartitionMemory].
func WithPartition(p Partition) QueryOpt {
	return func(o *queryOptions) { o.partition = p }
}

// WithLimit caps the number of results returned.
// A value of 0 (the default) applies [DefaultQueryLimit].
func WithLimit(n int) QueryOpt {
	return func(o *queryOptions) { o.limit = n }
}

// WithMetadataFilter keeps only fragments whose metadata contains every given
// key/value pair. Filters compose: repeated calls merge their pairs.
func WithMetadataFilter(metadata map[string]string) QueryOpt {
	return func(o *queryOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			o.metadata[k] = v
		}
	}
}

// QueryParams holds the resolved parameters from a slice of [QueryOpt].
type QueryParams struct {
	Partition Partition
	Limit     int
	Metadata  map[string]string
}

// ApplyQueryOpts applies a slice of [QueryOpt] functional options and returns
// the resolved parameters with defaults filled in. This helper lets storage
// backends read the option values without access to the unexported
// [queryOptions] type.
func ApplyQueryOpts(opts []QueryOpt) QueryParams {
	o := &queryOptions{}
	for _, opt := range opts {
		opt(o)
	}
	p := QueryParams{
		Partition: o.partition,
		Limit:     o.limit,
		Metadata:  o.metadata,
	}
	if p.Partition == "" {
		p.Partition = PartitionMemory
	}
	if p.Limit <= 0 {
		p.Limit = DefaultQueryLimit
	}
	return p
}
