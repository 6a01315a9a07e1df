package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// Partition names a logical compartment of the semantic index. Fragments in
// different partitions never mix unless a query explicitly targets
// [PartitionAll].
type Partition string

const (
	// PartitionCampaign holds world lore, locations, NPCs and plot hooks
	// imported from campaign documents.
	PartitionCampaign Partition = "campaign_content"

	// PartitionMemory holds play history: one fragment per resolved player
	// action and its narration.
	PartitionMemory Partition = "memory"

	// PartitionCharacter holds character sheets and character-centric notes.
	PartitionCharacter Partition = "character_info"

	// PartitionAll is a query-only pseudo partition that searches every
	// partition and merges the results by ascending distance.
	PartitionAll Partition = "all"
)

// Partitions returns the storable partitions, i.e. every partition except
// [PartitionAll].
func Partitions() []Partition {
	return []Partition{PartitionCampaign, PartitionMemory, PartitionCharacter}
}

// IsValid reports whether p is a known partition. PartitionAll is valid for
// queries but not for storage; use [Partition.Storable] to distinguish.
func (p Partition) IsValid() bool {
	return p.Storable() || p == PartitionAll
}

// Storable reports whether fragments may be written to p.
func (p Partition) Storable() bool {
	switch p {
	case PartitionCampaign, PartitionMemory, PartitionCharacter:
		return true
	}
	return false
}

// Fragment is the unit of semantic storage: a piece of campaign text together
// with free-form string metadata. The embedding vector is computed and held by
// the index implementation, never by callers.
type Fragment struct {
	// ID is the deterministic content hash assigned on Add. Leave empty when
	// adding; see [FragmentID].
	ID string

	// Partition is the compartment this fragment lives in. Must be storable.
	Partition Partition

	// Content is the raw fragment text that gets embedded.
	Content string

	// Metadata holds arbitrary string key/value pairs. Well-known keys:
	// "timestamp" (RFC 3339, consulted by PurgeOlderThan), "session_id",
	// "sequence", "source".
	Metadata map[string]string

	// CreatedAt is when the fragment was first indexed.
	CreatedAt time.Time
}

// Result pairs a retrieved fragment with its cosine distance from the query.
// Lower distance means higher similarity.
type Result struct {
	Fragment Fragment

	// Distance is the cosine distance to the query embedding, in [0, 2].
	Distance float64
}

// FragmentID derives the deterministic identifier for a fragment: the hex
// SHA-256 digest of the content followed by every metadata pair in ascending
// key order. Identical content with identical metadata always hashes to the
// same ID, which is what makes Add idempotent.
func FragmentID(content string, metadata map[string]string) string {
	h := sha256.New()
	h.Write([]byte(content))

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(metadata[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
