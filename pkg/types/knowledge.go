package types

// Partition selects which knowledge partitions a similarity search runs over.
type Partition int

// Knowledge partitions. General holds seeded question/answer pairs, Learned
// holds user-confirmed answers, Keywords holds the self-description table.
const (
	PartitionGeneral Partition = 1 << iota
	PartitionLearned
	PartitionKeywords

	PartitionAll = PartitionGeneral | PartitionLearned | PartitionKeywords
)

// KnowledgeEntry is one prompt→response pair within a partition.
// NormalizedPrompt is the unique key within its partition; upserting an
// existing prompt overwrites response and embedding rather than duplicating.
type KnowledgeEntry struct {
	NormalizedPrompt string    `json:"prompt"`
	ResponseText     string    `json:"response"`
	Embedding        []float64 `json:"embedding,omitempty"` // Absent embeddings are valid (lazily backfilled)
}

// SimilarityMatch is one result of a semantic search: the stored response and
// its cosine similarity to the query embedding.
type SimilarityMatch struct {
	Response string  `json:"response"`
	Score    float64 `json:"score"`
}

// PendingInteraction is the ephemeral propose-phase record of the confirm-save
// workflow, keyed by session identifier. At most one exists per session; a new
// resolution overwrites it and confirm or discard consumes it.
type PendingInteraction struct {
	Prompt   string `json:"prompt"`   // Normalized user prompt
	Response string `json:"response"` // Proposed answer awaiting confirmation
}
