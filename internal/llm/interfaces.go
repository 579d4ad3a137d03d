// Package llm provides the clients for the two external model services the
// gateway depends on: the embedding service and the large-language-model
// service. Both are wrapped with per-attempt timeouts, a bounded fixed-delay
// retry on connection-level failures, and a circuit breaker.
//
// A well-formed HTTP response carrying unusable content is never retried: it
// fails fast with ErrBadResponse and the caller degrades gracefully.
package llm

import (
	"context"

	"github.com/scrypster/hearth/pkg/types"
)

// EmbeddingGenerator produces a vector embedding for a piece of text.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ActionGenerator turns a structured prompt into a tagged Action: either a
// device command or a plain text answer.
type ActionGenerator interface {
	GenerateAction(ctx context.Context, prompt string) (*types.Action, error)
}
