package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/scrypster/hearth/pkg/types"
)

// ErrNoPending is returned by Confirm when the session has no interaction
// waiting for confirmation.
var ErrNoPending = errors.New("no pending interaction for session")

// pendingTable holds at most one unconfirmed interaction per session. A new
// resolution for the same session overwrites the previous one; confirm and
// discard both consume the entry.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]types.PendingInteraction
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]types.PendingInteraction)}
}

func (t *pendingTable) set(sessionID string, p types.PendingInteraction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[sessionID] = p
}

// take removes and returns the session's pending interaction.
func (t *pendingTable) take(sessionID string) (types.PendingInteraction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[sessionID]
	if ok {
		delete(t.entries, sessionID)
	}
	return p, ok
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// ConfirmResult reports the outcome of a confirm/discard request.
type ConfirmResult struct {
	Status  string // "saved", "discarded"
	Message string
}

// PendingCount returns the number of sessions awaiting confirmation.
func (e *Engine) PendingCount() int {
	return e.pending.len()
}

// Confirm consumes the session's pending interaction. choice "yes" learns
// the answer: the prompt is embedded and the pair is persisted to the
// learned partition. An embedding failure still saves the entry, without a
// vector, so the answer is never lost; the vector is backfilled later.
// choice "no" discards the interaction with no store mutation.
func (e *Engine) Confirm(ctx context.Context, sessionID, choice string) (*ConfirmResult, error) {
	switch choice {
	case "yes", "no":
	default:
		return nil, fmt.Errorf("invalid choice %q: must be \"yes\" or \"no\"", choice)
	}

	p, ok := e.pending.take(sessionID)
	if !ok {
		return nil, ErrNoPending
	}

	if choice == "no" {
		return &ConfirmResult{Status: "discarded", Message: "De acuerdo, no guardaré esa respuesta."}, nil
	}

	embedding, err := e.embedder.Embed(ctx, p.Prompt)
	if err != nil {
		log.Printf("Warning: embedding failed during confirm, saving without vector: %v", err)
		embedding = nil
	}
	if err := e.store.UpsertLearned(p.Prompt, p.Response, embedding); err != nil {
		return nil, fmt.Errorf("failed to save learned response: %w", err)
	}
	if e.onLearned != nil {
		e.onLearned(p.Prompt, p.Response)
	}
	return &ConfirmResult{Status: "saved", Message: "¡Perfecto! He aprendido esa respuesta."}, nil
}
