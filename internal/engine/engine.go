// Package engine resolves free-text utterances into answers or device
// commands.
//
// Resolution runs ordered stages against the knowledge store: exact match,
// out-of-scope guard, self-description keywords, semantic similarity, and
// finally the LLM fallback. The first stage that produces an answer wins.
// Only LLM text answers are candidates for the confirm-save workflow.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/scrypster/hearth/internal/knowledge"
	"github.com/scrypster/hearth/internal/llm"
	"github.com/scrypster/hearth/internal/router"
	"github.com/scrypster/hearth/pkg/types"
)

// Stage names reported in resolution results.
const (
	StageName       = "name_capture"
	StageExact      = "exact"
	StageOutOfScope = "out_of_scope"
	StageKeyword    = "keyword"
	StageSemantic   = "semantic"
	StageLLMCommand = "llm_command"
	StageLLMText    = "llm_text"
)

// EntityLister provides the discovered-device snapshot for LLM prompts.
type EntityLister interface {
	All() []*types.EntityRecord
}

// CommandDispatcher sends a logical command to the wire.
type CommandDispatcher interface {
	Route(ctx context.Context, cmd *types.Command) (*router.Result, error)
}

// Result is the outcome of resolving one utterance. ResponseText is always
// non-empty; provider failures degrade to a textual answer rather than
// propagating an error to the caller.
type Result struct {
	// ResponseText is the answer shown to the user.
	ResponseText string

	// ShouldOfferToSave is true when the answer came from the LLM as free
	// text and can be learned via Confirm.
	ShouldOfferToSave bool

	// Stage names the pipeline stage that produced the answer.
	Stage string
}

// Config holds the engine's tunables.
type Config struct {
	// SimilarityThreshold is the minimum cosine score for a semantic hit.
	SimilarityThreshold float64

	// SimilarityTopK bounds semantic results (the top hit answers).
	SimilarityTopK int
}

// Engine orchestrates the resolution pipeline.
type Engine struct {
	store      *knowledge.Store
	embedder   llm.EmbeddingGenerator
	generator  llm.ActionGenerator
	dispatcher CommandDispatcher
	entities   EntityLister
	pending    *pendingTable
	onLearned  func(prompt, response string)

	configMu sync.RWMutex
	config   Config
}

// Reconfigure applies new tunables at runtime (settings file reload).
func (e *Engine) Reconfigure(config Config) {
	if config.SimilarityThreshold == 0 {
		config.SimilarityThreshold = 0.75
	}
	if config.SimilarityTopK == 0 {
		config.SimilarityTopK = 1
	}
	e.configMu.Lock()
	e.config = config
	e.configMu.Unlock()
}

// OnLearned registers a callback invoked after a confirmed answer is
// persisted. Used to broadcast learn events; must not block.
func (e *Engine) OnLearned(fn func(prompt, response string)) {
	e.onLearned = fn
}

// New creates a resolution engine. entities may be nil when no registry is
// wired; the LLM prompt then reports an empty device list.
func New(store *knowledge.Store, embedder llm.EmbeddingGenerator, generator llm.ActionGenerator,
	dispatcher CommandDispatcher, entities EntityLister, config Config) *Engine {
	if config.SimilarityThreshold == 0 {
		config.SimilarityThreshold = 0.75
	}
	if config.SimilarityTopK == 0 {
		config.SimilarityTopK = 1
	}
	return &Engine{
		store:      store,
		embedder:   embedder,
		generator:  generator,
		dispatcher: dispatcher,
		entities:   entities,
		pending:    newPendingTable(),
		config:     config,
	}
}

// Resolve answers one utterance for the given session. It always returns a
// result with non-empty text; provider and transport failures degrade to a
// textual answer.
func (e *Engine) Resolve(ctx context.Context, sessionID, utterance string) *Result {
	normalized := knowledge.Normalize(utterance)
	if normalized == "" {
		return &Result{ResponseText: "No he entendido nada. ¿Puedes repetirlo?", Stage: StageExact}
	}

	if result := e.captureName(normalized); result != nil {
		return result
	}

	if response, ok := e.store.GetExact(normalized); ok {
		return &Result{ResponseText: e.substituteNames(response), Stage: StageExact}
	}

	if e.store.IsOutOfScope(normalized) {
		return &Result{
			ResponseText: "Lo siento, esa solicitud está fuera de mi alcance. Solo puedo ayudarte con los dispositivos de tu hogar y con preguntas sobre mí.",
			Stage:        StageOutOfScope,
		}
	}

	if response, ok := e.store.KeywordResponse(normalized); ok {
		return &Result{ResponseText: e.substituteNames(response), Stage: StageKeyword}
	}

	if result := e.resolveSemantic(ctx, normalized); result != nil {
		return result
	}

	return e.resolveLLM(ctx, sessionID, utterance, normalized)
}

// resolveSemantic runs the similarity stage. An embedding failure skips the
// stage rather than failing the resolution.
func (e *Engine) resolveSemantic(ctx context.Context, normalized string) *Result {
	query, err := e.embedder.Embed(ctx, normalized)
	if err != nil {
		log.Printf("Warning: embedding lookup failed, skipping semantic stage: %v", err)
		return nil
	}

	e.configMu.RLock()
	topK, threshold := e.config.SimilarityTopK, e.config.SimilarityThreshold
	e.configMu.RUnlock()

	matches := e.store.FindSimilar(query, types.PartitionAll, topK, threshold)
	if len(matches) == 0 {
		return nil
	}
	return &Result{ResponseText: e.substituteNames(matches[0].Response), Stage: StageSemantic}
}

// resolveLLM is the terminal stage: ask the LLM for a structured action and
// either dispatch the command it chose or return its text answer.
func (e *Engine) resolveLLM(ctx context.Context, sessionID, utterance, normalized string) *Result {
	prompt := e.buildPrompt(utterance)

	action, err := e.generator.GenerateAction(ctx, prompt)
	if err != nil {
		return &Result{ResponseText: degradedAnswer(err), Stage: StageLLMText}
	}

	switch action.ActionType {
	case types.ActionCommand:
		result, err := e.dispatcher.Route(ctx, action.Command)
		if err != nil {
			log.Printf("ERROR: command dispatch failed: %v", err)
			return &Result{
				ResponseText: fmt.Sprintf("Error al ejecutar comando: %v", err),
				Stage:        StageLLMCommand,
			}
		}
		return &Result{ResponseText: result.Message, Stage: StageLLMCommand}

	case types.ActionText:
		text := action.ResponseText
		if text == "" {
			text = "No pude generar una respuesta de texto."
		}
		e.pending.set(sessionID, types.PendingInteraction{Prompt: normalized, Response: text})
		return &Result{ResponseText: text, ShouldOfferToSave: true, Stage: StageLLMText}

	default:
		// Unreachable after Action.Validate, kept as a guard.
		return &Result{ResponseText: "La IA generó un tipo de acción desconocido.", Stage: StageLLMText}
	}
}

// degradedAnswer maps a provider failure to the textual answer surfaced to
// the user.
func degradedAnswer(err error) string {
	switch {
	case errors.Is(err, llm.ErrCircuitOpen):
		return "La IA no está disponible en este momento. Inténtalo de nuevo en unos segundos."
	case errors.Is(err, llm.ErrBadResponse):
		return "La IA generó una respuesta que no pude entender. Por favor, intenta de nuevo."
	default:
		return "No se pudo establecer conexión con la IA. Verifica tu conexión o la clave de API."
	}
}

// substituteNames expands the {ai_name} and {user_name} placeholders that
// seeded responses may carry.
func (e *Engine) substituteNames(response string) string {
	if strings.Contains(response, "{ai_name}") {
		response = strings.ReplaceAll(response, "{ai_name}", e.store.AssistantName())
	}
	if strings.Contains(response, "{user_name}") {
		name := e.store.UserName()
		if name == "" {
			name = "amigo"
		}
		response = strings.ReplaceAll(response, "{user_name}", name)
	}
	return response
}

// BackfillEmbeddings fetches embeddings for seeded entries that still lack
// one, up to limit entries. Intended to run in the background at startup;
// failures are logged and the remaining entries are left for the next run.
func (e *Engine) BackfillEmbeddings(ctx context.Context, limit int) {
	general, keywords := e.store.MissingEmbeddings(limit)
	if len(general)+len(keywords) == 0 {
		return
	}
	log.Printf("Backfilling embeddings for %d general entries and %d keywords", len(general), len(keywords))

	for _, prompt := range general {
		if ctx.Err() != nil {
			return
		}
		vec, err := e.embedder.Embed(ctx, prompt)
		if err != nil {
			log.Printf("Warning: embedding backfill stopped: %v", err)
			return
		}
		if err := e.store.SetGeneralEmbedding(prompt, vec); err != nil {
			log.Printf("Warning: failed to persist embedding for %q: %v", prompt, err)
		}
	}
	for _, kw := range keywords {
		if ctx.Err() != nil {
			return
		}
		vec, err := e.embedder.Embed(ctx, kw)
		if err != nil {
			log.Printf("Warning: embedding backfill stopped: %v", err)
			return
		}
		if err := e.store.SetKeywordEmbedding(kw, vec); err != nil {
			log.Printf("Warning: failed to persist embedding for %q: %v", kw, err)
		}
	}
}
