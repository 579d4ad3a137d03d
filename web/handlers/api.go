package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/scrypster/hearth/internal/engine"
	"github.com/scrypster/hearth/internal/router"
	"github.com/scrypster/hearth/pkg/types"
)

// Resolver answers utterances and handles the confirm-save workflow.
type Resolver interface {
	Resolve(ctx context.Context, sessionID, utterance string) *engine.Result
	Confirm(ctx context.Context, sessionID, choice string) (*engine.ConfirmResult, error)
	PendingCount() int
}

// Dispatcher routes a logical command to the wire.
type Dispatcher interface {
	Route(ctx context.Context, cmd *types.Command) (*router.Result, error)
}

// EntityDirectory exposes the discovered-entity snapshot.
type EntityDirectory interface {
	All() []*types.EntityRecord
	Count() int
}

// KnowledgeStore exposes the store operations the API surfaces: counters for
// /api/stats and the wipe behind /api/reset.
type KnowledgeStore interface {
	GeneralCount() int
	LearnedCount() int
	AssistantName() string
	ClearAll() error
}

// APIHandlers holds the gateway API endpoints.
type APIHandlers struct {
	resolver   Resolver
	dispatcher Dispatcher
	entities   EntityDirectory
	knowledge  KnowledgeStore
	busStatus  func() string
}

// NewAPIHandlers creates the API handler set. busStatus may be nil, in which
// case /api/stats reports "unknown".
func NewAPIHandlers(resolver Resolver, dispatcher Dispatcher, entities EntityDirectory,
	knowledge KnowledgeStore, busStatus func() string) *APIHandlers {
	return &APIHandlers{
		resolver:   resolver,
		dispatcher: dispatcher,
		entities:   entities,
		knowledge:  knowledge,
		busStatus:  busStatus,
	}
}

// Resolve handles POST /api/resolve - answer a free-text utterance.
// When the request carries no session id, one is generated and returned so
// the client can confirm a save offer later.
func (h *APIHandlers) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Utterance == "" {
		respondError(w, http.StatusBadRequest, "utterance is required", nil)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	result := h.resolver.Resolve(r.Context(), sessionID, req.Utterance)
	respondJSON(w, http.StatusOK, ResolveResponse{
		ResponseText:      result.ResponseText,
		ShouldOfferToSave: result.ShouldOfferToSave,
		SessionID:         sessionID,
	})
}

// Confirm handles POST /api/confirm - save or discard a pending answer.
func (h *APIHandlers) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required", nil)
		return
	}

	result, err := h.resolver.Confirm(r.Context(), req.SessionID, req.Choice)
	if err != nil {
		if errors.Is(err, engine.ErrNoPending) {
			respondError(w, http.StatusNotFound, "no pending interaction for session", err)
			return
		}
		respondError(w, http.StatusBadRequest, "confirm failed", err)
		return
	}
	respondJSON(w, http.StatusOK, ConfirmResponse{Status: result.Status, Message: result.Message})
}

// Dispatch handles POST /api/dispatch - a thin wrapper over the command
// router. Routing failures come back as success=false with a reason, not as
// an HTTP error.
func (h *APIHandlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	cmd := &types.Command{
		Domain:   req.Domain,
		Service:  req.Service,
		EntityID: req.EntityID,
		Payload:  req.Payload,
	}
	if err := cmd.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid command", err)
		return
	}

	result, err := h.dispatcher.Route(r.Context(), cmd)
	if err != nil {
		respondJSON(w, http.StatusOK, DispatchResponse{Success: false, Message: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, DispatchResponse{
		Success: true,
		Message: result.Message,
		Topic:   result.Topic,
		Tier:    result.Tier.String(),
	})
}

// ListEntities handles GET /api/entities - the discovered-entity snapshot.
func (h *APIHandlers) ListEntities(w http.ResponseWriter, r *http.Request) {
	records := h.entities.All()
	response := make([]EntityResponse, 0, len(records))
	for _, rec := range records {
		response = append(response, EntityResponse{
			EntityID:     rec.EntityID,
			Domain:       rec.Domain,
			FriendlyName: rec.FriendlyName,
			CommandTopic: rec.CommandTopic,
			StateTopic:   rec.StateTopic,
			VendorNative: rec.Vendor != nil,
		})
	}
	respondJSON(w, http.StatusOK, response)
}

// Reset handles POST /api/reset - wipe the learned and general partitions and
// reload the seed files. The discovered-entity registry is untouched.
func (h *APIHandlers) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.knowledge.ClearAll(); err != nil {
		respondError(w, http.StatusInternalServerError, "reset failed", err)
		return
	}
	respondJSON(w, http.StatusOK, ResetResponse{
		Status:  "reset",
		Message: "Memoria reiniciada. Mis conocimientos han vuelto al estado inicial.",
	})
}

// GetStats handles GET /api/stats.
func (h *APIHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	status := "unknown"
	if h.busStatus != nil {
		status = h.busStatus()
	}
	respondJSON(w, http.StatusOK, StatsResponse{
		Entities:         h.entities.Count(),
		GeneralKnowledge: h.knowledge.GeneralCount(),
		LearnedResponses: h.knowledge.LearnedCount(),
		PendingSessions:  h.resolver.PendingCount(),
		BusStatus:        status,
		AssistantName:    h.knowledge.AssistantName(),
	})
}

// Health handles GET /api/health - liveness, no auth required.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","version":"1.0.0"}`))
}
