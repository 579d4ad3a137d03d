// Package handlers provides the HTTP handlers and middleware for the Hearth
// gateway API.
package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/scrypster/hearth/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ResolveRequest is the request format for POST /api/resolve.
type ResolveRequest struct {
	Utterance string `json:"utterance"`
	SessionID string `json:"session_id,omitempty"`
}

// ResolveResponse is the response format for POST /api/resolve.
type ResolveResponse struct {
	ResponseText      string `json:"response_text"`
	ShouldOfferToSave bool   `json:"should_offer_to_save"`
	SessionID         string `json:"session_id"`
}

// ConfirmRequest is the request format for POST /api/confirm.
type ConfirmRequest struct {
	SessionID string `json:"session_id"`
	Choice    string `json:"choice"`
}

// ConfirmResponse is the response format for POST /api/confirm.
type ConfirmResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ResetResponse is the response format for POST /api/reset.
type ResetResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// DispatchRequest is the request format for POST /api/dispatch. The payload
// accepts either a JSON object or a JSON-encoded string.
type DispatchRequest struct {
	Domain   string               `json:"domain"`
	Service  string               `json:"service"`
	EntityID string               `json:"entity_id"`
	Payload  types.CommandPayload `json:"payload,omitempty"`
}

// DispatchResponse is the response format for POST /api/dispatch.
type DispatchResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Topic   string `json:"topic,omitempty"`
	Tier    string `json:"tier,omitempty"`
}

// EntityResponse is one discovered entity in GET /api/entities.
type EntityResponse struct {
	EntityID     string `json:"entity_id"`
	Domain       string `json:"domain"`
	FriendlyName string `json:"friendly_name"`
	CommandTopic string `json:"command_topic,omitempty"`
	StateTopic   string `json:"state_topic,omitempty"`
	VendorNative bool   `json:"vendor_native"`
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	Entities         int    `json:"entities"`
	GeneralKnowledge int    `json:"general_knowledge"`
	LearnedResponses int    `json:"learned_responses"`
	PendingSessions  int    `json:"pending_sessions"`
	BusStatus        string `json:"bus_status"`
	AssistantName    string `json:"assistant_name"`
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent, nothing else to write.
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{"error": err.Error()}
	}
	respondJSON(w, statusCode, errResp)
}
