package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/hearth/internal/config"
	"github.com/scrypster/hearth/internal/engine"
	"github.com/scrypster/hearth/internal/router"
	"github.com/scrypster/hearth/pkg/types"
	"github.com/scrypster/hearth/web/handlers"
)

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, sessionID, utterance string) *engine.Result {
	return &engine.Result{ResponseText: "hola"}
}

func (stubResolver) Confirm(ctx context.Context, sessionID, choice string) (*engine.ConfirmResult, error) {
	return &engine.ConfirmResult{Status: "discarded", Message: "ok"}, nil
}

func (stubResolver) PendingCount() int { return 0 }

type stubDispatcher struct{}

func (stubDispatcher) Route(ctx context.Context, cmd *types.Command) (*router.Result, error) {
	return &router.Result{Tier: router.TierGeneric, Topic: "homeassistant/services/light/turn_on", Message: "ok"}, nil
}

type stubDirectory struct{}

func (stubDirectory) All() []*types.EntityRecord { return nil }
func (stubDirectory) Count() int                 { return 0 }

type stubKnowledge struct{}

func (stubKnowledge) GeneralCount() int     { return 0 }
func (stubKnowledge) LearnedCount() int     { return 0 }
func (stubKnowledge) AssistantName() string { return "Neo" }
func (stubKnowledge) ClearAll() error       { return nil }

func startTestServer(t *testing.T) (string, *handlers.WebSocketHub, context.CancelFunc) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Security.SecurityMode = "development"

	ctx, cancel := context.WithCancel(context.Background())
	wsHub := handlers.NewWebSocketHub(nil)
	addr := Start(ctx, cfg, stubResolver{}, stubDispatcher{}, stubDirectory{}, stubKnowledge{},
		func() string { return "connected" }, wsHub)
	return addr, wsHub, cancel
}

func TestServer_HealthAndStats(t *testing.T) {
	addr, _, cancel := startTestServer(t)
	defer cancel()

	resp, err := http.Get(fmt.Sprintf("http://%s/api/health", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, err = http.Get(fmt.Sprintf("http://%s/api/stats", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ResolveRoundTrip(t *testing.T) {
	addr, _, cancel := startTestServer(t)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"utterance": "hola"})
	resp, err := http.Post(fmt.Sprintf("http://%s/api/resolve", addr), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "hola", result["response_text"])
	assert.NotEmpty(t, result["session_id"])
}

func TestServer_MethodNotAllowed(t *testing.T) {
	addr, _, cancel := startTestServer(t)
	defer cancel()

	resp, err := http.Get(fmt.Sprintf("http://%s/api/resolve", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_ResetRoute(t *testing.T) {
	addr, _, cancel := startTestServer(t)
	defer cancel()

	resp, err := http.Post(fmt.Sprintf("http://%s/api/reset", addr), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(fmt.Sprintf("http://%s/api/reset", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_RunsCallerOwnedHub(t *testing.T) {
	_, hub, cancel := startTestServer(t)
	defer cancel()

	// The hub is constructed (and its event sources wired) before Start;
	// Start must run its loop so broadcasts reach clients.
	client := &handlers.MockClient{SendChan: make(chan []byte, 1)}
	hub.Register(client)
	hub.Broadcast(handlers.NewEvent(handlers.EventEntityDiscovered, map[string]string{"entity_id": "light.sala"}))

	select {
	case msg := <-client.SendChan:
		assert.Contains(t, string(msg), "entity_discovered")
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast did not reach the client")
	}
}

func TestServer_GracefulShutdown(t *testing.T) {
	addr, _, cancel := startTestServer(t)
	cancel()

	assert.Eventually(t, func() bool {
		_, err := http.Get(fmt.Sprintf("http://%s/api/health", addr))
		return err != nil
	}, 2*time.Second, 50*time.Millisecond)
}
