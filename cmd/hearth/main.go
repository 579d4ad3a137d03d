// Command hearth runs the conversational home-automation gateway: it watches
// discovery traffic on the bus, routes device commands, and answers free-text
// utterances against the knowledge store with an LLM fallback.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrypster/hearth/internal/config"
	"github.com/scrypster/hearth/internal/engine"
	"github.com/scrypster/hearth/internal/knowledge"
	"github.com/scrypster/hearth/internal/llm"
	"github.com/scrypster/hearth/internal/registry"
	"github.com/scrypster/hearth/internal/router"
	"github.com/scrypster/hearth/internal/server"
	"github.com/scrypster/hearth/internal/transport"
	"github.com/scrypster/hearth/pkg/types"
	"github.com/scrypster/hearth/web/handlers"
)

func main() {
	settingsPath := flag.String("settings", "", "Path to settings file (optional, env vars take precedence)")
	flag.Parse()

	// If no settings path specified, use the default when it exists
	if *settingsPath == "" {
		defaultPath := "config/hearth.yaml"
		if _, err := os.Stat(defaultPath); err == nil {
			*settingsPath = defaultPath
			log.Printf("Using settings file: %s", defaultPath)
		}
	}

	var cfg *config.Config
	var err error
	if *settingsPath != "" {
		cfg, err = config.LoadConfigFromFile(*settingsPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Knowledge store
	store, err := knowledge.NewStore(cfg.Knowledge.DataPath)
	if err != nil {
		log.Fatalf("Failed to initialize knowledge store: %v", err)
	}
	log.Printf("Knowledge store ready (%d general, %d learned)", store.GeneralCount(), store.LearnedCount())
	if cfg.User.AssistantName != "" && store.AssistantName() == knowledge.DefaultAssistantName {
		if err := store.SetAssistantName(cfg.User.AssistantName); err != nil {
			log.Printf("Warning: failed to apply configured assistant name: %v", err)
		}
	}

	// Bus connection
	bus, err := transport.Connect(transport.Options{
		URL:        cfg.Broker.URL,
		Username:   cfg.Broker.Username,
		Password:   cfg.Broker.Password,
		ClientName: cfg.Broker.ClientID,
	})
	if err != nil {
		log.Fatalf("Failed to connect to broker at %s: %v", cfg.Broker.URL, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WebSocket hub: accept same-host origins for the configured port. Event
	// sources are wired before their loops start; the hub buffers broadcasts
	// until the server runs it.
	wsHub := handlers.NewWebSocketHub([]string{
		fmt.Sprintf("localhost:%d", cfg.Server.Port),
		fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
	})

	// Discovery registry on the bus network loop
	reg := registry.New(cfg.Broker.BaseTopic, cfg.Broker.Vendor)
	reg.OnDiscovered(func(rec *types.EntityRecord) {
		wsHub.Broadcast(handlers.NewEvent(handlers.EventEntityDiscovered, map[string]string{
			"entity_id":     rec.EntityID,
			"friendly_name": rec.FriendlyName,
			"domain":        rec.Domain,
		}))
	})
	if err := reg.Start(ctx, bus); err != nil {
		log.Fatalf("Failed to start discovery registry: %v", err)
	}

	// Command router and providers
	rtr := router.New(bus, reg, cfg.Broker.BaseTopic)

	embedder := llm.NewEmbedderClient(llm.EmbedderConfig{
		BaseURL: cfg.Provider.EmbeddingURL,
		Timeout: cfg.Provider.Timeout,
		Retry:   llm.RetryPolicy{Attempts: cfg.Provider.RetryCount, Delay: cfg.Provider.RetryDelay},
	})
	generator := llm.NewGeminiClient(llm.GeminiConfig{
		BaseURL: cfg.Provider.LLMURL,
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.LLMModel,
		Timeout: cfg.Provider.Timeout,
		Retry:   llm.RetryPolicy{Attempts: cfg.Provider.RetryCount, Delay: cfg.Provider.RetryDelay},
	})

	// Resolution engine
	eng := engine.New(store, embedder, generator, rtr, reg, engine.Config{
		SimilarityThreshold: cfg.Knowledge.SimilarityThreshold,
		SimilarityTopK:      cfg.Knowledge.SimilarityTopK,
	})

	eng.OnLearned(func(prompt, response string) {
		wsHub.Broadcast(handlers.NewEvent(handlers.EventAnswerLearned, map[string]string{
			"prompt":   prompt,
			"response": response,
		}))
	})

	// Backfill missing seed embeddings in the background
	go eng.BackfillEmbeddings(ctx, 100)

	// HTTP server
	addr := server.Start(ctx, cfg, eng, rtr, reg, store, func() string {
		return bus.Status().String()
	}, wsHub)
	log.Printf("Hearth gateway running at http://%s", addr)

	// Reload tunables when the settings file changes
	if *settingsPath != "" {
		stop, err := config.Watch(*settingsPath, func(updated *config.Config) {
			eng.Reconfigure(engine.Config{
				SimilarityThreshold: updated.Knowledge.SimilarityThreshold,
				SimilarityTopK:      updated.Knowledge.SimilarityTopK,
			})
			log.Printf("Settings reloaded (similarity threshold %.2f)", updated.Knowledge.SimilarityThreshold)
		})
		if err != nil {
			log.Printf("Warning: settings watcher unavailable: %v", err)
		} else {
			defer stop()
		}
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := bus.Close(shutdownCtx); err != nil {
		log.Printf("Error closing bus connection: %v", err)
	}
	if err := store.Persist(); err != nil {
		log.Printf("Error persisting knowledge store: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
}
