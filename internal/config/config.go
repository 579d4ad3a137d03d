// Package config provides configuration management for Hearth.
// It loads settings from environment variables with the HEARTH_ prefix
// and provides sensible defaults for all configuration options.
//
// An optional YAML settings file can supply values as well; environment
// variables always take precedence over the file, and defaults apply when
// neither source sets a value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Hearth gateway.
type Config struct {
	Server    ServerConfig
	Broker    BrokerConfig
	Knowledge KnowledgeConfig
	Provider  ProviderConfig
	Security  SecurityConfig
	User      UserConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6380)
	Host string // Server host (default: 127.0.0.1)
}

// BrokerConfig contains pub/sub broker connection settings.
type BrokerConfig struct {
	URL       string // Broker URL (default: nats://127.0.0.1:4222)
	Username  string // Broker username (optional)
	Password  string // Broker password (optional)
	ClientID  string // Client identifier announced to the broker
	BaseTopic string // Discovery base topic (default: homeassistant)
	Vendor    string // Vendor-native discovery namespace (default: tasmota)
}

// KnowledgeConfig contains knowledge store paths and matching parameters.
type KnowledgeConfig struct {
	DataPath            string  // Directory for state/seed files (default: ./knowledge)
	SimilarityThreshold float64 // Minimum cosine similarity for a semantic hit (default: 0.75)
	SimilarityTopK      int     // Number of semantic candidates returned (default: 1)
}

// ProviderConfig contains external model endpoints and call policy.
type ProviderConfig struct {
	EmbeddingURL string        // Embedding service base URL (default: http://localhost:5001)
	LLMURL       string        // LLM service base URL
	LLMModel     string        // Model name sent to the LLM service (default: gemini-2.0-flash)
	APIKey       string        // API key for the LLM service
	Timeout      time.Duration // Per-attempt timeout (default: 30s)
	RetryCount   int           // Attempts on connection-level failure (default: 3)
	RetryDelay   time.Duration // Fixed delay between attempts (default: 2s)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string // Security mode: development, production (default: development)
	APIToken     string // API authentication token
}

// UserConfig contains user-facing settings that may also live in the
// persisted knowledge state (assistant name, user name).
type UserConfig struct {
	AssistantName string // Display name the assistant answers to (default: Neo)
	UserName      string // Remembered user name
}

// fileConfig mirrors the YAML settings file layout. All fields are optional;
// zero values mean "not set" and never override an environment variable.
type fileConfig struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`
	Broker struct {
		URL       string `yaml:"url"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
		ClientID  string `yaml:"client_id"`
		BaseTopic string `yaml:"base_topic"`
		Vendor    string `yaml:"vendor"`
	} `yaml:"broker"`
	Knowledge struct {
		DataPath            string  `yaml:"data_path"`
		SimilarityThreshold float64 `yaml:"similarity_threshold"`
		SimilarityTopK      int     `yaml:"similarity_top_k"`
	} `yaml:"knowledge"`
	Provider struct {
		EmbeddingURL string `yaml:"embedding_url"`
		LLMURL       string `yaml:"llm_url"`
		LLMModel     string `yaml:"llm_model"`
		APIKey       string `yaml:"api_key"`
		Timeout      string `yaml:"timeout"`
		RetryCount   int    `yaml:"retry_count"`
		RetryDelay   string `yaml:"retry_delay"`
	} `yaml:"provider"`
	Security struct {
		SecurityMode string `yaml:"security_mode"`
		APIToken     string `yaml:"api_token"`
	} `yaml:"security"`
	User struct {
		AssistantName string `yaml:"assistant_name"`
		UserName      string `yaml:"user_name"`
	} `yaml:"user"`
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the HEARTH_ prefix.
func LoadConfig() (*Config, error) {
	return LoadConfigFromFile("")
}

// LoadConfigFromFile loads configuration from environment variables and, when
// path is non-empty and the file exists, from a YAML settings file. Precedence
// is environment variable > file value > default. A missing file is not an
// error; a malformed file is.
func LoadConfigFromFile(path string) (*Config, error) {
	var fc fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("config: failed to parse settings file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: failed to read settings file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("HEARTH_PORT", fc.Server.Port, 6380),
			Host: getEnv("HEARTH_HOST", fc.Server.Host, "127.0.0.1"),
		},
		Broker: BrokerConfig{
			URL:       getEnv("HEARTH_BROKER_URL", fc.Broker.URL, "nats://127.0.0.1:4222"),
			Username:  getEnv("HEARTH_BROKER_USERNAME", fc.Broker.Username, ""),
			Password:  getEnv("HEARTH_BROKER_PASSWORD", fc.Broker.Password, ""),
			ClientID:  getEnv("HEARTH_CLIENT_ID", fc.Broker.ClientID, "hearth-gateway"),
			BaseTopic: getEnv("HEARTH_BASE_TOPIC", fc.Broker.BaseTopic, "homeassistant"),
			Vendor:    getEnv("HEARTH_VENDOR", fc.Broker.Vendor, "tasmota"),
		},
		Knowledge: KnowledgeConfig{
			DataPath:            getEnv("HEARTH_DATA_PATH", fc.Knowledge.DataPath, "./knowledge"),
			SimilarityThreshold: getEnvFloat("HEARTH_SIMILARITY_THRESHOLD", fc.Knowledge.SimilarityThreshold, 0.75),
			SimilarityTopK:      getEnvInt("HEARTH_SIMILARITY_TOP_K", fc.Knowledge.SimilarityTopK, 1),
		},
		Provider: ProviderConfig{
			EmbeddingURL: getEnv("HEARTH_EMBEDDING_URL", fc.Provider.EmbeddingURL, "http://localhost:5001"),
			LLMURL:       getEnv("HEARTH_LLM_URL", fc.Provider.LLMURL, "https://generativelanguage.googleapis.com"),
			LLMModel:     getEnv("HEARTH_LLM_MODEL", fc.Provider.LLMModel, "gemini-2.0-flash"),
			APIKey:       getEnv("HEARTH_API_KEY", fc.Provider.APIKey, ""),
			Timeout:      getEnvDuration("HEARTH_PROVIDER_TIMEOUT", fc.Provider.Timeout, 30*time.Second),
			RetryCount:   getEnvInt("HEARTH_PROVIDER_RETRIES", fc.Provider.RetryCount, 3),
			RetryDelay:   getEnvDuration("HEARTH_PROVIDER_RETRY_DELAY", fc.Provider.RetryDelay, 2*time.Second),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("HEARTH_SECURITY_MODE", fc.Security.SecurityMode, "development"),
			APIToken:     getEnv("HEARTH_API_TOKEN", fc.Security.APIToken, ""),
		},
		User: UserConfig{
			AssistantName: getEnv("HEARTH_ASSISTANT_NAME", fc.User.AssistantName, "Neo"),
			UserName:      getEnv("HEARTH_USER_NAME", fc.User.UserName, ""),
		},
	}

	if cfg.Knowledge.SimilarityThreshold < 0 || cfg.Knowledge.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("config: similarity threshold %v out of range [0,1]",
			cfg.Knowledge.SimilarityThreshold)
	}

	return cfg, nil
}

// getEnv retrieves a string setting: env var first, then file value, then default.
func getEnv(key, fileValue, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if fileValue != "" {
		return fileValue
	}
	return defaultValue
}

// getEnvInt retrieves an integer setting with env > file > default precedence.
// An env var that does not parse as an integer falls through to the file value.
func getEnvInt(key string, fileValue, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	if fileValue != 0 {
		return fileValue
	}
	return defaultValue
}

// getEnvFloat retrieves a float setting with env > file > default precedence.
func getEnvFloat(key string, fileValue, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	if fileValue != 0 {
		return fileValue
	}
	return defaultValue
}

// getEnvDuration retrieves a duration setting with env > file > default
// precedence. Values use Go duration syntax ("30s", "2m").
func getEnvDuration(key, fileValue string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	if fileValue != "" {
		if d, err := time.ParseDuration(fileValue); err == nil {
			return d
		}
	}
	return defaultValue
}
