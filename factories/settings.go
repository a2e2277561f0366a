package factories

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// AssistantAPIConfig describes an HTTP endpoint that returns an
// AssistantConfig JSON payload. Called per-call so each session can run a
// different assistant.
type AssistantAPIConfig struct {
	URL string `json:"url"`
	// Method defaults to POST when Body is set, GET otherwise.
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

var assistantAPIClient = &http.Client{Timeout: 10 * time.Second}

// Fetch calls the configured endpoint and parses the response as an
// AssistantConfig.
func (c *AssistantAPIConfig) Fetch() (AssistantConfig, error) {
	method := c.Method
	if method == "" {
		if len(c.Body) > 0 {
			method = http.MethodPost
		} else {
			method = http.MethodGet
		}
	}

	req, err := http.NewRequest(method, c.URL, bytes.NewReader(c.Body))
	if err != nil {
		return AssistantConfig{}, fmt.Errorf("assistant api: %w", err)
	}
	if len(c.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := assistantAPIClient.Do(req)
	if err != nil {
		return AssistantConfig{}, fmt.Errorf("assistant api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return AssistantConfig{}, fmt.Errorf("assistant api: unexpected status %d from %s", resp.StatusCode, c.URL)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return AssistantConfig{}, fmt.Errorf("assistant api: read response: %w", err)
	}
	return AssistantConfigFromJSON(buf.Bytes())
}

// DatabaseConfig selects the call-record store. An empty DSN disables the
// Postgres store; records then go straight to the spool directory.
type DatabaseConfig struct {
	DSN string `json:"dsn,omitempty"`
}

// RoomConfig points at the external access-token service.
type RoomConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
}

// SettingsConfig is the top-level service config loaded from settings.json.
type SettingsConfig struct {
	// ListenAddr is where the websocket endpoint binds. Empty means :8080.
	ListenAddr string `json:"listen_addr,omitempty"`
	// ConnectTimeout bounds a session's Connecting state. Zero means 15s.
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`
	// SpoolDir receives call records Postgres could not take. Empty means
	// "spool" under the working directory.
	SpoolDir string `json:"spool_dir,omitempty"`
	// LogDir receives per-session .jsonl log files. Empty means "logs".
	LogDir string `json:"log_dir,omitempty"`

	Database DatabaseConfig `json:"database"`
	Room     *RoomConfig    `json:"room,omitempty"`

	// AssistantAPI, when set, is called per-call to fetch the assistant
	// config dynamically.
	AssistantAPI *AssistantAPIConfig `json:"assistant_api,omitempty"`
	// Assistant provides an inline assistant config directly in
	// settings.json.
	Assistant *AssistantConfig `json:"assistant,omitempty"`
}

// DefaultSettingsConfig returns a SettingsConfig with service defaults.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		ListenAddr:     ":8080",
		ConnectTimeout: 15 * time.Second,
		SpoolDir:       "spool",
		LogDir:         "logs",
	}
}

// SettingsConfigFromJSON parses a JSON blob into a SettingsConfig. Absent
// fields keep their defaults.
func SettingsConfigFromJSON(data []byte) (SettingsConfig, error) {
	cfg := DefaultSettingsConfig()

	var raw struct {
		ListenAddr     string              `json:"listen_addr,omitempty"`
		ConnectTimeout time.Duration       `json:"connect_timeout,omitempty"`
		SpoolDir       string              `json:"spool_dir,omitempty"`
		LogDir         string              `json:"log_dir,omitempty"`
		Database       DatabaseConfig      `json:"database"`
		Room           *RoomConfig         `json:"room,omitempty"`
		AssistantAPI   *AssistantAPIConfig `json:"assistant_api,omitempty"`
		Assistant      json.RawMessage     `json:"assistant,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}

	if raw.ListenAddr != "" {
		cfg.ListenAddr = raw.ListenAddr
	}
	if raw.ConnectTimeout != 0 {
		cfg.ConnectTimeout = raw.ConnectTimeout
	}
	if raw.SpoolDir != "" {
		cfg.SpoolDir = raw.SpoolDir
	}
	if raw.LogDir != "" {
		cfg.LogDir = raw.LogDir
	}
	cfg.Database = raw.Database
	cfg.Room = raw.Room
	cfg.AssistantAPI = raw.AssistantAPI

	if len(raw.Assistant) > 0 {
		assistant, err := AssistantConfigFromJSON(raw.Assistant)
		if err != nil {
			return SettingsConfig{}, fmt.Errorf("settings: %w", err)
		}
		cfg.Assistant = &assistant
	}
	return cfg, nil
}

// SettingsConfigFromFile reads and parses a SettingsConfig from a JSON file.
func SettingsConfigFromFile(path string) (SettingsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettingsConfig(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsConfigFromJSON(data)
}

// ResolveAssistant returns the assistant config for one call, preferring the
// per-call API when configured.
func (c SettingsConfig) ResolveAssistant() (AssistantConfig, error) {
	if c.AssistantAPI != nil {
		return c.AssistantAPI.Fetch()
	}
	if c.Assistant != nil {
		return *c.Assistant, nil
	}
	return AssistantConfig{}, fmt.Errorf("settings: no assistant configured")
}
