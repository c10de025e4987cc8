package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrNoRecognizedFields is returned by Update when none of the provided keys
// are known configuration keys.
var ErrNoRecognizedFields = errors.New("config: no recognized fields in update")

// Keys that Update accepts. Everything the Config struct reads can be set.
var knownKeys = map[string]bool{
	"CHATWOOT_BASE_URL":   true,
	"CHATWOOT_API_TOKEN":  true,
	"CHATWOOT_ACCOUNT_ID": true,
	"OLLAMA_ENDPOINT":     true,
	"LLM_MODEL":           true,
	"SYSTEM_MESSAGE":      true,
	"PORT":                true,
	"HISTORY_ENABLED":     true,
	"HISTORY_LIMIT":       true,
	"INFERENCE_TIMEOUT":   true,
	"PLATFORM_TIMEOUT":    true,
	"LOG_LEVEL":           true,
}

// secretKeys are masked in Values output.
var secretKeys = map[string]bool{
	"CHATWOOT_API_TOKEN": true,
}

// Store is the env-file backed configuration source. Get re-reads the file on
// every call so administrative updates take effect on the next request
// without a restart. Updates are serialized; reads may interleave freely
// because each Get builds a fresh Config value.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore creates a store backed by the env file at path. The file is
// allowed to be absent; Get then falls back to process environment and
// defaults.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Get returns the latest configuration, re-reading the backing file.
func (s *Store) Get() (*Config, error) {
	values := environmentMap()
	if fileVals, err := godotenv.Read(s.path); err == nil {
		for k, v := range fileVals {
			values[k] = v
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read env file %s: %w", s.path, err)
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: values}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Update merges the recognized fields into the backing file, leaving other
// keys untouched, and returns the resulting configuration. Unrecognized keys
// are ignored; if nothing remains the update fails with ErrNoRecognizedFields.
func (s *Store) Update(fields map[string]string) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := make(map[string]string)
	for k, v := range fields {
		key := strings.ToUpper(strings.TrimSpace(k))
		if knownKeys[key] {
			accepted[key] = v
		}
	}
	if len(accepted) == 0 {
		return nil, ErrNoRecognizedFields
	}

	current, err := godotenv.Read(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read env file %s: %w", s.path, err)
		}
		current = make(map[string]string)
	}
	for k, v := range accepted {
		current[k] = v
	}

	if err := s.writeFile(current); err != nil {
		return nil, err
	}
	s.logger.Info("configuration updated", "keys", sortedKeys(accepted), "file", s.path)

	return s.Get()
}

// Values returns the effective key-value view for display, with secrets
// masked. Keys are returned sorted for stable output.
func (s *Store) Values() ([]string, map[string]string, error) {
	cfg, err := s.Get()
	if err != nil {
		return nil, nil, err
	}
	vals := map[string]string{
		"CHATWOOT_BASE_URL":   cfg.BaseURL,
		"CHATWOOT_API_TOKEN":  cfg.APIToken,
		"CHATWOOT_ACCOUNT_ID": cfg.AccountID,
		"OLLAMA_ENDPOINT":     cfg.InferenceEndpoint,
		"LLM_MODEL":           cfg.Model,
		"SYSTEM_MESSAGE":      cfg.SystemMessage,
		"PORT":                fmt.Sprintf("%d", cfg.Port),
		"HISTORY_ENABLED":     fmt.Sprintf("%t", cfg.HistoryEnabled),
		"HISTORY_LIMIT":       fmt.Sprintf("%d", cfg.HistoryLimit),
		"INFERENCE_TIMEOUT":   cfg.InferenceTimeout.String(),
		"PLATFORM_TIMEOUT":    cfg.PlatformTimeout.String(),
		"LOG_LEVEL":           cfg.LogLevel,
	}
	for k := range vals {
		if secretKeys[k] && vals[k] != "" {
			vals[k] = MaskSecret(vals[k])
		}
	}
	return sortedKeys(vals), vals, nil
}

// writeFile replaces the backing file atomically: marshal to a temp file in
// the same directory, then rename over the target. Get stays lock-free; a
// concurrent reader sees either the old file or the new one, never a
// truncated in-between state.
func (s *Store) writeFile(values map[string]string) error {
	content, err := godotenv.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal env file: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".env-*")
	if err != nil {
		return fmt.Errorf("write env file %s: %w", s.path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(content + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write env file %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write env file %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write env file %s: %w", s.path, err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write env file %s: %w", s.path, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write env file %s: %w", s.path, err)
	}
	return nil
}

func environmentMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
