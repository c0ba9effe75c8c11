//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// xdgDir resolves an XDG base directory, falling back to fallback under $HOME.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "fluxmcp")
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "fluxmcp", "config.json")
}

func apiKeyHint() string {
	return fmt.Sprintf(" or run `fluxmcp config set provider.api_key <key>` (stored in %s)", secretsFilePath())
}

// jsonStore keeps settings as one flat JSON object. Numbers and booleans are
// stored natively; durations are stored in their String form.
type jsonStore struct {
	path   string
	values map[string]any
}

func newPlatformBackend() settingsStore {
	s := &jsonStore{path: configFilePath(), values: make(map[string]any)}
	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", s.path, err)
	default:
		if err := json.Unmarshal(data, &s.values); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", s.path, err)
			s.values = make(map[string]any)
		}
	}
	return s
}

func (s *jsonStore) Lookup(key string) (string, bool, error) {
	v, ok := s.values[key]
	if !ok {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true, nil
	case bool:
		return strconv.FormatBool(val), true, nil
	default:
		return "", true, fmt.Errorf("%s holds a %T, want a scalar", key, v)
	}
}

func (s *jsonStore) Save(key string, v any) error {
	if d, ok := v.(time.Duration); ok {
		v = d.String()
	}
	s.values[key] = v
	return s.flush()
}

func (s *jsonStore) Remove(key string) error {
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flush()
}

func (s *jsonStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
