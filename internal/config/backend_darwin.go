//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultsDomain = "com.fluxmcp.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "fluxmcp")
	}
	return "fluxmcp-data"
}

func apiKeyHint() string {
	return " or run `fluxmcp config set provider.api_key <key>` (stored in the login Keychain)"
}

// defaultsStore keeps settings in the user defaults domain, typed with the
// matching `defaults write` flag so they read back cleanly in `defaults read`.
type defaultsStore struct {
	domain string
}

func newPlatformBackend() settingsStore {
	return defaultsStore{domain: defaultsDomain}
}

// missingKey reports whether err is `defaults` exiting 1 for an absent key.
func missingKey(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}

func (s defaultsStore) Lookup(key string) (string, bool, error) {
	out, err := exec.Command("defaults", "read", s.domain, key).CombinedOutput()
	raw := strings.TrimSpace(string(out))
	if err != nil {
		if missingKey(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, raw)
	}
	return raw, true, nil
}

func (s defaultsStore) Save(key string, v any) error {
	var flag, text string
	switch val := v.(type) {
	case int:
		flag, text = "-int", strconv.Itoa(val)
	case float64:
		flag, text = "-float", strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		flag, text = "-bool", strconv.FormatBool(val)
	case time.Duration:
		flag, text = "-string", val.String()
	default:
		flag, text = "-string", fmt.Sprint(val)
	}
	if out, err := exec.Command("defaults", "write", s.domain, key, flag, text).CombinedOutput(); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s defaultsStore) Remove(key string) error {
	err := exec.Command("defaults", "delete", s.domain, key).Run()
	if err != nil && !missingKey(err) {
		return fmt.Errorf("defaults delete %s: %w", key, err)
	}
	return nil
}
