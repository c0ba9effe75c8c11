package config

import (
	"fmt"
	"time"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secret values are reported only as set or unset.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		value := fmt.Sprintf("%v", s.extract(cfg))
		if d, ok := s.extract(cfg).(time.Duration); ok {
			value = d.String()
		}
		if s.secret {
			value = "(unset)"
			if s.extract(cfg) != "" {
				value = "(set)"
			}
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  value,
		})
	}
	return result
}

// SetKey validates value and writes it to the platform settings store. Secret
// keys go to the platform secret store instead and never touch the config file.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), platformKeychain{}, key, value)
}

func setKeyWith(st settingsStore, kc keychain, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s value for %s: %w", s.typeName(), key, err)
	}
	if s.secret {
		if err := kc.Set(secretService, s.account, value); err != nil {
			return fmt.Errorf("storing secret %s: %w", key, err)
		}
		return nil
	}
	return st.Save(key, v)
}

// UnsetKey removes a persisted value so the default (or environment) applies again.
func UnsetKey(key string) error {
	return unsetKeyWith(newPlatformBackend(), platformKeychain{}, key)
}

func unsetKeyWith(st settingsStore, kc keychain, key string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		if err := kc.Delete(secretService, s.account); err != nil {
			return fmt.Errorf("removing secret %s: %w", key, err)
		}
		return nil
	}
	return st.Remove(key)
}

// IsSecret reports whether key is held in the secret store.
func IsSecret(key string) bool {
	s, ok := lookupSpec(key)
	return ok && s.secret
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// ValidKeys returns the list of config key names accepted by SetKey.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
