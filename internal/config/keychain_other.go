//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var errNoSecret = errors.New("secret not stored")

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "fluxmcp", "secrets.json")
}

// secretsFile maps service -> account -> value. Without a system keyring the
// file is the secret store, so it is written 0600 in a 0700 directory.
type secretsFile map[string]map[string]string

func readSecrets() (secretsFile, error) {
	data, err := os.ReadFile(secretsFilePath())
	if errors.Is(err, fs.ErrNotExist) {
		return secretsFile{}, nil
	}
	if err != nil {
		return nil, err
	}
	sf := secretsFile{}
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", secretsFilePath(), err)
	}
	return sf, nil
}

func (sf secretsFile) write() error {
	p := secretsFilePath()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}

func keychainGet(service, account string) ([]byte, error) {
	sf, err := readSecrets()
	if err != nil {
		return nil, err
	}
	val, ok := sf[service][account]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", service, account, errNoSecret)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	sf, err := readSecrets()
	if err != nil {
		return err
	}
	if sf[service] == nil {
		sf[service] = make(map[string]string)
	}
	sf[service][account] = value
	return sf.write()
}

func keychainDelete(service, account string) error {
	sf, err := readSecrets()
	if err != nil {
		return err
	}
	if _, ok := sf[service][account]; !ok {
		return nil
	}
	delete(sf[service], account)
	return sf.write()
}
