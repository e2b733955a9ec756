// Package keystore loads and holds the immutable pool of upstream API keys
package keystore

import (
	"os"

	perr "ollamaproxy/internal/platform/errors"
	"ollamaproxy/internal/platform/logger"

	"gopkg.in/yaml.v2"
)

// file mirrors the top-level YAML shape at CONFIG_PATH
type file struct {
	Keys []string `yaml:"keys"`
}

// KeyStore is the process-lifetime immutable list of credentials.
// Index is assigned at load time and is the identity used everywhere else;
// the credential string itself is never logged.
type KeyStore struct {
	keys []string
}

// Load reads path (YAML), parses the `keys` list, and returns a KeyStore.
// Aborts the process via logger.Panic if the file can't be read/parsed or
// yields zero keys, per the spec's "zero keys aborts boot" requirement.
func Load(path string) *KeyStore {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Get().Panic().Err(err).Str("path", path).Msg("keystore: cannot read config file")
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		logger.Get().Panic().Err(err).Str("path", path).Msg("keystore: cannot parse config file")
	}

	ks, err := New(f.Keys)
	if err != nil {
		logger.Get().Panic().Err(err).Str("path", path).Msg("keystore: no keys configured")
	}
	return ks
}

// New builds a KeyStore from an in-memory list, used by Load and by tests
func New(keys []string) (*KeyStore, error) {
	if len(keys) == 0 {
		return nil, perr.Internalf("keystore: zero keys configured")
	}
	cp := make([]string, len(keys))
	copy(cp, keys)
	return &KeyStore{keys: cp}, nil
}

// Len returns the number of configured keys
func (k *KeyStore) Len() int { return len(k.keys) }

// At returns the credential for index i. Callers should only use this to
// build the outbound Authorization header; never log the result.
func (k *KeyStore) At(i int) (string, bool) {
	if i < 0 || i >= len(k.keys) {
		return "", false
	}
	return k.keys[i], true
}

// Indices returns 0..Len()-1, the stable identity space for every other
// component (PenaltyRegistry, UsageLedger, HealthSnapshot)
func (k *KeyStore) Indices() []int {
	out := make([]int, len(k.keys))
	for i := range out {
		out[i] = i
	}
	return out
}
