// ABOUTME: Chat profile loading for the interactive CLI
// ABOUTME: Loads TOML identity/peer/context defaults from the XDG config path

package main

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/marketfold/chatlink/internal/store"
)

// Profile holds who is chatting with whom, about what. Flags override any
// of these.
type Profile struct {
	Identity IdentityProfile `toml:"identity"`
	Peer     PeerProfile     `toml:"peer"`
	Context  ContextProfile  `toml:"context"`
}

type IdentityProfile struct {
	UserID string `toml:"user_id"`
}

type PeerProfile struct {
	UserID string `toml:"user_id"`
}

type ContextProfile struct {
	Kind        string `toml:"kind"`
	ReferenceID string `toml:"reference_id"`
}

// LoadProfile reads a TOML profile, expanding ${VAR} environment variables.
// A missing file yields an empty profile, not an error; flags may supply
// everything.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var p Profile
	if _, err := toml.Decode(expanded, &p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	return &p, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// ContextKey builds the store-level context key from the profile, defaulting
// to general chat when no kind is set.
func (p *Profile) ContextKey() (store.ContextKey, error) {
	kind := p.Context.Kind
	if kind == "" {
		kind = string(store.KindGeneral)
	}
	key := store.ContextKey{
		Kind:        store.ContextKind(kind),
		ReferenceID: p.Context.ReferenceID,
	}
	if !key.Valid() {
		return store.ContextKey{}, fmt.Errorf("invalid context kind %q", kind)
	}
	return key, nil
}
