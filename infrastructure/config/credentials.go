package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Credential is one provider secret addressed by a credential_ref.
type Credential struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

type credentialsFile struct {
	Credentials map[string]Credential `yaml:"credentials"`
}

// CredentialStore is an immutable credential_ref → secret map, loaded once at startup.
type CredentialStore struct {
	entries map[string]Credential
}

// NewCredentialStore builds a store from an in-memory map.
func NewCredentialStore(entries map[string]Credential) *CredentialStore {
	copied := make(map[string]Credential, len(entries))
	for ref, c := range entries {
		copied[ref] = c
	}
	return &CredentialStore{entries: copied}
}

// LoadCredentials reads the YAML credentials file. An empty path yields an empty store.
// Values may reference environment variables as ${NAME}.
func LoadCredentials(path string) (*CredentialStore, error) {
	if path == "" {
		return NewCredentialStore(nil), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials file: %w", err)
	}
	defer f.Close()
	return ParseCredentials(f)
}

// ParseCredentials decodes a credentials document.
func ParseCredentials(r io.Reader) (*CredentialStore, error) {
	var doc credentialsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	entries := make(map[string]Credential, len(doc.Credentials))
	for ref, c := range doc.Credentials {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return nil, fmt.Errorf("credential with empty ref")
		}
		c.APIKey = os.ExpandEnv(c.APIKey)
		c.BaseURL = os.ExpandEnv(c.BaseURL)
		if c.APIKey == "" {
			return nil, fmt.Errorf("credential %q has no api_key", ref)
		}
		entries[ref] = c
	}
	return &CredentialStore{entries: entries}, nil
}

// Lookup returns the credential for ref.
func (s *CredentialStore) Lookup(ref string) (Credential, bool) {
	c, ok := s.entries[ref]
	return c, ok
}

// Len reports how many credentials are loaded.
func (s *CredentialStore) Len() int { return len(s.entries) }
