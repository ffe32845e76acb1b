package valueobjects

import (
	"fmt"
	"strings"

	pkgerrors "signals-backend/pkg/errors"
)

// LLMAccount is one configured AI provider credential/model pair.
// CredentialRef names a secret; the key itself never lives in realm settings.
type LLMAccount struct {
	AccountID     string `json:"account_id" validate:"required,max=64"`
	Provider      string `json:"provider" validate:"required,max=32"`
	Model         string `json:"model" validate:"required,max=128"`
	CredentialRef string `json:"credential_ref" validate:"required,max=256"`
}

// LLMSettings is the realm's whole AI configuration. It is replaced as one unit, never merged.
type LLMSettings struct {
	Accounts         []LLMAccount `json:"accounts" validate:"dive"`
	DefaultAccountID string       `json:"default_account_id,omitempty"`
	AutoAnalyze      bool         `json:"auto_analyze"`
	RealmContext     string       `json:"realm_context" validate:"max=8000"`
	RealmHolderName  string       `json:"realm_holder_name" validate:"max=200"`
}

// Validate enforces the structural invariants: unique account ids and a default that
// references a configured account.
func (s LLMSettings) Validate() error {
	seen := make(map[string]struct{}, len(s.Accounts))
	for i, a := range s.Accounts {
		if strings.TrimSpace(a.AccountID) == "" {
			return pkgerrors.NewValidationError(fmt.Sprintf("accounts[%d].account_id cannot be empty", i))
		}
		if strings.TrimSpace(a.Provider) == "" || strings.TrimSpace(a.Model) == "" {
			return pkgerrors.NewValidationError(fmt.Sprintf("account %q requires provider and model", a.AccountID))
		}
		if _, dup := seen[a.AccountID]; dup {
			return pkgerrors.NewValidationError(fmt.Sprintf("duplicate account_id %q", a.AccountID))
		}
		seen[a.AccountID] = struct{}{}
	}
	if s.DefaultAccountID != "" {
		if _, ok := seen[s.DefaultAccountID]; !ok {
			return pkgerrors.NewValidationError(
				fmt.Sprintf("default_account_id %q does not reference a configured account", s.DefaultAccountID))
		}
	}
	return nil
}

// Account looks up an account by id.
func (s LLMSettings) Account(id string) (LLMAccount, bool) {
	for _, a := range s.Accounts {
		if a.AccountID == id {
			return a, true
		}
	}
	return LLMAccount{}, false
}

// Clone returns a copy that shares no backing arrays with s.
func (s LLMSettings) Clone() LLMSettings {
	out := s
	out.Accounts = make([]LLMAccount, len(s.Accounts))
	copy(out.Accounts, s.Accounts)
	return out
}
