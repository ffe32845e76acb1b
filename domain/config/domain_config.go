package config

import (
	"time"

	"signals-backend/domain/core/valueobjects"
)

// DomainConfig holds the business rules the engines enforce.
type DomainConfig struct {
	// Hierarchy
	MaxClusterDepth int

	// Prompt construction
	MaxSignalExcerpt        int
	MaxPromptHistoryEntries int
	MaxSynthesisSignals     int

	// Reflections
	MaxAnnotationLength int

	// Realm settings
	MaxAccountsPerRealm int

	// Provider invocation
	ProviderTimeout   time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	BackoffJitter     float64

	// Persistence
	CommitTimeout time.Duration
	LockTTL       time.Duration
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MaxClusterDepth: valueobjects.MaxClusterDepth,

		MaxSignalExcerpt:        4000,
		MaxPromptHistoryEntries: 3,
		MaxSynthesisSignals:     200,

		MaxAnnotationLength: 2000,

		MaxAccountsPerRealm: 16,

		ProviderTimeout:   30 * time.Second,
		MaxAttempts:       3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		BackoffJitter:     0.2,

		CommitTimeout: 10 * time.Second,
		LockTTL:       2 * time.Minute,
	}
}
