package config

import "time"

// DomainConfig holds all configurable business rules and constraints
type DomainConfig struct {
	// Ledger
	WelcomeBonusShards      float64
	DefaultMonthlyAllowance float64
	MinSummaryLimit         int
	MaxSummaryLimit         int
	DefaultSummaryLimit     int
	ResetLockDuration       time.Duration

	// Ordering
	// SiblingSoftLimit is the sibling count above which top insertion logs a
	// warning; every sibling is rewritten on each top insert.
	SiblingSoftLimit int

	// Content constraints
	MaxNameLength  int
	MaxChunkLength int

	// Scoping
	PublicManualNexusName string

	// Retry policy for optimistic writes
	MaxWriteAttempts int
	RetryBaseDelay   time.Duration
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		WelcomeBonusShards:      100,
		DefaultMonthlyAllowance: 0,
		MinSummaryLimit:         1,
		MaxSummaryLimit:         100,
		DefaultSummaryLimit:     20,
		ResetLockDuration:       10 * time.Minute,

		SiblingSoftLimit: 200,

		MaxNameLength:  200,
		MaxChunkLength: 200000,

		PublicManualNexusName: "User Manual",

		MaxWriteAttempts: 3,
		RetryBaseDelay:   100 * time.Millisecond,
	}
}

// DevelopmentDomainConfig returns configuration for development
func DevelopmentDomainConfig() *DomainConfig {
	cfg := DefaultDomainConfig()
	cfg.DefaultMonthlyAllowance = 500
	cfg.ResetLockDuration = time.Minute
	return cfg
}

// ProductionDomainConfig returns configuration for production
func ProductionDomainConfig() *DomainConfig {
	cfg := DefaultDomainConfig()
	cfg.SiblingSoftLimit = 100
	return cfg
}

// ForEnvironment picks the preset for an environment name.
func ForEnvironment(env string) *DomainConfig {
	switch env {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

// ClampSummaryLimit bounds a requested transaction history size. A limit
// that is not positive means the caller did not ask for one.
func (c *DomainConfig) ClampSummaryLimit(limit int) int {
	if limit <= 0 {
		limit = c.DefaultSummaryLimit
	}
	if limit < c.MinSummaryLimit {
		return c.MinSummaryLimit
	}
	if limit > c.MaxSummaryLimit {
		return c.MaxSummaryLimit
	}
	return limit
}
