package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/adamscao/breakglass/internal/config"
	"github.com/adamscao/breakglass/internal/errs"
)

// Default token lifetime bounds
const (
	DefaultTTL = 300 * time.Second
	MinTTL     = 60 * time.Second
	MaxTTL     = 3600 * time.Second

	DefaultEmergencyExpiry = 5 * time.Minute
	DefaultStandardExpiry  = 60 * time.Minute
)

// maxReasonLength caps free-text justification stored in the ledger
const maxReasonLength = 2000

// Validator validates credential requests and approvals against policy
type Validator struct {
	defaultTTL      time.Duration
	minTTL          time.Duration
	maxTTL          time.Duration
	emergencyExpiry time.Duration
	standardExpiry  time.Duration
}

// NewValidator creates a new policy validator. A nil config yields the
// built-in defaults.
func NewValidator(cfg *config.Config) *Validator {
	v := &Validator{
		defaultTTL:      DefaultTTL,
		minTTL:          MinTTL,
		maxTTL:          MaxTTL,
		emergencyExpiry: DefaultEmergencyExpiry,
		standardExpiry:  DefaultStandardExpiry,
	}
	if cfg == nil {
		return v
	}
	if d := cfg.GetDefaultTTL(); d > 0 {
		v.defaultTTL = d
	}
	if d := cfg.GetMinTTL(); d > 0 {
		v.minTTL = d
	}
	if d := cfg.GetMaxTTL(); d > 0 {
		v.maxTTL = d
	}
	if d := cfg.GetEmergencyExpiry(); d > 0 {
		v.emergencyExpiry = d
	}
	if d := cfg.GetStandardExpiry(); d > 0 {
		v.standardExpiry = d
	}
	return v
}

// ValidateCreateRequest checks the fields every credential request must carry
func (v *Validator) ValidateCreateRequest(requesterID, reason, vaultID, path string) error {
	switch {
	case strings.TrimSpace(requesterID) == "":
		return fmt.Errorf("%w: requester_id is required", errs.ErrValidation)
	case strings.TrimSpace(reason) == "":
		return fmt.Errorf("%w: reason is required", errs.ErrValidation)
	case strings.TrimSpace(vaultID) == "":
		return fmt.Errorf("%w: vault_id is required", errs.ErrValidation)
	case strings.TrimSpace(path) == "":
		return fmt.Errorf("%w: path is required", errs.ErrValidation)
	}
	if len(reason) > maxReasonLength {
		return fmt.Errorf("%w: reason exceeds %d characters", errs.ErrValidation, maxReasonLength)
	}
	return nil
}

// RequestExpiry returns how long a new request stays pending
func (v *Validator) RequestExpiry(emergency bool) time.Duration {
	if emergency {
		return v.emergencyExpiry
	}
	return v.standardExpiry
}

// ResolveTTL applies the token lifetime policy to a requested TTL. Zero
// selects the default; anything else must lie within the bounds and is
// never capped.
func (v *Validator) ResolveTTL(requested time.Duration) (time.Duration, error) {
	if requested == 0 {
		return v.defaultTTL, nil
	}
	if requested < v.minTTL || requested > v.maxTTL {
		return 0, fmt.Errorf("%w: ttl %s outside [%s, %s]", errs.ErrValidation, requested, v.minTTL, v.maxTTL)
	}
	return requested, nil
}

// GetDefaultTTL returns the default token lifetime
func (v *Validator) GetDefaultTTL() time.Duration {
	return v.defaultTTL
}

// GetMaxTTL returns the maximum allowed token lifetime
func (v *Validator) GetMaxTTL() time.Duration {
	return v.maxTTL
}
