// Package policy loads the guarded-mutation policy consumed by the access
// gate: app-lock and relock windows, guardian approval, token TTLs, and the
// per-action guard toggles.
package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the policy file name inside the data directory.
const FileName = "policy.yaml"

// Relock window bounds in seconds.
const (
	MinRelockSeconds = 15
	MaxRelockSeconds = 900
)

// Token TTL bounds in seconds, matching the capability token issuer.
const (
	MinTokenTTLSeconds = 30
	MaxTokenTTLSeconds = 900
)

// Defaults applied when the policy file is absent or fields are zero.
const (
	DefaultIdleRelockSeconds     = 300
	DefaultGuardianRelockSeconds = 120
	DefaultTokenTTLSeconds       = 300
)

// ErrPolicyMalformed indicates the policy file exists but cannot be parsed.
var ErrPolicyMalformed = errors.New("policy: policy file is malformed")

// Policy is the guarded-mutation policy.
type Policy struct {
	AppLockEnabled           bool `yaml:"app_lock_enabled"`
	IdleRelockSeconds        int  `yaml:"idle_relock_seconds"`
	GuardianApprovalRequired bool `yaml:"guardian_approval_required"`
	// GuardianChildIdleRelockSeconds caps the relock window when guardian
	// approval is active; the effective window is the minimum of this and
	// IdleRelockSeconds.
	GuardianChildIdleRelockSeconds int  `yaml:"guardian_child_idle_relock_seconds"`
	TokenTTLSeconds                int  `yaml:"token_ttl_seconds"`
	RequireForVaultExport          bool `yaml:"require_for_vault_export"`
	RequireForVaultDelete          bool `yaml:"require_for_vault_delete"`
}

// Default returns the policy used when no file exists: app lock on, guardian
// approval off, guarded export/delete on.
func Default() *Policy {
	return &Policy{
		AppLockEnabled:                 true,
		IdleRelockSeconds:              DefaultIdleRelockSeconds,
		GuardianApprovalRequired:       false,
		GuardianChildIdleRelockSeconds: DefaultGuardianRelockSeconds,
		TokenTTLSeconds:                DefaultTokenTTLSeconds,
		RequireForVaultExport:          true,
		RequireForVaultDelete:          true,
	}
}

// Load reads the policy file from dir, applying defaults when the file is
// absent and clamping all time windows into their valid ranges.
func Load(dir string) (*Policy, error) {
	path := filepath.Join(dir, FileName)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("policy: failed to read policy file: %w", err)
	}

	p := Default()
	if err := yaml.Unmarshal(content, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyMalformed, err)
	}
	p.clamp()
	return p, nil
}

// Save writes the policy to dir with owner-only permissions.
func Save(dir string, p *Policy) error {
	clamped := *p
	clamped.clamp()

	data, err := yaml.Marshal(&clamped)
	if err != nil {
		return fmt.Errorf("policy: failed to marshal policy: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("policy: failed to create directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0600); err != nil {
		return fmt.Errorf("policy: failed to write policy file: %w", err)
	}
	return nil
}

func (p *Policy) clamp() {
	p.IdleRelockSeconds = clampInt(p.IdleRelockSeconds, MinRelockSeconds, MaxRelockSeconds)
	p.GuardianChildIdleRelockSeconds = clampInt(p.GuardianChildIdleRelockSeconds, MinRelockSeconds, MaxRelockSeconds)
	p.TokenTTLSeconds = clampInt(p.TokenTTLSeconds, MinTokenTTLSeconds, MaxTokenTTLSeconds)
}

func clampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
