// Package session decides when a caller must re-authenticate and gates
// guarded mutations behind approval-backed capability tokens.
package session

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/credguard/credguard/pkg/audit"
	"github.com/credguard/credguard/pkg/policy"
	"github.com/credguard/credguard/pkg/token"
)

// Guarded action codes.
const (
	ActionVaultExport = "vault_export"
	ActionVaultDelete = "vault_delete"
)

// ErrPolicyDenied indicates a guarded action was refused: the approval
// prompt was denied or dismissed, or no authenticator is available.
var ErrPolicyDenied = errors.New("session: policy denied")

// AuthResult is the outcome of a secondary-factor prompt.
type AuthResult int

const (
	AuthSuccess AuthResult = iota
	AuthError
	AuthCancelled
)

// Authenticator prompts for a secondary factor (OS biometric or the PIN
// authenticator behind a prompt). Blocking.
type Authenticator interface {
	Authenticate() AuthResult
}

// PolicySource supplies the current policy. Consulted on every decision so
// policy edits take effect without a restart.
type PolicySource interface {
	Current() (*policy.Policy, error)
}

// FileSource loads the policy from a data directory on each call.
type FileSource struct {
	Dir string
}

func (f *FileSource) Current() (*policy.Policy, error) {
	return policy.Load(f.Dir)
}

// Session is the process-scoped unlock state. Constructed at process start,
// reset on backgrounding; never persisted.
type Session struct {
	mu                sync.Mutex
	lastUnlockAt      time.Time
	lastInteractionAt time.Time
	unlocked          bool
	inFlight          bool
}

// NewSession returns a locked session.
func NewSession() *Session {
	return &Session{}
}

// Gate arbitrates unlock and guarded-approval decisions.
type Gate struct {
	session  *Session
	policies PolicySource
	auth     Authenticator
	tokens   *token.Issuer
	auditLog *audit.Logger
	now      func() time.Time
}

// NewGate wires a Gate. auth may be nil, in which case every prompt-requiring
// path denies.
func NewGate(session *Session, policies PolicySource, auth Authenticator, tokens *token.Issuer, auditLog *audit.Logger) *Gate {
	return &Gate{
		session:  session,
		policies: policies,
		auth:     auth,
		tokens:   tokens,
		auditLog: auditLog,
		now:      time.Now,
	}
}

// EffectiveRelockSeconds computes the idle window after which the session
// must re-authenticate: the local policy window, capped by the guardian
// window when guardian approval is active, clamped to [15, 900].
func EffectiveRelockSeconds(p *policy.Policy) int {
	eff := p.IdleRelockSeconds
	if p.GuardianApprovalRequired && p.GuardianChildIdleRelockSeconds < eff {
		eff = p.GuardianChildIdleRelockSeconds
	}
	if eff < policy.MinRelockSeconds {
		eff = policy.MinRelockSeconds
	}
	if eff > policy.MaxRelockSeconds {
		eff = policy.MaxRelockSeconds
	}
	return eff
}

// EnsureUnlocked runs the relock decision and invokes exactly one of the two
// callbacks, except when another authentication attempt is already in flight:
// then the call is dropped and neither callback fires (single-flight; avoids
// stacked prompts).
func (g *Gate) EnsureUnlocked(onUnlocked, onDenied func()) error {
	p, err := g.policies.Current()
	if err != nil {
		return fmt.Errorf("session: failed to load policy: %w", err)
	}

	now := g.now()

	g.session.mu.Lock()
	if !p.AppLockEnabled {
		g.session.unlocked = true
		g.session.lastUnlockAt = now
		g.session.lastInteractionAt = now
		g.session.mu.Unlock()
		onUnlocked()
		return nil
	}

	window := time.Duration(EffectiveRelockSeconds(p)) * time.Second
	if g.session.unlocked && now.Sub(g.session.lastInteractionAt) < window {
		g.session.lastInteractionAt = now
		g.session.mu.Unlock()
		onUnlocked()
		return nil
	}

	if g.session.inFlight {
		g.session.mu.Unlock()
		return nil
	}
	g.session.inFlight = true
	g.session.mu.Unlock()

	result := AuthError
	if g.auth != nil {
		result = g.auth.Authenticate()
	}

	now = g.now()
	g.session.mu.Lock()
	g.session.inFlight = false
	if result == AuthSuccess {
		g.session.unlocked = true
		g.session.lastUnlockAt = now
		g.session.lastInteractionAt = now
	} else {
		g.session.unlocked = false
	}
	g.session.mu.Unlock()

	if result == AuthSuccess {
		g.auditEvent(func() error { return g.auditLog.Append(audit.OpSessionUnlock, audit.ResultSuccess, "", "") })
		onUnlocked()
	} else {
		onDenied()
	}
	return nil
}

// Background clears the unlocked state and every outstanding capability
// token. Call when the process loses the foreground.
func (g *Gate) Background() error {
	g.session.mu.Lock()
	g.session.unlocked = false
	g.session.inFlight = false
	g.session.mu.Unlock()

	g.auditEvent(func() error { return g.auditLog.Append(audit.OpSessionLock, audit.ResultSuccess, "", "") })

	if _, err := g.tokens.ClearAll(); err != nil {
		return fmt.Errorf("session: failed to clear capability tokens: %w", err)
	}
	return nil
}

// RequireApproval enforces the guarded-action policy for actionCode. A valid
// cached capability token satisfies it without a prompt; otherwise the
// authenticator is invoked and, on success, a fresh token is issued so the
// next call within the TTL skips the prompt. Every outcome is audited.
func (g *Gate) RequireApproval(actionCode, reasonCode string) error {
	p, err := g.policies.Current()
	if err != nil {
		return fmt.Errorf("session: failed to load policy: %w", err)
	}
	if !actionRequiresApproval(p, actionCode) {
		return nil
	}

	tok, err := g.tokens.ReadValid(actionCode)
	if err != nil {
		return fmt.Errorf("session: failed to read capability token: %w", err)
	}
	if tok != nil {
		g.auditEvent(func() error { return g.auditLog.Approved(actionCode, tok.ReasonCode, true) })
		return nil
	}

	if g.auth == nil {
		g.auditEvent(func() error { return g.auditLog.Denied(actionCode, reasonCode) })
		return ErrPolicyDenied
	}

	switch g.auth.Authenticate() {
	case AuthSuccess:
		if _, err := g.tokens.Issue(actionCode, reasonCode, p.TokenTTLSeconds); err != nil {
			return fmt.Errorf("session: failed to issue capability token: %w", err)
		}
		g.auditEvent(func() error { return g.auditLog.Approved(actionCode, reasonCode, false) })
		return nil
	case AuthCancelled:
		g.auditEvent(func() error { return g.auditLog.Dismissed(actionCode) })
		return ErrPolicyDenied
	default:
		g.auditEvent(func() error { return g.auditLog.Denied(actionCode, reasonCode) })
		return ErrPolicyDenied
	}
}

func actionRequiresApproval(p *policy.Policy, actionCode string) bool {
	switch actionCode {
	case ActionVaultExport:
		return p.RequireForVaultExport
	case ActionVaultDelete:
		return p.RequireForVaultDelete
	default:
		// Unknown guarded actions fail safe: always require approval.
		return true
	}
}

// auditEvent records an event best-effort: an unavailable audit log warns
// but never blocks the security decision itself.
func (g *Gate) auditEvent(fn func() error) {
	if g.auditLog == nil {
		return
	}
	if err := fn(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write audit event: %v\n", err)
	}
}
