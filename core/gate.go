package core

import (
	"context"
	"errors"
	"log/slog"
)

// Guard names the precondition a route requires.
type Guard int

const (
	// GuardCurrentUser requires a valid token for an existing account.
	GuardCurrentUser Guard = iota
	// GuardActiveUser additionally requires the account not to be disabled.
	GuardActiveUser
	// GuardAdminUser additionally requires the admin role.
	GuardAdminUser
)

func (g Guard) String() string {
	switch g {
	case GuardCurrentUser:
		return "current_user"
	case GuardActiveUser:
		return "active_user"
	case GuardAdminUser:
		return "admin_user"
	default:
		return "unknown"
	}
}

// Gate derives the current account from a bearer token and applies guards.
type Gate struct {
	tokens      *TokenService
	accounts    AccountRepository
	revocations RevocationList
	metrics     *Metrics
}

// NewGate wires the gate. revocations and metrics may be nil.
func NewGate(tokens *TokenService, accounts AccountRepository, revocations RevocationList, metrics *Metrics) *Gate {
	return &Gate{tokens: tokens, accounts: accounts, revocations: revocations, metrics: metrics}
}

// Authenticate validates raw and loads the account it names. Every token or
// lookup failure collapses into ErrUnauthorized so callers cannot tell them apart.
func (g *Gate) Authenticate(ctx context.Context, raw string) (*Account, *SessionClaims, error) {
	if raw == "" {
		return nil, nil, ErrUnauthorized
	}
	claims, err := g.tokens.Parse(raw)
	if err != nil {
		slog.Debug("token rejected", "reason", err)
		return nil, nil, ErrUnauthorized
	}
	if g.revocations != nil {
		revoked, err := g.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			slog.Error("revocation lookup failed", "error", err)
			return nil, nil, ErrUnauthorized
		}
		if revoked {
			slog.Debug("token rejected", "reason", "revoked", "jti", claims.ID)
			return nil, nil, ErrUnauthorized
		}
	}
	acct, err := g.accounts.FindByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrUnauthorized
		}
		return nil, nil, err
	}
	return acct, claims, nil
}

// Authorize runs Authenticate and then the checks of guard.
// A disabled account fails with ErrInactive before any role check.
func (g *Gate) Authorize(ctx context.Context, raw string, guard Guard) (*Account, error) {
	acct, _, err := g.Authenticate(ctx, raw)
	if err != nil {
		g.recordDenial(err)
		return nil, err
	}
	if err := checkGuard(acct, guard); err != nil {
		g.recordDenial(err)
		return nil, err
	}
	return acct, nil
}

func checkGuard(a *Account, guard Guard) error {
	switch guard {
	case GuardCurrentUser:
		return nil
	case GuardActiveUser:
		if a.Disabled {
			return ErrInactive
		}
		return nil
	case GuardAdminUser:
		if a.Disabled {
			return ErrInactive
		}
		if a.Role != RoleAdmin {
			return ErrPermissionDenied
		}
		return nil
	default:
		return ErrPermissionDenied
	}
}

func (g *Gate) recordDenial(err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		g.metrics.gateDenied("unauthorized")
	case errors.Is(err, ErrInactive):
		g.metrics.gateDenied("inactive")
	case errors.Is(err, ErrPermissionDenied):
		g.metrics.gateDenied("permission")
	}
}
