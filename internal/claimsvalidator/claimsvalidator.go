// Package claimsvalidator enforces expiry, shape, blocklist, and
// usage-budget rules on decoded token claims.
package claimsvalidator

import (
	"time"

	"github.com/mike-north/vaultkeeper-sub000/internal/blocklist"
	"github.com/mike-north/vaultkeeper-sub000/internal/tokencodec"
	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

// nowFunc is overridable in tests.
var nowFunc = time.Now

// Validate checks claims against the blocklist and the already-observed
// usage count for its jti, in that order: claim shape, expiry, blocklist
// membership, then usage budget. It does not mutate usedCount or the
// blocklist itself — callers increment usage and blocklist full-budget
// jtis after a successful Validate, per the usage-accounting policy
// described on RecordUsage.
func Validate(claims tokencodec.Claims, bl *blocklist.Blocklist, usedCount int) error {
	if reason, ok := shapeOK(claims); !ok {
		return &vaulterrors.MalformedClaims{Reason: reason}
	}

	if nowFunc().Unix() >= claims.EXP {
		return &vaulterrors.TokenExpired{JTI: claims.JTI, ExpiredAt: claims.EXP, CanRefresh: false}
	}

	if bl.Contains(claims.JTI) {
		return &vaulterrors.TokenRevoked{JTI: claims.JTI}
	}

	if claims.Use != tokencodec.UnlimitedUse {
		if claims.Use <= 0 || usedCount >= claims.Use {
			return &vaulterrors.UsageLimitExceeded{JTI: claims.JTI, Used: usedCount, Limit: claims.Use}
		}
	}

	return nil
}

func shapeOK(c tokencodec.Claims) (string, bool) {
	if c.JTI == "" {
		return "jti must be non-empty", false
	}
	if c.Sub == "" {
		return "sub must be non-empty", false
	}
	if c.Exe == "" {
		return "exe must be non-empty", false
	}
	if c.Bkd == "" {
		return "bkd must be non-empty", false
	}
	if c.Val == "" {
		return "val must be non-empty", false
	}
	if c.Ref == "" {
		return "ref must be non-empty", false
	}
	if c.IAT > c.EXP {
		return "iat must be <= exp", false
	}
	return "", true
}

// RecordUsage increments usedCount for claims.JTI by one and reports
// whether the budget has now been reached. Finite budgets reaching their
// limit must be blocklisted by the caller immediately after this call
// returns true — this is the "increment before compare" resolution of the
// usage-accounting boundary: with useLimit 1, the first authorize
// increments usedCount to 1, observes 1 >= 1, and blocklists; the very
// same authorize call still succeeds because Validate ran against the
// prior (pre-increment) usedCount.
func RecordUsage(claims tokencodec.Claims, usedCount int) (next int, budgetReached bool) {
	next = usedCount + 1
	if claims.Use == tokencodec.UnlimitedUse {
		return next, false
	}
	return next, next >= claims.Use
}
