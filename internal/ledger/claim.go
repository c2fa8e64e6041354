package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/kongswap/kong-backend/internal/address"
	"github.com/kongswap/kong-backend/internal/natmath"
)

type ClaimStatus string

const (
	ClaimUnclaimed       ClaimStatus = "Unclaimed"
	ClaimClaiming        ClaimStatus = "Claiming"
	ClaimClaimed         ClaimStatus = "Claimed"
	ClaimTooManyAttempts ClaimStatus = "TooManyAttempts"
)

// Claim is value owed to a user that could not be delivered synchronously.
// Amount is gross: the token fee is taken when the claim is paid out.
type Claim struct {
	ID          uint64           `json:"claim_id"`
	UserID      uint32           `json:"user_id"`
	Status      ClaimStatus      `json:"status"`
	TokenID     uint32           `json:"token_id"`
	Amount      natmath.Nat      `json:"amount"`
	RequestID   *uint64          `json:"request_id,omitempty"`
	ToAddress   *address.Address `json:"to_address,omitempty"`
	Attempts    []uint64         `json:"attempt_request_id"`
	TransferIDs []uint64         `json:"transfer_ids"`
	TS          time.Time        `json:"ts"`
}

// InsertClaim records an Unclaimed claim. tokenFee is the fee the payout will
// pay; a claim that would deliver nothing after it is rejected.
func (l *Ledger) InsertClaim(ctx context.Context, c Claim, tokenFee natmath.Nat) (Claim, error) {
	net, err := c.Amount.Sub(tokenFee)
	if err != nil || net.IsZero() {
		return Claim{}, fmt.Errorf("%w: amount %s, fee %s", ErrClaimAmountZero, c.Amount, tokenFee)
	}

	id, err := l.nextID(ctx, keyClaimsSeq)
	if err != nil {
		return Claim{}, err
	}
	c.ID = id
	c.Status = ClaimUnclaimed
	c.TS = l.now()
	if c.Attempts == nil {
		c.Attempts = []uint64{}
	}
	if c.TransferIDs == nil {
		c.TransferIDs = []uint64{}
	}

	l.claimsMu.Lock()
	defer l.claimsMu.Unlock()
	if err := l.put(ctx, keyClaims, id, c); err != nil {
		return Claim{}, err
	}
	if err := l.syncUnclaimed(ctx, c); err != nil {
		return Claim{}, err
	}
	if err := l.index(ctx, indexKey(keyClaimsByUser, uint64(c.UserID)), id); err != nil {
		return Claim{}, err
	}
	if c.RequestID != nil {
		if err := l.index(ctx, indexKey(keyClaimsByRequest, *c.RequestID), id); err != nil {
			return Claim{}, err
		}
	}

	l.logger.Infow("Claim created", "claimId", id, "userId", c.UserID, "tokenId", c.TokenID, "amount", c.Amount.String())
	return c, nil
}

func (l *Ledger) GetClaim(ctx context.Context, id uint64) (Claim, error) {
	return get[Claim](ctx, l.store, keyClaims, id)
}

// updateClaim applies fn to claim id under the claims lock. fn returns false
// to leave the record untouched.
func (l *Ledger) updateClaim(ctx context.Context, id uint64, fn func(*Claim) bool) (Claim, bool, error) {
	l.claimsMu.Lock()
	defer l.claimsMu.Unlock()

	c, err := get[Claim](ctx, l.store, keyClaims, id)
	if err != nil {
		return Claim{}, false, err
	}
	if !fn(&c) {
		return c, false, nil
	}
	if err := l.put(ctx, keyClaims, id, c); err != nil {
		return Claim{}, false, err
	}
	if err := l.syncUnclaimed(ctx, c); err != nil {
		return Claim{}, false, err
	}
	return c, true, nil
}

// syncUnclaimed keeps the unclaimed set equal to the claims whose status is
// Unclaimed. Callers hold claimsMu.
func (l *Ledger) syncUnclaimed(ctx context.Context, c Claim) error {
	var err error
	if c.Status == ClaimUnclaimed {
		err = l.store.HSet(ctx, keyClaimsUnclaimed, field(c.ID), []byte("1"))
	} else {
		_, err = l.store.HDel(ctx, keyClaimsUnclaimed, field(c.ID))
	}
	if err != nil {
		return fmt.Errorf("update unclaimed set for claim #%d: %w", c.ID, err)
	}
	return nil
}

// LockClaimForClaiming moves claim id from Unclaimed to Claiming. It returns
// false when the claim is missing or not Unclaimed; callers must then give up
// without retrying. This is the only path that sets Claiming.
func (l *Ledger) LockClaimForClaiming(ctx context.Context, id uint64) (Claim, bool, error) {
	c, ok, err := l.updateClaim(ctx, id, func(c *Claim) bool {
		if c.Status != ClaimUnclaimed {
			return false
		}
		c.Status = ClaimClaiming
		return true
	})
	if err != nil {
		if isNotFound(err) {
			return Claim{}, false, nil
		}
		return Claim{}, false, err
	}
	return c, ok, nil
}

// ResolveClaimClaimed marks a locked claim as paid.
func (l *Ledger) ResolveClaimClaimed(ctx context.Context, id, requestID, transferID uint64) (Claim, error) {
	c, _, err := l.updateClaim(ctx, id, func(c *Claim) bool {
		c.Status = ClaimClaimed
		c.Attempts = append(c.Attempts, requestID)
		c.TransferIDs = append(c.TransferIDs, transferID)
		return true
	})
	return c, err
}

// RevertClaimUnclaimed releases the lock after a failed attempt and records it.
func (l *Ledger) RevertClaimUnclaimed(ctx context.Context, id, requestID uint64) (Claim, error) {
	c, _, err := l.updateClaim(ctx, id, func(c *Claim) bool {
		c.Status = ClaimUnclaimed
		c.Attempts = append(c.Attempts, requestID)
		return true
	})
	return c, err
}

// MarkTooManyAttempts parks an Unclaimed claim so the sweep stops retrying it.
func (l *Ledger) MarkTooManyAttempts(ctx context.Context, id uint64) (Claim, error) {
	c, _, err := l.updateClaim(ctx, id, func(c *Claim) bool {
		if c.Status != ClaimUnclaimed {
			return false
		}
		c.Status = ClaimTooManyAttempts
		return true
	})
	return c, err
}

// NumUnclaimedClaims counts claims still waiting to be paid.
func (l *Ledger) NumUnclaimedClaims(ctx context.Context) (int, error) {
	n, err := l.store.HLen(ctx, keyClaimsUnclaimed)
	if err != nil {
		return 0, fmt.Errorf("count unclaimed claims: %w", err)
	}
	return int(n), nil
}

// UnclaimedClaims lists the claims waiting to be paid, oldest first.
func (l *Ledger) UnclaimedClaims(ctx context.Context) ([]Claim, error) {
	members, err := l.store.HGetAll(ctx, keyClaimsUnclaimed)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", keyClaimsUnclaimed, err)
	}
	raw := make([][]byte, 0, len(members))
	for f := range members {
		raw = append(raw, []byte(f))
	}
	ids, err := parseIDs(keyClaimsUnclaimed, raw)
	if err != nil {
		return nil, err
	}
	out := make([]Claim, 0, len(ids))
	for _, id := range ids {
		c, err := l.GetClaim(ctx, id)
		if err != nil {
			return nil, err
		}
		// the set is read without the claims lock
		if c.Status == ClaimUnclaimed {
			out = append(out, c)
		}
	}
	return out, nil
}

// ClaimsByUser lists a user's claims, oldest first.
func (l *Ledger) ClaimsByUser(ctx context.Context, userID uint32) ([]Claim, error) {
	return listed(ctx, l.store, indexKey(keyClaimsByUser, uint64(userID)), l.GetClaim)
}

// ClaimsByRequest lists claims created by a request.
func (l *Ledger) ClaimsByRequest(ctx context.Context, requestID uint64) ([]Claim, error) {
	return listed(ctx, l.store, indexKey(keyClaimsByRequest, requestID), l.GetClaim)
}
