package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kongswap/kong-backend/pkg/kv"
)

const referralCodeLen = 8

type User struct {
	ID           uint32    `json:"user_id"`
	Principal    string    `json:"principal_id"`
	ReferralCode string    `json:"my_referral_code"`
	ReferredBy   *uint32   `json:"referred_by,omitempty"`
	TS           time.Time `json:"ts"`
}

// EnsureUser returns the user for principal, creating it on first sight.
// referredBy is a referral code; unknown or self-referencing codes are ignored.
func (l *Ledger) EnsureUser(ctx context.Context, principal, referredBy string) (User, error) {
	if u, err := l.UserByPrincipal(ctx, principal); err == nil {
		return u, nil
	} else if !isNotFound(err) {
		return User{}, err
	}

	l.usersMu.Lock()
	defer l.usersMu.Unlock()

	// re-check under the lock; another request may have created it
	if u, err := l.UserByPrincipal(ctx, principal); err == nil {
		return u, nil
	}

	id, err := l.nextID(ctx, keyUsersSeq)
	if err != nil {
		return User{}, err
	}
	u := User{
		ID:           uint32(id),
		Principal:    principal,
		ReferralCode: newReferralCode(),
		TS:           l.now(),
	}
	if code := strings.TrimSpace(referredBy); code != "" {
		if referrer, err := l.userByReferralCode(ctx, code); err == nil && referrer.Principal != principal {
			u.ReferredBy = &referrer.ID
		}
	}

	if err := l.put(ctx, keyUsers, id, u); err != nil {
		return User{}, err
	}
	if err := l.store.HSet(ctx, keyUserPrincipal, principal, []byte(field(id))); err != nil {
		return User{}, fmt.Errorf("index user principal: %w", err)
	}
	if err := l.store.HSet(ctx, keyUserReferral, u.ReferralCode, []byte(field(id))); err != nil {
		return User{}, fmt.Errorf("index user referral code: %w", err)
	}

	l.logger.Infow("User created", "userId", u.ID, "principal", principal, "referredBy", u.ReferredBy)
	return u, nil
}

func newReferralCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:referralCodeLen]
}

func (l *Ledger) GetUser(ctx context.Context, id uint32) (User, error) {
	return get[User](ctx, l.store, keyUsers, uint64(id))
}

func (l *Ledger) UserByPrincipal(ctx context.Context, principal string) (User, error) {
	return l.userByIndex(ctx, keyUserPrincipal, principal)
}

func (l *Ledger) userByReferralCode(ctx context.Context, code string) (User, error) {
	return l.userByIndex(ctx, keyUserReferral, code)
}

func (l *Ledger) userByIndex(ctx context.Context, index, value string) (User, error) {
	raw, err := l.store.HGet(ctx, index, value)
	if errors.Is(err, kv.ErrNotFound) {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, value)
	}
	if err != nil {
		return User{}, fmt.Errorf("read %s: %w", index, err)
	}
	id, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return User{}, fmt.Errorf("decode %s entry %s: %w", index, value, err)
	}
	return l.GetUser(ctx, uint32(id))
}
