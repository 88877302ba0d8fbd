package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mhrdina/narrator/internal/credits"
)

// ErrInsufficientCredits is returned by ReserveCredits when the balance
// cannot cover the charge. The balance is left untouched.
var ErrInsufficientCredits = errors.New("insufficient credits")

// reserveMaxAttempts bounds the compare-and-swap retry loop in
// ReserveCredits against pathological contention on one identity.
const reserveMaxAttempts = 5

// CreditBalance is the per-identity account. Credits and the time bank are
// never negative; total_purchased/total_used are audit counters only.
type CreditBalance struct {
	UserID          string    `json:"user_id"`
	Credits         int       `json:"credits"`
	TimeBankSeconds int       `json:"time_bank_seconds"`
	TotalPurchased  int       `json:"total_purchased"`
	TotalUsed       int       `json:"total_used"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TimeBankMinutes returns the banked surplus in whole minutes, which is the
// unit the charge policy works in.
func (b *CreditBalance) TimeBankMinutes() int {
	return b.TimeBankSeconds / 60
}

const balanceColumns = `user_id, credits, time_bank_seconds, total_purchased, total_used, created_at, updated_at`

func scanBalance(row pgx.Row) (*CreditBalance, error) {
	var b CreditBalance
	err := row.Scan(&b.UserID, &b.Credits, &b.TimeBankSeconds, &b.TotalPurchased, &b.TotalUsed, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// EnsureBalance returns the balance for an identity, creating it with the
// given number of starting credits on first sight.
func (s *Store) EnsureBalance(ctx context.Context, userID string, startingCredits int) (*CreditBalance, error) {
	b, err := scanBalance(s.db.QueryRow(ctx, `
		INSERT INTO credit_balances (user_id, credits, total_purchased)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING `+balanceColumns+`
	`, userID, startingCredits))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return s.GetBalance(ctx, userID)
}

// GetBalance returns the balance for an identity, or nil if none exists.
func (s *Store) GetBalance(ctx context.Context, userID string) (*CreditBalance, error) {
	b, err := scanBalance(s.db.QueryRow(ctx, `
		SELECT `+balanceColumns+`
		FROM credit_balances
		WHERE user_id = $1
	`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ReserveCredits charges an identity for a generation of the given estimated
// duration. The read-compute-write cycle is a compare-and-swap: the UPDATE is
// guarded by the previously read credits and time bank, so two concurrent
// reservations can never both apply against the same stale balance. On a
// lost race the cycle retries against the fresh balance.
//
// Returns the updated balance, or ErrInsufficientCredits with no mutation.
func (s *Store) ReserveCredits(ctx context.Context, userID string, durationMinutes int) (*CreditBalance, error) {
	for attempt := 0; attempt < reserveMaxAttempts; attempt++ {
		b, err := s.GetBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, fmt.Errorf("reserve credits: no balance for %s", userID)
		}

		charge := credits.ComputeCharge(durationMinutes, b.TimeBankMinutes())
		if b.Credits < charge.CreditsNeeded {
			return nil, ErrInsufficientCredits
		}

		updated, err := scanBalance(s.db.QueryRow(ctx, `
			UPDATE credit_balances
			SET credits = credits - $2,
			    time_bank_seconds = $3,
			    total_used = total_used + $2,
			    updated_at = NOW()
			WHERE user_id = $1 AND credits = $4 AND time_bank_seconds = $5
			RETURNING `+balanceColumns+`
		`, userID, charge.CreditsNeeded, charge.NewTimeBankMinutes*60, b.Credits, b.TimeBankSeconds))
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		// Balance changed underneath us; recompute against the fresh row.
	}
	return nil, fmt.Errorf("reserve credits for %s: too much contention", userID)
}

// AddCredits is the boundary the external payment system calls into once a
// purchase has been verified. Plain atomic increment; no balance read needed.
func (s *Store) AddCredits(ctx context.Context, userID string, creditCount int) (*CreditBalance, error) {
	if creditCount <= 0 {
		return nil, fmt.Errorf("add credits: count must be positive, got %d", creditCount)
	}
	b, err := scanBalance(s.db.QueryRow(ctx, `
		INSERT INTO credit_balances (user_id, credits, total_purchased)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			credits = credit_balances.credits + $2,
			total_purchased = credit_balances.total_purchased + $2,
			updated_at = NOW()
		RETURNING `+balanceColumns+`
	`, userID, creditCount))
	if err != nil {
		return nil, err
	}
	return b, nil
}
