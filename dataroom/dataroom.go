// Package dataroom manages time-boxed data-room access grants issued when an
// NDA becomes fully executed on the Interest flow.
package dataroom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrGrantNotFound signals no grant exists for the deal/investor pair.
var ErrGrantNotFound = errors.New("dataroom: grant not found")

// Grant mirrors the data_room_grants table.
type Grant struct {
	ID         string
	DealID     string
	InvestorID string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Active reports whether the grant is still within its access window.
func (g Grant) Active(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Upsert creates or refreshes the grant for (deal, investor) inside the
// caller's transaction. Keyed upsert keeps repeated NDA-completion deliveries
// idempotent: a replay extends the window instead of adding rows.
func (r *Repository) Upsert(ctx context.Context, tx pgx.Tx, dealID, investorID string, expiresAt time.Time) error {
	const q = `
INSERT INTO data_room_grants (deal_id, investor_id, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (deal_id, investor_id)
DO UPDATE SET expires_at = GREATEST(data_room_grants.expires_at, EXCLUDED.expires_at)
`
	if _, err := tx.Exec(ctx, q, dealID, investorID, expiresAt); err != nil {
		return fmt.Errorf("dataroom: upsert grant: %w", err)
	}
	return nil
}

// Get returns the grant for a deal/investor pair.
func (r *Repository) Get(ctx context.Context, pool *pgxpool.Pool, dealID, investorID string) (Grant, error) {
	const q = `
SELECT id, deal_id::text, investor_id::text, expires_at, created_at
FROM data_room_grants
WHERE deal_id = $1 AND investor_id = $2
`
	var g Grant
	err := pool.QueryRow(ctx, q, dealID, investorID).Scan(&g.ID, &g.DealID, &g.InvestorID, &g.ExpiresAt, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Grant{}, ErrGrantNotFound
		}
		return Grant{}, fmt.Errorf("dataroom: get grant: %w", err)
	}
	return g, nil
}
