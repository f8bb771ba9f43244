// Package notify records notification rows consumed by the portal's mailer.
// Writes happen inside the caller's transaction so a rolled-back completion
// never leaves a stray notification behind.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record mirrors the notifications table.
type Record struct {
	ID         string
	InvestorID *string
	Kind       string
	Payload    []byte
	CreatedAt  time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert appends one notification row inside the active transaction.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, investorID string, kind string, payload map[string]any) error {
	if kind == "" {
		return fmt.Errorf("notify: empty notification kind")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	const q = `INSERT INTO notifications (investor_id, kind, payload) VALUES ($1, $2, $3::jsonb)`
	if _, err := tx.Exec(ctx, q, investorID, kind, body); err != nil {
		return fmt.Errorf("notify: insert notification: %w", err)
	}
	return nil
}

// CountByKind reports how many notifications of one kind exist for an
// investor. Used by QA checks asserting one-time side effects.
func (r *Repository) CountByKind(ctx context.Context, pool *pgxpool.Pool, investorID, kind string) (int, error) {
	const q = `SELECT COUNT(*) FROM notifications WHERE investor_id = $1 AND kind = $2`
	var n int
	if err := pool.QueryRow(ctx, q, investorID, kind).Scan(&n); err != nil {
		return 0, fmt.Errorf("notify: count notifications: %w", err)
	}
	return n, nil
}
