package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Each query selects violating rows; an
// empty result set means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_commit_requires_full_signature_set",
			SQL: `SELECT s.id FROM subscriptions s
                  WHERE s.status = 'committed'
                    AND EXISTS (SELECT 1 FROM signature_requests r
                                WHERE r.subscription_id = s.id
                                  AND r.signer_role IN ('investor','authorized_signatory')
                                  AND r.status <> 'signed')`,
		},
		{
			Name: "O2_single_commit_notification",
			SQL: `SELECT payload->>'subscription_id', COUNT(*) FROM notifications
                  WHERE kind = 'subscription_committed'
                  GROUP BY 1 HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_grant_requires_executed_nda",
			SQL: `SELECT g.id FROM data_room_grants g
                  LEFT JOIN deal_memberships m
                    ON m.deal_id = g.deal_id AND m.investor_id = g.investor_id
                  WHERE m.id IS NULL OR m.nda_signed_at IS NULL`,
		},
		{
			Name: "O4_unlock_notified_once",
			SQL: `SELECT investor_id, payload->>'deal_id', COUNT(*) FROM notifications
                  WHERE kind = 'data_room_unlocked'
                  GROUP BY 1, 2 HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_otp_attempts_nonnegative",
			SQL:  `SELECT id FROM otp_challenges WHERE attempts_remaining < 0`,
		},
		{
			Name: "O6_signed_requests_timestamped",
			SQL:  `SELECT id FROM signature_requests WHERE status = 'signed' AND signed_at IS NULL`,
		},
		{
			Name: "O7_committed_subscriptions_timestamped",
			SQL: `SELECT id FROM subscriptions
                  WHERE status = 'committed' AND (committed_at IS NULL OR signed_at IS NULL)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
