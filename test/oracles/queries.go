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

// Each oracle selects VIOLATING rows; an empty result set means the
// invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_assigned_job_has_provider",
			SQL: `SELECT id, status FROM jobs
                  WHERE status NOT IN ('open','cancelled') AND provider_id IS NULL`,
		},
		{
			Name: "O2_single_live_order_per_job",
			SQL: `SELECT job_id, COUNT(*) FROM orders
                  WHERE status IN ('accepted','in_progress')
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_in_progress_has_payment_ref",
			SQL: `SELECT id FROM orders
                  WHERE status = 'in_progress' AND payment_ref IS NULL`,
		},
		{
			Name: "O4_thread_unique_per_pair",
			SQL: `SELECT job_id, provider_id, COUNT(*) FROM chat_threads
                  GROUP BY job_id, provider_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_message_belongs_to_thread",
			SQL: `SELECT m.id FROM messages m
                  JOIN chat_threads t ON t.id = m.thread_id
                  WHERE m.sender_id <> t.client_id AND m.sender_id <> t.provider_id`,
		},
		{
			Name: "O6_last_message_at_not_behind",
			SQL: `SELECT t.id FROM chat_threads t
                  WHERE t.last_message_at < (SELECT MAX(m.created_at) FROM messages m
                                             WHERE m.thread_id = t.id)`,
		},
		{
			Name: "O7_review_implies_completed_job",
			SQL: `SELECT r.id FROM reviews r
                  JOIN jobs j ON j.id = r.job_id
                  WHERE j.status <> 'completed'`,
		},
		{
			Name: "O8_single_review_per_client_job",
			SQL: `SELECT job_id, client_id, COUNT(*) FROM reviews
                  GROUP BY job_id, client_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O9_review_parties_match_job",
			SQL: `SELECT r.id FROM reviews r
                  JOIN jobs j ON j.id = r.job_id
                  WHERE r.client_id <> j.client_id`,
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
