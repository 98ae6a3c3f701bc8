package quota

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"matchline/internal/pairkey"
	"matchline/pkg/utils"
)

// PostgresRepo persists the ledger in Postgres.
//
// Assumed tables:
//
//	quota_ledger (
//	  pair_key TEXT, period TEXT, used_seconds BIGINT, cap_seconds BIGINT,
//	  limit_reached_at TIMESTAMPTZ NULL, created_at TIMESTAMPTZ, updated_at TIMESTAMPTZ,
//	  PRIMARY KEY (pair_key, period)
//	)
//	quota_contributions (
//	  pair_key TEXT, period TEXT, session_id TEXT, seconds BIGINT,
//	  contributor_id TEXT, committed_at TIMESTAMPTZ,
//	  UNIQUE (pair_key, period, session_id)
//	)
//
// The unique constraint on (pair_key, period, session_id) is what makes
// Commit idempotent under duplicate status-update delivery.
type PostgresRepo struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) Get(ctx context.Context, key pairkey.Key, period string) (Entry, bool, error) {
	const q = `
SELECT pair_key, period, used_seconds, cap_seconds, limit_reached_at, created_at, updated_at
FROM quota_ledger
WHERE pair_key = $1 AND period = $2
`
	var e Entry
	err := r.db.QueryRowContext(ctx, q, string(key), period).Scan(
		&e.PairKey,
		&e.Period,
		&e.UsedSeconds,
		&e.CapSeconds,
		&e.LimitReachedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}

	contribs, err := r.listContributions(ctx, key, period)
	if err != nil {
		return Entry{}, false, err
	}
	e.Contributions = contribs
	return e, true, nil
}

func (r *PostgresRepo) Apply(ctx context.Context, key pairkey.Key, period string, capSeconds int64, c Contribution) (Entry, bool, error) {
	now := r.clock().UTC()

	var out Entry
	var applied bool

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Contribution first: the unique constraint decides idempotency.
		const insContrib = `
INSERT INTO quota_contributions (pair_key, period, session_id, seconds, contributor_id, committed_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (pair_key, period, session_id) DO NOTHING
`
		res, err := tx.ExecContext(ctx, insContrib,
			string(key), period, c.SessionID, c.Seconds, c.ContributorID, c.CommittedAt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Session already charged; read the entry as-is.
			e, ok, err := getEntryTx(ctx, tx, key, period)
			if err != nil {
				return err
			}
			if !ok {
				return sql.ErrNoRows
			}
			out = e
			return nil
		}

		// Single-row atomic increment; the limit stamp is written in the
		// same statement so it can never be set twice.
		const upsert = `
INSERT INTO quota_ledger (pair_key, period, used_seconds, cap_seconds, limit_reached_at, created_at, updated_at)
VALUES ($1,$2,$3,$4, CASE WHEN $3 >= $4 THEN $5::timestamptz ELSE NULL END, $6, $6)
ON CONFLICT (pair_key, period)
DO UPDATE SET
  used_seconds = quota_ledger.used_seconds + EXCLUDED.used_seconds,
  limit_reached_at = COALESCE(
    quota_ledger.limit_reached_at,
    CASE WHEN quota_ledger.used_seconds + EXCLUDED.used_seconds >= quota_ledger.cap_seconds
      THEN $5::timestamptz ELSE NULL END),
  updated_at = EXCLUDED.updated_at
RETURNING pair_key, period, used_seconds, cap_seconds, limit_reached_at, created_at, updated_at
`
		err = tx.QueryRowContext(ctx, upsert,
			string(key), period, c.Seconds, capSeconds, c.CommittedAt, now).Scan(
			&out.PairKey,
			&out.Period,
			&out.UsedSeconds,
			&out.CapSeconds,
			&out.LimitReachedAt,
			&out.CreatedAt,
			&out.UpdatedAt,
		)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}

	contribs, err := r.listContributions(ctx, key, period)
	if err != nil {
		return Entry{}, false, err
	}
	out.Contributions = contribs
	return out, applied, nil
}

func (r *PostgresRepo) Reset(ctx context.Context, key pairkey.Key, period string) error {
	now := r.clock().UTC()
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const delContribs = `DELETE FROM quota_contributions WHERE pair_key = $1 AND period = $2`
		if _, err := tx.ExecContext(ctx, delContribs, string(key), period); err != nil {
			return err
		}
		const zero = `
UPDATE quota_ledger
SET used_seconds = 0, limit_reached_at = NULL, updated_at = $3
WHERE pair_key = $1 AND period = $2
`
		_, err := tx.ExecContext(ctx, zero, string(key), period, now)
		return err
	})
}

func getEntryTx(ctx context.Context, tx *sql.Tx, key pairkey.Key, period string) (Entry, bool, error) {
	const q = `
SELECT pair_key, period, used_seconds, cap_seconds, limit_reached_at, created_at, updated_at
FROM quota_ledger
WHERE pair_key = $1 AND period = $2
`
	var e Entry
	err := tx.QueryRowContext(ctx, q, string(key), period).Scan(
		&e.PairKey,
		&e.Period,
		&e.UsedSeconds,
		&e.CapSeconds,
		&e.LimitReachedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

func (r *PostgresRepo) listContributions(ctx context.Context, key pairkey.Key, period string) ([]Contribution, error) {
	const q = `
SELECT session_id, seconds, contributor_id, committed_at
FROM quota_contributions
WHERE pair_key = $1 AND period = $2
ORDER BY committed_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, string(key), period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contribution
	for rows.Next() {
		var c Contribution
		if err := rows.Scan(&c.SessionID, &c.Seconds, &c.ContributorID, &c.CommittedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
