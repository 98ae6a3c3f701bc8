package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"matchline/internal/pairkey"
	"matchline/pkg/utils"
)

// PostgresStore persists sessions in Postgres.
//
// Assumed table:
//
//	call_sessions (
//	  id TEXT PRIMARY KEY, pair_key TEXT, caller_id TEXT, recipient_id TEXT,
//	  room_id TEXT, join_url TEXT, provider_tag TEXT, status TEXT,
//	  duration_seconds BIGINT, created_at TIMESTAMPTZ,
//	  started_at TIMESTAMPTZ NULL, ended_at TIMESTAMPTZ NULL
//	)
//	CREATE UNIQUE INDEX call_sessions_open_pair
//	  ON call_sessions (pair_key) WHERE status IN ('ringing','ongoing');
//
// The partial unique index is what makes CreateOrReuseOpen a single atomic
// check-and-insert: two concurrent initiates for the same pair race on the
// index, the loser reads the winner's row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `
id, pair_key, caller_id, recipient_id, room_id, join_url, provider_tag,
status, duration_seconds, created_at, started_at, ended_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	err := row.Scan(
		&s.ID,
		&s.PairKey,
		&s.CallerID,
		&s.RecipientID,
		&s.RoomID,
		&s.JoinURL,
		&s.ProviderTag,
		&s.Status,
		&s.DurationSeconds,
		&s.CreatedAt,
		&s.StartedAt,
		&s.EndedAt,
	)
	return s, err
}

func (st *PostgresStore) CreateOrReuseOpen(ctx context.Context, s Session) (Session, bool, error) {
	if s.ID == "" || s.PairKey == "" {
		return Session{}, false, ErrInvalidArgument
	}

	var out Session
	var created bool

	err := utils.WithTx(ctx, st.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const ins = `
INSERT INTO call_sessions (` + sessionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (pair_key) WHERE status IN ('ringing','ongoing') DO NOTHING
RETURNING ` + sessionColumns
		row := tx.QueryRowContext(ctx, ins,
			s.ID, string(s.PairKey), s.CallerID, s.RecipientID, s.RoomID, s.JoinURL,
			s.ProviderTag, string(s.Status), s.DurationSeconds, s.CreatedAt, s.StartedAt, s.EndedAt,
		)
		inserted, err := scanSession(row)
		if err == nil {
			out = inserted
			created = true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		// Insert lost to the open-pair index; return the winner.
		const sel = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE pair_key = $1 AND status IN ('ringing','ongoing')
`
		existing, err := scanSession(tx.QueryRowContext(ctx, sel, string(s.PairKey)))
		if err != nil {
			return err
		}
		out = existing
		return nil
	})
	if err != nil {
		return Session{}, false, err
	}
	return out, created, nil
}

func (st *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE id = $1
`
	s, err := scanSession(st.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	return s, nil
}

func (st *PostgresStore) Update(ctx context.Context, s Session, from Status) (Session, error) {
	// The status predicate is the compare-and-set; a row that moved since
	// the caller's read matches zero rows.
	const q = `
UPDATE call_sessions
SET status = $3, duration_seconds = $4, started_at = $5, ended_at = $6
WHERE id = $1 AND status = $2
RETURNING ` + sessionColumns
	out, err := scanSession(st.db.QueryRowContext(ctx, q,
		s.ID, string(from), string(s.Status), s.DurationSeconds, s.StartedAt, s.EndedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := st.Get(ctx, s.ID); getErr != nil {
				return Session{}, getErr
			}
			return Session{}, ErrStatusConflict
		}
		return Session{}, err
	}
	return out, nil
}

func (st *PostgresStore) FindOpenByPair(ctx context.Context, key pairkey.Key) (Session, bool, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE pair_key = $1 AND status IN ('ringing','ongoing')
`
	s, err := scanSession(st.db.QueryRowContext(ctx, q, string(key)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	return s, true, nil
}

func (st *PostgresStore) ListStaleRinging(ctx context.Context, before time.Time) ([]Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE status = 'ringing' AND created_at < $1
`
	rows, err := st.db.QueryContext(ctx, q, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
