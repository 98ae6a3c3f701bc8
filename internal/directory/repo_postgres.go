package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresDirectory reads the platform's users table. This service never
// writes user rows; account lifecycle belongs to the surrounding platform.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) FindUser(ctx context.Context, id string) (User, error) {
	const q = `
SELECT id, display_name, tier, online, last_seen_at
FROM users
WHERE id = $1`

	var (
		u        User
		lastSeen sql.NullTime
	)
	err := d.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.DisplayName, &u.Tier, &u.Online, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	if lastSeen.Valid {
		t := lastSeen.Time.UTC()
		u.LastSeenAt = &t
	}
	return u, nil
}
