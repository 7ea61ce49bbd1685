package payout

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresJournal persists payout attempts through database/sql with the
// pq driver. Session state itself is memory-only; this table exists so a
// failed settlement is not silently lost across restarts.
type PostgresJournal struct {
	db *sql.DB
}

// NewPostgresJournal wraps an open database handle.
func NewPostgresJournal(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// EnsureSchema creates the payout_attempts table if it does not exist.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS payout_attempts (
            id            UUID PRIMARY KEY,
            duel_id       TEXT NOT NULL,
            winner_id     TEXT NOT NULL,
            winner_wallet TEXT NOT NULL,
            stake         BIGINT NOT NULL,
            payout        BIGINT NOT NULL,
            fee           BIGINT NOT NULL,
            status        TEXT NOT NULL,
            detail        TEXT NOT NULL DEFAULT '',
            created_at    TIMESTAMPTZ NOT NULL
        )
    `)
	if err != nil {
		return fmt.Errorf("failed to ensure payout_attempts schema: %w", err)
	}
	return nil
}

// Record inserts one payout attempt.
func (j *PostgresJournal) Record(ctx context.Context, a Attempt) error {
	_, err := j.db.ExecContext(ctx, `
        INSERT INTO payout_attempts (
            id, duel_id, winner_id, winner_wallet,
            stake, payout, fee, status, detail, created_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    `,
		a.ID, a.DuelID, a.WinnerID, a.WinnerWallet,
		a.Stake, a.Payout, a.Fee, a.Status, a.Detail, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payout attempt: %w", err)
	}
	return nil
}
