package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// Lists payout attempts that did not settle so an operator can reconcile
// them by hand. Failed settlements are never retried automatically.
func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "POSTGRES_DSN is required")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, `
        SELECT id, duel_id, winner_id, winner_wallet, stake, payout, fee, detail, created_at
        FROM payout_attempts
        WHERE status = 'failed'
        ORDER BY created_at
    `)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()

	var count int
	for rows.Next() {
		var (
			id, duelID, winnerID, wallet, detail string
			stake, payout, fee                   int64
			createdAt                            time.Time
		)
		if err := rows.Scan(&id, &duelID, &winnerID, &wallet, &stake, &payout, &fee, &detail, &createdAt); err != nil {
			fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
			os.Exit(1)
		}
		count++
		fmt.Printf("%s  duel=%s winner=%s wallet=%s stake=%d payout=%d fee=%d\n    %s\n",
			createdAt.Format(time.RFC3339), duelID, winnerID, wallet, stake, payout, fee, detail)
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "rows error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%d unsettled payout attempt(s)\n", count)
}
