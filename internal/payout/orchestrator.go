package payout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rayray1616/tap-duel-game-sub000/internal/duel"
	"github.com/Rayray1616/tap-duel-game-sub000/internal/settlement"
)

// Basis points of the stake kept by the house and paid to the winner.
// Integer division floors both, so at most one smallest unit is lost to
// rounding and fee+payout never exceeds the stake.
const (
	feeBps    = 1000
	payoutBps = 9000
)

// Notifier updates the external progression store with a duel outcome.
// Best effort: a failure must not undo the payout.
type Notifier interface {
	UpdateStats(ctx context.Context, winnerID, loserID string, amount uint64) error
}

// Journal records payout attempts for external reconciliation. Failed
// settlements are never retried automatically, so the journal is the only
// trail an operator has.
type Journal interface {
	Record(ctx context.Context, a Attempt) error
}

// Attempt is one settlement attempt and its outcome.
type Attempt struct {
	ID           uuid.UUID
	DuelID       string
	WinnerID     string
	WinnerWallet string
	Stake        uint64
	Payout       uint64
	Fee          uint64
	Status       string // "settled" or "failed"
	Detail       string
	CreatedAt    time.Time
}

// Orchestrator settles finished duels: it pays the winner from the hot
// wallet, collects the house fee, and marks the duel paid exactly once.
type Orchestrator struct {
	client       settlement.Client
	houseWallet  string
	stakeCeiling uint64
	notifier     Notifier
	journal      Journal

	mu      sync.Mutex
	settled map[string]bool
}

// NewOrchestrator creates a payout orchestrator. notifier and journal may
// be nil, which disables the respective side channel.
func NewOrchestrator(client settlement.Client, houseWallet string, stakeCeiling uint64, notifier Notifier, journal Journal) *Orchestrator {
	return &Orchestrator{
		client:       client,
		houseWallet:  houseWallet,
		stakeCeiling: stakeCeiling,
		notifier:     notifier,
		journal:      journal,
		settled:      make(map[string]bool),
	}
}

// Split computes the winner payout and house fee for a stake.
func (o *Orchestrator) Split(stake uint64) (payout, fee uint64) {
	return stake * payoutBps / 10000, stake * feeBps / 10000
}

// Settle runs the payout sequence for a finished duel. Each step is a
// hard precondition for the next: split computation, paid-idempotency
// check, winner address validation, stake range validation, winner
// transfer, house-fee transfer. Only when both transfers succeed is the
// duel marked settled and the progression store notified. On any failure
// the duel stays unsettled and the attempt is journaled; there is no
// automatic retry.
func (o *Orchestrator) Settle(ctx context.Context, out duel.Outcome) error {
	payout, fee := o.Split(out.Stake)

	o.mu.Lock()
	if o.settled[out.DuelID] {
		o.mu.Unlock()
		log.Debug().Str("duel_id", out.DuelID).Msg("duel already settled, skipping")
		return nil
	}
	o.mu.Unlock()

	if !settlement.ValidAddress(out.WinnerWallet) {
		return o.fail(ctx, out, payout, fee, fmt.Errorf("invalid winner wallet %q", out.WinnerWallet))
	}
	if out.Stake == 0 {
		return o.fail(ctx, out, payout, fee, fmt.Errorf("non-positive stake"))
	}
	if o.stakeCeiling > 0 && out.Stake > o.stakeCeiling {
		return o.fail(ctx, out, payout, fee, fmt.Errorf("stake %d exceeds ceiling %d", out.Stake, o.stakeCeiling))
	}

	if err := o.transfer(ctx, out.WinnerWallet, payout); err != nil {
		return o.fail(ctx, out, payout, fee, fmt.Errorf("winner payout: %w", err))
	}
	if fee > 0 {
		if err := o.transfer(ctx, o.houseWallet, fee); err != nil {
			// Winner is paid but the fee is not; the journal entry carries
			// the detail for reconciliation.
			return o.fail(ctx, out, payout, fee, fmt.Errorf("house fee: %w", err))
		}
	}

	o.mu.Lock()
	o.settled[out.DuelID] = true
	o.mu.Unlock()

	o.record(ctx, out, payout, fee, "settled", "")
	log.Info().
		Str("duel_id", out.DuelID).
		Str("winner", out.Winner).
		Uint64("payout", payout).
		Uint64("fee", fee).
		Msg("duel settled")

	if o.notifier != nil {
		if err := o.notifier.UpdateStats(ctx, out.Winner, out.LoserID, out.Stake); err != nil {
			log.Warn().Err(err).Str("duel_id", out.DuelID).Msg("progression store update failed")
		}
	}
	return nil
}

// transfer runs the two-step remote operation: fetch the hot wallet's
// current sequence number, then submit the signed transfer.
func (o *Orchestrator) transfer(ctx context.Context, dest string, amount uint64) error {
	seq, err := o.client.GetSequence(ctx)
	if err != nil {
		return fmt.Errorf("fetch sequence: %w", err)
	}
	txID, err := o.client.SubmitTransfer(ctx, dest, amount, seq)
	if err != nil {
		return fmt.Errorf("submit transfer: %w", err)
	}
	log.Debug().Str("tx_id", txID).Str("dest", dest).Uint64("amount", amount).Msg("transfer submitted")
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, out duel.Outcome, payout, fee uint64, err error) error {
	log.Error().Err(err).
		Str("duel_id", out.DuelID).
		Str("winner", out.Winner).
		Str("wallet", out.WinnerWallet).
		Uint64("stake", out.Stake).
		Uint64("payout", payout).
		Uint64("fee", fee).
		Msg("payout aborted")
	o.record(ctx, out, payout, fee, "failed", err.Error())
	return err
}

func (o *Orchestrator) record(ctx context.Context, out duel.Outcome, payout, fee uint64, status, detail string) {
	if o.journal == nil {
		return
	}
	a := Attempt{
		ID:           uuid.New(),
		DuelID:       out.DuelID,
		WinnerID:     out.Winner,
		WinnerWallet: out.WinnerWallet,
		Stake:        out.Stake,
		Payout:       payout,
		Fee:          fee,
		Status:       status,
		Detail:       detail,
		CreatedAt:    time.Now().UTC(),
	}
	if err := o.journal.Record(ctx, a); err != nil {
		log.Warn().Err(err).Str("duel_id", out.DuelID).Msg("failed to journal payout attempt")
	}
}
