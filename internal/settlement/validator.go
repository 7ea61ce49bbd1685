package settlement

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Validator confirms a player's on-chain balance covers a proposed stake.
type Validator struct {
	client Client
}

// NewValidator creates a stake validator backed by a settlement client.
func NewValidator(client Client) *Validator {
	return &Validator{client: client}
}

// CoversStake reports whether the address holds at least the stake. An
// unknown balance counts as not covered.
func (v *Validator) CoversStake(ctx context.Context, address string, stake uint64) bool {
	if !ValidAddress(address) {
		return false
	}
	balance, err := v.client.GetBalance(ctx, address)
	if err != nil {
		log.Warn().Err(err).Str("address", address).Msg("balance lookup failed")
		return false
	}
	return balance >= stake
}
