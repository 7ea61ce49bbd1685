package duel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testSession(players ...string) *Session {
	s := newSession(context.Background(), "d1", time.Now())
	s.players = append(s.players, players...)
	s.order = append(s.order, players...)
	s.taps = make(map[string]int)
	for _, p := range players {
		s.taps[p] = 0
	}
	return s
}

func TestOutcomeRanksByTapsDescending(t *testing.T) {
	s := testSession("p1", "p2")
	s.taps["p1"] = 2
	s.taps["p2"] = 7
	s.wallets["p2"] = "EQp2wallet"
	s.stake = 100

	o := s.outcomeLocked()
	assert.Equal(t, "p2", o.Winner)
	assert.Equal(t, 7, o.WinnerTaps)
	assert.Equal(t, "p1", o.Second)
	assert.Equal(t, 2, o.SecondTaps)
	assert.Equal(t, "p1", o.LoserID)
	assert.Equal(t, "EQp2wallet", o.WinnerWallet)
	assert.Equal(t, uint64(100), o.Stake)
}

func TestOutcomeTieKeepsJoinOrder(t *testing.T) {
	s := testSession("p1", "p2")
	s.taps["p1"] = 3
	s.taps["p2"] = 3

	o := s.outcomeLocked()
	assert.Equal(t, "p1", o.Winner)
	assert.Equal(t, "p2", o.Second)
}

func TestOutcomeWithSoloPlayerHasNoRunnerUp(t *testing.T) {
	s := testSession("p1")
	s.taps["p1"] = 4

	o := s.outcomeLocked()
	assert.Equal(t, "p1", o.Winner)
	assert.Equal(t, 4, o.WinnerTaps)
	assert.Empty(t, o.Second)
	assert.Zero(t, o.SecondTaps)
}

func TestOutcomeRanksPlayerNoLongerPresent(t *testing.T) {
	s := testSession("p1", "p2")
	s.taps["p1"] = 1
	s.taps["p2"] = 5
	s.removePlayerLocked("p2")

	o := s.outcomeLocked()
	assert.Equal(t, "p2", o.Winner, "a counter outlives its player's membership")
	assert.Equal(t, 5, o.WinnerTaps)
	assert.Equal(t, "p1", o.Second)
	assert.Equal(t, 1, o.SecondTaps)
}

func TestOutcomeSkipsPlayerWithoutCounter(t *testing.T) {
	s := testSession("p1", "p2")
	s.taps["p1"] = 2
	delete(s.taps, "p2") // left before the duel went active

	o := s.outcomeLocked()
	assert.Equal(t, "p1", o.Winner)
	assert.Empty(t, o.Second)
}

func TestOutcomeWithNoPlayersIsEmpty(t *testing.T) {
	s := newSession(context.Background(), "d1", time.Now())

	o := s.outcomeLocked()
	assert.Empty(t, o.Winner)
	assert.Empty(t, o.Second)
}
