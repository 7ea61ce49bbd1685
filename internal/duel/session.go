package duel

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle phase of a duel session.
type State string

const (
	StateWaiting   State = "waiting"
	StateCountdown State = "countdown"
	StateActive    State = "active"
	StateFinished  State = "finished"
)

// Session is one matched pair of players and their shared match state.
// All fields below the mutex are guarded by it; sessions never share
// mutable state with each other.
type Session struct {
	ID string

	mu        sync.Mutex
	state     State
	createdAt time.Time

	// players is the live membership in join order. order keeps every id
	// that ever joined and is never shrunk by a leave; it carries the
	// tie-break rule: on equal tap counts the earlier joiner wins.
	players []string
	order   []string
	taps    map[string]int

	stake   uint64
	wallets map[string]string

	payout uint64
	fee    uint64
	paid   bool

	// cancelled when the session is removed from the registry, which
	// invalidates any countdown/finish timer still in flight.
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(ctx context.Context, id string, now time.Time) *Session {
	sctx, cancel := context.WithCancel(ctx)
	return &Session{
		ID:        id,
		state:     StateWaiting,
		createdAt: now,
		wallets:   make(map[string]string),
		ctx:       sctx,
		cancel:    cancel,
	}
}

// State returns the session's current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Players returns the player ids in join order.
func (s *Session) Players() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.players...)
}

// Taps returns the tap count for a player. The second return reports
// whether a counter exists, which is only the case once the duel is
// active or finished.
func (s *Session) Taps(playerID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.taps[playerID]
	return n, ok
}

// Paid reports whether the stake has been settled for this session.
func (s *Session) Paid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paid
}

// Stake returns the wagered amount attached to the session.
func (s *Session) Stake() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stake
}

func (s *Session) hasPlayerLocked(playerID string) bool {
	for _, p := range s.players {
		if p == playerID {
			return true
		}
	}
	return false
}

func (s *Session) inOrderLocked(playerID string) bool {
	for _, p := range s.order {
		if p == playerID {
			return true
		}
	}
	return false
}

func (s *Session) removePlayerLocked(playerID string) bool {
	for i, p := range s.players {
		if p == playerID {
			s.players = append(s.players[:i], s.players[i+1:]...)
			return true
		}
	}
	return false
}

// Outcome is the terminal result of a duel handed to the settlement side.
type Outcome struct {
	DuelID       string
	Winner       string
	WinnerTaps   int
	Second       string
	SecondTaps   int
	Stake        uint64
	WinnerWallet string
	LoserID      string
}

// outcomeLocked ranks every player holding a tap counter by count
// descending. A player who disconnected mid-duel still holds a counter,
// so leaving does not forfeit taps already made. The sort is stable over
// join order, so ties go to the earlier joiner. Callers hold s.mu.
func (s *Session) outcomeLocked() Outcome {
	o := Outcome{DuelID: s.ID, Stake: s.stake}

	ranked := make([]string, 0, len(s.taps))
	for _, p := range s.order {
		if _, ok := s.taps[p]; ok {
			ranked = append(ranked, p)
		}
	}
	if len(ranked) == 0 {
		return o
	}

	// Insertion sort keeps the relative join order of equal counts.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && s.taps[ranked[j]] > s.taps[ranked[j-1]]; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	o.Winner = ranked[0]
	o.WinnerTaps = s.taps[ranked[0]]
	o.WinnerWallet = s.wallets[ranked[0]]
	if len(ranked) > 1 {
		o.Second = ranked[1]
		o.SecondTaps = s.taps[ranked[1]]
		o.LoserID = ranked[1]
	}
	return o
}
