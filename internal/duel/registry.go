package duel

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Broadcaster fans a JSON-serializable event out to every open connection
// currently attached to a duel. Delivery is best effort.
type Broadcaster interface {
	Broadcast(duelID string, event any)
}

// Settler performs the irreversible stake settlement for a finished duel.
// Settle must be safe to call more than once for the same duel id.
type Settler interface {
	// Split computes the winner payout and house fee for a stake, in the
	// settlement network's smallest unit.
	Split(stake uint64) (payout, fee uint64)
	Settle(ctx context.Context, o Outcome) error
}

// StakeValidator confirms that an address holds enough balance to cover a
// proposed stake. Pure query, no mutation.
type StakeValidator interface {
	CoversStake(ctx context.Context, address string, stake uint64) bool
}

// Config holds the duel tunables.
type Config struct {
	CountdownStart  int
	CountdownTick   time.Duration
	ActiveWindow    time.Duration
	FinishRetention time.Duration
}

// DefaultConfig returns the production tunables: a 3..1 countdown ticking
// once per second, a 5 second tap window, and a 30 second retention of
// finished sessions.
func DefaultConfig() Config {
	return Config{
		CountdownStart:  3,
		CountdownTick:   time.Second,
		ActiveWindow:    5 * time.Second,
		FinishRetention: 30 * time.Second,
	}
}

// Registry is the process-wide store of live duel sessions. It is an
// injected object rather than package state so tests can run isolated
// instances. All transitions for one session are serialized by the
// session's own mutex; the registry mutex only guards the id map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg         Config
	clock       clockwork.Clock
	broadcaster Broadcaster
	settler     Settler
	stakes      StakeValidator

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRegistry creates a session registry. settler and stakes may be nil,
// which disables settlement and stake validation respectively.
func NewRegistry(cfg Config, clock clockwork.Clock, broadcaster Broadcaster, settler Settler, stakes StakeValidator) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sessions:    make(map[string]*Session),
		cfg:         cfg,
		clock:       clock,
		broadcaster: broadcaster,
		settler:     settler,
		stakes:      stakes,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Get returns the session for a duel id, or nil.
func (r *Registry) Get(duelID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[duelID]
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close cancels every session's timers and drops all sessions.
func (r *Registry) Close() {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		s.cancel()
		delete(r.sessions, id)
	}
}

// Join adds a player to a duel, creating the session on first contact.
// The second distinct player joining a waiting session starts the
// countdown. A join on a full session is ignored apart from a membership
// re-broadcast, so a misbehaving third client cannot corrupt a duel.
func (r *Registry) Join(duelID, playerID string) {
	if duelID == "" || playerID == "" {
		return
	}

	r.mu.Lock()
	s, ok := r.sessions[duelID]
	if !ok {
		s = newSession(r.ctx, duelID, r.clock.Now())
		r.sessions[duelID] = s
	}
	r.mu.Unlock()

	s.mu.Lock()
	startCountdown := false
	if !s.hasPlayerLocked(playerID) {
		if len(s.players) >= 2 {
			log.Debug().Str("duel_id", duelID).Str("player_id", playerID).
				Msg("join on full duel ignored")
		} else {
			s.players = append(s.players, playerID)
			if !s.inOrderLocked(playerID) {
				s.order = append(s.order, playerID)
			}
			if len(s.players) == 2 && s.state == StateWaiting {
				s.state = StateCountdown
				startCountdown = true
			}
		}
	}
	ev := PlayersEvent{Type: EventPlayers, Players: append([]string(nil), s.players...), State: s.state}
	s.mu.Unlock()

	r.broadcaster.Broadcast(duelID, ev)

	if startCountdown {
		log.Info().Str("duel_id", duelID).Msg("duel matched, starting countdown")
		// The ticker is created here, not in the goroutine, so the timer
		// is armed before Join returns.
		ticker := r.clock.NewTicker(r.cfg.CountdownTick)
		go r.runCountdown(s, ticker)
	}
}

// Tap increments a player's counter by one and broadcasts the new count.
// Ignored unless the session exists, is active, and the player holds a
// counter.
func (r *Registry) Tap(duelID, playerID string) {
	if duelID == "" || playerID == "" {
		return
	}
	s := r.Get(duelID)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	if _, ok := s.taps[playerID]; !ok {
		s.mu.Unlock()
		return
	}
	s.taps[playerID]++
	n := s.taps[playerID]
	s.mu.Unlock()

	r.broadcaster.Broadcast(duelID, TapUpdateEvent{Type: EventTapUpdate, PlayerID: playerID, Taps: n})
}

// Leave removes a player from its duel, broadcasts the new membership,
// and deletes the session outright once its player set is empty,
// regardless of state. Deletion cancels any timers still in flight.
func (r *Registry) Leave(duelID, playerID string) {
	s := r.Get(duelID)
	if s == nil {
		return
	}

	s.mu.Lock()
	if !s.removePlayerLocked(playerID) {
		s.mu.Unlock()
		return
	}
	empty := len(s.players) == 0
	ev := PlayersEvent{Type: EventPlayers, Players: append([]string(nil), s.players...), State: s.state}
	s.mu.Unlock()

	r.broadcaster.Broadcast(duelID, ev)

	if empty {
		r.remove(duelID)
		log.Info().Str("duel_id", duelID).Msg("duel abandoned, session deleted")
	}
}

// AttachStake binds the wagered amount and the players' settlement
// addresses to a session. The amounts arrive out-of-band from the
// player-facing flow before or at join time. When a stake validator is
// configured, a wallet that cannot cover the stake refuses the whole
// attachment.
func (r *Registry) AttachStake(ctx context.Context, duelID string, stake uint64, wallets map[string]string) {
	s := r.Get(duelID)
	if s == nil {
		return
	}

	if r.stakes != nil && stake > 0 {
		for player, addr := range wallets {
			if !r.stakes.CoversStake(ctx, addr, stake) {
				log.Warn().Str("duel_id", duelID).Str("player_id", player).
					Uint64("stake", stake).Msg("stake not covered by balance, attachment refused")
				return
			}
		}
	}

	s.mu.Lock()
	if stake > 0 {
		s.stake = stake
	}
	for player, addr := range wallets {
		if addr != "" {
			s.wallets[player] = addr
		}
	}
	s.mu.Unlock()
}

func (r *Registry) remove(duelID string) {
	r.mu.Lock()
	if s, ok := r.sessions[duelID]; ok {
		s.cancel()
		delete(r.sessions, duelID)
	}
	r.mu.Unlock()
}

// runCountdown ticks once per interval, broadcasting the remaining count
// until it hits zero, then flips the session to active and arms the duel
// window. Every tick re-checks that the session still exists so a deleted
// session never produces a ghost tick.
func (r *Registry) runCountdown(s *Session, ticker clockwork.Ticker) {
	defer ticker.Stop()

	value := r.cfg.CountdownStart
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.Chan():
			if r.Get(s.ID) != s {
				return
			}
			if value > 0 {
				r.broadcaster.Broadcast(s.ID, CountdownEvent{Type: EventCountdown, Value: value})
				value--
				continue
			}

			s.mu.Lock()
			if s.state != StateCountdown {
				s.mu.Unlock()
				return
			}
			s.state = StateActive
			s.taps = make(map[string]int, len(s.players))
			for _, p := range s.players {
				s.taps[p] = 0
			}
			s.mu.Unlock()

			// Arm the duel window before announcing the start so the
			// deadline can never lag behind what clients observed.
			timer := r.clock.NewTimer(r.cfg.ActiveWindow)
			go r.runActiveWindow(s, timer)
			r.broadcaster.Broadcast(s.ID, StartEvent{Type: EventStart})
			return
		}
	}
}

// runActiveWindow forces resolution once the fixed duel duration elapses.
func (r *Registry) runActiveWindow(s *Session, timer clockwork.Timer) {
	defer stopAndDrainTimer(timer)

	select {
	case <-s.ctx.Done():
	case <-timer.Chan():
		if r.Get(s.ID) != s {
			return
		}
		r.resolve(s)
	}
}

// resolve transitions an active session to finished, runs settlement, and
// broadcasts the result. The active-state guard under the session lock
// makes a duplicate invocation a no-op, so the payout block is entered at
// most once per session.
func (r *Registry) resolve(s *Session) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateFinished
	o := s.outcomeLocked()
	alreadyPaid := s.paid
	s.mu.Unlock()

	if r.settler != nil && !alreadyPaid && o.Winner != "" && o.Stake > 0 {
		payout, fee := r.settler.Split(o.Stake)
		if err := r.settler.Settle(r.ctx, o); err != nil {
			// Deliberately not retried; the journal keeps the attempt for
			// external reconciliation.
			log.Error().Err(err).
				Str("duel_id", o.DuelID).
				Str("winner", o.Winner).
				Str("wallet", o.WinnerWallet).
				Uint64("stake", o.Stake).
				Uint64("payout", payout).
				Uint64("fee", fee).
				Msg("stake settlement failed")
		} else {
			s.mu.Lock()
			s.paid = true
			s.payout = payout
			s.fee = fee
			s.mu.Unlock()
		}
	}

	retention := r.clock.NewTimer(r.cfg.FinishRetention)
	go r.expireAfterFinish(s, retention)

	// Players learn the outcome even when settlement is delayed or failed.
	r.broadcaster.Broadcast(s.ID, resultEvent(o))
	log.Info().Str("duel_id", o.DuelID).Str("winner", o.Winner).
		Int("winner_taps", o.WinnerTaps).Msg("duel resolved")
}

func resultEvent(o Outcome) ResultEvent {
	ev := ResultEvent{Type: EventResult, WinnerTaps: o.WinnerTaps, SecondTaps: o.SecondTaps}
	if o.Winner != "" {
		w := o.Winner
		ev.Winner = &w
	}
	if o.Second != "" {
		sec := o.Second
		ev.Second = &sec
	}
	return ev
}

// expireAfterFinish drops a finished session after the retention delay
// unless the empty-player rule removed it first.
func (r *Registry) expireAfterFinish(s *Session, timer clockwork.Timer) {
	defer stopAndDrainTimer(timer)

	select {
	case <-s.ctx.Done():
	case <-timer.Chan():
		r.remove(s.ID)
	}
}

// stopAndDrainTimer stops a timer and drains its channel so a fired timer
// does not leak a buffered tick.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
