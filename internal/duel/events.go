package duel

// EventType discriminates server-to-client frames.
type EventType string

const (
	EventPlayers   EventType = "players"
	EventCountdown EventType = "countdown"
	EventStart     EventType = "start"
	EventTapUpdate EventType = "tap_update"
	EventResult    EventType = "result"
)

// PlayersEvent announces the current membership and state of a duel.
type PlayersEvent struct {
	Type    EventType `json:"type"`
	Players []string  `json:"players"`
	State   State     `json:"state"`
}

// CountdownEvent carries one tick of the pre-duel countdown.
type CountdownEvent struct {
	Type  EventType `json:"type"`
	Value int       `json:"value"`
}

// StartEvent marks the beginning of the active tap window.
type StartEvent struct {
	Type EventType `json:"type"`
}

// TapUpdateEvent carries a player's new tap count.
type TapUpdateEvent struct {
	Type     EventType `json:"type"`
	PlayerID string    `json:"playerId"`
	Taps     int       `json:"taps"`
}

// ResultEvent announces the final standing of a duel. Winner and Second
// are null when no player filled the slot.
type ResultEvent struct {
	Type       EventType `json:"type"`
	Winner     *string   `json:"winner"`
	WinnerTaps int       `json:"winnerTaps"`
	Second     *string   `json:"second"`
	SecondTaps int       `json:"secondTaps"`
}
