package gateway

// CommandType discriminates client-to-server frames.
type CommandType string

const (
	CommandJoin CommandType = "join"
	CommandTap  CommandType = "tap"
)

// Command is one inbound JSON frame. DuelID and PlayerID are required on
// every recognized command; Stake and Wallet may ride along on a join so
// the player-facing flow can attach the wager without a second channel.
type Command struct {
	Type     CommandType `json:"type"`
	DuelID   string      `json:"duelId"`
	PlayerID string      `json:"playerId"`
	Stake    uint64      `json:"stake,omitempty"`
	Wallet   string      `json:"wallet,omitempty"`
}
