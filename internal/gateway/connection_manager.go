package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// DuelService is the slice of the session registry the gateway drives.
type DuelService interface {
	Join(duelID, playerID string)
	Tap(duelID, playerID string)
	Leave(duelID, playerID string)
	AttachStake(ctx context.Context, duelID string, stake uint64, wallets map[string]string)
}

// ConnectionManager owns the WebSocket connections, grouped per duel, and
// fans session events out to them.
type ConnectionManager struct {
	duelConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	duels    DuelService

	broadcastCh chan broadcastMessage
}

// Connection represents a WebSocket connection to a client. The identity
// is bound by the first valid join frame; later joins for a different
// duel or player are dropped.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	mu       sync.Mutex
	duelID   string
	playerID string

	// done is the single shutdown signal. Send is never closed, so a
	// broadcast racing a disconnect cannot panic on a closed channel.
	done      chan struct{}
	closeOnce sync.Once

	ConnectedAt time.Time
}

func (c *Connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	duelID string
	event  any
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a WebSocket connection manager routing
// commands into the given duel service. The service may be nil at
// construction time and set later via SetDuelService, since the registry
// in turn needs the manager as its broadcaster.
func NewConnectionManager(config ConnectionConfig, duels DuelService) *ConnectionManager {
	return &ConnectionManager{
		duelConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		duels:       duels,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetDuelService wires the registry in after construction. Must be called
// before the first connection is accepted.
func (cm *ConnectionManager) SetDuelService(duels DuelService) {
	cm.duels = duels
}

// Start begins processing broadcast messages until the context ends.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts
// its pumps. The connection joins a duel pool once its join frame arrives.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().Str("connection_id", connection.ID).Msg("WebSocket connection established")
	return nil
}

// Broadcast enqueues an event for every connection in a duel's pool. It
// satisfies the registry's Broadcaster contract.
func (cm *ConnectionManager) Broadcast(duelID string, event any) {
	select {
	case cm.broadcastCh <- broadcastMessage{duelID: duelID, event: event}:
	default:
		log.Warn().Str("duel_id", duelID).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) registerConnection(conn *Connection, duelID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.duelConnections[duelID] == nil {
		cm.duelConnections[duelID] = make(map[*Connection]bool)
	}
	cm.duelConnections[duelID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("duel_id", duelID).
		Int("total_connections", len(cm.duelConnections[duelID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	conn.close()

	conn.mu.Lock()
	duelID := conn.duelID
	conn.mu.Unlock()
	if duelID == "" {
		return
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.duelConnections[duelID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)

			if len(connections) == 0 {
				delete(cm.duelConnections, duelID)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("duel_id", duelID).
				Msg("connection unregistered")
		}
	}
}

// handleBroadcast delivers one event to every open connection of a duel.
// Saturated or closed connections are skipped; a missed message is lost.
func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.duelConnections[message.duelID]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- eventData:
		case <-conn.done:
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("duel_id", message.duelID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats returns counters about active connections.
func (cm *ConnectionManager) Stats() (totalConnections, activeDuels int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, connections := range cm.duelConnections {
		totalConnections += len(connections)
	}
	return totalConnections, len(cm.duelConnections)
}

// writePump sends queued messages and keepalive pings to the peer.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes inbound frames until the peer disconnects, then pulls
// the player out of its duel.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()

		c.mu.Lock()
		duelID, playerID := c.duelID, c.playerID
		c.mu.Unlock()
		if duelID != "" && playerID != "" {
			c.Manager.duels.Leave(duelID, playerID)
		}
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleFrame(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleFrame decodes one inbound frame and routes it. Malformed JSON,
// unknown types, and missing required fields are dropped without any
// signal to the peer.
func (c *Connection) handleFrame(message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("dropping unparsable frame")
		return
	}
	if cmd.DuelID == "" || cmd.PlayerID == "" {
		log.Debug().
			Str("connection_id", c.ID).
			Str("type", string(cmd.Type)).
			Msg("dropping frame with missing ids")
		return
	}

	switch cmd.Type {
	case CommandJoin:
		c.mu.Lock()
		if c.duelID != "" && (c.duelID != cmd.DuelID || c.playerID != cmd.PlayerID) {
			c.mu.Unlock()
			log.Debug().
				Str("connection_id", c.ID).
				Str("duel_id", cmd.DuelID).
				Msg("dropping join, connection already bound")
			return
		}
		first := c.duelID == ""
		c.duelID, c.playerID = cmd.DuelID, cmd.PlayerID
		c.mu.Unlock()
		if first {
			c.Manager.registerConnection(c, cmd.DuelID)
		}
		c.Manager.duels.Join(cmd.DuelID, cmd.PlayerID)
		if cmd.Stake > 0 || cmd.Wallet != "" {
			c.Manager.duels.AttachStake(context.Background(), cmd.DuelID, cmd.Stake,
				map[string]string{cmd.PlayerID: cmd.Wallet})
		}

	case CommandTap:
		c.Manager.duels.Tap(cmd.DuelID, cmd.PlayerID)

	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("type", string(cmd.Type)).
			Msg("dropping frame with unknown type")
	}
}
