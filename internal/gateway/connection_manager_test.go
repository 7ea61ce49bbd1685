package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rayray1616/tap-duel-game-sub000/internal/duel"
)

type call struct {
	name     string
	duelID   string
	playerID string
	stake    uint64
}

type fakeDuelService struct {
	mu    sync.Mutex
	calls []call
}

func (s *fakeDuelService) record(c call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *fakeDuelService) snapshot() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func (s *fakeDuelService) Join(duelID, playerID string)  { s.record(call{"join", duelID, playerID, 0}) }
func (s *fakeDuelService) Tap(duelID, playerID string)   { s.record(call{"tap", duelID, playerID, 0}) }
func (s *fakeDuelService) Leave(duelID, playerID string) { s.record(call{"leave", duelID, playerID, 0}) }
func (s *fakeDuelService) AttachStake(ctx context.Context, duelID string, stake uint64, wallets map[string]string) {
	s.record(call{"attach_stake", duelID, "", stake})
}

func newTestConnection(svc DuelService) (*ConnectionManager, *Connection) {
	cm := NewConnectionManager(DefaultConnectionConfig(), svc)
	conn := &Connection{
		ID:      "test-conn",
		Send:    make(chan []byte, 16),
		Manager: cm,
		done:    make(chan struct{}),
	}
	return cm, conn
}

func TestHandleFrameRoutesCommands(t *testing.T) {
	svc := &fakeDuelService{}
	_, conn := newTestConnection(svc)

	conn.handleFrame([]byte(`{"type":"join","duelId":"d1","playerId":"p1"}`))
	conn.handleFrame([]byte(`{"type":"tap","duelId":"d1","playerId":"p1"}`))

	calls := svc.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, call{"join", "d1", "p1", 0}, calls[0])
	assert.Equal(t, call{"tap", "d1", "p1", 0}, calls[1])
}

func TestHandleFrameJoinWithStakeAttaches(t *testing.T) {
	svc := &fakeDuelService{}
	_, conn := newTestConnection(svc)

	conn.handleFrame([]byte(`{"type":"join","duelId":"d1","playerId":"p1","stake":500,"wallet":"EQwallet"}`))

	calls := svc.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "join", calls[0].name)
	assert.Equal(t, call{"attach_stake", "d1", "", 500}, calls[1])
}

func TestHandleFrameBindsConnectionToFirstJoin(t *testing.T) {
	svc := &fakeDuelService{}
	_, conn := newTestConnection(svc)

	conn.handleFrame([]byte(`{"type":"join","duelId":"d1","playerId":"p1"}`))
	conn.handleFrame([]byte(`{"type":"join","duelId":"d2","playerId":"p2"}`)) // dropped
	conn.handleFrame([]byte(`{"type":"join","duelId":"d1","playerId":"p1"}`)) // repeat is harmless

	calls := svc.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, call{"join", "d1", "p1", 0}, calls[0])
	assert.Equal(t, call{"join", "d1", "p1", 0}, calls[1])

	conn.mu.Lock()
	duelID, playerID := conn.duelID, conn.playerID
	conn.mu.Unlock()
	assert.Equal(t, "d1", duelID, "binding must stick to the first join")
	assert.Equal(t, "p1", playerID)
}

func TestHandleFrameDropsGarbageSilently(t *testing.T) {
	svc := &fakeDuelService{}
	_, conn := newTestConnection(svc)

	conn.handleFrame([]byte(`{not json`))
	conn.handleFrame([]byte(`{"type":"join","duelId":"d1"}`))           // missing playerId
	conn.handleFrame([]byte(`{"type":"join","playerId":"p1"}`))         // missing duelId
	conn.handleFrame([]byte(`{"type":"dance","duelId":"d","playerId":"p"}`)) // unknown type

	assert.Empty(t, svc.snapshot())
}

func TestHandleBroadcastDeliversToRegisteredConnections(t *testing.T) {
	svc := &fakeDuelService{}
	cm, conn := newTestConnection(svc)
	cm.registerConnection(conn, "d1")

	other := &Connection{ID: "other", Send: make(chan []byte, 16), Manager: cm, done: make(chan struct{})}
	cm.registerConnection(other, "d2")

	cm.handleBroadcast(broadcastMessage{duelID: "d1", event: duel.StartEvent{Type: duel.EventStart}})

	select {
	case data := <-conn.Send:
		assert.JSONEq(t, `{"type":"start"}`, string(data))
	default:
		t.Fatal("expected broadcast delivery to duel member")
	}

	select {
	case <-other.Send:
		t.Fatal("connection in another duel must not receive the event")
	default:
	}
}

func TestHandleBroadcastUnknownDuelIsNoOp(t *testing.T) {
	svc := &fakeDuelService{}
	cm, _ := newTestConnection(svc)
	cm.handleBroadcast(broadcastMessage{duelID: "ghost", event: duel.StartEvent{Type: duel.EventStart}})
}

func TestBroadcastDuringDisconnectDoesNotPanic(t *testing.T) {
	svc := &fakeDuelService{}
	cm, conn := newTestConnection(svc)
	conn.duelID, conn.playerID = "d1", "p1"
	cm.registerConnection(conn, "d1")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			cm.handleBroadcast(broadcastMessage{duelID: "d1", event: duel.StartEvent{Type: duel.EventStart}})
		}
	}()
	go func() {
		defer wg.Done()
		cm.unregisterConnection(conn)
	}()
	wg.Wait()

	_, duels := cm.Stats()
	assert.Equal(t, 0, duels)
}

func TestStats(t *testing.T) {
	svc := &fakeDuelService{}
	cm, conn := newTestConnection(svc)
	cm.registerConnection(conn, "d1")

	total, duels := cm.Stats()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, duels)
}

// End-to-end over a real socket: join, read the membership frame, then
// disconnect and watch the session disappear.
func TestJoinAndDisconnectOverWebSocket(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), nil)
	registry := duel.NewRegistry(duel.DefaultConfig(), clockwork.NewFakeClock(), cm, nil, nil)
	defer registry.Close()
	cm.SetDuelService(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cm.Start(ctx)

	mux := http.NewServeMux()
	NewWebSocketHandler(cm).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/duel"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Command{Type: CommandJoin, DuelID: "d1", PlayerID: "p1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev duel.PlayersEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, duel.EventPlayers, ev.Type)
	assert.Equal(t, []string{"p1"}, ev.Players)
	assert.Equal(t, duel.StateWaiting, ev.State)
	assert.Equal(t, 1, registry.Len())

	// A garbage frame must not kill the connection or leak an error back.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	conn.Close()
	require.Eventually(t, func() bool {
		return registry.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "disconnect must delete the emptied session")
}
