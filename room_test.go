package main

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBackplane captures everything published so tests can assert on the
// cross-process relay path without a Redis instance.
type recordingBackplane struct {
	mu     sync.Mutex
	events []recordedEvent
	relay  func(roomID string, event json.RawMessage)
}

type recordedEvent struct {
	roomID string
	event  any
}

func (b *recordingBackplane) Start(relay func(string, json.RawMessage)) {
	b.relay = relay
}

func (b *recordingBackplane) Publish(roomID string, event any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{roomID: roomID, event: event})
}

func (b *recordingBackplane) published() []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]recordedEvent, len(b.events))
	copy(out, b.events)
	return out
}

func newTestServer() *GameServer {
	return newGameServer(&Config{}, noopBackplane{})
}

func newTestClient() *Client {
	// Generous buffer so long rounds never drop the test client.
	return &Client{send: make(chan any, 4096)}
}

// drain empties a client's send buffer without blocking.
func drain(c *Client) []any {
	var msgs []any
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				return msgs
			}
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

// collectFor drains a client's send buffer for roughly d.
func collectFor(c *Client, d time.Duration) []any {
	deadline := time.After(d)
	var msgs []any
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				return msgs
			}
			msgs = append(msgs, m)
		case <-deadline:
			return msgs
		}
	}
}

func join(s *GameServer, c *Client, roomID, playerID, playerName string) {
	s.handleJoin(c, ClientMessage{
		Type:       "joinRoom",
		RoomID:     roomID,
		PlayerID:   playerID,
		PlayerName: playerName,
	})
}

func TestJoinCreatesRoomWithJoinerAsHost(t *testing.T) {
	s := newTestServer()
	c := newTestClient()

	join(s, c, "ABC123", "p1", "Alice")

	msgs := drain(c)
	require.Len(t, msgs, 1)

	joined, ok := msgs[0].(RoomJoinedMessage)
	require.True(t, ok)
	assert.True(t, joined.IsHost)
	require.Len(t, joined.Players, 1)
	assert.Equal(t, "p1", joined.Players[0].ID)
	assert.True(t, joined.Players[0].IsHost)

	room := s.room("ABC123")
	require.NotNil(t, room)
	assert.Equal(t, "p1", room.hostID)
	assert.Equal(t, StateWaiting, room.state)
}

func TestJoinNotifiesRestOfRoom(t *testing.T) {
	s := newTestServer()
	c1 := newTestClient()
	c2 := newTestClient()

	join(s, c1, "ABC123", "p1", "Alice")
	drain(c1)

	join(s, c2, "ABC123", "p2", "Bob")

	// Joiner gets roomJoined with isHost false.
	msgs := drain(c2)
	require.Len(t, msgs, 1)
	joined := msgs[0].(RoomJoinedMessage)
	assert.False(t, joined.IsHost)
	assert.Len(t, joined.Players, 2)

	// The other member gets playerJoined with the full roster.
	msgs = drain(c1)
	require.Len(t, msgs, 1)
	notified, ok := msgs[0].(PlayerJoinedMessage)
	require.True(t, ok)
	require.Len(t, notified.Players, 2)
	assert.Equal(t, "p1", notified.Players[0].ID)
	assert.Equal(t, "p2", notified.Players[1].ID)
}

func TestJoinSequencesNeverDuplicateAndKeepOneHost(t *testing.T) {
	s := newTestServer()

	ids := []string{"p1", "p2", "p1", "p3", "p2", "p1"}
	for _, id := range ids {
		c := newTestClient()
		join(s, c, "ABC123", id, "Player"+id)
	}

	room := s.room("ABC123")
	require.NotNil(t, room)

	room.mu.Lock()
	defer room.mu.Unlock()

	seen := make(map[string]bool)
	hosts := 0
	for _, p := range room.players {
		assert.False(t, seen[p.ID], "duplicate player %s", p.ID)
		seen[p.ID] = true
		if p.IsHost {
			hosts++
		}
	}
	assert.Len(t, room.players, 3)
	assert.Equal(t, 1, hosts)
	assert.Equal(t, "p1", room.hostID)
}

func TestRejoinUpdatesNameOnly(t *testing.T) {
	s := newTestServer()
	c1 := newTestClient()
	c2 := newTestClient()

	join(s, c1, "ABC123", "p1", "Alice")
	join(s, c2, "ABC123", "p2", "Bob")

	// Reconnect with the same id, new name.
	c3 := newTestClient()
	join(s, c3, "ABC123", "p1", "Alicia")

	room := s.room("ABC123")
	room.mu.Lock()
	defer room.mu.Unlock()

	require.Len(t, room.players, 2)
	assert.Equal(t, "Alicia", room.players[0].Name)
	assert.True(t, room.players[0].IsHost, "rejoin must not touch the host flag")
	assert.Equal(t, "p1", room.hostID)
}

func TestJoinMalformedRejectedWithoutStateChange(t *testing.T) {
	s := newTestServer()
	c := newTestClient()

	s.handleJoin(c, ClientMessage{Type: "joinRoom", RoomID: "ABC123"})

	msgs := drain(c)
	require.Len(t, msgs, 1)
	_, ok := msgs[0].(ErrorMessage)
	assert.True(t, ok)

	assert.Nil(t, s.room("ABC123"))
}

func TestHostLeavePromotesEarliestRemainingPlayer(t *testing.T) {
	s := newTestServer()
	c1 := newTestClient()
	c2 := newTestClient()
	c3 := newTestClient()

	join(s, c1, "ABC123", "p1", "Alice")
	join(s, c2, "ABC123", "p2", "Bob")
	join(s, c3, "ABC123", "p3", "Carol")
	drain(c2)
	drain(c3)

	s.handleLeave(c1)

	room := s.room("ABC123")
	require.NotNil(t, room)
	room.mu.Lock()
	assert.Equal(t, "p2", room.hostID)
	assert.True(t, room.players[0].IsHost)
	assert.Equal(t, "p2", room.players[0].ID)
	room.mu.Unlock()

	msgs := drain(c2)
	require.NotEmpty(t, msgs)
	left, ok := msgs[len(msgs)-1].(PlayerLeftMessage)
	require.True(t, ok)
	assert.Equal(t, "p2", left.NewHostID)
	assert.Equal(t, "p1", left.LeftPlayerID)
	assert.Equal(t, "Alice", left.LeftPlayerName)
	assert.Len(t, left.Players, 2)
}

func TestNonHostLeaveKeepsHost(t *testing.T) {
	s := newTestServer()
	c1 := newTestClient()
	c2 := newTestClient()

	join(s, c1, "ABC123", "p1", "Alice")
	join(s, c2, "ABC123", "p2", "Bob")
	drain(c1)

	s.handleLeave(c2)

	msgs := drain(c1)
	require.NotEmpty(t, msgs)
	left := msgs[len(msgs)-1].(PlayerLeftMessage)
	assert.Equal(t, "", left.NewHostID, "host unchanged is signalled by the empty sentinel")

	room := s.room("ABC123")
	room.mu.Lock()
	assert.Equal(t, "p1", room.hostID)
	room.mu.Unlock()
}

func TestLastLeaveDeletesRoomAndCancelsTimer(t *testing.T) {
	s := newTestServer()
	c := newTestClient()

	join(s, c, "ABC123", "p1", "Alice")

	room := s.room("ABC123")
	require.NotNil(t, room)

	s.handleStartGame(c, ClientMessage{Type: "startGame", RoomID: "ABC123", Duration: 30})
	room.mu.Lock()
	require.NotNil(t, room.round)
	room.mu.Unlock()

	s.handleLeave(c)

	assert.Nil(t, s.room("ABC123"))

	room.mu.Lock()
	assert.Nil(t, room.round, "round timer must be cancelled on room destruction")
	assert.True(t, room.closed)
	room.mu.Unlock()

	// No tick may fire after cancellation.
	drain(c)
	assert.Empty(t, collectFor(c, 350*time.Millisecond))
}

func TestLeaveIsIdempotent(t *testing.T) {
	s := newTestServer()
	c1 := newTestClient()
	c2 := newTestClient()

	join(s, c1, "ABC123", "p1", "Alice")
	join(s, c2, "ABC123", "p2", "Bob")
	drain(c2)

	// Explicit leave immediately followed by the transport-level disconnect.
	s.handleLeave(c1)
	s.handleLeave(c1)

	room := s.room("ABC123")
	require.NotNil(t, room)
	room.mu.Lock()
	assert.Len(t, room.players, 1)
	room.mu.Unlock()

	// Only one playerLeft reached the survivor.
	removals := 0
	for _, m := range drain(c2) {
		if _, ok := m.(PlayerLeftMessage); ok {
			removals++
		}
	}
	assert.Equal(t, 1, removals)
}

func TestUnboundLeaveIsNoOp(t *testing.T) {
	s := newTestServer()
	c := newTestClient()

	assert.NotPanics(t, func() {
		s.handleLeave(c)
	})
}

func TestPlayerLeftTimestampsIncrease(t *testing.T) {
	s := newTestServer()
	observer := newTestClient()
	join(s, observer, "ABC123", "p0", "Observer")

	var stamps []int64
	for i := 0; i < 5; i++ {
		c := newTestClient()
		join(s, c, "ABC123", "p1", "Flaky")
		drain(observer)
		s.handleLeave(c)

		msgs := drain(observer)
		require.NotEmpty(t, msgs)
		left := msgs[len(msgs)-1].(PlayerLeftMessage)
		stamps = append(stamps, left.Timestamp)
	}

	for i := 1; i < len(stamps); i++ {
		assert.Greater(t, stamps[i], stamps[i-1])
	}
}

func TestBroadcastsReachBackplane(t *testing.T) {
	backplane := &recordingBackplane{}
	s := newGameServer(&Config{}, backplane)

	c1 := newTestClient()
	c2 := newTestClient()
	join(s, c1, "ABC123", "p1", "Alice")
	join(s, c2, "ABC123", "p2", "Bob")

	events := backplane.published()
	require.NotEmpty(t, events)

	joins := 0
	for _, e := range events {
		assert.Equal(t, "ABC123", e.roomID)
		if _, ok := e.event.(PlayerJoinedMessage); ok {
			joins++
		}
	}
	assert.Equal(t, 2, joins)
}

func TestRelayRemoteDeliversRawEventToRoom(t *testing.T) {
	s := newTestServer()
	c := newTestClient()
	join(s, c, "ABC123", "p1", "Alice")
	drain(c)

	raw := json.RawMessage(`{"type":"updateScores","players":[]}`)
	s.relayRemote("ABC123", raw)

	msgs := drain(c)
	require.Len(t, msgs, 1)
	got, ok := msgs[0].(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, string(raw), string(got))

	// Unknown rooms are ignored without side effects.
	assert.NotPanics(t, func() {
		s.relayRemote("NOSUCH", raw)
	})
}

func TestBackplaneEnvelopeRoundTrip(t *testing.T) {
	env := backplaneEnvelope{
		Origin: "instance-a",
		RoomID: "ABC123",
		Event:  json.RawMessage(`{"type":"gameStarted","duration":5}`),
	}

	payload, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded backplaneEnvelope
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, env.Origin, decoded.Origin)
	assert.Equal(t, env.RoomID, decoded.RoomID)
	assert.JSONEq(t, string(env.Event), string(decoded.Event))
}

func TestSlowClientIsDroppedNotBlocked(t *testing.T) {
	s := newTestServer()
	slow := &Client{send: make(chan any)} // unbuffered, never read
	fast := newTestClient()

	join(s, slow, "ABC123", "p1", "Alice")
	join(s, fast, "ABC123", "p2", "Bob")

	room := s.room("ABC123")
	room.mu.Lock()
	assert.False(t, room.clients[slow])
	assert.True(t, room.clients[fast])
	room.mu.Unlock()

	// Dropped client's channel is closed exactly once; a second close attempt
	// must be a no-op.
	assert.NotPanics(t, func() {
		slow.closeSend()
	})
}
