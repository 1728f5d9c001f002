package main

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// GameState tracks where a room is in its round lifecycle.
type GameState int

const (
	StateWaiting GameState = iota
	StatePlaying
	StateResults
)

func (s GameState) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StateResults:
		return "results"
	default:
		return "waiting"
	}
}

// Room is a named, isolated game session. A Room exists in the store iff it
// has at least one player; the last leave deletes it and cancels any running
// round. All mutation happens under mu, including timer ticks, so a join, a
// leave, and a tick for the same room never interleave.
type Room struct {
	id      string
	clients map[*Client]bool
	players []Player

	state              GameState
	hostID             string
	objects            []GameObject
	currentObjectIndex int
	duration           int
	round              *roundTimer

	closed bool

	mu sync.Mutex
}

func newRoom(roomID string) *Room {
	return &Room{
		id:      roomID,
		clients: make(map[*Client]bool),
		state:   StateWaiting,
	}
}

func (r *Room) findPlayerLocked(playerID string) int {
	for i := range r.players {
		if r.players[i].ID == playerID {
			return i
		}
	}
	return -1
}

// dedupePlayersLocked collapses duplicate identifiers, keeping first-join
// order and the last-written record per identifier. Safety net only; the join
// path upserts by identifier and should never produce duplicates.
func (r *Room) dedupePlayersLocked() {
	seen := make(map[string]int, len(r.players))
	dst := r.players[:0]
	for _, p := range r.players {
		if i, ok := seen[p.ID]; ok {
			dst[i] = p
			continue
		}
		seen[p.ID] = len(dst)
		dst = append(dst, p)
	}
	r.players = dst
}

// playersLocked returns a copy safe to hand to encoders after mu is released.
func (r *Room) playersLocked() []Player {
	players := make([]Player, len(r.players))
	copy(players, r.players)
	return players
}

// GameServer owns the room table and drives membership, round scheduling, and
// scoring. One long-lived instance per process; nothing here is global.
type GameServer struct {
	cfg       *Config
	backplane Backplane

	rooms map[string]*Room
	mu    sync.Mutex

	lastLeftStamp atomic.Int64
}

func newGameServer(cfg *Config, backplane Backplane) *GameServer {
	s := &GameServer{
		cfg:       cfg,
		backplane: backplane,
		rooms:     make(map[string]*Room),
	}
	backplane.Start(s.relayRemote)
	return s
}

func (s *GameServer) room(roomID string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rooms[roomID]
}

// lockRoom returns the room for roomID with its mutex held, creating it if
// absent. Retries if it raced with the deletion of a dying room.
func (s *GameServer) lockRoom(roomID string) *Room {
	for {
		s.mu.Lock()
		room, ok := s.rooms[roomID]
		if !ok {
			room = newRoom(roomID)
			s.rooms[roomID] = room
			logf(s.cfg, "GAMES: Created room %q", roomID)
		}
		s.mu.Unlock()

		room.mu.Lock()
		if room.closed {
			room.mu.Unlock()
			continue
		}
		return room
	}
}

// nextLeftTimestamp returns a unix-millisecond stamp guaranteed to increase
// across successive leaves, even within the same millisecond.
func (s *GameServer) nextLeftTimestamp() int64 {
	for {
		last := s.lastLeftStamp.Load()
		stamp := time.Now().UnixMilli()
		if stamp <= last {
			stamp = last + 1
		}
		if s.lastLeftStamp.CompareAndSwap(last, stamp) {
			return stamp
		}
	}
}

// broadcastLocked fans msg out to every connection in the room except skip,
// and publishes it to the backplane so connections held by other processes
// receive it too. Slow clients are dropped rather than blocked on.
func (s *GameServer) broadcastLocked(room *Room, msg any, skip *Client) {
	for client := range room.clients {
		if client == skip {
			continue
		}
		if !client.trySend(msg) {
			delete(room.clients, client)
			client.closeSend()
		}
	}

	s.backplane.Publish(room.id, msg)
}

// relayRemote delivers an event published by another process to this
// process's connections in the room. Pre-encoded payloads pass through
// untouched; state is not mutated, per the backplane contract.
func (s *GameServer) relayRemote(roomID string, event json.RawMessage) {
	room := s.room(roomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	for client := range room.clients {
		if !client.trySend(event) {
			delete(room.clients, client)
			client.closeSend()
		}
	}
}

// handleJoin implements joinRoom: binds the connection, lazily creates the
// room with the joiner as host, and upserts by player identifier so a rejoin
// after reconnect updates the stored name instead of duplicating the entry.
func (s *GameServer) handleJoin(c *Client, msg ClientMessage) {
	if msg.RoomID == "" || msg.PlayerID == "" {
		c.trySend(ErrorMessage{Type: "error", Message: "missing room or player id"})
		return
	}

	room := s.lockRoom(msg.RoomID)
	defer room.mu.Unlock()

	c.playerID = msg.PlayerID
	c.roomID = msg.RoomID
	c.playerName = msg.PlayerName
	room.clients[c] = true

	if i := room.findPlayerLocked(msg.PlayerID); i >= 0 {
		logf(s.cfg, "GAMES: Player %q (%s) rejoined %q, updating name", msg.PlayerName, msg.PlayerID, room.id)
		room.players[i].Name = msg.PlayerName
	} else {
		// First joiner hosts; so does the recorded host reconnecting before
		// anyone else claimed the slot.
		isHost := len(room.players) == 0 || room.hostID == msg.PlayerID
		if isHost {
			room.hostID = msg.PlayerID
		}

		room.players = append(room.players, Player{
			ID:     msg.PlayerID,
			Name:   msg.PlayerName,
			Score:  0,
			IsHost: isHost,
		})
		logf(s.cfg, "GAMES: Player %q (%s) joined %q", msg.PlayerName, msg.PlayerID, room.id)
	}

	room.dedupePlayersLocked()
	players := room.playersLocked()

	c.trySend(RoomJoinedMessage{
		Type:    "roomJoined",
		Players: players,
		IsHost:  room.hostID == msg.PlayerID,
	})

	s.broadcastLocked(room, PlayerJoinedMessage{
		Type:    "playerJoined",
		Players: players,
	}, c)
}

// handleLeave implements leaveRoom and transport-level disconnect. Idempotent:
// an unbound connection, a missing room, or an already-removed player all
// reduce to unbinding.
func (s *GameServer) handleLeave(c *Client) {
	playerID, roomID, playerName := c.playerID, c.roomID, c.playerName
	c.playerID, c.roomID, c.playerName = "", "", ""

	if playerID == "" || roomID == "" {
		return
	}

	room := s.room(roomID)
	if room == nil {
		return
	}

	room.mu.Lock()

	delete(room.clients, c)

	i := room.findPlayerLocked(playerID)
	if i == -1 {
		room.mu.Unlock()
		return
	}

	wasHost := room.players[i].IsHost
	room.players = append(room.players[:i], room.players[i+1:]...)
	logf(s.cfg, "GAMES: Player %q (%s) left %q", playerName, playerID, roomID)

	if len(room.players) == 0 {
		room.stopRoundLocked()
		room.closed = true
		room.mu.Unlock()

		s.mu.Lock()
		if s.rooms[roomID] == room {
			delete(s.rooms, roomID)
		}
		s.mu.Unlock()

		logf(s.cfg, "GAMES: Removed empty room %q", roomID)
		return
	}

	newHostID := ""
	if wasHost {
		// Promote the earliest remaining joiner.
		room.players[0].IsHost = true
		newHostID = room.players[0].ID
		room.hostID = newHostID
		logf(s.cfg, "GAMES: New host %q in %q", newHostID, roomID)
	}

	s.broadcastLocked(room, PlayerLeftMessage{
		Type:           "playerLeft",
		Players:        room.playersLocked(),
		NewHostID:      newHostID,
		LeftPlayerID:   playerID,
		LeftPlayerName: playerName,
		Timestamp:      s.nextLeftTimestamp(),
	}, nil)

	room.mu.Unlock()
}
