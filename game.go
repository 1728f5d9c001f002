package main

import (
	"time"
)

const (
	tickPeriod      = 100 * time.Millisecond
	objectSlotTicks = 5  // 0.5s presentation window per object
	defaultDuration = 10 // seconds, when startGame omits one

	correctReactionPoints   = 10
	incorrectReactionPoints = 5
)

// roundTimer owns one round's tick loop. At most one is active per room;
// cancellation closes done under the room lock, and the loop re-checks
// ownership under the same lock, so no tick ever observes state after
// cancellation.
type roundTimer struct {
	ticker *time.Ticker
	done   chan struct{}

	roundTicksLeft  int
	objectTicksLeft int
}

func (r *Room) stopRoundLocked() {
	if r.round == nil {
		return
	}
	close(r.round.done)
	r.round.ticker.Stop()
	r.round = nil
}

// handleStartGame implements startGame. Host-only: requests from a connection
// not bound to the room's host identifier are silently ignored.
func (s *GameServer) handleStartGame(c *Client, msg ClientMessage) {
	room := s.room(msg.RoomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed || room.hostID != c.playerID {
		return
	}

	duration := msg.Duration
	if duration <= 0 {
		duration = defaultDuration
	}

	// A replayed startGame while a round is running replaces it.
	room.stopRoundLocked()

	room.state = StatePlaying
	room.duration = duration
	room.objects = newRoundSequence(duration)
	room.currentObjectIndex = 0

	logf(s.cfg, "GAMES: Started %ds round in %q with %d objects", duration, room.id, len(room.objects))

	s.broadcastLocked(room, GameStartedMessage{
		Type:     "gameStarted",
		Duration: duration,
	}, nil)

	rt := &roundTimer{
		ticker:          time.NewTicker(tickPeriod),
		done:            make(chan struct{}),
		roundTicksLeft:  duration * 10,
		objectTicksLeft: objectSlotTicks,
	}
	room.round = rt

	go s.runRound(room, rt)
}

func (s *GameServer) runRound(room *Room, rt *roundTimer) {
	for {
		select {
		case <-rt.done:
			return
		case <-rt.ticker.C:
			if s.tickRound(room, rt) {
				return
			}
		}
	}
}

// tickRound advances one 100ms tick under the room lock, exactly like any
// inbound event handler. Returns true once the round is over or cancelled.
func (s *GameServer) tickRound(room *Room, rt *roundTimer) bool {
	room.mu.Lock()
	defer room.mu.Unlock()

	// Cancelled between the ticker firing and the lock being acquired.
	if room.round != rt {
		return true
	}

	if rt.roundTicksLeft <= 0 {
		rt.ticker.Stop()
		room.round = nil
		room.state = StateResults

		logf(s.cfg, "GAMES: Round ended in %q", room.id)

		s.broadcastLocked(room, GameEndedMessage{
			Type:    "gameEnded",
			Players: room.playersLocked(),
		}, nil)

		return true
	}

	rt.objectTicksLeft--

	if rt.objectTicksLeft <= 0 {
		object := room.objects[room.currentObjectIndex]

		s.broadcastLocked(room, NewObjectMessage{
			Type:        "newObject",
			Object:      object,
			TimeToReact: 0.5,
		}, nil)

		// Wraps, so the sequence is reused if the round outlasts it.
		room.currentObjectIndex = (room.currentObjectIndex + 1) % len(room.objects)
		rt.objectTicksLeft = objectSlotTicks
	}

	s.broadcastLocked(room, UpdateTimeLeftMessage{
		Type:         "updateTimeLeft",
		TimeLeft:     rt.objectTicksLeft * 100,
		GameTimeLeft: float64(rt.roundTicksLeft) / 10,
	}, nil)

	rt.roundTicksLeft--

	return false
}

// handleResetGame implements resetGame. Not host-gated, matching the game's
// established behavior; see the gating tests.
func (s *GameServer) handleResetGame(c *Client, msg ClientMessage) {
	room := s.room(msg.RoomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return
	}

	room.stopRoundLocked()
	room.state = StateWaiting
	room.currentObjectIndex = 0

	for i := range room.players {
		room.players[i].Score = 0
	}

	logf(s.cfg, "GAMES: Reset game in %q", room.id)

	s.broadcastLocked(room, GameResetMessage{
		Type:    "gameReset",
		Players: room.playersLocked(),
	}, nil)
}

// handleReaction implements playerReaction. Raising the hand means "this can
// fly"; not reacting before the window lapses means "this cannot fly". The
// object in play is the one most recently broadcast, i.e. one slot behind the
// already-advanced index.
func (s *GameServer) handleReaction(c *Client, msg ClientMessage) {
	room := s.room(msg.RoomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed || room.state != StatePlaying || len(room.objects) == 0 {
		return
	}

	i := room.currentObjectIndex
	if i == 0 {
		i = len(room.objects)
	}
	object := room.objects[i-1]

	correct := (msg.Reacted && object.CanFly) || (!msg.Reacted && !object.CanFly)

	if p := room.findPlayerLocked(msg.PlayerID); p >= 0 {
		if correct {
			room.players[p].Score += correctReactionPoints
		} else {
			room.players[p].Score -= incorrectReactionPoints
			if room.players[p].Score < 0 {
				room.players[p].Score = 0
			}
		}
	}

	s.broadcastLocked(room, ReactionResultMessage{
		Type:     "reactionResult",
		PlayerID: msg.PlayerID,
		Correct:  correct,
	}, nil)

	s.broadcastLocked(room, UpdateScoresMessage{
		Type:    "updateScores",
		Players: room.playersLocked(),
	}, nil)
}
