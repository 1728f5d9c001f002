package main

// Player holds the data we store server-side and mirror to clients.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	IsHost bool   `json:"isHost"`
}

// Messages coming from clients
type ClientMessage struct {
	Type       string `json:"type"`                 // "joinRoom", "startGame", "playerReaction", "resetGame", "leaveRoom"
	RoomID     string `json:"roomId,omitempty"`     // joinRoom / startGame / playerReaction / resetGame
	PlayerID   string `json:"playerId,omitempty"`   // joinRoom / playerReaction
	PlayerName string `json:"playerName,omitempty"` // joinRoom
	Duration   int    `json:"duration,omitempty"`   // startGame, in seconds
	Reacted    bool   `json:"reacted,omitempty"`    // playerReaction
}

// Messages sent to clients

// RoomJoinedMessage goes to the joining connection only.
type RoomJoinedMessage struct {
	Type    string   `json:"type"` // "roomJoined"
	Players []Player `json:"players"`
	IsHost  bool     `json:"isHost"`
}

// PlayerJoinedMessage goes to every other connection in the room.
type PlayerJoinedMessage struct {
	Type    string   `json:"type"` // "playerJoined"
	Players []Player `json:"players"`
}

// PlayerLeftMessage carries the surviving roster, the promoted host (empty if
// the host did not change), and a monotonically increasing timestamp so
// consumers can detect out-of-order delivery across a scaled deployment.
type PlayerLeftMessage struct {
	Type           string   `json:"type"` // "playerLeft"
	Players        []Player `json:"players"`
	NewHostID      string   `json:"newHostId"`
	LeftPlayerID   string   `json:"leftPlayerId"`
	LeftPlayerName string   `json:"leftPlayerName"`
	Timestamp      int64    `json:"timestamp"`
}

type GameStartedMessage struct {
	Type     string `json:"type"` // "gameStarted"
	Duration int    `json:"duration"`
}

type NewObjectMessage struct {
	Type        string     `json:"type"` // "newObject"
	Object      GameObject `json:"object"`
	TimeToReact float64    `json:"timeToReact"` // seconds
}

type UpdateTimeLeftMessage struct {
	Type         string  `json:"type"`         // "updateTimeLeft"
	TimeLeft     int     `json:"timeLeft"`     // ms left for the current object
	GameTimeLeft float64 `json:"gameTimeLeft"` // seconds left in the round
}

type ReactionResultMessage struct {
	Type     string `json:"type"` // "reactionResult"
	PlayerID string `json:"playerId"`
	Correct  bool   `json:"correct"`
}

type UpdateScoresMessage struct {
	Type    string   `json:"type"` // "updateScores"
	Players []Player `json:"players"`
}

type GameEndedMessage struct {
	Type    string   `json:"type"` // "gameEnded"
	Players []Player `json:"players"`
}

type GameResetMessage struct {
	Type    string   `json:"type"` // "gameReset"
	Players []Player `json:"players"`
}

// Sent to a single client when its request was malformed or failed outright.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}
