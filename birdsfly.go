// Birdsfly reaction game
//
// Clients join a named room over a websocket; the first joiner becomes host.
// The host starts a timed round during which objects from a fixed catalog are
// revealed to the whole room every half second. Players raise their hand if
// the object can fly; a correct call scores +10, a wrong one -5 (floored at
// zero), and scores are rebroadcast live after every reaction.
//
// Features:
// - Rooms per URL: /fly/:roomid, joined over a shared /ws socket
// - First joiner hosts; host reassigned to the earliest joiner on departure
// - Rejoining with the same player id updates the name, never duplicates
// - Rooms are created on first join and deleted the moment they empty
// - Round scheduler ticks at 100ms, one 0.5s reveal slot per object
// - Per-connection inbound rate limiting, configurable via flags
// - Optional Redis pub/sub backplane for multi-process broadcast fan-out
// - In-browser QR button to share the current room, backed by go-qrcode
// - Random 6-char room IDs via crypto/rand, with server-side collision check

package main

import (
	"crypto/rand"
	_ "embed"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"golang.org/x/time/rate"
)

// Client is one live websocket connection and its claimed identity. The
// (playerID, roomID, playerName) binding is set on joinRoom and read on
// disconnect to drive cleanup; an unbound connection is inert.
type Client struct {
	conn    *websocket.Conn
	send    chan any
	limiter *rate.Limiter

	playerID   string
	roomID     string
	playerName string

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, limiter *rate.Limiter) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan any, 32),
		limiter: limiter,
	}
}

// trySend queues msg without blocking. Reports false when the client's buffer
// is full, in which case the caller should drop the client.
func (c *Client) trySend(msg any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) readPump(s *GameServer) {
	defer func() {
		s.handleLeave(c)
		c.closeSend()
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			continue
		}

		s.dispatch(c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// dispatch routes one inbound message. A panic while handling it is converted
// to an error event for the offending connection so one room's failure never
// touches other rooms or the read loop.
func (s *GameServer) dispatch(c *Client, msg ClientMessage) {
	defer func() {
		if r := recover(); r != nil {
			logf(s.cfg, "ERROR: Recovered handling %q for %q: %v", msg.Type, msg.RoomID, r)
			c.trySend(ErrorMessage{Type: "error", Message: "failed to handle " + msg.Type})
		}
	}()

	switch msg.Type {
	case "joinRoom":
		s.handleJoin(c, msg)
	case "startGame":
		s.handleStartGame(c, msg)
	case "playerReaction":
		s.handleReaction(c, msg)
	case "resetGame":
		s.handleResetGame(c, msg)
	case "leaveRoom":
		s.handleLeave(c)
	default:
		// ignore unknown types
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(cfg *Config, s *GameServer) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		var limiter *rate.Limiter
		if cfg.messageRate > 0 {
			limiter = rate.NewLimiter(rate.Limit(cfg.messageRate), cfg.messageBurst)
		}

		client := newClient(conn, limiter)

		go client.writePump()
		client.readPump(s)
	}
}

// newRoomID generates a crypto-random room ID that doesn't collide with a
// live room. Callers may still supply their own ids over joinRoom.
func (s *GameServer) newRoomID() string {
	const letters = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	for {
		buf := make([]byte, 6)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 6)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		if s.room(id) == nil {
			return id
		}
	}
}

// redirectNewRoom handles GET /path by generating a fresh room ID and
// redirecting to /path/:roomid.
func redirectNewRoom(cfg *Config, path string, s *GameServer) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := s.newRoomID()
		logf(cfg, "GAMES: Redirecting to new room %s/%s", path, roomID)
		http.Redirect(w, r, cfg.prefix+path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed fly/index.html
var indexHTML []byte

//go:embed fly/app.css
var birdsflyCSS []byte

//go:embed fly/app.js
var birdsflyJS []byte

func staticHandler(cfg *Config, contentType string, data []byte) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(data)
	}
}

// registerFlyGame sets up routes so that:
//   - $path                  → redirects to new random room (6-char ID)
//   - $path/:roomid          → HTML client
//   - $path/:roomid/qr       → PNG QR code for that room URL
//   - /ws                    → shared websocket, room chosen via joinRoom
func registerFlyGame(cfg *Config, path string, mux *httprouter.Router, backplane Backplane) *GameServer {
	s := newGameServer(cfg, backplane)

	// Root path → redirect to new random room
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, s))

	// Shared websocket; room chosen via joinRoom. Lives outside $path so it
	// doesn't collide with the :roomid wildcard.
	mux.GET(cfg.prefix+"/ws", serveWS(cfg, s))

	// Per-room client view (HTML)
	mux.GET(cfg.prefix+path+"/:roomid", staticHandler(cfg, "text/html; charset=utf-8", indexHTML))

	// Shared assets (no roomid in route)
	mux.GET(cfg.prefix+"/assets/fly/app.css", staticHandler(cfg, "text/css; charset=utf-8", birdsflyCSS))
	mux.GET(cfg.prefix+"/assets/fly/app.js", staticHandler(cfg, "text/javascript; charset=utf-8", birdsflyJS))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)

	return s
}
