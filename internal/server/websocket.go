package server

import (
	"fmt"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/sugawarayuuta/sonnet"

	"sortrace/internal/game"
	"sortrace/internal/sorting"
)

// clientMessage is any inbound frame. Only the fields its type needs are read.
type clientMessage struct {
	Type       string              `json:"type"`
	Code       string              `json:"code"`
	Username   string              `json:"username"`
	Algorithms []sorting.Algorithm `json:"algorithms"`
	Algorithm  sorting.Algorithm   `json:"algorithm"`
	Settings   *game.Settings      `json:"settings"`
	DelayMs    *int                `json:"delay_ms"`
}

// session is one socket's view of who it is and which room it is in.
type session struct {
	playerID string
	username string
	room     string
}

func (sess *session) player() game.Player {
	return game.Player{ID: sess.playerID, Username: sess.username}
}

type presenceKey struct {
	room   string
	player string
}

// presence counts each player's open sessions per room. Membership is per
// player, so a player stays in a room until their last session leaves it,
// e.g. when a reloaded page joins before the old socket notices it is gone.
type presence struct {
	mu    sync.Mutex
	conns map[presenceKey]int
}

func newPresence() *presence {
	return &presence{conns: make(map[presenceKey]int)}
}

// enter runs join and counts the session once it succeeds. The lock spans
// the manager call so a concurrent last exit cannot slip in between.
func (p *presence) enter(player string, join func() (game.RoomView, error)) (game.RoomView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	view, err := join()
	if err != nil {
		return view, err
	}
	p.conns[presenceKey{room: view.Code, player: player}]++
	return view, nil
}

// exit uncounts a session and runs leave only for the player's last one.
func (p *presence) exit(room, player string, leave func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := presenceKey{room: room, player: player}
	if n := p.conns[key] - 1; n > 0 {
		p.conns[key] = n
		return nil
	}
	delete(p.conns, key)
	return leave()
}

// roomWebSocketHandler serves one player connection. The user_id query
// parameter is the stable identity that keeps points across reconnects.
func (s *FiberServer) roomWebSocketHandler(conn *websocket.Conn) {
	sess := &session{
		playerID: conn.Query("user_id"),
		username: conn.Query("username", "anonymous"),
	}
	if sess.playerID == "" {
		sess.playerID = uuid.NewString()
	}

	log.Printf("[WS] New connection from user: %s", sess.playerID)

	client := s.gameHub.RegisterClient(conn, sess.playerID)
	s.gameHub.SendTo(sess.playerID, game.Event{
		Type: game.EventConnected,
		Data: map[string]string{"player_id": sess.playerID, "username": sess.username},
	})

	defer func() {
		if sess.room != "" {
			s.leave(sess)
		}
		s.gameHub.UnregisterClient(client)
		// the connection is closed by fiber once this returns
		<-client.Stopped()
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for user %s: %v", sess.playerID, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := s.handleMessage(sess, message); err != nil {
			s.gameHub.SendTo(sess.playerID, game.ErrorEvent(sess.room, err))
		}
	}
}

// handleMessage applies one inbound frame for sess. A returned error is
// reported to that player only.
func (s *FiberServer) handleMessage(sess *session, raw []byte) error {
	var msg clientMessage
	if err := sonnet.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("%w: %v", game.ErrBadRequest, err)
	}
	if msg.Username != "" {
		sess.username = msg.Username
	}

	switch msg.Type {
	case "create_room":
		if sess.room != "" {
			s.leave(sess)
		}
		view, err := s.presence.enter(sess.playerID, func() (game.RoomView, error) {
			return s.gameManager.CreateRoom(sess.player(), msg.Algorithms, msg.Settings)
		})
		if err != nil {
			return err
		}
		sess.room = view.Code
		return nil

	case "join_room":
		if msg.Code == "" {
			return fmt.Errorf("%w: code is required", game.ErrBadRequest)
		}
		var (
			view game.RoomView
			err  error
		)
		if sess.room == msg.Code {
			// already counted; only refreshes the username
			view, err = s.gameManager.JoinRoom(msg.Code, sess.player())
		} else {
			if sess.room != "" {
				s.leave(sess)
			}
			view, err = s.presence.enter(sess.playerID, func() (game.RoomView, error) {
				return s.gameManager.JoinRoom(msg.Code, sess.player())
			})
		}
		if err != nil {
			return err
		}
		sess.room = view.Code
		s.gameHub.SendTo(sess.playerID, game.Event{Type: game.EventRoomState, Room: view.Code, Data: view})
		return nil

	case "leave_room":
		if sess.room == "" {
			return game.ErrNotInRoom
		}
		s.leave(sess)
		return nil

	case "ping":
		s.gameHub.SendTo(sess.playerID, game.Event{Type: game.EventPong})
		return nil
	}

	if sess.room == "" {
		if msg.Type == "" {
			return fmt.Errorf("%w: missing type", game.ErrBadRequest)
		}
		return game.ErrNotInRoom
	}

	switch msg.Type {
	case "start_race":
		return s.gameManager.StartRace(sess.room, sess.playerID)
	case "place_bet":
		return s.gameManager.PlaceBet(sess.room, sess.playerID, msg.Algorithm)
	case "update_step_speed":
		if msg.DelayMs == nil {
			return fmt.Errorf("%w: delay_ms is required", game.ErrBadRequest)
		}
		return s.gameManager.UpdateStepSpeed(sess.room, sess.playerID, *msg.DelayMs)
	case "end_race_early":
		return s.gameManager.EndRaceEarly(sess.room, sess.playerID)
	case "select_algorithms":
		return s.gameManager.SelectAlgorithms(sess.room, sess.playerID, msg.Algorithms)
	case "update_settings":
		if msg.Settings == nil {
			return fmt.Errorf("%w: settings are required", game.ErrBadRequest)
		}
		return s.gameManager.UpdateSettings(sess.room, sess.playerID, *msg.Settings)
	case "reset_room":
		return s.gameManager.ResetRoom(sess.room, sess.playerID)
	case "reset_points":
		return s.gameManager.ResetPoints(sess.room, sess.playerID)
	default:
		return fmt.Errorf("%w: unknown message type %q", game.ErrBadRequest, msg.Type)
	}
}

// leave takes sess out of its room. The player only leaves the room when
// this was their last session in it.
func (s *FiberServer) leave(sess *session) {
	err := s.presence.exit(sess.room, sess.playerID, func() error {
		return s.gameManager.LeaveRoom(sess.room, sess.playerID)
	})
	if err != nil {
		log.Printf("[WS] %s leaving %s: %v", sess.playerID, sess.room, err)
	}
	sess.room = ""
}
