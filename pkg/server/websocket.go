package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/appforge/appforge/pkg/protocol"
	"github.com/appforge/appforge/pkg/session"
)

const (
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one WebSocket connection bound to a session's hub. All queueing
// onto send goes through trySend, which holds mu so a send can never race the
// channel close in shutdown. Goroutines spawned for a turn outlive readPump,
// so they may still try to send after the client has been removed.
type client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// trySend queues one frame, dropping it if the client is slow or gone.
func (c *client) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// shutdown closes the send channel exactly once; later trySend calls no-op.
func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (s *Server) handleSessionWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		http.Error(w, "Missing session ID", http.StatusBadRequest)
		return
	}

	sess, err := s.registry.Get(sessionID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	h, err := s.registry.hubFor(sessionID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}

	c := &client{conn: ws, send: make(chan []byte, 256)}
	h.addClient(c)

	go c.writePump(h)
	s.sendInitialState(c, sess)
	c.readPump(s, sess, h)
}

// sendInitialState pushes the session's current state to a newly connected
// client so it can render without waiting for the next transition.
func (s *Server) sendInitialState(c *client, sess *session.Session) {
	id := sess.ID()
	c.enqueue(protocol.TypeSessionStatus, protocol.SessionStatusPayload{
		SessionID: id,
		Status:    string(sess.Status()),
	})
	c.enqueue(protocol.TypeWorkDirUpdate, protocol.WorkDirUpdatePayload{
		SessionID: id,
		Path:      sess.WorkingDir(),
	})
	if url := sess.PreviewURL(); url != "" {
		c.enqueue(protocol.TypePreviewUpdate, protocol.PreviewUpdatePayload{
			SessionID: id,
			URL:       url,
		})
	}
	for _, msg := range sess.History() {
		c.enqueue(protocol.TypeChatMessage, protocol.ChatMessagePayload{
			SessionID: id,
			Message:   msg,
		})
	}
	if s.watch != nil {
		if tree := s.watch.Tree(id); tree != nil {
			c.enqueue(protocol.TypeFilesTree, protocol.FilesTreePayload{
				SessionID: id,
				Tree:      tree,
			})
		}
	}
}

// enqueue marshals and queues one message, dropping it if the client is slow.
func (c *client) enqueue(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return
	}
	data, _ := json.Marshal(msg)
	c.trySend(data)
}

// readPump reads client messages until the connection drops.
func (c *client) readPump(s *Server, sess *session.Session, h *hub) {
	defer func() {
		h.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket read error", "sessionID", sess.ID(), "error", err)
			}
			return
		}
		s.handleClientMessage(c, sess, h, raw)
	}
}

// writePump writes queued messages and pings to the WebSocket connection.
func (c *client) writePump(h *hub) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleClientMessage(c *client, sess *session.Session, h *hub, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		c.sendError(protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeSessionCreate:
		c.sendError(protocol.ErrInvalidMessage, "sessions are created via POST /api/sessions")

	case protocol.TypeTurnSubmit:
		var p protocol.TurnSubmitPayload
		json.Unmarshal(msg.Payload, &p)
		// A turn blocks until the dispatched action completes; run it off
		// the read loop so keystrokes keep flowing to the terminal.
		go func() {
			err := sess.Submit(context.Background(), p.Text)
			switch {
			case errors.Is(err, session.ErrBusy):
				c.sendError(protocol.ErrSessionBusy, "a turn is already in flight")
			case errors.Is(err, session.ErrNotReady):
				c.sendError(protocol.ErrSessionNotReady, "session is not ready")
			case err != nil:
				c.sendError(protocol.ErrSandboxFailed, err.Error())
			}
		}()

	case protocol.TypeTermInput:
		var p protocol.TermInputPayload
		json.Unmarshal(msg.Payload, &p)
		h.Input([]byte(p.Data))

	case protocol.TypeFilesRequestTree:
		var tree []protocol.FileNode
		if s.watch != nil {
			tree = s.watch.Tree(sess.ID())
		}
		c.enqueue(protocol.TypeFilesTree, protocol.FilesTreePayload{
			SessionID: sess.ID(),
			Tree:      tree,
		})

	case protocol.TypeFileView:
		var p protocol.FileViewPayload
		json.Unmarshal(msg.Payload, &p)
		content, err := sess.ReadFile(p.Path)
		if err != nil {
			c.sendError(protocol.ErrInvalidMessage, err.Error())
			return
		}
		c.enqueue(protocol.TypeFileContent, protocol.FileContentPayload{
			SessionID: sess.ID(),
			Path:      p.Path,
			Content:   content,
		})
	}
}

func (c *client) sendError(code, message string) {
	msg, err := protocol.NewErrorMessage(code, message)
	if err != nil {
		return
	}
	data, _ := json.Marshal(msg)
	c.trySend(data)
}
