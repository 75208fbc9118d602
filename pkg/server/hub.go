package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/appforge/appforge/pkg/domain"
	"github.com/appforge/appforge/pkg/protocol"
	"github.com/appforge/appforge/pkg/session"
)

// hub is a session's fan-out point. It implements session.Display by
// broadcasting protocol messages to every connected WebSocket client, and
// session.Terminal by fanning client keystrokes in to the attached process.
type hub struct {
	sessionID string

	mu      sync.Mutex
	clients map[*client]bool
	keySubs map[chan []byte]bool
}

var _ session.Display = (*hub)(nil)
var _ session.Terminal = (*hub)(nil)

func newHub(sessionID string) *hub {
	return &hub{
		sessionID: sessionID,
		clients:   make(map[*client]bool),
		keySubs:   make(map[chan []byte]bool),
	}
}

func (h *hub) addClient(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) removeClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.shutdown()
}

// broadcast marshals a protocol message and queues it on every client. Slow
// clients drop messages rather than stalling the loop.
func (h *hub) broadcast(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		slog.Error("Failed to build protocol message", "type", msgType, "error", err)
		return
	}
	data, _ := json.Marshal(msg)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.trySend(data)
	}
}

// --- session.Display ---

func (h *hub) StatusChanged(status domain.Status) {
	h.broadcast(protocol.TypeSessionStatus, protocol.SessionStatusPayload{
		SessionID: h.sessionID,
		Status:    string(status),
	})
}

func (h *hub) MessageAppended(msg domain.Message) {
	h.broadcast(protocol.TypeChatMessage, protocol.ChatMessagePayload{
		SessionID: h.sessionID,
		Message:   msg,
	})
}

func (h *hub) TermWrite(data []byte) {
	h.broadcast(protocol.TypeTermOutput, protocol.TermOutputPayload{
		SessionID: h.sessionID,
		Data:      string(data),
	})
}

func (h *hub) WorkingDirChanged(path string) {
	h.broadcast(protocol.TypeWorkDirUpdate, protocol.WorkDirUpdatePayload{
		SessionID: h.sessionID,
		Path:      path,
	})
}

func (h *hub) PreviewChanged(url string) {
	h.broadcast(protocol.TypePreviewUpdate, protocol.PreviewUpdatePayload{
		SessionID: h.sessionID,
		URL:       url,
	})
}

func (h *hub) FileViewed(path, content string) {
	h.broadcast(protocol.TypeFileContent, protocol.FileContentPayload{
		SessionID: h.sessionID,
		Path:      path,
		Content:   content,
	})
}

// --- session.Terminal ---

func (h *hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.keySubs[ch] = true
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.keySubs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Input fans a keystroke chunk in to the current subscriber, if any. Chunks
// arriving while no process is attached are dropped.
func (h *hub) Input(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.keySubs {
		select {
		case ch <- data:
		default:
		}
	}
}
