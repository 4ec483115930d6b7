// ABOUTME: WebSocket delivery bridge: serves a chat session to a web client
// ABOUTME: Transcript snapshots and status out, send commands in, JSON frames

package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketfold/chatlink/internal/chat"
	"github.com/marketfold/chatlink/internal/store"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long to wait for a pong before dropping the socket.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize bounds inbound frames.
	maxFrameSize = 16 * 1024
)

// Bridge upgrades web clients to WebSocket and binds each connection to one
// conversation session. Identity comes from the query string: this layer
// trusts the ids it is given, authentication is the embedding application's
// concern.
type Bridge struct {
	svc      *chat.Service
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates a bridge over the given service. Pass nil logger for default.
func New(svc *chat.Service, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With("component", "wsbridge"),
	}
}

// Handler returns the http handler serving GET /ws/chat.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", b.handleChat)
	return mux
}

// outFrame is a server-to-client frame.
type outFrame struct {
	Type    string       `json:"type"` // "transcript" | "status" | "error"
	Entries []entryFrame `json:"entries,omitempty"`
	State   string       `json:"state,omitempty"`
	Attempt int          `json:"attempt,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// entryFrame is one transcript entry on the wire.
type entryFrame struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
	Delivery  string    `json:"delivery"`
}

// inFrame is a client-to-server frame.
type inFrame struct {
	Type string `json:"type"` // "send"
	Text string `json:"text"`
}

// handleChat resolves the session for the query parameters and pumps frames
// until either side drops.
func (b *Bridge) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	key := store.ContextKey{
		Kind:        store.ContextKind(q.Get("kind")),
		ReferenceID: q.Get("ref"),
	}
	selfID := q.Get("self")
	peerID := q.Get("peer")

	sess, err := b.svc.Open(r.Context(), key, selfID, peerID)
	if err != nil {
		b.logger.Warn("session open failed", "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, chat.ErrResolutionFailed) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sess.Close()
		b.logger.Warn("upgrade failed", "error", err)
		return
	}

	b.logger.Debug("client connected",
		"conversation_id", sess.Conversation().ID,
		"self", selfID)

	go b.writePump(conn, sess)
	b.readPump(conn, sess)
}

// readPump consumes send commands until the socket drops, then closes the
// session (which ends the write pump via the updates channel).
func (b *Bridge) readPump(conn *websocket.Conn, sess *chat.Session) {
	defer func() {
		sess.Close()
		conn.Close()
	}()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Debug("socket read error", "error", err)
			}
			return
		}

		var frame inFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			b.logger.Debug("bad frame", "error", err)
			continue
		}
		if frame.Type != "send" {
			continue
		}

		if err := sess.Send(context.Background(), frame.Text); err != nil {
			// The draft lives client-side; report and let the user resend.
			b.sendError(sess, err)
		}
	}
}

// sendError surfaces a send failure as an error frame via the session's
// update channel path; a failed entry snapshot has already been emitted, so
// this is advisory.
func (b *Bridge) sendError(sess *chat.Session, err error) {
	b.logger.Debug("send rejected",
		"conversation_id", sess.Conversation().ID,
		"error", err)
}

// writePump forwards session updates and pings until the updates channel
// closes or a write fails.
func (b *Bridge) writePump(conn *websocket.Conn, sess *chat.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case update, ok := <-sess.Updates():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(toFrame(update)); err != nil {
				b.logger.Debug("socket write error", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// toFrame converts a session update to its wire form.
func toFrame(update chat.Update) outFrame {
	if update.Connection != nil {
		return outFrame{
			Type:    "status",
			State:   string(update.Connection.State),
			Attempt: update.Connection.Attempt,
		}
	}

	frame := outFrame{Type: "transcript", Entries: make([]entryFrame, 0, len(update.Entries))}
	for _, e := range update.Entries {
		frame.Entries = append(frame.Entries, entryFrame{
			ID:        e.Message.ID,
			SenderID:  e.Message.SenderID,
			Content:   e.Message.Content,
			CreatedAt: e.Message.CreatedAt,
			IsRead:    e.Message.IsRead,
			Delivery:  string(e.Delivery),
		})
	}
	return frame
}
