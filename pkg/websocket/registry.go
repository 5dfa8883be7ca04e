package websocketPkg

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

// Conn is the transport handle the registry manages. Satisfied by
// *websocket.Conn; tests substitute their own.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// IRegistry holds at most one live connection per user id.
type IRegistry interface {
	Register(userID string, conn Conn)
	Unregister(userID string, conn Conn)
	SendJSON(userID string, v interface{})
	Broadcast(v interface{})
	IsConnected(userID string) bool
	CloseAll()
}

type session struct {
	conn        Conn
	writeMu     sync.Mutex
	connectedAt time.Time
}

func (s *session) writeJSON(v interface{}) error {
	data, err := jsoniter.Marshal(v)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

type registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	log      *logrus.Logger
}

func NewRegistry(log *logrus.Logger) IRegistry {
	return &registry{
		sessions: make(map[string]*session),
		log:      log,
	}
}

// Register stores the handle for the user. A displaced handle is closed
// with a going-away frame before the new one is inserted so the old
// transport does not leak.
func (r *registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	previous := r.sessions[userID]
	r.sessions[userID] = &session{conn: conn, connectedAt: time.Now()}
	r.mu.Unlock()

	if previous != nil {
		r.log.WithFields(logrus.Fields{
			"user_id": userID,
		}).Info("Closing displaced connection")
		closeSession(previous, websocket.CloseGoingAway, "connection replaced")
	}
}

// Unregister removes the mapping if it still points at conn, so a session
// unwinding after being displaced cannot drop its successor. A nil conn
// removes unconditionally.
func (r *registry) Unregister(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[userID]
	if !ok {
		return
	}
	if conn == nil || current.conn == conn {
		delete(r.sessions, userID)
	}
}

// SendJSON is a no-op when the user has no registered connection; the
// client may simply have disconnected already.
func (r *registry) SendJSON(userID string, v interface{}) {
	r.mu.Lock()
	sess := r.sessions[userID]
	r.mu.Unlock()

	if sess == nil {
		return
	}

	if err := sess.writeJSON(v); err != nil {
		r.log.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Warn("Failed to send message")
	}
}

// Broadcast delivers to every registered connection, best effort per
// recipient.
func (r *registry) Broadcast(v interface{}) {
	r.mu.Lock()
	snapshot := make(map[string]*session, len(r.sessions))
	for userID, sess := range r.sessions {
		snapshot[userID] = sess
	}
	r.mu.Unlock()

	for userID, sess := range snapshot {
		if err := sess.writeJSON(v); err != nil {
			r.log.WithFields(logrus.Fields{
				"user_id": userID,
				"error":   err.Error(),
			}).Warn("Broadcast delivery failed")
		}
	}
}

func (r *registry) IsConnected(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[userID]
	return ok
}

func (r *registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	for _, sess := range sessions {
		closeSession(sess, websocket.CloseNormalClosure, "server shutting down")
	}
}

func closeSession(sess *session, code int, reason string) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	_ = sess.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason))
	_ = sess.conn.Close()
}
