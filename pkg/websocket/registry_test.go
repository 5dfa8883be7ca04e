package websocketPkg

import (
	"errors"
	"sync"
	"testing"

	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	types    []int
	closed   bool
	writeErr error
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.types = append(f.types, messageType)
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) textMessages() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []map[string]interface{}
	for i, data := range f.messages {
		if f.types[i] != websocket.TextMessage {
			continue
		}
		var decoded map[string]interface{}
		if err := jsoniter.Unmarshal(data, &decoded); err == nil {
			out = append(out, decoded)
		}
	}
	return out
}

func newTestRegistry() IRegistry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewRegistry(log)
}

func TestRegisterClosesDisplacedConnection(t *testing.T) {
	r := newTestRegistry()
	oldConn := &fakeConn{}
	newConn := &fakeConn{}

	r.Register("user-1", oldConn)
	r.Register("user-1", newConn)

	if !oldConn.isClosed() {
		t.Error("displaced connection not closed")
	}
	if newConn.isClosed() {
		t.Error("replacement connection closed")
	}

	r.SendJSON("user-1", map[string]string{"type": "PING"})
	if len(newConn.textMessages()) != 1 {
		t.Error("message not delivered to replacement connection")
	}
}

func TestUnregisterIsConnIdentityGuarded(t *testing.T) {
	r := newTestRegistry()
	oldConn := &fakeConn{}
	newConn := &fakeConn{}

	r.Register("user-1", oldConn)
	r.Register("user-1", newConn)

	// The displaced session unwinds after its replacement registered.
	r.Unregister("user-1", oldConn)

	if !r.IsConnected("user-1") {
		t.Error("displaced session dropped its successor")
	}

	r.Unregister("user-1", newConn)
	if r.IsConnected("user-1") {
		t.Error("session still registered after owner unregistered")
	}
}

func TestSendJSONAbsentUserIsNoOp(t *testing.T) {
	r := newTestRegistry()

	// Must neither panic nor block.
	r.SendJSON("nobody", map[string]string{"type": "PING"})
}

func TestBroadcastIsBestEffort(t *testing.T) {
	r := newTestRegistry()
	healthy := &fakeConn{}
	broken := &fakeConn{writeErr: errors.New("broken pipe")}

	r.Register("user-1", healthy)
	r.Register("user-2", broken)

	r.Broadcast(map[string]string{"type": "AGENT_SPEAK"})

	if len(healthy.textMessages()) != 1 {
		t.Error("healthy connection missed the broadcast")
	}
	// The broken recipient must not keep user-1 from staying registered.
	if !r.IsConnected("user-1") || !r.IsConnected("user-2") {
		t.Error("broadcast failure unregistered a session")
	}
}

func TestCloseAll(t *testing.T) {
	r := newTestRegistry()
	first := &fakeConn{}
	second := &fakeConn{}

	r.Register("user-1", first)
	r.Register("user-2", second)

	r.CloseAll()

	if !first.isClosed() || !second.isClosed() {
		t.Error("CloseAll left a connection open")
	}
	if r.IsConnected("user-1") || r.IsConnected("user-2") {
		t.Error("CloseAll left a session registered")
	}
}
