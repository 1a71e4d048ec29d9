package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/loxone/internal/ident"
	"github.com/muurk/loxone/internal/protocol"
)

type frame struct {
	typ  int
	data []byte
}

type fakeConn struct {
	in     chan frame
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	closeErr error
	written  []string
	limit    int64
	onWrite  func(cmd string)
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan frame, 64), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case fr := <-f.in:
		return fr.typ, fr.data, nil
	case <-f.closed:
		f.mu.Lock()
		err := f.closeErr
		f.mu.Unlock()
		if err == nil {
			err = &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
		}
		return 0, nil, err
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return websocket.ErrCloseSent
	default:
	}
	f.mu.Lock()
	f.written = append(f.written, string(data))
	hook := f.onWrite
	f.mu.Unlock()
	if hook != nil {
		hook(string(data))
	}
	return nil
}

func (f *fakeConn) SetReadLimit(limit int64) {
	f.mu.Lock()
	f.limit = limit
	f.mu.Unlock()
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// serverClose simulates the Miniserver closing with a code.
func (f *fakeConn) serverClose(code int) {
	f.mu.Lock()
	f.closeErr = &websocket.CloseError{Code: code, Text: "closed by server"}
	f.mu.Unlock()
	f.Close()
}

func (f *fakeConn) text(s string)   { f.in <- frame{typ: websocket.TextMessage, data: []byte(s)} }
func (f *fakeConn) binary(b []byte) { f.in <- frame{typ: websocket.BinaryMessage, data: b} }
func (f *fakeConn) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}
func (f *fakeConn) readLimit() int64 { f.mu.Lock(); defer f.mu.Unlock(); return f.limit }

func (f *fakeConn) wasSent(prefix string) bool {
	for _, s := range f.sent() {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

type fakeTransport struct {
	conn    *fakeConn
	dialErr error
	api     []byte
}

func (t *fakeTransport) Dial(ctx context.Context, host string) (Conn, error) {
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	return t.conn, nil
}

func (t *fakeTransport) Get(ctx context.Context, host, path string) ([]byte, error) {
	if path == "/"+protocol.CmdCfgAPI && t.api != nil {
		return t.api, nil
	}
	return nil, errors.New("not found")
}

type chanSink struct {
	ch chan Event
}

func newSink() *chanSink { return &chanSink{ch: make(chan Event, 64)} }

func (s *chanSink) Put(e Event) { s.ch <- e }

func (s *chanSink) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-s.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (s *chanSink) expect(t *testing.T, want EventType) Event {
	t.Helper()
	e := s.next(t)
	if e.Type != want {
		t.Fatalf("event = %v (%v %s), want %v", e.Type, e.Reason, e.Detail, want)
	}
	return e
}

func (s *chanSink) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case e := <-s.ch:
		t.Errorf("unexpected event %v (%v %s)", e.Type, e.Reason, e.Detail)
	case <-time.After(wait):
	}
}

func reply(control string, code int, value string) string {
	return fmt.Sprintf(`{"LL":{"control":%q,"value":%s,"Code":"%d"}}`, control, value, code)
}

func apiReply(version string) []byte {
	value := fmt.Sprintf("{'snr': '50:4F:94:00:00:01', 'version':'%s'}", version)
	return []byte(reply("dev/cfg/api", 200, fmt.Sprintf("%q", value)))
}

const (
	testStateID = "0b734138-03ac-03c0-ffffeee000240011"
	testConfig  = `{
		"lastModified": "2024-05-01 12:00:00",
		"msInfo": {"serialNr": "504F94000001", "msName": "Home"},
		"rooms": {},
		"cats": {},
		"controls": {
			"0b734138-03ab-03bf-ffff403fb0c34b9e": {
				"uuidAction": "0b734138-03ab-03bf-ffff403fb0c34b9e",
				"name": "Lamp", "type": "Switch",
				"states": {"active": "0b734138-03ac-03c0-ffffeee000240011"}
			}
		}
	}`
)

// miniserver answers the hash handshake, the structure file request and
// the status update request. Other commands get no reply.
type miniserver struct {
	conn       *fakeConn
	config     string
	authCode   int
	silentKey  bool
	holdConfig bool
	extraReply map[string]string
}

func (m *miniserver) handle(cmd string) {
	switch {
	case cmd == protocol.CmdGetKey:
		if !m.silentKey {
			m.conn.text(reply("dev/sys/getkey", 200, `"deadbeef"`))
		}
	case strings.HasPrefix(cmd, protocol.CmdAuthenticate):
		code := m.authCode
		if code == 0 {
			code = 200
		}
		m.conn.text(reply(cmd, code, `""`))
	case cmd == protocol.CmdGetAppConfig:
		if !m.holdConfig {
			m.conn.text(m.config)
		}
	case cmd == protocol.CmdEnableUpdates:
		m.conn.text(reply("dev/sps/enablebinstatusupdate", 200, `"1"`))
		rec, _ := protocol.EncodeValueRecord(ident.Parse(testStateID), 1)
		m.conn.binary(protocol.EncodeHeader(protocol.HeaderValueTable, uint32(len(rec))))
		m.conn.binary(rec)
	default:
		if r, ok := m.extraReply[cmd]; ok {
			m.conn.text(r)
		}
	}
}
