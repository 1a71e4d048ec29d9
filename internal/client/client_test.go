package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/muurk/loxone/internal/offline"
	"github.com/muurk/loxone/internal/protocol"
	"github.com/muurk/loxone/internal/security"
	"github.com/muurk/loxone/internal/settings"
)

type harness struct {
	conn   *fakeConn
	ms     *miniserver
	tr     *fakeTransport
	sink   *chanSink
	client *Client
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	conn := newFakeConn()
	ms := &miniserver{conn: conn, config: testConfig, extraReply: map[string]string{}}
	conn.onWrite = ms.handle
	tr := &fakeTransport{conn: conn, api: apiReply("8.3.3.21")}
	sink := newSink()
	c := New(Options{
		Host:            "192.168.1.77:80",
		User:            "u",
		Settings:        settings.NewMemory(map[string]string{settings.KeyPassword: "p"}),
		Transport:       tr,
		ResponseTimeout: timeout,
	}, sink)
	t.Cleanup(c.Disconnect)
	return &harness{conn: conn, ms: ms, tr: tr, sink: sink, client: c}
}

// run connects and waits for the first state update.
func (h *harness) run(t *testing.T) {
	t.Helper()
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.sink.expect(t, ConfigReceived)
	h.sink.expect(t, ServerOnline)
	h.sink.expect(t, StateUpdate)
}

func TestConnectHappyPath(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	cfg := h.sink.expect(t, ConfigReceived).Config
	if cfg == nil || len(cfg.Controls) != 1 {
		t.Fatalf("Config = %+v", cfg)
	}
	if cfg.MsInfo.SoftwareVersion != "8.3.3.21" || cfg.MsInfo.MACAddress != "50:4F:94:00:00:01" {
		t.Errorf("MsInfo = %+v, want probe data filled in", cfg.MsInfo)
	}
	h.sink.expect(t, ServerOnline)

	up := h.sink.expect(t, StateUpdate).Update
	if up.ID.String() != "0B734138-03AC-03C0-FFFFEEE000240011" || up.Value != 1 {
		t.Errorf("Update = %v", up)
	}

	if got := h.client.State(); got != Running {
		t.Errorf("State() = %v, want RUNNING", got)
	}
	if got := h.conn.readLimit(); got != DefaultMaxBinaryKB*1024 {
		t.Errorf("read limit = %d, want %d", got, DefaultMaxBinaryKB*1024)
	}
	if !h.conn.wasSent(protocol.CmdAuthenticate) {
		t.Error("authenticate was not sent")
	}

	h.client.Disconnect()
	if got := h.client.State(); got != Idle {
		t.Errorf("State() after Disconnect = %v, want IDLE", got)
	}
	h.sink.none(t, 50*time.Millisecond)
}

func TestConnectRequiresIdle(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.run(t)

	err := h.client.Connect(context.Background())
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Connect() error = %v, want ErrInvalidState", err)
	}
}

func TestConnectDialFailure(t *testing.T) {
	h := newHarness(t, time.Second)
	h.tr.dialErr = errors.New("connection refused")

	err := h.client.Connect(context.Background())
	if offline.ReasonOf(err) != offline.ConnectFailed {
		t.Errorf("Connect() error = %v, want ConnectFailed", err)
	}
	if got := h.client.State(); got != Idle {
		t.Errorf("State() = %v, want IDLE", got)
	}
}

func TestProbeFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.tr.api = nil
	h.run(t)
	if h.client.APIInfo() != nil {
		t.Error("APIInfo() should be nil after a failed probe")
	}
}

func TestSingleFlight(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	h.run(t)

	if err := h.client.SendAsync("jdev/sps/io/lamp/On", false); err != nil {
		t.Fatalf("first SendAsync() error = %v", err)
	}
	if err := h.client.SendAsync("jdev/sps/io/other/On", false); !errors.Is(err, ErrCommandPending) {
		t.Errorf("second SendAsync() error = %v, want ErrCommandPending", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h.client.SendCommand(ctx, "jdev/sps/io/other/Off", false); !errors.Is(err, ErrCommandPending) {
		t.Errorf("SendCommand() error = %v, want ErrCommandPending", err)
	}
	if h.conn.wasSent("jdev/sps/io/other") {
		t.Error("rejected command reached the wire")
	}
}

func TestSendCommandReply(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.ms.extraReply["jdev/sps/io/lamp/Pulse"] = reply("dev/sps/io/lamp/Pulse", 200, `"1"`)
	h.run(t)

	resp, err := h.client.SendCommand(context.Background(), "jdev/sps/io/lamp/Pulse", true)
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if !resp.OK() || resp.Control != "jdev/sps/io/lamp/Pulse" {
		t.Errorf("reply = %+v", resp)
	}

	// The slot is free again.
	h.ms.extraReply["jdev/sps/io/lamp/On"] = reply("dev/sps/io/lamp/On", 200, `"1"`)
	if _, err := h.client.SendCommand(context.Background(), "jdev/sps/io/lamp/On", true); err != nil {
		t.Errorf("follow-up SendCommand() error = %v", err)
	}
}

func TestSendWhenIdle(t *testing.T) {
	h := newHarness(t, time.Second)
	if _, err := h.client.SendCommand(context.Background(), "keepalive", false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCommand() error = %v, want ErrNotConnected", err)
	}
}

func TestServerCloseCodes(t *testing.T) {
	tests := []struct {
		code int
		want offline.Reason
	}{
		{401, offline.Unauthorized},
		{4003, offline.TooManyFailedLoginAttempts},
		{1001, offline.IdleTimeout},
		{420, offline.AuthenticationTimeout},
		{1006, offline.CommunicationError},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			h := newHarness(t, 2*time.Second)
			h.run(t)

			h.conn.serverClose(tt.code)
			ev := h.sink.expect(t, ServerOffline)
			if ev.Reason != tt.want {
				t.Errorf("Reason = %v, want %v", ev.Reason, tt.want)
			}
			h.client.Disconnect()
			if got := h.client.State(); got != Idle {
				t.Errorf("State() = %v, want IDLE", got)
			}
		})
	}
}

func TestCloseReleasesWaiter(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	h.run(t)

	errc := make(chan error, 1)
	go func() {
		_, err := h.client.SendCommand(context.Background(), "jdev/sps/io/lamp/On", false)
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	h.client.Disconnect()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("SendCommand() error = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released")
	}
	h.sink.none(t, 50*time.Millisecond)
}

func TestAuthenticationRejected(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.ms.authCode = 401
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ev := h.sink.expect(t, ServerOffline)
	if ev.Reason != offline.Unauthorized {
		t.Errorf("Reason = %v, want Unauthorized", ev.Reason)
	}
	h.client.Disconnect()
	h.sink.none(t, 50*time.Millisecond)
}

func TestReplyTimeout(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.ms.silentKey = true
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ev := h.sink.expect(t, ServerOffline)
	if ev.Reason != offline.CommunicationError {
		t.Errorf("Reason = %v, want CommunicationError", ev.Reason)
	}
	h.client.Disconnect()
	if got := h.client.State(); got != Idle {
		t.Errorf("State() = %v, want IDLE", got)
	}
	h.sink.none(t, 100*time.Millisecond)
}

func TestBadStructureFile(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.ms.config = "{not json"
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ev := h.sink.expect(t, ServerOffline)
	if ev.Reason != offline.InternalError {
		t.Errorf("Reason = %v, want InternalError", ev.Reason)
	}
}

func TestCommandsRejectedWhileLoadingStructure(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.ms.holdConfig = true
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.client.State() != UpdatingConfiguration {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %v, want UpdatingConfiguration", h.client.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := h.client.SendAsync("jdev/sps/io/lamp/On", false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendAsync() error = %v, want ErrNotConnected", err)
	}
	if h.conn.wasSent("jdev/sps/io/lamp") {
		t.Error("rejected command reached the wire")
	}

	// a reply envelope must not be taken for the structure file
	h.conn.text(reply("dev/sps/io/lamp/On", 200, `"1"`))
	h.sink.none(t, 100*time.Millisecond)
	if got := h.client.State(); got != UpdatingConfiguration {
		t.Errorf("State() after stray reply = %v, want UpdatingConfiguration", got)
	}

	h.conn.text(testConfig)
	cfg := h.sink.expect(t, ConfigReceived).Config
	if cfg == nil || len(cfg.Controls) != 1 {
		t.Fatalf("Config = %+v, want the structure file with 1 control", cfg)
	}
	h.sink.expect(t, ServerOnline)
}

func TestReconnectAfterOffline(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.run(t)
	h.conn.serverClose(1006)
	h.sink.expect(t, ServerOffline)
	h.client.Disconnect()

	conn := newFakeConn()
	h.ms.conn = conn
	conn.onWrite = h.ms.handle
	h.tr.conn = conn
	h.run(t)
}

func TestStrategySelection(t *testing.T) {
	var got security.Type
	h := newHarness(t, 2*time.Second)
	h.tr.api = apiReply("12.0.2.24")
	h.client.opts.NewStrategy = func(typ security.Type, p security.Params) (security.Strategy, error) {
		got = typ.Resolve(p.SoftwareVersion)
		return security.NewHash(p), nil
	}
	h.run(t)
	if got != security.TypeToken {
		t.Errorf("resolved type = %v, want token", got)
	}
}
