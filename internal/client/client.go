// Package client drives one websocket connection to a Miniserver.
//
// A connection moves through
//
//	Idle -> Connecting -> Connected -> UpdatingConfiguration -> Running -> Closing -> Idle
//
// Connect probes the firmware version, opens the websocket and starts
// authentication on its own goroutine. Once authenticated the client
// requests the structure file, and when it arrives the client reports
// ConfigReceived and ServerOnline and enables binary state updates. From
// then on binary frames become StateUpdate events.
//
// Every way a connection can end (transport close, reply timeout, failed
// authentication, unparseable structure file) produces exactly one
// ServerOffline event, unless the end was requested with Disconnect. The
// client itself never reconnects.
//
// At most one command waits for a reply at any time. SendCommand blocks
// until the reply arrives; SendAsync returns once the command is written.
// A second command while one is pending fails with ErrCommandPending.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/logging"
	"github.com/muurk/loxone/internal/offline"
	"github.com/muurk/loxone/internal/protocol"
	"github.com/muurk/loxone/internal/security"
	"github.com/muurk/loxone/internal/settings"
)

// State is the connection state.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	UpdatingConfiguration
	Running
	Closing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case UpdatingConfiguration:
		return "UPDATING_CONFIGURATION"
	case Running:
		return "RUNNING"
	case Closing:
		return "CLOSING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Defaults for Options.
const (
	DefaultKeepalivePeriod = 240 * time.Second
	DefaultResponseTimeout = 4 * time.Second
	DefaultMaxBinaryKB     = 3072
	DefaultMaxTextKB       = 512
	DefaultProbeTimeout    = 5 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultClientInfo      = "loxctl"
)

// Options configure a Client. Zero values take the defaults above.
type Options struct {
	// Host is host:port of the Miniserver.
	Host string
	User string
	// DebugID names the Miniserver in logs; Host when empty.
	DebugID  string
	Security security.Type
	Settings settings.Store

	KeepalivePeriod    time.Duration
	ResponseTimeout    time.Duration
	MaxBinaryMessageKB int
	MaxTextMessageKB   int
	ClientInfo         string

	Transport Transport
	// NewStrategy builds the security strategy; security.New when nil.
	NewStrategy func(security.Type, security.Params) (security.Strategy, error)
}

func (o Options) withDefaults() Options {
	if o.DebugID == "" {
		o.DebugID = o.Host
	}
	if o.KeepalivePeriod <= 0 {
		o.KeepalivePeriod = DefaultKeepalivePeriod
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.MaxBinaryMessageKB <= 0 {
		o.MaxBinaryMessageKB = DefaultMaxBinaryKB
	}
	if o.MaxTextMessageKB <= 0 {
		o.MaxTextMessageKB = DefaultMaxTextKB
	}
	if o.ClientInfo == "" {
		o.ClientInfo = DefaultClientInfo
	}
	if o.Settings == nil {
		o.Settings = settings.NewMemory(nil)
	}
	if o.Transport == nil {
		o.Transport = NewWebsocketTransport()
	}
	if o.NewStrategy == nil {
		o.NewStrategy = security.New
	}
	return o
}

// Timeouts are the per-connection settings that may change at runtime.
// They apply from the next Connect.
type Timeouts struct {
	KeepalivePeriod    time.Duration
	ResponseTimeout    time.Duration
	MaxBinaryMessageKB int
	MaxTextMessageKB   int
}

type pendingCommand struct {
	cmd  string
	done chan *protocol.Response
}

// Client is the connection state machine for one Miniserver.
type Client struct {
	sink EventSink

	// mu guards everything below up to respMu. It is never held while
	// blocking on the network or on a reply.
	mu         sync.Mutex
	opts       Options
	state      State
	seq        uint64
	conn       Conn
	strategy   security.Strategy
	apiInfo    *protocol.APIInfo
	readerDone chan struct{}
	authCancel context.CancelFunc
	stopKeep   chan struct{}
	timer      *time.Timer
	timerSeq   uint64
	header     *protocol.Header

	respMu  sync.Mutex
	pending *pendingCommand

	writeMu sync.Mutex
}

// New creates an idle client that reports to sink.
func New(opts Options, sink EventSink) *Client {
	return &Client{opts: opts.withDefaults(), sink: sink}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// APIInfo returns the result of the last successful firmware probe.
func (c *Client) APIInfo() *protocol.APIInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiInfo
}

// DebugID returns the name used for this Miniserver in logs.
func (c *Client) DebugID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.DebugID
}

// Update changes timeouts and message limits for the next connection.
func (c *Client) Update(t Timeouts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.KeepalivePeriod > 0 {
		c.opts.KeepalivePeriod = t.KeepalivePeriod
	}
	if t.ResponseTimeout > 0 {
		c.opts.ResponseTimeout = t.ResponseTimeout
	}
	if t.MaxBinaryMessageKB > 0 {
		c.opts.MaxBinaryMessageKB = t.MaxBinaryMessageKB
	}
	if t.MaxTextMessageKB > 0 {
		c.opts.MaxTextMessageKB = t.MaxTextMessageKB
	}
}

// Connect opens a connection. It returns once the websocket is open;
// authentication and the structure file follow asynchronously and are
// reported through the event sink.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect in state %s", ErrInvalidState, state)
	}
	c.state = Connecting
	c.seq++
	seq := c.seq
	opts := c.opts
	c.mu.Unlock()

	log := logging.GetLogger().With(logging.Miniserver(opts.DebugID))
	log.Info("Connecting", zap.String("host", opts.Host))

	info := c.probe(ctx, opts)

	conn, err := opts.Transport.Dial(ctx, opts.Host)
	if err != nil {
		c.abortConnect(seq)
		log.Warn("Failed to open websocket", zap.Error(err))
		return offline.NewConnectError(err)
	}

	var version string
	if info != nil {
		version = info.Version
	}
	strategy, err := opts.NewStrategy(opts.Security, security.Params{
		User:            opts.User,
		Host:            opts.Host,
		DebugID:         opts.DebugID,
		Settings:        opts.Settings,
		Sender:          c,
		SoftwareVersion: version,
		ClientInfo:      opts.ClientInfo,
	})
	if err != nil {
		_ = conn.Close()
		c.abortConnect(seq)
		return offline.Wrap(offline.InternalError, "failed to create security strategy", err)
	}

	c.mu.Lock()
	if c.seq != seq || c.state != Connecting {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrConnectionClosed
	}
	c.conn = conn
	c.strategy = strategy
	c.apiInfo = info
	c.header = nil
	done := make(chan struct{})
	c.readerDone = done
	c.startTimerLocked(seq)
	c.onOpenLocked(seq, conn, strategy)
	c.mu.Unlock()

	go c.readLoop(conn, seq, done)
	return nil
}

func (c *Client) abortConnect(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq == seq && c.state == Connecting {
		c.state = Idle
	}
}

// probe reads firmware version and MAC from /jdev/cfg/api. Failures are
// logged and ignored.
func (c *Client) probe(ctx context.Context, opts Options) *protocol.APIInfo {
	ctx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	body, err := opts.Transport.Get(ctx, opts.Host, "/"+protocol.CmdCfgAPI)
	if err != nil {
		logging.Debug("Firmware probe failed", logging.Miniserver(opts.DebugID), zap.Error(err))
		return nil
	}
	info, err := protocol.ParseAPIInfo(body)
	if err != nil {
		logging.Debug("Firmware probe reply not understood", logging.Miniserver(opts.DebugID), zap.Error(err))
		return nil
	}
	logging.Debug("Firmware probe",
		logging.Miniserver(opts.DebugID),
		zap.String("version", info.Version),
		zap.String("mac", info.Serial),
	)
	return info
}

// onOpenLocked applies the message size policy and starts authentication.
func (c *Client) onOpenLocked(seq uint64, conn Conn, strategy security.Strategy) {
	limit := c.opts.MaxBinaryMessageKB
	if c.opts.MaxTextMessageKB > limit {
		limit = c.opts.MaxTextMessageKB
	}
	conn.SetReadLimit(int64(limit) * 1024)

	c.stopTimerLocked()
	c.state = Connected

	ctx, cancel := context.WithCancel(context.Background())
	c.authCancel = cancel
	result := make(chan error, 1)
	go func() { result <- strategy.Authenticate(ctx) }()
	go c.awaitAuthentication(ctx, seq, result)
}

func (c *Client) awaitAuthentication(ctx context.Context, seq uint64, result <-chan error) {
	select {
	case err := <-result:
		c.onAuthenticated(seq, err)
	case <-ctx.Done():
	}
}

func (c *Client) onAuthenticated(seq uint64, err error) {
	c.mu.Lock()
	if c.seq != seq || c.state != Connected {
		c.mu.Unlock()
		return
	}
	debugID := c.opts.DebugID
	if err != nil {
		c.mu.Unlock()
		logging.Warn("Authentication failed", logging.Miniserver(debugID), zap.Error(err))
		c.notifyAndClose(seq, offline.ReasonOf(err), err.Error())
		return
	}
	c.state = UpdatingConfiguration
	c.startTimerLocked(seq)
	c.startKeepaliveLocked(seq)
	c.mu.Unlock()

	logging.Info("Authenticated, requesting structure file", logging.Miniserver(debugID))
	if err := c.write(seq, protocol.CmdGetAppConfig); err != nil {
		c.notifyAndClose(seq, offline.CommunicationError, err.Error())
	}
}

// Disconnect closes the connection without reporting it offline and waits
// until the client is idle again. It must not be called from an EventSink.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	if c.conn == nil {
		// Connect has not opened the websocket yet; it will notice the new
		// sequence number and close what it opens.
		c.seq++
		c.state = Idle
		c.mu.Unlock()
		return
	}
	c.state = Closing
	conn := c.conn
	done := c.readerDone
	debugID := c.opts.DebugID
	c.mu.Unlock()

	logging.Info("Disconnecting", logging.Miniserver(debugID))
	_ = conn.Close()
	<-done
}

// notifyAndClose reports the connection offline and closes it. The reader
// goroutine then finishes the cleanup quietly.
func (c *Client) notifyAndClose(seq uint64, reason offline.Reason, detail string) {
	c.mu.Lock()
	if c.seq != seq || c.state == Closing || c.state == Idle {
		c.mu.Unlock()
		return
	}
	c.state = Closing
	conn := c.conn
	debugID := c.opts.DebugID
	c.mu.Unlock()

	logging.Warn("Miniserver offline",
		logging.Miniserver(debugID),
		zap.Stringer("reason", reason),
		zap.String("detail", detail),
	)
	c.sink.Put(Event{Type: ServerOffline, Reason: reason, Detail: detail})
	if conn != nil {
		_ = conn.Close()
	}
}

// onClose runs on the reader goroutine when the websocket ends.
func (c *Client) onClose(seq uint64, err error) {
	c.mu.Lock()
	if c.seq != seq {
		c.mu.Unlock()
		return
	}
	prev := c.state
	debugID := c.opts.DebugID
	c.cleanupLocked()
	c.state = Idle
	c.mu.Unlock()

	c.releasePending()

	if prev == Closing || prev == Idle {
		logging.Debug("Connection closed", logging.Miniserver(debugID))
		return
	}
	code := closeCode(err)
	reason := offline.FromCode(code)
	if reason == offline.None {
		reason = offline.CommunicationError
	}
	logging.Warn("Miniserver offline",
		logging.Miniserver(debugID),
		zap.Int("close_code", code),
		zap.Stringer("reason", reason),
		zap.Error(err),
	)
	c.sink.Put(Event{Type: ServerOffline, Reason: reason, Detail: err.Error()})
}

func (c *Client) cleanupLocked() {
	if c.authCancel != nil {
		c.authCancel()
		c.authCancel = nil
	}
	if c.strategy != nil {
		c.strategy.Cancel()
	}
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}
	c.stopTimerLocked()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.header = nil
}

// startTimerLocked arms the reply timeout for the current connection.
func (c *Client) startTimerLocked(seq uint64) {
	c.stopTimerLocked()
	timerSeq := c.timerSeq
	c.timer = time.AfterFunc(c.opts.ResponseTimeout, func() { c.onTimeout(seq, timerSeq) })
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
}

func (c *Client) onTimeout(seq, timerSeq uint64) {
	c.mu.Lock()
	if c.seq != seq || c.timerSeq != timerSeq {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	state := c.state
	c.mu.Unlock()

	c.notifyAndClose(seq, offline.CommunicationError,
		fmt.Sprintf("no reply from Miniserver in state %s", state))
}

func (c *Client) startKeepaliveLocked(seq uint64) {
	if c.stopKeep != nil {
		close(c.stopKeep)
	}
	stop := make(chan struct{})
	c.stopKeep = stop
	go c.keepaliveLoop(seq, c.opts.KeepalivePeriod, stop)
}

func (c *Client) keepaliveLoop(seq uint64, period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		state := c.state
		current := c.seq == seq
		c.mu.Unlock()
		if !current || state == Closing || state == Idle || state == Connecting {
			return
		}
		if err := c.write(seq, protocol.CmdKeepalive); err != nil {
			c.notifyAndClose(seq, offline.CommunicationError, err.Error())
			return
		}
	}
}
