// Package session coordinates one Miniserver endpoint: it owns the protocol
// client and the structural graph, consumes client events in order, and
// reconnects according to why the previous connection ended.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/client"
	"github.com/muurk/loxone/internal/graph"
	"github.com/muurk/loxone/internal/ident"
	"github.com/muurk/loxone/internal/logging"
	"github.com/muurk/loxone/internal/offline"
	"github.com/muurk/loxone/internal/protocol"
)

// Default reconnect delays.
const (
	DefaultFirstConnectDelay       = 1 * time.Second
	DefaultConnectErrorDelay       = 10 * time.Second
	DefaultUserErrorDelay          = 60 * time.Second
	DefaultCommunicationErrorDelay = 30 * time.Second
)

var (
	// ErrUnknownControl is returned when an action targets a control that is
	// not in the current structure.
	ErrUnknownControl = errors.New("unknown control")
	// ErrStopped is returned by Start on a session that has already ended.
	ErrStopped = errors.New("session stopped")
)

// Connector is the part of the protocol client the session drives.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect()
	SendCommand(ctx context.Context, cmd string, encrypt bool) (*protocol.Response, error)
	Update(t client.Timeouts)
}

// Timeouts holds the reconnect delays and the client settings that can be
// changed on a running session. Zero values keep the current setting.
type Timeouts struct {
	FirstConnectDelay       time.Duration
	ConnectErrorDelay       time.Duration
	UserErrorDelay          time.Duration
	CommunicationErrorDelay time.Duration
	Client                  client.Timeouts
}

func (t Timeouts) withDefaults() Timeouts {
	if t.FirstConnectDelay <= 0 {
		t.FirstConnectDelay = DefaultFirstConnectDelay
	}
	if t.ConnectErrorDelay <= 0 {
		t.ConnectErrorDelay = DefaultConnectErrorDelay
	}
	if t.UserErrorDelay <= 0 {
		t.UserErrorDelay = DefaultUserErrorDelay
	}
	if t.CommunicationErrorDelay <= 0 {
		t.CommunicationErrorDelay = DefaultCommunicationErrorDelay
	}
	return t
}

// Options configures a session.
type Options struct {
	Client   client.Options
	Timeouts Timeouts
	// Registry maps control types to behaviours. Controls of other types
	// are not added to the graph.
	Registry graph.Registry
}

// Session is the coordinator for one Miniserver.
type Session struct {
	debugID string
	conn    Connector
	graph   *graph.Graph
	events  *queue
	after   func(time.Duration) <-chan time.Time

	mu        sync.Mutex
	timeouts  Timeouts
	listeners []Listener
	started   bool
	cancel    context.CancelFunc
	err       error

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// New creates a session backed by a protocol client.
func New(opts Options) *Session {
	return newSession(opts, func(sink client.EventSink) Connector {
		return client.New(opts.Client, sink)
	})
}

func newSession(opts Options, build func(client.EventSink) Connector) *Session {
	debugID := opts.Client.DebugID
	if debugID == "" {
		debugID = opts.Client.Host
	}
	s := &Session{
		debugID:  debugID,
		graph:    graph.New(opts.Registry),
		events:   newQueue(),
		after:    time.After,
		timeouts: opts.Timeouts.withDefaults(),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.conn = build(s.events)
	return s
}

// Graph returns the structural graph. It is empty until the first
// configuration has been received.
func (s *Session) Graph() *graph.Graph { return s.graph }

// AddListener registers l for session callbacks.
func (s *Session) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Start launches the connect and consume loop. It returns immediately.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		select {
		case <-s.done:
			return ErrStopped
		default:
			return nil
		}
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
	return nil
}

// Stop ends the session, closes the connection and disposes the graph. It
// waits for the consumer loop to finish.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.events.Put(client.Event{Type: client.Shutdown})
	})
	s.mu.Lock()
	started, cancel := s.started, s.cancel
	s.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-s.done
}

// Done is closed once the session has ended, either through Stop or because
// the Miniserver locked the user out.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended on its own, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Update changes the reconnect delays immediately and the client settings
// from the next connection on.
func (s *Session) Update(t Timeouts) {
	s.mu.Lock()
	cur := s.timeouts
	if t.FirstConnectDelay > 0 {
		cur.FirstConnectDelay = t.FirstConnectDelay
	}
	if t.ConnectErrorDelay > 0 {
		cur.ConnectErrorDelay = t.ConnectErrorDelay
	}
	if t.UserErrorDelay > 0 {
		cur.UserErrorDelay = t.UserErrorDelay
	}
	if t.CommunicationErrorDelay > 0 {
		cur.CommunicationErrorDelay = t.CommunicationErrorDelay
	}
	s.timeouts = cur
	s.mu.Unlock()

	s.conn.Update(t.Client)
}

// SendAction sends an action string to a control and waits for the reply.
// Non-200 replies are returned as *protocol.CodeError.
func (s *Session) SendAction(ctx context.Context, controlID, action string) error {
	ctl := s.graph.Control(ident.Parse(controlID))
	if ctl == nil {
		return fmt.Errorf("%w: %s", ErrUnknownControl, controlID)
	}
	return s.send(ctx, protocol.ActionCommand(ctl.ID(), action))
}

// Operate translates op through the control's behaviour and sends it.
func (s *Session) Operate(ctx context.Context, controlID, op string, args ...string) error {
	ctl := s.graph.Control(ident.Parse(controlID))
	if ctl == nil {
		return fmt.Errorf("%w: %s", ErrUnknownControl, controlID)
	}
	cmd, err := ctl.Command(op, args...)
	if err != nil {
		return fmt.Errorf("failed to build command for %s: %w", ctl.Name(), err)
	}
	return s.send(ctx, cmd)
}

func (s *Session) send(ctx context.Context, cmd string) error {
	resp, err := s.conn.SendCommand(ctx, cmd, true)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	if !resp.OK() {
		return &protocol.CodeError{Command: cmd, Code: resp.Code}
	}
	return nil
}

func (s *Session) run(ctx context.Context) {
	log := logging.GetLogger().With(logging.Miniserver(s.debugID))
	defer func() {
		s.conn.Disconnect()
		s.graph.Dispose()
		s.mu.Lock()
		s.cancel()
		s.mu.Unlock()
		close(s.done)
		log.Info("Session ended")
	}()

	delay := s.currentTimeouts().FirstConnectDelay
	for {
		select {
		case <-s.stopped:
			return
		default:
		}
		log.Debug("Waiting before connecting", zap.Duration("delay", delay))
		select {
		case <-s.after(delay):
		case <-s.stopped:
			return
		case <-ctx.Done():
			return
		}

		if err := s.conn.Connect(ctx); err != nil {
			log.Warn("Connection attempt failed", zap.Error(err))
			delay = s.currentTimeouts().ConnectErrorDelay
			continue
		}

		reason, detail, stop := s.consume(ctx)
		s.conn.Disconnect()
		if stop {
			return
		}

		next, retry := s.nextDelay(reason)
		if !retry {
			log.Error("Giving up, Miniserver refuses further logins",
				zap.Stringer("reason", reason),
				zap.String("detail", detail),
			)
			s.mu.Lock()
			s.err = offline.New(reason, detail)
			s.mu.Unlock()
			return
		}
		log.Info("Reconnecting",
			zap.Stringer("reason", reason),
			zap.Duration("delay", next),
		)
		delay = next
	}
}

// nextDelay returns the reconnect delay after a connection ended for
// reason, and false when no further attempt should be made.
func (s *Session) nextDelay(reason offline.Reason) (time.Duration, bool) {
	t := s.currentTimeouts()
	switch reason {
	case offline.TooManyFailedLoginAttempts:
		return 0, false
	case offline.Unauthorized:
		return t.UserErrorDelay, true
	default:
		return t.CommunicationErrorDelay, true
	}
}

func (s *Session) currentTimeouts() Timeouts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeouts
}

// consume handles events until the connection goes offline or the session
// is shut down.
func (s *Session) consume(ctx context.Context) (offline.Reason, string, bool) {
	for {
		e, err := s.events.Get(ctx)
		if err != nil {
			return offline.None, "", true
		}
		switch e.Type {
		case client.ConfigReceived:
			s.onConfiguration(e.Config)
		case client.StateUpdate:
			s.onStateUpdate(e.Update)
		case client.ServerOnline:
			logging.Info("Miniserver online", logging.Miniserver(s.debugID))
			for _, l := range s.snapshot() {
				l.OnServerOnline()
			}
		case client.ServerOffline:
			logging.Warn("Miniserver offline",
				logging.Miniserver(s.debugID),
				zap.Stringer("reason", e.Reason),
				zap.String("detail", e.Detail),
			)
			for _, l := range s.snapshot() {
				l.OnServerOffline(e.Reason, e.Detail)
			}
			return e.Reason, e.Detail, false
		case client.Shutdown:
			return offline.None, "", true
		}
	}
}

func (s *Session) onConfiguration(cfg *protocol.AppConfig) {
	if cfg == nil {
		return
	}
	stats := s.graph.Merge(cfg)
	logging.Info("Structure merged",
		logging.Miniserver(s.debugID),
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("removed", stats.Removed),
		zap.Int("skipped", stats.Skipped),
	)
	for _, l := range s.snapshot() {
		l.OnConfiguration(s.graph)
	}
}

func (s *Session) onStateUpdate(u protocol.StateUpdate) {
	refs := s.graph.Apply(u)
	if len(refs) == 0 {
		logging.Debug("Update for unknown state",
			logging.Miniserver(s.debugID),
			zap.String("state", u.ID.String()),
		)
		return
	}
	listeners := s.snapshot()
	for _, ref := range refs {
		name := strings.ToLower(ref.State.Name())
		for _, l := range listeners {
			l.OnStateUpdate(ref.Control, name)
		}
	}
}

func (s *Session) snapshot() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Listener(nil), s.listeners...)
}
