package client

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/logging"
	"github.com/muurk/loxone/internal/protocol"
)

// SendCommand sends cmd and blocks until its reply arrives, ctx is done or
// the connection ends. With encrypt set the command goes through the
// security strategy, which leaves it unchanged when it does not encrypt.
func (c *Client) SendCommand(ctx context.Context, cmd string, encrypt bool) (*protocol.Response, error) {
	p, err := c.send(cmd, encrypt)
	if err != nil {
		return nil, err
	}
	select {
	case resp := <-p.done:
		if resp == nil {
			return nil, ErrConnectionClosed
		}
		return resp, nil
	case <-ctx.Done():
		c.abandon(p)
		return nil, ctx.Err()
	}
}

// SendAsync sends cmd and returns once it is written. The reply is consumed
// by the client; until it arrives further commands fail with
// ErrCommandPending.
func (c *Client) SendAsync(cmd string, encrypt bool) error {
	_, err := c.send(cmd, encrypt)
	return err
}

// HTTPGet performs a plain HTTP request against the Miniserver.
func (c *Client) HTTPGet(ctx context.Context, path string) ([]byte, error) {
	c.mu.Lock()
	opts := c.opts
	c.mu.Unlock()
	return opts.Transport.Get(ctx, opts.Host, path)
}

func (c *Client) send(cmd string, encrypt bool) (*pendingCommand, error) {
	c.mu.Lock()
	state, seq, strategy := c.state, c.seq, c.strategy
	c.mu.Unlock()
	// the structure file is the only reply expected in UpdatingConfiguration
	switch state {
	case Connected, Running:
	default:
		return nil, fmt.Errorf("%w: state %s", ErrNotConnected, state)
	}

	wire := cmd
	if encrypt && strategy != nil {
		var err error
		if wire, err = strategy.Encrypt(cmd); err != nil {
			return nil, err
		}
	}

	c.respMu.Lock()
	if c.pending != nil {
		waiting := c.pending.cmd
		c.respMu.Unlock()
		logging.Debug("Command rejected, another is pending",
			zap.String("command", cmd),
			zap.String("pending", waiting),
		)
		return nil, ErrCommandPending
	}
	p := &pendingCommand{cmd: cmd, done: make(chan *protocol.Response, 1)}
	c.pending = p
	c.respMu.Unlock()

	// The timer is armed before writing so a fast reply can stop it.
	c.mu.Lock()
	if c.seq == seq {
		c.startTimerLocked(seq)
	}
	c.mu.Unlock()

	if err := c.write(seq, wire); err != nil {
		c.abandon(p)
		return nil, err
	}
	return p, nil
}

// abandon clears p if it is still the pending command and stops the reply
// timer.
func (c *Client) abandon(p *pendingCommand) {
	c.respMu.Lock()
	mine := c.pending == p
	if mine {
		c.pending = nil
	}
	c.respMu.Unlock()
	if mine {
		c.mu.Lock()
		c.stopTimerLocked()
		c.mu.Unlock()
	}
}

// deliver hands a reply to the pending command.
func (c *Client) deliver(seq uint64, resp *protocol.Response) {
	c.respMu.Lock()
	p := c.pending
	c.pending = nil
	c.respMu.Unlock()

	c.mu.Lock()
	if c.seq == seq {
		c.stopTimerLocked()
	}
	debugID := c.opts.DebugID
	c.mu.Unlock()

	if p == nil {
		logging.Debug("Reply without pending command",
			logging.Miniserver(debugID),
			zap.String("control", resp.Control),
			zap.Int("code", resp.Code),
		)
		return
	}
	if p.cmd != resp.Control {
		logging.Warn("Reply does not match pending command",
			logging.Miniserver(debugID),
			zap.String("command", p.cmd),
			zap.String("control", resp.Control),
		)
	}
	p.done <- resp
}

// releasePending wakes a waiting caller with no reply.
func (c *Client) releasePending() {
	c.respMu.Lock()
	p := c.pending
	c.pending = nil
	c.respMu.Unlock()
	if p != nil {
		p.done <- nil
	}
}

func (c *Client) write(seq uint64, text string) error {
	c.mu.Lock()
	conn := c.conn
	current := c.seq == seq
	debugID := c.opts.DebugID
	c.mu.Unlock()
	if !current || conn == nil {
		return ErrConnectionClosed
	}

	data := []byte(text)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	logging.LogWebSocketMessage(debugID, "sent", websocket.TextMessage, data)
	return nil
}
