package client

import (
	"errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/logging"
	"github.com/muurk/loxone/internal/offline"
	"github.com/muurk/loxone/internal/protocol"
)

func (c *Client) readLoop(conn Conn, seq uint64, done chan struct{}) {
	defer close(done)

	c.mu.Lock()
	debugID := c.opts.DebugID
	c.mu.Unlock()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.onClose(seq, err)
			return
		}
		logging.LogWebSocketMessage(debugID, "received", mt, data)

		switch mt {
		case websocket.TextMessage:
			c.handleText(seq, data)
		case websocket.BinaryMessage:
			c.handleBinary(seq, data)
		}
	}
}

func (c *Client) handleText(seq uint64, data []byte) {
	c.mu.Lock()
	if c.seq != seq {
		c.mu.Unlock()
		return
	}
	state := c.state
	strategy := c.strategy
	info := c.apiInfo
	debugID := c.opts.DebugID
	c.header = nil
	if state == UpdatingConfiguration {
		c.stopTimerLocked()
	}
	c.mu.Unlock()

	switch state {
	case UpdatingConfiguration:
		c.onConfiguration(seq, data, info, debugID)
	case Connected, Running:
		resp, err := protocol.ParseResponse(data)
		if err != nil {
			logging.Debug("Ignoring text message", logging.Miniserver(debugID), zap.Error(err))
			return
		}
		control := resp.Control
		if strategy != nil {
			control = strategy.DecryptControl(control)
		}
		resp.Control = protocol.NormalizeControl(control)
		c.deliver(seq, resp)
	default:
		logging.Debug("Ignoring text message",
			logging.Miniserver(debugID),
			zap.Stringer("state", state),
		)
	}
}

func (c *Client) onConfiguration(seq uint64, data []byte, info *protocol.APIInfo, debugID string) {
	cfg, err := protocol.ParseAppConfig(data)
	if errors.Is(err, protocol.ErrNotStructureFile) {
		// a stray reply; keep waiting for the structure file
		logging.Warn("Ignoring text message while waiting for structure file",
			logging.Miniserver(debugID), zap.Error(err))
		c.mu.Lock()
		if c.seq == seq && c.state == UpdatingConfiguration {
			c.startTimerLocked(seq)
		}
		c.mu.Unlock()
		return
	}
	if err != nil {
		logging.Error("Failed to parse structure file", logging.Miniserver(debugID), zap.Error(err))
		c.notifyAndClose(seq, offline.InternalError, err.Error())
		return
	}
	if cfg.MsInfo == nil {
		cfg.MsInfo = &protocol.MsInfo{}
	}
	if info != nil {
		cfg.MsInfo.SoftwareVersion = info.Version
		cfg.MsInfo.MACAddress = info.Serial
	}

	c.mu.Lock()
	if c.seq != seq || c.state != UpdatingConfiguration {
		c.mu.Unlock()
		return
	}
	c.state = Running
	c.mu.Unlock()

	logging.Info("Structure file received",
		logging.Miniserver(debugID),
		zap.Int("controls", len(cfg.Controls)),
		zap.String("last_modified", cfg.LastModified),
	)
	c.sink.Put(Event{Type: ConfigReceived, Config: cfg})
	c.sink.Put(Event{Type: ServerOnline})

	if err := c.SendAsync(protocol.CmdEnableUpdates, false); err != nil {
		c.notifyAndClose(seq, offline.CommunicationError, err.Error())
	}
}

func (c *Client) handleBinary(seq uint64, data []byte) {
	c.mu.Lock()
	if c.seq != seq || c.state != Running {
		c.mu.Unlock()
		return
	}
	debugID := c.opts.DebugID
	pending := c.header
	if pending == nil {
		h, err := protocol.ParseHeader(data)
		if err == nil && h.HasPayload() && !h.Estimated() {
			c.header = &h
		}
		c.mu.Unlock()
		if err != nil {
			logging.Debug("Discarding malformed binary header", logging.Miniserver(debugID), zap.Error(err))
			return
		}
		if h.Type == protocol.HeaderOutOfService {
			logging.Warn("Miniserver reports out of service", logging.Miniserver(debugID))
		}
		return
	}
	c.header = nil
	if pending.Type == protocol.HeaderValueTable {
		c.stopTimerLocked()
	}
	c.mu.Unlock()

	var (
		updates []protocol.StateUpdate
		err     error
	)
	switch pending.Type {
	case protocol.HeaderValueTable:
		updates, err = protocol.DecodeValueTable(data)
	case protocol.HeaderTextTable:
		updates, err = protocol.DecodeTextTable(data)
	default:
		logging.Debug("Ignoring binary payload",
			logging.Miniserver(debugID),
			zap.Stringer("type", pending.Type),
			zap.Int("length", len(data)),
		)
		return
	}
	if err != nil {
		logging.Debug("Discarding truncated records",
			logging.Miniserver(debugID),
			zap.Stringer("type", pending.Type),
			zap.Int("decoded", len(updates)),
			zap.Error(err),
		)
	}
	for _, u := range updates {
		c.sink.Put(Event{Type: StateUpdate, Update: u})
	}
}
