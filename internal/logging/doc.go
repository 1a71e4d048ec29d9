// Package logging holds the process-wide zap logger used by the Miniserver
// client and the loxctl command.
//
// Logging is silent until Initialize is called with a level or
// LOXONE_LOG_LEVEL is set:
//
//	if err := logging.Initialize(cfg.Log.Level); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// Lines that concern one Miniserver carry its debug identifier:
//
//	logging.Info("Connected", logging.Miniserver(debugID))
//
// Protocol frames are logged with LogWebSocketMessage, which only formats
// anything when debug logging is enabled:
//
//	logging.LogWebSocketMessage(debugID, "received", websocket.BinaryMessage, frame)
//
// Levels:
//   - Debug: frame dumps, skipped controls, unknown state identifiers
//   - Info: connection lifecycle, configuration received
//   - Warn: dropped connections, insecure passwords, retries
//   - Error: failures that stop the session
package logging
