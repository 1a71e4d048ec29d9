package client

import "errors"

var (
	// ErrCommandPending is returned when a command is sent while another is
	// still waiting for its reply. The new command is not sent.
	ErrCommandPending = errors.New("command not sent: previous command still pending")

	// ErrNotConnected is returned when sending outside an open connection.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionClosed is returned to a waiting caller when the connection
	// ends before the reply arrives.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidState is returned by Connect when the client is not idle.
	ErrInvalidState = errors.New("invalid client state")
)
