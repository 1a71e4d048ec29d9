// Package controls implements the behaviour of the Miniserver control types
// the client understands: how their states are formatted and which action
// strings their operations translate to. DefaultRegistry returns the table
// passed to graph.New.
package controls
