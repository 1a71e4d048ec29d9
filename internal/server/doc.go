// Package server exposes a running session over HTTP.
//
// Routes:
//
//	GET  /health                              connection status
//	GET  /metrics                             Prometheus metrics, when configured
//	GET  /api/controls                        every control with its formatted value
//	GET  /api/controls/{id}                   one control and its states
//	POST /api/controls/{id}/{operation}?arg=  run an operation on a control
//
// Control identifiers are matched after normalization, so either the
// original or the upper-case form may be used.
package server
