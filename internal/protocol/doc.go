// Package protocol implements the Miniserver websocket wire formats.
//
// This package handles parsing and construction of everything that crosses
// the websocket: text commands, JSON command replies, the structure file and
// the binary event frames that carry state changes.
//
// # Binary Event Frames
//
// Binary messages alternate between an 8-byte header and an optional payload:
//   - Byte 0: 0x03 (fixed marker)
//   - Byte 1: payload type (see HeaderType)
//   - Byte 2: info flags
//   - Byte 3: reserved
//   - Bytes 4-7: payload length (little-endian uint32)
//
// Header types text, file, value table, text table, day timer table and
// weather table are followed by a payload frame. All other types stand alone.
//
// # Records
//
// A value table payload is a sequence of 24-byte records:
//   - Bytes 0-15: state identifier (little-endian GUID)
//   - Bytes 16-23: value (little-endian IEEE-754 double)
//
// A text table payload is a sequence of variable length records:
//   - Bytes 0-15: state identifier (little-endian GUID)
//   - Bytes 16-31: icon identifier (ignored)
//   - Bytes 32-35: text length (little-endian uint32)
//   - Bytes 36+: UTF-8 text, padded so the whole record is a multiple of 4
//
// # Text Replies
//
// Command replies are JSON objects of the form
//
//	{"LL": {"control": "<echoed command>", "code": 200, "value": ...}}
//
// The code field arrives either as a number or as a string and under either
// "code" or "Code".
//
// # Thread Safety
//
// All parsing and construction functions are stateless and safe for concurrent use.
package protocol
