package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/muurk/loxone/internal/ident"
)

// Binary header constants
const (
	HeaderMarker = 0x03
	HeaderSize   = 8

	ValueRecordSize = ident.GUIDSize + 8
	textRecordHead  = 2*ident.GUIDSize + 4
)

// ErrTruncated is returned when a binary buffer ends inside a record.
var ErrTruncated = errors.New("truncated binary message")

// HeaderType identifies the payload announced by a binary header.
type HeaderType byte

const (
	HeaderText HeaderType = iota
	HeaderFile
	HeaderValueTable
	HeaderTextTable
	HeaderDaytimerTable
	HeaderOutOfService
	HeaderKeepalive
	HeaderWeatherTable
	HeaderUnknown HeaderType = 0xff
)

// String returns a human-readable header type name
func (t HeaderType) String() string {
	switch t {
	case HeaderText:
		return "text"
	case HeaderFile:
		return "file"
	case HeaderValueTable:
		return "value-table"
	case HeaderTextTable:
		return "text-table"
	case HeaderDaytimerTable:
		return "daytimer-table"
	case HeaderOutOfService:
		return "out-of-service"
	case HeaderKeepalive:
		return "keepalive"
	case HeaderWeatherTable:
		return "weather-table"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Header is a parsed binary header frame
type Header struct {
	Type   HeaderType
	Flags  byte
	Length uint32
}

// HasPayload reports whether a payload frame follows this header.
func (h Header) HasPayload() bool {
	switch h.Type {
	case HeaderFile, HeaderValueTable, HeaderTextTable, HeaderDaytimerTable, HeaderWeatherTable:
		return true
	default:
		return false
	}
}

// Estimated reports whether the length is only an estimate. The exact header
// follows in the next frame.
func (h Header) Estimated() bool {
	return h.Flags&0x01 != 0
}

// ParseHeader parses an 8-byte binary header. A wrong marker byte yields a
// header of type HeaderUnknown rather than an error.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes, need %d", ErrTruncated, len(data), HeaderSize)
	}
	if data[0] != HeaderMarker {
		return Header{Type: HeaderUnknown}, nil
	}
	t := HeaderType(data[1])
	if t > HeaderWeatherTable {
		t = HeaderUnknown
	}
	return Header{
		Type:   t,
		Flags:  data[2],
		Length: binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}

// EncodeHeader builds a binary header frame.
func EncodeHeader(t HeaderType, length uint32) []byte {
	out := make([]byte, HeaderSize)
	out[0] = HeaderMarker
	out[1] = byte(t)
	binary.LittleEndian.PutUint32(out[4:8], length)
	return out
}

// StateUpdate is one decoded record of a value or text table
type StateUpdate struct {
	ID     ident.ID
	Value  float64
	Text   string
	IsText bool
}

// String returns a debug representation of the update
func (u StateUpdate) String() string {
	if u.IsText {
		return fmt.Sprintf("StateUpdate{id=%s, text=%q}", u.ID, u.Text)
	}
	return fmt.Sprintf("StateUpdate{id=%s, value=%g}", u.ID, u.Value)
}

// DecodeValueTable decodes a value table payload. Records decoded before a
// truncation are returned together with ErrTruncated.
func DecodeValueTable(data []byte) ([]StateUpdate, error) {
	updates := make([]StateUpdate, 0, len(data)/ValueRecordSize)
	for off := 0; off < len(data); off += ValueRecordSize {
		if len(data)-off < ValueRecordSize {
			return updates, fmt.Errorf("%w: value record at offset %d", ErrTruncated, off)
		}
		id, err := ident.FromGUID(data[off : off+ident.GUIDSize])
		if err != nil {
			return updates, err
		}
		bits := binary.LittleEndian.Uint64(data[off+ident.GUIDSize : off+ValueRecordSize])
		updates = append(updates, StateUpdate{ID: id, Value: math.Float64frombits(bits)})
	}
	return updates, nil
}

// DecodeTextTable decodes a text table payload.
func DecodeTextTable(data []byte) ([]StateUpdate, error) {
	var updates []StateUpdate
	off := 0
	for off < len(data) {
		if len(data)-off < textRecordHead {
			return updates, fmt.Errorf("%w: text record at offset %d", ErrTruncated, off)
		}
		id, err := ident.FromGUID(data[off : off+ident.GUIDSize])
		if err != nil {
			return updates, err
		}
		textLen := int(binary.LittleEndian.Uint32(data[off+2*ident.GUIDSize : off+textRecordHead]))
		size := textRecordSize(textLen)
		if textLen < 0 || size > len(data)-off {
			return updates, fmt.Errorf("%w: text record at offset %d wants %d bytes", ErrTruncated, off, size)
		}
		start := off + textRecordHead
		updates = append(updates, StateUpdate{
			ID:     id,
			Text:   string(data[start : start+textLen]),
			IsText: true,
		})
		off += size
	}
	return updates, nil
}

func textRecordSize(textLen int) int {
	size := textRecordHead + textLen
	if rem := size % 4; rem != 0 {
		size += 4 - rem
	}
	return size
}

// EncodeValueRecord builds one value table record.
func EncodeValueRecord(id ident.ID, value float64) ([]byte, error) {
	guid, err := id.GUID()
	if err != nil {
		return nil, err
	}
	out := make([]byte, ValueRecordSize)
	copy(out, guid[:])
	binary.LittleEndian.PutUint64(out[ident.GUIDSize:], math.Float64bits(value))
	return out, nil
}

// EncodeTextRecord builds one padded text table record. The icon identifier
// is left zero.
func EncodeTextRecord(id ident.ID, text string) ([]byte, error) {
	guid, err := id.GUID()
	if err != nil {
		return nil, err
	}
	out := make([]byte, textRecordSize(len(text)))
	copy(out, guid[:])
	binary.LittleEndian.PutUint32(out[2*ident.GUIDSize:], uint32(len(text)))
	copy(out[textRecordHead:], text)
	return out, nil
}
