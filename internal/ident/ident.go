// Package ident canonicalizes the opaque object identifiers assigned by a
// Miniserver.
//
// Identifiers arrive in two shapes: as strings inside the configuration
// document and command replies, and as 16-byte little-endian GUIDs inside
// binary state update frames. Both are reduced to the same normalized form so
// they can be compared and used as map keys, while the original string is
// kept for addressing the controller.
package ident

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// GUIDSize is the length of a binary identifier in an event record.
const GUIDSize = 16

// Key is the normalized form of an identifier. It is comparable and is the
// only thing that takes part in equality.
type Key string

// ID is a controller identifier with its original spelling retained.
type ID struct {
	key  Key
	orig string
}

// Parse builds an ID from a controller supplied string.
func Parse(s string) ID {
	return ID{key: Key(Normalize(s)), orig: s}
}

// Normalize replaces every character outside [A-Za-z0-9-] with '-' and
// upper-cases the result. It is idempotent.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Key returns the normalized key.
func (id ID) Key() Key { return id.key }

// String returns the normalized form.
func (id ID) String() string { return string(id.key) }

// Original returns the identifier exactly as the controller supplied it.
func (id ID) Original() string { return id.orig }

// Equal compares normalized forms only.
func (id ID) Equal(other ID) bool { return id.key == other.key }

// IsZero reports whether the ID was never set.
func (id ID) IsZero() bool { return id.key == "" }

// FromGUID decodes a binary identifier: a little-endian uint32, two
// little-endian uint16 and eight raw bytes, rendered as
// xxxxxxxx-xxxx-xxxx-xxxxxxxxxxxxxxxx.
func FromGUID(b []byte) (ID, error) {
	if len(b) < GUIDSize {
		return ID{}, fmt.Errorf("guid too short: %d bytes", len(b))
	}
	d1 := binary.LittleEndian.Uint32(b[0:4])
	d2 := binary.LittleEndian.Uint16(b[4:6])
	d3 := binary.LittleEndian.Uint16(b[6:8])
	s := fmt.Sprintf("%08x-%04x-%04x-%s", d1, d2, d3, hex.EncodeToString(b[8:16]))
	return Parse(s), nil
}

// GUID encodes the identifier back into its 16-byte binary layout. Only
// identifiers in the 8-4-4-16 hex shape can be encoded.
func (id ID) GUID() ([GUIDSize]byte, error) {
	var out [GUIDSize]byte
	parts := strings.Split(strings.ToLower(id.orig), "-")
	if len(parts) != 4 || len(parts[0]) != 8 || len(parts[1]) != 4 || len(parts[2]) != 4 || len(parts[3]) != 16 {
		return out, fmt.Errorf("identifier %q is not a guid", id.orig)
	}
	raw, err := hex.DecodeString(strings.Join(parts, ""))
	if err != nil {
		return out, fmt.Errorf("identifier %q is not a guid: %w", id.orig, err)
	}
	binary.LittleEndian.PutUint32(out[0:4], binary.BigEndian.Uint32(raw[0:4]))
	binary.LittleEndian.PutUint16(out[4:6], binary.BigEndian.Uint16(raw[4:6]))
	binary.LittleEndian.PutUint16(out[6:8], binary.BigEndian.Uint16(raw[6:8]))
	copy(out[8:], raw[8:16])
	return out, nil
}
