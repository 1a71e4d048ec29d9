package discovery

import (
	"fmt"
	"strings"
	"time"
)

// Miniserver is a discovered controller
type Miniserver struct {
	// Serial is the upper-case MAC without separators, e.g. "504F94A0B1C2"
	Serial string

	// Name is the mDNS instance name, usually the configured Miniserver name
	Name string

	// Hostname is the mDNS host name
	Hostname string

	// IP is the first IPv4 address, or IPv6 when there is none
	IP string

	Port int

	// Metadata holds the TXT records
	Metadata map[string]string

	DiscoveredAt time.Time
}

// String returns a human-readable description
func (m *Miniserver) String() string {
	return fmt.Sprintf("Miniserver %s (%s) at %s", m.Name, m.Serial, m.Address())
}

// Address returns host:port suitable for the client.
func (m *Miniserver) Address() string {
	if strings.Contains(m.IP, ":") {
		return fmt.Sprintf("[%s]:%d", m.IP, m.Port)
	}
	return fmt.Sprintf("%s:%d", m.IP, m.Port)
}

// MAC formats the serial as a colon separated MAC address.
func (m *Miniserver) MAC() string {
	if len(m.Serial) != 12 {
		return m.Serial
	}
	parts := make([]string, 6)
	for i := range parts {
		parts[i] = m.Serial[i*2 : i*2+2]
	}
	return strings.Join(parts, ":")
}

// GetMetadata retrieves a TXT value, or "" when absent
func (m *Miniserver) GetMetadata(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}
