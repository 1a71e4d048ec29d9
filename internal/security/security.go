// Package security implements the two Miniserver authentication schemes.
//
// Hash authentication (firmware before 9.0) proves knowledge of the password
// with an HMAC over a one-time key and never encrypts traffic. Token
// authentication exchanges an AES session key under the Miniserver's RSA
// public key, encrypts every sensitive command, obtains a long lived token
// and keeps it fresh in the background.
//
// Both satisfy Strategy. The protocol client calls Authenticate from its own
// goroutine once the websocket is open, routes outgoing commands through
// Encrypt and reply echoes through DecryptControl, and calls Cancel when the
// connection ends.
package security

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/logging"
	"github.com/muurk/loxone/internal/protocol"
	"github.com/muurk/loxone/internal/settings"
)

// Strategy is one authentication scheme bound to one Miniserver.
type Strategy interface {
	// Authenticate runs the handshake over an open connection. Failures are
	// *offline.Error values carrying the reason for the offline event.
	Authenticate(ctx context.Context) error
	// Encrypt wraps a command for the wire. Strategies without encryption
	// return it unchanged.
	Encrypt(cmd string) (string, error)
	// DecryptControl recovers the plain command from a reply's echo.
	DecryptControl(control string) string
	// Cancel stops background work tied to the current connection.
	Cancel()
}

// Sender is the part of the protocol client the strategies drive.
type Sender interface {
	// SendCommand sends cmd and waits for its reply. With encrypt set the
	// command is passed through the strategy's Encrypt first.
	SendCommand(ctx context.Context, cmd string, encrypt bool) (*protocol.Response, error)
	// HTTPGet performs a plain HTTP request against the Miniserver.
	HTTPGet(ctx context.Context, path string) ([]byte, error)
}

// Params are the inputs shared by both strategies.
type Params struct {
	User     string
	Host     string
	DebugID  string
	Settings settings.Store
	Sender   Sender
	// SoftwareVersion is the firmware version from the pre-connect probe,
	// used by TypeAuto.
	SoftwareVersion string
	// ClientInfo names this client when a token is requested.
	ClientInfo string
}

// Type selects a strategy.
type Type int

const (
	// TypeAuto picks Token for firmware 9 and later, Hash otherwise.
	TypeAuto Type = iota
	TypeHash
	TypeToken
)

// tokenFirmware is the first firmware major version with token support.
const tokenFirmware = 9

func (t Type) String() string {
	switch t {
	case TypeAuto:
		return "auto"
	case TypeHash:
		return "hash"
	case TypeToken:
		return "token"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType parses "auto", "hash" or "token", case-insensitively.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return TypeAuto, nil
	case "hash":
		return TypeHash, nil
	case "token":
		return TypeToken, nil
	default:
		return TypeAuto, fmt.Errorf("unknown security type %q", s)
	}
}

// Resolve turns TypeAuto into a concrete type for the given firmware
// version. An unknown version resolves to TypeHash.
func (t Type) Resolve(softwareVersion string) Type {
	if t != TypeAuto {
		return t
	}
	if protocol.MajorVersion(softwareVersion) >= tokenFirmware {
		return TypeToken
	}
	return TypeHash
}

// New creates the strategy of the given type.
func New(t Type, p Params) (Strategy, error) {
	if p.Sender == nil {
		return nil, fmt.Errorf("security: no command sender")
	}
	if p.Settings == nil {
		p.Settings = settings.NewMemory(nil)
	}
	if p.ClientInfo == "" {
		p.ClientInfo = "loxctl"
	}

	resolved := t.Resolve(p.SoftwareVersion)
	logging.Debug("Selected security strategy",
		logging.Miniserver(p.DebugID),
		zap.String("requested", t.String()),
		zap.String("selected", resolved.String()),
		zap.String("firmware", p.SoftwareVersion),
	)
	switch resolved {
	case TypeHash:
		return NewHash(p), nil
	case TypeToken:
		return NewToken(p), nil
	default:
		return nil, fmt.Errorf("security: unsupported type %v", t)
	}
}
