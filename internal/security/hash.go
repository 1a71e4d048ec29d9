package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/muurk/loxone/internal/offline"
	"github.com/muurk/loxone/internal/protocol"
	"github.com/muurk/loxone/internal/settings"
)

// KeySalt is a one-time key with the user's salt, as returned by getkey2.
// Plain getkey fills Key only.
type KeySalt struct {
	Key     string `json:"key"`
	Salt    string `json:"salt"`
	HashAlg string `json:"hashAlg"`
}

// Hash authenticates with an HMAC over the user name and password.
type Hash struct {
	p Params
}

// NewHash creates a hash strategy.
func NewHash(p Params) *Hash {
	return &Hash{p: p}
}

func (h *Hash) Authenticate(ctx context.Context) error {
	password, ok := h.p.Settings.Get(settings.KeyPassword)
	if !ok || password == "" {
		return offline.New(offline.Unauthorized, "no password configured")
	}

	key, err := getKey(ctx, h.p.Sender, false)
	if err != nil {
		return err
	}
	hash, err := credentialHash(h.p.User, password, KeySalt{Key: key})
	if err != nil {
		return offline.Wrap(offline.InternalError, "failed to hash credentials", err)
	}

	resp, err := h.p.Sender.SendCommand(ctx, protocol.AuthenticateCommand(hash), false)
	if err != nil {
		return offline.Wrap(offline.CommunicationError, "authenticate failed", err)
	}
	if !resp.OK() {
		return replyError("authenticate", resp)
	}
	return nil
}

func (h *Hash) Encrypt(cmd string) (string, error) { return cmd, nil }

func (h *Hash) DecryptControl(control string) string { return control }

func (h *Hash) Cancel() {}

// credentialHash returns hex(HMAC-SHA1("user:password")) keyed with the
// hex-decoded one-time key.
func credentialHash(user, password string, ks KeySalt) (string, error) {
	return hmacHex(sha1.New, ks.Key, user+":"+password)
}

// passwordHash returns the upper-case digest of "password:salt" with the
// algorithm announced by getkey2.
func passwordHash(password string, ks KeySalt) string {
	data := []byte(password + ":" + ks.Salt)
	if strings.EqualFold(ks.HashAlg, "SHA256") {
		sum := sha256.Sum256(data)
		return strings.ToUpper(hex.EncodeToString(sum[:]))
	}
	sum := sha1.Sum(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// hmacHex computes hex(HMAC(message)) with a hex encoded key.
func hmacHex(h func() hash.Hash, hexKey, message string) (string, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("invalid key %q: %w", hexKey, err)
	}
	mac := hmac.New(h, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func hmacFor(ks KeySalt) func() hash.Hash {
	if strings.EqualFold(ks.HashAlg, "SHA256") {
		return sha256.New
	}
	return sha1.New
}

// getKey requests a one-time key.
func getKey(ctx context.Context, s Sender, encrypt bool) (string, error) {
	resp, err := s.SendCommand(ctx, protocol.CmdGetKey, encrypt)
	if err != nil {
		return "", offline.Wrap(offline.CommunicationError, "getkey failed", err)
	}
	if !resp.OK() {
		return "", replyError("getkey", resp)
	}
	key := resp.StringValue()
	if key == "" {
		return "", offline.New(offline.CommunicationError, "getkey returned no key")
	}
	return key, nil
}

// replyError classifies a non-200 reply during authentication.
func replyError(step string, resp *protocol.Response) error {
	return offline.Wrap(offline.FromCode(resp.Code), step+" rejected",
		&protocol.CodeError{Command: resp.Control, Code: resp.Code})
}
