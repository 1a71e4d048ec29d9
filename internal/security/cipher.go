package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/muurk/loxone/internal/protocol"
)

// Salt rotation limits.
const (
	maxSaltUses = 30
	maxSaltAge  = time.Hour
	saltBytes   = 16
)

// legacyEncPrefix is how some firmware echoes encrypted commands.
const legacyEncPrefix = "dev/sys/enc/"

// sessionCipher holds the AES session key of one connection and the salt
// that is mixed into every encrypted command.
type sessionCipher struct {
	key   []byte
	iv    []byte
	block cipher.Block
	rand  io.Reader
	now   func() time.Time

	mu          sync.Mutex
	salt        string
	saltUses    int
	saltCreated time.Time
}

// newSessionCipher generates a random AES-256 key and IV.
func newSessionCipher(r io.Reader, now func() time.Time) (*sessionCipher, error) {
	key := make([]byte, 32)
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	if _, err := io.ReadFull(r, iv); err != nil {
		return nil, fmt.Errorf("failed to generate session iv: %w", err)
	}
	return newSessionCipherWithKey(key, iv, r, now)
}

func newSessionCipherWithKey(key, iv []byte, r io.Reader, now func() time.Time) (*sessionCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid iv length %d", len(iv))
	}
	if r == nil {
		r = rand.Reader
	}
	if now == nil {
		now = time.Now
	}
	return &sessionCipher{key: key, iv: iv, block: block, rand: r, now: now}, nil
}

// sessionKey is the "hex(key):hex(iv)" string sent under RSA.
func (c *sessionCipher) sessionKey() string {
	return hex.EncodeToString(c.key) + ":" + hex.EncodeToString(c.iv)
}

func (c *sessionCipher) newSalt() (string, error) {
	b := make([]byte, saltBytes)
	if _, err := io.ReadFull(c.rand, b); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// plaintext prefixes cmd with the current salt, rotating it when it was
// used too often or is too old.
func (c *sessionCipher) plaintext(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var prefix string
	switch {
	case c.salt == "":
		salt, err := c.newSalt()
		if err != nil {
			return "", err
		}
		c.salt, c.saltUses, c.saltCreated = salt, 0, now
		prefix = "salt/" + salt
	case c.saltUses >= maxSaltUses || now.Sub(c.saltCreated) >= maxSaltAge:
		salt, err := c.newSalt()
		if err != nil {
			return "", err
		}
		prefix = "nextSalt/" + c.salt + "/" + salt
		c.salt, c.saltUses, c.saltCreated = salt, 0, now
	default:
		prefix = "salt/" + c.salt
	}
	c.saltUses++
	return prefix + "/" + cmd + "\x00", nil
}

// Encrypt returns jdev/sys/enc/<urlencoded base64 ciphertext>.
func (c *sessionCipher) Encrypt(cmd string) (string, error) {
	plain, err := c.plaintext(cmd)
	if err != nil {
		return "", err
	}
	data := []byte(plain)
	if rem := len(data) % aes.BlockSize; rem != 0 {
		data = append(data, make([]byte, aes.BlockSize-rem)...)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, data)
	return protocol.CmdEncrypted + url.QueryEscape(base64.StdEncoding.EncodeToString(out)), nil
}

// Decrypt reverses Encrypt and strips the salt. Anything that is not an
// encrypted command, or fails to decrypt, is returned unchanged.
func (c *sessionCipher) Decrypt(control string) string {
	var payload string
	switch {
	case strings.HasPrefix(control, protocol.CmdEncrypted):
		payload = strings.TrimPrefix(control, protocol.CmdEncrypted)
	case strings.HasPrefix(control, legacyEncPrefix):
		payload = strings.TrimPrefix(control, legacyEncPrefix)
	default:
		return control
	}

	// PathUnescape keeps '+' intact for echoes that arrive unescaped.
	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return control
	}
	data, err := base64.StdEncoding.DecodeString(unescaped)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return control
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, data)
	return stripSalt(strings.TrimRight(string(out), "\x00"))
}

func stripSalt(s string) string {
	switch {
	case strings.HasPrefix(s, "salt/"):
		if parts := strings.SplitN(s, "/", 3); len(parts) == 3 {
			return parts[2]
		}
	case strings.HasPrefix(s, "nextSalt/"):
		if parts := strings.SplitN(s, "/", 4); len(parts) == 4 {
			return parts[3]
		}
	}
	return s
}
