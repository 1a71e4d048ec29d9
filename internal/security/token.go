package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/logging"
	"github.com/muurk/loxone/internal/offline"
	"github.com/muurk/loxone/internal/protocol"
	"github.com/muurk/loxone/internal/settings"
)

// Renewal retry policy.
const (
	renewRetries    = 5
	renewRetryDelay = 10 * time.Second
)

// tokenReply is the value of gettoken, authwithtoken and refreshtoken
// replies. Not every field is present in every reply.
type tokenReply struct {
	Token        string `json:"token"`
	Key          string `json:"key"`
	ValidUntil   *int64 `json:"validUntil"`
	TokenRights  int    `json:"tokenRights"`
	UnsecurePass bool   `json:"unsecurePass"`
}

// scheduleFunc runs f after d and returns a function that cancels it.
type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Token authenticates with a persisted token, acquiring one with the
// password when needed, and encrypts commands with an AES session key.
type Token struct {
	p Params

	rand       io.Reader
	now        func() time.Time
	schedule   scheduleFunc
	retryDelay time.Duration

	mu         sync.Mutex
	cipher     *sessionCipher
	token      string
	hashAlg    string
	stopRenew  func() bool
	cancelWork context.CancelFunc
	workCtx    context.Context
}

// NewToken creates a token strategy.
func NewToken(p Params) *Token {
	return &Token{
		p:          p,
		rand:       rand.Reader,
		now:        time.Now,
		schedule:   afterFunc,
		retryDelay: renewRetryDelay,
	}
}

// ClientUUID is the stable identity this client presents when requesting
// tokens for user@host.
func ClientUUID(user, host string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(user+"@"+host)).String()
}

func (t *Token) Authenticate(ctx context.Context) error {
	t.resetConnection()

	pub, err := t.fetchPublicKey(ctx)
	if err != nil {
		return err
	}
	c, err := newSessionCipher(t.rand, t.now)
	if err != nil {
		return offline.Wrap(offline.InternalError, "failed to create session cipher", err)
	}
	encKey, err := rsa.EncryptPKCS1v15(t.rand, pub, []byte(c.sessionKey()))
	if err != nil {
		return offline.Wrap(offline.InternalError, "failed to encrypt session key", err)
	}
	resp, err := t.p.Sender.SendCommand(ctx, protocol.KeyExchangeCommand(base64.StdEncoding.EncodeToString(encKey)), false)
	if err != nil {
		return offline.Wrap(offline.CommunicationError, "key exchange failed", err)
	}
	if !resp.OK() {
		return replyError("keyexchange", resp)
	}

	t.mu.Lock()
	t.cipher = c
	t.mu.Unlock()

	if token, ok := t.p.Settings.Get(settings.KeyAuthToken); ok && token != "" {
		alg, _ := t.p.Settings.Get(settings.KeyTokenHashAlg)
		reply, err := t.authWithToken(ctx, token, alg)
		if err == nil {
			t.setToken(token, alg)
			t.scheduleRenewal(reply.ValidUntil)
			return nil
		}
		if !offline.IsUnauthorized(err) {
			return err
		}
		logging.Warn("Stored token rejected, requesting a new one",
			logging.Miniserver(t.p.DebugID),
		)
		for _, key := range []string{settings.KeyAuthToken, settings.KeyTokenHashAlg} {
			if err := t.p.Settings.Delete(key); err != nil {
				logging.Warn("Failed to delete stored token", logging.Miniserver(t.p.DebugID), zap.Error(err))
			}
		}
	}

	return t.acquireToken(ctx)
}

// resetConnection drops state tied to a previous connection and prepares a
// fresh context for background renewal.
func (t *Token) resetConnection() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.cipher = nil
	t.workCtx, t.cancelWork = context.WithCancel(context.Background())
}

func (t *Token) fetchPublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	body, err := t.p.Sender.HTTPGet(ctx, "/"+protocol.CmdGetPublicKey)
	if err != nil {
		return nil, offline.Wrap(offline.CommunicationError, "failed to fetch public key", err)
	}
	resp, err := protocol.ParseResponse(body)
	if err != nil {
		return nil, offline.Wrap(offline.CommunicationError, "invalid public key reply", err)
	}
	if !resp.OK() {
		return nil, replyError("getPublicKey", resp)
	}
	pub, err := parsePublicKey(resp.StringValue())
	if err != nil {
		return nil, offline.Wrap(offline.InternalError, "invalid public key", err)
	}
	return pub, nil
}

// parsePublicKey decodes the PEM-like certificate text the Miniserver
// returns. The markers are not always on their own lines.
func parsePublicKey(text string) (*rsa.PublicKey, error) {
	text = strings.ReplaceAll(text, "-----BEGIN CERTIFICATE-----", "")
	text = strings.ReplaceAll(text, "-----END CERTIFICATE-----", "")
	text = strings.Join(strings.Fields(text), "")
	der, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", key)
	}
	return pub, nil
}

// authWithToken proves possession of a token. The HMAC uses the algorithm
// the token was issued under.
func (t *Token) authWithToken(ctx context.Context, token, alg string) (*tokenReply, error) {
	key, err := getKey(ctx, t.p.Sender, true)
	if err != nil {
		return nil, err
	}
	hash, err := hmacHex(hmacFor(KeySalt{HashAlg: alg}), key, token)
	if err != nil {
		return nil, offline.Wrap(offline.InternalError, "failed to hash token", err)
	}
	resp, err := t.p.Sender.SendCommand(ctx, protocol.AuthWithTokenCommand(hash, t.p.User), true)
	if err != nil {
		return nil, offline.Wrap(offline.CommunicationError, "authwithtoken failed", err)
	}
	if !resp.OK() {
		return nil, replyError("authwithtoken", resp)
	}
	var reply tokenReply
	if err := resp.UnmarshalValue(&reply); err != nil {
		logging.Debug("Token authentication reply without details",
			logging.Miniserver(t.p.DebugID),
			zap.Error(err),
		)
	}
	t.checkReply(&reply)
	return &reply, nil
}

func (t *Token) acquireToken(ctx context.Context) error {
	password, ok := t.p.Settings.Get(settings.KeyPassword)
	if !ok || password == "" {
		return offline.New(offline.Unauthorized, "no token stored and no password configured")
	}

	resp, err := t.p.Sender.SendCommand(ctx, protocol.GetKey2Command(t.p.User), true)
	if err != nil {
		return offline.Wrap(offline.CommunicationError, "getkey2 failed", err)
	}
	if !resp.OK() {
		return replyError("getkey2", resp)
	}
	var ks KeySalt
	if err := resp.UnmarshalValue(&ks); err != nil {
		return offline.Wrap(offline.CommunicationError, "invalid getkey2 reply", err)
	}

	pwHash := passwordHash(password, ks)
	hash, err := hmacHex(hmacFor(ks), ks.Key, t.p.User+":"+pwHash)
	if err != nil {
		return offline.Wrap(offline.InternalError, "failed to hash credentials", err)
	}

	cmd := protocol.GetTokenCommand(hash, t.p.User, protocol.TokenPermissionApp,
		ClientUUID(t.p.User, t.p.Host), t.p.ClientInfo)
	resp, err = t.p.Sender.SendCommand(ctx, cmd, true)
	if err != nil {
		return offline.Wrap(offline.CommunicationError, "gettoken failed", err)
	}
	if !resp.OK() {
		return replyError("gettoken", resp)
	}
	var reply tokenReply
	if err := resp.UnmarshalValue(&reply); err != nil || reply.Token == "" {
		return offline.Wrap(offline.CommunicationError, "invalid gettoken reply", err)
	}
	t.checkReply(&reply)

	if err := t.p.Settings.Set(settings.KeyAuthToken, reply.Token); err != nil {
		logging.Warn("Failed to persist token", logging.Miniserver(t.p.DebugID), zap.Error(err))
	}
	if err := t.p.Settings.Set(settings.KeyTokenHashAlg, ks.HashAlg); err != nil {
		logging.Warn("Failed to persist token hash algorithm", logging.Miniserver(t.p.DebugID), zap.Error(err))
	}
	if err := t.p.Settings.Delete(settings.KeyPassword); err != nil {
		logging.Warn("Failed to clear password", logging.Miniserver(t.p.DebugID), zap.Error(err))
	}
	t.setToken(reply.Token, ks.HashAlg)
	t.scheduleRenewal(reply.ValidUntil)

	logging.Info("Acquired new token",
		logging.Miniserver(t.p.DebugID),
		zap.Int("rights", reply.TokenRights),
	)
	return nil
}

func (t *Token) checkReply(r *tokenReply) {
	if r.UnsecurePass {
		logging.Warn("Miniserver reports an insecure password for this user",
			logging.Miniserver(t.p.DebugID),
			zap.String("user", t.p.User),
		)
	}
}

func (t *Token) setToken(token, alg string) {
	t.mu.Lock()
	t.token = token
	t.hashAlg = alg
	t.mu.Unlock()
}

// scheduleRenewal arms the background refresh for a token valid until the
// given Miniserver time.
func (t *Token) scheduleRenewal(validUntil *int64) {
	delay := renewalDelay(validUntil, t.now())

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.workCtx == nil || t.workCtx.Err() != nil {
		return
	}
	if t.stopRenew != nil {
		t.stopRenew()
	}
	ctx := t.workCtx
	t.stopRenew = t.schedule(delay, func() { t.renew(ctx) })

	logging.Debug("Scheduled token renewal",
		logging.Miniserver(t.p.DebugID),
		zap.Duration("in", delay),
	)
}

// renew refreshes the token, retrying a few times at a fixed interval. When
// every attempt fails it gives up; the next connection re-authenticates.
func (t *Token) renew(ctx context.Context) {
	var reply *tokenReply
	op := func() error {
		r, err := t.refresh(ctx)
		if err != nil {
			logging.Debug("Token refresh attempt failed", logging.Miniserver(t.p.DebugID), zap.Error(err))
			return err
		}
		reply = r
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(t.retryDelay), renewRetries),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.Warn("Giving up on token renewal", logging.Miniserver(t.p.DebugID), zap.Error(err))
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	logging.Info("Token refreshed", logging.Miniserver(t.p.DebugID))
	t.scheduleRenewal(reply.ValidUntil)
}

func (t *Token) refresh(ctx context.Context) (*tokenReply, error) {
	t.mu.Lock()
	token, alg := t.token, t.hashAlg
	t.mu.Unlock()
	if token == "" {
		return nil, fmt.Errorf("no token to refresh")
	}

	key, err := getKey(ctx, t.p.Sender, true)
	if err != nil {
		return nil, err
	}
	hash, err := hmacHex(hmacFor(KeySalt{HashAlg: alg}), key, token)
	if err != nil {
		return nil, err
	}
	resp, err := t.p.Sender.SendCommand(ctx, protocol.RefreshTokenCommand(hash, t.p.User), true)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &protocol.CodeError{Command: protocol.CmdRefreshToken, Code: resp.Code}
	}
	var reply tokenReply
	if err := resp.UnmarshalValue(&reply); err != nil {
		return nil, err
	}
	if reply.Token != "" && reply.Token != token {
		t.setToken(reply.Token, alg)
		if err := t.p.Settings.Set(settings.KeyAuthToken, reply.Token); err != nil {
			logging.Warn("Failed to persist refreshed token", logging.Miniserver(t.p.DebugID), zap.Error(err))
		}
	}
	t.checkReply(&reply)
	return &reply, nil
}

func (t *Token) Encrypt(cmd string) (string, error) {
	t.mu.Lock()
	c := t.cipher
	t.mu.Unlock()
	if c == nil {
		return cmd, nil
	}
	out, err := c.Encrypt(cmd)
	if err != nil {
		return "", offline.Wrap(offline.InternalError, "failed to encrypt command", err)
	}
	return out, nil
}

func (t *Token) DecryptControl(control string) string {
	t.mu.Lock()
	c := t.cipher
	t.mu.Unlock()
	if c == nil {
		return control
	}
	return c.Decrypt(control)
}

// Cancel stops a scheduled or running renewal.
func (t *Token) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Token) stopLocked() {
	if t.stopRenew != nil {
		t.stopRenew()
		t.stopRenew = nil
	}
	if t.cancelWork != nil {
		t.cancelWork()
	}
}
