package protocol

import (
	"fmt"
	"strings"

	"github.com/muurk/loxone/internal/ident"
)

// Command prefixes and fixed commands understood by the Miniserver
const (
	CmdAction        = "jdev/sps/io/"
	CmdKeepalive     = "keepalive"
	CmdEnableUpdates = "jdev/sps/enablebinstatusupdate"
	CmdGetAppConfig  = "data/LoxAPP3.json"
	CmdCfgAPI        = "jdev/cfg/api"
	CmdGetPublicKey  = "jdev/sys/getPublicKey"
	CmdGetKey        = "jdev/sys/getkey"
	CmdGetKey2       = "jdev/sys/getkey2/"
	CmdGetToken      = "jdev/sys/gettoken/"
	CmdRefreshToken  = "jdev/sys/refreshtoken/"
	CmdKeyExchange   = "jdev/sys/keyexchange/"
	CmdAuthenticate  = "authenticate/"
	CmdAuthWithToken = "authwithtoken/"
	CmdEncrypted     = "jdev/sys/enc/"
)

// SocketPath is the websocket endpoint, SubProtocol its required sub-protocol.
const (
	SocketPath  = "/ws/rfc6455"
	SubProtocol = "remotecontrol"
)

// TokenPermissionApp requests a long lived token.
const TokenPermissionApp = 4

// ActionCommand addresses a control by its original identifier.
func ActionCommand(id ident.ID, action string) string {
	return CmdAction + id.Original() + "/" + action
}

// GetKey2Command requests a one-time key and the user's salt.
func GetKey2Command(user string) string {
	return CmdGetKey2 + user
}

// GetTokenCommand requests a new token.
func GetTokenCommand(hash, user string, permission int, clientUUID, info string) string {
	return fmt.Sprintf("%s%s/%s/%d/%s/%s", CmdGetToken, hash, user, permission, clientUUID, info)
}

// RefreshTokenCommand extends the lifetime of the current token.
func RefreshTokenCommand(hash, user string) string {
	return CmdRefreshToken + hash + "/" + user
}

// KeyExchangeCommand hands the RSA encrypted session key to the Miniserver.
func KeyExchangeCommand(sessionKey string) string {
	return CmdKeyExchange + sessionKey
}

// AuthenticateCommand authenticates with a credential hash.
func AuthenticateCommand(hash string) string {
	return CmdAuthenticate + hash
}

// AuthWithTokenCommand authenticates with a token hash.
func AuthWithTokenCommand(hash, user string) string {
	return CmdAuthWithToken + hash + "/" + user
}

// NormalizeControl trims a reply's control echo. Some firmware echoes jdev
// commands as dev/..., those get the leading j restored.
func NormalizeControl(control string) string {
	control = strings.TrimSpace(control)
	if strings.HasPrefix(control, "dev/") {
		return "j" + control
	}
	return control
}
