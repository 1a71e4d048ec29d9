package config

import (
	"fmt"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the whole configuration file.
type Config struct {
	Version    int                   `yaml:"version"`
	Miniserver Miniserver            `yaml:"miniserver"`
	Timeouts   Timeouts              `yaml:"timeouts"`
	Limits     Limits                `yaml:"limits"`
	Settings   Settings              `yaml:"settings"`
	MQTT       MQTT                  `yaml:"mqtt"`
	Metrics    Metrics               `yaml:"metrics"`
	Log        Log                   `yaml:"log"`
	Known      map[string]*KnownHost `yaml:"known,omitempty"` // Keyed by serial number

	rawSecrets [2]string
}

// Miniserver is the endpoint to connect to.
type Miniserver struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"` // Usually ${LOXONE_PASSWORD}
	Security string `yaml:"security"`           // auto, hash or token
	// ClientInfo is shown in the Miniserver's token list.
	ClientInfo string `yaml:"client_info,omitempty"`
}

// Address returns host:port.
func (m Miniserver) Address() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// Timeouts are the reconnect delays and protocol timers.
type Timeouts struct {
	FirstConnectDelay       Duration `yaml:"first_connect_delay"`
	KeepalivePeriod         Duration `yaml:"keepalive_period"`
	ConnectErrorDelay       Duration `yaml:"connect_error_delay"`
	UserErrorDelay          Duration `yaml:"user_error_delay"`
	CommunicationErrorDelay Duration `yaml:"communication_error_delay"`
	ResponseTimeout         Duration `yaml:"response_timeout"`
}

// Limits bound incoming websocket messages.
type Limits struct {
	MaxBinaryMessageKB int `yaml:"max_binary_message_kb"`
	MaxTextMessageKB   int `yaml:"max_text_message_kb"`
}

// Settings locates the persisted settings database.
type Settings struct {
	Path string `yaml:"path"`
}

// MQTT configures the state bridge. It is off when Broker is empty.
type MQTT struct {
	Broker      string `yaml:"broker,omitempty"` // e.g. tcp://localhost:1883
	ClientID    string `yaml:"client_id,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// Enabled reports whether a broker is configured.
func (m MQTT) Enabled() bool { return m.Broker != "" }

// Metrics configures the Prometheus endpoint. Empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // console or json
}

// KnownHost remembers a Miniserver seen during discovery.
type KnownHost struct {
	Name     string    `yaml:"name,omitempty"`
	LastIP   string    `yaml:"last_ip,omitempty"`
	LastSeen time.Time `yaml:"last_seen,omitempty"`
}

// Duration is a time.Duration written as "30s", "4m" and so on.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML accepts a duration string or a plain number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration at line %d: %w", node.Line, err)
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	var secs int64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q at line %d", s, node.Line)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	cfg := &Config{Version: 1}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	setInt(&c.Version, 1)
	setInt(&c.Miniserver.Port, 80)
	setString(&c.Miniserver.Security, "auto")

	setDuration(&c.Timeouts.FirstConnectDelay, time.Second)
	setDuration(&c.Timeouts.KeepalivePeriod, 240*time.Second)
	setDuration(&c.Timeouts.ConnectErrorDelay, 10*time.Second)
	setDuration(&c.Timeouts.UserErrorDelay, 60*time.Second)
	setDuration(&c.Timeouts.CommunicationErrorDelay, 30*time.Second)
	setDuration(&c.Timeouts.ResponseTimeout, 4*time.Second)

	setInt(&c.Limits.MaxBinaryMessageKB, 3072)
	setInt(&c.Limits.MaxTextMessageKB, 512)

	setString(&c.MQTT.TopicPrefix, "loxone")
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = 1
	}
	setString(&c.Metrics.Addr, ":9108")

	if c.Settings.Path == "" {
		if dir, err := GetConfigDir(); err == nil {
			c.Settings.Path = filepath.Join(dir, settingsFile)
		}
	}
	if c.Known == nil {
		c.Known = make(map[string]*KnownHost)
	}
}

// Validate checks fields that have no usable default.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos %d", c.MQTT.QoS)
	}
	switch c.Miniserver.Security {
	case "auto", "hash", "token":
	default:
		return fmt.Errorf("invalid security type %q", c.Miniserver.Security)
	}
	return nil
}

// RememberHost records a discovered Miniserver.
func (c *Config) RememberHost(serial, name, ip string) {
	if c.Known == nil {
		c.Known = make(map[string]*KnownHost)
	}
	h, ok := c.Known[serial]
	if !ok {
		h = &KnownHost{}
		c.Known[serial] = h
	}
	if name != "" {
		h.Name = name
	}
	h.LastIP = ip
	h.LastSeen = time.Now()
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setDuration(v *Duration, def time.Duration) {
	if *v == 0 {
		*v = Duration(def)
	}
}
