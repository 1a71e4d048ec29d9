// Package mqttbridge mirrors a Miniserver session onto an MQTT broker.
//
// Topics, below <prefix>/<node>:
//
//	status                      retained, "online" or "offline" (also the will)
//	<control>/config            retained JSON description of the control
//	<control>/<state>           retained state value
//	<control>/set               subscribed; payload "<operation> [args...]"
//
// <control> is the normalized control identifier. Retained topics of
// controls or states missing from a new structure file are cleared with an
// empty payload.
package mqttbridge

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/graph"
	"github.com/muurk/loxone/internal/logging"
	"github.com/muurk/loxone/internal/offline"
)

const commandTimeout = 10 * time.Second

// Operator executes control operations; *session.Session implements it.
type Operator interface {
	Operate(ctx context.Context, controlID, op string, args ...string) error
}

// Options configures a bridge.
type Options struct {
	Prefix string
	// Node names the Miniserver in topics, usually its serial number.
	Node string
	QoS  byte
}

// Bridge is a session listener that publishes to MQTT.
type Bridge struct {
	pub  Publisher
	op   Operator
	base string
	qos  byte

	mu sync.Mutex
	// retained holds the control topics published with a retained value.
	retained map[string]struct{}
}

// StatusTopic returns the status topic for the given options.
func StatusTopic(o Options) string {
	return topicBase(o) + "/status"
}

func topicBase(o Options) string {
	prefix := strings.TrimSuffix(o.Prefix, "/")
	if prefix == "" {
		prefix = "loxone"
	}
	return prefix + "/" + topicSafe(o.Node)
}

// New creates a bridge publishing through pub and executing commands via op.
func New(pub Publisher, op Operator, o Options) *Bridge {
	return &Bridge{
		pub:      pub,
		op:       op,
		base:     topicBase(o),
		qos:      o.QoS,
		retained: make(map[string]struct{}),
	}
}

// Start subscribes to command topics.
func (b *Bridge) Start() error {
	return b.pub.Subscribe(b.base+"/+/set", b.qos, b.handleSet)
}

// Close marks the bridge offline and disconnects.
func (b *Bridge) Close() {
	b.pub.Close(b.base+"/status", []byte("offline"))
}

type controlConfig struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Room     string   `json:"room,omitempty"`
	Category string   `json:"category,omitempty"`
	States   []string `json:"states"`
}

// OnConfiguration publishes a retained description and the current values
// of every control, then clears topics left over from the previous
// structure.
func (b *Bridge) OnConfiguration(g *graph.Graph) {
	b.mu.Lock()
	defer b.mu.Unlock()

	live := make(map[string]struct{})
	for _, ctl := range g.Controls() {
		cfg := controlConfig{
			ID:   ctl.ID().Original(),
			Name: ctl.Name(),
			Type: ctl.Type(),
		}
		if r := g.Room(ctl.Room()); r != nil {
			cfg.Room = r.Name()
		}
		if c := g.Category(ctl.Category()); c != nil {
			cfg.Category = c.Name()
		}
		for _, st := range ctl.States() {
			cfg.States = append(cfg.States, strings.ToLower(st.Name()))
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			continue
		}
		topic := b.controlTopic(ctl) + "/config"
		live[topic] = struct{}{}
		b.publishLocked(topic, data)
		for _, st := range ctl.States() {
			topic := b.stateTopic(ctl, st.Name())
			live[topic] = struct{}{}
			if payload, ok := statePayload(st); ok {
				b.publishLocked(topic, payload)
			}
		}
	}

	for topic := range b.retained {
		if _, ok := live[topic]; ok {
			continue
		}
		if err := b.pub.Publish(topic, b.qos, true, nil); err != nil {
			logging.Warn("MQTT clear failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		delete(b.retained, topic)
	}
}

func (b *Bridge) OnServerOnline() {
	b.publish(b.base+"/status", []byte("online"))
}

func (b *Bridge) OnServerOffline(reason offline.Reason, detail string) {
	b.publish(b.base+"/status", []byte("offline"))
}

func (b *Bridge) OnStateUpdate(ctl *graph.Control, state string) {
	st := ctl.State(state)
	if st == nil {
		return
	}
	if payload, ok := statePayload(st); ok {
		b.mu.Lock()
		b.publishLocked(b.stateTopic(ctl, state), payload)
		b.mu.Unlock()
	}
}

func (b *Bridge) controlTopic(ctl *graph.Control) string {
	return b.base + "/" + topicSafe(ctl.ID().String())
}

func (b *Bridge) stateTopic(ctl *graph.Control, state string) string {
	return b.controlTopic(ctl) + "/" + topicSafe(strings.ToLower(state))
}

func (b *Bridge) publish(topic string, payload []byte) {
	if err := b.pub.Publish(topic, b.qos, true, payload); err != nil {
		logging.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// publishLocked publishes a retained control topic and remembers it for
// clearing. b.mu must be held.
func (b *Bridge) publishLocked(topic string, payload []byte) {
	b.retained[topic] = struct{}{}
	b.publish(topic, payload)
}

// handleSet runs "<operation> [args...]" against the control in the topic.
func (b *Bridge) handleSet(topic string, payload []byte) {
	rest := strings.TrimPrefix(topic, b.base+"/")
	control := strings.TrimSuffix(rest, "/set")
	fields := strings.Fields(string(payload))
	if control == rest || len(fields) == 0 {
		logging.Warn("Ignoring MQTT command", zap.String("topic", topic), zap.ByteString("payload", payload))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := b.op.Operate(ctx, control, strings.ToLower(fields[0]), fields[1:]...); err != nil {
		logging.Warn("MQTT command failed",
			zap.String("control", control),
			zap.String("operation", fields[0]),
			zap.Error(err),
		)
	}
}

func statePayload(st *graph.State) ([]byte, bool) {
	if text, ok := st.Text(); ok {
		return []byte(text), true
	}
	if v, ok := st.Number(); ok {
		return []byte(strconv.FormatFloat(v, 'f', -1, 64)), true
	}
	return nil, false
}

var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

func topicSafe(s string) string {
	return topicReplacer.Replace(s)
}
