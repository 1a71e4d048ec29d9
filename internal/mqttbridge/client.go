package mqttbridge

import (
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/logging"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 500 // milliseconds
	keepAlive         = 60 * time.Second
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt operation timed out")

// Publisher is the broker surface the bridge needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Close(statusTopic string, payload []byte)
}

// BrokerOptions configures the paho connection.
type BrokerOptions struct {
	Broker   string // tcp://host:1883, ssl://host:8883 or ws://host/mqtt
	ClientID string
	Username string
	Password string
	// WillTopic receives WillPayload, retained, when the connection drops.
	WillTopic   string
	WillPayload []byte
	QoS         byte
}

type pahoPublisher struct {
	client pahomqtt.Client
}

// Dial connects to the broker.
func Dial(o BrokerOptions) (Publisher, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	if o.WillTopic != "" {
		opts.SetBinaryWill(o.WillTopic, o.WillPayload, o.QoS, true)
	}
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logging.Info("MQTT connected", zap.String("broker", o.Broker))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logging.Warn("MQTT connection lost", zap.String("broker", o.Broker), zap.Error(err))
	})

	client := pahomqtt.NewClient(opts)
	if err := wait(client.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", o.Broker, err)
	}
	return &pahoPublisher{client: client}, nil
}

func (p *pahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return wait(p.client.Publish(topic, qos, retained, payload), publishTimeout)
}

func (p *pahoPublisher) Subscribe(topic string, qos byte, handler func(string, []byte)) error {
	return wait(p.client.Subscribe(topic, qos, func(_ pahomqtt.Client, m pahomqtt.Message) {
		handler(m.Topic(), m.Payload())
	}), publishTimeout)
}

// Close publishes a final status and disconnects.
func (p *pahoPublisher) Close(statusTopic string, payload []byte) {
	if statusTopic != "" && p.client.IsConnected() {
		_ = p.Publish(statusTopic, 1, true, payload)
	}
	p.client.Disconnect(disconnectQuiesce)
}

func wait(t pahomqtt.Token, timeout time.Duration) error {
	if !t.WaitTimeout(timeout) {
		return ErrTimeout
	}
	return t.Error()
}
