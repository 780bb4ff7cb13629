package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/K3das/sparkbridge/bridge"
	"github.com/K3das/sparkbridge/utils"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type MQTTOptions struct {
	// BrokerURL enables the transport when set, e.g. tcp://localhost:1883.
	// mqtt:// is accepted as an alias for tcp://.
	BrokerURL   string        `env:"BROKER_URL"`
	ClientID    string        `env:"CLIENT_ID" envDefault:"sparkbridge"`
	Username    string        `env:"USERNAME"`
	Password    string        `env:"PASSWORD"`
	TopicPrefix string        `env:"TOPIC_PREFIX" envDefault:"sparkbridge"`
	QoS         byte          `env:"QOS" envDefault:"1"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"15s"`

	// EventTimeout bounds the wait for an event publish, which runs on the
	// main loop
	EventTimeout time.Duration `env:"EVENT_TIMEOUT" envDefault:"500ms"`
}

func (o MQTTOptions) Enabled() bool {
	return strings.TrimSpace(o.BrokerURL) != ""
}

func (o MQTTOptions) callTopic() string {
	return o.TopicPrefix + "/call"
}

func (o MQTTOptions) replyTopic(id string) string {
	if id == "" {
		return o.TopicPrefix + "/reply"
	}
	return o.TopicPrefix + "/reply/" + id
}

func (o MQTTOptions) eventTopic(method string) string {
	return o.TopicPrefix + "/event/" + method
}

// MQTT serves the method channel over an MQTT broker.
type MQTT struct {
	log     *zap.Logger
	options MQTTOptions
	dispatcher

	newClient func(*mqtt.ClientOptions) mqtt.Client
	client    mqtt.Client
}

type MQTTExtraOptions func(*MQTT)

// WithClientFactory replaces mqtt.NewClient.
func WithClientFactory(newClient func(*mqtt.ClientOptions) mqtt.Client) MQTTExtraOptions {
	return func(m *MQTT) {
		m.newClient = newClient
	}
}

func NewMQTT(parentLogger *zap.Logger, options MQTTOptions, handler Handler, loop bridge.Poster, extraOptions ...MQTTExtraOptions) *MQTT {
	log := parentLogger.Named("channel").With(zap.String("transport", "mqtt"))
	if options.TopicPrefix == "" {
		options.TopicPrefix = "sparkbridge"
	}
	if options.Timeout == 0 {
		options.Timeout = 15 * time.Second
	}
	if options.EventTimeout == 0 {
		options.EventTimeout = 500 * time.Millisecond
	}

	m := &MQTT{
		log:     log,
		options: options,
		dispatcher: dispatcher{
			log:     log,
			handler: handler,
			loop:    loop,
		},
		newClient: mqtt.NewClient,
	}
	for _, option := range extraOptions {
		option(m)
	}

	m.client = m.newClient(m.clientOptions())
	return m
}

func (m *MQTT) clientOptions() *mqtt.ClientOptions {
	broker := strings.TrimSpace(m.options.BrokerURL)
	if strings.HasPrefix(broker, "mqtt://") {
		broker = "tcp://" + strings.TrimPrefix(broker, "mqtt://")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(m.options.ClientID)
	if m.options.Username != "" {
		opts.SetUsername(m.options.Username)
		opts.SetPassword(m.options.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.log.Warn("mqtt connection lost", zap.Error(err))
	}
	// subscriptions do not survive a reconnect with a clean session
	opts.OnConnect = func(c mqtt.Client) {
		m.log.Info("mqtt connected")
		token := c.Subscribe(m.options.callTopic(), m.options.QoS, m.onMessage)
		go func() {
			defer utils.PanicRecovery(m.log)
			if !token.WaitTimeout(m.options.Timeout) {
				m.log.Warn("timed out subscribing to call topic")
				return
			}
			if err := token.Error(); err != nil {
				m.log.Error("failed to subscribe to call topic", zap.Error(err))
			}
		}()
	}
	return opts
}

// Run connects and serves calls until ctx is done.
func (m *MQTT) Run(ctx context.Context) error {
	m.log.With(
		zap.String("broker", m.options.BrokerURL),
		zap.String("call_topic", m.options.callTopic()),
	).Info("connecting to mqtt broker")

	token := m.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		m.client.Disconnect(250)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to mqtt broker: %w", err)
	}

	<-ctx.Done()
	m.log.Info("disconnecting from mqtt broker")
	m.client.Disconnect(250)
	return nil
}

func (m *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	defer utils.PanicRecovery(m.log)
	m.dispatch(msg.Payload(), m.publish)
}

func (m *MQTT) publish(id string, payload []byte) error {
	return m.wait(m.client.Publish(m.options.replyTopic(id), m.options.QoS, false, payload), m.options.Timeout)
}

// InvokeMethod publishes an event on <prefix>/event/<method>.
func (m *MQTT) InvokeMethod(ctx context.Context, method string, arguments any) error {
	payload, err := EncodeEvent(method, arguments)
	if err != nil {
		return err
	}
	if !m.client.IsConnected() {
		return fmt.Errorf("publishing %s: mqtt not connected", method)
	}
	if err := m.wait(m.client.Publish(m.options.eventTopic(method), m.options.QoS, false, payload), m.options.EventTimeout); err != nil {
		return fmt.Errorf("publishing %s: %w", method, err)
	}
	return nil
}

func (m *MQTT) wait(token mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt operation timed out after %s", timeout)
	}
	return token.Error()
}
