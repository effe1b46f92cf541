package ingest

import (
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Connection tuning. Brokers on the public mesh drop idle clients
// aggressively, and a flat retry keeps reconnect storms predictable.
const (
	keepAlive      = 60 * time.Second
	connectTimeout = 30 * time.Second
	retryInterval  = 5 * time.Second
	disconnectWait = 250 // milliseconds granted to in-flight handlers
)

// Message is one MQTT message tagged with its origin.
type Message struct {
	Broker     string
	Topic      Topic
	Payload    []byte
	ReceivedAt time.Time
}

// SessionConfig describes one broker connection.
type SessionConfig struct {
	// Name identifies the broker in logs and dedup keys.
	Name string
	// URL is the broker address, e.g. "tcp://mqtt.example.net:1883".
	URL string
	// Username and Password are optional credentials.
	Username string
	Password string
}

// sink receives parsed messages from a session. It may block; the
// session's delivery goroutine carries the backpressure.
type sink func(Message)

// Session is one long-lived broker connection. Sessions reconnect
// forever on their own; a dead broker never affects its siblings.
type Session struct {
	name   string
	client mqtt.Client
	send   sink
	log    *slog.Logger
}

// NewSession builds a session. Call Start to begin connecting.
func NewSession(cfg SessionConfig, send sink, logger *slog.Logger) *Session {
	s := &Session{
		name: cfg.Name,
		send: send,
		log:  logger.With("broker", cfg.Name),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(clientID(cfg.Name))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetKeepAlive(keepAlive)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(retryInterval)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(retryInterval)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onLost)
	opts.SetReconnectingHandler(s.onReconnecting)

	s.client = mqtt.NewClient(opts)
	return s
}

// Start begins connecting. The client retries on its own schedule, so
// Start returns immediately; subscription happens in the connect
// callback.
func (s *Session) Start() {
	s.log.Info("mqtt connecting")
	s.client.Connect()
}

// Close disconnects from the broker, allowing in-flight handlers a
// short grace period.
func (s *Session) Close() {
	s.client.Disconnect(disconnectWait)
	s.log.Info("mqtt disconnected")
}

func (s *Session) onConnect(c mqtt.Client) {
	filters := make(map[string]byte, len(TopicFilters))
	for _, f := range TopicFilters {
		filters[f] = 0 // QoS 0: losing a frame beats blocking the broker
	}
	if token := c.SubscribeMultiple(filters, s.onMessage); token.Wait() && token.Error() != nil {
		s.log.Error("mqtt subscribe failed", "error", token.Error())
		return
	}
	s.log.Info("mqtt subscribed", "filters", len(filters))
}

func (s *Session) onLost(_ mqtt.Client, err error) {
	s.log.Info("mqtt connection lost", "error", err)
}

func (s *Session) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	s.log.Info("mqtt reconnecting")
}

func (s *Session) onMessage(_ mqtt.Client, m mqtt.Message) {
	topic, ok := ParseTopic(m.Topic())
	if !ok {
		return
	}
	if topic.Kind() == KindIgnore {
		return
	}
	payload := m.Payload()
	if len(payload) == 0 {
		return
	}
	s.send(Message{
		Broker:     s.name,
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: time.Now(),
	})
}

// clientID builds a broker-unique client id. Public brokers kick
// clients with duplicate ids, so a random suffix keeps parallel
// deployments from fighting each other.
func clientID(name string) string {
	return "mshw_" + sanitizeName(name) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func sanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('-')
		}
	}
	return sb.String()
}
