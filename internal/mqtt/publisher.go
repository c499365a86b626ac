package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	qosAtLeastOnce = 1
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

type pahoClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher keeps one broker session open for the daemon's lifetime.
type Publisher struct {
	client pahoClient
	topic  string
	log    *zap.Logger
}

// NewPublisher connects to the broker described by cfg.
func NewPublisher(cfg *Config, log *zap.Logger) (*Publisher, error) {
	clientID := cfg.SessionClientID()
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(clientID).
		SetKeepAlive(20 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("mqtt connection lost", zap.Error(err))
		})
	if cfg.Username != "" {
		if cfg.Password == "" {
			log.Warn("mqtt username set without a password, connecting anonymously")
		} else {
			opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
		}
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(connectTimeout); !ok {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.BrokerURL())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.BrokerURL(), err)
	}
	log.Info("connected to mqtt broker", zap.String("broker", cfg.BrokerURL()), zap.String("client_id", clientID))

	return newPublisher(client, cfg.Topic, log), nil
}

func newPublisher(client pahoClient, topic string, log *zap.Logger) *Publisher {
	return &Publisher{client: client, topic: topic, log: log}
}

// Topic is the base topic from the config file.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish sends payload with QoS 1, not retained, and waits for the ack.
func (p *Publisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, qosAtLeastOnce, false, payload)
	if ok := token.WaitTimeout(publishTimeout); !ok {
		return fmt.Errorf("mqtt publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	p.log.Debug("published", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}

func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
