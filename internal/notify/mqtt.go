package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/log"
)

// MQTTConfig configures the MQTT alert notifier.
type MQTTConfig struct {
	Broker    string
	ClientID  string
	TopicRoot string
	QoS       byte
}

// MQTTPublisher publishes each alert to <root>/alerts/<vehicleID>.
type MQTTPublisher struct {
	cm   *autopaho.ConnectionManager
	root string
	qos  byte
	log  log.Logger
}

// NewMQTTPublisher starts a managed connection to the broker. The connection
// is re-established in the background; publishes fail while it is down.
func NewMQTTPublisher(ctx context.Context, cfg MQTTConfig, logger log.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	logger = logger.WithName("mqtt")

	brokerURL, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("invalid mqtt broker url %q: %w", cfg.Broker, err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		ReconnectBackoff:              autopaho.NewConstantBackoff(3 * time.Second),
		ConnectTimeout:                10 * time.Second,
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			logger.Info("mqtt connection established", "broker", cfg.Broker)
		},
		OnConnectError: func(err error) {
			logger.Error(err, "mqtt connection failed, retrying")
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
			OnClientError: func(err error) {
				logger.Error(err, "mqtt client error")
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil {
					logger.Warn("mqtt server requested disconnect", "reason", d.Properties.ReasonString)
					return
				}
				logger.Warn("mqtt server requested disconnect", "code", d.ReasonCode)
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return nil, fmt.Errorf("start mqtt connection: %w", err)
	}
	return &MQTTPublisher{
		cm:   cm,
		root: strings.TrimSuffix(cfg.TopicRoot, "/"),
		qos:  cfg.QoS,
		log:  logger,
	}, nil
}

// AlertTopic is the topic alerts of vehicleID are published to.
func AlertTopic(root, vehicleID string) string {
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		return "alerts/" + vehicleID
	}
	return root + "/alerts/" + vehicleID
}

func (m *MQTTPublisher) Name() string { return "mqtt" }

func (m *MQTTPublisher) Publish(ctx context.Context, a domain.Alert) error {
	payload, err := encode(a)
	if err != nil {
		return err
	}
	_, err = m.cm.Publish(ctx, &paho.Publish{
		Topic:   AlertTopic(m.root, a.VehicleID),
		QoS:     m.qos,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: "application/json",
		},
	})
	return err
}

// AwaitConnection blocks until the first connection is up or ctx is done.
func (m *MQTTPublisher) AwaitConnection(ctx context.Context) error {
	return m.cm.AwaitConnection(ctx)
}

func (m *MQTTPublisher) Close(ctx context.Context) error {
	return m.cm.Disconnect(ctx)
}
