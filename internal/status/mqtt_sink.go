package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"camrec/internal/config"
	"camrec/internal/models"
)

// publishTimeout bounds every broker publish so a hung broker cannot stall
// the reporter's cadence.
const publishTimeout = 5 * time.Second

// waitToken waits for a broker acknowledgement with an upper bound.
func waitToken(token mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish timed out after %s", timeout)
	}
	return token.Error()
}

// MQTTSink publishes status snapshots to an MQTT broker. The full snapshot
// goes to camrec/<device>/status, per-camera copies to
// camrec/<device>/status/<camera>.
type MQTTSink struct {
	client mqtt.Client
	device string
	logger zerolog.Logger
}

func NewMQTTSink(cfg config.MQTTConfig, deviceID string, logger *zerolog.Logger) (*MQTTSink, error) {
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}

	logger.Info().Str("broker", broker).Msg("mqtt sink connected")

	return &MQTTSink{
		client: client,
		device: deviceID,
		logger: logger.With().Str("component", "mqtt_sink").Logger(),
	}, nil
}

func (s *MQTTSink) Publish(ctx context.Context, snap models.StatusSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode status snapshot: %w", err)
	}

	topic := fmt.Sprintf("camrec/%s/status", s.device)
	if err := waitToken(s.client.Publish(topic, 0, true, payload), publishTimeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	for _, cam := range snap.Cameras {
		data, err := json.Marshal(cam)
		if err != nil {
			continue
		}
		camTopic := fmt.Sprintf("camrec/%s/status/%s", s.device, cam.CameraID)
		if err := waitToken(s.client.Publish(camTopic, 0, true, data), publishTimeout); err != nil {
			s.logger.Warn().Err(err).Str("topic", camTopic).Msg("publish camera status")
		}
	}

	return nil
}

func (s *MQTTSink) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
