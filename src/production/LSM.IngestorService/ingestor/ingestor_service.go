package ingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	config "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Config"
	"gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.IngestorService/client"
	logger "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Logger"
	metrics "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Metrics"
)

// Relay results
const (
	ResultForwarded = "forwarded"
	ResultInvalid   = "invalid"
	ResultDropped   = "dropped"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// Poster delivers one payload to the API Service
type Poster interface {
	PostReading(ctx context.Context, payload map[string]interface{}) error
}

type message struct {
	topic      string
	payload    map[string]interface{}
	receivedAt time.Time
}

// Ingestor relays sensor payloads published over MQTT to the HTTP ingestion endpoint
type Ingestor struct {
	cfg        config.MQTTConfig
	apiClient  Poster
	mqttClient mqtt.Client
	logger     *logger.Logger
	metrics    *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	msgCh  chan message
	wg     sync.WaitGroup
}

func New(cfg config.MQTTConfig, apiClient Poster, log *logger.Logger, m *metrics.Metrics) *Ingestor {
	size := cfg.QueueSize
	if size < 1 {
		size = 1024
	}
	return &Ingestor{
		cfg:       cfg,
		apiClient: apiClient,
		msgCh:     make(chan message, size),
		logger:    log.WithComponent("mqtt-relay"),
		metrics:   m,
	}
}

func (i *Ingestor) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(i.cfg.GetMQTTBrokerURL()).
		SetClientID(i.cfg.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(i.cfg.KeepAlive).
		SetPingTimeout(i.cfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(false)

	if i.cfg.BrokerUser != "" {
		opts.SetUsername(i.cfg.BrokerUser)
		opts.SetPassword(i.cfg.BrokerPass)
	}

	if i.cfg.UseTLS {
		tlsCfg, err := tlsConfig(i.cfg.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		i.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		topic := i.subscriptionTopic()
		i.logger.Logger.Info().Str("topic", topic).Msg("MQTT connected, subscribing to topic")
		if token := c.Subscribe(topic, 1, i.onMessage); token.Wait() && token.Error() != nil {
			i.logger.Logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		}
	}

	i.mqttClient = mqtt.NewClient(opts)
	if tk := i.mqttClient.Connect(); tk.Wait() && tk.Error() != nil {
		return tk.Error()
	}

	i.startWorker(ctx)
	return nil
}

func (i *Ingestor) startWorker(ctx context.Context) {
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.forwarder(ctx)
	}()
}

// Stop disconnects from the broker and waits until queued payloads were handled
func (i *Ingestor) Stop() {
	if i.mqttClient != nil && i.mqttClient.IsConnected() {
		i.mqttClient.Disconnect(500)
	}

	i.mu.Lock()
	if !i.closed {
		i.closed = true
		close(i.msgCh)
	}
	i.mu.Unlock()

	i.wg.Wait()
}

func (i *Ingestor) IsConnected() bool {
	return i.mqttClient != nil && i.mqttClient.IsConnected()
}

// QueueDepth returns the number of payloads waiting to be forwarded
func (i *Ingestor) QueueDepth() int {
	return len(i.msgCh)
}

func (i *Ingestor) onMessage(_ mqtt.Client, m mqtt.Message) {
	i.handleMessage(m.Topic(), m.Payload())
}

// handleMessage queues a JSON object payload. It never blocks the MQTT client.
func (i *Ingestor) handleMessage(topic string, raw []byte) bool {
	i.logger.Logger.Debug().Str("topic", topic).Int("bytes", len(raw)).Msg("Received MQTT message")

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		i.metrics.RelayResult(ResultInvalid)
		i.logger.Logger.Warn().Str("topic", topic).Msg("Dropping non-JSON payload")
		i.publishError(topic, "invalid_payload", "payload must be a JSON object")
		return false
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return false
	}

	select {
	case i.msgCh <- message{topic: topic, payload: payload, receivedAt: time.Now().UTC()}:
		return true
	default:
		i.metrics.RelayResult(ResultDropped)
		i.logger.Logger.Warn().Str("topic", topic).Int("queue_size", cap(i.msgCh)).Msg("Relay queue full, dropping payload")
		return false
	}
}

func (i *Ingestor) forwarder(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-i.msgCh:
			if !ok {
				return
			}
			i.forward(ctx, msg)
		}
	}
}

func (i *Ingestor) forward(ctx context.Context, msg message) {
	err := i.apiClient.PostReading(ctx, msg.payload)
	switch {
	case err == nil:
		i.metrics.RelayResult(ResultForwarded)
		i.logger.Logger.Debug().Str("topic", msg.topic).Dur("lag", time.Since(msg.receivedAt)).Msg("Reading forwarded")
	case client.IsRejected(err):
		i.metrics.RelayResult(ResultRejected)
		i.logger.Logger.Warn().Err(err).Str("topic", msg.topic).Msg("API rejected reading")
		i.publishError(msg.topic, "rejected", err.Error())
	default:
		i.metrics.RelayResult(ResultFailed)
		i.logger.Logger.Error().Err(err).Str("topic", msg.topic).Msg("Error forwarding reading to API Service")
	}
}

func (i *Ingestor) subscriptionTopic() string {
	if i.cfg.SharedGroup != "" {
		return fmt.Sprintf("$share/%s/%s", i.cfg.SharedGroup, i.cfg.Topic)
	}
	return i.cfg.Topic
}

// publishError reports a dropped payload back to the publishing station
func (i *Ingestor) publishError(topic, errorType, message string) {
	if i.mqttClient == nil || !i.mqttClient.IsConnected() {
		return
	}

	station := stationFromTopic(topic)
	payloadJSON, err := json.Marshal(map[string]interface{}{
		"error_type": errorType,
		"message":    message,
		"topic":      topic,
		"timestamp":  time.Now().UTC(),
	})
	if err != nil {
		i.logger.Logger.Error().Err(err).Msg("Failed to marshal error payload")
		return
	}

	errorTopic := "ingestor/errors/" + station
	token := i.mqttClient.Publish(errorTopic, 1, false, payloadJSON)
	if token.Wait() && token.Error() != nil {
		i.logger.Logger.Error().Err(token.Error()).Str("topic", errorTopic).Msg("Failed to publish error")
	}
}

// stationFromTopic extracts the station segment of sensors/<station>/readings
func stationFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return "unknown"
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}
