// Package gateway owns the broker link to the RFID reader: it subscribes to
// the detection stream, publishes control commands and feeds the decision
// pipeline. Subscription callbacks only parse and enqueue; a single worker
// goroutine (Run) serialises decisions and broadcasts.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/nextwaves/rfid-edge/internal/config"
	"github.com/nextwaves/rfid-edge/internal/decision"
	"github.com/nextwaves/rfid-edge/internal/metrics"
)

// inboxSize bounds the callback-to-worker queue. Overflow drops the message:
// the stream is best-effort and the reader keeps repeating live tags.
const inboxSize = 1024

// decider is the decision engine surface the pipeline needs.
type decider interface {
	Decide(ctx context.Context, epcHex, gateID string, rssi *float64, antenna *int) (decision.Result, error)
}

// broadcaster fans events out to live dashboard subscribers.
type broadcaster interface {
	Broadcast(event any)
}

// Client is the reader gateway. It holds the broker connection, the inbound
// queue and the last-seen caches served by the calibration and health
// endpoints.
type Client struct {
	cfg     *config.Manager
	engine  decider
	bus     broadcaster
	metrics *metrics.Metrics

	cli   mqtt.Client
	inbox chan inboundMsg

	mu               sync.Mutex
	lastResponse     map[string]any
	lastReaderStatus map[string]any
	lastTagSeen      time.Time

	now func() time.Time
}

func NewClient(cfg *config.Manager, engine decider, b broadcaster, m *metrics.Metrics) *Client {
	return &Client{
		cfg:     cfg,
		engine:  engine,
		bus:     b,
		metrics: m,
		inbox:   make(chan inboundMsg, inboxSize),
		now:     time.Now,
	}
}

// Start builds the broker client and begins connecting. The connect keeps
// retrying in the background, so a broker that is down at boot does not
// stop the service.
func (c *Client) Start() {
	snap := c.cfg.Current()

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", snap.MQTT.Host, snap.MQTT.Port)).
		SetClientID("edge-" + uuid.NewString()[:8]).
		SetKeepAlive(time.Duration(snap.MQTT.KeepaliveSeconds) * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(60 * time.Second).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			log.Info("mqtt reconnecting")
		})

	if snap.MQTT.Username != "" {
		opts.SetUsername(snap.MQTT.Username)
		opts.SetPassword(snap.MQTT.Password)
	}

	log.WithFields(log.Fields{
		"host": snap.MQTT.Host,
		"port": snap.MQTT.Port,
	}).Info("connecting to mqtt broker")

	c.cli = mqtt.NewClient(opts)
	c.cli.Connect()
}

// Stop disconnects from the broker with a short quiesce for queued
// publishes.
func (c *Client) Stop() {
	if c.cli == nil {
		return
	}
	c.cli.Disconnect(250)
	log.Info("mqtt client disconnected")
}

func (c *Client) Connected() bool {
	return c.cli != nil && c.cli.IsConnectionOpen()
}

func (c *Client) onConnect(cli mqtt.Client) {
	c.metrics.SetMQTTConnected(true)
	log.Info("mqtt connected to broker")

	snap := c.cfg.Current()
	for topic, handler := range map[string]mqtt.MessageHandler{
		c.topic(snap.Gate.TagStreamTopic): c.onTagMessage,
		c.topic(snap.Gate.ResponseTopic):  c.onResponseMessage,
		c.topic(snap.Gate.StatusTopic):    c.onStatusMessage,
	} {
		if token := cli.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).WithField("topic", topic).Error("subscribe failed")
		} else {
			log.WithField("topic", topic).Info("subscribed")
		}
	}

	go c.autoStartScan()
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.metrics.SetMQTTConnected(false)
	log.WithError(err).Warn("mqtt disconnected")
}

// autoStartScan kicks the reader into inventory mode shortly after connect,
// once the subscriptions have settled.
func (c *Client) autoStartScan() {
	time.Sleep(time.Second)
	log.Info("auto-starting inventory scan")
	c.SendRFIDCommand("start")
}

func (c *Client) onTagMessage(_ mqtt.Client, msg mqtt.Message) {
	payload, err := decodeObject(msg.Payload())
	if err != nil {
		log.WithError(err).Warn("invalid tag stream payload")
		c.metrics.RecordDropped("parse")
		return
	}

	c.mu.Lock()
	c.lastTagSeen = c.now()
	c.mu.Unlock()

	gate, tags := parseDetections(payload, c.cfg.Current().Gate.GateID)
	if len(tags) == 0 {
		return
	}
	c.offer(detectionMsg{gateID: gate, tags: tags})
}

func (c *Client) onResponseMessage(_ mqtt.Client, msg mqtt.Message) {
	payload, err := decodeObject(msg.Payload())
	if err != nil {
		log.WithError(err).Warn("invalid command response payload")
		c.metrics.RecordDropped("parse")
		return
	}
	c.offer(responseMsg{payload: payload})
}

func (c *Client) onStatusMessage(_ mqtt.Client, msg mqtt.Message) {
	payload, err := decodeObject(msg.Payload())
	if err != nil {
		log.WithError(err).Warn("invalid reader status payload")
		c.metrics.RecordDropped("parse")
		return
	}
	c.offer(statusMsg{payload: payload})
}

func (c *Client) offer(msg inboundMsg) {
	select {
	case c.inbox <- msg:
	default:
		c.metrics.RecordDropped("overflow")
		log.Warn("inbound queue full, message dropped")
	}
}

// topic resolves a template against the configured reader client id.
func (c *Client) topic(template string) string {
	return strings.ReplaceAll(template, "{client_id}", c.cfg.Current().MQTT.ClientID)
}

// publish sends a JSON command at QoS 1, fire and forget. While disconnected
// the command is dropped with a warning: the hardware is the source of truth
// and callers see success either way.
func (c *Client) publish(topicTemplate string, payload any) bool {
	topic := c.topic(topicTemplate)
	if !c.Connected() {
		log.WithField("topic", topic).Warn("mqtt not connected, command dropped")
		return false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("encode command payload")
		return false
	}

	c.cli.Publish(topic, 1, false, body)
	log.WithFields(log.Fields{"topic": topic, "payload": string(body)}).Debug("command published")
	return true
}

// TriggerAlarm pulses the gate's alarm output. A non-positive duration uses
// the configured default pulse width.
func (c *Client) TriggerAlarm(durationSeconds int) {
	snap := c.cfg.Current()
	if durationSeconds <= 0 {
		durationSeconds = snap.Gate.GPOPulseSeconds
	}

	if c.publish(snap.Gate.GPOCommandTopic, map[string]any{
		"action":   "pulse",
		"gpo3":     1,
		"duration": durationSeconds,
	}) {
		log.WithField("duration_seconds", durationSeconds).Info("alarm pulse sent")
	}
}

// SendRFIDCommand issues an inventory verb: start, stop, status or query.
func (c *Client) SendRFIDCommand(action string) {
	if c.publish(c.cfg.Current().Gate.RFIDCommandTopic, map[string]any{"action": action}) {
		log.WithField("action", action).Info("rfid command sent")
	}
}

// SetAntennaPower sets per-antenna transmit power in dBm.
func (c *Client) SetAntennaPower(ant1, ant2, ant3, ant4 int) {
	if c.publish(c.cfg.Current().Gate.PowerCommandTopic, map[string]any{
		"action": "set",
		"ant1":   ant1,
		"ant2":   ant2,
		"ant3":   ant3,
		"ant4":   ant4,
	}) {
		log.WithFields(log.Fields{
			"ant1": ant1, "ant2": ant2, "ant3": ant3, "ant4": ant4,
		}).Info("antenna power set")
	}
}

// GetAntennaPower asks the reader for its current power levels. The reply
// arrives on the response topic and is broadcast to subscribers.
func (c *Client) GetAntennaPower() {
	if c.publish(c.cfg.Current().Gate.PowerCommandTopic, map[string]any{"action": "get"}) {
		log.Info("antenna power query sent")
	}
}

// QueryReaderStatus asks the reader for its status block.
func (c *Client) QueryReaderStatus() {
	c.SendRFIDCommand("status")
}

// LastResponse returns the most recent command response, nil before the
// first one.
func (c *Client) LastResponse() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResponse
}

// LastReaderStatus returns the most recent reader status frame, nil before
// the first one.
func (c *Client) LastReaderStatus() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReaderStatus
}

// GateLastSeenSeconds reports how long ago the reader last streamed a tag,
// nil when none has been seen since startup.
func (c *Client) GateLastSeenSeconds() *int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastTagSeen.IsZero() {
		return nil
	}
	s := int(c.now().Sub(c.lastTagSeen).Seconds())
	return &s
}
