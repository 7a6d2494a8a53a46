package gateway

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nextwaves/rfid-edge/internal/bus"
	"github.com/nextwaves/rfid-edge/internal/decision"
)

// inboundMsg is one unit of work handed from a subscription callback to the
// worker loop.
type inboundMsg interface{ inbound() }

type detectionMsg struct {
	gateID string
	tags   []Detection
}

type responseMsg struct {
	payload map[string]any
}

type statusMsg struct {
	payload map[string]any
}

func (detectionMsg) inbound() {}
func (responseMsg) inbound()  {}
func (statusMsg) inbound()    {}

// Run drains the inbound queue until the context is cancelled. Running it on
// exactly one goroutine is what serialises decisions for a detection burst.
func (c *Client) Run(ctx context.Context) {
	log.Info("detection pipeline started")
	for {
		select {
		case <-ctx.Done():
			log.Info("detection pipeline stopped")
			return
		case msg := <-c.inbox:
			switch m := msg.(type) {
			case detectionMsg:
				c.processDetections(ctx, m)
			case responseMsg:
				c.processResponse(m.payload)
			case statusMsg:
				c.processStatus(m.payload)
			}
		}
	}
}

// processDetections decides each tag in arrival order. For an ALARM the
// pulse command goes out before any subscriber hears about the detection,
// so a dashboard can never show an alarm the hardware was not asked to
// sound.
func (c *Client) processDetections(ctx context.Context, m detectionMsg) {
	for _, tag := range m.tags {
		c.metrics.RecordDetection(m.gateID)

		start := time.Now()
		res, err := c.engine.Decide(ctx, tag.EPC, m.gateID, tag.RSSI, tag.Antenna)
		if err != nil {
			log.WithError(err).WithField("epc", tag.EPC).Error("decision failed, detection dropped")
			c.metrics.RecordDropped("decide")
			continue
		}
		c.metrics.RecordDecision(string(res.Decision), res.Reason, time.Since(start).Seconds())

		if res.Reason == decision.ReasonDebounced || res.Reason == decision.ReasonAlarmCooldown {
			continue
		}

		tagID := res.QR
		if tagID == "" {
			tagID = tag.EPC
		}

		alarm := res.Decision == decision.Alarm
		if alarm {
			c.TriggerAlarm(0)
			c.metrics.RecordAlarm(m.gateID)
			log.WithFields(log.Fields{
				"tag_id": tagID,
				"gate":   m.gateID,
				"reason": res.Reason,
			}).Warn("alarm triggered")
		}

		c.emit(bus.TypeTagDetected, bus.NewTagDetected(tagID, string(res.Decision), tag.RSSI, tag.Antenna))
		if alarm {
			c.emit(bus.TypeAlarmTriggered, bus.NewAlarmTriggered(tagID, m.gateID, tag.RSSI))
		}
	}
}

// processResponse caches the reply and relays it. Replies to the rfid status
// verb are reshaped into a READER_STATUS frame so the dashboard treats them
// like the reader's own status reports.
func (c *Client) processResponse(payload map[string]any) {
	c.mu.Lock()
	c.lastResponse = payload
	c.mu.Unlock()

	command, _ := payload["command"].(string)
	action, _ := payload["action"].(string)
	status, _ := payload["status"].(string)
	log.WithFields(log.Fields{
		"command": command,
		"action":  action,
		"status":  status,
	}).Info("command response received")

	if command == "rfid" && action == "status" {
		system, _ := payload["system"].(map[string]any)
		if system == nil {
			system = map[string]any{}
		}
		online := "offline"
		if status == "success" {
			online = "online"
		}
		c.emit(bus.TypeReaderStatus, bus.NewReaderStatus(map[string]any{
			"status":  online,
			"uptime":  fieldOr(system, "uptime", 0),
			"memory":  fieldOr(system, "free_heap", 0),
			"network": payload["network"],
			"system":  system,
		}))
		return
	}

	c.emit(bus.TypeCommandResponse, bus.NewCommandResponse(payload))
}

// processStatus caches the reader's status frame and passes it through.
func (c *Client) processStatus(payload map[string]any) {
	c.mu.Lock()
	c.lastReaderStatus = payload
	c.mu.Unlock()

	c.emit(bus.TypeReaderStatus, bus.NewReaderStatus(payload))
}

func (c *Client) emit(eventType string, event any) {
	c.metrics.RecordBroadcast(eventType)
	c.bus.Broadcast(event)
}

func fieldOr(m map[string]any, key string, def any) any {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return def
}
