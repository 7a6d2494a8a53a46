package bus

import "time"

// Event type tags, mirrored by the dashboard.
const (
	TypeTagDetected     = "TAG_DETECTED"
	TypeAlarmTriggered  = "ALARM_TRIGGERED"
	TypeCommandResponse = "COMMAND_RESPONSE"
	TypeReaderStatus    = "READER_STATUS"
	TypeStatusUpdate    = "STATUS_UPDATE"
)

// TagDetected reports one non-suppressed decision. TagID is the decoded QR
// when the codec produced one, else the raw EPC, so the operator sees
// whatever identifier they can act on.
type TagDetected struct {
	Type      string    `json:"type"`
	TagID     string    `json:"tag_id"`
	RSSI      *float64  `json:"rssi,omitempty"`
	Antenna   *int      `json:"antenna,omitempty"`
	Decision  string    `json:"decision"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTagDetected(tagID, decision string, rssi *float64, antenna *int) TagDetected {
	return TagDetected{
		Type:      TypeTagDetected,
		TagID:     tagID,
		RSSI:      rssi,
		Antenna:   antenna,
		Decision:  decision,
		Timestamp: time.Now().UTC(),
	}
}

// AlarmTriggered accompanies every ALARM decision, after the pulse command
// has been published.
type AlarmTriggered struct {
	Type      string    `json:"type"`
	TagID     string    `json:"tag_id"`
	GateID    string    `json:"gate_id"`
	RSSI      *float64  `json:"rssi,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewAlarmTriggered(tagID, gateID string, rssi *float64) AlarmTriggered {
	return AlarmTriggered{
		Type:      TypeAlarmTriggered,
		TagID:     tagID,
		GateID:    gateID,
		RSSI:      rssi,
		Timestamp: time.Now().UTC(),
	}
}

// CommandResponse relays a reader command reply. Data is pulled from the
// block the command family uses: data, power or gpo; status replies carry
// their network and system blocks instead.
type CommandResponse struct {
	Type      string    `json:"type"`
	Command   any       `json:"command"`
	Action    any       `json:"action"`
	Status    any       `json:"status"`
	Message   any       `json:"message"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func NewCommandResponse(payload map[string]any) CommandResponse {
	var data any
	for _, key := range []string{"data", "power", "gpo"} {
		if v, ok := payload[key]; ok && v != nil {
			data = v
			break
		}
	}
	if payload["network"] != nil || payload["system"] != nil {
		data = map[string]any{
			"network": payload["network"],
			"system":  payload["system"],
		}
	}

	return CommandResponse{
		Type:      TypeCommandResponse,
		Command:   payload["command"],
		Action:    payload["action"],
		Status:    payload["status"],
		Message:   payload["message"],
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// ReaderStatus relays the reader's own status frames.
type ReaderStatus struct {
	Type      string    `json:"type"`
	Status    any       `json:"status"`
	Uptime    any       `json:"uptime,omitempty"`
	Memory    any       `json:"memory,omitempty"`
	Antennas  any       `json:"antennas,omitempty"`
	Network   any       `json:"network,omitempty"`
	System    any       `json:"system,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReaderStatus(payload map[string]any) ReaderStatus {
	return ReaderStatus{
		Type:      TypeReaderStatus,
		Status:    payload["status"],
		Uptime:    payload["uptime"],
		Memory:    payload["memory"],
		Antennas:  payload["antennas"],
		Network:   payload["network"],
		System:    payload["system"],
		Timestamp: time.Now().UTC(),
	}
}

// StatusUpdate is the 5 s heartbeat frame. No timestamp: the dashboard uses
// arrival time.
type StatusUpdate struct {
	Type          string `json:"type"`
	MQTTConnected bool   `json:"mqtt_connected"`
	InCartCount   int    `json:"in_cart_count"`
	PaidCount     int    `json:"paid_count"`
}

func NewStatusUpdate(mqttConnected bool, inCart, paid int) StatusUpdate {
	return StatusUpdate{
		Type:          TypeStatusUpdate,
		MQTTConnected: mqttConnected,
		InCartCount:   inCart,
		PaidCount:     paid,
	}
}
