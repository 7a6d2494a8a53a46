package gateway

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"
)

// Detection is one tag read extracted from a stream message.
type Detection struct {
	EPC     string
	RSSI    *float64
	Antenna *int
}

func decodeObject(raw []byte) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// parseDetections extracts every usable tag read from a stream payload.
// Readers speak two dialects: the array form
// {"tags":[{...},...], "id"|"clientId": gate} and the flat form
// {"data":{...}, "clientId": gate} with the tag fields optionally at top
// level. Reads without an EPC are skipped; a flat message without one is
// dropped whole.
func parseDetections(payload map[string]any, fallbackGate string) (string, []Detection) {
	if rawTags, ok := payload["tags"].([]any); ok {
		gate := stringField(payload, "id", "clientId")
		if gate == "" {
			gate = fallbackGate
		}

		out := make([]Detection, 0, len(rawTags))
		for _, el := range rawTags {
			tag, ok := el.(map[string]any)
			if !ok {
				log.Warn("tag stream entry is not an object, skipped")
				continue
			}
			det, ok := detectionFrom(tag)
			if !ok {
				log.Warn("tag stream entry missing EPC, skipped")
				continue
			}
			out = append(out, det)
		}
		return gate, out
	}

	gate := stringField(payload, "clientId")
	if gate == "" {
		gate = fallbackGate
	}

	data, ok := payload["data"].(map[string]any)
	if !ok {
		data = payload
	}
	det, ok := detectionFrom(data)
	if !ok {
		log.Warn("tag detection missing EPC, dropped")
		return gate, nil
	}
	return gate, []Detection{det}
}

func detectionFrom(m map[string]any) (Detection, bool) {
	epcHex := stringField(m, "epc", "idHex")
	if epcHex == "" {
		return Detection{}, false
	}
	return Detection{
		EPC:     epcHex,
		RSSI:    floatField(m, "peakRssi", "rssi"),
		Antenna: intField(m, "antenna", "ant"),
	}, true
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func floatField(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok {
			f := v
			return &f
		}
	}
	return nil
}

func intField(m map[string]any, keys ...string) *int {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok {
			n := int(v)
			return &n
		}
	}
	return nil
}
