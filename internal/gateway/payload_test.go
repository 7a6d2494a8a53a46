package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, raw string) map[string]any {
	t.Helper()
	payload, err := decodeObject([]byte(raw))
	require.NoError(t, err)
	return payload
}

func TestDecodeObjectRejectsNonObjects(t *testing.T) {
	_, err := decodeObject([]byte("not json"))
	assert.Error(t, err)

	_, err = decodeObject([]byte(`[{"epc":"AA"}]`))
	assert.Error(t, err)

	payload, err := decodeObject([]byte(`{"epc":"AA"}`))
	require.NoError(t, err)
	assert.Equal(t, "AA", payload["epc"])
}

func TestParseDetectionsArrayForm(t *testing.T) {
	payload := mustDecode(t, `{
		"id": "gate-7",
		"tags": [
			{"epc": "AA11", "peakRssi": -52.5, "antenna": 2},
			{"idHex": "BB22", "rssi": -60, "ant": 1},
			{"epc": "CC33"}
		]
	}`)

	gate, tags := parseDetections(payload, "gate-1")
	assert.Equal(t, "gate-7", gate)
	require.Len(t, tags, 3)

	assert.Equal(t, "AA11", tags[0].EPC)
	require.NotNil(t, tags[0].RSSI)
	assert.Equal(t, -52.5, *tags[0].RSSI)
	require.NotNil(t, tags[0].Antenna)
	assert.Equal(t, 2, *tags[0].Antenna)

	assert.Equal(t, "BB22", tags[1].EPC)
	require.NotNil(t, tags[1].RSSI)
	assert.Equal(t, -60.0, *tags[1].RSSI)
	require.NotNil(t, tags[1].Antenna)
	assert.Equal(t, 1, *tags[1].Antenna)

	assert.Equal(t, "CC33", tags[2].EPC)
	assert.Nil(t, tags[2].RSSI)
	assert.Nil(t, tags[2].Antenna)
}

func TestParseDetectionsArrayGateFromClientID(t *testing.T) {
	payload := mustDecode(t, `{"clientId": "gate-3", "tags": [{"epc": "AA"}]}`)

	gate, tags := parseDetections(payload, "gate-1")
	assert.Equal(t, "gate-3", gate)
	assert.Len(t, tags, 1)
}

func TestParseDetectionsArraySkipsUnusableEntries(t *testing.T) {
	payload := mustDecode(t, `{"tags": [
		{"rssi": -70},
		"bogus",
		{"epc": "DD44"}
	]}`)

	gate, tags := parseDetections(payload, "gate-1")
	assert.Equal(t, "gate-1", gate)
	require.Len(t, tags, 1)
	assert.Equal(t, "DD44", tags[0].EPC)
}

func TestParseDetectionsFlatNested(t *testing.T) {
	payload := mustDecode(t, `{
		"clientId": "gate-2",
		"data": {"epc": "EE55", "peakRssi": -48, "antenna": 3}
	}`)

	gate, tags := parseDetections(payload, "gate-1")
	assert.Equal(t, "gate-2", gate)
	require.Len(t, tags, 1)
	assert.Equal(t, "EE55", tags[0].EPC)
	require.NotNil(t, tags[0].RSSI)
	assert.Equal(t, -48.0, *tags[0].RSSI)
	require.NotNil(t, tags[0].Antenna)
	assert.Equal(t, 3, *tags[0].Antenna)
}

func TestParseDetectionsFlatTopLevel(t *testing.T) {
	payload := mustDecode(t, `{"epc": "FF66", "rssi": -55}`)

	gate, tags := parseDetections(payload, "gate-1")
	assert.Equal(t, "gate-1", gate)
	require.Len(t, tags, 1)
	assert.Equal(t, "FF66", tags[0].EPC)
	require.NotNil(t, tags[0].RSSI)
	assert.Equal(t, -55.0, *tags[0].RSSI)
}

func TestParseDetectionsFlatWithoutEPCDropsMessage(t *testing.T) {
	payload := mustDecode(t, `{"clientId": "gate-2", "data": {"rssi": -55}}`)

	gate, tags := parseDetections(payload, "gate-1")
	assert.Equal(t, "gate-2", gate)
	assert.Empty(t, tags)
}

func TestParseDetectionsFieldPrecedence(t *testing.T) {
	// epc wins over idHex, peakRssi over rssi, antenna over ant.
	payload := mustDecode(t, `{"tags": [{
		"epc": "AA", "idHex": "BB",
		"peakRssi": -40, "rssi": -90,
		"antenna": 4, "ant": 1
	}]}`)

	_, tags := parseDetections(payload, "gate-1")
	require.Len(t, tags, 1)
	assert.Equal(t, "AA", tags[0].EPC)
	assert.Equal(t, -40.0, *tags[0].RSSI)
	assert.Equal(t, 4, *tags[0].Antenna)
}
