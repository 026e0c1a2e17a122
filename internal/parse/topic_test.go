package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceID(t *testing.T) {
	testCases := []struct {
		name     string
		topic    string
		expected int64
		ok       bool
	}{
		{name: "Standard topic", topic: "sugarcane harvester/1001/realtime", expected: 1001, ok: true},
		{name: "Single digit", topic: "sugarcane harvester/7/realtime", expected: 7, ok: true},
		{name: "Leading zeros", topic: "sugarcane harvester/000042/realtime", expected: 42, ok: true},
		{name: "Zero id is syntactically valid", topic: "sugarcane harvester/0/realtime", expected: 0, ok: true},
		{name: "Non-digit id", topic: "sugarcane harvester/abc/realtime", ok: false},
		{name: "Negative id", topic: "sugarcane harvester/-5/realtime", ok: false},
		{name: "Empty id", topic: "sugarcane harvester//realtime", ok: false},
		{name: "Wrong suffix", topic: "sugarcane harvester/1001/history", ok: false},
		{name: "Extra trailing segment", topic: "sugarcane harvester/1001/realtime/extra", ok: false},
		{name: "Extra leading segment", topic: "farm/sugarcane harvester/1001/realtime", ok: false},
		{name: "Wrong prefix", topic: "sugarcane-harvester/1001/realtime", ok: false},
		{name: "Bad shape", topic: "bad/topic/shape", ok: false},
		{name: "Invalid topic", topic: "invalid/topic", ok: false},
		{name: "Empty", topic: "", ok: false},
		{name: "Overflowing id", topic: "sugarcane harvester/99999999999999999999/realtime", ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, ok := DeviceID(tc.topic)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.expected, id)
			}
		})
	}
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "sugarcane harvester/1001/realtime", Topic(1001))

	for _, id := range []int64{1, 42, 1001, 9223372036854775807} {
		got, ok := DeviceID(Topic(id))
		assert.True(t, ok)
		assert.Equal(t, id, got)
	}
}
