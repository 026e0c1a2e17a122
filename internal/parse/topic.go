package parse

import (
	"fmt"
	"regexp"
	"strconv"
)

// TopicPrefix is the first topic level every harvester publishes under.
const TopicPrefix = "sugarcane harvester"

// SubscriptionFilter matches the realtime topic of every device.
const SubscriptionFilter = TopicPrefix + "/+/realtime"

var realtimeTopicRe = regexp.MustCompile(`^sugarcane harvester/(\d+)/realtime$`)

// DeviceID extracts the numeric device identifier from a realtime topic.
// It reports false for any other topic shape, including ids that do not fit in an int64.
func DeviceID(topic string) (int64, bool) {
	m := realtimeTopicRe.FindStringSubmatch(topic)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Topic builds the realtime topic for a device.
func Topic(deviceID int64) string {
	return fmt.Sprintf("%s/%d/realtime", TopicPrefix, deviceID)
}
