package mqtt

import "strings"

// Root is the first segment of every Gray Logic topic.
const Root = "graylogic"

// ProtocolMiIO is the protocol segment used for Xiaomi miIO devices.
const ProtocolMiIO = "miio"

// Category is the second topic segment. It says what flows on the topic.
type Category string

const (
	CategoryCommand      Category = "command"
	CategoryState        Category = "state"
	CategoryAck          Category = "ack"
	CategoryConnectivity Category = "connectivity"
	CategoryHealth       Category = "health"
)

// DeviceTopic returns graylogic/{category}/{protocol}/{deviceID}.
func DeviceTopic(c Category, protocol, deviceID string) string {
	return strings.Join([]string{Root, string(c), protocol, deviceID}, "/")
}

// BridgeTopic returns graylogic/{category}/{protocol}. Health is reported
// per bridge rather than per device.
func BridgeTopic(c Category, protocol string) string {
	return strings.Join([]string{Root, string(c), protocol}, "/")
}

// validateTopic rejects empty topics, and wildcards when publishing.
// Subscriptions may use + and # as normal.
func validateTopic(topic string, publish bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if publish && strings.ContainsAny(topic, "+#") {
		return ErrWildcardTopic
	}
	return nil
}
