package mqtt

import "errors"

var (
	// ErrNotConnected means there is no live broker session. Paho keeps
	// reconnecting in the background; callers may retry later.
	ErrNotConnected = errors.New("mqtt: client not connected")

	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	ErrInvalidQoS    = errors.New("mqtt: QoS must be 0, 1 or 2")
	ErrInvalidTopic  = errors.New("mqtt: empty topic")
	ErrWildcardTopic = errors.New("mqtt: wildcards are not allowed in publish topics")
)
