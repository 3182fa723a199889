package mqtt

import "errors"

// Errors returned by the transports in this package. Use errors.Is to check them.
var (
	// ErrConnectionFailed is returned when the initial connection cannot be made.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish is not acknowledged.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscription is refused or times out.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe is not acknowledged.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidTopic is returned for empty topics and filters.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrInvalidQoS is returned for QoS levels other than 0, 1 or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrNotSubscribed is returned when unsubscribing a filter that was never subscribed.
	ErrNotSubscribed = errors.New("mqtt: not subscribed")
)

const maxQoS = 2

func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
