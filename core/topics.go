package core

import (
	"fmt"
	"slices"
	"strings"
)

// InstallTopic is the shared topic every unregistered device listens on.
const InstallTopic = "install"

const (
	ackSegment    = "install"
	deleteSegment = "delete"
)

// Topics builds the identity-scoped topics of one device kind:
//
//	<namespace>/<identity>/<dataLabel>
//	<namespace>/<identity>/install
//	<namespace>/<identity>/delete
type Topics struct {
	Namespace string
	DataLabel string
}

// Data returns the device's data topic, e.g. m5stack/dev-1/sensor.
func (t Topics) Data(id Identity) string {
	return fmt.Sprintf("%s/%s/%s", t.Namespace, id, t.DataLabel)
}

// InstallAck returns the topic install acknowledgements go to, e.g. m5stack/dev-1/install.
func (t Topics) InstallAck(id Identity) string {
	return fmt.Sprintf("%s/%s/%s", t.Namespace, id, ackSegment)
}

// Delete returns the device's deletion topic, e.g. m5stack/dev-1/delete.
func (t Topics) Delete(id Identity) string {
	return fmt.Sprintf("%s/%s/%s", t.Namespace, id, deleteSegment)
}

// AllInstallAcks matches install acknowledgements of every device in namespace.
func AllInstallAcks(namespace string) string {
	return fmt.Sprintf("%s/+/%s", namespace, ackSegment)
}

// AllData matches the data topics of every device in namespace with label.
func AllData(namespace, label string) string {
	return fmt.Sprintf("%s/+/%s", namespace, label)
}

// IsDeleteTopic reports whether any level of topic is the deletion segment,
// so prefixed paths such as site/m5stack/dev-1/delete still match.
func IsDeleteTopic(topic string) bool {
	return slices.Contains(strings.Split(topic, "/"), deleteSegment)
}

// DeleteTarget returns the level before the deletion segment of topic, the
// identity the deletion is addressed to. ok is false when topic has no
// deletion segment or nothing precedes it.
func DeleteTarget(topic string) (id Identity, ok bool) {
	parts := strings.Split(topic, "/")
	i := slices.Index(parts, deleteSegment)
	if i < 1 || parts[i-1] == "" {
		return "", false
	}
	return Identity(parts[i-1]), true
}

// ParseDeviceTopic splits <namespace>/<identity>/<label>.
func ParseDeviceTopic(topic string) (namespace string, id Identity, label string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], Identity(parts[1]), parts[2], true
}

// ValidIdentity reports whether id can be used as a single topic level.
func ValidIdentity(id Identity) bool {
	return id != "" && !strings.ContainsAny(string(id), "/+#")
}
