package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopics(t *testing.T) {
	topics := Topics{Namespace: "m5stack", DataLabel: "sensor"}

	assert.Equal(t, "m5stack/dev-1/sensor", topics.Data("dev-1"))
	assert.Equal(t, "m5stack/dev-1/install", topics.InstallAck("dev-1"))
	assert.Equal(t, "m5stack/dev-1/delete", topics.Delete("dev-1"))
	assert.Equal(t, "m5stack/+/install", AllInstallAcks("m5stack"))
	assert.Equal(t, "m5stack/+/height", AllData("m5stack", "height"))
}

func TestIsDeleteTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  bool
	}{
		{"m5stack/dev-1/delete", true},
		{"site/m5stack/dev-1/delete", true},
		{"delete", true},
		{"m5stack/dev-1/install", false},
		{"m5stack/deleted/sensor", false},
		{"install", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsDeleteTopic(tt.topic), tt.topic)
	}
}

func TestDeleteTarget(t *testing.T) {
	id, ok := DeleteTarget("m5stack/dev-1/delete")
	assert.True(t, ok)
	assert.Equal(t, Identity("dev-1"), id)

	id, ok = DeleteTarget("site/m5stack/dev-2/delete")
	assert.True(t, ok)
	assert.Equal(t, Identity("dev-2"), id)

	for _, topic := range []string{"delete", "/delete", "m5stack/dev-1/install"} {
		_, ok := DeleteTarget(topic)
		assert.False(t, ok, topic)
	}
}

func TestParseDeviceTopic(t *testing.T) {
	ns, id, label, ok := ParseDeviceTopic("m5stack/dev-1/height")
	assert.True(t, ok)
	assert.Equal(t, "m5stack", ns)
	assert.Equal(t, Identity("dev-1"), id)
	assert.Equal(t, "height", label)

	for _, topic := range []string{"install", "a/b", "a/b/c/d", "a//c", "/b/c"} {
		_, _, _, ok := ParseDeviceTopic(topic)
		assert.False(t, ok, topic)
	}
}
