package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInstallRequest(t *testing.T) {
	req, err := DecodeInstallRequest([]byte(`{"sys_id":"dev-1","extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, Identity("dev-1"), req.SysID)

	for _, payload := range []string{``, `[]`, `{}`, `{"sys_id":"a+b"}`} {
		_, err := DecodeInstallRequest([]byte(payload))
		assert.ErrorIs(t, err, ErrMalformedRequest, payload)
	}
}

func TestEncodeInstallRequest(t *testing.T) {
	payload, err := EncodeInstallRequest("dev-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"sys_id":"dev-1"}`, string(payload))
}

func TestDecodeInstallAck(t *testing.T) {
	ack, err := DecodeInstallAck([]byte(`{"success":true,"message":"ok","sys_id":"dev-1","device":"m5stack"}`))
	require.NoError(t, err)
	assert.Equal(t, InstallAck{Success: true, Message: "ok", SysID: "dev-1", Device: "m5stack"}, ack)

	_, err = DecodeInstallAck([]byte(`nope`))
	assert.ErrorIs(t, err, ErrMalformedRequest)
}

func TestNewReadingTimestamp(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	r := NewReading(81.5, "m5stack", time.Date(2026, 10, 15, 10, 0, 0, 7e6, loc))

	assert.Equal(t, "2026-10-15T08:00:00.007Z", r.Timestamp)
	assert.Equal(t, 81.5, r.Value)
	assert.Equal(t, "m5stack", r.Device)
}

func TestProfiles(t *testing.T) {
	esp, err := LookupProfile("esp32")
	require.NoError(t, err)
	assert.Equal(t, "sensor", esp.DataLabel)
	for range 50 {
		v, ok := esp.NextValue().(string)
		require.True(t, ok)
		assert.Len(t, v, 2)
		assert.True(t, v >= "25" && v <= "75", v)
	}

	m5, err := LookupProfile("m5stack")
	require.NoError(t, err)
	assert.Equal(t, "height", m5.DataLabel)
	h, ok := m5.NextValue().(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, h, 70.0)
	assert.LessOrEqual(t, h, 120.0)

	_, err = LookupProfile("arduino")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}
