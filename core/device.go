package core

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"
)

// Identity is the opaque sys_id an installer assigns to a device.
type Identity string

// Profile describes one kind of simulated device. Name is the device tag
// carried in acknowledgements and readings, DataLabel the last level of the
// device's data topic.
type Profile struct {
	Name      string
	DataLabel string
	NextValue func() any
}

var profiles = map[string]Profile{
	"esp32": {
		Name:      "esp32",
		DataLabel: "sensor",
		NextValue: func() any {
			return strconv.Itoa(rand.IntN(51) + 25)
		},
	},
	"m5stack": {
		Name:      "m5stack",
		DataLabel: "height",
		NextValue: func() any {
			return math.Round((70+rand.Float64()*50)*10) / 10
		},
	},
}

// LookupProfile returns the named device profile.
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// InstallRequest is the payload an installer publishes on the shared install topic.
type InstallRequest struct {
	SysID Identity `json:"sys_id"`
}

// InstallAck is the payload a device publishes once it has taken an identity.
type InstallAck struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	SysID   Identity `json:"sys_id"`
	Device  string   `json:"device"`
}

// Reading is an application payload published by a registered device.
// Value is a number or a string depending on the device.
type Reading struct {
	Value     any    `json:"value"`
	Timestamp string `json:"timestamp"`
	Device    string `json:"device"`
}

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// NewReading stamps value with t.
func NewReading(value any, device string, t time.Time) Reading {
	return Reading{
		Value:     value,
		Timestamp: t.UTC().Format(TimestampLayout),
		Device:    device,
	}
}
