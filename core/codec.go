package core

import (
	"encoding/json"
	"fmt"
)

// DecodeInstallRequest parses an install payload. Payloads that are not JSON,
// have no sys_id, or whose sys_id cannot be a topic level are malformed.
func DecodeInstallRequest(payload []byte) (InstallRequest, error) {
	var req InstallRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return InstallRequest{}, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if req.SysID == "" {
		return InstallRequest{}, fmt.Errorf("%w: no sys_id", ErrMalformedRequest)
	}
	if !ValidIdentity(req.SysID) {
		return InstallRequest{}, fmt.Errorf("%w: sys_id %q is not a valid topic level", ErrMalformedRequest, req.SysID)
	}
	return req, nil
}

// DecodeInstallAck parses an acknowledgement published by a device.
func DecodeInstallAck(payload []byte) (InstallAck, error) {
	var ack InstallAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		return InstallAck{}, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	return ack, nil
}

// DecodeReading parses a data payload.
func DecodeReading(payload []byte) (Reading, error) {
	var r Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return Reading{}, fmt.Errorf("%w: %w", ErrMalformedReading, err)
	}
	return r, nil
}

// encode marshals one of the protocol payloads.
func encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	return payload, nil
}

// EncodeInstallRequest is the payload an installer publishes on InstallTopic.
func EncodeInstallRequest(id Identity) ([]byte, error) {
	return encode(InstallRequest{SysID: id})
}
