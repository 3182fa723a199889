package installer

import "errors"

var (
	// ErrUnknownDevice is returned for sys_ids the registry does not hold.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrInvalidSysID is returned for sys_ids that cannot be used as a topic level.
	ErrInvalidSysID = errors.New("sys_id must be a single topic level without wildcards")
)
