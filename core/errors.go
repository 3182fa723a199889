package core

import "errors"

// Errors returned by the registration protocol. Use errors.Is to check them.
var (
	// ErrMalformedRequest is returned for install payloads that do not decode
	// or carry no usable sys_id.
	ErrMalformedRequest = errors.New("malformed installation request")

	// ErrMalformedReading is returned for data payloads that do not decode.
	ErrMalformedReading = errors.New("malformed reading")

	// ErrEmptyIdentity is returned when registering without an identity.
	ErrEmptyIdentity = errors.New("identity cannot be empty")

	// ErrAlreadyRegistered is returned for an install while an identity is held.
	ErrAlreadyRegistered = errors.New("device already registered")

	// ErrInstallInProgress is returned while an install sequence is still running.
	ErrInstallInProgress = errors.New("installation in progress")

	// ErrUnregistered is returned for operations that need an identity.
	ErrUnregistered = errors.New("device is unregistered")

	// ErrUnknownProfile is returned by LookupProfile.
	ErrUnknownProfile = errors.New("unknown device profile")

	// ErrUnknownDeletePolicy is returned by ParseDeletePolicy.
	ErrUnknownDeletePolicy = errors.New("unknown delete policy")
)
