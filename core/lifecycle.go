package core

import "fmt"

// Phase is the tag of a Lifecycle.
type Phase int

const (
	PhaseUnregistered Phase = iota
	PhaseRegistered
)

func (p Phase) String() string {
	switch p {
	case PhaseRegistered:
		return "registered"
	default:
		return "unregistered"
	}
}

// Lifecycle is a device's registration state: either Unregistered or
// Registered with exactly one identity. The zero value is Unregistered.
// Values are immutable; transitions return a new Lifecycle.
type Lifecycle struct {
	phase    Phase
	identity Identity
}

// Unregistered returns the initial lifecycle.
func Unregistered() Lifecycle {
	return Lifecycle{}
}

// Registered returns a lifecycle holding id.
func Registered(id Identity) Lifecycle {
	return Lifecycle{phase: PhaseRegistered, identity: id}
}

func (l Lifecycle) Phase() Phase {
	return l.phase
}

func (l Lifecycle) IsRegistered() bool {
	return l.phase == PhaseRegistered
}

// Identity returns the held identity and whether there is one.
func (l Lifecycle) Identity() (Identity, bool) {
	if l.phase != PhaseRegistered {
		return "", false
	}
	return l.identity, true
}

// Install moves an unregistered lifecycle to Registered(id). The receiver is
// returned unchanged with an error when id is empty or an identity is
// already held.
func (l Lifecycle) Install(id Identity) (Lifecycle, error) {
	if id == "" {
		return l, ErrEmptyIdentity
	}
	switch l.phase {
	case PhaseRegistered:
		return l, fmt.Errorf("%w with sys_id %s", ErrAlreadyRegistered, l.identity)
	default:
		return Registered(id), nil
	}
}

// Delete clears any identity. Deleting an unregistered lifecycle is a no-op.
func (Lifecycle) Delete() Lifecycle {
	return Unregistered()
}

func (l Lifecycle) String() string {
	if l.phase == PhaseRegistered {
		return fmt.Sprintf("registered(%s)", l.identity)
	}
	return l.phase.String()
}
