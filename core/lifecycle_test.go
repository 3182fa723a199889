package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleZeroValueIsUnregistered(t *testing.T) {
	var l Lifecycle
	assert.Equal(t, Unregistered(), l)
	assert.False(t, l.IsRegistered())
	_, ok := l.Identity()
	assert.False(t, ok)
	assert.Equal(t, "unregistered", l.String())
}

func TestLifecycleInstall(t *testing.T) {
	l, err := Unregistered().Install("dev-1")
	require.NoError(t, err)
	assert.Equal(t, PhaseRegistered, l.Phase())
	id, ok := l.Identity()
	assert.True(t, ok)
	assert.Equal(t, Identity("dev-1"), id)
	assert.Equal(t, "registered(dev-1)", l.String())
}

func TestLifecycleInstallRejections(t *testing.T) {
	_, err := Unregistered().Install("")
	assert.ErrorIs(t, err, ErrEmptyIdentity)

	registered := Registered("dev-1")
	for _, id := range []Identity{"dev-1", "dev-2"} {
		l, err := registered.Install(id)
		assert.ErrorIs(t, err, ErrAlreadyRegistered)
		assert.Equal(t, registered, l)
	}
}

func TestLifecycleDelete(t *testing.T) {
	assert.Equal(t, Unregistered(), Registered("dev-1").Delete())
	assert.Equal(t, Unregistered(), Unregistered().Delete())
	assert.Equal(t, Unregistered(), Unregistered().Delete().Delete())
}
