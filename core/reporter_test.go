package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporterPublishesOnlyWhileRegistered(t *testing.T) {
	agent, bus := newTestAgent(t, 0, DeleteRejoin)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunReporter(ctx, agent, 5*time.Millisecond, func() any { return "42" })
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, bus.snapshot(), "nothing is published before installation")

	require.NoError(t, agent.HandleInstall(context.Background(), installPayload("dev-1")))
	require.Eventually(t, func() bool {
		return len(bus.published("ns/dev-1/sensor")) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
