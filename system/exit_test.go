package system

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/ilievs/edgesim/logging"
)

func TestOsSignalContextCancelledBySignal(t *testing.T) {
	ctx, cancel := OsSignalContext(context.Background(), logging.Discard())
	defer cancel()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatal("failed to signal self:", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after SIGTERM")
	}
}

func TestOsSignalContextFollowsParent(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := OsSignalContext(parent, logging.Discard())
	defer cancel()

	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled with its parent")
	}
}
