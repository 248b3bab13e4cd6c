package cli

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalContext_FirstInterruptsSecondCancels(t *testing.T) {
	got := make(chan os.Signal, 1)
	sc := NewSignalContext(context.Background(), func(sig os.Signal) { got <- sig })
	defer sc.Stop()

	sc.sigCh <- syscall.SIGTERM
	select {
	case sig := <-got:
		assert.Equal(t, syscall.SIGTERM, sig)
	case <-time.After(time.Second):
		t.Fatal("interrupt callback not called")
	}
	assert.NoError(t, sc.Err())

	sc.sigCh <- os.Interrupt
	select {
	case <-sc.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by the second signal")
	}
	assert.Equal(t, os.Interrupt, sc.Signal())
}

func TestSignalContext_NoCallbackCancels(t *testing.T) {
	sc := NewSignalContext(context.Background(), nil)
	defer sc.Stop()

	sc.sigCh <- syscall.SIGTERM
	select {
	case <-sc.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
	require.Equal(t, syscall.SIGTERM, sc.Signal())
}

func TestSignalContext_Stop(t *testing.T) {
	sc := NewSignalContext(context.Background(), nil)
	sc.Stop()
	assert.ErrorIs(t, sc.Err(), context.Canceled)
	assert.Nil(t, sc.Signal())
}
