package main

import (
	"bytes"
	"context"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial2mqtt/config"
)

type countingCloser struct{ n int }

func (c *countingCloser) Close() error {
	c.n++
	return nil
}

func TestShutdownTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out bytes.Buffer
	s := newShutdown(cancel, &out, zerolog.Nop())

	early := &countingCloser{}
	s.closeOnSignal(early)
	s.trigger(syscall.SIGINT)

	assert.Error(t, ctx.Err())
	assert.Contains(t, out.String(), interruptHint)
	assert.Equal(t, 1, early.n)

	late := &countingCloser{}
	s.closeOnSignal(late)
	assert.Equal(t, 1, late.n)
	assert.Equal(t, 1, early.n)
}

func TestOpenPortCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.SerialConfig{
		Port:     filepath.Join(t.TempDir(), "ttyUSB9"),
		BaudRate: 115200,
		Wait:     time.Minute,
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	port, err := openPort(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, port)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestOpenPortWaitTimeout(t *testing.T) {
	cfg := config.SerialConfig{
		Port:     filepath.Join(t.TempDir(), "ttyUSB9"),
		BaudRate: 115200,
		Wait:     20 * time.Millisecond,
	}
	port, err := openPort(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, port)
}

func TestOpenPortMissingDevice(t *testing.T) {
	cfg := config.SerialConfig{Port: filepath.Join(t.TempDir(), "ttyUSB9"), BaudRate: 115200}
	_, err := openPort(context.Background(), cfg)
	assert.Error(t, err)
}
