package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"serial2mqtt/config"
	"serial2mqtt/serial"
)

const interruptHint = "...if ctrl+c doesn't work, try ctrl+z..."

// shutdown cancels the run context on SIGINT or SIGTERM and closes every
// registered resource. Closing the port is what releases a loop blocked on
// a read.
type shutdown struct {
	cancel context.CancelFunc
	out    io.Writer
	logger zerolog.Logger

	mu      sync.Mutex
	closers []io.Closer
	fired   bool
}

func newShutdown(cancel context.CancelFunc, out io.Writer, logger zerolog.Logger) *shutdown {
	return &shutdown{cancel: cancel, out: out, logger: logger}
}

// listen installs the signal handler. The returned func removes it.
func (s *shutdown) listen(ctx context.Context) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			// a second ctrl+c gets the default behaviour
			signal.Reset(syscall.SIGINT, syscall.SIGTERM)
			s.trigger(sig)
		case <-ctx.Done():
		}
	}()
	return func() { signal.Stop(sigs) }
}

func (s *shutdown) trigger(sig os.Signal) {
	fmt.Fprintln(s.out, interruptHint)
	s.logger.Info().Str("signal", sig.String()).Msg("shutting down")
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired = true
	for _, c := range s.closers {
		c.Close()
	}
	s.closers = nil
}

// closeOnSignal registers c. If the signal already arrived c is closed
// right away.
func (s *shutdown) closeOnSignal(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired {
		c.Close()
		return
	}
	s.closers = append(s.closers, c)
}

// openPort waits for the device node when configured and opens it. A nil
// port with a nil error means ctx was cancelled before the port was ready.
func openPort(ctx context.Context, cfg config.SerialConfig) (*serial.Port, error) {
	if cfg.Wait > 0 {
		if err := serial.WaitForSerial(ctx, cfg.Port, cfg.Wait); err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, err
		}
	}
	port, err := serial.Open(cfg.Port, cfg.BaudRate)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	return port, nil
}
