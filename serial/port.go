// Package serial reads newline-terminated records from the sensor receiver's
// serial device.
package serial

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	seriallib "go.bug.st/serial"
)

// ErrClosed is returned by Read once the port has been closed, including a
// Read that was blocked when Close was called.
var ErrClosed = errors.New("serial: port closed")

// Port is an open serial device. Read may block indefinitely; Close may be
// called from another goroutine to release it.
type Port struct {
	name   string
	baud   int
	port   seriallib.Port
	mu     sync.Mutex
	closed atomic.Bool
}

// Open opens the named device at baud with 8N1 framing and no read timeout.
func Open(name string, baud int) (*Port, error) {
	p, err := seriallib.Open(name, &seriallib.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   seriallib.NoParity,
		StopBits: seriallib.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	return &Port{name: name, baud: baud, port: p}, nil
}

// Name returns the device path.
func (p *Port) Name() string { return p.name }

// BaudRate returns the configured speed.
func (p *Port) BaudRate() int { return p.baud }

// Read implements io.Reader.
func (p *Port) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	n, err := p.port.Read(b)
	if err != nil && p.closed.Load() {
		return n, ErrClosed
	}
	var perr *seriallib.PortError
	if errors.As(err, &perr) && perr.Code() == seriallib.PortClosed {
		return n, ErrClosed
	}
	return n, err
}

// Write sends raw bytes to the device.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return 0, ErrClosed
	}
	return p.port.Write(b)
}

// Close releases the device. It is safe to call more than once.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return nil
	}
	return p.port.Close()
}
