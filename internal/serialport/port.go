package serialport

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tarm/serial"
)

var (
	// ErrPortUnavailable means the OS refused to open or lock the device.
	ErrPortUnavailable = errors.New("serial port unavailable")

	// ErrConfiguration means the driver rejected the requested framing.
	ErrConfiguration = errors.New("serial configuration rejected")

	// ErrWriteFailed means fewer bytes were accepted than requested.
	// Partial writes are never retried here; the caller decides.
	ErrWriteFailed = errors.New("serial write failed")

	// ErrClosed is returned for operations on a closed port.
	ErrClosed = errors.New("serial port closed")
)

// Port is the byte-level serial session. Reads and writes may run on
// different goroutines; Close unblocks a pending Read.
type Port interface {
	io.ReadWriteCloser

	// Name returns the OS device identifier this port was opened with.
	Name() string
}

// Opener opens a Port. Tests substitute an in-memory implementation;
// production uses Open.
type Opener func(device string, baud int) (Port, error)

// nativePort wraps tarm/serial with an idempotent Close and full-write
// enforcement. The controller link is 8N1, which is the tarm default.
type nativePort struct {
	device string
	port   *serial.Port

	mu     sync.Mutex
	closed bool
}

// Open opens the named serial device at the given baud rate.
func Open(device string, baud int) (Port, error) {
	if device == "" {
		return nil, fmt.Errorf("%w: empty device name", ErrConfiguration)
	}
	if baud <= 0 {
		return nil, fmt.Errorf("%w: invalid baud rate %d", ErrConfiguration, baud)
	}

	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrPortUnavailable, device, err)
	}

	return &nativePort{device: device, port: port}, nil
}

func (p *nativePort) Name() string { return p.device }

func (p *nativePort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

// Write pushes all of b to the device. A short write is surfaced as
// ErrWriteFailed rather than silently retried: the byte stream to the
// controller is stateful and the session must decide how to recover.
func (p *nativePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	p.mu.Unlock()

	n, err := p.port.Write(b)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n < len(b) {
		return n, fmt.Errorf("%w: wrote %d of %d bytes", ErrWriteFailed, n, len(b))
	}
	return n, nil
}

// Close releases the OS handle. Safe to call more than once.
func (p *nativePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.port.Close()
}
