package printer

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const serialPollInterval = 500 * time.Millisecond

// Serial drives a printer reached through a serial port, such as a BLE to
// UART bridge. The port path stands in for the advertised name.
type Serial struct {
	port string
	mode *serial.Mode

	list func() ([]string, error)
	poll time.Duration
}

// NewSerial creates a transport for the given port
func NewSerial(port string, baudRate int) *Serial {
	return &Serial{
		port: port,
		mode: &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		list: serial.GetPortsList,
		poll: serialPollInterval,
	}
}

// Scan polls the OS port list until the configured port shows up or ctx
// is done, so a bridge plugged in mid-scan is still found.
func (s *Serial) Scan(ctx context.Context, _ []string) (Device, error) {
	t := time.NewTicker(s.poll)
	defer t.Stop()

	for {
		ports, err := s.list()
		if err != nil {
			return Device{}, fmt.Errorf("list serial ports: %w", err)
		}
		if slices.Contains(ports, s.port) {
			return Device{Name: s.port, Address: s.port}, nil
		}

		select {
		case <-ctx.Done():
			return Device{}, fmt.Errorf("%w: port %s not present: %w", ErrDeviceNotFound, s.port, ctx.Err())
		case <-t.C:
		}
	}
}

// Connect opens the port and forwards everything read from it as a notification
func (s *Serial) Connect(ctx context.Context, dev Device, h Handlers) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := serial.Open(dev.Address, s.mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", dev.Address, err)
	}

	l := &serialLink{port: port}
	l.wg.Add(1)
	go l.read(h)
	return l, nil
}

type serialLink struct {
	port    serial.Port
	closing atomic.Bool
	wg      sync.WaitGroup
}

func (l *serialLink) read(h Handlers) {
	defer l.wg.Done()

	buf := make([]byte, 64)
	for {
		n, err := l.port.Read(buf)
		if n > 0 && h.OnNotify != nil {
			h.OnNotify(append([]byte(nil), buf[:n]...))
		}
		if err == nil && n > 0 {
			continue
		}
		if l.closing.Load() {
			return
		}
		if err != nil && err != io.EOF {
			log.Debug().Err(err).Msg("serial read")
		}
		if h.OnDisconnect != nil {
			h.OnDisconnect()
		}
		return
	}
}

func (l *serialLink) Write(p []byte) error {
	for len(p) > 0 {
		n, err := l.port.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

func (l *serialLink) Close() error {
	l.closing.Store(true)
	err := l.port.Close()
	l.wg.Wait()
	return err
}
