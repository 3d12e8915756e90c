package printer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State of a Session
type State int

const (
	Idle State = iota
	Scanning
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options tune discovery, connection and pacing
type Options struct {
	Names           []string
	ScanTimeout     time.Duration
	ConnectAttempts int
	ChunkSize       int
	ChunkDelay      time.Duration
	OnNotify        func([]byte)
}

// DefaultOptions returns the values known to work with the GB/GT family
func DefaultOptions() Options {
	return Options{
		Names:           Names,
		ScanTimeout:     DefaultScanTimeout,
		ConnectAttempts: DefaultConnectAttempts,
		ChunkSize:       DefaultChunkSize,
		ChunkDelay:      DefaultChunkDelay,
	}
}

// Session owns at most one connection to one printer. It is single use:
// once opened it can never be opened again, build a new one instead.
type Session struct {
	transport Transport
	opts      Options

	mu     sync.Mutex
	state  State
	used   bool
	device Device
	link   Link

	// connecting is set while Connect runs; dropped records a disconnect
	// reported before the link was handed back
	connecting bool
	dropped    bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewSession creates an idle session
func NewSession(t Transport, opts Options) *Session {
	if opts.ConnectAttempts < 1 {
		opts.ConnectAttempts = DefaultConnectAttempts
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = DefaultChunkSize
	}
	if len(opts.Names) == 0 {
		opts.Names = Names
	}
	return &Session{
		transport: t,
		opts:      opts,
		done:      make(chan struct{}),
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Device returns the printer found by Scan
func (s *Session) Device() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Done is closed once the connection is gone, whether the device dropped it
// or Close was called.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Open scans for a printer and connects to it
func (s *Session) Open(ctx context.Context) error {
	dev, err := s.Scan(ctx)
	if err != nil {
		return err
	}
	return s.Connect(ctx, dev)
}

// Scan listens for advertisements until one of the configured names shows up
// or the scan timeout passes.
func (s *Session) Scan(ctx context.Context) (Device, error) {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return Device{}, ErrSessionClosed
	}
	s.used = true
	s.state = Scanning
	s.mu.Unlock()

	log.Debug().Strs("names", s.opts.Names).Dur("timeout", s.opts.ScanTimeout).Msg("scanning for printer")

	scanCtx := ctx
	if s.opts.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, s.opts.ScanTimeout)
		defer cancel()
	}

	dev, err := s.transport.Scan(scanCtx, s.opts.Names)
	if err != nil {
		s.setState(Idle)
		if ctx.Err() != nil {
			return Device{}, ctx.Err()
		}
		if errors.Is(err, ErrDeviceNotFound) || errors.Is(err, context.DeadlineExceeded) {
			return Device{}, fmt.Errorf("%w: none of %v seen within %s", ErrDeviceNotFound, s.opts.Names, s.opts.ScanTimeout)
		}
		return Device{}, fmt.Errorf("scan: %w", err)
	}

	s.mu.Lock()
	s.device = dev
	s.mu.Unlock()

	log.Info().Str("name", dev.Name).Str("address", dev.Address).Msg("found printer")
	return dev, nil
}

// Connect tries up to ConnectAttempts times, back to back, and subscribes to
// device notifications on success.
func (s *Session) Connect(ctx context.Context, dev Device) error {
	s.mu.Lock()
	if s.state == Connected || s.state == Disconnected || s.closed() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.used = true
	s.device = dev
	s.connecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	h := Handlers{OnNotify: s.notify, OnDisconnect: s.lost}
	attempts := s.opts.ConnectAttempts

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			s.setState(Idle)
			return err
		}

		s.mu.Lock()
		s.dropped = false
		s.mu.Unlock()

		link, err := s.transport.Connect(ctx, dev, h)
		if err == nil {
			s.mu.Lock()
			dropped := s.dropped
			if !dropped {
				s.link = link
				s.state = Connected
			}
			s.mu.Unlock()

			if !dropped {
				log.Info().Str("name", dev.Name).Str("address", dev.Address).Int("attempt", attempt).Msg("connected")
				return nil
			}
			if cerr := link.Close(); cerr != nil {
				log.Debug().Err(cerr).Msg("close after early disconnect")
			}
			err = errors.New("disconnected while connecting")
		}

		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Int("of", attempts).Msg("connection attempt failed")
	}

	s.setState(Idle)
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrConnectFailed, dev.Address, attempts, lastErr)
}

// Send writes data in ChunkSize pieces with ChunkDelay between writes
func (s *Session) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	link, state := s.link, s.state
	s.mu.Unlock()
	if state != Connected {
		return fmt.Errorf("%w: %w", ErrTransmissionFailed, ErrNotConnected)
	}

	size := s.opts.ChunkSize
	for off := 0; off < len(data); off += size {
		if off > 0 {
			if err := s.pause(ctx); err != nil {
				return fmt.Errorf("%w: after %d of %d bytes: %w", ErrTransmissionFailed, off, len(data), err)
			}
		}

		select {
		case <-s.done:
			return fmt.Errorf("%w: device disconnected after %d of %d bytes", ErrTransmissionFailed, off, len(data))
		default:
		}

		end := min(off+size, len(data))
		if err := link.Write(data[off:end]); err != nil {
			return fmt.Errorf("%w: write at byte %d: %w", ErrTransmissionFailed, off, err)
		}
	}
	return nil
}

func (s *Session) pause(ctx context.Context) error {
	if s.opts.ChunkDelay <= 0 {
		return nil
	}
	t := time.NewTimer(s.opts.ChunkDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errors.New("device disconnected")
	case <-t.C:
		return nil
	}
}

// Close releases the connection. It is safe to call more than once and on a
// session that never connected.
func (s *Session) Close() error {
	s.mu.Lock()
	link := s.link
	s.link = nil
	s.used = true
	prev := s.state
	s.state = Disconnected
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })

	if link == nil {
		return nil
	}
	log.Debug().Str("address", s.Device().Address).Stringer("from", prev).Msg("disconnecting")
	return link.Close()
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// lost handles a disconnect the device initiated
func (s *Session) lost() {
	s.mu.Lock()
	if s.state != Connected {
		if s.connecting {
			s.dropped = true
		}
		s.mu.Unlock()
		return
	}
	s.state = Idle
	dev := s.device
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })
	log.Warn().Str("name", dev.Name).Str("address", dev.Address).Msg("printer disconnected")
}

func (s *Session) notify(b []byte) {
	log.Debug().Hex("data", b).Msg("notification")
	if s.opts.OnNotify != nil {
		s.opts.OnNotify(b)
	}
}

// WithSession opens a fresh session, runs fn with it and always closes it
func WithSession(ctx context.Context, t Transport, opts Options, fn func(*Session) error) error {
	s := NewSession(t, opts)
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session")
		}
	}()

	if err := s.Open(ctx); err != nil {
		return err
	}
	return fn(s)
}
