// Package printertest provides an in-memory printer.Transport for tests.
package printertest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"bluecat/internal/printer"
)

// Transport records everything sent to it. The zero value advertises as a
// GB02 and accepts every connection.
type Transport struct {
	// Device is what Scan reports; Name must be among the scanned names
	Device printer.Device
	// ConnectFailures makes that many leading Connect calls fail
	ConnectFailures int
	// ConnectErr is what failing Connect calls return, connection refused
	// when nil
	ConnectErr error
	// DropOnConnect makes that many Connect calls after the failures report
	// a disconnect before returning their link
	DropOnConnect int
	// WriteErr fails every write when set
	WriteErr error
	// OnWrite is called with each chunk after it is recorded
	OnWrite func(chunk []byte)

	mu       sync.Mutex
	scans    int
	connects int
	closes   int
	writes   [][]byte
	handlers printer.Handlers
}

var errRefused = errors.New("connection refused")

func (t *Transport) device() printer.Device {
	if t.Device.Name == "" {
		return printer.Device{Name: "GB02", Address: "AA:BB:CC:DD:EE:FF"}
	}
	return t.Device
}

// Scan blocks until ctx is done unless the device name is wanted
func (t *Transport) Scan(ctx context.Context, names []string) (printer.Device, error) {
	t.mu.Lock()
	t.scans++
	dev := t.device()
	t.mu.Unlock()

	if slices.Contains(names, dev.Name) {
		return dev, nil
	}
	<-ctx.Done()
	return printer.Device{}, fmt.Errorf("%w: %w", printer.ErrDeviceNotFound, ctx.Err())
}

// Connect fails ConnectFailures times, then hands out links
func (t *Transport) Connect(_ context.Context, _ printer.Device, h printer.Handlers) (printer.Link, error) {
	t.mu.Lock()
	t.connects++
	n := t.connects
	if n <= t.ConnectFailures {
		err := t.ConnectErr
		t.mu.Unlock()
		if err == nil {
			err = errRefused
		}
		return nil, err
	}
	t.handlers = h
	t.mu.Unlock()

	if n <= t.ConnectFailures+t.DropOnConnect && h.OnDisconnect != nil {
		h.OnDisconnect()
	}
	return &link{t: t}, nil
}

// Scans returns how many scans ran
func (t *Transport) Scans() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scans
}

// Connects returns how many connection attempts were made
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Closes returns how many links were closed
func (t *Transport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// Writes returns every chunk in order
func (t *Transport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.writes)
}

// Sent returns all written bytes joined
func (t *Transport) Sent() []byte {
	var out []byte
	for _, w := range t.Writes() {
		out = append(out, w...)
	}
	return out
}

// Notify delivers a device notification on the current link
func (t *Transport) Notify(b []byte) {
	t.mu.Lock()
	fn := t.handlers.OnNotify
	t.mu.Unlock()
	if fn != nil {
		fn(b)
	}
}

// Drop simulates the printer ending the connection
func (t *Transport) Drop() {
	t.mu.Lock()
	fn := t.handlers.OnDisconnect
	t.handlers = printer.Handlers{}
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type link struct {
	t *Transport
}

func (l *link) Write(p []byte) error {
	l.t.mu.Lock()
	if l.t.WriteErr != nil {
		err := l.t.WriteErr
		l.t.mu.Unlock()
		return err
	}
	chunk := slices.Clone(p)
	l.t.writes = append(l.t.writes, chunk)
	hook := l.t.OnWrite
	l.t.mu.Unlock()

	if hook != nil {
		hook(chunk)
	}
	return nil
}

func (l *link) Close() error {
	l.t.mu.Lock()
	l.t.closes++
	l.t.handlers = printer.Handlers{}
	l.t.mu.Unlock()
	return nil
}
