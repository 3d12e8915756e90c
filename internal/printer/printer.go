package printer

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrDeviceNotFound     = errors.New("no printer found")
	ErrConnectFailed      = errors.New("failed to connect to printer")
	ErrTransmissionFailed = errors.New("failed to send to printer")
	ErrNotConnected       = errors.New("printer not connected")
	ErrSessionClosed      = errors.New("session already used")
)

// Names advertised by this printer family
var Names = []string{"GT01", "GB01", "GB02", "GB03"}

// GATT endpoints of the printer service
const (
	ServiceUUID = "0000AE30-0000-1000-8000-00805F9B34FB"
	WriteUUID   = "0000AE01-0000-1000-8000-00805F9B34FB" // frames, write without response
	NotifyUUID  = "0000AE02-0000-1000-8000-00805F9B34FB" // opaque status notifications
)

const (
	DefaultScanTimeout     = 15 * time.Second
	DefaultConnectAttempts = 5
	// DefaultChunkSize is the practical write-without-response limit of the link
	DefaultChunkSize = 60
	// DefaultChunkDelay keeps the device input buffer from overrunning
	DefaultChunkDelay = 10 * time.Millisecond
)

// Device is a discovered printer
type Device struct {
	Name    string
	Address string // MAC or platform UUID for BLE, port path for serial
}

// Handlers receive events that the device initiates
type Handlers struct {
	OnNotify     func([]byte)
	OnDisconnect func()
}

// Transport finds and connects to printers
type Transport interface {
	// Scan returns the first device advertising one of names. It gives up
	// with ErrDeviceNotFound when ctx expires.
	Scan(ctx context.Context, names []string) (Device, error)
	// Connect makes a single connection attempt
	Connect(ctx context.Context, dev Device, h Handlers) (Link, error)
}

// Link is an established connection
type Link interface {
	Write(p []byte) error
	Close() error
}
