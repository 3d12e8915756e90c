package printer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"
)

var (
	serviceUUID = bluetooth.New16BitUUID(0xAE30)
	writeUUID   = bluetooth.New16BitUUID(0xAE01)
	notifyUUID  = bluetooth.New16BitUUID(0xAE02)
)

// BLE talks to printers through the host Bluetooth Low Energy adapter
type BLE struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	mu           sync.Mutex
	seen         map[string]bluetooth.Address
	active       string
	onDisconnect func()
}

// NewBLE wraps adapter, usually bluetooth.DefaultAdapter
func NewBLE(adapter *bluetooth.Adapter) *BLE {
	return &BLE{
		adapter: adapter,
		seen:    make(map[string]bluetooth.Address),
	}
}

func (b *BLE) enable() error {
	b.enableOnce.Do(func() {
		b.adapter.SetConnectHandler(b.connectEvent)
		if err := b.adapter.Enable(); err != nil {
			b.enableErr = fmt.Errorf("enable bluetooth adapter: %w", err)
		}
	})
	return b.enableErr
}

// Scan passively listens for advertisements
func (b *BLE) Scan(ctx context.Context, names []string) (Device, error) {
	if err := b.enable(); err != nil {
		return Device{}, err
	}

	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- b.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if _, ok := want[r.LocalName()]; !ok {
				return
			}
			select {
			case found <- r:
				if err := a.StopScan(); err != nil {
					log.Debug().Err(err).Msg("stop scan")
				}
			default:
			}
		})
	}()

	select {
	case r := <-found:
		<-scanErr
		addr := r.Address.String()
		b.mu.Lock()
		b.seen[addr] = r.Address
		b.mu.Unlock()
		return Device{Name: r.LocalName(), Address: addr}, nil

	case err := <-scanErr:
		if err == nil {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, fmt.Errorf("scan: %w", err)

	case <-ctx.Done():
		if err := b.adapter.StopScan(); err != nil {
			log.Debug().Err(err).Msg("stop scan")
		}
		<-scanErr
		return Device{}, fmt.Errorf("%w: %w", ErrDeviceNotFound, ctx.Err())
	}
}

// Connect connects, resolves the print service and subscribes to notifications
func (b *BLE) Connect(ctx context.Context, dev Device, h Handlers) (Link, error) {
	if err := b.enable(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	addr, ok := b.seen[dev.Address]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("device %s has not been scanned", dev.Address)
	}

	d, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}

	write, notify, err := discover(d)
	if err != nil {
		if derr := d.Disconnect(); derr != nil {
			log.Debug().Err(derr).Str("address", dev.Address).Msg("disconnect after failed discovery")
		}
		return nil, err
	}

	if h.OnNotify != nil {
		if err := notify.EnableNotifications(h.OnNotify); err != nil {
			// some firmware revisions refuse the subscription but still print
			log.Warn().Err(err).Str("address", dev.Address).Msg("notifications unavailable")
		}
	}

	b.mu.Lock()
	b.active = dev.Address
	b.onDisconnect = h.OnDisconnect
	b.mu.Unlock()

	return &bleLink{ble: b, dev: d, chr: write}, nil
}

func discover(d bluetooth.Device) (write, notify bluetooth.DeviceCharacteristic, err error) {
	svcs, err := d.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return write, notify, fmt.Errorf("discover services: %w", err)
	}
	if len(svcs) == 0 {
		return write, notify, fmt.Errorf("service %s not found", ServiceUUID)
	}

	chrs, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{writeUUID, notifyUUID})
	if err != nil {
		return write, notify, fmt.Errorf("discover characteristics: %w", err)
	}
	if len(chrs) < 2 {
		return write, notify, fmt.Errorf("characteristics %s/%s not found", WriteUUID, NotifyUUID)
	}
	return chrs[0], chrs[1], nil
}

// connectEvent is the adapter-wide handler; only the active device matters
func (b *BLE) connectEvent(d bluetooth.Device, connected bool) {
	if connected {
		return
	}

	b.mu.Lock()
	if d.Address.String() != b.active {
		b.mu.Unlock()
		return
	}
	fn := b.onDisconnect
	b.active = ""
	b.onDisconnect = nil
	b.mu.Unlock()

	if fn != nil {
		fn()
	}
}

type bleLink struct {
	ble *BLE
	dev bluetooth.Device
	chr bluetooth.DeviceCharacteristic
}

func (l *bleLink) Write(p []byte) error {
	_, err := l.chr.WriteWithoutResponse(p)
	return err
}

func (l *bleLink) Close() error {
	l.ble.mu.Lock()
	l.ble.active = ""
	l.ble.onDisconnect = nil
	l.ble.mu.Unlock()

	return l.dev.Disconnect()
}
