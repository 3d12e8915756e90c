// Package config loads the daemon settings from TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"

	"bluecat/internal/imaging"
	"bluecat/internal/printer"
	"bluecat/internal/protocol"
	"bluecat/internal/queue"
)

const appName = "bluecat"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Printer PrinterConfig `koanf:"printer"`
	Print   PrintConfig   `koanf:"print"`
	Worker  WorkerConfig  `koanf:"worker"`
	Server  ServerConfig  `koanf:"server"`
	MQTT    MQTTConfig    `koanf:"mqtt"`
	Log     LogConfig     `koanf:"log"`
}

// PrinterConfig selects and tunes the link to the device.
type PrinterConfig struct {
	Names           []string      `koanf:"names"`     // advertised names accepted during discovery
	Transport       string        `koanf:"transport"` // "ble" or "serial"
	SerialPort      string        `koanf:"serial_port"`
	BaudRate        int           `koanf:"baud_rate"`
	ScanTimeout     time.Duration `koanf:"scan_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	ChunkSize       int           `koanf:"chunk_size"`
	ChunkDelay      time.Duration `koanf:"chunk_delay"`
}

type PrintConfig struct {
	Padding   uint32  `koanf:"padding"` // blank lines after each image
	Energy    string  `koanf:"energy"`  // "low", "medium" or "high"
	Quality   int     `koanf:"quality"` // 0x31..0x35
	FeedLines uint32  `koanf:"feed_lines"`
	FontSize  float64 `koanf:"font_size"`
}

type WorkerConfig struct {
	IdleInterval time.Duration `koanf:"idle_interval"`
	RetryDelay   time.Duration `koanf:"retry_delay"`
}

type ServerConfig struct {
	Address   string `koanf:"address"`
	SpoolDir  string `koanf:"spool_dir"`
	MaxUpload int64  `koanf:"max_upload"` // bytes
}

// MQTTConfig enables event publishing when Broker is set
type MQTTConfig struct {
	Broker   string `koanf:"broker"` // e.g. "tcp://localhost:1883"
	ClientID string `koanf:"client_id"`
	Topic    string `koanf:"topic"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

const (
	TransportBLE    = "ble"
	TransportSerial = "serial"
)

// Default returns the settings used when no file overrides them
func Default() Config {
	return Config{
		Printer: PrinterConfig{
			Names:           append([]string(nil), printer.Names...),
			Transport:       TransportBLE,
			BaudRate:        115200,
			ScanTimeout:     printer.DefaultScanTimeout,
			ConnectAttempts: printer.DefaultConnectAttempts,
			ChunkSize:       printer.DefaultChunkSize,
			ChunkDelay:      printer.DefaultChunkDelay,
		},
		Print: PrintConfig{
			Padding:   queue.DefaultPadding,
			Energy:    "high",
			Quality:   int(protocol.QualityC),
			FeedLines: queue.DefaultFeedLines,
			FontSize:  imaging.DefaultFontSize,
		},
		Worker: WorkerConfig{
			IdleInterval: queue.DefaultIdleInterval,
			RetryDelay:   queue.DefaultRetryDelay,
		},
		Server: ServerConfig{
			Address:   ":8080",
			SpoolDir:  filepath.Join(xdg.CacheHome, appName, "spool"),
			MaxUpload: 10 << 20,
		},
		MQTT: MQTTConfig{
			ClientID: appName,
			Topic:    appName,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads every config file that exists, in order of priority (last
// wins): the user config dir, ./config.toml, then explicit. An explicit path
// that does not exist is an error.
func Load(explicit string) (*Config, error) {
	paths := searchPaths()
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, err
		}
	}
	return loadFiles(append(paths, explicit)...)
}

func searchPaths() []string {
	return []string{
		filepath.Join(xdg.ConfigHome, appName, "config.toml"),
		"config.toml",
	}
}

func loadFiles(paths ...string) (*Config, error) {
	k := koanf.New(".")

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	cfg := Default()
	// decoding into a non-empty slice overwrites element-wise
	cfg.Printer.Names = nil
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	def := Default()

	if len(c.Printer.Names) == 0 {
		c.Printer.Names = def.Printer.Names
	}
	c.Printer.Transport = strings.ToLower(strings.TrimSpace(c.Printer.Transport))
	if c.Printer.Transport == "" {
		c.Printer.Transport = def.Printer.Transport
	}
	if c.Printer.BaudRate <= 0 {
		c.Printer.BaudRate = def.Printer.BaudRate
	}
	if c.Printer.ScanTimeout <= 0 {
		c.Printer.ScanTimeout = def.Printer.ScanTimeout
	}
	if c.Print.Energy == "" {
		c.Print.Energy = def.Print.Energy
	}
	if c.Print.FontSize <= 0 {
		c.Print.FontSize = def.Print.FontSize
	}
	if c.Worker.IdleInterval <= 0 {
		c.Worker.IdleInterval = def.Worker.IdleInterval
	}
	if c.Worker.RetryDelay <= 0 {
		c.Worker.RetryDelay = def.Worker.RetryDelay
	}
	if c.Server.Address == "" {
		c.Server.Address = def.Server.Address
	}
	if c.Server.SpoolDir == "" {
		c.Server.SpoolDir = def.Server.SpoolDir
	}
	c.Server.SpoolDir = expandPath(c.Server.SpoolDir)
	if c.Server.MaxUpload <= 0 {
		c.Server.MaxUpload = def.Server.MaxUpload
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = def.MQTT.Topic
	}
	c.MQTT.Topic = strings.TrimSuffix(c.MQTT.Topic, "/")
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// Validate rejects settings the printer or daemon cannot use
func (c *Config) Validate() error {
	switch c.Printer.Transport {
	case TransportBLE:
	case TransportSerial:
		if c.Printer.SerialPort == "" {
			return fmt.Errorf("%w: serial transport needs printer.serial_port", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Printer.Transport)
	}
	if c.Printer.ChunkSize < 1 || c.Printer.ChunkSize > 512 {
		return fmt.Errorf("%w: chunk_size %d outside 1..512", ErrInvalid, c.Printer.ChunkSize)
	}
	if c.Printer.ChunkDelay <= 0 {
		return fmt.Errorf("%w: chunk_delay must be positive, the printer drops data sent back to back", ErrInvalid)
	}
	if c.Printer.ConnectAttempts < 1 {
		return fmt.Errorf("%w: connect_attempts must be at least 1", ErrInvalid)
	}
	if _, err := protocol.ParseEnergy(c.Print.Energy); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Print.Quality < 0 || c.Print.Quality > 0xFF || !protocol.Quality(c.Print.Quality).Valid() {
		return fmt.Errorf("%w: quality %#x outside 0x31..0x35", ErrInvalid, c.Print.Quality)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log level: %w", ErrInvalid, err)
	}
	return nil
}

// Session returns the device session options
func (c *Config) Session() printer.Options {
	opts := printer.DefaultOptions()
	opts.Names = c.Printer.Names
	opts.ScanTimeout = c.Printer.ScanTimeout
	opts.ConnectAttempts = c.Printer.ConnectAttempts
	opts.ChunkSize = c.Printer.ChunkSize
	opts.ChunkDelay = c.Printer.ChunkDelay
	return opts
}

// PrintArgs returns the per-job rendering settings. Call after Validate.
func (c *Config) PrintArgs() queue.PrintArgs {
	args := queue.DefaultPrintArgs()
	args.Padding = c.Print.Padding
	args.FeedLines = c.Print.FeedLines
	args.Image.Energy, _ = protocol.ParseEnergy(c.Print.Energy)
	args.Image.Quality = protocol.Quality(c.Print.Quality)
	args.Text.FontSize = c.Print.FontSize
	return args
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
