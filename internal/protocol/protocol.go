package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/sigurn/crc8"
)

// ErrMalformedInput is returned for input that can never be encoded into a
// valid frame. Resubmitting it fails the same way every time.
var ErrMalformedInput = errors.New("malformed input")

// Command identifies a printer instruction
type Command byte

const (
	FeedPaper         Command = 0xA1 // steps to advance paper
	DrawBitmap        Command = 0xA2 // one row of packed dots
	SetQuality        Command = 0xA4
	SetControlLattice Command = 0xA6 // 11-byte magic data
	SetEnergy         Command = 0xAF // 0x0001 to 0xFFFF
	SetFeedRate       Command = 0xBD
	SetDrawingMode    Command = 0xBE
)

func (c Command) String() string {
	switch c {
	case FeedPaper:
		return "FeedPaper"
	case DrawBitmap:
		return "DrawBitmap"
	case SetQuality:
		return "SetQuality"
	case SetControlLattice:
		return "SetControlLattice"
	case SetEnergy:
		return "SetEnergy"
	case SetFeedRate:
		return "SetFeedRate"
	case SetDrawingMode:
		return "SetDrawingMode"
	}
	return fmt.Sprintf("Command(0x%02X)", byte(c))
}

// FeedRate is the paper speed used for a run of lines
type FeedRate byte

const (
	PrintRate FeedRate = 0x23
	BlankRate FeedRate = 0x19
)

// DrawingMode selects how the firmware treats bitmap rows
type DrawingMode byte

const (
	ImageMode DrawingMode = 0x00
	TextMode  DrawingMode = 0x01
)

// Energy is the heat intensity. Higher values print darker dots.
type Energy uint16

const (
	EnergyLow    Energy = 8000
	EnergyMedium Energy = 12000
	EnergyHigh   Energy = 17500
)

// ParseEnergy maps a config name to an energy level
func ParseEnergy(name string) (Energy, error) {
	switch name {
	case "low":
		return EnergyLow, nil
	case "medium":
		return EnergyMedium, nil
	case "high":
		return EnergyHigh, nil
	}
	return 0, fmt.Errorf("unknown energy %q", name)
}

// Quality is passed through to the device. The vendor app always sends QualityC.
type Quality byte

const (
	QualityA Quality = 0x31
	QualityB Quality = 0x32
	QualityC Quality = 0x33
	QualityD Quality = 0x34
	QualityE Quality = 0x35
)

// Valid reports whether q is one of the known quality values
func (q Quality) Valid() bool {
	return q >= QualityA && q <= QualityE
}

// Lattice tokens sent before and after bitmap data. Opaque device constants.
var (
	LatticeStart  = [11]byte{0xAA, 0x55, 0x17, 0x38, 0x44, 0x5F, 0x5F, 0x5F, 0x44, 0x38, 0x2C}
	LatticeFinish = [11]byte{0xAA, 0x55, 0x17, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x17}
)

const (
	// PrinterWidth is the print head width in dots
	PrinterWidth = 384
	// RowBytes is the size of one packed DrawBitmap payload
	RowBytes = PrinterWidth / 8

	// MaxPayload is the largest payload the single-byte length field can carry
	MaxPayload = 255
	// MaxFeedSteps is the most lines a single FeedPaper frame may advance
	MaxFeedSteps = 0xFF

	// FrameOverhead is the number of non-payload bytes in a frame
	FrameOverhead = 8
)

// Empirical pacing constants used to estimate how long the device is busy.
const (
	PrintLineDuration = 37200 * time.Microsecond
	FeedLineDuration  = 20 * time.Millisecond
)

var (
	magic      = [2]byte{0x51, 0x78}
	terminator = byte(0xFF)
	crcTable   = crc8.MakeTable(crc8.CRC8)
)

// Frame is one complete encoded message
type Frame []byte

// Command returns the frame's command id
func (f Frame) Command() Command {
	return Command(f[2])
}

// Payload returns the payload bytes carried by the frame
func (f Frame) Payload() []byte {
	n := int(f[4])
	return f[6 : 6+n]
}

// Checksum computes the CRC-8 (poly 0x07, init 0x00, no reflection) of data
func Checksum(data []byte) byte {
	return crc8.Checksum(data, crcTable)
}

// Encode builds a frame:
//
//	0x51 0x78 cmd 0x00 len 0x00 payload... crc8(payload) 0xFF
func Encode(cmd Command, payload []byte) (Frame, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %s payload is %d bytes, limit %d", ErrMalformedInput, cmd, len(payload), MaxPayload)
	}

	f := make(Frame, 0, len(payload)+FrameOverhead)
	f = append(f, magic[0], magic[1], byte(cmd), 0x00, byte(len(payload)), 0x00)
	f = append(f, payload...)
	f = append(f, Checksum(payload), terminator)
	return f, nil
}

// MustEncode is Encode for payloads known at compile time to fit
func MustEncode(cmd Command, payload []byte) Frame {
	f, err := Encode(cmd, payload)
	if err != nil {
		panic(err)
	}
	return f
}

// Decode splits a stream back into frames. It is used to inspect streams, the
// device itself never sends frames in this format.
func Decode(data []byte) ([]Frame, error) {
	var frames []Frame
	for len(data) > 0 {
		if len(data) < FrameOverhead {
			return frames, fmt.Errorf("%w: truncated frame (%d bytes)", ErrMalformedInput, len(data))
		}
		if data[0] != magic[0] || data[1] != magic[1] {
			return frames, fmt.Errorf("%w: bad magic % x", ErrMalformedInput, data[:2])
		}
		n := int(data[4]) + FrameOverhead
		if len(data) < n {
			return frames, fmt.Errorf("%w: frame needs %d bytes, have %d", ErrMalformedInput, n, len(data))
		}
		f := Frame(data[:n])
		if f[n-1] != terminator {
			return frames, fmt.Errorf("%w: bad terminator 0x%02X", ErrMalformedInput, f[n-1])
		}
		if sum := Checksum(f.Payload()); sum != f[n-2] {
			return frames, fmt.Errorf("%w: checksum 0x%02X, want 0x%02X", ErrMalformedInput, f[n-2], sum)
		}
		frames = append(frames, f)
		data = data[n:]
	}
	return frames, nil
}
