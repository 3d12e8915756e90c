package protocol

import (
	"encoding/binary"
	"time"
)

// Stream is an ordered run of frames plus the estimated time the device needs
// to act on them. The estimate is only used for client-side pacing.
type Stream struct {
	Data     []byte
	Duration time.Duration
}

// Builder accumulates frames into a Stream. The first encoding error sticks
// and every later call becomes a no-op.
type Builder struct {
	data     []byte
	duration time.Duration
	err      error
}

func New() *Builder {
	return &Builder{}
}

// Frame appends an arbitrary frame
func (b *Builder) Frame(cmd Command, payload ...byte) *Builder {
	if b.err != nil {
		return b
	}
	f, err := Encode(cmd, payload)
	if err != nil {
		b.err = err
		return b
	}
	b.data = append(b.data, f...)
	return b
}

// DrawingMode selects image or text rendering
func (b *Builder) DrawingMode(m DrawingMode) *Builder {
	return b.Frame(SetDrawingMode, byte(m))
}

// Energy sets print darkness, sent as a little-endian uint16
func (b *Builder) Energy(e Energy) *Builder {
	return b.Frame(SetEnergy, binary.LittleEndian.AppendUint16(nil, uint16(e))...)
}

// Quality sets the pass-through quality byte
func (b *Builder) Quality(q Quality) *Builder {
	return b.Frame(SetQuality, byte(q))
}

// FeedRate sets paper speed for the following lines
func (b *Builder) FeedRate(r FeedRate) *Builder {
	return b.Frame(SetFeedRate, byte(r))
}

// Lattice sends one of the lattice tokens
func (b *Builder) Lattice(l [11]byte) *Builder {
	return b.Frame(SetControlLattice, l[:]...)
}

// Bitmap appends one packed row and accounts for its print time
func (b *Builder) Bitmap(row []byte) *Builder {
	b.Frame(DrawBitmap, row...)
	if b.err == nil {
		b.duration += PrintLineDuration
	}
	return b
}

// Feed advances blank paper. The feed rate frame is always emitted, even for
// zero lines; FeedPaper frames carry at most MaxFeedSteps each.
func (b *Builder) Feed(lines uint32) *Builder {
	b.FeedRate(BlankRate)
	for remaining := lines; remaining > 0 && b.err == nil; {
		step := min(remaining, MaxFeedSteps)
		b.Frame(FeedPaper, binary.LittleEndian.AppendUint16(nil, uint16(step))...)
		remaining -= step
	}
	if b.err == nil {
		b.duration += time.Duration(lines) * FeedLineDuration
	}
	return b
}

// Append concatenates an already built stream
func (b *Builder) Append(s Stream) *Builder {
	if b.err != nil {
		return b
	}
	b.data = append(b.data, s.Data...)
	b.duration += s.Duration
	return b
}

// Err returns the first error encountered
func (b *Builder) Err() error {
	return b.err
}

// Stream returns the accumulated frames
func (b *Builder) Stream() (Stream, error) {
	if b.err != nil {
		return Stream{}, b.err
	}
	return Stream{Data: b.data, Duration: b.duration}, nil
}

// Feed encodes a blank-paper feed of the given number of lines
func Feed(lines uint32) Stream {
	s, _ := New().Feed(lines).Stream()
	return s
}
