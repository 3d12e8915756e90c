// Package queue serialises print and feed jobs onto the single printer.
package queue

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"bluecat/internal/printer"
	"bluecat/internal/protocol"
)

var (
	ErrQueueClosed = errors.New("queue closed")
	ErrUnknownJob  = errors.New("unknown job kind")
)

// Kind tags what a Job does
type Kind int

const (
	PrintJob Kind = iota // print an image file, then feed the padding
	FeedJob              // feed blank paper
	TextJob              // render text, then feed the padding
)

func (k Kind) String() string {
	switch k {
	case PrintJob:
		return "print"
	case FeedJob:
		return "feed"
	case TextJob:
		return "text"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Job is one unit of work for the printer
type Job struct {
	ID       uuid.UUID
	Kind     Kind
	Path     string // source image for PrintJob, removed once the job is done
	Text     string // body of a TextJob
	Attempts int
	Created  time.Time
}

// NewPrint prints the image stored at path
func NewPrint(path string) Job {
	return Job{ID: uuid.New(), Kind: PrintJob, Path: path, Created: time.Now()}
}

// NewFeed feeds the configured number of blank lines
func NewFeed() Job {
	return Job{ID: uuid.New(), Kind: FeedJob, Created: time.Now()}
}

// NewText prints text rendered with the built-in font
func NewText(text string) Job {
	return Job{ID: uuid.New(), Kind: TextJob, Text: text, Created: time.Now()}
}

// Retryable reports whether a failed job should go back on the queue.
// Printer failures are transient whatever caused them; input that cannot be
// encoded or a source file that no longer exists will fail identically.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, printer.ErrDeviceNotFound),
		errors.Is(err, printer.ErrConnectFailed),
		errors.Is(err, printer.ErrTransmissionFailed):
		return true
	case errors.Is(err, protocol.ErrMalformedInput),
		errors.Is(err, ErrUnknownJob),
		errors.Is(err, fs.ErrNotExist):
		return false
	}
	return true
}
