package queue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"bluecat/internal/imaging"
	"bluecat/internal/printer"
	"bluecat/internal/protocol"
)

const (
	DefaultIdleInterval = 100 * time.Millisecond
	DefaultRetryDelay   = 5 * time.Second
	DefaultPadding      = 40
	DefaultFeedLines    = 80
)

// PrintArgs are applied to every job the worker builds
type PrintArgs struct {
	Padding   uint32 // blank lines fed after an image or text
	FeedLines uint32 // lines fed by a FeedJob
	Image     imaging.Options
	Text      imaging.TextOptions
}

// DefaultPrintArgs prints dark with room to tear the paper off
func DefaultPrintArgs() PrintArgs {
	img := imaging.DefaultOptions()
	img.Energy = protocol.EnergyHigh
	return PrintArgs{
		Padding:   DefaultPadding,
		FeedLines: DefaultFeedLines,
		Image:     img,
		Text:      imaging.DefaultTextOptions(),
	}
}

// Config wires a Worker to its printer
type Config struct {
	Transport    printer.Transport
	Session      printer.Options
	Args         PrintArgs
	IdleInterval time.Duration
	RetryDelay   time.Duration
}

// Worker is the only consumer of a Queue and the only owner of a printer
// session. Jobs run one at a time, end to end, in queue order.
type Worker struct {
	queue *Queue
	cfg   Config
}

// NewWorker creates a worker; zero durations get defaults
func NewWorker(q *Queue, cfg Config) *Worker {
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Worker{queue: q, cfg: cfg}
}

// Run processes jobs until ctx is cancelled. A job interrupted by
// cancellation goes back on the queue.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Msg("print worker started")
	defer log.Info().Msg("print worker stopped")

	for {
		job, ok := w.queue.TryPop()
		if !ok {
			if err := w.idle(ctx); err != nil {
				return err
			}
			continue
		}

		job.Attempts++
		lg := log.With().Str("job", job.ID.String()).Stringer("kind", job.Kind).Int("attempt", job.Attempts).Logger()
		w.queue.publish(job, StateStarted, nil)

		err := w.Do(ctx, job)
		switch {
		case err == nil:
			lg.Info().Msg("job complete")
			w.cleanup(job)
			w.queue.publish(job, StateCompleted, nil)

		case ctx.Err() != nil:
			lg.Warn().Err(err).Msg("job interrupted by shutdown")
			w.queue.requeue(job, err)
			return ctx.Err()

		case !Retryable(err):
			lg.Error().Err(err).Msg("dropping job")
			w.cleanup(job)
			w.queue.publish(job, StateDropped, err)

		default:
			lg.Warn().Err(err).Dur("retry_in", w.cfg.RetryDelay).Msg("job failed, requeueing")
			w.queue.requeue(job, err)
			if err := sleep(ctx, w.cfg.RetryDelay); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) idle(ctx context.Context) error {
	t := time.NewTimer(w.cfg.IdleInterval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.queue.Ready():
	case <-t.C:
	}
	return nil
}

// Do sends one job on a fresh session and holds the session until the
// printer should have finished, since the device never reports completion.
// The job's source file is left alone.
func (w *Worker) Do(ctx context.Context, job Job) error {
	stream, err := w.Build(job)
	if err != nil {
		return err
	}

	return printer.WithSession(ctx, w.cfg.Transport, w.cfg.Session, func(s *printer.Session) error {
		start := time.Now()
		log.Info().
			Str("job", job.ID.String()).
			Str("size", humanize.Bytes(uint64(len(stream.Data)))).
			Dur("estimate", stream.Duration).
			Msg("sending")

		if err := s.Send(ctx, stream.Data); err != nil {
			return err
		}

		log.Debug().Str("job", job.ID.String()).Msg("waiting for print to complete")
		if err := sleep(ctx, time.Until(start.Add(stream.Duration))); err != nil {
			// everything was delivered; resending would print it twice
			log.Warn().Str("job", job.ID.String()).Msg("stopped waiting for printer")
		}
		return nil
	})
}

// Build encodes a job into the bytes sent to the printer
func (w *Worker) Build(job Job) (protocol.Stream, error) {
	args := w.cfg.Args

	switch job.Kind {
	case PrintJob:
		img, err := imaging.LoadImage(job.Path)
		if err != nil {
			return protocol.Stream{}, err
		}
		s, err := imaging.Rasterize(img, args.Image)
		if err != nil {
			return protocol.Stream{}, err
		}
		return protocol.New().Append(s).Feed(args.Padding).Stream()

	case TextJob:
		img, err := imaging.RenderText(job.Text, args.Text)
		if err != nil {
			return protocol.Stream{}, err
		}
		opts := args.Image
		opts.Mode = protocol.TextMode
		s, err := imaging.Rasterize(img, opts)
		if err != nil {
			return protocol.Stream{}, err
		}
		return protocol.New().Append(s).Feed(args.Padding).Stream()

	case FeedJob:
		return protocol.Feed(args.FeedLines), nil
	}

	return protocol.Stream{}, fmt.Errorf("%w: %v", ErrUnknownJob, job.Kind)
}

func (w *Worker) cleanup(job Job) {
	if job.Path == "" {
		return
	}
	if err := os.Remove(job.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", job.Path).Msg("failed to remove job file")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
