package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"

	"bluecat/internal/config"
	"bluecat/internal/events"
	"bluecat/internal/printer"
	"bluecat/internal/queue"
	"bluecat/internal/server"
)

const (
	AppVersion = "0.1.0"
	AppName    = "bluecat"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [-config file] [command]

Commands:
  serve            accept jobs over HTTP and print them (default)
  print FILE       print an image once and exit
  text WORDS...    print text once and exit
  feed [LINES]     feed blank paper once and exit
  version          show the version

Flags:
`, AppName)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "config file, read after the user and working directory configs")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := "serve", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		err = serve(ctx, cfg)
	case "print", "text", "feed":
		err = once(ctx, cfg, cmd, args)
	case "version":
		fmt.Printf("%s %s\n", AppName, AppVersion)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Str("command", cmd).Msg("failed")
	}
}

func setupLogging(cfg config.LogConfig) {
	level, _ := zerolog.ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	if level > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
}

func newTransport(cfg config.PrinterConfig) printer.Transport {
	if cfg.Transport == config.TransportSerial {
		return printer.NewSerial(cfg.SerialPort, cfg.BaudRate)
	}
	return printer.NewBLE(bluetooth.DefaultAdapter)
}

func workerConfig(cfg *config.Config) queue.Config {
	return queue.Config{
		Transport:    newTransport(cfg.Printer),
		Session:      cfg.Session(),
		Args:         cfg.PrintArgs(),
		IdleInterval: cfg.Worker.IdleInterval,
		RetryDelay:   cfg.Worker.RetryDelay,
	}
}

// serve runs the worker and HTTP server until ctx is cancelled
func serve(ctx context.Context, cfg *config.Config) error {
	log.Info().Str("version", AppVersion).Str("transport", cfg.Printer.Transport).Msg("starting " + AppName)

	wc := workerConfig(cfg)

	var q *queue.Queue
	if cfg.MQTT.Broker != "" {
		pub := events.New(cfg.MQTT)
		if err := pub.Start(); err != nil {
			return err
		}
		defer pub.Stop()

		wc.Session.OnNotify = pub.Notification
		q = queue.New(pub)
	} else {
		q = queue.New(nil)
	}

	srv, err := server.New(q, cfg.Server)
	if err != nil {
		return err
	}
	srv.Start()

	done := make(chan error, 1)
	go func() { done <- queue.NewWorker(q, wc).Run(ctx) }()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	srv.Stop()
	q.Close()
	err = <-done

	if n := q.Len(); n > 0 {
		log.Warn().Int("jobs", n).Str("spool", cfg.Server.SpoolDir).Msg("jobs left unprinted")
	}
	return err
}

// once prints a single job straight from the command line
func once(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	var job queue.Job

	switch cmd {
	case "print":
		if len(args) != 1 {
			return errors.New("print needs exactly one image file")
		}
		job = queue.NewPrint(args[0])
	case "text":
		job = queue.NewText(strings.Join(args, " "))
	case "feed":
		job = queue.NewFeed()
		if len(args) > 0 {
			n, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("feed lines: %w", err)
			}
			cfg.Print.FeedLines = uint32(n)
		}
	}

	w := queue.NewWorker(nil, workerConfig(cfg))
	if err := w.Do(ctx, job); err != nil {
		return err
	}
	log.Info().Stringer("kind", job.Kind).Msg("done")
	return nil
}
