// Package main provides a command line scanner: it reads frames from a directory (or takes a
// code typed by the user), resolves the barcode against a PureScan server and prints the product.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/purescanapp/purescan-server/internal/camera"
	"github.com/purescanapp/purescan-server/internal/config"
	"github.com/purescanapp/purescan-server/internal/domain"
	"github.com/purescanapp/purescan-server/internal/logger"
	"github.com/purescanapp/purescan-server/internal/lookup"
	"github.com/purescanapp/purescan-server/internal/scan"
)

func main() {
	os.Exit(run())
}

func run() int {
	dir := flag.String("dir", "", "Directory of frames to scan")
	live := flag.Bool("live", false, "Keep watching the frame directory for new images")
	loop := flag.Bool("loop", true, "Replay the frame directory until a code is accepted")
	code := flag.String("code", "", "Resolve this barcode instead of scanning")
	timeout := flag.Duration("timeout", time.Minute, "Give up after this long")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 2
	}
	if *dir == "" && *code == "" {
		fmt.Fprintln(os.Stderr, "Either -dir or -code is required")
		return 2
	}

	log := logger.New(logger.Config{
		Writer:      os.Stderr,
		Level:       logger.ParseLevel(cfg.Logger.Level),
		Environment: cfg.App.Environment,
	})

	client, err := lookup.New(lookup.Options{
		BaseURL: cfg.Scanner.LookupURL,
		Logger:  log.Component("lookup"),
	})
	if err != nil {
		log.WithError(err).Error("Invalid lookup URL")
		return 2
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	resolved := make(chan *lookup.Result, 1)
	failed := make(chan error, 1)

	machine := scan.NewMachine(scan.Config{
		Camera: camera.New(camera.Options{
			Dir:           *dir,
			Live:          *live,
			Loop:          *loop,
			FrameInterval: cfg.Scanner.PollInterval,
			Logger:        log.Component("camera"),
		}),
		Fallback:       scan.NewZXingDecoder(),
		Resolver:       client,
		WindowSize:     cfg.Scanner.WindowSize,
		Threshold:      cfg.Scanner.Threshold,
		PreferFallback: cfg.Scanner.PreferFallback,
		Logger:         log.Component("scan"),
		OnStateChange: func(id string, from, to scan.State) {
			log.Debug("Scan state", "session_id", id, "from", from.String(), "to", to.String())
		},
		OnResolved: func(r *lookup.Result) { resolved <- r },
		OnError:    func(err error) { failed <- err },
	})
	defer machine.Stop()

	if *code != "" {
		result, err := machine.Submit(ctx, *code)
		if err != nil {
			return report(log, err)
		}
		printResult(result)
		return 0
	}

	machine.Start(ctx)

	select {
	case result := <-resolved:
		printResult(result)
		return 0
	case err := <-failed:
		return report(log, err)
	case <-ctx.Done():
		return report(log, ctx.Err())
	}
}

func printResult(r *lookup.Result) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(struct {
		Status lookup.Status `json:"status"`
		*domain.Product
	}{
		Status:  r.Status,
		Product: r.Product,
	})
}

// report logs a failed scan and returns the exit code.
func report(log *logger.Logger, err error) int {
	elog := log.WithError(err)
	switch {
	case errors.Is(err, scan.ErrInvalidCode), errors.Is(err, lookup.ErrInvalidBarcode):
		elog.Error("Invalid barcode")
		return 2
	case errors.Is(err, lookup.ErrNotFound):
		elog.WithField("message", lookup.ServerMessage(err)).Error("Product not found")
	case scan.Fatal(err):
		elog.Error("Camera unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		log.Error("No barcode accepted before the timeout")
	default:
		elog.Error("Scan failed")
	}
	return 1
}
