package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"dicomextract/internal/models"
	"dicomextract/pkg/config"
	"dicomextract/pkg/discovery"
	"dicomextract/pkg/extract"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "", "Path to YAML configuration file")
	outputRoot := flag.String("output", "", "Output root directory (overrides config)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	countOnly := flag.Bool("count", false, "Only count DICOM entries in the given archives, without extracting")
	flag.Parse()

	inputs := flag.Args()
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "usage: dicomextract [flags] <zip|file|directory> ...")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *outputRoot != "" {
		cfg.Output.Root = *outputRoot
	}

	logger := newLogger(cfg, *verbose)

	if *countOnly {
		for _, input := range inputs {
			n, err := discovery.CountArchive(input, logger)
			if err != nil {
				logger.Error().Err(err).Str("archive", input).Msg("count failed")
				continue
			}
			fmt.Printf("%s: %d DICOM entries\n", input, n)
		}
		return
	}

	// Cancel cooperatively on interrupt; the pipeline stops between candidates.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := &extract.Params{
		Inputs:          inputs,
		OutputRoot:      cfg.Output.Root,
		Extensions:      cfg.Discovery.Extensions,
		ForceParseLimit: cfg.ForceParseLimitBytes(),
		Logger:          logger,
		Progress: func(frac float64) {
			fmt.Printf("\rProgress: %3.0f%%", frac*100)
		},
	}

	fmt.Println("================================")
	fmt.Println("DICOM EXTRACTOR")
	fmt.Println("================================")
	fmt.Printf("Processing %d input(s)...\n", len(inputs))

	startTime := time.Now()
	extractor := extract.NewExtractor(params)
	result, err := extractor.Run(ctx)
	fmt.Println()

	if err != nil {
		if errors.Is(err, extract.ErrNoContentFound) {
			fmt.Println("No valid DICOM content found in the given inputs.")
			os.Exit(2)
		}
		logger.Error().Err(err).Msg("extraction failed")
		os.Exit(1)
	}

	written, skipped, failed := result.Counts()
	fmt.Printf("\nExtraction completed in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("Images written: %d, skipped: %d, failed: %d\n", written, skipped, failed)

	for _, outcome := range result.Outcomes {
		switch outcome.Status {
		case models.StatusWritten:
			fmt.Printf("  %s -> %s\n", outcome.Source, outcome.OutputPath)
		default:
			fmt.Printf("  %s [%s: %s]\n", outcome.Source, outcome.Status, outcome.Reason)
		}
	}
}

// newLogger builds the run logger from configuration, in console form when
// requested and JSON otherwise.
func newLogger(cfg *config.Config, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level)); err == nil {
		level = parsed
	}
	if verbose {
		level = zerolog.DebugLevel
	}

	var out = os.Stderr
	if cfg.Logging.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger().Level(level)
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(level)
}
