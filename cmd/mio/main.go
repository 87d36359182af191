// Command mio is a terminal client for the voice agent service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/koscakluka/ema-client/internal/config"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mio:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	printSchema := flag.Bool("config-schema", false, "print the JSON schema of the config file and exit")
	flag.Parse()

	if *printSchema {
		schema, err := config.Schema()
		if err != nil {
			return fmt.Errorf("build config schema: %w", err)
		}
		fmt.Println(string(schema))
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	shutdownLogging, err := setupLogging(logFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer shutdownLogging(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	return client.Run(ctx)
}

// setupLogging sends slog, the standard logger and the OpenTelemetry logs of
// the core packages to w, as the terminal belongs to the UI.
func setupLogging(w io.Writer, levelName string) (func(context.Context) error, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		level = slog.LevelInfo
	}

	provider, err := newLoggerProvider(w, level)
	if err != nil {
		return nil, err
	}
	global.SetLoggerProvider(provider)

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	log.SetOutput(w)

	return provider.Shutdown, nil
}

func newLoggerProvider(w io.Writer, level slog.Level) (*sdklog.LoggerProvider, error) {
	exporter, err := stdoutlog.New(stdoutlog.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create log exporter: %w", err)
	}

	processor := severityFilter{
		Processor: sdklog.NewSimpleProcessor(exporter),
		min:       otellog.Severity(level + 9),
	}
	return sdklog.NewLoggerProvider(sdklog.WithProcessor(processor)), nil
}

// severityFilter drops records below min. slog levels map onto severities
// with an offset of 9, the same mapping the slog bridge uses.
type severityFilter struct {
	sdklog.Processor
	min otellog.Severity
}

func (f severityFilter) OnEmit(ctx context.Context, record *sdklog.Record) error {
	if record.Severity() < f.min {
		return nil
	}
	return f.Processor.OnEmit(ctx, record)
}
