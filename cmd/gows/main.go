package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/rs/zerolog"

	"github.com/tzrikka/gows/internal/logger"
	"github.com/tzrikka/gows/pkg/metrics"
	"github.com/tzrikka/gows/pkg/websocket"
	"github.com/tzrikka/xdg"
)

const (
	ConfigDirName  = "gows"
	ConfigFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "gows",
		Usage:   "server-side WebSocket (RFC 6455) engine",
		Version: bi.Main.Version,
		Flags:   rootFlags(),
		Action:  run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func rootFlags() []cli.Flag {
	fs := []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "simple setup, but unsafe for production",
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
	}
	return append(fs, flags(configFile())...)
}

// configFile returns the path to the app's configuration file. It also
// creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		logger.FatalError("failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

func run(ctx context.Context, cmd *cli.Command) error {
	devMode := cmd.Bool("dev") || cmd.Bool("pretty-log")
	zl := newZerologLogger(devMode)
	initSlog(devMode)

	cfg := websocket.Config{
		Addr:           cmd.String("addr"),
		ReadBufferSize: int(cmd.Int("read-buffer-size")),
		MaxMessageSize: websocket.DefaultMaxMessageSize,
		Compression:    cmd.Bool("compression"),
		ReadTimeout:    cmd.Duration("read-timeout"),
		WriteTimeout:   cmd.Duration("write-timeout"),
	}
	if n := cmd.Int("max-msg-size"); n > 0 {
		cfg.MaxMessageSize = uint64(n)
	}

	counters := metrics.NewCounters(zl)

	srv := websocket.NewServer(cfg.Addr,
		websocket.WithConfig(cfg),
		websocket.WithMetrics(counters),
		websocket.WithLogger(slog.Default()),
	)

	if cmd.Bool("require-bearer-token") {
		srv.OnHandshake(bearerTokenPolicy(cmd.String("jwt-secret")))
	}

	registerDemoCallbacks(srv, zl)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	zl.Info().Str("addr", cfg.Addr).Bool("compression", cfg.Compression).Msg("starting gows server")
	return srv.Listen(ctx)
}

// registerDemoCallbacks wires an echo server: text and binary messages
// are sent back verbatim, pings are answered with a pong, and the
// server completes the closing handshake it's offered.
func registerDemoCallbacks(srv *websocket.Server, zl zerolog.Logger) {
	srv.OnText(func(c *websocket.Client, data []byte) {
		if _, err := c.Text(data); err != nil {
			zl.Warn().Err(err).Str("connection_id", c.ID()).Msg("failed to echo text message")
		}
	})
	srv.OnBinary(func(c *websocket.Client, data []byte) {
		if _, err := c.Binary(data); err != nil {
			zl.Warn().Err(err).Str("connection_id", c.ID()).Msg("failed to echo binary message")
		}
	})
	srv.OnPing(func(c *websocket.Client, _ []byte) {
		if _, err := c.Pong(); err != nil {
			zl.Warn().Err(err).Str("connection_id", c.ID()).Msg("failed to send pong")
		}
	})
	srv.OnClose(func(c *websocket.Client, status websocket.StatusCode, reason string) {
		zl.Info().Str("connection_id", c.ID()).Str("status", status.String()).Str("reason", reason).Msg("peer closing")
		if _, err := c.Close(); err != nil {
			zl.Warn().Err(err).Str("connection_id", c.ID()).Msg("failed to complete closing handshake")
		}
	})
	srv.OnDisconnect(func(c *websocket.Client) {
		zl.Info().Str("connection_id", c.ID()).Msg("connection closed")
	})
	srv.OnError(func(c *websocket.Client, err *websocket.Error) {
		id := ""
		if c != nil {
			id = c.ID()
		}
		zl.Warn().Err(err).Str("connection_id", id).Str("kind", err.Kind.String()).Msg("connection error")
	})
}

func newZerologLogger(devMode bool) zerolog.Logger {
	if devMode {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// initSlog initializes the default [slog] logger used by pkg/websocket.
func initSlog(devMode bool) {
	var handler slog.Handler
	if devMode {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		})
	}

	slog.SetDefault(slog.New(handler))
}
