package main

import (
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/gows/pkg/websocket"
)

// flags defines the CLI flags that configure the WebSocket server. These
// flags can also be set using environment variables and the
// application's configuration file, in that order of precedence.
func flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "TCP address to listen on",
			Value: websocket.DefaultAddr,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_ADDR"),
				toml.TOML("gows.addr", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "read-buffer-size",
			Usage: "size of each connection's read buffer, in bytes",
			Value: websocket.DefaultReadBufferSize,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_READ_BUFFER_SIZE"),
				toml.TOML("gows.read_buffer_size", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "max-msg-size",
			Usage: "largest accumulated message size accepted, in bytes (0 means the built-in default)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_MAX_MSG_SIZE"),
				toml.TOML("gows.max_msg_size", configFilePath),
			),
		},
		&cli.BoolFlag{
			Name:  "compression",
			Usage: "require permessage-deflate (RFC 7692) on every connection",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_COMPRESSION"),
				toml.TOML("gows.compression", configFilePath),
			),
		},
		&cli.DurationFlag{
			Name:  "read-timeout",
			Usage: "per-read socket deadline (0 disables it)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_READ_TIMEOUT"),
				toml.TOML("gows.read_timeout", configFilePath),
			),
		},
		&cli.DurationFlag{
			Name:  "write-timeout",
			Usage: "per-write socket deadline (0 disables it)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_WRITE_TIMEOUT"),
				toml.TOML("gows.write_timeout", configFilePath),
			),
		},
		&cli.BoolFlag{
			Name:  "require-bearer-token",
			Usage: "reject handshakes without a valid JWT in the Sec-WebSocket-Protocol header",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_REQUIRE_BEARER_TOKEN"),
				toml.TOML("gows.require_bearer_token", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "jwt-secret",
			Usage: "HMAC secret used to verify the bearer token, when required",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_JWT_SECRET"),
				toml.TOML("gows.jwt_secret", configFilePath),
			),
		},
	}
}
