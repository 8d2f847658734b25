// Command dvrouted runs the distance-vector routing daemon. It takes a
// single optional positional argument, the node's own IPv4 address, and
// runs until interrupted — by ENTER on stdin or a termination signal —
// exactly the "press ENTER to stop" convention the protocol was originally
// built around.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/dragmakex/dv-routing/internal/daemon"
)

const defaultIP = "192.168.1.100"

func main() {
	app := &cli.App{
		Name:      "dvrouted",
		Usage:     "distance-vector routing over an IPv4 broadcast domain",
		ArgsUsage: "[myIP]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "dvrouted:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	myIP := c.Args().First()
	if myIP == "" {
		myIP = defaultIP
	}

	level := zerolog.InfoLevel
	if c.Bool("verbose") {
		level = zerolog.DebugLevel
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Str("run_id", xid.New().String()).
		Logger()

	d, err := daemon.New(myIP, log)
	if err != nil {
		return xerrors.Errorf("failed to start daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(ctx) }()

	stdinDone := make(chan struct{})
	go func() {
		fmt.Println("Press ENTER to stop...")
		reader := bufio.NewReader(os.Stdin)
		_, _ = reader.ReadString('\n')
		close(stdinDone)
	}()

	select {
	case <-stdinDone:
	case <-sigCh:
	}

	d.Stop()
	cancel()

	return <-runDone
}
