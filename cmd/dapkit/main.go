/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Command dapkit runs the default debug adapter session layer, either over
// stdio (the default) or as a TCP server hosting one session per connection.
// It answers every request with the built-in default handlers, which makes it
// useful as a protocol test peer and as the scaffold a concrete adapter
// replaces the handler in.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dapkit/dapkit/internal/dap/session"
	"github.com/dapkit/dapkit/internal/dap/transport"
	"github.com/dapkit/dapkit/pkg/logger"
	"github.com/dapkit/dapkit/pkg/telemetry"
)

// shutdownGraceDelay is how long a stdio-mode process lingers after session
// shutdown so the final response can flush before exit.
const shutdownGraceDelay = 100 * time.Millisecond

// serverPortPattern is the accepted form of the --server flag value.
var serverPortPattern = regexp.MustCompile(`^\d{4,5}$`)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	log := logger.New("dapkit")

	var serverPort string

	cmd := &cobra.Command{
		Use:           "dapkit",
		Short:         "Debug Adapter Protocol session host",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer log.Flush()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			telemetrySystem := telemetry.NewSystem()
			defer telemetrySystem.Shutdown(context.Background())

			if serverPort != "" {
				return runServer(ctx, log, telemetrySystem, serverPort)
			}
			return runStdio(ctx, log, telemetrySystem)
		},
	}

	cmd.Flags().StringVar(&serverPort, "server", "",
		"Listen for debug sessions on the given TCP port (4-5 digits) instead of using stdio")
	log.AddLevelFlag(cmd.Flags())

	return cmd
}

// runStdio binds one session to the process's standard streams. When the
// session ends the process exits; the grace delay lets the final response
// reach the client first.
func runStdio(ctx context.Context, log *logger.Logger, telemetrySystem *telemetry.System) error {
	sess := session.New(session.Config{
		Transport: transport.NewStdio(os.Stdin, os.Stdout),
		Logger:    log.Logger,
		Telemetry: telemetrySystem.Reporter(),
	})

	runErr := sess.Run(ctx)
	time.Sleep(shutdownGraceDelay)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// runServer hosts one independent session per accepted connection. Sessions
// come and go; the process stays up until it is signalled.
func runServer(ctx context.Context, log *logger.Logger, telemetrySystem *telemetry.System, serverPort string) error {
	if !serverPortPattern.MatchString(serverPort) {
		return fmt.Errorf("invalid --server port %q: must be a 4-5 digit port number", serverPort)
	}
	port, _ := strconv.Atoi(serverPort)

	srv := session.NewServer(session.ServerConfig{
		Port:      port,
		Logger:    log.Logger,
		Telemetry: telemetrySystem.Reporter(),
	})

	serveErr := srv.Serve(ctx)
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}
