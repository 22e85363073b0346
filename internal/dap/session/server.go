/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/dapkit/dapkit/internal/dap/transport"
	"github.com/dapkit/dapkit/pkg/syncmap"
)

// ServerConfig contains configuration for the multi-session server mode.
type ServerConfig struct {
	// Listener is the network listener to accept connections on. If nil,
	// the server listens on 127.0.0.1:<Port>.
	Listener net.Listener

	// Port is the TCP port to listen on when Listener is nil.
	Port int

	// NewHandler produces the request handler for each accepted
	// connection. Every connection gets a fresh handler so sessions share
	// no mutable state. If nil, connections get the built-in defaults.
	NewHandler func() RequestHandler

	// Configure, if set, is called with each new session before it starts,
	// for pre-handshake convention setup.
	Configure func(*Session)

	// Logger for server operations. Defaults to logr.Discard().
	Logger logr.Logger

	// Telemetry receives telemetry-flagged error messages from all
	// sessions. Optional.
	Telemetry TelemetryReporter
}

// Server accepts client connections and runs one independent session per
// connection. The death of any one session leaves the process and all
// sibling sessions running; server mode never exits on a session's behalf.
type Server struct {
	config ServerConfig
	log    logr.Logger

	sessions syncmap.Map[string, *Session]
}

// NewServer creates a server from the given configuration.
func NewServer(config ServerConfig) *Server {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	return &Server{
		config: config,
		log:    log,
	}
}

// Serve listens for connections and blocks until the context is cancelled or
// the listener fails permanently. Temporary accept failures are retried with
// exponential backoff.
func (srv *Server) Serve(ctx context.Context) error {
	listener := srv.config.Listener
	if listener == nil {
		var listenErr error
		listener, listenErr = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", srv.config.Port))
		if listenErr != nil {
			return fmt.Errorf("failed to listen: %w", listenErr)
		}
	}

	srv.log.Info("Listening for debug sessions", "address", listener.Addr().String())

	// Close the listener when the context ends to unblock Accept.
	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	acceptBackoff := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(5*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(0),
	)

	for {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil || errors.Is(acceptErr, net.ErrClosed) {
				srv.log.Info("Stopped accepting debug sessions")
				return ctx.Err()
			}

			// Transient failure (fd exhaustion and the like): back
			// off and keep accepting.
			delay := acceptBackoff.NextBackOff()
			srv.log.Error(acceptErr, "Accept failed, retrying", "delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		acceptBackoff.Reset()

		srv.startSession(ctx, conn)
	}
}

// startSession builds an independent session for one accepted connection and
// runs it on its own goroutine.
func (srv *Server) startSession(ctx context.Context, conn net.Conn) {
	var handler RequestHandler
	if srv.config.NewHandler != nil {
		handler = srv.config.NewHandler()
	}

	sess := New(Config{
		Transport:   transport.NewTCP(conn),
		Handler:     handler,
		Logger:      srv.log,
		Telemetry:   srv.config.Telemetry,
		RunAsServer: true,
	})
	if srv.config.Configure != nil {
		srv.config.Configure(sess)
	}

	srv.sessions.Store(sess.ID(), sess)
	srv.log.Info("Debug session connected", "session", sess.ID(), "remote", conn.RemoteAddr().String())

	go func() {
		defer srv.sessions.Delete(sess.ID())

		runErr := sess.Run(ctx)
		if runErr != nil {
			srv.log.Error(runErr, "Debug session ended with an error", "session", sess.ID())
		} else {
			srv.log.Info("Debug session ended", "session", sess.ID())
		}
	}()
}

// ActiveSessions returns the number of sessions currently connected.
func (srv *Server) ActiveSessions() int {
	return srv.sessions.Len()
}
