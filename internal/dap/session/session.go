/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/google/uuid"

	"github.com/dapkit/dapkit/internal/dap/convert"
	"github.com/dapkit/dapkit/internal/dap/transport"
)

// PathFormat is the representation used for source locations on one side of
// the session.
type PathFormat string

const (
	// PathFormatPath represents sources as filesystem paths.
	PathFormatPath PathFormat = "path"

	// PathFormatURI represents sources as file:// URIs.
	PathFormatURI PathFormat = "uri"
)

// TelemetryReporter receives telemetry-flagged error messages. The reporter
// must re-render the message through the redacting formatter before
// recording; the session hands it the raw, un-redacted message.
type TelemetryReporter interface {
	ReportErrorMessage(sessionID string, msg *dap.ErrorMessage)
}

// Config holds the construction parameters for a Session.
type Config struct {
	// Transport carries the session's messages. Required.
	Transport transport.Transport

	// Handler receives dispatched requests. If nil, the built-in default
	// handlers are used (every request answered with a bare success
	// response, see BaseHandler).
	Handler RequestHandler

	// Logger for session operations. Defaults to logr.Discard().
	Logger logr.Logger

	// Telemetry receives telemetry-flagged error messages. Optional.
	Telemetry TelemetryReporter

	// RunAsServer marks the session as one connection of a multi-session
	// server. Server sessions never request process termination on
	// shutdown.
	RunAsServer bool
}

// conventions is the coordinate-convention state of one session. The
// debugger side is set by the embedding adapter before the initialize
// handshake; the client side is updated exactly once, from the initialize
// request's arguments.
type conventions struct {
	clientLinesStartAt1   bool
	clientColumnsStartAt1 bool
	clientPathFormat      PathFormat

	debuggerLinesStartAt1   bool
	debuggerColumnsStartAt1 bool
	debuggerPathFormat      PathFormat

	// frozen is set once initialize has processed the client arguments;
	// convention setters are no-ops from then on.
	frozen bool
}

// Session is one debugger-control session bound to a single client
// connection. It dispatches typed requests to a handler, translates
// coordinates between client and debugger conventions, and produces uniform
// error responses. Sessions are independent: a server process runs one
// Session per accepted connection with no shared mutable state.
type Session struct {
	id        string
	transport transport.Transport
	handler   RequestHandler
	telemetry TelemetryReporter
	log       logr.Logger

	runAsServer bool

	convMu sync.RWMutex
	conv   conventions

	// sendMu orders sequence-number assignment with transport writes so
	// outbound seq values are monotonic on the wire.
	sendMu sync.Mutex
	seq    sequenceCounter

	inflight inflightRegistry

	// dispatches tracks in-flight handler goroutines for shutdown.
	dispatches sync.WaitGroup

	shutdownOnce sync.Once
	done         chan struct{}
}

// New creates a Session over the given transport. Debugger-side conventions
// default to 1-based lines and columns and native paths; client-side
// conventions default to 1-based and native paths until the initialize
// request says otherwise.
func New(config Config) *Session {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	handler := config.Handler
	if handler == nil {
		handler = BaseHandler{}
	}

	id := uuid.New().String()

	return &Session{
		id:        id,
		transport: config.Transport,
		handler:   handler,
		telemetry: config.Telemetry,
		log:       log.WithValues("session", id),

		runAsServer: config.RunAsServer,

		conv: conventions{
			clientLinesStartAt1:     true,
			clientColumnsStartAt1:   true,
			clientPathFormat:        PathFormatPath,
			debuggerLinesStartAt1:   true,
			debuggerColumnsStartAt1: true,
			debuggerPathFormat:      PathFormatPath,
		},

		done: make(chan struct{}),
	}
}

// ID returns the session's unique identifier, used for log and telemetry
// correlation.
func (s *Session) ID() string {
	return s.id
}

// RunAsServer reports whether this session belongs to a multi-session server
// process. The launcher uses it to decide shutdown policy: a server-mode
// session's death must not terminate the host process.
func (s *Session) RunAsServer() bool {
	s.convMu.RLock()
	defer s.convMu.RUnlock()
	return s.runAsServer
}

// SetRunAsServer marks the session as server-mode. Pre-handshake setter.
func (s *Session) SetRunAsServer(runAsServer bool) {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	s.runAsServer = runAsServer
}

// SetDebuggerLinesStartAt1 records whether the debugger numbers lines from 1.
// Pre-handshake setter; a no-op once initialize has processed client
// arguments.
func (s *Session) SetDebuggerLinesStartAt1(startAt1 bool) {
	s.setConvention(func(c *conventions) { c.debuggerLinesStartAt1 = startAt1 })
}

// SetDebuggerColumnsStartAt1 records whether the debugger numbers columns
// from 1. Pre-handshake setter; a no-op once initialize has processed client
// arguments.
func (s *Session) SetDebuggerColumnsStartAt1(startAt1 bool) {
	s.setConvention(func(c *conventions) { c.debuggerColumnsStartAt1 = startAt1 })
}

// SetDebuggerPathFormat records whether the debugger represents sources as
// paths or URIs. Pre-handshake setter; a no-op once initialize has processed
// client arguments.
func (s *Session) SetDebuggerPathFormat(format PathFormat) {
	s.setConvention(func(c *conventions) { c.debuggerPathFormat = format })
}

func (s *Session) setConvention(apply func(*conventions)) {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	if s.conv.frozen {
		s.log.V(1).Info("Ignoring convention change after initialize")
		return
	}
	apply(&s.conv)
}

// applyClientConventions folds the initialize request's numbering conventions
// into the session and freezes further convention changes. Absent fields
// leave the existing defaults in force.
func (s *Session) applyClientConventions(linesStartAt1, columnsStartAt1 *bool) {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	if linesStartAt1 != nil {
		s.conv.clientLinesStartAt1 = *linesStartAt1
	}
	if columnsStartAt1 != nil {
		s.conv.clientColumnsStartAt1 = *columnsStartAt1
	}
	s.conv.frozen = true
}

func (s *Session) snapshotConventions() conventions {
	s.convMu.RLock()
	defer s.convMu.RUnlock()
	return s.conv
}

// ClientLineToDebugger translates a client line number to the debugger
// convention.
func (s *Session) ClientLineToDebugger(line int) int {
	c := s.snapshotConventions()
	return convert.ClientLineToDebugger(line, c.clientLinesStartAt1, c.debuggerLinesStartAt1)
}

// DebuggerLineToClient translates a debugger line number to the client
// convention.
func (s *Session) DebuggerLineToClient(line int) int {
	c := s.snapshotConventions()
	return convert.DebuggerLineToClient(line, c.clientLinesStartAt1, c.debuggerLinesStartAt1)
}

// ClientColumnToDebugger translates a client column number to the debugger
// convention.
func (s *Session) ClientColumnToDebugger(column int) int {
	c := s.snapshotConventions()
	return convert.ClientColumnToDebugger(column, c.clientColumnsStartAt1, c.debuggerColumnsStartAt1)
}

// DebuggerColumnToClient translates a debugger column number to the client
// convention.
func (s *Session) DebuggerColumnToClient(column int) int {
	c := s.snapshotConventions()
	return convert.DebuggerColumnToClient(column, c.clientColumnsStartAt1, c.debuggerColumnsStartAt1)
}

// ClientPathToDebugger translates a client source location to the debugger's
// path representation.
func (s *Session) ClientPathToDebugger(path string) string {
	c := s.snapshotConventions()
	return convert.ClientPathToDebugger(path, c.clientPathFormat == PathFormatURI, c.debuggerPathFormat == PathFormatURI)
}

// DebuggerPathToClient translates a debugger source location to the client's
// path representation.
func (s *Session) DebuggerPathToClient(path string) string {
	c := s.snapshotConventions()
	return convert.DebuggerPathToClient(path, c.clientPathFormat == PathFormatURI, c.debuggerPathFormat == PathFormatURI)
}

// Send assigns a sequence number to msg and writes it to the transport.
// This is the single send primitive: success responses, error responses, and
// events all leave through it. Safe for concurrent use; responses may be
// sent in any order relative to their requests.
func (s *Session) Send(msg dap.Message) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	switch m := msg.(type) {
	case dap.ResponseMessage:
		resp := m.GetResponse()
		resp.Seq = s.seq.Next()
		resp.Type = "response"
		if !s.inflight.Resolve(resp.RequestSeq) {
			s.log.V(1).Info("Response does not match an in-flight request",
				"command", resp.Command, "requestSeq", resp.RequestSeq)
		}
	case dap.EventMessage:
		ev := m.GetEvent()
		ev.Seq = s.seq.Next()
		ev.Type = "event"
	case dap.RequestMessage:
		req := m.GetRequest()
		req.Seq = s.seq.Next()
		req.Type = "request"
	default:
		return fmt.Errorf("message %T is neither request, response, nor event", msg)
	}

	writeErr := s.transport.WriteMessage(msg)
	if writeErr != nil {
		return fmt.Errorf("failed to send message: %w", writeErr)
	}

	return nil
}

// SendEvent emits a typed unsolicited notification. Events carry no
// correlation to any request and may be interleaved with responses at any
// time.
func (s *Session) SendEvent(event dap.EventMessage) error {
	return s.Send(event)
}

// SendErrorResponse turns the response shell into an error response built
// from an error id, a message template, and its variables, then transmits it.
// The user-facing rendering of the template (never redacted) becomes the
// response message; the full message is attached as the error body so the
// client can re-render it. Telemetry-flagged messages are additionally
// handed to the session's telemetry reporter.
func (s *Session) SendErrorResponse(resp dap.Response, id int, format string, variables map[string]string, dest ErrorDestination) error {
	return s.sendErrorMessage(resp, newErrorMessage(id, format, variables, dest))
}

// SendErrorMessageResponse is the pre-built variant of SendErrorResponse: the
// given error message is used verbatim.
func (s *Session) SendErrorMessageResponse(resp dap.Response, msg *dap.ErrorMessage) error {
	return s.sendErrorMessage(resp, msg)
}

func (s *Session) sendErrorMessage(resp dap.Response, msg *dap.ErrorMessage) error {
	resp.Success = false
	resp.Message = userMessage(msg)

	if msg.SendTelemetry && s.telemetry != nil {
		s.telemetry.ReportErrorMessage(s.id, msg)
	}

	return s.Send(&dap.ErrorResponse{
		Response: resp,
		Body:     dap.ErrorResponseBody{Error: msg},
	})
}

// Shutdown stops the session: the transport is closed, the read loop ends,
// and Run returns once in-flight dispatches finish. Safe to call from any
// goroutine and idempotent. Whether the process exits afterwards is the
// launcher's decision, keyed off RunAsServer.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.done)

		if closeErr := s.transport.Close(); closeErr != nil {
			s.log.V(1).Info("Transport close failed during shutdown", "error", closeErr)
		}
	})
}

// Done is closed when the session has begun shutting down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Logger returns the session's logger, scoped with the session id.
func (s *Session) Logger() logr.Logger {
	return s.log
}
