/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/google/go-dap"
)

// Run reads framed messages from the transport and dispatches them until the
// transport closes, fails, or the context is cancelled. Each request is
// dispatched on its own goroutine, so a handler that suspends (waiting on
// debugger-side I/O) does not stall routing of later requests; responses are
// correlated by sequence number, not by send order.
//
// Run returns nil on a clean shutdown (peer closed the connection, explicit
// disconnect, or context cancellation) and the transport error otherwise.
// Requests still unresolved at shutdown are logged: a handler that never
// responds is an adapter bug this layer does not guard against.
func (s *Session) Run(ctx context.Context) error {
	// Cancelling the context closes the transport, which unblocks the read.
	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	var runErr error
	for {
		raw, readErr := s.transport.ReadMessage()
		if readErr != nil {
			switch {
			case s.isDone() || errors.Is(readErr, io.EOF):
				s.log.V(1).Info("Transport closed, shutting down")
			default:
				s.log.Error(readErr, "Transport failed, shutting down")
				runErr = readErr
			}
			break
		}

		s.dispatches.Add(1)
		go func(raw []byte) {
			defer s.dispatches.Done()
			s.dispatchMessage(raw)
		}(raw)
	}

	s.Shutdown()
	s.dispatches.Wait()

	for seq, command := range s.inflight.Unresolved() {
		s.log.Info("Request never received a response", "command", command, "requestSeq", seq)
	}

	return runErr
}

func (s *Session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// dispatchMessage decodes one framed message and routes it. Inbound messages
// that are not requests (a client has no business sending us responses or
// events) are logged and dropped.
func (s *Session) dispatchMessage(raw []byte) {
	msg, decodeErr := dap.DecodeProtocolMessage(raw)
	if decodeErr != nil {
		var fieldErr *dap.DecodeProtocolMessageFieldError
		if errors.As(decodeErr, &fieldErr) && fieldErr.SubType == "request" && fieldErr.FieldName == "command" {
			// A well-formed request naming a command outside the
			// recognized set: the designated extension point.
			s.dispatchCustomRequest(fieldErr.Seq, fieldErr.FieldValue, raw)
			return
		}

		s.log.Error(decodeErr, "Discarding undecodable message", "size", len(raw))
		return
	}

	req, ok := msg.(dap.RequestMessage)
	if !ok {
		s.log.Info("Discarding non-request message from client", "type", fmt.Sprintf("%T", msg))
		return
	}

	s.dispatchRequest(req, raw)
}

// newShell builds the response shell correlated to the incoming request:
// same command, same sequence number, success defaulted true. Handlers embed
// it in their typed response.
func (s *Session) newShell(req *dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		Command:         req.Command,
		RequestSeq:      req.Seq,
		Success:         true,
	}
}

// dispatchRequest routes one decoded request to its handler. A handler
// signals failure by returning an error or by panicking; both are converted
// at this boundary into a generic dispatch-failure response so that no fault
// ever propagates back into the transport and every request produces exactly
// one terminal response.
func (s *Session) dispatchRequest(req dap.RequestMessage, raw []byte) {
	r := req.GetRequest()
	s.inflight.Add(r.Seq, r.Command)
	shell := s.newShell(r)

	defer func() {
		if recovered := recover(); recovered != nil {
			s.sendDispatchFailure(shell, fmt.Errorf("%v", recovered), debug.Stack())
		}
	}()

	var handlerErr error
	switch request := req.(type) {
	case *dap.InitializeRequest:
		handlerErr = s.dispatchInitialize(request, raw, shell)
	case *dap.LaunchRequest:
		handlerErr = s.handler.Launch(s, &dap.LaunchResponse{Response: shell}, request.Arguments)
	case *dap.AttachRequest:
		handlerErr = s.handler.Attach(s, &dap.AttachResponse{Response: shell}, request.Arguments)
	case *dap.DisconnectRequest:
		handlerErr = s.handler.Disconnect(s, &dap.DisconnectResponse{Response: shell}, request.Arguments)
	case *dap.SetBreakpointsRequest:
		handlerErr = s.handler.SetBreakpoints(s, &dap.SetBreakpointsResponse{Response: shell}, &request.Arguments)
	case *dap.SetFunctionBreakpointsRequest:
		handlerErr = s.handler.SetFunctionBreakpoints(s, &dap.SetFunctionBreakpointsResponse{Response: shell}, &request.Arguments)
	case *dap.SetExceptionBreakpointsRequest:
		handlerErr = s.handler.SetExceptionBreakpoints(s, &dap.SetExceptionBreakpointsResponse{Response: shell}, &request.Arguments)
	case *dap.ConfigurationDoneRequest:
		handlerErr = s.handler.ConfigurationDone(s, &dap.ConfigurationDoneResponse{Response: shell})
	case *dap.ContinueRequest:
		handlerErr = s.handler.Continue(s, &dap.ContinueResponse{Response: shell}, &request.Arguments)
	case *dap.NextRequest:
		handlerErr = s.handler.Next(s, &dap.NextResponse{Response: shell}, &request.Arguments)
	case *dap.StepInRequest:
		handlerErr = s.handler.StepIn(s, &dap.StepInResponse{Response: shell}, &request.Arguments)
	case *dap.StepOutRequest:
		handlerErr = s.handler.StepOut(s, &dap.StepOutResponse{Response: shell}, &request.Arguments)
	case *dap.StepBackRequest:
		handlerErr = s.handler.StepBack(s, &dap.StepBackResponse{Response: shell}, &request.Arguments)
	case *dap.PauseRequest:
		handlerErr = s.handler.Pause(s, &dap.PauseResponse{Response: shell}, &request.Arguments)
	case *dap.StackTraceRequest:
		handlerErr = s.handler.StackTrace(s, &dap.StackTraceResponse{Response: shell}, &request.Arguments)
	case *dap.ScopesRequest:
		handlerErr = s.handler.Scopes(s, &dap.ScopesResponse{Response: shell}, &request.Arguments)
	case *dap.VariablesRequest:
		handlerErr = s.handler.Variables(s, &dap.VariablesResponse{Response: shell}, &request.Arguments)
	case *dap.SetVariableRequest:
		handlerErr = s.handler.SetVariable(s, &dap.SetVariableResponse{Response: shell}, &request.Arguments)
	case *dap.SourceRequest:
		handlerErr = s.handler.Source(s, &dap.SourceResponse{Response: shell}, &request.Arguments)
	case *dap.ThreadsRequest:
		handlerErr = s.handler.Threads(s, &dap.ThreadsResponse{Response: shell})
	case *dap.EvaluateRequest:
		handlerErr = s.handler.Evaluate(s, &dap.EvaluateResponse{Response: shell}, &request.Arguments)
	default:
		// A request type go-dap knows but this session does not route:
		// treat like any other unrecognized command.
		handlerErr = s.handler.Custom(s, &shell, r.Command, rawArguments(raw))
	}

	if handlerErr != nil {
		s.sendDispatchFailure(shell, handlerErr, debug.Stack())
	}
}

// dispatchInitialize applies the initialize special case: the requested path
// format must be the native-path convention this session supports, and the
// client's numbering conventions are folded in before the handler runs.
func (s *Session) dispatchInitialize(req *dap.InitializeRequest, raw []byte, shell dap.Response) error {
	if req.Arguments.PathFormat != "" && req.Arguments.PathFormat != string(PathFormatPath) {
		return s.SendErrorResponse(shell, ErrorIDUnsupportedPathFormat,
			"debug adapter only supports native paths", nil, TelemetryDestination)
	}

	// The typed arguments cannot distinguish an absent boolean from an
	// explicit false, and absence must leave the prior defaults in force,
	// so the presence check decodes the raw message.
	var probe struct {
		Arguments struct {
			LinesStartAt1   *bool `json:"linesStartAt1"`
			ColumnsStartAt1 *bool `json:"columnsStartAt1"`
		} `json:"arguments"`
	}
	if probeErr := json.Unmarshal(raw, &probe); probeErr != nil {
		return probeErr
	}
	s.applyClientConventions(probe.Arguments.LinesStartAt1, probe.Arguments.ColumnsStartAt1)

	return s.handler.Initialize(s, &dap.InitializeResponse{Response: shell}, &req.Arguments)
}

// dispatchCustomRequest routes a request whose command is outside the
// recognized set to the custom-request handler, tracking it like any other
// request.
func (s *Session) dispatchCustomRequest(seq int, command string, raw []byte) {
	req := dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
	}

	s.inflight.Add(seq, command)
	shell := s.newShell(&req)

	defer func() {
		if recovered := recover(); recovered != nil {
			s.sendDispatchFailure(shell, fmt.Errorf("%v", recovered), debug.Stack())
		}
	}()

	if handlerErr := s.handler.Custom(s, &shell, command, rawArguments(raw)); handlerErr != nil {
		s.sendDispatchFailure(shell, handlerErr, debug.Stack())
	}
}

// sendDispatchFailure converts a handler fault into the generic
// dispatch-failure error response. The fault's message and stack ride along
// as underscore-prefixed variables so they survive telemetry redaction.
func (s *Session) sendDispatchFailure(shell dap.Response, fault error, stack []byte) {
	s.log.Error(fault, "Request handler failed", "command", shell.Command, "requestSeq", shell.RequestSeq)

	sendErr := s.SendErrorResponse(shell, ErrorIDDispatchFailure,
		"{_exception}\n{_stack}",
		map[string]string{"_exception": fault.Error(), "_stack": string(stack)},
		TelemetryDestination)
	if sendErr != nil && !errors.Is(sendErr, ErrSessionClosed) {
		s.log.Error(sendErr, "Failed to send dispatch failure response", "requestSeq", shell.RequestSeq)
	}
}

// rawArguments extracts the undecoded arguments member of a framed request,
// for handing to the custom-request handler.
func rawArguments(raw []byte) json.RawMessage {
	var probe struct {
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}
	return probe.Arguments
}
