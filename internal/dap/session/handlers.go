/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"encoding/json"

	"github.com/google/go-dap"
)

// RequestHandler is the extension surface of a session: one method per
// recognized command, plus Custom for everything outside the set. A concrete
// adapter embeds BaseHandler and overrides the commands its debugger
// supports.
//
// The contract per method: the handler owns the pre-populated response shell
// and must cause exactly one response send for it: either by calling
// Session.Send (or one of the error-response primitives) before returning, or
// by arranging for a later send from another goroutine and returning nil. A
// handler may also signal failure by returning a non-nil error (or by
// panicking); the dispatcher then sends the generic dispatch-failure error
// response on its behalf. Returning an error after having sent is a contract
// violation that produces a duplicate response.
//
// The dispatcher never auto-sends on return: a handler is free to suspend on
// debugger-side I/O while later requests are routed, and to send its response
// out of request order.
type RequestHandler interface {
	Initialize(s *Session, resp *dap.InitializeResponse, args *dap.InitializeRequestArguments) error
	Launch(s *Session, resp *dap.LaunchResponse, args json.RawMessage) error
	Attach(s *Session, resp *dap.AttachResponse, args json.RawMessage) error
	Disconnect(s *Session, resp *dap.DisconnectResponse, args *dap.DisconnectArguments) error
	SetBreakpoints(s *Session, resp *dap.SetBreakpointsResponse, args *dap.SetBreakpointsArguments) error
	SetFunctionBreakpoints(s *Session, resp *dap.SetFunctionBreakpointsResponse, args *dap.SetFunctionBreakpointsArguments) error
	SetExceptionBreakpoints(s *Session, resp *dap.SetExceptionBreakpointsResponse, args *dap.SetExceptionBreakpointsArguments) error
	ConfigurationDone(s *Session, resp *dap.ConfigurationDoneResponse) error
	Continue(s *Session, resp *dap.ContinueResponse, args *dap.ContinueArguments) error
	Next(s *Session, resp *dap.NextResponse, args *dap.NextArguments) error
	StepIn(s *Session, resp *dap.StepInResponse, args *dap.StepInArguments) error
	StepOut(s *Session, resp *dap.StepOutResponse, args *dap.StepOutArguments) error
	StepBack(s *Session, resp *dap.StepBackResponse, args *dap.StepBackArguments) error
	Pause(s *Session, resp *dap.PauseResponse, args *dap.PauseArguments) error
	StackTrace(s *Session, resp *dap.StackTraceResponse, args *dap.StackTraceArguments) error
	Scopes(s *Session, resp *dap.ScopesResponse, args *dap.ScopesArguments) error
	Variables(s *Session, resp *dap.VariablesResponse, args *dap.VariablesArguments) error
	SetVariable(s *Session, resp *dap.SetVariableResponse, args *dap.SetVariableArguments) error
	Source(s *Session, resp *dap.SourceResponse, args *dap.SourceArguments) error
	Threads(s *Session, resp *dap.ThreadsResponse) error
	Evaluate(s *Session, resp *dap.EvaluateResponse, args *dap.EvaluateArguments) error

	// Custom receives requests whose command is outside the recognized
	// set. The default rejects them with a telemetry-flagged
	// "unrecognized request" error; adapters override it to add
	// adapter-specific commands.
	Custom(s *Session, resp *dap.Response, command string, args json.RawMessage) error
}

// BaseHandler implements RequestHandler with the minimal conforming
// behavior: every command is answered immediately with a bare success
// response, initialize advertises a fixed, conservative capability set, and
// unrecognized commands are rejected. Adapters embed BaseHandler so they only
// implement the commands their debugger actually supports and still route the
// rest validly.
type BaseHandler struct{}

var _ RequestHandler = BaseHandler{}

// Initialize answers the handshake with the default capability
// advertisement: the adapter supports the configurationDone request and
// nothing optional beyond it.
func (BaseHandler) Initialize(s *Session, resp *dap.InitializeResponse, args *dap.InitializeRequestArguments) error {
	// All other capability fields deliberately stay at their false zero
	// values: no conditional or function breakpoints, no evaluate for
	// hovers, no step back, no setVariable.
	resp.Body = dap.Capabilities{
		SupportsConfigurationDoneRequest: true,
	}
	return s.Send(resp)
}

func (BaseHandler) Launch(s *Session, resp *dap.LaunchResponse, args json.RawMessage) error {
	return s.Send(resp)
}

func (BaseHandler) Attach(s *Session, resp *dap.AttachResponse, args json.RawMessage) error {
	return s.Send(resp)
}

// Disconnect acknowledges the request and shuts the session down. The
// response is sent before shutdown begins so it still reaches the wire.
func (BaseHandler) Disconnect(s *Session, resp *dap.DisconnectResponse, args *dap.DisconnectArguments) error {
	sendErr := s.Send(resp)
	s.Shutdown()
	return sendErr
}

func (BaseHandler) SetBreakpoints(s *Session, resp *dap.SetBreakpointsResponse, args *dap.SetBreakpointsArguments) error {
	return s.Send(resp)
}

func (BaseHandler) SetFunctionBreakpoints(s *Session, resp *dap.SetFunctionBreakpointsResponse, args *dap.SetFunctionBreakpointsArguments) error {
	return s.Send(resp)
}

func (BaseHandler) SetExceptionBreakpoints(s *Session, resp *dap.SetExceptionBreakpointsResponse, args *dap.SetExceptionBreakpointsArguments) error {
	return s.Send(resp)
}

func (BaseHandler) ConfigurationDone(s *Session, resp *dap.ConfigurationDoneResponse) error {
	return s.Send(resp)
}

func (BaseHandler) Continue(s *Session, resp *dap.ContinueResponse, args *dap.ContinueArguments) error {
	return s.Send(resp)
}

func (BaseHandler) Next(s *Session, resp *dap.NextResponse, args *dap.NextArguments) error {
	return s.Send(resp)
}

func (BaseHandler) StepIn(s *Session, resp *dap.StepInResponse, args *dap.StepInArguments) error {
	return s.Send(resp)
}

func (BaseHandler) StepOut(s *Session, resp *dap.StepOutResponse, args *dap.StepOutArguments) error {
	return s.Send(resp)
}

func (BaseHandler) StepBack(s *Session, resp *dap.StepBackResponse, args *dap.StepBackArguments) error {
	return s.Send(resp)
}

func (BaseHandler) Pause(s *Session, resp *dap.PauseResponse, args *dap.PauseArguments) error {
	return s.Send(resp)
}

func (BaseHandler) StackTrace(s *Session, resp *dap.StackTraceResponse, args *dap.StackTraceArguments) error {
	return s.Send(resp)
}

func (BaseHandler) Scopes(s *Session, resp *dap.ScopesResponse, args *dap.ScopesArguments) error {
	return s.Send(resp)
}

func (BaseHandler) Variables(s *Session, resp *dap.VariablesResponse, args *dap.VariablesArguments) error {
	return s.Send(resp)
}

func (BaseHandler) SetVariable(s *Session, resp *dap.SetVariableResponse, args *dap.SetVariableArguments) error {
	return s.Send(resp)
}

func (BaseHandler) Source(s *Session, resp *dap.SourceResponse, args *dap.SourceArguments) error {
	return s.Send(resp)
}

func (BaseHandler) Threads(s *Session, resp *dap.ThreadsResponse) error {
	return s.Send(resp)
}

func (BaseHandler) Evaluate(s *Session, resp *dap.EvaluateResponse, args *dap.EvaluateArguments) error {
	return s.Send(resp)
}

// Custom rejects commands outside the recognized set.
func (BaseHandler) Custom(s *Session, resp *dap.Response, command string, args json.RawMessage) error {
	return s.SendErrorResponse(*resp, ErrorIDUnrecognizedRequest,
		"unrecognized request", nil, TelemetryDestination)
}
