/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import "github.com/google/go-dap"

// Constructors for the common event catalogue. They fill in the protocol
// boilerplate (type and event name); the sequence number is assigned when the
// event is sent.

func newEvent(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Type: "event"},
		Event:           name,
	}
}

// NewInitializedEvent signals that the adapter is ready to accept
// configuration requests.
func NewInitializedEvent() *dap.InitializedEvent {
	return &dap.InitializedEvent{Event: newEvent("initialized")}
}

// NewStoppedEvent signals that execution stopped. Reason is one of the
// protocol's stop reasons ("step", "breakpoint", "exception", "pause", ...);
// text carries additional detail such as an exception message.
func NewStoppedEvent(reason string, threadID int, text string) *dap.StoppedEvent {
	return &dap.StoppedEvent{
		Event: newEvent("stopped"),
		Body: dap.StoppedEventBody{
			Reason:   reason,
			ThreadId: threadID,
			Text:     text,
		},
	}
}

// NewContinuedEvent signals that execution resumed.
func NewContinuedEvent(threadID int, allThreadsContinued bool) *dap.ContinuedEvent {
	return &dap.ContinuedEvent{
		Event: newEvent("continued"),
		Body: dap.ContinuedEventBody{
			ThreadId:            threadID,
			AllThreadsContinued: allThreadsContinued,
		},
	}
}

// NewExitedEvent signals that the debuggee exited with the given code.
func NewExitedEvent(exitCode int) *dap.ExitedEvent {
	return &dap.ExitedEvent{
		Event: newEvent("exited"),
		Body:  dap.ExitedEventBody{ExitCode: exitCode},
	}
}

// NewTerminatedEvent signals that debugging ended.
func NewTerminatedEvent() *dap.TerminatedEvent {
	return &dap.TerminatedEvent{Event: newEvent("terminated")}
}

// NewThreadEvent signals a thread lifecycle change; reason is "started" or
// "exited".
func NewThreadEvent(reason string, threadID int) *dap.ThreadEvent {
	return &dap.ThreadEvent{
		Event: newEvent("thread"),
		Body: dap.ThreadEventBody{
			Reason:   reason,
			ThreadId: threadID,
		},
	}
}

// NewOutputEvent carries debuggee or adapter output; category is "console",
// "stdout", "stderr", or "telemetry".
func NewOutputEvent(category, output string) *dap.OutputEvent {
	return &dap.OutputEvent{
		Event: newEvent("output"),
		Body: dap.OutputEventBody{
			Category: category,
			Output:   output,
		},
	}
}

// NewBreakpointEvent signals that a breakpoint changed; reason is "changed",
// "new", or "removed".
func NewBreakpointEvent(reason string, breakpoint dap.Breakpoint) *dap.BreakpointEvent {
	return &dap.BreakpointEvent{
		Event: newEvent("breakpoint"),
		Body: dap.BreakpointEventBody{
			Reason:     reason,
			Breakpoint: breakpoint,
		},
	}
}

// NewModuleEvent signals that a module was loaded, changed, or unloaded.
func NewModuleEvent(reason string, module dap.Module) *dap.ModuleEvent {
	return &dap.ModuleEvent{
		Event: newEvent("module"),
		Body: dap.ModuleEventBody{
			Reason: reason,
			Module: module,
		},
	}
}
