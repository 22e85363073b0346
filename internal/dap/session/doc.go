/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package session implements the session layer of the Debug Adapter Protocol:
the part between the framed message transport and the debugger-specific logic
that actually controls execution.

# Key Components

  - Session: one client connection's dispatcher, coordinate state, and send
    primitives
  - RequestHandler / BaseHandler: the extension surface a concrete adapter
    overrides, with minimally-functional defaults
  - Server: TCP mode, one independent Session per accepted connection

# Request Flow

 1. The transport yields one framed, undecoded message
 2. The dispatcher decodes it, builds a response shell correlated to the
    request (same command and sequence number, success defaulted true), and
    routes by command to the handler on its own goroutine, so in-flight
    handlers never block routing
 3. The handler sends exactly one response through the session, immediately
    or after suspending on debugger-side work
 4. Handler errors and panics are caught at the dispatch boundary and
    converted into a dispatch-failure error response; nothing propagates
    into the transport

Commands outside the recognized set route to the Custom handler, the
designated extension point for adapter-specific requests.

# Coordinates

Line/column numbering base and path representation are independently
configurable for the client side (from the initialize request) and the
debugger side (via pre-handshake setters). Handlers translate through the
session's conversion methods; see the convert package.

# Errors

Error responses carry a structured error message whose {placeholder}
variables render differently per surface: the user-facing message is never
redacted, while the telemetry rendering interpolates only
underscore-prefixed placeholders. See the pii package.
*/
package session
