/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"errors"

	"github.com/google/go-dap"

	"github.com/dapkit/dapkit/internal/dap/pii"
)

// Well-known error message ids. The numbering is part of the protocol surface
// clients key off, so the values are fixed.
const (
	// ErrorIDUnrecognizedRequest is reported when a request names a command
	// outside the recognized set and no custom handler accepts it.
	ErrorIDUnrecognizedRequest = 1014

	// ErrorIDDispatchFailure is reported when a handler fails or panics
	// during dispatch.
	ErrorIDDispatchFailure = 1104

	// ErrorIDUnsupportedPathFormat is reported when an initialize request
	// asks for a path format other than native paths.
	ErrorIDUnsupportedPathFormat = 2018
)

// ErrSessionClosed is returned when sending on a session whose transport has
// shut down.
var ErrSessionClosed = errors.New("session is closed")

// ErrorDestination selects which surfaces an error message is meant for. An
// error can be directed at the user, at telemetry, or both.
type ErrorDestination struct {
	// User marks the message for display to a human.
	User bool

	// Telemetry marks the message for transmission to an analytics sink,
	// which re-renders it through the redacting formatter first.
	Telemetry bool
}

var (
	// UserDestination directs an error at the user only.
	UserDestination = ErrorDestination{User: true}

	// TelemetryDestination directs an error at telemetry only.
	TelemetryDestination = ErrorDestination{Telemetry: true}

	// UserAndTelemetryDestination directs an error at both surfaces.
	UserAndTelemetryDestination = ErrorDestination{User: true, Telemetry: true}
)

// newErrorMessage builds a dap.ErrorMessage from an error id, a pii template,
// and its variables, with the destination mapped onto the showUser and
// sendTelemetry protocol flags.
func newErrorMessage(id int, format string, variables map[string]string, dest ErrorDestination) *dap.ErrorMessage {
	return &dap.ErrorMessage{
		Id:            id,
		Format:        format,
		Variables:     variables,
		ShowUser:      dest.User,
		SendTelemetry: dest.Telemetry,
	}
}

// userMessage renders the human-readable form of an error message. The user
// surface is never redacted; only the telemetry sink re-renders with
// redaction.
func userMessage(msg *dap.ErrorMessage) string {
	return pii.Format(msg.Format, false, msg.Variables)
}
