/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package convert translates line numbers, column numbers, and source paths
// between the client's coordinate conventions and the debugger's.
//
// All functions are pure. Numeric translation is exact integer arithmetic with
// no clamping: a translated value of 0 or below is returned unchanged in
// meaning, and it is the caller's job to decide whether the result is valid
// for its domain.
package convert

import (
	"net/url"
	"strings"
)

// ClientLineToDebugger translates a line number from the client convention to
// the debugger convention.
func ClientLineToDebugger(line int, clientStartsAt1, debuggerStartsAt1 bool) int {
	return clientToDebugger(line, clientStartsAt1, debuggerStartsAt1)
}

// DebuggerLineToClient translates a line number from the debugger convention
// to the client convention.
func DebuggerLineToClient(line int, clientStartsAt1, debuggerStartsAt1 bool) int {
	return debuggerToClient(line, clientStartsAt1, debuggerStartsAt1)
}

// ClientColumnToDebugger translates a column number from the client convention
// to the debugger convention.
func ClientColumnToDebugger(column int, clientStartsAt1, debuggerStartsAt1 bool) int {
	return clientToDebugger(column, clientStartsAt1, debuggerStartsAt1)
}

// DebuggerColumnToClient translates a column number from the debugger
// convention to the client convention.
func DebuggerColumnToClient(column int, clientStartsAt1, debuggerStartsAt1 bool) int {
	return debuggerToClient(column, clientStartsAt1, debuggerStartsAt1)
}

func clientToDebugger(n int, clientStartsAt1, debuggerStartsAt1 bool) int {
	if debuggerStartsAt1 {
		if clientStartsAt1 {
			return n
		}
		return n + 1
	}
	if clientStartsAt1 {
		return n - 1
	}
	return n
}

func debuggerToClient(n int, clientStartsAt1, debuggerStartsAt1 bool) int {
	if debuggerStartsAt1 {
		if clientStartsAt1 {
			return n
		}
		return n - 1
	}
	if clientStartsAt1 {
		return n + 1
	}
	return n
}

// ClientPathToDebugger translates a source location from the client's path
// representation to the debugger's. When both sides use the same
// representation the input is returned unchanged.
func ClientPathToDebugger(clientPath string, clientPathsAreURIs, debuggerPathsAreURIs bool) string {
	if clientPathsAreURIs == debuggerPathsAreURIs {
		return clientPath
	}
	if clientPathsAreURIs {
		return URIToPath(clientPath)
	}
	return PathToURI(clientPath)
}

// DebuggerPathToClient translates a source location from the debugger's path
// representation to the client's. When both sides use the same representation
// the input is returned unchanged.
func DebuggerPathToClient(debuggerPath string, clientPathsAreURIs, debuggerPathsAreURIs bool) string {
	if clientPathsAreURIs == debuggerPathsAreURIs {
		return debuggerPath
	}
	if debuggerPathsAreURIs {
		return URIToPath(debuggerPath)
	}
	return PathToURI(debuggerPath)
}

// PathToURI converts a filesystem path to a file:// URI. The path is rooted
// with a leading slash if it is not already, and percent-encoded per URI
// rules. For any path that needs no re-encoding,
// URIToPath(PathToURI(p)) == p.
func PathToURI(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{Scheme: "file", Path: path}
	return u.String()
}

// URIToPath extracts the decoded path component of a URI. Inputs that do not
// parse as a URI are returned unchanged rather than failing; the result of
// translating a malformed location is the caller's problem, not a fault.
func URIToPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return u.Path
}
