/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package pii renders error message templates with optional redaction of
// potentially sensitive values.
//
// A template contains {name} placeholders that are substituted from a
// variables map. By convention a placeholder whose name starts with an
// underscore is known to be safe for analytics, so it is rendered even when a
// message is bound for a telemetry channel; every other placeholder is left
// as its literal token in that rendering.
package pii

import "regexp"

// placeholderPattern matches {name} tokens. Only word characters are
// recognized, so a missing closing brace or an embedded space simply does not
// match and passes through untouched.
var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// Format substitutes {name} placeholders in format with values from
// variables. A placeholder is replaced only when its name is present in
// variables and, if redact is set, the name starts with '_'. Unmatched or
// redacted placeholders are left verbatim. Format is deterministic, has no
// side effects, and never fails: the same call site serves both the
// user-facing rendering (redact=false) and the telemetry rendering
// (redact=true).
func Format(format string, redact bool, variables map[string]string) string {
	if len(variables) == 0 {
		return format
	}

	return placeholderPattern.ReplaceAllStringFunc(format, func(token string) string {
		name := token[1 : len(token)-1]
		if redact && name[0] != '_' {
			return token
		}

		value, found := variables[name]
		if !found {
			return token
		}
		return value
	})
}
