/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package testutil provides shared helpers for tests.
package testutil

import (
	"context"
	"testing"
	"time"
)

// GetTestContext returns a context bounded by the shorter of testTimeout and
// the test binary's own deadline. A zero testTimeout means only the test
// deadline applies.
func GetTestContext(t *testing.T, testTimeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	deadline, haveDeadline := t.Deadline()

	switch {
	case !haveDeadline && testTimeout == 0:
		return context.WithCancel(context.Background())

	case !haveDeadline:
		return context.WithTimeout(context.Background(), testTimeout)

	case testTimeout == 0:
		return context.WithDeadline(context.Background(), deadline)

	default:
		testDeadline := time.Now().Add(testTimeout)
		// Take the shorter of the two deadlines
		if testDeadline.Before(deadline) {
			return context.WithDeadline(context.Background(), testDeadline)
		}
		return context.WithDeadline(context.Background(), deadline)
	}
}
