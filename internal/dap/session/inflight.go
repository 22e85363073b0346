/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"sync"

	"github.com/dapkit/dapkit/pkg/syncmap"
)

// inflightRegistry tracks dispatched requests that have not yet produced a
// response, keyed by the request's sequence number. A handler that never
// responds leaves its request unresolved from the client's perspective; the
// registry makes those visible at shutdown instead of silently lost.
type inflightRegistry struct {
	requests syncmap.Map[int, string]
}

// Add records a dispatched request by sequence number and command.
func (r *inflightRegistry) Add(seq int, command string) {
	r.requests.Store(seq, command)
}

// Resolve removes a request once its response has been sent. Returns false if
// the sequence number was not in flight (already resolved, or never tracked).
func (r *inflightRegistry) Resolve(seq int) bool {
	_, found := r.requests.LoadAndDelete(seq)
	return found
}

// Unresolved returns the requests still awaiting a response, as a
// seq -> command map.
func (r *inflightRegistry) Unresolved() map[int]string {
	out := map[int]string{}
	r.requests.Range(func(seq int, command string) bool {
		out[seq] = command
		return true
	})
	return out
}

// sequenceCounter provides thread-safe sequence number generation for
// outbound messages.
type sequenceCounter struct {
	mu  sync.Mutex
	seq int
}

// Next returns the next sequence number, starting at 1.
func (c *sequenceCounter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}
