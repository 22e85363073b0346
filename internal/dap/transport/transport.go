/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package transport provides framed DAP message I/O over stdio streams and
// TCP connections. Framing (Content-Length headers) is owned by the go-dap
// codec; this package owns connection lifecycle and write serialization.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
)

// ErrClosed is returned by ReadMessage and WriteMessage after the transport
// has been closed.
var ErrClosed = errors.New("transport is closed")

// Transport provides DAP message I/O over a single connection.
//
// ReadMessage returns one framed message body, undecoded. The session layer
// decodes it; keeping the raw bytes available is what allows the session to
// distinguish absent fields from zero values and to route unrecognized
// commands. Writes may be issued from multiple goroutines; individual writes
// are serialized internally.
type Transport interface {
	// ReadMessage reads the next framed message and returns its undecoded
	// body. It blocks until a complete message is available. After Close,
	// or when the peer disconnects, it returns an error.
	ReadMessage() ([]byte, error)

	// WriteMessage encodes and writes one DAP message, flushing the
	// underlying writer. Safe for concurrent use.
	WriteMessage(msg dap.Message) error

	// Close closes the transport and releases the underlying streams.
	// Blocked ReadMessage calls return with an error. Close is idempotent.
	Close() error
}

// streamTransport is the shared read/write machinery for both connection types.
type streamTransport struct {
	reader *bufio.Reader
	writer *bufio.Writer

	// writeMu serializes encode+flush pairs so concurrent senders cannot
	// interleave frames.
	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	close  func() error
}

func (t *streamTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *streamTransport) ReadMessage() ([]byte, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	raw, readErr := dap.ReadBaseMessage(t.reader)
	if readErr != nil {
		if t.isClosed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("failed to read DAP message: %w", readErr)
	}

	return raw, nil
}

func (t *streamTransport) WriteMessage(msg dap.Message) error {
	if t.isClosed() {
		return ErrClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	writeErr := dap.WriteProtocolMessage(t.writer, msg)
	if writeErr != nil {
		return fmt.Errorf("failed to write DAP message: %w", writeErr)
	}

	flushErr := t.writer.Flush()
	if flushErr != nil {
		return fmt.Errorf("failed to flush DAP message: %w", flushErr)
	}

	return nil
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	return t.close()
}

// NewTCP creates a Transport backed by a TCP connection. Closing the
// transport closes the connection, which unblocks a pending read.
func NewTCP(conn net.Conn) Transport {
	return &streamTransport{
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		close:  conn.Close,
	}
}

// DialTCP establishes a TCP connection to the specified address and returns a
// Transport over it.
func DialTCP(ctx context.Context, address string) (Transport, error) {
	var d net.Dialer
	conn, dialErr := d.DialContext(ctx, "tcp", address)
	if dialErr != nil {
		return nil, fmt.Errorf("failed to dial TCP %s: %w", address, dialErr)
	}

	return NewTCP(conn), nil
}

// NewStdio creates a Transport backed by a pair of byte streams, typically
// the process's standard input and output. The caller retains no access to
// the streams; Close closes both.
func NewStdio(in io.ReadCloser, out io.WriteCloser) Transport {
	return &streamTransport{
		reader: bufio.NewReader(in),
		writer: bufio.NewWriter(out),
		close: func() error {
			inErr := in.Close()
			outErr := out.Close()
			if inErr != nil {
				return fmt.Errorf("failed to close input stream: %w", inErr)
			}
			if outErr != nil {
				return fmt.Errorf("failed to close output stream: %w", outErr)
			}
			return nil
		},
	}
}
