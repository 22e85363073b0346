/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dapkit/dapkit/internal/dap/pii"
	"github.com/dapkit/dapkit/internal/dap/transport"
	"github.com/dapkit/dapkit/pkg/testutil"
)

// testClient drives the client side of a session over an in-memory
// connection, writing raw frames so tests control the exact JSON on the wire.
type testClient struct {
	t      *testing.T
	reader *bufio.Reader
	writer *bufio.Writer
	seq    int
}

// sendRequest frames and sends one request, returning its sequence number.
// argumentsJSON may be empty for commands without arguments.
func (c *testClient) sendRequest(command, argumentsJSON string) int {
	c.t.Helper()

	c.seq++
	body := fmt.Sprintf(`{"seq":%d,"type":"request","command":%q`, c.seq, command)
	if argumentsJSON != "" {
		body += `,"arguments":` + argumentsJSON
	}
	body += "}"

	require.NoError(c.t, dap.WriteBaseMessage(c.writer, []byte(body)))
	require.NoError(c.t, c.writer.Flush())
	return c.seq
}

// readMessage reads and decodes the next message.
func (c *testClient) readMessage() dap.Message {
	c.t.Helper()

	msg, readErr := dap.ReadProtocolMessage(c.reader)
	require.NoError(c.t, readErr)
	return msg
}

// rawResponse is the undecoded shape of a response frame. Tests read error
// responses and custom-command responses this way, since the typed decoder
// only knows the fixed command set.
type rawResponse struct {
	Seq        int    `json:"seq"`
	Type       string `json:"type"`
	RequestSeq int    `json:"request_seq"`
	Success    bool   `json:"success"`
	Command    string `json:"command"`
	Message    string `json:"message"`
	Body       struct {
		Error *dap.ErrorMessage `json:"error"`
	} `json:"body"`
}

// readRawResponse reads the next frame without typed decoding.
func (c *testClient) readRawResponse() rawResponse {
	c.t.Helper()

	raw, readErr := dap.ReadBaseMessage(c.reader)
	require.NoError(c.t, readErr)

	var resp rawResponse
	require.NoError(c.t, json.Unmarshal(raw, &resp))
	require.Equal(c.t, "response", resp.Type)
	return resp
}

// expectResponse reads messages until the response correlated to requestSeq
// arrives, skipping interleaved events.
func (c *testClient) expectResponse(requestSeq int) *dap.Response {
	c.t.Helper()

	for {
		msg := c.readMessage()
		respMsg, ok := msg.(dap.ResponseMessage)
		if !ok {
			continue
		}

		resp := respMsg.GetResponse()
		require.Equal(c.t, requestSeq, resp.RequestSeq)
		return resp
	}
}

// fakeTelemetry captures reported error messages.
type fakeTelemetry struct {
	mu       sync.Mutex
	messages []*dap.ErrorMessage
}

func (f *fakeTelemetry) ReportErrorMessage(sessionID string, msg *dap.ErrorMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
}

func (f *fakeTelemetry) reported() []*dap.ErrorMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*dap.ErrorMessage{}, f.messages...)
}

// startTestSession wires a session to an in-memory connection and runs it.
// The returned channel yields Run's result; the cleanup is registered on t.
func startTestSession(t *testing.T, config Config) (*Session, *testClient, <-chan error) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	deadline := time.Now().Add(10 * time.Second)
	require.NoError(t, clientConn.SetDeadline(deadline))

	config.Transport = transport.NewTCP(serverConn)
	if config.Logger.GetSink() == nil {
		config.Logger = testr.New(t)
	}
	sess := New(config)

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)

	runDone := make(chan error, 1)
	runStopped := make(chan struct{})
	go func() {
		runDone <- sess.Run(ctx)
		close(runStopped)
	}()

	t.Cleanup(func() {
		cancel()
		_ = clientConn.Close()
		<-runStopped
	})

	client := &testClient{
		t:      t,
		reader: bufio.NewReader(clientConn),
		writer: bufio.NewWriter(clientConn),
	}

	return sess, client, runDone
}

func TestDefaultHandlersAnswerEveryCommand(t *testing.T) {
	t.Parallel()

	_, client, _ := startTestSession(t, Config{})

	// disconnect is exercised separately since it shuts the session down.
	requests := []struct {
		command   string
		arguments string
	}{
		{"initialize", `{"adapterID":"test","pathFormat":"path"}`},
		{"launch", `{}`},
		{"attach", `{}`},
		{"setBreakpoints", `{"source":{"path":"/main.go"},"breakpoints":[{"line":3}]}`},
		{"setFunctionBreakpoints", `{"breakpoints":[]}`},
		{"setExceptionBreakpoints", `{"filters":[]}`},
		{"configurationDone", ""},
		{"continue", `{"threadId":1}`},
		{"next", `{"threadId":1}`},
		{"stepIn", `{"threadId":1}`},
		{"stepOut", `{"threadId":1}`},
		{"stepBack", `{"threadId":1}`},
		{"pause", `{"threadId":1}`},
		{"stackTrace", `{"threadId":1}`},
		{"scopes", `{"frameId":1}`},
		{"variables", `{"variablesReference":1}`},
		{"setVariable", `{"variablesReference":1,"name":"x","value":"1"}`},
		{"source", `{"sourceReference":1}`},
		{"threads", ""},
		{"evaluate", `{"expression":"1+1"}`},
	}

	for _, request := range requests {
		seq := client.sendRequest(request.command, request.arguments)
		resp := client.expectResponse(seq)
		assert.True(t, resp.Success, "command %s", request.command)
		assert.Equal(t, request.command, resp.Command)
		assert.Equal(t, seq, resp.RequestSeq)
	}
}

func TestInitializeDefaultCapabilities(t *testing.T) {
	t.Parallel()

	_, client, _ := startTestSession(t, Config{})

	seq := client.sendRequest("initialize", `{"adapterID":"test","pathFormat":"path"}`)
	msg := client.readMessage()

	initResp, ok := msg.(*dap.InitializeResponse)
	require.True(t, ok)
	assert.Equal(t, seq, initResp.RequestSeq)
	assert.True(t, initResp.Success)

	assert.True(t, initResp.Body.SupportsConfigurationDoneRequest)
	assert.False(t, initResp.Body.SupportsConditionalBreakpoints)
	assert.False(t, initResp.Body.SupportsFunctionBreakpoints)
	assert.False(t, initResp.Body.SupportsEvaluateForHovers)
	assert.False(t, initResp.Body.SupportsStepBack)
	assert.False(t, initResp.Body.SupportsSetVariable)
}

func TestInitializeRejectsURIPathFormat(t *testing.T) {
	t.Parallel()

	telemetry := &fakeTelemetry{}
	_, client, _ := startTestSession(t, Config{Telemetry: telemetry})

	seq := client.sendRequest("initialize", `{"adapterID":"test","pathFormat":"uri"}`)
	resp := client.readRawResponse()

	assert.Equal(t, seq, resp.RequestSeq)
	assert.False(t, resp.Success)
	assert.Equal(t, "debug adapter only supports native paths", resp.Message)

	require.NotNil(t, resp.Body.Error)
	assert.Equal(t, ErrorIDUnsupportedPathFormat, resp.Body.Error.Id)
	assert.True(t, resp.Body.Error.SendTelemetry)
	assert.False(t, resp.Body.Error.ShowUser)

	reported := telemetry.reported()
	require.Len(t, reported, 1)
	assert.Equal(t, ErrorIDUnsupportedPathFormat, reported[0].Id)
}

func TestInitializeAppliesClientConventions(t *testing.T) {
	t.Parallel()

	t.Run("explicit 0-based client lines", func(t *testing.T) {
		sess, client, _ := startTestSession(t, Config{})

		seq := client.sendRequest("initialize", `{"adapterID":"test","pathFormat":"path","linesStartAt1":false,"columnsStartAt1":false}`)
		resp := client.expectResponse(seq)
		require.True(t, resp.Success)

		// Debugger side stays 1-based, so debugger line 5 becomes
		// client line 4.
		assert.Equal(t, 4, sess.DebuggerLineToClient(5))
		assert.Equal(t, 4, sess.DebuggerColumnToClient(5))
		assert.Equal(t, 6, sess.ClientLineToDebugger(5))
	})

	t.Run("absent fields keep defaults", func(t *testing.T) {
		sess, client, _ := startTestSession(t, Config{})

		seq := client.sendRequest("initialize", `{"adapterID":"test"}`)
		resp := client.expectResponse(seq)
		require.True(t, resp.Success)

		assert.Equal(t, 5, sess.DebuggerLineToClient(5))
		assert.Equal(t, 5, sess.ClientColumnToDebugger(5))
	})

	t.Run("conventions freeze after initialize", func(t *testing.T) {
		sess, client, _ := startTestSession(t, Config{})

		sess.SetDebuggerLinesStartAt1(false)
		assert.Equal(t, 6, sess.DebuggerLineToClient(5))

		seq := client.sendRequest("initialize", `{"adapterID":"test"}`)
		client.expectResponse(seq)

		// Post-handshake convention changes are ignored.
		sess.SetDebuggerLinesStartAt1(true)
		assert.Equal(t, 6, sess.DebuggerLineToClient(5))
	})
}

func TestUnrecognizedCommandIsRejected(t *testing.T) {
	t.Parallel()

	telemetry := &fakeTelemetry{}
	_, client, _ := startTestSession(t, Config{Telemetry: telemetry})

	seq := client.sendRequest("fancyNonexistentRequest", `{"value":42}`)
	resp := client.readRawResponse()

	assert.Equal(t, seq, resp.RequestSeq)
	assert.Equal(t, "fancyNonexistentRequest", resp.Command)
	assert.False(t, resp.Success)
	assert.Equal(t, "unrecognized request", resp.Message)

	require.NotNil(t, resp.Body.Error)
	assert.Equal(t, ErrorIDUnrecognizedRequest, resp.Body.Error.Id)
	assert.True(t, resp.Body.Error.SendTelemetry)

	require.Len(t, telemetry.reported(), 1)
}

// customHandler extends the defaults with one adapter-specific command.
type customHandler struct {
	BaseHandler
}

func (customHandler) Custom(s *Session, resp *dap.Response, command string, args json.RawMessage) error {
	if command != "pingpong" {
		return BaseHandler{}.Custom(s, resp, command, args)
	}
	return s.Send(resp)
}

func TestCustomHandlerExtensionPoint(t *testing.T) {
	t.Parallel()

	_, client, _ := startTestSession(t, Config{Handler: customHandler{}})

	seq := client.sendRequest("pingpong", `{"payload":"x"}`)
	resp := client.readRawResponse()
	assert.Equal(t, seq, resp.RequestSeq)
	assert.Equal(t, "pingpong", resp.Command)
	assert.True(t, resp.Success)

	// Other unknown commands still fall through to the default rejection.
	seq = client.sendRequest("stillUnknown", "")
	resp = client.readRawResponse()
	assert.Equal(t, seq, resp.RequestSeq)
	assert.False(t, resp.Success)
	assert.Equal(t, ErrorIDUnrecognizedRequest, resp.Body.Error.Id)
}

// failingHandler fails launch requests with a plain error.
type failingHandler struct {
	BaseHandler
}

func (failingHandler) Launch(s *Session, resp *dap.LaunchResponse, args json.RawMessage) error {
	return fmt.Errorf("launch exploded")
}

func TestHandlerErrorBecomesDispatchFailure(t *testing.T) {
	t.Parallel()

	_, client, _ := startTestSession(t, Config{Handler: failingHandler{}})

	seq := client.sendRequest("launch", `{}`)
	resp := client.readRawResponse()

	assert.Equal(t, seq, resp.RequestSeq)
	assert.False(t, resp.Success)

	require.NotNil(t, resp.Body.Error)
	errMsg := resp.Body.Error
	assert.Equal(t, ErrorIDDispatchFailure, errMsg.Id)
	assert.True(t, errMsg.SendTelemetry)
	assert.Equal(t, "launch exploded", errMsg.Variables["_exception"])
	assert.NotEmpty(t, errMsg.Variables["_stack"])

	// Both variables are redaction-exempt: the telemetry rendering keeps
	// the fault detail.
	redacted := pii.Format(errMsg.Format, true, errMsg.Variables)
	assert.Contains(t, redacted, "launch exploded")

	// The session survives the fault.
	seq = client.sendRequest("threads", "")
	threadsResp := client.expectResponse(seq)
	assert.True(t, threadsResp.Success)
}

// panickyHandler panics on threads requests.
type panickyHandler struct {
	BaseHandler
}

func (panickyHandler) Threads(s *Session, resp *dap.ThreadsResponse) error {
	panic("threads are overrated")
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	t.Parallel()

	_, client, _ := startTestSession(t, Config{Handler: panickyHandler{}})

	for i := 0; i < 2; i++ {
		seq := client.sendRequest("threads", "")
		resp := client.readRawResponse()

		assert.Equal(t, seq, resp.RequestSeq)
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Body.Error)
		assert.Equal(t, ErrorIDDispatchFailure, resp.Body.Error.Id)
		assert.Contains(t, resp.Body.Error.Variables["_exception"], "threads are overrated")
	}
}

// suspendingHandler parks next requests until released, proving that a
// suspended handler neither blocks routing nor forces response order.
type suspendingHandler struct {
	BaseHandler
	release chan struct{}
}

func (h *suspendingHandler) Next(s *Session, resp *dap.NextResponse, args *dap.NextArguments) error {
	go func() {
		<-h.release
		_ = s.Send(resp)
	}()
	return nil
}

func TestSuspendedHandlerDoesNotBlockDispatch(t *testing.T) {
	t.Parallel()

	handler := &suspendingHandler{release: make(chan struct{})}
	_, client, _ := startTestSession(t, Config{Handler: handler})

	nextSeq := client.sendRequest("next", `{"threadId":1}`)
	threadsSeq := client.sendRequest("threads", "")

	// The threads response overtakes the suspended next handler.
	resp := client.expectResponse(threadsSeq)
	assert.True(t, resp.Success)

	close(handler.release)
	resp = client.expectResponse(nextSeq)
	assert.True(t, resp.Success)
	assert.Equal(t, "next", resp.Command)
}

// eventfulHandler emits a stopped event before answering pause.
type eventfulHandler struct {
	BaseHandler
}

func (eventfulHandler) Pause(s *Session, resp *dap.PauseResponse, args *dap.PauseArguments) error {
	if sendErr := s.SendEvent(NewStoppedEvent("pause", args.ThreadId, "")); sendErr != nil {
		return sendErr
	}
	return s.Send(resp)
}

func TestEventsInterleaveWithResponses(t *testing.T) {
	t.Parallel()

	_, client, _ := startTestSession(t, Config{Handler: eventfulHandler{}})

	seq := client.sendRequest("pause", `{"threadId":7}`)

	msg := client.readMessage()
	stopped, ok := msg.(*dap.StoppedEvent)
	require.True(t, ok)
	assert.Equal(t, "pause", stopped.Body.Reason)
	assert.Equal(t, 7, stopped.Body.ThreadId)

	resp := client.expectResponse(seq)
	assert.True(t, resp.Success)
}

func TestDisconnectShutsSessionDown(t *testing.T) {
	t.Parallel()

	sess, client, runDone := startTestSession(t, Config{})

	seq := client.sendRequest("disconnect", `{}`)
	resp := client.expectResponse(seq)
	assert.True(t, resp.Success)

	select {
	case runErr := <-runDone:
		assert.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut down after disconnect")
	}

	select {
	case <-sess.Done():
	default:
		t.Fatal("session done channel not closed")
	}
}

func TestSendAfterShutdownFails(t *testing.T) {
	t.Parallel()

	sess, _, _ := startTestSession(t, Config{})

	sess.Shutdown()
	sendErr := sess.SendEvent(NewTerminatedEvent())
	assert.ErrorIs(t, sendErr, ErrSessionClosed)
}

func TestSessionPathConversion(t *testing.T) {
	t.Parallel()

	sess, client, _ := startTestSession(t, Config{})

	// Debugger side set to URIs before the handshake; client side stays on
	// native paths.
	sess.SetDebuggerPathFormat(PathFormatURI)

	seq := client.sendRequest("initialize", `{"adapterID":"test"}`)
	require.True(t, client.expectResponse(seq).Success)

	assert.Equal(t, "file:///src/main.go", sess.ClientPathToDebugger("/src/main.go"))
	assert.Equal(t, "/src/main.go", sess.DebuggerPathToClient("file:///src/main.go"))
}

func TestOutboundSequenceNumbersAreMonotonic(t *testing.T) {
	t.Parallel()

	_, client, _ := startTestSession(t, Config{})

	lastSeq := 0
	for i := 0; i < 5; i++ {
		seq := client.sendRequest("threads", "")
		resp := client.expectResponse(seq)
		assert.Greater(t, resp.Seq, lastSeq)
		lastSeq = resp.Seq
	}
}
