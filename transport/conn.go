package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scylladb/go-cql-core/frame"
	"github.com/scylladb/go-cql-core/frame/request"
	"github.com/scylladb/go-cql-core/frame/response"
)

// connState is the connection lifecycle state machine of §4.2: a fresh
// socket moves NEW -> CONNECTING -> HANDSHAKING -> READY, then eventually
// CLOSING -> CLOSED on a voluntary close, or straight to DEFUNCT on an
// unrecoverable I/O error.
type connState int32

const (
	stateNew connState = iota
	stateConnecting
	stateHandshaking
	stateReady
	stateClosing
	stateClosed
	stateDefunct
)

func (s connState) String() string {
	switch s {
	case stateNew:
		return "NEW"
	case stateConnecting:
		return "CONNECTING"
	case stateHandshaking:
		return "HANDSHAKING"
	case stateReady:
		return "READY"
	case stateClosing:
		return "CLOSING"
	case stateClosed:
		return "CLOSED"
	case stateDefunct:
		return "DEFUNCT"
	default:
		return "UNKNOWN"
	}
}

// wireResponse is one parsed frame routed back to whoever owns its stream id.
type wireResponse struct {
	frame.Header
	frame.Response
	Err      error
	TraceID  frame.UUID
	HasTrace bool
}

type responseHandler chan wireResponse

// pendingRequest is a request queued for the writer goroutine.
type pendingRequest struct {
	frame.Request
	StreamID        frame.StreamID
	Compress        bool
	Tracing         bool
	ResponseHandler responseHandler
}

// ConnectionListener receives a connection's terminal close and any
// server-pushed events it was registered for (§4.2, §4.6).
type ConnectionListener interface {
	OnClose(c *Connection, err error)
	OnEvent(c *Connection, ev *response.Event)
}

const (
	writeQueueSize = 1024
	ioBufferSize   = 8192
)

// Connection owns one CQL socket: a writer goroutine serializing requests
// onto the wire and a reader goroutine demultiplexing responses by stream id
// back to their caller, generalizing the teacher's connWriter/connReader
// split to carry compression, protocol negotiation, a keyspace and a
// listener contract instead of a fixed hard-coded response set.
type Connection struct {
	host *Host
	cfg  ConnConfig

	conn  net.Conn
	proto byte

	streams *streamManager
	writeCh chan pendingRequest

	state atomic.Int32

	keyspace atomic.Pointer[string]

	listenerMu sync.RWMutex
	listener   ConnectionListener

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  atomic.Pointer[error]
}

func (c *Connection) State() connState { return connState(c.state.Load()) }

func (c *Connection) setState(s connState) { c.state.Store(int32(s)) }

// Host returns the host this connection belongs to.
func (c *Connection) Host() *Host { return c.host }

// Keyspace returns the keyspace last successfully set with SetKeyspace, or
// "" if none.
func (c *Connection) Keyspace() string {
	if p := c.keyspace.Load(); p != nil {
		return *p
	}
	return ""
}

// SetListener installs the connection's event/close listener.
func (c *Connection) SetListener(l ConnectionListener) {
	c.listenerMu.Lock()
	c.listener = l
	c.listenerMu.Unlock()
}

// DialConnection opens a socket to addr, performs protocol negotiation and
// the CQL handshake (OPTIONS -> STARTUP -> [AUTHENTICATE exchange] ->
// [USE keyspace]), and returns a READY connection (§4.2, §4.6).
func DialConnection(ctx context.Context, addr string, host *Host, cfg ConnConfig) (*Connection, error) {
	c := &Connection{
		host:    host,
		cfg:     cfg,
		streams: newStreamManager(),
		writeCh: make(chan pendingRequest, writeQueueSize),
		closed:  make(chan struct{}),
	}
	c.setState(stateConnecting)
	cfg.Metrics.incConnectionAttempts(addr)

	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		cfg.Metrics.incConnectionFailures(addr)
		return nil, &ConnectionError{Addr: addr, Err: fmt.Errorf("dial: %w", err)}
	}
	if tc, ok := rawConn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	if cfg.TLSConfig != nil {
		tlsConn := tls.Client(rawConn, cfg.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = rawConn.Close()
			cfg.Metrics.incConnectionFailures(addr)
			return nil, &ConnectionError{Addr: addr, Err: fmt.Errorf("tls handshake: %w", err)}
		}
		rawConn = tlsConn
	}
	c.conn = rawConn

	go c.writeLoop()
	go c.readLoop()

	c.setState(stateHandshaking)
	if err := c.handshake(ctx); err != nil {
		cfg.Metrics.incConnectionFailures(addr)
		c.abort(err)
		return nil, err
	}

	c.setState(stateReady)
	return c, nil
}

// negotiateProtocols is the descending sequence a handshake retries STARTUP
// against when the server rejects the initially-offered version with a
// PROTOCOL_ERROR (§4.6 "protocol negotiation/downgrade").
func (c *Connection) negotiateProtocols() []byte {
	if c.cfg.ProtoVersion != 0 {
		return []byte{c.cfg.ProtoVersion}
	}
	var out []byte
	for v := frame.MaxSupportedProtocol; v >= frame.MinSupportedProtocol; v-- {
		out = append(out, v)
	}
	return out
}

func (c *Connection) handshake(ctx context.Context) error {
	versions := c.negotiateProtocols()
	var lastErr error
	for _, v := range versions {
		c.proto = v
		if err := c.startup(ctx); err != nil {
			if respErr, ok := err.(*response.Error); ok && respErr.Code() == response.ErrCodeProtocol {
				lastErr = err
				continue
			}
			return err
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrUnableToDetermineProtocol, lastErr)
	}

	if c.cfg.Keyspace != "" {
		if err := c.SetKeyspace(ctx, c.cfg.Keyspace); err != nil {
			return fmt.Errorf("%w: %v", ErrUnableToSetKeyspace, err)
		}
	}
	return nil
}

func (c *Connection) startup(ctx context.Context) error {
	opts, _, _, err := c.dispatch(ctx, &request.Options{}, false, false)
	if err != nil {
		return err
	}
	switch r := opts.(type) {
	case *response.Supported:
	case *response.Error:
		return r
	default:
		return responseAsError(opts)
	}

	resp, _, _, err := c.dispatch(ctx, &request.Startup{Options: c.cfg.startupOptions()}, false, false)
	if err != nil {
		return err
	}
	switch r := resp.(type) {
	case *response.Ready:
		return nil
	case *response.Authenticate:
		return c.authenticate(ctx, r)
	case *response.Error:
		return r
	default:
		return responseAsError(resp)
	}
}

func (c *Connection) authenticate(ctx context.Context, auth *response.Authenticate) error {
	if c.cfg.Authenticator == nil {
		return fmt.Errorf("%w: server requires authentication (%s) but none configured", ErrUnableToConnect, auth.Authenticator)
	}
	token, err := c.cfg.Authenticator.Challenge(auth.Authenticator)
	if err != nil {
		return fmt.Errorf("authenticator challenge: %w", err)
	}
	for {
		resp, _, _, err := c.dispatch(ctx, &request.AuthResponse{Token: token}, false, false)
		if err != nil {
			return err
		}
		switch r := resp.(type) {
		case *response.AuthSuccess:
			return nil
		case *response.AuthChallenge:
			// The core's Authenticator contract is single-round; a
			// multi-round SASL exchange would re-invoke Challenge here.
			// No authenticator in this core needs more than one round.
			return fmt.Errorf("unsupported multi-round authentication challenge")
		case *response.Error:
			return r
		default:
			return responseAsError(resp)
		}
	}
}

// SetKeyspace issues a USE statement and, on success, records the new
// keyspace so pool members can report their current keyspace to the pool
// manager (§4.2 "Keyspace safety").
func (c *Connection) SetKeyspace(ctx context.Context, keyspace string) error {
	resp, err := c.Execute(ctx, &request.Query{
		Content: fmt.Sprintf(`USE "%s"`, keyspace),
		Params:  request.QueryParams{Consistency: frame.ONE},
	}, RequestOptions{})
	if err != nil {
		return err
	}
	if e, ok := resp.(*response.Error); ok {
		return e
	}
	ks := keyspace
	c.keyspace.Store(&ks)
	return nil
}

// RequestOptions customizes one Execute call.
type RequestOptions struct {
	Compress bool
	Timeout  time.Duration
	Tracing  bool
}

// Execute sends req and waits for its response, honoring ctx and, if set,
// opts.Timeout (falling back to cfg.RequestTimeout). It discards any trace id
// the response carries; callers that need it use ExecuteTraced.
func (c *Connection) Execute(ctx context.Context, req frame.Request, opts RequestOptions) (frame.Response, error) {
	resp, _, _, err := c.execute(ctx, req, opts)
	return resp, err
}

// ExecuteTraced behaves like Execute but also reports whether the response
// carried a trace id (FlagTracing, §4.8 "tracing") and what it was, so a
// caller that set opts.Tracing can wait for the trace session to land.
func (c *Connection) ExecuteTraced(ctx context.Context, req frame.Request, opts RequestOptions) (frame.Response, frame.UUID, bool, error) {
	return c.execute(ctx, req, opts)
}

func (c *Connection) execute(ctx context.Context, req frame.Request, opts RequestOptions) (frame.Response, frame.UUID, bool, error) {
	if c.State() != stateReady && c.State() != stateHandshaking {
		return nil, frame.UUID{}, false, ErrConnectionClosed
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.cfg.RequestTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.dispatch(ctx, req, opts.Compress, opts.Tracing)
}

func (c *Connection) dispatch(ctx context.Context, req frame.Request, compress, tracing bool) (frame.Response, frame.UUID, bool, error) {
	h := make(responseHandler, 1)
	streamID, err := c.streams.acquire(h)
	if err != nil {
		c.cfg.Metrics.incStreamsExhausted(c.addr())
		return nil, frame.UUID{}, false, err
	}

	select {
	case c.writeCh <- pendingRequest{Request: req, StreamID: streamID, Compress: compress, Tracing: tracing, ResponseHandler: h}:
	case <-ctx.Done():
		c.streams.release(streamID)
		return nil, frame.UUID{}, false, ctx.Err()
	case <-c.closed:
		c.streams.release(streamID)
		return nil, frame.UUID{}, false, ErrConnectionClosed
	}

	// The stream id is released by readLoop once the matching response
	// arrives, not here: the protocol has no request-cancellation, so a
	// client-side timeout can only stop waiting, not reclaim the id early
	// (reusing it before the server's real reply would misroute that reply
	// to whatever new request took the id next).
	select {
	case resp := <-h:
		return resp.Response, resp.TraceID, resp.HasTrace, resp.Err
	case <-ctx.Done():
		return nil, frame.UUID{}, false, ctx.Err()
	case <-c.closed:
		return nil, frame.UUID{}, false, ErrConnectionClosed
	}
}

func (c *Connection) addr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// writeLoop serializes queued requests onto the socket one at a time.
func (c *Connection) writeLoop() {
	var buf frame.Buffer
	for {
		select {
		case r, ok := <-c.writeCh:
			if !ok {
				return
			}
			if err := c.writeRequest(&buf, r); err != nil {
				r.ResponseHandler <- wireResponse{Err: &ConnectionError{Addr: c.addr(), Err: err}}
				c.abort(err)
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) writeRequest(buf *frame.Buffer, r pendingRequest) error {
	buf.Reset()

	var flags byte
	body := &frame.Buffer{}
	r.WriteTo(body)

	payload := body.Bytes()
	if r.Tracing {
		flags |= frame.FlagTracing
	}
	if r.Compress && c.cfg.Compressor != nil {
		var compressed frame.Buffer
		if err := c.cfg.Compressor.Compress(&compressed, payload); err != nil {
			return fmt.Errorf("compress request: %w", err)
		}
		payload = compressed.Bytes()
		flags |= frame.FlagCompression
	}

	hdr := frame.Header{
		Version:  c.proto,
		Flags:    flags,
		StreamID: r.StreamID,
		OpCode:   r.OpCode(),
	}
	hdr.WriteTo(buf)
	_, _ = buf.Write(payload)

	out := buf.Bytes()
	binary.BigEndian.PutUint32(out[5:9], uint32(len(out)-frame.HeaderSize))

	_, err := frame.CopyBuffer(buf, c.conn)
	return err
}

// readLoop demultiplexes incoming frames by stream id, routing event pushes
// (stream id -1) to the listener instead of a pending handler.
func (c *Connection) readLoop() {
	r := bufio.NewReaderSize(c.conn, ioBufferSize)
	var hdrBuf frame.Buffer

	for {
		resp, err := c.recv(r, &hdrBuf)
		if err != nil {
			c.abort(err)
			return
		}

		if resp.Header.StreamID < 0 {
			if ev, ok := resp.Response.(*response.Event); ok {
				c.listenerMu.RLock()
				l := c.listener
				c.listenerMu.RUnlock()
				if l != nil {
					l.OnEvent(c, ev)
				}
			}
			continue
		}

		if h, ok := c.streams.get(resp.Header.StreamID); ok {
			c.streams.release(resp.Header.StreamID)
			h <- resp
		}
		// An unmatched stream id means the connection was closed between
		// acquire and this response arriving; it is simply dropped.
	}
}

func (c *Connection) recv(r *bufio.Reader, hdrBuf *frame.Buffer) (wireResponse, error) {
	hdrBuf.Reset()
	if _, err := io.CopyN(hdrBuf, r, frame.HeaderSize); err != nil {
		return wireResponse{}, fmt.Errorf("read header: %w", err)
	}
	hdr := frame.ParseHeader(hdrBuf)
	if err := hdrBuf.Error(); err != nil {
		return wireResponse{}, fmt.Errorf("parse header: %w", err)
	}

	var bodyBuf frame.Buffer
	if hdr.Length > 0 {
		if _, err := io.CopyN(&bodyBuf, r, int64(hdr.Length)); err != nil {
			return wireResponse{}, fmt.Errorf("read body: %w", err)
		}
	}

	payload := bodyBuf.Bytes()
	if hdr.Flags&frame.FlagCompression != 0 && c.cfg.Compressor != nil {
		decompressed, err := c.cfg.Compressor.Decompress(payload)
		if err != nil {
			return wireResponse{}, fmt.Errorf("decompress response: %w", err)
		}
		bodyBuf = frame.Buffer{}
		_, _ = bodyBuf.Write(decompressed)
	}

	// The trace id, when present, is the first thing after the header in the
	// (already decompressed) body — it must be read before opcode-specific
	// parsing touches the buffer (§4.8 "tracing").
	var traceID frame.UUID
	hasTrace := hdr.Flags&frame.FlagTracing != 0
	if hasTrace {
		traceID = bodyBuf.ReadUUID()
		if err := bodyBuf.Error(); err != nil {
			return wireResponse{}, fmt.Errorf("parse trace id: %w", err)
		}
	}

	body, err := parseBody(hdr.OpCode, &bodyBuf)
	if err != nil {
		return wireResponse{}, err
	}
	return wireResponse{Header: hdr, Response: body, TraceID: traceID, HasTrace: hasTrace}, nil
}

func parseBody(op frame.OpCode, b *frame.Buffer) (frame.Response, error) {
	var resp frame.Response
	switch op {
	case frame.OpError:
		resp = response.ParseError(b)
	case frame.OpReady:
		resp = response.ParseReady(b)
	case frame.OpAuthenticate:
		resp = response.ParseAuthenticate(b)
	case frame.OpAuthSuccess:
		resp = response.ParseAuthSuccess(b)
	case frame.OpAuthChallenge:
		resp = response.ParseAuthChallenge(b)
	case frame.OpSupported:
		resp = response.ParseSupported(b)
	case frame.OpResult:
		resp = response.ParseResult(b)
	case frame.OpEvent:
		resp = response.ParseEvent(b)
	default:
		return nil, fmt.Errorf("unsupported response opcode 0x%02x", op)
	}
	if err := b.Error(); err != nil {
		return nil, fmt.Errorf("parse body (opcode 0x%02x): %w", op, err)
	}
	return resp, nil
}

// abort marks the connection DEFUNCT, fails every pending request, and
// notifies the listener exactly once (§4.2 "Single-completion").
func (c *Connection) abort(err error) {
	c.closeOnce.Do(func() {
		c.setState(stateDefunct)
		c.closeErr.Store(&err)
		close(c.closed)
		_ = c.conn.Close()
		c.cfg.Metrics.incConnectionDrops(c.addr())

		for _, h := range c.streams.drain() {
			h <- wireResponse{Err: ErrConnectionClosed}
		}

		c.listenerMu.RLock()
		l := c.listener
		c.listenerMu.RUnlock()
		if l != nil {
			l.OnClose(c, err)
		}
	})
}

// Close gracefully closes the connection (§4.2 "Single-completion").
func (c *Connection) Close() error {
	c.setState(stateClosing)
	c.abort(ErrConnectionClosed)
	c.setState(stateClosed)
	return nil
}
