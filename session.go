package wsproto

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	handshakeTimeout   = 5 * time.Second
	closeTimeout       = 1 * time.Second
	clientCloseGrace   = 1 * time.Second
	defaultReadBufSize = 4096
)

var (
	ErrSessionNotOpen  = errors.New("wsproto: session is not OPEN")
	ErrSessionClosed   = errors.New("wsproto: session is CLOSED")
	ErrAlreadyNegotiated = errors.New("wsproto: subprotocol/extension selection only allowed during Validate")
)

// Session is the central entity of this library: it owns one full-duplex
// TCP connection and drives it from the opening handshake through framed
// message exchange to the closing handshake (spec §2/§3).
type Session struct {
	ID   string
	role Role

	conn net.Conn
	br   *bufio.Reader

	endpoint *Endpoint
	limiter  *rate.Limiter

	// mu guards everything below that mutates after construction. Per §5
	// all Session state is otherwise touched only from this Session's own
	// read loop, so the lock here exists solely to let application
	// goroutines call Send/Close/SetHandler concurrently with that loop,
	// not to protect against other Sessions.
	mu      sync.Mutex
	writeMu sync.Mutex
	writer  *FrameWriter
	parser  *FrameParser

	state State

	resource     string
	origin       string
	version      int
	subprotocol  string
	extensions   []string
	clientHeaders *Header
	serverHeaders *Header
	duringValidate bool

	localCloseCode   CloseStatus
	localCloseReason string
	remoteCloseCode  CloseStatus
	remoteCloseReason string
	closedByMe  bool
	droppedByMe bool
	wasClean    bool

	fragmented     bool
	currentOpcode  Opcode
	currentPayload []byte
	utf8           utf8State

	handler Handler

	handshakeTimer *time.Timer
	closeTimer     *time.Timer
}

// NewSession creates a Session in state CONNECTING for an accepted TCP
// connection. The acceptor (server.go) still must call Run to drive the
// handshake and read loop.
func NewSession(conn net.Conn, role Role, endpoint *Endpoint, handler Handler) *Session {
	s := &Session{
		ID:            uuid.NewString(),
		role:          role,
		conn:          conn,
		br:            bufio.NewReaderSize(conn, defaultReadBufSize),
		endpoint:      endpoint,
		limiter:       endpoint.NewLimiter(),
		state:         StateConnecting,
		serverHeaders: NewHeader(),
		utf8:          newUTF8State(),
	}
	s.parser = NewFrameParser(role)
	s.SetHandler(handler)
	return s
}

// SetHandler hot-swaps the application callback. If the Session is already
// OPEN it synchronously fires OnOpen on the new handler (SPEC_FULL.md §C.1).
func (s *Session) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	open := s.state == StateOpen
	s.mu.Unlock()
	if open && h != nil {
		h.OnOpen(s)
	}
}

// State returns the Session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.state = next
}

// Resource, Origin, Version, Subprotocol, Extensions, ClientHeader expose
// the immutable handshake facts recorded once the Session reaches OPEN.
func (s *Session) Resource() string      { return s.resource }
func (s *Session) Origin() string        { return s.origin }
func (s *Session) Version() int          { return s.version }
func (s *Session) Subprotocol() string   { return s.subprotocol }
func (s *Session) Extensions() []string  { return s.extensions }
func (s *Session) ClientHeader(name string) string {
	if s.clientHeaders == nil {
		return ""
	}
	return s.clientHeaders.Get(name)
}

// SetHeader sets a header the server will send on a successful handshake
// response. Calls naming a reserved header (Upgrade, Connection,
// Sec-WebSocket-Accept, Server) are ignored (§4.1, §6).
func (s *Session) SetHeader(name, value string) {
	if reservedResponseHeaders[normalizeHeaderName(name)] {
		return
	}
	s.serverHeaders.Set(name, value)
}

func normalizeHeaderName(name string) string { return foldKey(name) }

// SelectSubprotocol chooses the negotiated subprotocol. Callable only from
// within Handler.Validate; name must be empty or one the client proposed.
func (s *Session) SelectSubprotocol(name string) error {
	if !s.duringValidate {
		return ErrAlreadyNegotiated
	}
	if name == "" {
		s.subprotocol = ""
		return nil
	}
	for _, p := range s.clientHeadersSubprotocols() {
		if p == name {
			s.subprotocol = name
			return nil
		}
	}
	return errors.New("wsproto: subprotocol not proposed by client")
}

// SelectExtension appends an accepted extension. Callable only from within
// Handler.Validate; name must be one the client proposed.
func (s *Session) SelectExtension(name string) error {
	if !s.duringValidate {
		return ErrAlreadyNegotiated
	}
	if name == "" {
		return nil
	}
	for _, e := range s.clientHeadersExtensions() {
		if e == name {
			s.extensions = append(s.extensions, name)
			return nil
		}
	}
	return errors.New("wsproto: extension not proposed by client")
}

func (s *Session) clientHeadersSubprotocols() []string {
	return splitTokens(s.clientHeaders.Get("Sec-WebSocket-Protocol"))
}

func (s *Session) clientHeadersExtensions() []string {
	return splitTokens(s.clientHeaders.Get("Sec-WebSocket-Extensions"))
}

// CloseInfo reports the close bookkeeping fields from §3, for tests and
// diagnostics.
func (s *Session) CloseInfo() (closedByMe, droppedByMe, wasClean bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedByMe, s.droppedByMe, s.wasClean
}

// Run drives the Session from CONNECTING through the handshake and, on
// success, the frame read loop, blocking until the Session reaches CLOSED.
// The acceptor calls this on a dedicated goroutine per Session (§5).
func (s *Session) Run() {
	if err := s.runHandshake(); err != nil {
		s.endpoint.AccessLog(ChannelHandshake, "handshake failed", zap.Error(err), zap.String("session", s.ID))
		s.mu.Lock()
		s.setState(StateClosed)
		handler := s.handler
		s.mu.Unlock()
		s.dropTCP(true)
		if handler != nil {
			handler.OnClose(s)
		}
		return
	}
	s.readLoop()
}

func (s *Session) runHandshake() error {
	s.handshakeTimer = time.AfterFunc(handshakeTimeout, func() {
		s.dropTCP(true)
	})
	defer s.cancelHandshakeTimer()

	var buf []byte
	for {
		chunk := make([]byte, defaultReadBufSize)
		n, err := s.br.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if req, consumed, perr := ParseHandshakeRequest(buf); perr == nil {
				return s.completeHandshake(req, buf[consumed:])
			} else if !errors.Is(perr, ErrIncompleteRequest) {
				s.writeFailure(400, perr)
				return perr
			}
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) writeFailure(status int, err error) {
	var he *HandshakeError
	reason := ""
	if errors.As(err, &he) {
		status = he.Status
		reason = he.Reason
	}
	s.conn.Write(buildFailureResponse(status, reason))
}

func (s *Session) completeHandshake(req *HandshakeRequest, leftover []byte) error {
	if err := ValidateHandshake(req, s.endpoint); err != nil {
		s.writeFailure(400, err)
		return err
	}

	s.clientHeaders = req.Headers
	s.resource = req.Resource
	s.origin = req.Origin
	s.version = req.Version
	s.extensions = nil
	s.subprotocol = ""

	if s.handler != nil {
		s.duringValidate = true
		verr := s.handler.Validate(s)
		s.duringValidate = false
		if verr != nil {
			status := 400
			var he *HandshakeError
			if errors.As(verr, &he) {
				status = he.Status
			}
			s.writeFailure(status, verr)
			return verr
		}
	}

	resp := buildSuccessResponse(req.Key, s.subprotocol, s.serverHeaders)
	if _, err := s.conn.Write(resp); err != nil {
		return err
	}

	s.mu.Lock()
	s.setState(StateOpen)
	s.writer = NewFrameWriter(s.conn, s.role, s.endpoint.Rng)
	s.mu.Unlock()

	s.endpoint.AccessLog(ChannelHandshake, "handshake complete",
		zap.String("session", s.ID), zap.String("resource", s.resource),
		zap.Int("version", s.version), zap.String("user_agent", req.Headers.Get("User-Agent")))

	if s.handler != nil {
		s.handler.OnOpen(s)
	}

	for len(leftover) > 0 {
		used, err := s.parser.Consume(leftover)
		if err != nil {
			s.failFrame(err)
			return nil
		}
		leftover = leftover[used:]
		s.drainReadyFrames()
	}
	return nil
}

func (s *Session) cancelHandshakeTimer() {
	if s.handshakeTimer != nil {
		s.handshakeTimer.Stop()
	}
}

// readLoop consumes bytes from the socket and dispatches complete frames in
// wire order until the Session reaches CLOSED or a transport error occurs
// (§4.5 "Read loop").
func (s *Session) readLoop() {
	buf := make([]byte, defaultReadBufSize)
	for {
		s.mu.Lock()
		state := s.state
		s.mu.Unlock()
		if state == StateClosed {
			return
		}

		n, err := s.br.Read(buf)
		data := buf[:n]
		for len(data) > 0 {
			used, cerr := s.parser.Consume(data)
			if cerr != nil {
				s.failFrame(cerr)
				break
			}
			data = data[used:]
			if s.parser.Ready() && s.limiter != nil && !s.limiter.Allow() {
				s.closeLocal(ClosePolicyViolation, "rate limit exceeded")
			}
			s.drainReadyFrames()
		}
		if err != nil {
			s.handleTransportError(err)
			return
		}
	}
}

func (s *Session) drainReadyFrames() {
	for s.parser.Ready() {
		frame := s.parser.Frame()
		s.parser.Reset()
		if err := s.dispatch(frame); err != nil {
			s.failFrame(err)
			return
		}
		s.mu.Lock()
		closed := s.state == StateClosed
		s.mu.Unlock()
		if closed {
			return
		}
	}
}

func (s *Session) failFrame(err error) {
	var fe *FrameError
	if !errors.As(err, &fe) {
		s.endpoint.Log(LevelError, "unexpected error", zap.Error(err), zap.String("session", s.ID))
		s.dropTCP(true)
		return
	}
	switch fe.Kind {
	case ProtocolViolation:
		s.closeLocal(CloseProtocolError, fe.Error())
	case PayloadViolation:
		s.closeLocal(CloseInvalidPayload, fe.Error())
	case SoftSessionError:
		s.endpoint.Log(LevelWarn, "soft session error", zap.Error(fe), zap.String("session", s.ID))
		s.parser.Reset()
	case InternalServerError:
		s.closeLocal(CloseInternalEndpointErr, fe.Error())
	case FatalSessionError:
		s.dropTCP(true)
	}
}

func (s *Session) handleTransportError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(err, io.EOF) {
		if s.state != StateClosed {
			s.wasClean = false
			s.finishLocked()
		}
		return
	}
	if errors.Is(err, net.ErrClosed) {
		return
	}
	s.endpoint.Log(LevelWarn, "transport error", zap.Error(err), zap.String("session", s.ID))
	s.finishLocked()
}

// dispatch implements the inbound opcode dispatch of §4.3/§4.4.
func (s *Session) dispatch(frame *Frame) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateClosing {
		if frame.Opcode == OpcodeClose {
			return s.handleClose(frame)
		}
		return nil // drained silently, in-flight frames we haven't drained
	}
	if state != StateOpen {
		return nil
	}

	switch frame.Opcode {
	case OpcodeContinuation:
		return s.handleContinuation(frame)
	case OpcodeText:
		return s.handleDataStart(frame, MessageText)
	case OpcodeBinary:
		return s.handleDataStart(frame, MessageBinary)
	case OpcodePing:
		return s.handlePing(frame)
	case OpcodePong:
		return s.handlePong(frame)
	case OpcodeClose:
		return s.handleClose(frame)
	}
	return nil
}

func (s *Session) handleDataStart(frame *Frame, kind MessageKind) error {
	if s.fragmented {
		return newFrameError(ProtocolViolation, errors.New("wsproto: data frame received mid-fragmented message"))
	}
	s.currentOpcode = frame.Opcode
	s.utf8 = newUTF8State()

	if frame.Fin {
		return s.deliver(frame.Payload, kind)
	}

	s.fragmented = true
	s.currentPayload = append([]byte(nil), frame.Payload...)
	if kind == MessageText {
		next, err := validateUTF8Fragment(s.utf8, frame.Payload)
		if err != nil {
			return err
		}
		s.utf8 = next
	}
	return nil
}

func (s *Session) handleContinuation(frame *Frame) error {
	if !s.fragmented {
		return newFrameError(ProtocolViolation, errors.New("wsproto: continuation frame without a fragmented message"))
	}
	if s.currentOpcode == OpcodeText {
		next, err := validateUTF8Fragment(s.utf8, frame.Payload)
		if err != nil {
			return err
		}
		s.utf8 = next
	}
	s.currentPayload = append(s.currentPayload, frame.Payload...)

	if !frame.Fin {
		return nil
	}
	kind := MessageBinary
	textIncomplete := false
	if s.currentOpcode == OpcodeText {
		kind = MessageText
		textIncomplete = !s.utf8.accepting()
	}
	payload := s.currentPayload
	s.resetFragmentation()
	if textIncomplete {
		return newFrameError(PayloadViolation, ErrInvalidUTF8)
	}
	return s.deliverAccumulated(payload, kind)
}

func (s *Session) resetFragmentation() {
	s.fragmented = false
	s.currentPayload = nil
	s.currentOpcode = 0
	s.utf8 = newUTF8State()
}

// deliver handles an unfragmented message, delivered directly without
// copying into the accumulator (§4.3 "Delivery").
func (s *Session) deliver(payload []byte, kind MessageKind) error {
	if kind == MessageText && !validUTF8(payload) {
		return newFrameError(PayloadViolation, ErrInvalidUTF8)
	}
	if s.handler != nil {
		s.handler.OnMessage(s, kind, payload)
	}
	return nil
}

// deliverAccumulated handles a reassembled fragmented message. UTF-8
// validity for TEXT has already been established by the caller before the
// fragmentation state was reset.
func (s *Session) deliverAccumulated(payload []byte, kind MessageKind) error {
	if s.handler != nil {
		s.handler.OnMessage(s, kind, payload)
	}
	return nil
}

func (s *Session) handlePing(frame *Frame) error {
	s.endpoint.AccessLog(ChannelFrame, "ping received", zap.String("session", s.ID))
	return s.writeFrameLocked(NewFrame(OpcodePong, frame.Payload, true))
}

func (s *Session) handlePong(*Frame) error {
	return nil // recorded for the application only; no automatic state change
}

// handleClose implements the three close paths of §4.4: local initiation
// (see Close), remote-initiated close received in OPEN, and ack of our own
// close received in CLOSING.
func (s *Session) handleClose(frame *Frame) error {
	code, reason, err := decodeClose(frame.Payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.remoteCloseCode = code
	s.remoteCloseReason = reason

	if s.state == StateOpen {
		s.closedByMe = false
		s.setState(StateClosing)
		ackCode, ackReason := code, reason
		switch {
		case code == CloseNoStatus:
			ackCode, ackReason = CloseNormal, ""
		case !validIncomingCloseCode(uint16(code)):
			ackCode, ackReason = CloseProtocolError, "Status code is invalid/reserved"
		}
		s.writeFrameUnlocked(NewFrame(OpcodeClose, encodeClose(ackCode, ackReason), true))
		s.wasClean = true
		s.finishLocked()
		return nil
	}

	if s.state == StateClosing {
		s.closedByMe = true
		s.wasClean = true
		s.finishLocked()
	}
	return nil
}

// Close implements local close initiation, §4.4.
func (s *Session) Close(code CloseStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		s.endpoint.Log(LevelWarn, "Close called outside OPEN", zap.String("session", s.ID))
		return ErrSessionNotOpen
	}
	return s.closeLocalLocked(code, reason)
}

func (s *Session) closeLocal(code CloseStatus, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return
	}
	s.closeLocalLocked(code, reason)
}

func (s *Session) closeLocalLocked(code CloseStatus, reason string) error {
	sendCode, sendReason := outgoingCloseCode(code, reason)

	s.setState(StateClosing)
	s.localCloseCode = sendCode
	s.localCloseReason = sendReason
	s.closedByMe = true

	s.closeTimer = time.AfterFunc(closeTimeout, s.onCloseAckTimeout)

	return s.writeFrameUnlocked(NewFrame(OpcodeClose, encodeClose(sendCode, sendReason), true))
}

// Send writes a single FIN TEXT frame. Only valid in OPEN (§4.3).
func (s *Session) Send(text string) error {
	return s.sendData(OpcodeText, []byte(text))
}

// SendBinary writes a single FIN BINARY frame. Only valid in OPEN.
func (s *Session) SendBinary(data []byte) error {
	return s.sendData(OpcodeBinary, data)
}

func (s *Session) sendData(opcode Opcode, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		s.endpoint.Log(LevelWarn, "send called outside OPEN", zap.String("session", s.ID))
		return ErrSessionNotOpen
	}
	return s.writeFrameUnlocked(NewFrame(opcode, payload, true))
}

// Ping sends a FIN PING frame. Only valid in OPEN.
func (s *Session) Ping(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return ErrSessionNotOpen
	}
	return s.writeFrameUnlocked(NewFrame(OpcodePing, payload, true))
}

// Pong sends a FIN PONG frame. Only valid in OPEN.
func (s *Session) Pong(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return ErrSessionNotOpen
	}
	return s.writeFrameUnlocked(NewFrame(OpcodePong, payload, true))
}

func (s *Session) writeFrameLocked(frame *Frame) error {
	s.mu.Lock()
	w := s.writer
	s.mu.Unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return w.WriteFrame(frame)
}

// writeFrameUnlocked enforces the single-writer rule (invariant 5): writeMu
// serializes frame writes even though callers may invoke Send/Ping
// concurrently with the read loop's automatic PONG/CLOSE responses. It must
// be called with s.mu held, matching every existing call site, but takes
// the actual write outside that lock so a slow write never blocks state
// reads from other goroutines.
func (s *Session) writeFrameUnlocked(frame *Frame) error {
	w := s.writer
	s.mu.Unlock()
	s.writeMu.Lock()
	err := w.WriteFrame(frame)
	s.writeMu.Unlock()
	s.mu.Lock()
	return err
}

// onCloseAckTimeout fires when the peer never acknowledges our CLOSE within
// closeTimeout (§4.4 "Close acknowledgement timer"): the Session gives up
// and drops the TCP connection unclean.
func (s *Session) onCloseAckTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.wasClean = false
	s.finishLocked()
}

func (s *Session) finishLocked() {
	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}
	s.setState(StateClosed)

	role := s.role
	byMe := s.closedByMe
	handler := s.handler
	s.mu.Unlock()

	if role == RoleServer {
		s.dropTCP(byMe)
	} else {
		time.AfterFunc(clientCloseGrace, func() { s.dropTCP(false) })
	}

	if handler != nil {
		handler.OnClose(s)
	}
	s.mu.Lock()
}

// dropTCP shuts down the connection. A "not connected" error from the
// kernel (the peer beat us to it) is swallowed; any other error is logged.
func (s *Session) dropTCP(byMe bool) {
	s.mu.Lock()
	if s.droppedByMe == false && byMe {
		s.droppedByMe = true
	}
	s.mu.Unlock()

	err := s.conn.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		s.endpoint.Log(LevelWarn, "error closing connection", zap.Error(err), zap.String("session", s.ID))
	}
	s.endpoint.AccessLog(ChannelDisconnect, "session closed", zap.String("session", s.ID), zap.Bool("dropped_by_me", byMe))
}
