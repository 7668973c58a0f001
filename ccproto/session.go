package ccproto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// SessionState is the lifecycle position of a Session, readable from any
// goroutine while Run owns the connection.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateHandshaking
	StateActive
	StateReconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// StatusKind labels an out-of-band session notification.
type StatusKind int

const (
	StatusConnected StatusKind = iota
	StatusReconnecting
	StatusHandshakeRejected
	StatusSessionAbandoned
	StatusDisconnected
)

func (k StatusKind) String() string {
	switch k {
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusHandshakeRejected:
		return "handshake rejected"
	case StatusSessionAbandoned:
		return "session abandoned"
	case StatusDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("status(%d)", int(k))
}

// Status is one out-of-band notification from the session loop.
type Status struct {
	Kind    StatusKind
	Attempt int
	Err     error
}

// ChatEvent is one broadcast message handed to the chat callback. Time is
// the arrival time; the wire carries no clock.
type ChatEvent struct {
	PlayerID uint64
	Sender   string
	Text     string
	Time     time.Time
}

// Handler receives session output. A nil callback is skipped. Errors and
// panics from OnChat are logged and never stop the session.
type Handler struct {
	OnChat   func(ChatEvent) error
	OnStatus func(Status)
}

// Stats is a point-in-time snapshot of session counters.
type Stats struct {
	Frames     uint64
	Bytes      uint64
	Chats      uint64
	Reconnects uint32
}

// DefaultPort is the login server port the real client uses.
const DefaultPort = 9300

const (
	defaultPollInterval     = 500 * time.Millisecond
	defaultHandshakeTimeout = 15 * time.Second
	defaultRetryCeiling     = 5
	defaultBackoffBase      = time.Second
	defaultBackoffMax       = 30 * time.Second

	// initQuiet is how long the inbound stream must stay idle after login
	// before the client reports init complete and starts polling chat.
	initQuiet = 3 * time.Second

	readTick  = 200 * time.Millisecond
	recvChunk = 8192
	seenLimit = 512

	worldChatChannel = 7
)

// ErrSessionAbandoned is returned by Run when the reconnect ceiling is
// exhausted.
var ErrSessionAbandoned = errors.New("session abandoned")

// Config carries everything a Session needs. Zero values select the
// defaults noted per field.
type Config struct {
	// Addr is the login server endpoint as host:port.
	Addr string

	Creds Credentials

	// Template is the login request body to patch. Empty selects the
	// standard v1 body built from ClientVersion and GameID.
	Template LoginTemplate

	ClientVersion uint32
	ClientSign    uint32
	GameID        uint32
	LanguageID    uint32

	// ChatChannel selects the chat stream to poll; zero selects the world
	// broadcast channel.
	ChatChannel uint32

	// PollInterval is the chat poll cadence once the session is active;
	// zero selects 500ms.
	PollInterval time.Duration

	// HandshakeTimeout bounds each handshake round trip; zero selects 15s.
	HandshakeTimeout time.Duration

	// MaxFrameSize bounds declared inbound frame sizes; zero selects
	// DefaultMaxFrameSize.
	MaxFrameSize int

	// RetryCeiling is how many reconnects are attempted before the session
	// is abandoned; zero selects 5.
	RetryCeiling int

	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Dial overrides the TCP dialer, mainly for tests.
	Dial func(ctx context.Context, addr string) (net.Conn, error)

	// Logf receives diagnostic lines. Nil discards them.
	Logf func(format string, v ...any)

	Handler Handler
}

// Session owns one client connection lifecycle: handshake, the active
// frame loop with chat polling, and reconnects with backoff. Sessions are
// independent; any number can run in one process.
type Session struct {
	cfg    Config
	state  atomic.Int32
	seq    atomic.Uint32
	cipher *payloadCipher

	// seen fingerprints recently dispatched chat records so batches the
	// server resends after a reconnect are not delivered twice. Touched
	// only from Run's goroutine.
	seen     map[uint64]struct{}
	seenFIFO []uint64

	frames     atomic.Uint64
	bytes      atomic.Uint64
	chats      atomic.Uint64
	reconnects atomic.Uint32
}

// NewSession validates cfg and fills defaults. The credentials are
// dry-run patched into the template so layout mismatches fail here
// rather than mid-handshake.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Addr == "" {
		return nil, errors.New("session: server address required")
	}
	if cfg.Template.Len() == 0 {
		cfg.Template = BuildLoginTemplate(cfg.ClientVersion, cfg.GameID)
	}
	if _, err := cfg.Template.Patch(cfg.Creds); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.ChatChannel == 0 {
		cfg.ChatChannel = worldChatChannel
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = defaultRetryCeiling
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.Dial == nil {
		cfg.Dial = dialTCP
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}
	return &Session{cfg: cfg, seen: make(map[uint64]struct{})}, nil
}

func dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: defaultHandshakeTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// State returns the current lifecycle position. It may trail the loop by
// an instant.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Frames:     s.frames.Load(),
		Bytes:      s.bytes.Load(),
		Chats:      s.chats.Load(),
		Reconnects: s.reconnects.Load(),
	}
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// Run drives the session until ctx is canceled, the handshake is
// rejected, or the reconnect ceiling is exhausted. Cancellation returns
// nil; the two terminal failures return a *RejectError or an error
// wrapping ErrSessionAbandoned.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)
	failures := 0
	for {
		s.setState(StateHandshaking)
		active, err := s.runOnce(ctx)
		if err == nil || ctx.Err() != nil {
			s.notify(Status{Kind: StatusDisconnected})
			return nil
		}
		var reject *RejectError
		if errors.As(err, &reject) {
			s.setState(StateDisconnected)
			s.notify(Status{Kind: StatusHandshakeRejected, Err: err})
			return err
		}
		if active {
			// the link was up; failure counting restarts
			failures = 0
		}
		if failures >= s.cfg.RetryCeiling {
			s.setState(StateDisconnected)
			s.notify(Status{Kind: StatusSessionAbandoned, Err: err})
			return fmt.Errorf("%w after %d attempts: %v", ErrSessionAbandoned, failures+1, err)
		}
		failures++
		s.reconnects.Add(1)
		s.setState(StateReconnecting)
		s.cfg.Logf("connection attempt failed: %v", err)
		s.notify(Status{Kind: StatusReconnecting, Attempt: failures, Err: err})
		if !s.sleepBackoff(ctx, failures) {
			s.notify(Status{Kind: StatusDisconnected})
			return nil
		}
	}
}

// runOnce performs both handshake hops and runs the frame loop until the
// connection fails or ctx is canceled. active reports whether the session
// reached the frame loop.
func (s *Session) runOnce(ctx context.Context) (active bool, err error) {
	s.seq.Store(0)

	lconn, err := s.cfg.Dial(ctx, s.cfg.Addr)
	if err != nil {
		return false, err
	}
	v, err := s.loginHop(lconn)
	lconn.Close()
	if err != nil {
		return false, err
	}
	s.cfg.Logf("login accepted, game server at %s", v.Addr())

	gconn, err := s.cfg.Dial(ctx, v.Addr())
	if err != nil {
		return false, err
	}
	defer gconn.Close()
	cipher, err := s.gameHop(gconn, v.LoginKey)
	if err != nil {
		return false, err
	}
	s.cipher = cipher
	if err := s.sendEncrypted(gconn, MsgAckEncryption,
		ackEncryptionPayload(s.nextSeq(), s.cfg.Creds.UserID, s.cfg.LanguageID)); err != nil {
		return false, fmt.Errorf("ack encryption: %w", err)
	}
	s.setState(StateActive)
	s.notify(Status{Kind: StatusConnected})
	return true, s.readLoop(ctx, gconn)
}

func (s *Session) loginHop(conn net.Conn) (LoginValidate, error) {
	conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})
	return performHandshake(conn, s.cfg.Template, s.cfg.Creds, s.cfg.MaxFrameSize)
}

func (s *Session) gameHop(conn net.Conn, loginKey string) (*payloadCipher, error) {
	conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})
	_, cipher, err := performGameLogin(conn, s.cfg.Creds, loginKey,
		s.cfg.ClientSign, s.cfg.ClientVersion, s.cfg.MaxFrameSize)
	return cipher, err
}

var errServerClosed = errors.New("connection closed by server")

// readLoop owns the active connection: it accumulates inbound bytes,
// scans them for complete frames, reports init complete after the stream
// goes quiet, and polls the chat channel. Reads and writes both happen
// here, so the socket has exactly one reader and one writer.
func (s *Session) readLoop(ctx context.Context, conn net.Conn) error {
	var (
		pending []byte
		inited  bool
		poll    *rate.Limiter
	)
	lastRecv := time.Now()
	buf := make([]byte, recvChunk)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !inited && len(pending) < frameHeaderSize && time.Since(lastRecv) > initQuiet {
			if err := s.sendEncrypted(conn, MsgGameInitComplete, seqPayload(s.nextSeq())); err != nil {
				return fmt.Errorf("init complete: %w", err)
			}
			if err := s.sendEncrypted(conn, MsgActive, seqPayload(s.nextSeq())); err != nil {
				return fmt.Errorf("report active: %w", err)
			}
			inited = true
			poll = rate.NewLimiter(rate.Every(s.cfg.PollInterval), 1)
			s.cfg.Logf("init complete, polling chat channel %d", s.cfg.ChatChannel)
		}
		if inited && poll.Allow() {
			if err := s.sendEncrypted(conn, MsgSelectChat,
				selectChatPayload(s.nextSeq(), s.cfg.ChatChannel)); err != nil {
				return fmt.Errorf("chat poll: %w", err)
			}
		}

		if err := conn.SetReadDeadline(time.Now().Add(readTick)); err != nil {
			return err
		}
		closed := false
		n, err := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			lastRecv = time.Now()
			s.bytes.Add(uint64(n))
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// idle tick; fall through to the frame scan
			} else if err == io.EOF {
				closed = true
			} else {
				return err
			}
		}

		for {
			f, used, perr := ParseFrame(pending, s.cfg.MaxFrameSize)
			if perr != nil {
				return perr
			}
			if used == 0 {
				break
			}
			pending = pending[used:]
			s.frames.Add(1)
			s.handleFrame(f)
		}

		if closed {
			if len(pending) > 0 {
				return fmt.Errorf("%d bytes pending at close: %w", len(pending), ErrTruncatedFrame)
			}
			return errServerClosed
		}
	}
}

// handleFrame dispatches one inbound frame. Failures here are contained:
// a malformed or unrecognized frame is logged and skipped.
func (s *Session) handleFrame(f Frame) {
	msg, err := DecodeServerMessage(f)
	if err != nil {
		s.cfg.Logf("frame 0x%04x: %v", f.ID, err)
		return
	}
	switch m := msg.(type) {
	case WorldChat:
		s.dispatchChat(m)
	case Unrecognized:
		s.cfg.Logf("skipping frame 0x%04x (%d bytes)", m.ID, m.Size)
	default:
		// login replies after the handshake carry nothing new
	}
}

func (s *Session) dispatchChat(wc WorldChat) {
	// wire order is newest first; deliver oldest first
	for i := len(wc.Messages) - 1; i >= 0; i-- {
		m := wc.Messages[i]
		if s.alreadySeen(m.sum) {
			continue
		}
		s.chats.Add(1)
		s.dispatch(ChatEvent{PlayerID: m.PlayerID, Sender: m.Name, Text: m.Text, Time: time.Now()})
	}
}

func (s *Session) dispatch(ev ChatEvent) {
	if s.cfg.Handler.OnChat == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Logf("chat handler panic: %v", r)
		}
	}()
	if err := s.cfg.Handler.OnChat(ev); err != nil {
		s.cfg.Logf("chat handler: %v", err)
	}
}

func (s *Session) notify(st Status) {
	if s.cfg.Handler.OnStatus == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Logf("status handler panic: %v", r)
		}
	}()
	s.cfg.Handler.OnStatus(st)
}

func (s *Session) alreadySeen(sum uint64) bool {
	if _, ok := s.seen[sum]; ok {
		return true
	}
	s.seen[sum] = struct{}{}
	s.seenFIFO = append(s.seenFIFO, sum)
	if len(s.seenFIFO) > seenLimit {
		delete(s.seen, s.seenFIFO[0])
		s.seenFIFO = s.seenFIFO[1:]
	}
	return false
}

// sendEncrypted frames and sends one client payload, encrypting it when
// the session cipher is live.
func (s *Session) sendEncrypted(conn net.Conn, id uint16, payload []byte) error {
	if s.cipher != nil {
		s.cipher.encrypt(payload)
	}
	return WriteFrame(conn, id, payload)
}

// nextSeq returns the next request sequence number. The counter restarts
// at 1 on every fresh connection.
func (s *Session) nextSeq() uint32 {
	return s.seq.Add(1)
}

// sleepBackoff waits out the reconnect delay for the given attempt. The
// delay doubles per attempt up to BackoffMax with up to half again as
// jitter. Returns false when ctx was canceled during the wait.
func (s *Session) sleepBackoff(ctx context.Context, attempt int) bool {
	d := s.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.BackoffMax {
			break
		}
	}
	if d > s.cfg.BackoffMax {
		d = s.cfg.BackoffMax
	}
	if half := int64(d / 2); half > 0 {
		d += time.Duration(rand.Int63n(half))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
