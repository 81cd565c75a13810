// Package ws is the reference websocket relay: it admits peers into groups,
// gives every submission its place in one global order per group and relays
// checkpoints to peers that need to sync.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/tuning"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	readTimeout      = 60 * time.Second
	pingEvery        = 20 * time.Second
)

var ErrClosed = errors.New("relay closed")

// Metrics is the subset of the relay collector the server reports to. It is
// called from connection goroutines as well as the hub.
type Metrics interface {
	Sequenced(kind string)
	Rejected(code string)
	Sync(outcome string)
	Peers(n int)
	Groups(n int)
}

type nopMetrics struct{}

func (nopMetrics) Sequenced(string) {}
func (nopMetrics) Rejected(string)  {}
func (nopMetrics) Sync(string)      {}
func (nopMetrics) Peers(int)        {}
func (nopMetrics) Groups(int)       {}

type Config struct {
	// Policy is given to every group the relay creates.
	Policy       string
	SubmitPerSec float64
	SubmitBurst  int
	// Backlog bounds the commands kept per group for peers that resync.
	Backlog int
	// MissingGrace is how long a dropped peer stays counted before it is
	// removed. Zero removes it at once.
	MissingGrace time.Duration
	// Queue is the per-connection outbound frame buffer.
	Queue int
}

func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		Policy:       t.Policy,
		SubmitPerSec: t.RateLimits.SubmitPerSec,
		SubmitBurst:  t.RateLimits.SubmitBurst,
		Backlog:      t.Relay.Backlog,
		MissingGrace: time.Duration(t.Relay.MissingGraceMs) * time.Millisecond,
	}
}

type Options struct {
	Logger  *zap.Logger
	Metrics Metrics
	// Now is the relay wall clock; group time zero is taken from it.
	Now func() time.Time
}

type Server struct {
	cfg      Config
	log      *zap.Logger
	metrics  Metrics
	now      func() time.Time
	validate *protocol.Validator
	upgrader websocket.Upgrader

	join   chan joinReq
	leave  chan *peerConn
	inbox  chan inbound
	expire chan expiry
	done   chan struct{}

	mu       sync.Mutex
	closed   bool
	live     map[*websocket.Conn]struct{}
	handlers sync.WaitGroup

	// Owned by Run.
	groups   map[string]*group
	peers    int
	graceSeq uint64
}

type peerConn struct {
	id      string
	ws      *websocket.Conn
	out     chan []byte
	limiter *rate.Limiter

	// Set by the hub on admission.
	peerID string
	group  *group
}

type joinReq struct {
	c     *peerConn
	hello protocol.HelloFrame
	resp  chan string
}

type inbound struct {
	c      *peerConn
	typ    string
	vote   bool
	status string
	msg    protocol.Msg
	sync   *protocol.SyncDataFrame
}

type expiry struct {
	group string
	peer  string
	id    uint64
}

func NewServer(cfg Config, opts Options) (*Server, error) {
	if _, err := replication.PolicyByName(cfg.Policy, nil); err != nil {
		return nil, err
	}
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 4096
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 1024
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = 1
	}
	s := &Server{
		cfg:      cfg,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
		validate: v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		join:   make(chan joinReq),
		leave:  make(chan *peerConn),
		inbox:  make(chan inbound, 256),
		expire: make(chan expiry),
		done:   make(chan struct{}),
		live:   map[*websocket.Conn]struct{}{},
		groups: map[string]*group{},
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("relay")
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Server) limit() rate.Limit {
	if s.cfg.SubmitPerSec <= 0 {
		return rate.Inf
	}
	return rate.Limit(s.cfg.SubmitPerSec)
}

// deliver hands v to the hub unless it has stopped.
func deliver[T any](s *Server, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) track(ws *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.live[ws] = struct{}{}
	s.handlers.Add(1)
	return true
}

func (s *Server) untrack(ws *websocket.Conn) {
	s.mu.Lock()
	delete(s.live, ws)
	s.mu.Unlock()
	_ = ws.Close()
	s.handlers.Done()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		if !s.track(ws) {
			_ = ws.Close()
			return
		}
		defer s.untrack(ws)

		c, err := s.handshake(ws)
		if err != nil {
			s.log.Debug("handshake", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		wrote := make(chan struct{})
		go func() {
			defer close(wrote)
			s.writeLoop(ctx, c)
		}()

		s.readLoop(c)

		cancel()
		<-wrote
		deliver(s, s.leave, c)
	}
}

func (s *Server) handshake(ws *websocket.Conn) (*peerConn, error) {
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}

	var hello protocol.HelloFrame
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != protocol.TypeHello {
		s.refuse(ws, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil, errors.New("expected HELLO")
	}
	if hello.ProtocolVersion != protocol.Version {
		s.refuse(ws, protocol.ErrProtoVersion, "bad protocol_version")
		return nil, fmt.Errorf("protocol_version %q", hello.ProtocolVersion)
	}

	c := &peerConn{
		id:      uuid.NewString(),
		ws:      ws,
		out:     make(chan []byte, s.cfg.Queue),
		limiter: rate.NewLimiter(s.limit(), s.cfg.SubmitBurst),
	}
	resp := make(chan string, 1)
	if !deliver(s, s.join, joinReq{c: c, hello: hello, resp: resp}) {
		return nil, ErrClosed
	}
	var code string
	select {
	case code = <-resp:
	case <-s.done:
		return nil, ErrClosed
	}
	if code != "" {
		s.refuse(ws, code, "")
		return nil, fmt.Errorf("refused: %s", code)
	}

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	return c, nil
}

// refuse answers a failed handshake directly; the writer is not running yet.
func (s *Server) refuse(ws *websocket.Conn, code, message string) {
	s.metrics.Rejected(code)
	b, _ := json.Marshal(errorFrame(code, message))
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return
	}
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func errorFrame(code, message string) protocol.ErrorFrame {
	return protocol.ErrorFrame{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	}
}

func (s *Server) readLoop(c *peerConn) {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))

		in, code, err := s.parse(c, msg)
		if err != nil {
			s.reject(c, code, err.Error())
			continue
		}
		if !deliver(s, s.inbox, in) {
			return
		}
	}
}

// parse validates a frame on the connection goroutine so the hub only sees
// well-formed input.
func (s *Server) parse(c *peerConn, msg []byte) (inbound, string, error) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return inbound{}, protocol.ErrProtoBadRequest, err
	}
	if base.ProtocolVersion != protocol.Version {
		return inbound{}, protocol.ErrProtoVersion, fmt.Errorf("protocol_version %q", base.ProtocolVersion)
	}

	in := inbound{c: c, typ: base.Type}
	switch base.Type {
	case protocol.TypeSubmit:
		if !c.limiter.Allow() {
			return inbound{}, protocol.ErrRateLimit, errors.New("submit rate exceeded")
		}
		var f protocol.SubmitFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			return inbound{}, protocol.ErrProtoBadRequest, err
		}
		in.vote, in.status = f.Vote, f.Status
		if f.Status != "" {
			return in, "", nil
		}
		if err := s.validate.ValidateEnvelope(f.Msg); err != nil {
			return inbound{}, protocol.ErrBadPayload, err
		}
		m, err := protocol.Decode(f.Msg)
		if err != nil {
			return inbound{}, protocol.ErrBadPayload, err
		}
		in.msg = m
	case protocol.TypeSyncReq:
	case protocol.TypeSyncData:
		var f protocol.SyncDataFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			return inbound{}, protocol.ErrProtoBadRequest, err
		}
		in.sync = &f
	default:
		return inbound{}, protocol.ErrProtoBadRequest, fmt.Errorf("unexpected frame %q", base.Type)
	}
	return in, "", nil
}

func (s *Server) reject(c *peerConn, code, message string) {
	s.metrics.Rejected(code)
	s.sendError(c, code, message)
}

func (s *Server) sendError(c *peerConn, code, message string) {
	b, _ := json.Marshal(errorFrame(code, message))
	select {
	case c.out <- b:
	default:
	}
}

func (s *Server) writeLoop(ctx context.Context, c *peerConn) {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = c.ws.Close()
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

// Run owns all group state until ctx is done, then closes every connection
// and waits for their handlers.
func (s *Server) Run(ctx context.Context) error {
	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.join:
			req.resp <- s.admit(req.c, req.hello)
		case c := <-s.leave:
			s.drop(c)
		case in := <-s.inbox:
			s.handle(in)
		case e := <-s.expire:
			s.expired(e)
		}
	}
}

func (s *Server) shutdown() {
	close(s.done)
	for _, g := range s.groups {
		for _, t := range g.grace {
			t.t.Stop()
		}
	}
	s.mu.Lock()
	s.closed = true
	for ws := range s.live {
		_ = ws.Close()
	}
	s.mu.Unlock()
	s.handlers.Wait()
}

func (s *Server) reportCounts() {
	s.metrics.Peers(s.peers)
	s.metrics.Groups(len(s.groups))
}

func (s *Server) push(c *peerConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode frame", zap.Error(err))
		return
	}
	s.pushRaw(c, b)
}

// pushRaw queues a frame; a peer that cannot keep up is disconnected since
// a dropped command would only force it to resync later.
func (s *Server) pushRaw(c *peerConn, b []byte) {
	select {
	case c.out <- b:
	default:
		s.log.Warn("peer queue full, disconnecting", zap.String("peer", c.peerID))
		_ = c.ws.Close()
	}
}

func (s *Server) broadcast(g *group, except string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode frame", zap.Error(err))
		return
	}
	for id, c := range g.conns {
		if id != except {
			s.pushRaw(c, b)
		}
	}
}
