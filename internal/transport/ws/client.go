package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication"
)

const syncRetry = time.Second

var (
	ErrRejected     = errors.New("relay rejected peer")
	ErrBackpressure = errors.New("outbound queue full")
)

// Driver runs after every tick with the group time the world was advanced
// to. It is where a peer submits its own requests.
type Driver func(b *replication.Bridge, now int64)

type DialOptions struct {
	URL     string
	GroupID string
	PeerID  string
	// Name is announced to the other members.
	Name   string
	Logger *zap.Logger
	Now    func() time.Time
	Queue  int
}

// Client is a peer's connection to the relay. It implements
// replication.Transport.
type Client struct {
	ws    *websocket.Conn
	log   *zap.Logger
	now   func() time.Time
	info  replication.GroupInfo
	self  string
	queue int

	out  chan []byte
	done chan struct{}

	// Owned by the Run loop.
	retry <-chan time.Time
}

// Dial connects and completes the HELLO exchange. A refusal is returned as
// an error wrapping ErrRejected.
func Dial(ctx context.Context, opts DialOptions) (*Client, error) {
	if opts.Queue <= 0 {
		opts.Queue = 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, err
	}

	hello, _ := json.Marshal(replication.Hello{Name: opts.Name})
	b, _ := json.Marshal(protocol.HelloFrame{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		GroupID:         opts.GroupID,
		PeerID:          opts.PeerID,
		Hello:           hello,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	switch base.Type {
	case protocol.TypeError:
		_ = conn.Close()
		var f protocol.ErrorFrame
		_ = json.Unmarshal(msg, &f)
		return nil, fmt.Errorf("%w: %s %s", ErrRejected, f.Code, f.Message)
	case protocol.TypeGroup:
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("expected GROUP, got %q", base.Type)
	}
	var g protocol.GroupFrame
	if err := json.Unmarshal(msg, &g); err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		ws:  conn,
		log: log.Named("relay-client").With(zap.String("peer", g.PeerID)),
		now: opts.Now,
		info: replication.GroupInfo{
			ID:        g.GroupID,
			Policy:    g.Policy,
			CreatorID: g.CreatorID,
			LeaderID:  g.LeaderID,
			ClockBase: g.ClockBase,
			Fresh:     g.Fresh,
		},
		self:  g.PeerID,
		queue: opts.Queue,
		out:   make(chan []byte, opts.Queue),
		done:  make(chan struct{}),
	}, nil
}

// PeerID is the id the relay admitted us under.
func (c *Client) PeerID() string                   { return c.self }
func (c *Client) GroupInfo() replication.GroupInfo { return c.info }

// Close drops the connection. Only needed when Run is never called.
func (c *Client) Close() error { return c.ws.Close() }

func (c *Client) SendRequest(m protocol.Msg) error     { return c.submit(m, false) }
func (c *Client) SendObservation(m protocol.Msg) error { return c.submit(m, true) }

func (c *Client) RequestSync() error {
	return c.send(protocol.SyncReqFrame{Type: protocol.TypeSyncReq, ProtocolVersion: protocol.Version, PeerID: c.self})
}

func (c *Client) submit(m protocol.Msg, vote bool) error {
	body, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return c.send(protocol.SubmitFrame{Type: protocol.TypeSubmit, ProtocolVersion: protocol.Version, Vote: vote, Msg: body})
}

func (c *Client) reportStatus(st replication.MemberStatus) error {
	return c.send(protocol.SubmitFrame{Type: protocol.TypeSubmit, ProtocolVersion: protocol.Version, Status: st.String()})
}

func (c *Client) send(v any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.out <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

// Run joins b to the group and drives it until ctx is done, the connection
// is lost or the peer is removed from the group. Run may be called once;
// the caller still owns b and should Leave it afterwards.
func (c *Client) Run(ctx context.Context, b *replication.Bridge, tick time.Duration, drive Driver) error {
	if err := b.JoinGroup(c.info, nil); err != nil {
		_ = c.ws.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	frames := make(chan []byte, c.queue)

	eg.Go(func() error { return c.readLoop(ctx, frames) })
	eg.Go(func() error { return c.writeLoop(ctx) })
	eg.Go(func() error {
		defer cancel()
		return c.loop(ctx, b, tick, drive, frames)
	})
	eg.Go(func() error {
		<-ctx.Done()
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.ws.Close()
		return nil
	})
	return eg.Wait()
}

func (c *Client) readLoop(ctx context.Context, frames chan<- []byte) error {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay connection: %w", err)
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		select {
		case frames <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("relay write: %w", err)
			}
		}
	}
}

// groupNow is the local wall clock in group time.
func (c *Client) groupNow() int64 {
	return c.now().UnixMilli() - c.info.ClockBase
}

func (c *Client) loop(ctx context.Context, b *replication.Bridge, tick time.Duration, drive Driver, frames <-chan []byte) error {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-frames:
			c.handle(b, msg)
			if b.Group() == nil {
				c.log.Info("removed from group")
				return nil
			}
		case <-t.C:
			now := c.groupNow()
			b.Update(now)
			if drive != nil {
				drive(b, now)
			}
		case <-c.retry:
			c.retry = nil
			if b.Status() == replication.StatusSyncing {
				if err := c.RequestSync(); err != nil {
					c.log.Warn("request sync", zap.Error(err))
				}
			}
		}
	}
}

func (c *Client) handle(b *replication.Bridge, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		c.log.Warn("bad frame", zap.Error(err))
		return
	}
	switch base.Type {
	case protocol.TypeCommand:
		var f protocol.CommandFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.log.Warn("bad command", zap.Error(err))
			return
		}
		if err := b.OnCommand(f.Command); err != nil {
			if errors.Is(err, replication.ErrSequenceGap) {
				c.log.Warn("command", zap.Uint64("seq", f.Command.Seq), zap.Error(err))
			} else {
				c.log.Debug("command", zap.Uint64("seq", f.Command.Seq), zap.Error(err))
			}
		}
	case protocol.TypeGroup:
		var f protocol.GroupFrame
		if err := json.Unmarshal(msg, &f); err == nil {
			b.SetLeader(f.LeaderID)
		}
	case protocol.TypeMember:
		var f protocol.MemberFrame
		if err := json.Unmarshal(msg, &f); err == nil {
			c.member(b, f)
		}
	case protocol.TypeSyncReq:
		var f protocol.SyncReqFrame
		if err := json.Unmarshal(msg, &f); err == nil {
			c.provideSync(b, f.PeerID)
		}
	case protocol.TypeSyncData:
		var f protocol.SyncDataFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.log.Warn("bad sync data", zap.Error(err))
			return
		}
		c.restore(b, f)
	case protocol.TypeError:
		var f protocol.ErrorFrame
		_ = json.Unmarshal(msg, &f)
		c.log.Warn("relay error", zap.String("code", f.Code), zap.String("message", f.Message))
		if f.Code == protocol.ErrNoSync && b.Status() == replication.StatusSyncing {
			c.retry = time.After(syncRetry)
		}
	}
}

func (c *Client) member(b *replication.Bridge, f protocol.MemberFrame) {
	st, perr := replication.ParseStatus(f.Status)
	var err error
	switch f.Event {
	case protocol.MemberJoined:
		m := replication.CreateGroupMember(f.PeerID, f.Hello)
		if perr == nil {
			m.Status = st
		}
		b.OnMemberJoined(m)
	case protocol.MemberStatus:
		if err = perr; err == nil {
			err = b.OnMemberStatusChanged(f.PeerID, st)
		}
	case protocol.MemberMissing:
		err = b.OnMemberMissing(f.PeerID)
	case protocol.MemberReturned:
		err = b.OnMemberReturned(f.PeerID)
	}
	if err != nil {
		c.log.Debug("member event", zap.String("event", f.Event), zap.String("member", f.PeerID), zap.Error(err))
	}
}

// provideSync answers the relay's request for a checkpoint on behalf of
// requester. Failures are reported so the relay can try someone else.
func (c *Client) provideSync(b *replication.Bridge, requester string) {
	f := protocol.SyncDataFrame{Type: protocol.TypeSyncData, ProtocolVersion: protocol.Version, PeerID: requester}
	seq, ts, hash, data, err := b.SyncData()
	if err != nil {
		f.Error = err.Error()
	} else {
		f.Seq, f.Timestamp, f.Hash, f.Data = seq, ts, hash, data
	}
	if err := c.send(f); err != nil {
		c.log.Warn("send sync data", zap.String("requester", requester), zap.Error(err))
	}
}

func (c *Client) restore(b *replication.Bridge, f protocol.SyncDataFrame) {
	err := b.Restore(f.Seq, f.Timestamp, f.Hash, f.Data)
	switch {
	case err == nil:
		if err := c.reportStatus(replication.StatusActive); err != nil {
			c.log.Warn("report status", zap.Error(err))
		}
	case errors.Is(err, replication.ErrSequenceGap):
		// The bridge has already asked for a newer checkpoint.
	case b.Status() == replication.StatusSyncing:
		c.log.Warn("restore failed, retrying", zap.Uint64("seq", f.Seq), zap.Error(err))
		c.retry = time.After(syncRetry)
	}
}
