package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication"
)

// group is the relay's view of one replication group. Everything here is
// owned by the hub goroutine.
type group struct {
	*replication.Group

	seq     uint64
	backlog []backlogEntry
	// order is join order; it decides leader elections and sync sources.
	order []string
	conns map[string]*peerConn
	grace map[string]graceTimer
	// syncs is keyed by the requesting peer.
	syncs map[string]*pendingSync
}

type backlogEntry struct {
	seq   uint64
	frame []byte
}

type graceTimer struct {
	t  *time.Timer
	id uint64
}

type pendingSync struct {
	source string
	tried  map[string]bool
}

func (s *Server) newGroup(id, creator string) *group {
	p, _ := replication.PolicyByName(s.cfg.Policy, nil)
	g := &group{
		Group: replication.NewGroup(id, creator, p),
		conns: map[string]*peerConn{},
		grace: map[string]graceTimer{},
		syncs: map[string]*pendingSync{},
	}
	g.ClockBase = s.now().UnixMilli()
	s.groups[id] = g
	return g
}

func (s *Server) closeGroup(g *group) {
	for _, gt := range g.grace {
		gt.t.Stop()
	}
	delete(s.groups, g.ID)
	s.log.Info("group closed", zap.String("group", g.ID), zap.Uint64("seq", g.seq))
}

// admit places a handshaken connection in its group and returns an error
// code, or "" on success.
func (s *Server) admit(c *peerConn, h protocol.HelloFrame) string {
	gid, pid := h.GroupID, h.PeerID
	if gid == "" {
		gid = uuid.NewString()
	}
	if pid == "" {
		pid = uuid.NewString()
	}

	g := s.groups[gid]
	if g != nil && len(g.conns) == 0 {
		// Nobody connected holds the state any more; start over.
		s.closeGroup(g)
		g = nil
	}
	fresh := g == nil
	if fresh {
		g = s.newGroup(gid, pid)
	}
	if _, taken := g.conns[pid]; taken {
		return protocol.ErrPeerTaken
	}

	m := g.Member(pid)
	switch {
	case m != nil:
		if gt, ok := g.grace[pid]; ok {
			gt.t.Stop()
			delete(g.grace, pid)
		}
		_ = g.SetMissing(pid, false)
		s.broadcast(g, pid, memberFrame(protocol.MemberReturned, *m))
		s.log.Info("peer returned", zap.String("group", gid), zap.String("peer", pid))
	case g.Policy.Name == replication.PolicySinglePeer && len(g.order) > 0:
		return protocol.ErrGroupDenied
	default:
		m = replication.CreateGroupMember(pid, h.Hello)
		if fresh {
			m.Status = replication.StatusActive
		}
		g.Add(m)
		g.order = append(g.order, pid)
		if !fresh {
			s.broadcast(g, pid, memberFrame(protocol.MemberJoined, *m))
		}
		s.log.Info("peer joined", zap.String("group", gid), zap.String("peer", pid), zap.Bool("fresh", fresh))
	}

	c.peerID, c.group = pid, g
	g.conns[pid] = c
	s.peers++
	s.reportCounts()

	s.push(c, groupFrame(g, pid, fresh))
	for _, other := range g.Members() {
		if other.PeerID == pid {
			continue
		}
		s.push(c, memberFrame(protocol.MemberJoined, other))
		if other.Missing {
			s.push(c, memberFrame(protocol.MemberMissing, other))
		}
	}
	return ""
}

// drop handles a closed connection. The member stays counted, marked
// missing, until its grace period runs out.
func (s *Server) drop(c *peerConn) {
	g := c.group
	if g == nil || g.conns[c.peerID] != c {
		return
	}
	pid := c.peerID
	delete(g.conns, pid)
	c.group = nil
	s.peers--
	defer s.reportCounts()

	delete(g.syncs, pid)
	for requester, ps := range g.syncs {
		if ps.source == pid {
			ps.tried[pid] = true
			s.askSource(g, requester)
		}
	}

	if s.cfg.MissingGrace <= 0 {
		s.remove(g, pid)
		return
	}
	m := g.Member(pid)
	if m == nil {
		return
	}
	_ = g.SetMissing(pid, true)
	s.broadcast(g, pid, memberFrame(protocol.MemberMissing, *m))

	s.graceSeq++
	id, gid := s.graceSeq, g.ID
	g.grace[pid] = graceTimer{
		id: id,
		t: time.AfterFunc(s.cfg.MissingGrace, func() {
			deliver(s, s.expire, expiry{group: gid, peer: pid, id: id})
		}),
	}
	s.log.Info("peer missing", zap.String("group", gid), zap.String("peer", pid))
}

func (s *Server) expired(e expiry) {
	g := s.groups[e.group]
	if g == nil {
		return
	}
	gt, ok := g.grace[e.peer]
	if !ok || gt.id != e.id {
		return
	}
	delete(g.grace, e.peer)
	if _, connected := g.conns[e.peer]; connected {
		return
	}
	s.remove(g, e.peer)
	s.reportCounts()
}

// remove takes pid out of the group for good and hands leadership on.
func (s *Server) remove(g *group, pid string) {
	m := g.Member(pid)
	if m == nil {
		return
	}
	if _, err := g.SetStatus(pid, replication.StatusRemoved); err != nil {
		s.log.Warn("remove member", zap.String("peer", pid), zap.Error(err))
	}
	s.broadcast(g, "", memberFrame(protocol.MemberStatus, *m))

	if c := g.conns[pid]; c != nil {
		delete(g.conns, pid)
		c.group = nil
		s.peers--
	}
	if gt, ok := g.grace[pid]; ok {
		gt.t.Stop()
		delete(g.grace, pid)
	}
	delete(g.syncs, pid)
	g.Remove(pid)
	for i, id := range g.order {
		if id == pid {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	s.log.Info("peer removed", zap.String("group", g.ID), zap.String("peer", pid))

	if len(g.order) == 0 {
		s.closeGroup(g)
		return
	}
	if g.LeaderID == pid {
		s.elect(g)
	}
}

// elect picks the earliest joined active member, preferring connected ones,
// and tells every connection about the change.
func (s *Server) elect(g *group) {
	leader := ""
	for _, connected := range []bool{true, false} {
		for _, id := range g.order {
			m := g.Member(id)
			if m == nil || m.Status != replication.StatusActive {
				continue
			}
			if _, ok := g.conns[id]; ok == connected {
				leader = id
				break
			}
		}
		if leader != "" {
			break
		}
	}
	if leader == "" || leader == g.LeaderID {
		return
	}
	s.log.Info("leader elected", zap.String("group", g.ID), zap.String("from", g.LeaderID), zap.String("to", leader))
	g.LeaderID = leader
	for id, c := range g.conns {
		s.push(c, groupFrame(g, id, false))
	}
}

func (s *Server) handle(in inbound) {
	c := in.c
	g := c.group
	if g == nil || g.conns[c.peerID] != c {
		s.reject(c, protocol.ErrNotActive, "not in a group")
		return
	}
	switch in.typ {
	case protocol.TypeSubmit:
		if in.status != "" {
			s.setStatus(g, c, in.status)
			return
		}
		s.sequence(g, c, in)
	case protocol.TypeSyncReq:
		s.requestSync(g, c.peerID)
	case protocol.TypeSyncData:
		s.syncData(g, c, in.sync)
	}
}

// sequence gives a submission the next place in the group's order and sends
// it to every connected member, the submitter included.
func (s *Server) sequence(g *group, c *peerConn, in inbound) {
	m := g.Member(c.peerID)
	if m == nil || m.Status != replication.StatusActive {
		s.reject(c, protocol.ErrNotActive, "only active members may submit")
		return
	}
	cmd := protocol.Command{Seq: g.seq + 1, Source: c.peerID, Vote: in.vote, Msg: in.msg}
	if in.vote {
		cmd.Quorum = g.ActiveCount()
	}
	b, err := json.Marshal(protocol.CommandFrame{Type: protocol.TypeCommand, ProtocolVersion: protocol.Version, Command: cmd})
	if err != nil {
		s.log.Error("encode command", zap.Error(err))
		s.reject(c, protocol.ErrInternal, "")
		return
	}
	g.seq++
	g.backlog = append(g.backlog, backlogEntry{seq: cmd.Seq, frame: b})
	if keep := s.cfg.Backlog; len(g.backlog) > keep+keep/4 {
		g.backlog = append([]backlogEntry(nil), g.backlog[len(g.backlog)-keep:]...)
	}
	s.metrics.Sequenced(string(in.msg.Kind()))
	for _, pc := range g.conns {
		s.pushRaw(pc, b)
	}
}

func (s *Server) setStatus(g *group, c *peerConn, status string) {
	st, err := replication.ParseStatus(status)
	if err != nil {
		s.reject(c, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	if st == replication.StatusRemoved {
		s.remove(g, c.peerID)
		s.reportCounts()
		return
	}
	prev, err := g.SetStatus(c.peerID, st)
	if err != nil {
		s.reject(c, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	if prev == st {
		return
	}
	s.broadcast(g, c.peerID, memberFrame(protocol.MemberStatus, *g.Member(c.peerID)))
	if st == replication.StatusActive && g.Member(g.LeaderID) == nil {
		s.elect(g)
	}
}

func (s *Server) requestSync(g *group, requester string) {
	if prev, err := g.SetStatus(requester, replication.StatusSyncing); err == nil && prev != replication.StatusSyncing {
		s.broadcast(g, requester, memberFrame(protocol.MemberStatus, *g.Member(requester)))
	}
	g.syncs[requester] = &pendingSync{tried: map[string]bool{}}
	s.askSource(g, requester)
}

// askSource forwards a pending sync to the next untried source, or tells the
// requester there is none.
func (s *Server) askSource(g *group, requester string) {
	ps := g.syncs[requester]
	if ps == nil {
		return
	}
	src := s.pickSource(g, requester, ps.tried)
	if src == "" {
		delete(g.syncs, requester)
		s.metrics.Sync("no_source")
		if c := g.conns[requester]; c != nil {
			s.sendError(c, protocol.ErrNoSync, "no active member to sync from")
		}
		return
	}
	ps.source = src
	s.push(g.conns[src], protocol.SyncReqFrame{Type: protocol.TypeSyncReq, ProtocolVersion: protocol.Version, PeerID: requester})
}

func (s *Server) pickSource(g *group, requester string, tried map[string]bool) string {
	candidates := append([]string{g.LeaderID}, g.order...)
	for _, id := range candidates {
		if id == requester || tried[id] {
			continue
		}
		m := g.Member(id)
		if m == nil || m.Status != replication.StatusActive {
			continue
		}
		if _, ok := g.conns[id]; ok {
			return id
		}
	}
	return ""
}

// syncData relays a captured checkpoint to its requester, preceded by any
// commands sequenced after it.
func (s *Server) syncData(g *group, c *peerConn, f *protocol.SyncDataFrame) {
	ps := g.syncs[f.PeerID]
	if ps == nil || ps.source != c.peerID {
		return
	}
	if f.Error != "" {
		s.log.Warn("sync source failed", zap.String("source", c.peerID), zap.String("error", f.Error))
		s.metrics.Sync("source_failed")
		ps.tried[c.peerID] = true
		s.askSource(g, f.PeerID)
		return
	}
	delete(g.syncs, f.PeerID)
	rc := g.conns[f.PeerID]
	if rc == nil {
		return
	}
	for _, e := range g.backlog {
		if e.seq > f.Seq {
			s.pushRaw(rc, e.frame)
		}
	}
	out := *f
	out.Type, out.ProtocolVersion = protocol.TypeSyncData, protocol.Version
	s.push(rc, out)
	s.metrics.Sync("ok")
}

func groupFrame(g *group, peerID string, fresh bool) protocol.GroupFrame {
	return protocol.GroupFrame{
		Type:            protocol.TypeGroup,
		ProtocolVersion: protocol.Version,
		GroupID:         g.ID,
		PeerID:          peerID,
		Policy:          g.Policy.Name,
		CreatorID:       g.CreatorID,
		LeaderID:        g.LeaderID,
		ClockBase:       g.ClockBase,
		Fresh:           fresh,
	}
}

func memberFrame(event string, m replication.Member) protocol.MemberFrame {
	hello, _ := json.Marshal(m.Hello)
	return protocol.MemberFrame{
		Type:            protocol.TypeMember,
		ProtocolVersion: protocol.Version,
		Event:           event,
		PeerID:          m.PeerID,
		Status:          m.Status.String(),
		Hello:           hello,
	}
}
