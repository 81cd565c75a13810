package replication

import (
	"go.uber.org/zap"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication/checkpoint"
)

// publishReport sends the local checkpoint hash so other members can compare.
// Peers that are catching up stay quiet.
func (b *Bridge) publishReport(rep checkpoint.Report) {
	if b.Status() != StatusActive {
		return
	}
	msg := protocol.Checkpoint{Stamp: protocol.At(rep.Timestamp), Seq: rep.Seq, Hash: rep.Hash}
	if err := b.tr.SendRequest(msg); err != nil {
		b.log.Warn("publish checkpoint", zap.Uint64("seq", rep.Seq), zap.Error(err))
	}
}

func (b *Bridge) reportMembers() {
	if b.group == nil {
		return
	}
	counts := b.group.CountByStatus()
	for _, st := range []MemberStatus{StatusJoining, StatusSyncing, StatusActive, StatusRemoved} {
		b.metrics.Members(st.String(), counts[st])
	}
}

// OnMemberJoined records a new member announced by the relay.
func (b *Bridge) OnMemberJoined(m *Member) {
	if b.group == nil || m == nil || m.PeerID == b.cfg.PeerID {
		return
	}
	if prev := b.group.Member(m.PeerID); prev != nil && prev.Status != StatusRemoved {
		return
	}
	b.group.Add(m)
	b.log.Info("member joined", zap.String("member", m.PeerID), zap.String("name", m.Hello.Name))
	b.reportMembers()
}

// OnMemberStatusChanged applies a status change announced by the relay. The
// local peer's own status is driven by sync, so for self only removal counts.
func (b *Bridge) OnMemberStatusChanged(peer string, status MemberStatus) error {
	if b.group == nil {
		return ErrNoGroup
	}
	if peer == b.cfg.PeerID {
		if status == StatusRemoved {
			b.Leave()
		}
		return nil
	}
	if b.group.Member(peer) == nil {
		b.group.Add(CreateGroupMember(peer, nil))
	}
	coordinator := b.group.Policy.Coordinator(b.group)
	prev, err := b.group.SetStatus(peer, status)
	if err != nil {
		return err
	}
	b.reportMembers()
	if status != StatusRemoved || prev == StatusRemoved {
		return nil
	}
	b.log.Info("member removed", zap.String("member", peer))
	if peer == coordinator {
		b.departed = append(b.departed, peer)
		return nil
	}
	b.announceLeft(peer)
	return nil
}

func (b *Bridge) OnMemberMissing(peer string) error {
	if b.group == nil {
		return ErrNoGroup
	}
	return b.group.SetMissing(peer, true)
}

func (b *Bridge) OnMemberReturned(peer string) error {
	if b.group == nil {
		return ErrNoGroup
	}
	return b.group.SetMissing(peer, false)
}

// SetLeader records a leader change. A new coordinator announces the members
// that left while the old one was in charge.
func (b *Bridge) SetLeader(peer string) {
	if b.group == nil || b.group.LeaderID == peer {
		return
	}
	b.log.Info("leader changed", zap.String("from", b.group.LeaderID), zap.String("to", peer))
	b.group.LeaderID = peer
	pending := b.departed
	b.departed = nil
	for _, id := range pending {
		b.announceLeft(id)
	}
}

// announceLeft asks for the departed peer's player to be removed, if this
// peer is the one who speaks for the group.
func (b *Bridge) announceLeft(peer string) {
	if b.group.Policy.Coordinator(b.group) != b.cfg.PeerID {
		return
	}
	if _, ok := b.world.Player(peer); !ok {
		return
	}
	ts := b.world.Now()
	if ts < b.lastTime {
		ts = b.lastTime
	}
	if err := b.Request(protocol.PlayerLeft{Stamp: protocol.At(ts), PlayerID: peer}); err != nil {
		b.log.Warn("announce player left", zap.String("player", peer), zap.Error(err))
	}
}
