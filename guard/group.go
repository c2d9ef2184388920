package guard

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roomsec/hallmonitor/actor"
	"github.com/roomsec/hallmonitor/gateway"
)

// childSet is a monitor group's synchronized membership set. Fan-out
// iterates a snapshot, so a child terminating mid-dispatch is tolerated;
// sends to a stopped child are dropped by the runtime.
type childSet struct {
	mu   sync.Mutex
	refs map[*actor.Ref]struct{}
}

func newChildSet() *childSet {
	return &childSet{refs: make(map[*actor.Ref]struct{})}
}

func (s *childSet) add(ref *actor.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[ref] = struct{}{}
}

func (s *childSet) remove(ref *actor.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refs, ref)
}

func (s *childSet) snapshot() []*actor.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*actor.Ref, 0, len(s.refs))
	for ref := range s.refs {
		out = append(out, ref)
	}
	return out
}

func (s *childSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refs)
}

type groupTick struct{}

type childExited struct {
	ref *actor.Ref
}

// monitorGroup owns the monitors for one (user, room) key. It fans events
// out to its children, ages on a heartbeat, and evicts itself after the idle
// threshold. Stopping the group stops every child unconditionally.
type monitorGroup struct {
	key     UserRoomKey
	trigger Trigger
	deps    *Deps
	log     *slog.Logger

	children  *childSet
	heartbeat *actor.Timer

	age          uint64
	lastActivity uint64
}

func newMonitorGroup(key UserRoomKey, trigger Trigger, deps *Deps) *monitorGroup {
	return &monitorGroup{
		key:      key,
		trigger:  trigger,
		deps:     deps,
		log:      deps.Logger.With("group", key.String()),
		children: newChildSet(),
	}
}

func (g *monitorGroup) Start(ctx context.Context, self *actor.Ref) error {
	g.spawnChild(self, "ratelimit", newRateLimitMonitor(g.key, g.trigger, g.deps))
	g.spawnChild(self, "linkspam", newLinkSpamMonitor(g.key, g.deps))
	if g.trigger == TriggerJoin {
		g.spawnChild(self, "challenge", newChallengeMonitor(g.key, g.deps))
	}
	g.heartbeat = self.SendEvery(g.deps.heartbeat(), groupTick{})
	return nil
}

func (g *monitorGroup) Receive(ctx context.Context, self *actor.Ref, msg any) error {
	switch m := msg.(type) {
	case groupTick:
		g.age++
		if g.age-g.lastActivity > g.deps.idleThreshold() {
			self.Stop("idled too long")
		}
	case gateway.MessagePosted, gateway.ReactionAdded:
		for _, child := range g.children.snapshot() {
			child.Send(msg)
		}
		g.lastActivity = g.age
	case childExited:
		g.children.remove(m.ref)
	}
	return nil
}

func (g *monitorGroup) Stopped(reason string) {
	g.heartbeat.Cancel()
	for _, child := range g.children.snapshot() {
		child.Stop(reason)
	}
}

func (g *monitorGroup) spawnChild(self *actor.Ref, kind string, w actor.Worker) {
	name := g.key.String() + "/" + kind
	ref := actor.Spawn(g.deps.baseContext(), name, w,
		actor.WithOnExit(func(ref *actor.Ref, reason string, err error) {
			if err != nil {
				g.log.Error("monitor failed", "monitor", kind, "err", err)
			} else {
				g.log.Debug("monitor stopped", "monitor", kind, "reason", reason)
			}
			// routed through the group's own mailbox; dropped if the group
			// is already gone
			self.Send(childExited{ref: ref})
		}))
	g.children.add(ref)
}
