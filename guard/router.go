package guard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roomsec/hallmonitor/actor"
	"github.com/roomsec/hallmonitor/gateway"
)

// Router maps inbound gateway events to monitor groups, creating a group on
// first contact for a key. It is one of the supervisor's singletons; the
// group registry lives in Deps so a router restart keeps existing groups
// reachable.
type Router struct {
	deps *Deps
	log  *slog.Logger
}

func NewRouter(deps *Deps) *Router {
	return &Router{deps: deps, log: deps.Logger.With("service", RouterName)}
}

func (r *Router) Start(ctx context.Context, self *actor.Ref) error {
	r.log.Info("router started", "groups", r.deps.Groups.Len())
	return nil
}

func (r *Router) Receive(ctx context.Context, self *actor.Ref, msg any) error {
	switch m := msg.(type) {
	case gateway.MessagePosted:
		r.dispatch(UserRoomKey{User: m.Sender, Room: m.Room}, m, TriggerMessage)
		eventsRouted.WithLabelValues("message").Inc()
	case gateway.ReactionAdded:
		r.dispatch(UserRoomKey{User: m.Sender, Room: m.Room}, m, TriggerMessage)
		eventsRouted.WithLabelValues("reaction").Inc()
	case gateway.MembershipChanged:
		key := UserRoomKey{User: m.User, Room: m.Room}
		switch m.State {
		case gateway.MembershipJoined:
			r.ensure(key, TriggerJoin)
			eventsRouted.WithLabelValues("join").Inc()
		case gateway.MembershipLeft:
			if ref, ok := r.deps.Groups.Lookup(key.String()); ok {
				ref.Stop("leave")
			}
			eventsRouted.WithLabelValues("leave").Inc()
		}
	default:
		r.log.Warn("unexpected message", "type", fmt.Sprintf("%T", msg))
	}
	return nil
}

func (r *Router) Stopped(reason string) {
	// groups are not individually restarted; take them down with the router
	for _, ref := range r.deps.Groups.Refs() {
		ref.Stop(reason)
	}
	r.log.Info("router stopped", "reason", reason)
}

// dispatch forwards the event to the live group for key, claiming the key
// and spawning a group first when none exists.
func (r *Router) dispatch(key UserRoomKey, msg any, trigger Trigger) {
	ref, _ := r.ensure(key, trigger)
	if !ref.Send(msg) {
		// group stopped between lookup and send; drop, the next event
		// recreates it
		r.log.Debug("dropped event for stopping group", "key", key.String())
	}
}

// ensure returns the group for key, creating one under the registry's
// check-then-claim lock when absent so duplicate first-contact events can
// never spawn two groups.
func (r *Router) ensure(key UserRoomKey, trigger Trigger) (*actor.Ref, bool) {
	name := key.String()
	ref, created := r.deps.Groups.LookupOrCreate(name, func() *actor.Ref {
		return r.spawnGroup(key, trigger)
	})
	if created {
		r.log.Info("monitor group spawned", "key", name, "trigger", trigger)
		groupsSpawned.WithLabelValues(string(trigger)).Inc()
	}
	return ref, created
}

func (r *Router) spawnGroup(key UserRoomKey, trigger Trigger) *actor.Ref {
	name := key.String()
	group := newMonitorGroup(key, trigger, r.deps)
	return actor.Spawn(r.deps.baseContext(), name, group,
		actor.WithOnExit(func(ref *actor.Ref, reason string, err error) {
			// failed groups are simply dropped; the key frees up and a new
			// group is created lazily on the next qualifying event
			r.deps.Groups.Unregister(name, ref)
			groupsStopped.WithLabelValues(reason).Inc()
			if err != nil {
				r.log.Error("monitor group failed", "key", name, "err", err)
			} else {
				r.log.Info("monitor group stopped", "key", name, "reason", reason)
			}
		}))
}
