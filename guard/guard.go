// Behavioral-moderation core: per-(user, room) monitor groups fan room
// events out to independent monitors (rate limiter, link-spam detector,
// join-time challenge), whose violations a stateless moderator turns into
// kicks. A supervisor restarts the long-lived singletons; monitor groups are
// disposable and recreated lazily on the next event for their key.
//
// See cmd/hallmonitor for the daemon built on this package.
package guard

import (
	"context"
	"log/slog"
	"time"

	"maunium.net/go/mautrix/id"

	"github.com/roomsec/hallmonitor/actor"
	"github.com/roomsec/hallmonitor/countstore"
	"github.com/roomsec/hallmonitor/gateway"
)

// Registry names of the supervised singletons.
const (
	RouterName    = "router"
	ModeratorName = "moderator"
)

// UserRoomKey identifies one user's presence in one room. Its string form is
// the monitor-group registry key; at most one live group exists per key.
type UserRoomKey struct {
	User id.UserID
	Room id.RoomID
}

func (k UserRoomKey) String() string {
	return string(k.User) + "/" + string(k.Room)
}

// ViolationKind classifies what a monitor observed.
type ViolationKind string

const (
	KindSpam      ViolationKind = "spam"
	KindLikelyBot ViolationKind = "likely-bot"
)

// Violation is the ephemeral signal a monitor sends to the moderator. Not
// persisted; a violation that cannot be delivered is logged and dropped.
type Violation struct {
	Key  UserRoomKey
	Kind ViolationKind
}

// Trigger records why a monitor group was created. Join-triggered groups
// additionally run the challenge monitor.
type Trigger string

const (
	TriggerMessage Trigger = "message"
	TriggerJoin    Trigger = "join"
)

const (
	// DefaultHeartbeat is the monitor-group age tick period.
	DefaultHeartbeat = time.Minute
	// DefaultIdleThreshold is how many heartbeats without activity a group
	// survives (1440 ticks of 60s = 24h).
	DefaultIdleThreshold uint64 = 1440
)

// Deps is the shared wiring handed to every actor in the moderation core.
// The two registries are the only cross-actor shared state.
type Deps struct {
	Logger   *slog.Logger
	Gateway  gateway.Gateway
	Counters countstore.CountStore

	// Registry resolves the supervised singletons by name.
	Registry *actor.Registry
	// Groups maps user/room keys to live monitor groups. It outlives router
	// restarts, so a restarted router keeps routing to existing groups.
	Groups *actor.Registry

	// BaseContext parents every monitor-group actor, decoupling group
	// lifetime from the router that spawned it.
	BaseContext context.Context

	Heartbeat     time.Duration
	IdleThreshold uint64
}

func (d *Deps) heartbeat() time.Duration {
	if d.Heartbeat <= 0 {
		return DefaultHeartbeat
	}
	return d.Heartbeat
}

func (d *Deps) idleThreshold() uint64 {
	if d.IdleThreshold == 0 {
		return DefaultIdleThreshold
	}
	return d.IdleThreshold
}

func (d *Deps) baseContext() context.Context {
	if d.BaseContext == nil {
		return context.Background()
	}
	return d.BaseContext
}

// reportViolation delivers a violation to the moderator singleton. Failure
// to resolve or reach the moderator drops the violation; there is no retry
// or queueing.
func (d *Deps) reportViolation(v Violation) {
	ref, ok := d.Registry.Lookup(ModeratorName)
	if !ok || !ref.Send(v) {
		d.Logger.Error("unable to reach moderator, dropping violation",
			"key", v.Key.String(), "kind", v.Kind)
		violationsDropped.Inc()
		return
	}
	violationsEmitted.WithLabelValues(string(v.Kind)).Inc()
}
