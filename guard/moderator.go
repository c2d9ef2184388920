package guard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roomsec/hallmonitor/actor"
)

// Moderator is the stateless translator from violations to platform kicks.
// A violation against a room the bot can no longer resolve is a no-op. No
// retries, no escalation: the current policy is kick-only (banning stays a
// reserved gateway capability).
type Moderator struct {
	deps *Deps
	log  *slog.Logger
}

func NewModerator(deps *Deps) *Moderator {
	return &Moderator{deps: deps, log: deps.Logger.With("service", ModeratorName)}
}

func kickReason(kind ViolationKind) string {
	switch kind {
	case KindSpam:
		return "Flooding the room with messages"
	case KindLikelyBot:
		return "Failed the join challenge"
	default:
		return "Policy violation"
	}
}

func (mod *Moderator) Start(ctx context.Context, self *actor.Ref) error {
	mod.log.Info("moderator started")
	return nil
}

func (mod *Moderator) Receive(ctx context.Context, self *actor.Ref, msg any) error {
	v, ok := msg.(Violation)
	if !ok {
		mod.log.Warn("unexpected message", "type", fmt.Sprintf("%T", msg))
		return nil
	}

	log := mod.log.With("user", v.Key.User, "room", v.Key.Room, "kind", v.Kind)

	if err := mod.deps.Counters.Increment(ctx, "violation:"+string(v.Kind), v.Key.String()); err != nil {
		log.Warn("failed to count violation", "err", err)
	}

	if !mod.deps.Gateway.HasRoom(v.Key.Room) {
		log.Info("room not resolvable, skipping action")
		return nil
	}

	reason := kickReason(v.Kind)
	if err := mod.deps.Gateway.KickUser(ctx, v.Key.Room, v.Key.User, reason); err != nil {
		return fmt.Errorf("kicking %s from %s: %w", v.Key.User, v.Key.Room, err)
	}
	log.Info("kicked user", "reason", reason)
	kicksIssued.WithLabelValues(string(v.Kind)).Inc()

	if err := mod.deps.Counters.Increment(ctx, "kick", v.Key.String()); err != nil {
		log.Warn("failed to count kick", "err", err)
	}
	return nil
}

func (mod *Moderator) Stopped(reason string) {
	mod.log.Info("moderator stopped", "reason", reason)
}
