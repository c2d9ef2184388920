// Chat-platform gateway boundary: the classified events delivered to the
// moderation core, and the platform operations the core is allowed to invoke.
// The production implementation lives in gateway/matrixgw.
package gateway

import (
	"context"
	"time"

	"maunium.net/go/mautrix/id"
)

// MessagePosted is a room message from some sender.
type MessagePosted struct {
	Sender    id.UserID
	Room      id.RoomID
	EventID   id.EventID
	Body      string
	Timestamp time.Time
}

// ReactionAdded is a reaction annotation attached to a prior room event.
type ReactionAdded struct {
	Sender        id.UserID
	Room          id.RoomID
	TargetEventID id.EventID
	Key           string
	Timestamp     time.Time
}

type MembershipState string

const (
	MembershipJoined MembershipState = "joined"
	MembershipLeft   MembershipState = "left"
)

// MembershipChanged reports a user joining or leaving a room.
type MembershipChanged struct {
	User      id.UserID
	Room      id.RoomID
	State     MembershipState
	Timestamp time.Time
}

// Gateway is the set of platform operations the moderation core uses.
// Implementations must be safe for concurrent use; every monitor actor may
// call them independently.
type Gateway interface {
	// SendNotice posts a notice (plain + HTML body) mentioning the given
	// users, returning the posted event id.
	SendNotice(ctx context.Context, room id.RoomID, body, htmlBody string, mentions []id.UserID) (id.EventID, error)

	// SendReaction attaches a reaction key to a prior event.
	SendReaction(ctx context.Context, room id.RoomID, target id.EventID, key string) error

	// RedactEvent removes a previously posted event.
	RedactEvent(ctx context.Context, room id.RoomID, target id.EventID) error

	// KickUser removes a user from a room with a human-readable reason.
	KickUser(ctx context.Context, room id.RoomID, user id.UserID, reason string) error

	// BanUser bans a user from a room. Reserved: the current moderation
	// policy is kick-only.
	BanUser(ctx context.Context, room id.RoomID, user id.UserID, reason string) error

	// DisplayName resolves a user's display name. An empty name with a nil
	// error means the user has none set.
	DisplayName(ctx context.Context, user id.UserID) (string, error)

	// HasRoom reports whether the bot can currently resolve the room (it is
	// a joined member). Actions against unresolvable rooms are no-ops.
	HasRoom(room id.RoomID) bool
}
