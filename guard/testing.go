package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"maunium.net/go/mautrix/id"

	"github.com/roomsec/hallmonitor/actor"
	"github.com/roomsec/hallmonitor/config"
	"github.com/roomsec/hallmonitor/countstore"
)

// CapturingGateway is a gateway double for tests and dry runs: it records
// every call instead of talking to a homeserver. Calls against rooms in
// FailRooms return an error, to exercise gateway-failure paths.
type CapturingGateway struct {
	mu        sync.Mutex
	notices   []CapturedNotice
	reactions []CapturedReaction
	redacted  []id.EventID
	kicks     []CapturedKick
	bans      []CapturedKick
	names     map[id.UserID]string
	rooms     map[id.RoomID]bool
	failRooms map[id.RoomID]bool
	nextEvent int
}

type CapturedNotice struct {
	Room    id.RoomID
	Body    string
	HTML    string
	EventID id.EventID
}

type CapturedReaction struct {
	Room   id.RoomID
	Target id.EventID
	Key    string
}

type CapturedKick struct {
	Room   id.RoomID
	User   id.UserID
	Reason string
}

func NewCapturingGateway() *CapturingGateway {
	return &CapturingGateway{
		names:     make(map[id.UserID]string),
		rooms:     make(map[id.RoomID]bool),
		failRooms: make(map[id.RoomID]bool),
	}
}

func (g *CapturingGateway) AddRoom(room id.RoomID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rooms[room] = true
}

func (g *CapturingGateway) SetDisplayName(user id.UserID, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.names[user] = name
}

func (g *CapturingGateway) FailRoom(room id.RoomID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failRooms[room] = true
}

func (g *CapturingGateway) failing(room id.RoomID) bool {
	return g.failRooms[room]
}

func (g *CapturingGateway) SendNotice(ctx context.Context, room id.RoomID, body, htmlBody string, mentions []id.UserID) (id.EventID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing(room) {
		return "", fmt.Errorf("send failed")
	}
	g.nextEvent++
	eventID := id.EventID(fmt.Sprintf("$event-%d", g.nextEvent))
	g.notices = append(g.notices, CapturedNotice{Room: room, Body: body, HTML: htmlBody, EventID: eventID})
	return eventID, nil
}

func (g *CapturingGateway) SendReaction(ctx context.Context, room id.RoomID, target id.EventID, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing(room) {
		return fmt.Errorf("send failed")
	}
	g.reactions = append(g.reactions, CapturedReaction{Room: room, Target: target, Key: key})
	return nil
}

func (g *CapturingGateway) RedactEvent(ctx context.Context, room id.RoomID, target id.EventID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing(room) {
		return fmt.Errorf("redact failed")
	}
	g.redacted = append(g.redacted, target)
	return nil
}

func (g *CapturingGateway) KickUser(ctx context.Context, room id.RoomID, user id.UserID, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing(room) {
		return fmt.Errorf("kick failed")
	}
	g.kicks = append(g.kicks, CapturedKick{Room: room, User: user, Reason: reason})
	return nil
}

func (g *CapturingGateway) BanUser(ctx context.Context, room id.RoomID, user id.UserID, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing(room) {
		return fmt.Errorf("ban failed")
	}
	g.bans = append(g.bans, CapturedKick{Room: room, User: user, Reason: reason})
	return nil
}

func (g *CapturingGateway) DisplayName(ctx context.Context, user id.UserID) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.names[user], nil
}

func (g *CapturingGateway) HasRoom(room id.RoomID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[room]
}

func (g *CapturingGateway) Notices() []CapturedNotice {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]CapturedNotice, len(g.notices))
	copy(out, g.notices)
	return out
}

func (g *CapturingGateway) Reactions() []CapturedReaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]CapturedReaction, len(g.reactions))
	copy(out, g.reactions)
	return out
}

func (g *CapturingGateway) Redacted() []id.EventID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]id.EventID, len(g.redacted))
	copy(out, g.redacted)
	return out
}

func (g *CapturingGateway) Kicks() []CapturedKick {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]CapturedKick, len(g.kicks))
	copy(out, g.kicks)
	return out
}

// TestFixture wires a full moderation core against a CapturingGateway and a
// canned configuration, for tests.
type TestFixture struct {
	Deps      *Deps
	Gateway   *CapturingGateway
	Config    *config.Config
	Registry  *actor.Registry
	Groups    *actor.Registry
	Moderator *actor.Ref
	Provider  *actor.Ref
}

// NewTestFixture builds fixture deps around cfg, spawning a real config
// provider and a real moderator registered under their production names.
func NewTestFixture(cfg *config.Config) *TestFixture {
	gw := NewCapturingGateway()
	reg := actor.NewRegistry()
	deps := &Deps{
		Logger:      slog.Default(),
		Gateway:     gw,
		Counters:    countstore.NewMemCountStore(),
		Registry:    reg,
		Groups:      actor.NewRegistry(),
		BaseContext: context.Background(),
	}

	provider := actor.Spawn(context.Background(), config.ProviderName, config.NewProvider(cfg, slog.Default()))
	reg.Put(config.ProviderName, provider)

	moderator := actor.Spawn(context.Background(), ModeratorName, NewModerator(deps))
	reg.Put(ModeratorName, moderator)

	return &TestFixture{
		Deps:      deps,
		Gateway:   gw,
		Config:    cfg,
		Registry:  reg,
		Groups:    deps.Groups,
		Moderator: moderator,
		Provider:  provider,
	}
}

// Close stops the fixture singletons and any remaining groups.
func (f *TestFixture) Close() {
	for _, ref := range f.Groups.Refs() {
		ref.Stop("test over")
	}
	f.Moderator.Stop("test over")
	f.Provider.Stop("test over")
}
