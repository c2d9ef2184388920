// Package matrixgw implements the gateway boundary on top of a Matrix
// client session.
package matrixgw

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MatrixGateway wraps a logged-in Matrix client with an outbound rate limit
// and a local joined-rooms set. The joined set is maintained from sync
// membership events after an initial load, so HasRoom never needs a network
// round trip.
type MatrixGateway struct {
	client  *mautrix.Client
	log     *slog.Logger
	limiter *rate.Limiter

	mu     sync.RWMutex
	joined map[id.RoomID]bool
}

// NewMatrixGateway wraps an existing (already authenticated) client. The
// limiter paces every outbound call; homeservers throttle bursty bots hard.
func NewMatrixGateway(client *mautrix.Client, log *slog.Logger) *MatrixGateway {
	return &MatrixGateway{
		client:  client,
		log:     log.With("component", "matrixgw"),
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		joined:  make(map[id.RoomID]bool),
	}
}

// LoadJoinedRooms seeds the joined set from the homeserver.
func (g *MatrixGateway) LoadJoinedRooms(ctx context.Context) error {
	resp, err := g.client.JoinedRooms(ctx)
	if err != nil {
		return fmt.Errorf("listing joined rooms: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, room := range resp.JoinedRooms {
		g.joined[room] = true
	}
	return nil
}

// MarkJoined records bot membership in a room (from sync).
func (g *MatrixGateway) MarkJoined(room id.RoomID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.joined[room] = true
}

// MarkLeft records the bot leaving a room (kicked, banned, or parted).
func (g *MatrixGateway) MarkLeft(room id.RoomID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.joined, room)
}

func (g *MatrixGateway) HasRoom(room id.RoomID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.joined[room]
}

func (g *MatrixGateway) SendNotice(ctx context.Context, room id.RoomID, body, htmlBody string, mentions []id.UserID) (id.EventID, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    body,
	}
	if htmlBody != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = htmlBody
	}
	if len(mentions) > 0 {
		content.Mentions = &event.Mentions{UserIDs: mentions}
	}
	resp, err := g.client.SendMessageEvent(ctx, room, event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("sending notice: %w", err)
	}
	return resp.EventID, nil
}

func (g *MatrixGateway) SendReaction(ctx context.Context, room id.RoomID, target id.EventID, key string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	content := &event.ReactionEventContent{
		RelatesTo: event.RelatesTo{
			Type:    event.RelAnnotation,
			EventID: target,
			Key:     key,
		},
	}
	if _, err := g.client.SendMessageEvent(ctx, room, event.EventReaction, content); err != nil {
		return fmt.Errorf("sending reaction: %w", err)
	}
	return nil
}

func (g *MatrixGateway) RedactEvent(ctx context.Context, room id.RoomID, target id.EventID) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := g.client.RedactEvent(ctx, room, target); err != nil {
		return fmt.Errorf("redacting event: %w", err)
	}
	return nil
}

func (g *MatrixGateway) KickUser(ctx context.Context, room id.RoomID, user id.UserID, reason string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.client.KickUser(ctx, room, &mautrix.ReqKickUser{
		UserID: user,
		Reason: reason,
	})
	if err != nil {
		return fmt.Errorf("kicking user: %w", err)
	}
	return nil
}

func (g *MatrixGateway) BanUser(ctx context.Context, room id.RoomID, user id.UserID, reason string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.client.BanUser(ctx, room, &mautrix.ReqBanUser{
		UserID: user,
		Reason: reason,
	})
	if err != nil {
		return fmt.Errorf("banning user: %w", err)
	}
	return nil
}

func (g *MatrixGateway) DisplayName(ctx context.Context, user id.UserID) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := g.client.GetDisplayName(ctx, user)
	if err != nil {
		return "", fmt.Errorf("fetching display name: %w", err)
	}
	return resp.DisplayName, nil
}
