package guard

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"maunium.net/go/mautrix/id"

	"github.com/roomsec/hallmonitor/actor"
	"github.com/roomsec/hallmonitor/config"
	"github.com/roomsec/hallmonitor/gateway"
)

// keycap glyphs for answer options, 1-based
var challengeGlyphs = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣"}

// glyphFallback never matches a posted option, so a misconfigured answer
// index fails closed.
const glyphFallback = "*️⃣"

func answerGlyph(answer, options int) string {
	if answer < 1 || answer > options || answer > len(challengeGlyphs) {
		return glyphFallback
	}
	return challengeGlyphs[answer-1]
}

type challengeExpired struct{}

// challengeMonitor runs the join-time question gate for one user. It posts
// one mention-tagged question with reaction options and waits for a reaction
// on exactly that event, or a timeout. One challenge per instance; a new
// question is never issued mid-flight.
//
// When the challenge is disabled for the room the monitor stays idle (no
// challenge posted) until its parent group stops it.
type challengeMonitor struct {
	key  UserRoomKey
	deps *Deps
	log  *slog.Logger

	// postedID doubles as the state flag: empty means no challenge is
	// outstanding (not yet posted, or already resolved).
	postedID id.EventID
	expected string
	timeout  *actor.Timer
}

func newChallengeMonitor(key UserRoomKey, deps *Deps) *challengeMonitor {
	return &challengeMonitor{
		key:  key,
		deps: deps,
		log:  deps.Logger.With("monitor", "challenge", "key", key.String()),
	}
}

func (m *challengeMonitor) Start(ctx context.Context, self *actor.Ref) error {
	pol, err := config.Policy(m.deps.Registry, m.key.Room)
	if err != nil {
		return err
	}
	cfg := pol.Challenge
	if cfg == nil || len(cfg.Questions) == 0 {
		m.log.Debug("challenge disabled for room")
		return nil
	}

	q := cfg.Questions[rand.IntN(len(cfg.Questions))]

	name, err := m.deps.Gateway.DisplayName(ctx, m.key.User)
	if err != nil {
		return fmt.Errorf("resolving display name: %w", err)
	}
	if name == "" {
		name = m.key.User.Localpart()
	}

	body := fmt.Sprintf("%s: %s", name, q.Body)
	html := fmt.Sprintf("<a href='https://matrix.to/#/%s'>%s</a>: %s", m.key.User, name, q.Body)
	eventID, err := m.deps.Gateway.SendNotice(ctx, m.key.Room, body, html, []id.UserID{m.key.User})
	if err != nil {
		return fmt.Errorf("posting challenge: %w", err)
	}
	for i := 0; i < q.Options && i < len(challengeGlyphs); i++ {
		if err := m.deps.Gateway.SendReaction(ctx, m.key.Room, eventID, challengeGlyphs[i]); err != nil {
			return fmt.Errorf("posting challenge option: %w", err)
		}
	}

	m.postedID = eventID
	m.expected = answerGlyph(q.Answer, q.Options)
	m.timeout = self.SendAfter(cfg.Timeout(), challengeExpired{})
	m.log.Info("challenge posted", "event_id", eventID)
	return nil
}

func (m *challengeMonitor) Receive(ctx context.Context, self *actor.Ref, msg any) error {
	switch ev := msg.(type) {
	case challengeExpired:
		if m.postedID == "" {
			return nil
		}
		m.deps.reportViolation(Violation{Key: m.key, Kind: KindLikelyBot})
		challengeOutcomes.WithLabelValues("timeout").Inc()
		return m.resolve(ctx, self, "moderated")

	case gateway.ReactionAdded:
		// only a reaction on the exact posted event counts; anything else
		// leaves the challenge outstanding
		if m.postedID == "" || ev.TargetEventID != m.postedID {
			return nil
		}
		if ev.Key != m.expected {
			m.deps.reportViolation(Violation{Key: m.key, Kind: KindLikelyBot})
			challengeOutcomes.WithLabelValues("wrong-answer").Inc()
		} else {
			challengeOutcomes.WithLabelValues("answered").Inc()
		}
		return m.resolve(ctx, self, "answered")
	}
	return nil
}

// resolve finishes the outstanding challenge: stop, cancel the timeout,
// clear the recorded event id, and redact the posted question.
func (m *challengeMonitor) resolve(ctx context.Context, self *actor.Ref, reason string) error {
	self.Stop(reason)
	m.timeout.Cancel()
	eventID := m.postedID
	m.postedID = ""
	if err := m.deps.Gateway.RedactEvent(ctx, m.key.Room, eventID); err != nil {
		return fmt.Errorf("redacting challenge: %w", err)
	}
	return nil
}

// Stopped handles external termination (parent group idled out, user left):
// an unresolved challenge message is redacted as cleanup.
func (m *challengeMonitor) Stopped(reason string) {
	m.timeout.Cancel()
	if m.postedID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.deps.Gateway.RedactEvent(ctx, m.key.Room, m.postedID); err != nil {
		m.log.Error("failed to redact challenge during cleanup", "err", err)
	}
	m.postedID = ""
	challengeOutcomes.WithLabelValues("cancelled").Inc()
}
