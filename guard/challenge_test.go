package guard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/roomsec/hallmonitor/actor"
	"github.com/roomsec/hallmonitor/config"
)

func challengeTestConfig() *config.Config {
	return &config.Config{
		Monitors: config.MonitorSet{
			Challenge: &config.ChallengeConfig{
				// long timeout: expiry is injected explicitly in tests
				TimeoutSecs: 3600,
				Questions: []config.Question{
					{Body: "Which planet do we live on? 1: Mars 2: Earth 3: Venus", Answer: 2, Options: 3},
				},
			},
		},
	}
}

func TestAnswerGlyph(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("1️⃣", answerGlyph(1, 4))
	assert.Equal("4️⃣", answerGlyph(4, 4))
	assert.Equal("9️⃣", answerGlyph(9, 9))

	// out-of-range answers fail closed: the fallback glyph matches nothing
	assert.Equal(glyphFallback, answerGlyph(0, 4))
	assert.Equal(glyphFallback, answerGlyph(5, 4))
	assert.Equal(glyphFallback, answerGlyph(10, 10))
}

// spawnChallenge starts a challenge monitor and waits for the question post.
func spawnChallenge(t *testing.T, fix *TestFixture, key UserRoomKey) (*actor.Ref, CapturedNotice) {
	t.Helper()
	mon := actor.Spawn(t.Context(), "challenge", newChallengeMonitor(key, fix.Deps))
	require.Eventually(t, func() bool {
		return len(fix.Gateway.Notices()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	return mon, fix.Gateway.Notices()[0]
}

func TestChallengePostsQuestionWithOptions(t *testing.T) {
	assert := assert.New(t)
	fix := NewTestFixture(challengeTestConfig())
	defer fix.Close()

	room := id.RoomID("!watched:example.com")
	fix.Gateway.AddRoom(room)
	user := id.UserID("@newcomer:example.com")
	fix.Gateway.SetDisplayName(user, "New Comer")
	key := UserRoomKey{User: user, Room: room}

	mon, notice := spawnChallenge(t, fix, key)
	defer mon.Stop("test over")

	assert.Equal(room, notice.Room)
	assert.True(strings.HasPrefix(notice.Body, "New Comer: "))
	assert.Contains(notice.Body, "Which planet do we live on?")
	assert.Contains(notice.HTML, "https://matrix.to/#/@newcomer:example.com")

	reactions := fix.Gateway.Reactions()
	require.Len(t, reactions, 3)
	for i, glyph := range []string{"1️⃣", "2️⃣", "3️⃣"} {
		assert.Equal(notice.EventID, reactions[i].Target)
		assert.Equal(glyph, reactions[i].Key)
	}
}

func TestChallengeFallsBackToLocalpart(t *testing.T) {
	fix := NewTestFixture(challengeTestConfig())
	defer fix.Close()

	room := id.RoomID("!watched:example.com")
	fix.Gateway.AddRoom(room)
	key := UserRoomKey{User: id.UserID("@nameless:example.com"), Room: room}

	mon, notice := spawnChallenge(t, fix, key)
	defer mon.Stop("test over")

	assert.True(t, strings.HasPrefix(notice.Body, "nameless: "))
}

func TestChallengeCorrectAnswer(t *testing.T) {
	fix := NewTestFixture(challengeTestConfig())
	defer fix.Close()

	room := id.RoomID("!watched:example.com")
	fix.Gateway.AddRoom(room)
	key := UserRoomKey{User: id.UserID("@human:example.com"), Room: room}

	mon, notice := spawnChallenge(t, fix, key)

	mon.Send(reactionEvent(key, notice.EventID, "2️⃣"))
	select {
	case <-mon.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not resolve")
	}
	assert.Equal(t, "answered", mon.StopReason())

	// question is cleaned up, nobody gets kicked
	require.Eventually(t, func() bool {
		return len(fix.Gateway.Redacted()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, notice.EventID, fix.Gateway.Redacted()[0])
	assert.Empty(t, fix.Gateway.Kicks())
}

func TestChallengeWrongAnswer(t *testing.T) {
	fix := NewTestFixture(challengeTestConfig())
	defer fix.Close()

	room := id.RoomID("!watched:example.com")
	fix.Gateway.AddRoom(room)
	key := UserRoomKey{User: id.UserID("@bot:example.com"), Room: room}

	mon, notice := spawnChallenge(t, fix, key)

	mon.Send(reactionEvent(key, notice.EventID, "3️⃣"))
	select {
	case <-mon.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not resolve")
	}

	require.Eventually(t, func() bool {
		return len(fix.Gateway.Kicks()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Failed the join challenge", fix.Gateway.Kicks()[0].Reason)
	require.Eventually(t, func() bool {
		return len(fix.Gateway.Redacted()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChallengeIgnoresUnrelatedReactions(t *testing.T) {
	fix := NewTestFixture(challengeTestConfig())
	defer fix.Close()

	room := id.RoomID("!watched:example.com")
	fix.Gateway.AddRoom(room)
	key := UserRoomKey{User: id.UserID("@human:example.com"), Room: room}

	mon, notice := spawnChallenge(t, fix, key)

	// reaction on some other event leaves the challenge outstanding
	mon.Send(reactionEvent(key, id.EventID("$unrelated"), "2️⃣"))
	time.Sleep(50 * time.Millisecond)
	assert.True(t, mon.Alive())
	assert.Empty(t, fix.Gateway.Redacted())

	// the real answer still resolves it
	mon.Send(reactionEvent(key, notice.EventID, "2️⃣"))
	select {
	case <-mon.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not resolve")
	}
	assert.Empty(t, fix.Gateway.Kicks())
}

func TestChallengeTimeout(t *testing.T) {
	fix := NewTestFixture(challengeTestConfig())
	defer fix.Close()

	room := id.RoomID("!watched:example.com")
	fix.Gateway.AddRoom(room)
	key := UserRoomKey{User: id.UserID("@silent:example.com"), Room: room}

	mon, notice := spawnChallenge(t, fix, key)

	mon.Send(challengeExpired{})
	select {
	case <-mon.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not resolve")
	}
	assert.Equal(t, "moderated", mon.StopReason())

	require.Eventually(t, func() bool {
		return len(fix.Gateway.Kicks()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, notice.EventID, fix.Gateway.Redacted()[0])
}

func TestChallengeCleansUpOnExternalStop(t *testing.T) {
	fix := NewTestFixture(challengeTestConfig())
	defer fix.Close()

	room := id.RoomID("!watched:example.com")
	fix.Gateway.AddRoom(room)
	key := UserRoomKey{User: id.UserID("@leaver:example.com"), Room: room}

	mon, notice := spawnChallenge(t, fix, key)

	// user left, group tears the monitor down mid-challenge
	mon.Stop("leave")
	select {
	case <-mon.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}

	require.Eventually(t, func() bool {
		return len(fix.Gateway.Redacted()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, notice.EventID, fix.Gateway.Redacted()[0])
	assert.Empty(t, fix.Gateway.Kicks())
}

func TestChallengeDisabledStaysIdle(t *testing.T) {
	fix := NewTestFixture(&config.Config{})
	defer fix.Close()

	key := UserRoomKey{User: id.UserID("@user:example.com"), Room: id.RoomID("!quiet:example.com")}
	mon := actor.Spawn(t.Context(), "challenge", newChallengeMonitor(key, fix.Deps))
	defer mon.Stop("test over")

	time.Sleep(50 * time.Millisecond)
	assert.True(t, mon.Alive())
	assert.Empty(t, fix.Gateway.Notices())
}
