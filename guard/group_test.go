package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/roomsec/hallmonitor/actor"
	"github.com/roomsec/hallmonitor/config"
)

func groupTestConfig() *config.Config {
	cfg := rateLimitTestConfig()
	cfg.Monitors.LinkSpam = &config.LinkSpamConfig{WatchTimeoutSecs: 3600}
	cfg.Monitors.Challenge = &config.ChallengeConfig{
		TimeoutSecs: 3600,
		Questions:   []config.Question{{Body: "Say two", Answer: 2, Options: 2}},
	}
	return cfg
}

func groupFixture(t *testing.T) (*TestFixture, UserRoomKey) {
	t.Helper()
	fix := NewTestFixture(groupTestConfig())
	t.Cleanup(fix.Close)
	// ticks are injected by hand; keep the wall-clock heartbeat out of the way
	fix.Deps.Heartbeat = time.Hour
	room := id.RoomID("!watched:example.com")
	fix.Gateway.AddRoom(room)
	return fix, UserRoomKey{User: id.UserID("@member:example.com"), Room: room}
}

func TestGroupSpawnsMonitorsByTrigger(t *testing.T) {
	fix, key := groupFixture(t)

	msgGroup := newMonitorGroup(key, TriggerMessage, fix.Deps)
	msgRef := actor.Spawn(t.Context(), key.String(), msgGroup)
	defer msgRef.Stop("test over")

	joinGroup := newMonitorGroup(key, TriggerJoin, fix.Deps)
	joinRef := actor.Spawn(t.Context(), key.String(), joinGroup)
	defer joinRef.Stop("test over")

	// message-triggered groups get ratelimit + linkspam, join-triggered
	// additionally the challenge
	require.Eventually(t, func() bool {
		return msgGroup.children.len() == 2 && joinGroup.children.len() == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGroupFansEventsOut(t *testing.T) {
	fix, key := groupFixture(t)

	group := newMonitorGroup(key, TriggerMessage, fix.Deps)
	ref := actor.Spawn(t.Context(), key.String(), group)
	defer ref.Stop("test over")

	// the link message reaches both monitors: the link-spam watcher flags it
	ref.Send(messageEvent(key, "buy now https://shady.example"))
	require.Eventually(t, func() bool {
		return len(fix.Gateway.Kicks()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGroupIdleEviction(t *testing.T) {
	fix, key := groupFixture(t)
	fix.Deps.IdleThreshold = 2

	group := newMonitorGroup(key, TriggerMessage, fix.Deps)
	ref := actor.Spawn(t.Context(), key.String(), group)

	ref.Send(groupTick{})
	ref.Send(groupTick{})
	ref.Send(groupTick{})
	select {
	case <-ref.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("idle group did not stop")
	}
	assert.Equal(t, "idled too long", ref.StopReason())

	// children go down with the group
	require.Eventually(t, func() bool {
		for _, child := range group.children.snapshot() {
			if child.Alive() {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGroupActivityResetsIdleClock(t *testing.T) {
	fix, key := groupFixture(t)
	fix.Deps.IdleThreshold = 1

	group := newMonitorGroup(key, TriggerMessage, fix.Deps)
	ref := actor.Spawn(t.Context(), key.String(), group)
	defer ref.Stop("test over")

	ref.Send(groupTick{})
	ref.Send(messageEvent(key, "still here"))
	ref.Send(groupTick{})
	time.Sleep(50 * time.Millisecond)
	assert.True(t, ref.Alive())

	// one more silent tick pushes it over the threshold
	ref.Send(groupTick{})
	select {
	case <-ref.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("idle group did not stop")
	}
}

func TestGroupStopCascadesToChildren(t *testing.T) {
	fix, key := groupFixture(t)

	group := newMonitorGroup(key, TriggerJoin, fix.Deps)
	ref := actor.Spawn(t.Context(), key.String(), group)
	require.Eventually(t, func() bool {
		return group.children.len() == 3
	}, 2*time.Second, 10*time.Millisecond)
	children := group.children.snapshot()

	ref.Stop("leave")
	select {
	case <-ref.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("group did not stop")
	}
	for _, child := range children {
		select {
		case <-child.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("child %s did not stop", child.Name())
		}
	}

	// the outstanding challenge is redacted during teardown
	require.Eventually(t, func() bool {
		return len(fix.Gateway.Redacted()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGroupPrunesExitedChildren(t *testing.T) {
	// linkspam disabled: its monitor stops itself right after start and must
	// disappear from the child set
	fix, key := groupFixture(t)
	fix.Config.Monitors.LinkSpam = nil

	group := newMonitorGroup(key, TriggerMessage, fix.Deps)
	ref := actor.Spawn(t.Context(), key.String(), group)
	defer ref.Stop("test over")

	require.Eventually(t, func() bool {
		return group.children.len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
