package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/roomsec/hallmonitor/actor"
)

const sampleYAML = `
bot:
  homeserver: https://example.org
  user_id: "@mod:example.org"
  password: hunter2
  device_id: HALLMON01
rooms:
  watching:
    - "#general:example.org"
  overrides:
    "!quiet:example.org":
      enabled: false
    "!defaults:example.org":
      enabled: true
    "!strict:example.org":
      monitors:
        ratelimit:
          new: {tokens: 1, max: 1, fill_rate: 1}
          established: {tokens: 5, max: 5, fill_rate: 2}
monitors:
  ratelimit: {}
  linkspam:
    watch_timeout_secs: 30
  challenge:
    timeout_secs: 120
    questions:
      - body: "What color is the sky?"
        answer: 2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	assert := assert.New(t)

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal("hallmonitor", cfg.Bot.DeviceName)
	assert.Equal("Hall Monitor", cfg.Bot.DisplayName)

	rl := cfg.Monitors.RateLimit
	require.NotNil(t, rl)
	assert.Equal(TierConfig{Tokens: 3, Max: 3, FillRate: 3}, rl.New)
	assert.Equal(TierConfig{Tokens: 30, Max: 30, FillRate: 10}, rl.Established)
	assert.Equal(60, rl.FillIntervalSecs)

	ch := cfg.Monitors.Challenge
	require.NotNil(t, ch)
	require.Len(t, ch.Questions, 1)
	assert.Equal(4, ch.Questions[0].Options)
}

func TestLoadValidation(t *testing.T) {
	missing := `
bot:
  homeserver: https://example.org
  user_id: "@mod:example.org"
  password: x
  device_id: D
rooms:
  watching: []
`
	_, err := Load(writeConfig(t, missing))
	assert.ErrorContains(t, err, "rooms.watching")

	badAnswer := `
bot:
  homeserver: https://example.org
  user_id: "@mod:example.org"
  password: x
  device_id: D
rooms:
  watching: ["#a:example.org"]
monitors:
  challenge:
    questions:
      - body: "pick one"
        answer: 7
`
	_, err = Load(writeConfig(t, badAnswer))
	assert.ErrorContains(t, err, "answer must be between")
}

func TestPolicyMerge(t *testing.T) {
	assert := assert.New(t)

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	// no override: global defaults for every monitor
	pol := cfg.PolicyFor(id.RoomID("!other:example.org"))
	assert.NotNil(pol.RateLimit)
	assert.NotNil(pol.LinkSpam)
	assert.NotNil(pol.Challenge)

	// enabled: false disables everything
	pol = cfg.PolicyFor(id.RoomID("!quiet:example.org"))
	assert.Nil(pol.RateLimit)
	assert.Nil(pol.LinkSpam)
	assert.Nil(pol.Challenge)

	// bare enabled: true means "use global defaults"
	pol = cfg.PolicyFor(id.RoomID("!defaults:example.org"))
	assert.NotNil(pol.RateLimit)
	assert.Equal(3, pol.RateLimit.New.Tokens)

	// per-monitor override wins only for its own kind
	pol = cfg.PolicyFor(id.RoomID("!strict:example.org"))
	require.NotNil(t, pol.RateLimit)
	assert.Equal(1, pol.RateLimit.New.Tokens)
	assert.NotNil(pol.LinkSpam)
	assert.Equal(30, pol.LinkSpam.WatchTimeoutSecs)
}

func TestPolicyDisabledWithoutGlobalDefault(t *testing.T) {
	cfg := &Config{}
	pol := cfg.PolicyFor(id.RoomID("!anywhere:example.org"))
	assert.Nil(t, pol.RateLimit)
	assert.Nil(t, pol.LinkSpam)
	assert.Nil(t, pol.Challenge)
}

func TestProviderAnswersPolicyRequests(t *testing.T) {
	assert := assert.New(t)

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	reg := actor.NewRegistry()
	ref := actor.Spawn(context.Background(), ProviderName, NewProvider(cfg, slog.Default()))
	reg.Put(ProviderName, ref)
	defer ref.Stop("test over")

	pol, err := Policy(reg, id.RoomID("!strict:example.org"))
	require.NoError(t, err)
	assert.Equal(1, pol.RateLimit.New.Tokens)

	_, err = Policy(actor.NewRegistry(), id.RoomID("!strict:example.org"))
	assert.Error(err)
}
