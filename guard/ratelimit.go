package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/roomsec/hallmonitor/actor"
	"github.com/roomsec/hallmonitor/config"
	"github.com/roomsec/hallmonitor/gateway"
)

type bucketTier string

const (
	tierNew         bucketTier = "new"
	tierEstablished bucketTier = "established"
)

// bucket is a token bucket with a one-way tier upgrade. Consumption may
// drive the balance negative; each event below zero is a violation, and the
// streak persists until a refill brings the balance back up.
type bucket struct {
	tokens   int
	max      int
	fillRate int
	tier     bucketTier
}

func newBucket(tc config.TierConfig, tier bucketTier) bucket {
	return bucket{tokens: tc.Tokens, max: tc.Max, fillRate: tc.FillRate, tier: tier}
}

// consume takes n tokens and reports whether the balance stayed
// non-negative.
func (b *bucket) consume(n int) bool {
	b.tokens -= n
	return b.tokens >= 0
}

// fill adds one refill quantum, capped at the tier max. A negative balance
// refills from a floor of zero.
func (b *bucket) fill() {
	t := b.tokens
	if t < 0 {
		t = 0
	}
	b.tokens = min(b.max, t+b.fillRate)
}

// upgrade moves the bucket to the established tier. One-way: a bucket never
// downgrades.
func (b *bucket) upgrade(tc config.TierConfig) {
	if b.tier == tierEstablished {
		return
	}
	b.tier = tierEstablished
	b.max = tc.Max
	b.fillRate = tc.FillRate
}

type refillTick struct{}

// rateLimitMonitor judges one user's message/reaction cadence in one room
// with a token bucket. Join-triggered groups start in the restrictive new
// tier; message-triggered groups start established.
type rateLimitMonitor struct {
	key     UserRoomKey
	trigger Trigger
	deps    *Deps
	log     *slog.Logger

	cfg     *config.RateLimitConfig
	bucket  bucket
	refill  *actor.Timer
	started time.Time
}

func newRateLimitMonitor(key UserRoomKey, trigger Trigger, deps *Deps) *rateLimitMonitor {
	return &rateLimitMonitor{
		key:     key,
		trigger: trigger,
		deps:    deps,
		log:     deps.Logger.With("monitor", "ratelimit", "key", key.String()),
	}
}

func (m *rateLimitMonitor) Start(ctx context.Context, self *actor.Ref) error {
	pol, err := config.Policy(m.deps.Registry, m.key.Room)
	if err != nil {
		return err
	}
	if pol.RateLimit == nil {
		self.Stop("disabled")
		return nil
	}
	m.cfg = pol.RateLimit
	if m.trigger == TriggerJoin {
		m.bucket = newBucket(m.cfg.New, tierNew)
	} else {
		m.bucket = newBucket(m.cfg.Established, tierEstablished)
	}
	m.started = time.Now()
	m.refill = self.SendAfter(m.cfg.FillInterval(), refillTick{})
	return nil
}

func (m *rateLimitMonitor) Receive(ctx context.Context, self *actor.Ref, msg any) error {
	switch msg.(type) {
	case refillTick:
		m.bucket.fill()
		if m.bucket.tier == tierNew && time.Since(m.started) >= m.cfg.GracePeriod() {
			m.bucket.upgrade(m.cfg.Established)
			m.log.Debug("bucket upgraded to established tier")
		}
		m.refill = self.SendAfter(m.cfg.FillInterval(), refillTick{})
	case gateway.MessagePosted, gateway.ReactionAdded:
		if !m.bucket.consume(1) {
			m.deps.reportViolation(Violation{Key: m.key, Kind: KindSpam})
		}
	}
	return nil
}

func (m *rateLimitMonitor) Stopped(reason string) {
	m.refill.Cancel()
}
