package guard

import (
	"context"
	"log/slog"
	"strings"

	"github.com/roomsec/hallmonitor/actor"
	"github.com/roomsec/hallmonitor/config"
	"github.com/roomsec/hallmonitor/gateway"
)

type watchExpired struct{}

// linkSpamMonitor watches for URL-bearing messages during a window right
// after the group's trigger. Every matching message is a violation; when the
// window closes the monitor terminates and never rearms.
type linkSpamMonitor struct {
	key  UserRoomKey
	deps *Deps
	log  *slog.Logger

	watch *actor.Timer
}

func newLinkSpamMonitor(key UserRoomKey, deps *Deps) *linkSpamMonitor {
	return &linkSpamMonitor{
		key:  key,
		deps: deps,
		log:  deps.Logger.With("monitor", "linkspam", "key", key.String()),
	}
}

func (m *linkSpamMonitor) Start(ctx context.Context, self *actor.Ref) error {
	pol, err := config.Policy(m.deps.Registry, m.key.Room)
	if err != nil {
		return err
	}
	if pol.LinkSpam == nil {
		self.Stop("disabled")
		return nil
	}
	m.watch = self.SendAfter(pol.LinkSpam.WatchTimeout(), watchExpired{})
	return nil
}

func (m *linkSpamMonitor) Receive(ctx context.Context, self *actor.Ref, msg any) error {
	switch ev := msg.(type) {
	case watchExpired:
		self.Stop("waited long enough")
	case gateway.MessagePosted:
		if strings.Contains(ev.Body, "https://") || strings.Contains(ev.Body, "http://") {
			m.log.Info("link posted inside watch window")
			m.deps.reportViolation(Violation{Key: m.key, Kind: KindSpam})
		}
	}
	return nil
}

func (m *linkSpamMonitor) Stopped(reason string) {
	m.watch.Cancel()
}
