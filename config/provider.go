package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix/id"

	"github.com/roomsec/hallmonitor/actor"
)

// ProviderName is the registry name of the configuration provider singleton.
const ProviderName = "config-provider"

const policyTimeout = 5 * time.Second

// PolicyRequest asks the provider for the merged policy of one room.
type PolicyRequest struct {
	Room  id.RoomID
	Reply chan<- RoomPolicy
}

// Provider serves merged per-room policy lookups over an actor mailbox. It
// is one of the supervisor's restartable singletons; lookups are pure reads
// of the startup configuration, so a restart loses nothing.
type Provider struct {
	cfg *Config
	log *slog.Logger
}

func NewProvider(cfg *Config, log *slog.Logger) *Provider {
	return &Provider{cfg: cfg, log: log.With("service", ProviderName)}
}

func (p *Provider) Start(ctx context.Context, self *actor.Ref) error {
	p.log.Info("config provider started", "overrides", len(p.cfg.Rooms.Overrides))
	return nil
}

func (p *Provider) Receive(ctx context.Context, self *actor.Ref, msg any) error {
	switch m := msg.(type) {
	case PolicyRequest:
		m.Reply <- p.cfg.PolicyFor(m.Room)
	default:
		p.log.Warn("unexpected message", "type", fmt.Sprintf("%T", msg))
	}
	return nil
}

func (p *Provider) Stopped(reason string) {
	p.log.Info("config provider stopped", "reason", reason)
}

// Policy fetches the merged policy for a room from the registered provider.
// It fails if the provider cannot be resolved or does not answer in time.
func Policy(reg *actor.Registry, room id.RoomID) (RoomPolicy, error) {
	ref, ok := reg.Lookup(ProviderName)
	if !ok {
		return RoomPolicy{}, fmt.Errorf("config provider not registered")
	}
	reply := make(chan RoomPolicy, 1)
	if !ref.Send(PolicyRequest{Room: room, Reply: reply}) {
		return RoomPolicy{}, fmt.Errorf("config provider stopped")
	}
	select {
	case pol := <-reply:
		return pol, nil
	case <-time.After(policyTimeout):
		return RoomPolicy{}, fmt.Errorf("config provider timed out")
	}
}
