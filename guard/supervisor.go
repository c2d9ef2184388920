package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roomsec/hallmonitor/actor"
)

// ServiceSpec names one supervised singleton and how to (re)construct its
// worker. The constructor is called again with the same captured arguments
// on every restart.
type ServiceSpec struct {
	Name string
	New  func() actor.Worker
}

// Supervisor owns the long-lived singletons (router, moderator, config
// provider) and restarts any of them that fail, unconditionally and
// indefinitely. It does not supervise monitor groups or their children:
// those are dropped on failure and recreated lazily.
type Supervisor struct {
	log   *slog.Logger
	reg   *actor.Registry
	specs []ServiceSpec

	mu       sync.Mutex
	ctx      context.Context
	refs     map[string]*actor.Ref
	restarts map[string]int
	stopping bool
}

func NewSupervisor(log *slog.Logger, reg *actor.Registry, specs []ServiceSpec) *Supervisor {
	return &Supervisor{
		log:      log.With("service", "supervisor"),
		reg:      reg,
		specs:    specs,
		refs:     make(map[string]*actor.Ref),
		restarts: make(map[string]int),
	}
}

// Start spawns every singleton in spec order.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	for _, spec := range s.specs {
		s.startService(spec)
	}
}

func (s *Supervisor) startService(spec ServiceSpec) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	ref := actor.Spawn(ctx, spec.Name, spec.New(), actor.WithOnExit(s.serviceExited(spec)))
	s.reg.Put(spec.Name, ref)

	s.mu.Lock()
	s.refs[spec.Name] = ref
	s.mu.Unlock()
	s.log.Info("service started", "name", spec.Name)
}

func (s *Supervisor) serviceExited(spec ServiceSpec) actor.ExitFunc {
	return func(ref *actor.Ref, reason string, err error) {
		if err == nil {
			s.log.Info("service stopped", "name", spec.Name, "reason", reason)
			return
		}

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			return
		}
		s.restarts[spec.Name]++
		n := s.restarts[spec.Name]
		s.mu.Unlock()

		s.log.Error("restarting failed service", "name", spec.Name, "err", err, "restarts", n)
		serviceRestarts.WithLabelValues(spec.Name).Inc()
		s.startService(spec)
	}
}

// Restarts returns how often the named singleton has been restarted.
func (s *Supervisor) Restarts(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts[name]
}

// Stop cascades shutdown through the tree in reverse spec order (the router
// stops first, taking its monitor groups down with it) and waits for each
// singleton to finish.
func (s *Supervisor) Stop(reason string) {
	s.mu.Lock()
	s.stopping = true
	refs := make([]*actor.Ref, 0, len(s.specs))
	for i := len(s.specs) - 1; i >= 0; i-- {
		if ref, ok := s.refs[s.specs[i].Name]; ok {
			refs = append(refs, ref)
		}
	}
	s.mu.Unlock()

	for _, ref := range refs {
		ref.Stop(reason)
		select {
		case <-ref.Done():
		case <-time.After(10 * time.Second):
			s.log.Warn("service did not stop in time", "name", ref.Name())
		}
	}
	s.log.Info("supervisor stopped", "reason", reason)
}
