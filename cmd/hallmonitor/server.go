package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/roomsec/hallmonitor/actor"
	"github.com/roomsec/hallmonitor/config"
	"github.com/roomsec/hallmonitor/countstore"
	"github.com/roomsec/hallmonitor/gateway"
	"github.com/roomsec/hallmonitor/gateway/matrixgw"
	"github.com/roomsec/hallmonitor/guard"
	"github.com/roomsec/hallmonitor/internal/httputil"
)

// staleEventCutoff drops sync events older than this before routing, so a
// backlog replayed after downtime is not moderated retroactively.
const staleEventCutoff = 10 * time.Second

const syncRetryBackoff = 10 * time.Second

type Server struct {
	logger   *slog.Logger
	cfg      *config.Config
	client   *mautrix.Client
	gw       *matrixgw.MatrixGateway
	registry *actor.Registry
	sup      *guard.Supervisor
	rdb      *redis.Client

	botUser id.UserID
	watched map[id.RoomID]bool
	ignored map[string]bool
}

type ServerConfig struct {
	Logger   *slog.Logger
	RedisURL string
}

func NewServer(cfg *config.Config, sc ServerConfig) (*Server, error) {
	logger := sc.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	var counters countstore.CountStore
	var rdb *redis.Client
	if sc.RedisURL != "" {
		opt, err := redis.ParseURL(sc.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		// check redis connection
		if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}
		cnt, err := countstore.NewRedisCountStore(sc.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis countstore: %v", err)
		}
		counters = cnt
	} else {
		counters = countstore.NewMemCountStore()
	}

	client, err := mautrix.NewClient(cfg.Bot.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	client.Client = httputil.RobustHTTPClient()

	gw := matrixgw.NewMatrixGateway(client, logger)

	watched := make(map[id.RoomID]bool, len(cfg.Rooms.Watching))
	for _, room := range cfg.Rooms.Watching {
		watched[id.RoomID(room)] = true
	}
	ignored := make(map[string]bool, len(cfg.Bot.IgnoredDomains))
	for _, domain := range cfg.Bot.IgnoredDomains {
		ignored[domain] = true
	}

	registry := actor.NewRegistry()
	deps := &guard.Deps{
		Logger:      logger,
		Gateway:     gw,
		Counters:    counters,
		Registry:    registry,
		Groups:      actor.NewRegistry(),
		BaseContext: context.Background(),
	}

	sup := guard.NewSupervisor(logger, registry, []guard.ServiceSpec{
		{Name: config.ProviderName, New: func() actor.Worker { return config.NewProvider(cfg, logger) }},
		{Name: guard.ModeratorName, New: func() actor.Worker { return guard.NewModerator(deps) }},
		{Name: guard.RouterName, New: func() actor.Worker { return guard.NewRouter(deps) }},
	})

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		client:   client,
		gw:       gw,
		registry: registry,
		sup:      sup,
		rdb:      rdb,
		botUser:  id.UserID(cfg.Bot.UserID),
		watched:  watched,
		ignored:  ignored,
	}
	s.registerHandlers()
	return s, nil
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

// Run logs in, joins the watched rooms, starts the moderation core, and
// drives the sync loop until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.login(ctx); err != nil {
		return err
	}
	if err := s.joinWatchedRooms(ctx); err != nil {
		return err
	}
	if err := s.gw.LoadJoinedRooms(ctx); err != nil {
		return err
	}

	s.sup.Start(ctx)
	defer s.sup.Stop("shutdown")

	// sync failures are retried with backoff, forever; only ctx cancellation
	// ends the loop
	for {
		err := s.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			s.logger.Info("sync loop stopping")
			return nil
		}
		s.logger.Error("sync failed, restarting", "err", err, "backoff", syncRetryBackoff)
		syncRestarts.Inc()
		select {
		case <-time.After(syncRetryBackoff):
		case <-ctx.Done():
			s.logger.Info("sync loop stopping")
			return nil
		}
	}
}

func (s *Server) login(ctx context.Context) error {
	_, err := s.client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: s.cfg.Bot.UserID,
		},
		Password:                 s.cfg.Bot.Password,
		DeviceID:                 id.DeviceID(s.cfg.Bot.DeviceID),
		InitialDeviceDisplayName: s.cfg.Bot.DeviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("matrix login failed: %w", err)
	}
	s.logger.Info("logged in", "user", s.client.UserID)

	if err := s.client.SetDisplayName(ctx, s.cfg.Bot.DisplayName); err != nil {
		// cosmetic, not fatal
		s.logger.Warn("failed to set display name", "err", err)
	}
	return nil
}

func (s *Server) joinWatchedRooms(ctx context.Context) error {
	for _, room := range s.cfg.Rooms.Watching {
		if _, err := s.client.JoinRoom(ctx, room, nil); err != nil {
			return fmt.Errorf("joining room %s: %w", room, err)
		}
		s.logger.Info("watching room", "room", room)
	}
	return nil
}

func (s *Server) registerHandlers() {
	syncer := s.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, s.handleMessage)
	syncer.OnEventType(event.EventReaction, s.handleReaction)
	syncer.OnEventType(event.StateMember, s.handleMembership)
}

// dropEvent applies the pre-routing filters common to all event types.
func (s *Server) dropEvent(evt *event.Event) bool {
	if evt.Sender == s.botUser {
		eventsDropped.WithLabelValues("self").Inc()
		return true
	}
	if !s.watched[evt.RoomID] {
		eventsDropped.WithLabelValues("unwatched").Inc()
		return true
	}
	if time.Since(time.UnixMilli(evt.Timestamp)) > staleEventCutoff {
		eventsDropped.WithLabelValues("stale").Inc()
		return true
	}
	if s.ignored[evt.Sender.Homeserver()] {
		eventsDropped.WithLabelValues("ignored-domain").Inc()
		return true
	}
	return false
}

// route hands an event to the router singleton. An event arriving in the
// small window of a router restart is dropped; moderation is best-effort.
func (s *Server) route(msg any) {
	ref, ok := s.registry.Lookup(guard.RouterName)
	if !ok || !ref.Send(msg) {
		eventsDropped.WithLabelValues("no-router").Inc()
		s.logger.Warn("router unavailable, dropping event")
	}
}

func (s *Server) handleMessage(ctx context.Context, evt *event.Event) {
	eventsReceived.WithLabelValues("message").Inc()
	if s.dropEvent(evt) {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil {
		return
	}
	s.route(gateway.MessagePosted{
		Sender:    evt.Sender,
		Room:      evt.RoomID,
		EventID:   evt.ID,
		Body:      content.Body,
		Timestamp: time.UnixMilli(evt.Timestamp),
	})
}

func (s *Server) handleReaction(ctx context.Context, evt *event.Event) {
	eventsReceived.WithLabelValues("reaction").Inc()
	if s.dropEvent(evt) {
		return
	}
	content := evt.Content.AsReaction()
	if content == nil {
		return
	}
	s.route(gateway.ReactionAdded{
		Sender:        evt.Sender,
		Room:          evt.RoomID,
		TargetEventID: content.RelatesTo.EventID,
		Key:           content.RelatesTo.Key,
		Timestamp:     time.UnixMilli(evt.Timestamp),
	})
}

func (s *Server) handleMembership(ctx context.Context, evt *event.Event) {
	eventsReceived.WithLabelValues("member").Inc()
	content := evt.Content.AsMember()
	if content == nil {
		return
	}
	affected := id.UserID(evt.GetStateKey())

	// track the bot's own membership for HasRoom, regardless of filters
	if affected == s.botUser {
		switch content.Membership {
		case event.MembershipJoin:
			s.gw.MarkJoined(evt.RoomID)
		case event.MembershipLeave, event.MembershipBan:
			s.gw.MarkLeft(evt.RoomID)
		}
		return
	}

	if s.dropEvent(evt) {
		return
	}

	var state gateway.MembershipState
	switch content.Membership {
	case event.MembershipJoin:
		state = gateway.MembershipJoined
	case event.MembershipLeave, event.MembershipBan:
		state = gateway.MembershipLeft
	default:
		return
	}
	s.route(gateway.MembershipChanged{
		User:      affected,
		Room:      evt.RoomID,
		State:     state,
		Timestamp: time.UnixMilli(evt.Timestamp),
	})
}
